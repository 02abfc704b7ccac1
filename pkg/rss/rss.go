// Package rss keeps the driver's receive-side scaling configuration and
// mirrors it onto the device. The device offers no readback, so the state
// here is the source of truth for the reporting surface; it is initialized
// lazily with a random key and an even spread over the receive queues.
package rss

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/emergingrobotics/go-gvnic/pkg/adminq"
)

const (
	// KeySize is the Toeplitz hash key size in bytes.
	KeySize = 40
	// IndirSize is the indirection table entry count.
	IndirSize = 128
)

// Programmer is the admin queue command that mirrors the configuration onto
// the device.
type Programmer interface {
	ConfigureRSS(alg uint8, key []byte, indir []uint32) error
}

// State is the driver-side RSS configuration. It is internally synchronized.
type State struct {
	log         *logrus.Logger
	prog        Programmer
	numRxQueues uint16

	mu          sync.Mutex
	initialized bool
	alg         uint8
	key         []byte
	indir       []uint32
}

// NewState creates an unconfigured RSS state for the given receive queue
// count. Nothing is programmed until the first Set or Get.
func NewState(log *logrus.Logger, prog Programmer, numRxQueues uint16) *State {
	return &State{
		log:         log,
		prog:        prog,
		numRxQueues: numRxQueues,
		alg:         adminq.RSSHashToeplitz,
	}
}

// initLocked programs the default configuration: a random key and an
// indirection table spreading flows evenly across the receive queues.
// Caller holds s.mu.
func (s *State) initLocked() error {
	if s.initialized {
		return nil
	}
	if s.numRxQueues == 0 {
		return errors.New("rss: device reports no receive queues")
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("rss: generating hash key: %w", err)
	}
	indir := make([]uint32, IndirSize)
	for i := range indir {
		indir[i] = uint32(i) % uint32(s.numRxQueues)
	}

	if err := s.prog.ConfigureRSS(s.alg, key, indir); err != nil {
		return err
	}
	s.key = key
	s.indir = indir
	s.initialized = true
	s.log.Info("RSS configured with defaults")
	return nil
}

// Get returns the current algorithm, key and indirection table, initializing
// the defaults first if nothing has been programmed yet.
func (s *State) Get() (alg uint8, key []byte, indir []uint32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initLocked(); err != nil {
		return 0, nil, nil, err
	}
	return s.alg, append([]byte(nil), s.key...), append([]uint32(nil), s.indir...), nil
}

// SetAlg programs the hash algorithm. The device only implements Toeplitz,
// so anything else is rejected without touching the firmware.
func (s *State) SetAlg(alg uint8) error {
	if alg != adminq.RSSHashToeplitz {
		return fmt.Errorf("rss: unsupported hash algorithm %d", alg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initLocked(); err != nil {
		return err
	}
	if err := s.prog.ConfigureRSS(alg, nil, nil); err != nil {
		return err
	}
	s.alg = alg
	return nil
}

// SetKey programs a new hash key, keeping the indirection table.
func (s *State) SetKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("rss: hash key must be %d bytes, got %d", KeySize, len(key))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initLocked(); err != nil {
		return err
	}
	if err := s.prog.ConfigureRSS(s.alg, key, nil); err != nil {
		return err
	}
	s.key = append([]byte(nil), key...)
	return nil
}

// SetIndir programs a new indirection table, keeping the key. Every entry
// must name a valid receive queue.
func (s *State) SetIndir(indir []uint32) error {
	if len(indir) != IndirSize {
		return fmt.Errorf("rss: indirection table must have %d entries, got %d",
			IndirSize, len(indir))
	}
	for i, qid := range indir {
		if qid >= uint32(s.numRxQueues) {
			return fmt.Errorf("rss: indirection entry %d names queue %d, only %d rx queues",
				i, qid, s.numRxQueues)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initLocked(); err != nil {
		return err
	}
	if err := s.prog.ConfigureRSS(s.alg, nil, indir); err != nil {
		return err
	}
	s.indir = append([]uint32(nil), indir...)
	return nil
}
