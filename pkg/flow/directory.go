package flow

import (
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/emergingrobotics/go-gvnic/pkg/adminq"
)

// Directory errors.
var (
	// ErrNotSupported means the device never advertised a flow rule capacity.
	ErrNotSupported = errors.New("flow: flow steering not supported by device")

	// ErrCapacity means the negotiated rule limit has been reached.
	ErrCapacity = errors.New("flow: flow rule limit reached")

	// ErrExists means a rule already occupies the requested location.
	ErrExists = errors.New("flow: rule already exists at location")

	// ErrDuplicate means an identical match already exists at another
	// location.
	ErrDuplicate = errors.New("flow: duplicate of an existing rule")

	// ErrNotFound means no rule occupies the requested location.
	ErrNotFound = errors.New("flow: no rule at location")
)

// Programmer is the firmware side of the directory: the admin queue commands
// that mirror rule mutations on the device. Calls are synchronous; success
// means the device holds the rule.
type Programmer interface {
	AddFlowRule(location uint16, rule *adminq.FlowRule) error
	DelFlowRule(location uint16) error
	ResetFlowRules() error
}

// Directory is the driver-side collection of flow steering rules, ordered by
// ascending location. It is internally synchronized: rule operations may be
// called concurrently, and the firmware round-trip happens under the same
// lock as the matching directory mutation so the two sides never diverge.
type Directory struct {
	log         *logrus.Logger
	prog        Programmer
	max         uint16
	numRxQueues uint16

	mu    sync.Mutex
	rules []*Rule // ascending Location
}

// NewDirectory creates a directory with the negotiated rule capacity. A zero
// capacity means the device does not support flow steering and every rule
// operation fails with ErrNotSupported.
func NewDirectory(log *logrus.Logger, prog Programmer, maxRules, numRxQueues uint16) *Directory {
	return &Directory{
		log:         log,
		prog:        prog,
		max:         maxRules,
		numRxQueues: numRxQueues,
	}
}

// Max returns the device's rule capacity.
func (d *Directory) Max() uint16 {
	return d.max
}

// Count returns the number of installed rules.
func (d *Directory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rules)
}

// search returns the index of the first rule with Location >= loc.
func (d *Directory) search(loc uint16) int {
	return sort.Search(len(d.rules), func(i int) bool {
		return d.rules[i].Location >= loc
	})
}

// findLocked returns the rule at loc, or nil. Caller holds d.mu.
func (d *Directory) findLocked(loc uint16) *Rule {
	i := d.search(loc)
	if i < len(d.rules) && d.rules[i].Location == loc {
		return d.rules[i]
	}
	return nil
}

func (d *Directory) isDuplicateLocked(rule *Rule) bool {
	for _, r := range d.rules {
		if r.Location != rule.Location && matchEquals(r, rule) {
			return true
		}
	}
	return false
}

// Add installs a rule on the device and, once the firmware acknowledges it,
// in the directory. Location and match duplication are checked before any
// firmware call; a firmware failure leaves the directory untouched and
// surfaces unchanged.
func (d *Directory) Add(spec *Spec) error {
	if d.max == 0 {
		return ErrNotSupported
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.rules) >= int(d.max) {
		d.log.WithField("max", d.max).Error("flow rule limit reached")
		return ErrCapacity
	}
	if d.findLocked(spec.Location) != nil {
		return ErrExists
	}

	rule, err := buildRule(spec, d.numRxQueues)
	if err != nil {
		return err
	}
	if d.isDuplicateLocked(rule) {
		return ErrDuplicate
	}

	if err := d.prog.AddFlowRule(rule.Location, &rule.FlowRule); err != nil {
		return err
	}

	i := d.search(rule.Location)
	d.rules = append(d.rules, nil)
	copy(d.rules[i+1:], d.rules[i:])
	d.rules[i] = rule

	d.log.WithFields(logrus.Fields{
		"location": rule.Location,
		"type":     rule.Type.String(),
		"queue":    rule.Action,
	}).Info("flow rule added")
	return nil
}

// Delete removes the rule at the given location, device first. The rule
// stays in the directory if the firmware delete fails.
func (d *Directory) Delete(location uint16) error {
	if d.max == 0 {
		return ErrNotSupported
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.search(location)
	if i == len(d.rules) || d.rules[i].Location != location {
		return ErrNotFound
	}

	if err := d.prog.DelFlowRule(location); err != nil {
		return err
	}

	d.rules = append(d.rules[:i], d.rules[i+1:]...)
	d.log.WithField("location", location).Info("flow rule deleted")
	return nil
}

// Reset clears every rule on the device and then in the directory.
func (d *Directory) Reset() error {
	if d.max == 0 {
		return ErrNotSupported
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.prog.ResetFlowRules(); err != nil {
		return err
	}
	d.rules = nil
	return nil
}

// Lookup returns the external shape of the rule at the given location.
func (d *Directory) Lookup(location uint16) (*Spec, error) {
	if d.max == 0 {
		return nil, ErrNotSupported
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rule := d.findLocked(location)
	if rule == nil {
		return nil, ErrNotFound
	}
	return rule.Spec(), nil
}

// Locations returns the installed rule locations in ascending order, up to
// the caller's limit (negative means no limit).
func (d *Directory) Locations(limit int) []uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.rules)
	if limit >= 0 && limit < n {
		n = limit
	}
	locs := make([]uint16, n)
	for i := 0; i < n; i++ {
		locs[i] = d.rules[i].Location
	}
	return locs
}
