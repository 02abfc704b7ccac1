package device

import "errors"

// Errors for device operations
var (
	ErrNoDevices     = errors.New("no gVNIC devices found")
	ErrDeviceClosed  = errors.New("device is closed")
	ErrNotConfigured = errors.New("device not described yet")
)
