package device

import (
	"bytes"
	"os"
	"path/filepath"
)

// PCI identity of the virtual NIC.
const (
	pciVendorGoogle = "0x1ae0"
	pciDeviceGVNIC  = "0x0042"
)

// DeviceInfo contains discovered device information.
type DeviceInfo struct {
	// PCIAddr is the device's bus address, e.g. "0000:00:04.0".
	PCIAddr string
	// ResourcePath is the BAR0 resource file holding the register window.
	ResourcePath string
}

// DeviceScanner scans the PCI bus for virtual NICs.
type DeviceScanner struct {
	sysfsPath string
}

// NewScanner creates a new device scanner.
func NewScanner() *DeviceScanner {
	return &DeviceScanner{sysfsPath: "/sys/bus/pci/devices"}
}

// Scan finds all gVNIC functions on the PCI bus.
func (s *DeviceScanner) Scan() ([]DeviceInfo, error) {
	if s.sysfsPath == "" {
		s.sysfsPath = "/sys/bus/pci/devices"
	}

	entries, err := os.ReadDir(s.sysfsPath)
	if err != nil {
		return nil, err
	}

	var devices []DeviceInfo
	for _, entry := range entries {
		dir := filepath.Join(s.sysfsPath, entry.Name())
		if !sysfsIDMatches(filepath.Join(dir, "vendor"), pciVendorGoogle) ||
			!sysfsIDMatches(filepath.Join(dir, "device"), pciDeviceGVNIC) {
			continue
		}

		resource := filepath.Join(dir, "resource0")
		if _, err := os.Stat(resource); err != nil {
			continue
		}
		devices = append(devices, DeviceInfo{
			PCIAddr:      entry.Name(),
			ResourcePath: resource,
		})
	}
	return devices, nil
}

// Scan uses the default scanner to find all gVNIC devices.
func Scan() ([]DeviceInfo, error) {
	return NewScanner().Scan()
}

func sysfsIDMatches(path, want string) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return string(bytes.TrimSpace(raw)) == want
}
