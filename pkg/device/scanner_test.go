package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakePCIDevice(t *testing.T, root, addr, vendor, devID string, withResource bool) {
	t.Helper()
	dir := filepath.Join(root, addr)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor"), []byte(vendor+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "device"), []byte(devID+"\n"), 0o644))
	if withResource {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "resource0"), nil, 0o644))
	}
}

func TestScanFindsGVNICFunctions(t *testing.T) {
	root := t.TempDir()
	fakePCIDevice(t, root, "0000:00:04.0", pciVendorGoogle, pciDeviceGVNIC, true)
	fakePCIDevice(t, root, "0000:00:05.0", pciVendorGoogle, pciDeviceGVNIC, true)
	fakePCIDevice(t, root, "0000:00:03.0", "0x8086", "0x100e", true) // someone else's NIC
	fakePCIDevice(t, root, "0000:00:06.0", pciVendorGoogle, "0x0001", true)

	s := &DeviceScanner{sysfsPath: root}
	devices, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "0000:00:04.0", devices[0].PCIAddr)
	assert.Equal(t, filepath.Join(root, "0000:00:04.0", "resource0"), devices[0].ResourcePath)
}

func TestScanSkipsFunctionWithoutResource(t *testing.T) {
	root := t.TempDir()
	fakePCIDevice(t, root, "0000:00:04.0", pciVendorGoogle, pciDeviceGVNIC, false)

	s := &DeviceScanner{sysfsPath: root}
	devices, err := s.Scan()
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestScanMissingSysfs(t *testing.T) {
	s := &DeviceScanner{sysfsPath: filepath.Join(t.TempDir(), "nope")}
	_, err := s.Scan()
	assert.Error(t, err)
}
