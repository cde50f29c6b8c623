package usb

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// sysfsDevices is where the kernel exposes USB device attributes.
const sysfsDevices = "/sys/bus/usb/devices"

// DeviceList enumerates all USB devices visible in sysfs. Reading sysfs
// needs no elevated privilege; only Open does.
func DeviceList() ([]*Device, error) {
	return listDevices(sysfsDevices)
}

func listDevices(dir string) ([]*Device, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sysfs usb directory: %w", err)
	}

	var devices []*Device
	for _, entry := range entries {
		name := entry.Name()

		// Interface entries contain a colon (e.g. 1-4:1.0); device entries
		// contain a dash, root hubs are named usbN.
		if strings.Contains(name, ":") {
			continue
		}
		if !strings.Contains(name, "-") && !strings.HasPrefix(name, "usb") {
			continue
		}

		dev, err := readSysfsDevice(filepath.Join(dir, name))
		if err != nil {
			// Entries racing with disconnect or missing attributes are
			// skipped rather than failing the whole enumeration.
			continue
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// readSysfsDevice builds a Device from one sysfs device directory.
func readSysfsDevice(path string) (*Device, error) {
	busNum, err := readSysfsUint(path, "busnum", 10, 8)
	if err != nil {
		return nil, err
	}
	devNum, err := readSysfsUint(path, "devnum", 10, 8)
	if err != nil {
		return nil, err
	}
	vid, err := readSysfsUint(path, "idVendor", 16, 16)
	if err != nil {
		return nil, err
	}
	pid, err := readSysfsUint(path, "idProduct", 16, 16)
	if err != nil {
		return nil, err
	}

	dev := &Device{
		Path:         fmt.Sprintf("/dev/bus/usb/%03d/%03d", busNum, devNum),
		Bus:          uint8(busNum),
		Address:      uint8(devNum),
		Manufacturer: readSysfsString(path, "manufacturer"),
		Product:      readSysfsString(path, "product"),
		Serial:       readSysfsString(path, "serial"),
	}
	dev.Descriptor = DeviceDescriptor{
		VendorID:  uint16(vid),
		ProductID: uint16(pid),
	}

	// Remaining descriptor fields are optional in sysfs.
	if v, err := readSysfsUint(path, "bDeviceClass", 16, 8); err == nil {
		dev.Descriptor.DeviceClass = uint8(v)
	}
	if v, err := readSysfsUint(path, "bDeviceSubClass", 16, 8); err == nil {
		dev.Descriptor.DeviceSubClass = uint8(v)
	}
	if v, err := readSysfsUint(path, "bDeviceProtocol", 16, 8); err == nil {
		dev.Descriptor.DeviceProtocol = uint8(v)
	}
	if v, err := readSysfsUint(path, "bMaxPacketSize0", 10, 8); err == nil {
		dev.Descriptor.MaxPacketSize0 = uint8(v)
	}
	if v, err := readSysfsUint(path, "bNumConfigurations", 10, 8); err == nil {
		dev.Descriptor.NumConfigurations = uint8(v)
	}
	if v, err := readSysfsUint(path, "bcdDevice", 16, 16); err == nil {
		dev.Descriptor.DeviceVersion = uint16(v)
	}

	return dev, nil
}

func readSysfsUint(dir, name string, base, bits int) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), base, bits)
}

func readSysfsString(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
