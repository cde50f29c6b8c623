// Package usb provides direct access to USB devices on Linux through the
// usbfs character devices under /dev/bus/usb, without cgo or libusb.
package usb

import (
	"errors"
	"regexp"
)

var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceClosed     = errors.New("device handle closed")
)

// OpenDevice opens the first device matching the given vendor and product ID.
func OpenDevice(vid, pid uint16) (*DeviceHandle, error) {
	dev, err := FindDevice(vid, pid)
	if err != nil {
		return nil, err
	}
	return dev.Open()
}

// FindDevice enumerates the bus and returns the first device matching the
// given vendor and product ID, or ErrDeviceNotFound.
func FindDevice(vid, pid uint16) (*Device, error) {
	devices, err := DeviceList()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Descriptor.VendorID == vid && dev.Descriptor.ProductID == pid {
			return dev, nil
		}
	}
	return nil, ErrDeviceNotFound
}

// devicePathRegexp matches usbfs node paths like /dev/bus/usb/001/002.
var devicePathRegexp = regexp.MustCompile(`^/dev/bus/usb/(\d{3})/(\d{3})$`)

// IsValidDevicePath reports whether path names a usbfs device node.
// Bus and device numbers are limited to 1-255.
func IsValidDevicePath(path string) bool {
	m := devicePathRegexp.FindStringSubmatch(path)
	if m == nil {
		return false
	}
	num := func(s string) int {
		n := 0
		for _, c := range s {
			n = n*10 + int(c-'0')
		}
		return n
	}
	bus, addr := num(m[1]), num(m[2])
	return bus >= 1 && bus <= 255 && addr >= 1 && addr <= 255
}
