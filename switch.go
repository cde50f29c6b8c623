package btw5

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aptxtools/btw5/usb"
)

// transferTimeout bounds the mode-switch control transfer. The dongle
// normally answers within a few milliseconds.
const transferTimeout = 5 * time.Second

// Device is the part of the usb.DeviceHandle surface the switch flow uses.
type Device interface {
	ActiveConfigDescriptor() (*usb.ConfigDescriptor, error)
	KernelDriverActive(iface uint8) (bool, string, error)
	DetachKernelDriver(iface uint8) error
	AttachKernelDriver(iface uint8) error
	ClaimInterface(iface uint8) error
	ReleaseInterface(iface uint8) error
	ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)
}

// Find enumerates the bus for the dongle without opening it.
func Find() (*usb.Device, error) {
	dev, err := usb.FindDevice(VendorID, ProductID)
	if err != nil {
		return nil, fmt.Errorf("BT-W5 (%04x:%04x): %w", VendorID, ProductID, err)
	}
	return dev, nil
}

// Open locates the dongle and opens its usbfs node. The caller owns the
// returned handle and must Close it on every path.
func Open() (*usb.DeviceHandle, error) {
	dev, err := Find()
	if err != nil {
		return nil, err
	}
	log.Debugf("found BT-W5 at %s", dev.Path)

	handle, err := dev.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dev.Path, err)
	}
	return handle, nil
}

// Switch sends the mode-switch report to the dongle's first interface.
//
// The sequence is strictly linear: resolve the active configuration, detach
// the kernel driver if one is bound, claim the interface, send the report,
// verify all 65 bytes went through, then restore the driver binding if it
// was detached. Every failure is terminal; there are no retries.
func Switch(dev Device, mode Mode) error {
	config, err := dev.ActiveConfigDescriptor()
	if err != nil {
		return fmt.Errorf("retrieve device configuration: %w", err)
	}

	iface, err := config.FirstInterface()
	if err != nil {
		return fmt.Errorf("retrieve device configuration: %w", err)
	}
	if _, err := iface.FirstEndpoint(); err != nil {
		return fmt.Errorf("retrieve device configuration: %w", err)
	}
	ifaceNum := iface.InterfaceNumber
	log.Debugf("using configuration %d, interface %d", config.ConfigurationValue, ifaceNum)

	reattach := false
	active, driver, err := dev.KernelDriverActive(ifaceNum)
	if err != nil {
		return fmt.Errorf("query kernel driver: %w", err)
	}
	if active {
		log.Debugf("detaching kernel driver %q from interface %d", driver, ifaceNum)
		if err := dev.DetachKernelDriver(ifaceNum); err != nil {
			return fmt.Errorf("detach kernel driver: %w", err)
		}
		reattach = true
	}

	if err := dev.ClaimInterface(ifaceNum); err != nil {
		return fmt.Errorf("claim interface: %w", err)
	}

	log.Infof("switching to AptX Adaptive %s mode", mode)
	report := mode.Report()
	n, err := dev.ControlTransfer(requestType, requestSetReport, reportValue, reportIndex, report, transferTimeout)
	if err != nil {
		return fmt.Errorf("send control transfer: %w", err)
	}
	if n != len(report) {
		return fmt.Errorf("incomplete control transfer: %d of %d bytes", n, len(report))
	}

	if err := dev.ReleaseInterface(ifaceNum); err != nil {
		return fmt.Errorf("release interface: %w", err)
	}
	if reattach {
		log.Debugf("reattaching kernel driver to interface %d", ifaceNum)
		if err := dev.AttachKernelDriver(ifaceNum); err != nil {
			// The switch itself succeeded, but the device is left without
			// its native driver until replugged.
			return fmt.Errorf("reattach kernel driver: %w", err)
		}
	}

	return nil
}
