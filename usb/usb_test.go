package usb

import (
	"errors"
	"os"
	"testing"
)

func TestIsValidDevicePath(t *testing.T) {
	tests := []struct {
		path  string
		valid bool
	}{
		{"/dev/bus/usb/001/001", true},
		{"/dev/bus/usb/255/255", true},
		{"/dev/bus/usb/000/001", false},
		{"/dev/bus/usb/001/000", false},
		{"/dev/bus/usb/001/256", false},
		{"/dev/bus/usb/256/001", false},
		{"/dev/bus/usb/001", false},
		{"/dev/bus/usb/1/1", false},
		{"/dev/bus/001/001", false},
		{"/tmp/001/001", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := IsValidDevicePath(tt.path); got != tt.valid {
				t.Errorf("IsValidDevicePath(%q) = %v, want %v", tt.path, got, tt.valid)
			}
		})
	}
}

func TestFindDeviceNotFound(t *testing.T) {
	if _, err := DeviceList(); err != nil {
		t.Skipf("sysfs not available: %v", err)
	}

	// 0xdead:0xbeef is not a real assignment; enumeration must come back
	// empty-handed without touching any device node.
	_, err := FindDevice(0xdead, 0xbeef)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("FindDevice(0xdead, 0xbeef) = %v, want ErrDeviceNotFound", err)
	}
}

func TestOpenDeviceNotFound(t *testing.T) {
	if _, err := DeviceList(); err != nil {
		t.Skipf("sysfs not available: %v", err)
	}

	_, err := OpenDevice(0xdead, 0xbeef)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("OpenDevice(0xdead, 0xbeef) = %v, want ErrDeviceNotFound", err)
	}
}

func TestOpenFirstDevice(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("requires root to open device nodes")
	}

	devices, err := DeviceList()
	if err != nil {
		t.Skipf("sysfs not available: %v", err)
	}
	if len(devices) == 0 {
		t.Skip("no USB devices present")
	}

	dev := devices[0]
	handle, err := dev.Open()
	if err != nil {
		t.Fatalf("open %s: %v", dev.Path, err)
	}
	defer handle.Close()

	if handle.Device() != dev {
		t.Error("handle does not point back at its device")
	}

	config, err := handle.ActiveConfigDescriptor()
	if err != nil {
		t.Fatalf("active config descriptor: %v", err)
	}
	if config.NumInterfaces == 0 {
		t.Error("active configuration reports zero interfaces")
	}

	// Close twice; the second must be a no-op.
	if err := handle.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestClosedHandleRejectsOperations(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("requires root to open device nodes")
	}

	devices, err := DeviceList()
	if err != nil || len(devices) == 0 {
		t.Skip("no USB devices available")
	}

	handle, err := devices[0].Open()
	if err != nil {
		t.Skipf("open: %v", err)
	}
	handle.Close()

	if _, err := handle.ControlTransfer(0x80, 0x06, 0x0100, 0, make([]byte, 18), 0); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("ControlTransfer on closed handle = %v, want ErrDeviceClosed", err)
	}
	if err := handle.ClaimInterface(0); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("ClaimInterface on closed handle = %v, want ErrDeviceClosed", err)
	}
	if _, _, err := handle.KernelDriverActive(0); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("KernelDriverActive on closed handle = %v, want ErrDeviceClosed", err)
	}
}
