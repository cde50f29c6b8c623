package usb

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// usbfs ioctl request codes (64-bit Linux).
const (
	usbdevfsControl          = 0xc0185500
	usbdevfsClaimInterface   = 0x8004550f
	usbdevfsReleaseInterface = 0x80045510
	usbdevfsGetDriver        = 0x41045508
	usbdevfsIoctl            = 0xc0105512
	usbdevfsDisconnectClaim  = 0x8108551b
)

// Driver (dis)connect requests, issued against an interface through
// usbdevfsIoctl.
const (
	usbdevfsDisconnect = 0x5516
	usbdevfsConnect    = 0x5517
)

// disconnectClaimExceptDriver tells USBDEVFS_DISCONNECT_CLAIM to skip the
// disconnect when the named driver (usbfs, i.e. ourselves) already owns the
// interface.
const disconnectClaimExceptDriver = 0x02

const maxDriverName = 256

// DeviceDescriptor mirrors the standard USB device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	NumConfigurations uint8
}

// Device identifies a USB device on the bus. It holds the attributes read
// from sysfs; Open yields a handle for actual I/O.
type Device struct {
	Path         string // usbfs node, /dev/bus/usb/BBB/DDD
	Bus          uint8
	Address      uint8
	Descriptor   DeviceDescriptor
	Manufacturer string
	Product      string
	Serial       string
}

// DeviceHandle is an open usbfs file descriptor for a single device. It is
// safe for use by a single goroutine; all methods are synchronous.
type DeviceHandle struct {
	device  *Device
	fd      int
	mu      sync.Mutex
	closed  bool
	claimed map[uint8]bool
}

// Open opens the device's usbfs node read-write. Requires access to
// /dev/bus/usb, which usually means root.
func (d *Device) Open() (*DeviceHandle, error) {
	fd, err := unix.Open(d.Path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		switch err {
		case unix.EACCES:
			return nil, ErrPermissionDenied
		case unix.ENOENT:
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("open %s: %w", d.Path, err)
	}
	return &DeviceHandle{
		device:  d,
		fd:      fd,
		claimed: make(map[uint8]bool),
	}, nil
}

// Device returns the device this handle was opened from.
func (h *DeviceHandle) Device() *Device {
	return h.device
}

// Close releases any claimed interfaces and closes the file descriptor.
// Close is idempotent.
func (h *DeviceHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	for iface := range h.claimed {
		h.releaseInterface(iface)
	}
	h.closed = true
	return unix.Close(h.fd)
}

// ioctl issues a usbfs request on the handle's fd. The returned value is
// request-specific (transfer length for USBDEVFS_CONTROL).
func (h *DeviceHandle) ioctl(req uintptr, arg unsafe.Pointer) (int, error) {
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), req, uintptr(arg))
	if errno != 0 {
		return 0, errno
	}
	return int(ret), nil
}

// ClaimInterface claims an interface for this handle. usbfs refuses
// interface-directed requests on interfaces it does not own, so the switch
// flow claims before transferring.
func (h *DeviceHandle) ClaimInterface(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrDeviceClosed
	}
	if h.claimed[iface] {
		return nil
	}

	n := uint32(iface)
	if _, err := h.ioctl(usbdevfsClaimInterface, unsafe.Pointer(&n)); err != nil {
		return fmt.Errorf("claim interface %d: %w", iface, err)
	}
	h.claimed[iface] = true
	return nil
}

// ReleaseInterface releases a previously claimed interface.
func (h *DeviceHandle) ReleaseInterface(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrDeviceClosed
	}
	return h.releaseInterface(iface)
}

func (h *DeviceHandle) releaseInterface(iface uint8) error {
	if !h.claimed[iface] {
		return nil
	}
	n := uint32(iface)
	if _, err := h.ioctl(usbdevfsReleaseInterface, unsafe.Pointer(&n)); err != nil {
		return fmt.Errorf("release interface %d: %w", iface, err)
	}
	delete(h.claimed, iface)
	return nil
}

type usbfsGetDriver struct {
	Interface uint32
	Driver    [maxDriverName]byte
}

type usbfsIoctl struct {
	Interface int32
	Code      int32
	Data      unsafe.Pointer
}

type usbfsDisconnectClaim struct {
	Interface uint32
	Flags     uint32
	Driver    [maxDriverName]byte
}

// KernelDriverActive reports whether a kernel driver is bound to the given
// interface, and the driver's name if so. The usbfs driver itself counts as
// "not bound" since it only marks interfaces claimed by this process.
func (h *DeviceHandle) KernelDriverActive(iface uint8) (bool, string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false, "", ErrDeviceClosed
	}

	gd := usbfsGetDriver{Interface: uint32(iface)}
	if _, err := h.ioctl(usbdevfsGetDriver, unsafe.Pointer(&gd)); err != nil {
		// ENODATA: nothing bound to the interface.
		if err == unix.ENODATA {
			return false, "", nil
		}
		return false, "", fmt.Errorf("query driver for interface %d: %w", iface, err)
	}

	name := unix.ByteSliceToString(gd.Driver[:])
	if name == "usbfs" {
		return false, "", nil
	}
	return true, name, nil
}

// DetachKernelDriver unbinds the kernel driver from an interface so the
// process can talk to it directly. It first tries USBDEVFS_DISCONNECT_CLAIM,
// which detaches and claims atomically, then falls back to the plain
// disconnect request on kernels without it.
func (h *DeviceHandle) DetachKernelDriver(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrDeviceClosed
	}

	dc := usbfsDisconnectClaim{
		Interface: uint32(iface),
		Flags:     disconnectClaimExceptDriver,
	}
	copy(dc.Driver[:], "usbfs")
	if _, err := h.ioctl(usbdevfsDisconnectClaim, unsafe.Pointer(&dc)); err == nil {
		h.claimed[iface] = true
		return nil
	} else if err != unix.ENOTTY {
		return fmt.Errorf("detach driver from interface %d: %w", iface, err)
	}

	cmd := usbfsIoctl{
		Interface: int32(iface),
		Code:      usbdevfsDisconnect,
	}
	if _, err := h.ioctl(usbdevfsIoctl, unsafe.Pointer(&cmd)); err != nil {
		// ENODATA: no driver was bound in the first place.
		if err == unix.ENODATA {
			return nil
		}
		return fmt.Errorf("detach driver from interface %d: %w", iface, err)
	}
	return nil
}

// AttachKernelDriver asks the kernel to rebind its driver to an interface
// previously detached with DetachKernelDriver. The interface must not be
// claimed by this handle anymore.
func (h *DeviceHandle) AttachKernelDriver(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrDeviceClosed
	}
	if err := h.releaseInterface(iface); err != nil {
		return err
	}

	cmd := usbfsIoctl{
		Interface: int32(iface),
		Code:      usbdevfsConnect,
	}
	if _, err := h.ioctl(usbdevfsIoctl, unsafe.Pointer(&cmd)); err != nil {
		// EBUSY: a driver is already bound, which is the desired end state.
		if err == unix.EBUSY {
			return nil
		}
		return fmt.Errorf("reattach driver to interface %d: %w", iface, err)
	}
	return nil
}
