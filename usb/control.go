package usb

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// usbfsCtrlTransfer mirrors struct usbdevfs_ctrltransfer.
type usbfsCtrlTransfer struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
	Timeout     uint32 // milliseconds
	Data        unsafe.Pointer
}

// ControlTransfer issues a control request on endpoint zero and returns the
// number of bytes transferred in the data stage. A zero timeout leaves the
// kernel's own (5s) limit in place.
func (h *DeviceHandle) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, ErrDeviceClosed
	}

	ctrl := usbfsCtrlTransfer{
		RequestType: requestType,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      uint16(len(data)),
		Timeout:     uint32(timeout.Milliseconds()),
	}
	if len(data) > 0 {
		ctrl.Data = unsafe.Pointer(&data[0])
	}

	n, err := h.ioctl(usbdevfsControl, unsafe.Pointer(&ctrl))
	if err != nil {
		if err == unix.ETIMEDOUT {
			return 0, fmt.Errorf("control transfer timed out after %v", timeout)
		}
		return 0, fmt.Errorf("control transfer: %w", err)
	}
	return n, nil
}
