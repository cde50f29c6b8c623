package btw5

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aptxtools/btw5/usb"
)

// fakeDevice simulates the dongle's usbfs surface and records every call.
type fakeDevice struct {
	config       *usb.ConfigDescriptor
	configErr    error
	driverActive bool
	driverErr    error
	detachErr    error
	attachErr    error
	claimErr     error
	releaseErr   error
	transferN    int // -1 means echo len(data)
	transferErr  error

	calls []string

	requestType uint8
	request     uint8
	value       uint16
	index       uint16
	data        []byte
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		config: &usb.ConfigDescriptor{
			NumInterfaces:      1,
			ConfigurationValue: 1,
			Interfaces: []usb.InterfaceDescriptor{{
				InterfaceNumber: 0,
				NumEndpoints:    1,
				InterfaceClass:  3, // HID
				Endpoints: []usb.EndpointDescriptor{{
					EndpointAddr:  0x81,
					Attributes:    0x03,
					MaxPacketSize: 64,
				}},
			}},
		},
		transferN: -1,
	}
}

func (f *fakeDevice) ActiveConfigDescriptor() (*usb.ConfigDescriptor, error) {
	f.calls = append(f.calls, "config")
	return f.config, f.configErr
}

func (f *fakeDevice) KernelDriverActive(iface uint8) (bool, string, error) {
	f.calls = append(f.calls, "driver?")
	return f.driverActive, "btusb", f.driverErr
}

func (f *fakeDevice) DetachKernelDriver(iface uint8) error {
	f.calls = append(f.calls, "detach")
	return f.detachErr
}

func (f *fakeDevice) AttachKernelDriver(iface uint8) error {
	f.calls = append(f.calls, "attach")
	return f.attachErr
}

func (f *fakeDevice) ClaimInterface(iface uint8) error {
	f.calls = append(f.calls, "claim")
	return f.claimErr
}

func (f *fakeDevice) ReleaseInterface(iface uint8) error {
	f.calls = append(f.calls, "release")
	return f.releaseErr
}

func (f *fakeDevice) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	f.calls = append(f.calls, "transfer")
	f.requestType = requestType
	f.request = request
	f.value = value
	f.index = index
	f.data = append([]byte(nil), data...)

	if f.transferErr != nil {
		return 0, f.transferErr
	}
	if f.transferN < 0 {
		return len(data), nil
	}
	return f.transferN, nil
}

func TestSwitchWithBoundDriver(t *testing.T) {
	dev := newFakeDevice()
	dev.driverActive = true

	require.NoError(t, Switch(dev, ModeHighQuality))
	assert.Equal(t, []string{"config", "driver?", "detach", "claim", "transfer", "release", "attach"}, dev.calls)

	assert.EqualValues(t, 0x21, dev.requestType)
	assert.EqualValues(t, 0x09, dev.request)
	assert.EqualValues(t, 0x0203, dev.value)
	assert.EqualValues(t, 0x0000, dev.index)
	assert.Equal(t, ModeHighQuality.Report(), dev.data)
}

func TestSwitchWithoutBoundDriver(t *testing.T) {
	dev := newFakeDevice()
	dev.driverActive = false

	require.NoError(t, Switch(dev, ModeLowLatency))
	assert.NotContains(t, dev.calls, "detach")
	assert.NotContains(t, dev.calls, "attach")
	assert.Equal(t, ModeLowLatency.Report(), dev.data)
}

func TestSwitchConfigFailureStopsEarly(t *testing.T) {
	dev := newFakeDevice()
	dev.configErr = errors.New("pipe error")

	err := Switch(dev, ModeHighQuality)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieve device configuration")
	assert.Equal(t, []string{"config"}, dev.calls, "no driver or transfer side effects after config failure")
}

func TestSwitchNoEndpoints(t *testing.T) {
	dev := newFakeDevice()
	dev.config.Interfaces[0].Endpoints = nil

	err := Switch(dev, ModeHighQuality)
	require.Error(t, err)
	assert.Equal(t, []string{"config"}, dev.calls)
}

func TestSwitchNoInterfaces(t *testing.T) {
	dev := newFakeDevice()
	dev.config.Interfaces = nil

	err := Switch(dev, ModeHighQuality)
	require.Error(t, err)
	assert.Equal(t, []string{"config"}, dev.calls)
}

func TestSwitchDetachFailureStopsBeforeTransfer(t *testing.T) {
	dev := newFakeDevice()
	dev.driverActive = true
	dev.detachErr = errors.New("operation not permitted")

	err := Switch(dev, ModeHighQuality)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detach kernel driver")
	assert.NotContains(t, dev.calls, "transfer")
}

func TestSwitchShortTransfer(t *testing.T) {
	dev := newFakeDevice()
	dev.transferN = 64

	err := Switch(dev, ModeHighQuality)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete control transfer")
}

func TestSwitchTransferFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.driverActive = true
	dev.transferErr = errors.New("broken pipe")

	err := Switch(dev, ModeLowLatency)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send control transfer")
	assert.NotContains(t, dev.calls, "attach", "no reattach on the error path")
}

func TestSwitchReattachFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.driverActive = true
	dev.attachErr = errors.New("no such device")

	err := Switch(dev, ModeHighQuality)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reattach kernel driver")
	assert.Contains(t, dev.calls, "transfer", "transfer happens before the reattach failure")
}
