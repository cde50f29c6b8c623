package usb

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Standard descriptor types used by the config parser.
const (
	dtConfig    = 0x02
	dtInterface = 0x04
	dtEndpoint  = 0x05
)

// Standard requests on endpoint zero.
const (
	reqGetDescriptor    = 0x06
	reqGetConfiguration = 0x08
)

const descriptorTimeout = time.Second

// ConfigDescriptor is a parsed USB configuration descriptor with its
// interfaces and endpoints.
type ConfigDescriptor struct {
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	Attributes         uint8
	MaxPower           uint8

	Interfaces []InterfaceDescriptor
}

// InterfaceDescriptor is one interface alternate setting and its endpoints.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8

	Endpoints []EndpointDescriptor
}

// EndpointDescriptor is a parsed endpoint descriptor.
type EndpointDescriptor struct {
	EndpointAddr  uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
}

// FirstInterface returns the first interface of the configuration, or an
// error when the descriptor declares none.
func (c *ConfigDescriptor) FirstInterface() (*InterfaceDescriptor, error) {
	if len(c.Interfaces) == 0 {
		return nil, fmt.Errorf("configuration %d has no interfaces", c.ConfigurationValue)
	}
	return &c.Interfaces[0], nil
}

// FirstEndpoint returns the first endpoint of the interface, or an error
// when there is none.
func (i *InterfaceDescriptor) FirstEndpoint() (*EndpointDescriptor, error) {
	if len(i.Endpoints) == 0 {
		return nil, fmt.Errorf("interface %d has no endpoints", i.InterfaceNumber)
	}
	return &i.Endpoints[0], nil
}

// Configuration returns the bConfigurationValue of the active configuration.
func (h *DeviceHandle) Configuration() (uint8, error) {
	buf := make([]byte, 1)
	n, err := h.ControlTransfer(0x80, reqGetConfiguration, 0, 0, buf, descriptorTimeout)
	if err != nil {
		return 0, fmt.Errorf("get configuration: %w", err)
	}
	if n != 1 {
		return 0, fmt.Errorf("get configuration: short read (%d bytes)", n)
	}
	return buf[0], nil
}

// ConfigDescriptorByIndex fetches and parses the configuration descriptor at
// the given (zero-based) index.
func (h *DeviceHandle) ConfigDescriptorByIndex(index uint8) (*ConfigDescriptor, error) {
	// Read the 9-byte header first to learn wTotalLength.
	header := make([]byte, 9)
	value := uint16(dtConfig)<<8 | uint16(index)
	n, err := h.ControlTransfer(0x80, reqGetDescriptor, value, 0, header, descriptorTimeout)
	if err != nil {
		return nil, fmt.Errorf("get config descriptor header: %w", err)
	}
	if n < 9 {
		return nil, fmt.Errorf("get config descriptor header: short read (%d bytes)", n)
	}

	total := binary.LittleEndian.Uint16(header[2:4])
	if total < 9 {
		return nil, fmt.Errorf("config descriptor reports invalid total length %d", total)
	}

	full := make([]byte, total)
	n, err = h.ControlTransfer(0x80, reqGetDescriptor, value, 0, full, descriptorTimeout)
	if err != nil {
		return nil, fmt.Errorf("get config descriptor: %w", err)
	}

	config := &ConfigDescriptor{}
	if err := config.Unmarshal(full[:n]); err != nil {
		return nil, err
	}
	return config, nil
}

// ActiveConfigDescriptor returns the descriptor of the configuration the
// device currently uses. Devices with a single configuration (the usual
// case) resolve to index 0 without consulting GET_CONFIGURATION.
func (h *DeviceHandle) ActiveConfigDescriptor() (*ConfigDescriptor, error) {
	numConfigs := h.device.Descriptor.NumConfigurations
	if numConfigs <= 1 {
		return h.ConfigDescriptorByIndex(0)
	}

	active, err := h.Configuration()
	if err != nil {
		return nil, err
	}
	for i := uint8(0); i < numConfigs; i++ {
		config, err := h.ConfigDescriptorByIndex(i)
		if err != nil {
			return nil, err
		}
		if config.ConfigurationValue == active {
			return config, nil
		}
	}
	return nil, fmt.Errorf("active configuration %d not among %d descriptors", active, numConfigs)
}

// Unmarshal parses a raw configuration descriptor blob, including the
// trailing interface and endpoint descriptors.
func (c *ConfigDescriptor) Unmarshal(data []byte) error {
	if len(data) < 9 {
		return fmt.Errorf("config descriptor too short: %d bytes", len(data))
	}
	if data[1] != dtConfig {
		return fmt.Errorf("not a config descriptor (type 0x%02x)", data[1])
	}

	c.TotalLength = binary.LittleEndian.Uint16(data[2:4])
	c.NumInterfaces = data[4]
	c.ConfigurationValue = data[5]
	c.Attributes = data[7]
	c.MaxPower = data[8]
	c.Interfaces = nil

	var current *InterfaceDescriptor

	pos := int(data[0])
	for pos+2 <= len(data) {
		length := int(data[pos])
		descType := data[pos+1]
		if length < 2 || pos+length > len(data) {
			break
		}

		switch descType {
		case dtInterface:
			if length < 9 {
				return fmt.Errorf("interface descriptor too short: %d bytes", length)
			}
			c.Interfaces = append(c.Interfaces, InterfaceDescriptor{
				InterfaceNumber:   data[pos+2],
				AlternateSetting:  data[pos+3],
				NumEndpoints:      data[pos+4],
				InterfaceClass:    data[pos+5],
				InterfaceSubClass: data[pos+6],
				InterfaceProtocol: data[pos+7],
			})
			current = &c.Interfaces[len(c.Interfaces)-1]

		case dtEndpoint:
			if length < 7 {
				return fmt.Errorf("endpoint descriptor too short: %d bytes", length)
			}
			// Endpoints before any interface descriptor are malformed;
			// class-specific descriptors in between are skipped.
			if current != nil {
				current.Endpoints = append(current.Endpoints, EndpointDescriptor{
					EndpointAddr:  data[pos+2],
					Attributes:    data[pos+3],
					MaxPacketSize: binary.LittleEndian.Uint16(data[pos+4 : pos+6]),
					Interval:      data[pos+6],
				})
			}
		}

		pos += length
	}

	return nil
}
