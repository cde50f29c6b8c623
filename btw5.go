// Package btw5 switches a Creative BT-W5 Bluetooth audio dongle between its
// AptX Adaptive High Quality and Low Latency codec modes.
//
// The command was reverse engineered from the traffic between Creative's
// Windows app and the dongle: a single HID SET_REPORT control transfer
// carrying a 65-byte output report on the dongle's first interface.
package btw5

import "fmt"

// Creative BT-W5 USB identifiers.
const (
	VendorID  = 0x041e
	ProductID = 0x3130
)

// Setup packet of the mode-switch request. bmRequestType is a class request
// directed at an interface, host to device; bRequest is HID SET_REPORT;
// wValue selects output report 3.
const (
	requestType      = 0x21
	requestSetReport = 0x09
	reportValue      = 0x0203
	reportIndex      = 0x0000
)

// ReportLength is the exact size the dongle expects for the data stage. A
// transfer of any other length is rejected as a failure.
const ReportLength = 65

// opcode is the common prefix of the mode-switch report. The final byte
// selects the codec mode.
var opcode = [6]byte{0x03, 0x5a, 0x6b, 0x03, 0x0a, 0x03}

// Mode is an AptX Adaptive codec operating mode.
type Mode uint8

const (
	// ModeHighQuality favors audio quality over latency.
	ModeHighQuality Mode = 0x40
	// ModeLowLatency favors latency over audio quality.
	ModeLowLatency Mode = 0x20
)

// ParseMode maps the CLI tokens "hq" and "ll" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "hq":
		return ModeHighQuality, nil
	case "ll":
		return ModeLowLatency, nil
	}
	return 0, fmt.Errorf("invalid mode %q (expected \"hq\" or \"ll\")", s)
}

func (m Mode) String() string {
	switch m {
	case ModeHighQuality:
		return "High Quality"
	case ModeLowLatency:
		return "Low Latency"
	}
	return fmt.Sprintf("Mode(0x%02x)", uint8(m))
}

// Report builds the 65-byte output report selecting this mode: the opcode
// prefix, the mode byte, and zero padding. The padding bytes are part of a
// larger config blob the dongle overwrites wholesale; their semantics are
// unknown and they must stay zero.
func (m Mode) Report() []byte {
	report := make([]byte, ReportLength)
	copy(report, opcode[:])
	report[len(opcode)] = byte(m)
	return report
}
