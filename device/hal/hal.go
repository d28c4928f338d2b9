package hal

import (
	"context"
	"fmt"
)

// Event is a bus-level event reported by the driver.
type Event uint8

// Bus events.
const (
	EventReset   Event = iota // Bus reset signaling observed
	EventResume               // Resume signaling observed
	EventSuspend              // Bus idle long enough to suspend
)

// String returns a human-readable event name.
func (e Event) String() string {
	switch e {
	case EventReset:
		return "reset"
	case EventResume:
		return "resume"
	case EventSuspend:
		return "suspend"
	default:
		return fmt.Sprintf("unknown event (%d)", e)
	}
}

// EndpointAddress is a USB endpoint address byte: direction bit 7 plus
// the endpoint number in the low 4 bits.
type EndpointAddress uint8

// Number returns the endpoint number (0-15).
func (a EndpointAddress) Number() uint8 {
	return uint8(a) & 0x0F
}

// IsIn returns true for an IN endpoint (device to host).
func (a EndpointAddress) IsIn() bool {
	return a&0x80 != 0
}

// String returns a human-readable endpoint address.
func (a EndpointAddress) String() string {
	dir := "OUT"
	if a.IsIn() {
		dir = "IN"
	}
	return fmt.Sprintf("EP%d %s", a.Number(), dir)
}

// SetupPacket represents an 8-byte USB SETUP packet as delivered by the
// driver. This is a fixed-size, zero-allocation structure.
type SetupPacket struct {
	RequestType uint8  // bmRequestType: direction, type, recipient
	Request     uint8  // bRequest: specific request code
	Value       uint16 // wValue: request-specific parameter
	Index       uint16 // wIndex: request-specific index
	Length      uint16 // wLength: number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// Bus is the bus-level driver contract.
//
// The engine owns the Bus handle exclusively for its lifetime. Events
// reported on the channel returned by Events drive the device state
// machine; the remaining methods perform synchronous controller
// operations.
type Bus interface {
	// Events returns the stream of bus events. The driver must buffer at
	// most one pending event per edge-triggered source; the engine
	// consumes events strictly one at a time.
	Events() <-chan Event

	// Reset reinitializes the controller after a bus reset.
	Reset() error

	// Suspend places the controller in its low-power suspend state.
	Suspend() error

	// SetStalled sets or clears the stall condition on an endpoint.
	SetStalled(addr EndpointAddress, stalled bool)

	// IsStalled reports whether an endpoint is currently stalled.
	IsStalled(addr EndpointAddress) bool
}

// ControlPipe is the default control endpoint driver contract.
//
// A control transfer proceeds as: SETUP (from the Setup channel), an
// optional data stage (DataOut or AcceptIn), then a status stage
// (Accept, AcceptIn, or Reject). The engine never pipelines transfers;
// exactly one is in flight at a time.
type ControlPipe interface {
	// Setup returns the stream of incoming SETUP packets.
	Setup() <-chan SetupPacket

	// DataOut reads the data stage of a control OUT transfer into buf.
	// Returns the number of bytes read. An error abandons the transfer;
	// the engine does not retry.
	DataOut(ctx context.Context, buf []byte) (int, error)

	// AcceptIn sends the data stage of a control IN transfer and
	// completes the status stage.
	AcceptIn(ctx context.Context, data []byte) error

	// Accept completes the status stage of a control OUT transfer with a
	// zero-length acknowledgement.
	Accept()

	// Reject stalls the control endpoint, signaling an unsupported or
	// invalid request to the host.
	Reject()
}
