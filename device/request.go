package device

import (
	"fmt"

	"github.com/usblab/usbd/device/hal"
	"github.com/usblab/usbd/pkg"
)

// Standard USB request codes (USB 2.0 Spec Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Feature selectors (USB 2.0 Spec Table 9-6).
const (
	FeatureEndpointHalt       = 0x00 // Endpoint halt feature
	FeatureDeviceRemoteWakeup = 0x01 // Device remote wakeup
)

// Request type masks (USB 2.0 Spec Table 9-2).
const (
	requestTypeDirectionMask = 0x80 // Direction bit mask
	requestTypeTypeMask      = 0x60 // Type bits mask
	requestTypeRecipientMask = 0x1F // Recipient bits mask
)

// Direction is the transfer direction of a control request.
type Direction uint8

// Transfer directions.
const (
	DirectionOut Direction = 0x00 // Host to device
	DirectionIn  Direction = 0x80 // Device to host
)

// String returns a human-readable direction name.
func (d Direction) String() string {
	if d == DirectionIn {
		return "IN"
	}
	return "OUT"
}

// RequestType is the type field of a control request.
type RequestType uint8

// Request types.
const (
	RequestTypeStandard RequestType = 0x00 // Standard request
	RequestTypeClass    RequestType = 0x20 // Class-specific request
	RequestTypeVendor   RequestType = 0x40 // Vendor-specific request
	RequestTypeReserved RequestType = 0x60 // Reserved
)

// String returns a human-readable request type name.
func (t RequestType) String() string {
	switch t {
	case RequestTypeStandard:
		return "Standard"
	case RequestTypeClass:
		return "Class"
	case RequestTypeVendor:
		return "Vendor"
	default:
		return "Reserved"
	}
}

// Recipient is the target of a control request.
type Recipient uint8

// Request recipients.
const (
	RecipientDevice    Recipient = 0x00 // Device recipient
	RecipientInterface Recipient = 0x01 // Interface recipient
	RecipientEndpoint  Recipient = 0x02 // Endpoint recipient
	RecipientOther     Recipient = 0x03 // Other recipient
)

// String returns a human-readable recipient name.
func (r Recipient) String() string {
	switch r {
	case RecipientDevice:
		return "Device"
	case RecipientInterface:
		return "Interface"
	case RecipientEndpoint:
		return "Endpoint"
	case RecipientOther:
		return "Other"
	default:
		return fmt.Sprintf("Reserved(%d)", r)
	}
}

// Request is the parsed representation of a control SETUP packet.
// One Request is constructed per control transfer and discarded when the
// transfer completes.
type Request struct {
	Direction Direction   // Transfer direction
	Type      RequestType // Standard, Class, or Vendor
	Recipient Recipient   // Device, Interface, or Endpoint
	Request   uint8       // bRequest: specific request code
	Value     uint16      // wValue: request-specific parameter
	Index     uint16      // wIndex: request-specific index
	Length    uint16      // wLength: expected data-stage length
}

// ParseRequest decodes a SETUP packet into a Request.
func ParseRequest(s hal.SetupPacket) Request {
	return Request{
		Direction: Direction(s.RequestType & requestTypeDirectionMask),
		Type:      RequestType(s.RequestType & requestTypeTypeMask),
		Recipient: Recipient(s.RequestType & requestTypeRecipientMask),
		Request:   s.Request,
		Value:     s.Value,
		Index:     s.Index,
		Length:    s.Length,
	}
}

// ParseRequestBytes parses an 8-byte SETUP packet into a Request.
// Returns an error if data is too short.
func ParseRequestBytes(data []byte) (Request, error) {
	var s hal.SetupPacket
	if !hal.ParseSetupPacket(data, &s) {
		return Request{}, pkg.ErrSetupPacketTooShort
	}
	return ParseRequest(s), nil
}

// DescriptorTypeIndex decomposes wValue of a GET_DESCRIPTOR request into
// the descriptor type (high byte) and descriptor index (low byte).
func (r Request) DescriptorTypeIndex() (uint8, uint8) {
	return uint8(r.Value >> 8), uint8(r.Value)
}

// EndpointAddress returns the endpoint named by wIndex in an
// endpoint-recipient request.
func (r Request) EndpointAddress() hal.EndpointAddress {
	return hal.EndpointAddress(uint8(r.Index) & endpointAddrMask)
}

// String returns a human-readable representation of the request.
func (r Request) String() string {
	return fmt.Sprintf("SETUP[%s %s %s] Request=0x%02X Value=0x%04X Index=0x%04X Length=%d",
		r.Direction, r.Type, r.Recipient, r.Request, r.Value, r.Index, r.Length)
}
