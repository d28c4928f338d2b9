package device

import "fmt"

// Capacity limits for fixed-size containers (zero-allocation support).
const (
	// MaxClassCount is the maximum number of registered classes.
	MaxClassCount = 4

	// MaxControlData is the size of the control data-stage scratch
	// buffers. Class OUT payloads beyond this are truncated; class IN
	// replies are bounded by it.
	MaxControlData = 128

	// MaxWriterScratch is the size of the scratch buffer backing
	// synthesized descriptor fragments.
	MaxWriterScratch = 256
)

// USB Descriptor Types (USB 2.0 Spec Table 9-5, USB 3.0 Table 9-6).
const (
	DescriptorTypeDevice           = 0x01
	DescriptorTypeConfiguration    = 0x02
	DescriptorTypeString           = 0x03
	DescriptorTypeInterface        = 0x04
	DescriptorTypeEndpoint         = 0x05
	DescriptorTypeBOS              = 0x0F
	DescriptorTypeDeviceCapability = 0x10
)

// Configuration values reported and accepted by the engine. The device
// exposes a single configuration.
const (
	// ConfigurationNone is the bConfigurationValue for the unconfigured state.
	ConfigurationNone = 0

	// ConfigurationValue is the bConfigurationValue for the single
	// configuration supported by this device.
	ConfigurationValue = 1
)

// DefaultAlternateSetting is the bAlternateSetting value for all
// interfaces. Alternate settings beyond the default are not implemented.
const DefaultAlternateSetting = 0

// LangIDUSEnglish is the language ID for US English, the single language
// advertised by string descriptor index 0.
const LangIDUSEnglish = 0x0409

// Reserved string descriptor indices.
const (
	StringIndexLanguages    = 0 // Supported language IDs
	StringIndexManufacturer = 1 // Manufacturer string
	StringIndexProduct      = 2 // Product string
	StringIndexSerialNumber = 3 // Serial number string
)

// Device states as defined in USB 2.0 specification section 9.1.
const (
	StateDefault    State = 0 // Device has been reset, using default address
	StateAddressed  State = 1 // Device has been assigned a unique address
	StateConfigured State = 2 // Device is configured and operational
	StateSuspend    State = 3 // Device is in suspend mode
)

// State represents USB device state.
//
// Class-level control traffic is only semantically meaningful in
// StateConfigured; the dispatcher does not gate on this, so classes must
// reject requests they cannot service in the current state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateDefault:
		return "Default"
	case StateAddressed:
		return "Addressed"
	case StateConfigured:
		return "Configured"
	case StateSuspend:
		return "Suspend"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}

// endpointAddrMask extracts the direction bit and endpoint number from a
// wIndex naming an endpoint (USB 2.0 section 9.3.4).
const endpointAddrMask = 0x8F
