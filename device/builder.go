package device

import (
	"github.com/usblab/usbd/device/hal"
	"github.com/usblab/usbd/pkg"
)

// Config holds the construction-time identity of a device.
type Config struct {
	VendorID      uint16 // idVendor
	ProductID     uint16 // idProduct
	DeviceRelease uint16 // bcdDevice; defaults to 0x0100
	USBVersion    uint16 // bcdUSB; defaults to 0x0200

	DeviceClass    uint8 // bDeviceClass
	DeviceSubClass uint8 // bDeviceSubClass
	DeviceProtocol uint8 // bDeviceProtocol

	// MaxPacketSize0 is the EP0 maximum packet size (8, 16, 32, or 64).
	// Defaults to 64.
	MaxPacketSize0 uint8

	Manufacturer string // String descriptor index 1; empty means absent
	Product      string // String descriptor index 2; empty means absent
	SerialNumber string // String descriptor index 3; empty means absent

	// SelfPowered marks the device self-powered in the configuration
	// descriptor and the GET_STATUS reply.
	SelfPowered bool

	// RemoteWakeup advertises the remote wakeup capability in the
	// configuration descriptor.
	RemoteWakeup bool

	// MaxPowerMilliamps is the bus power draw advertised in the
	// configuration descriptor. Defaults to 100 mA.
	MaxPowerMilliamps uint16
}

// withDefaults returns cfg with zero-valued fields replaced by defaults.
func (cfg Config) withDefaults() Config {
	if cfg.USBVersion == 0 {
		cfg.USBVersion = 0x0200
	}
	if cfg.DeviceRelease == 0 {
		cfg.DeviceRelease = 0x0100
	}
	if cfg.MaxPacketSize0 == 0 {
		cfg.MaxPacketSize0 = 64
	}
	if cfg.MaxPowerMilliamps == 0 {
		cfg.MaxPowerMilliamps = 100
	}
	return cfg
}

// Buffer capacities for builder-assembled descriptors.
const (
	// MaxConfigTotalLength bounds the assembled configuration descriptor.
	MaxConfigTotalLength = 256

	// MaxBOSTotalLength bounds the assembled BOS descriptor.
	MaxBOSTotalLength = 64
)

// Builder assembles the serialized device, configuration, and BOS
// descriptor buffers and the ordered class list, then constructs the
// device. The backing arrays for the descriptor buffers live inside the
// builder, which therefore must outlive the device it builds.
type Builder struct {
	config Config

	deviceBuf [DeviceDescriptorSize]byte
	configBuf [MaxConfigTotalLength]byte
	bosBuf    [MaxBOSTotalLength]byte

	configLen      int
	interfaceCount uint8

	bosLen   int
	capCount uint8

	classes    [MaxClassCount]Class
	classCount int

	errs []error
}

// NewBuilder creates a builder for the given identity configuration.
func NewBuilder(cfg Config) *Builder {
	b := &Builder{config: cfg.withDefaults()}
	b.configLen = ConfigurationDescriptorSize
	b.bosLen = BOSDescriptorSize
	return b
}

// AddClass registers a function unit: its control handler, its interface
// descriptor, and the endpoint descriptors belonging to it. Registration
// order is control dispatch priority. The interface number and endpoint
// count fields of iface are assigned by the builder.
func (b *Builder) AddClass(cls Class, iface InterfaceDescriptor, endpoints ...EndpointDescriptor) *Builder {
	if cls == nil {
		b.errs = append(b.errs, pkg.ErrInvalidParameter)
		return b
	}
	if b.classCount >= MaxClassCount {
		b.errs = append(b.errs, pkg.ErrNoMemory)
		return b
	}

	iface.InterfaceNumber = b.interfaceCount
	iface.AlternateSetting = DefaultAlternateSetting
	iface.NumEndpoints = uint8(len(endpoints))

	n := iface.MarshalTo(b.configBuf[b.configLen:])
	if n == 0 {
		b.errs = append(b.errs, pkg.ErrBufferTooSmall)
		return b
	}
	b.configLen += n

	for i := range endpoints {
		n = endpoints[i].MarshalTo(b.configBuf[b.configLen:])
		if n == 0 {
			b.errs = append(b.errs, pkg.ErrBufferTooSmall)
			return b
		}
		b.configLen += n
	}

	b.classes[b.classCount] = cls
	b.classCount++
	b.interfaceCount++
	return b
}

// AddCapability appends a device capability descriptor to the BOS buffer.
func (b *Builder) AddCapability(capabilityType uint8, data []byte) *Builder {
	length := 3 + len(data)
	if b.bosLen+length > len(b.bosBuf) {
		b.errs = append(b.errs, pkg.ErrBufferTooSmall)
		return b
	}
	buf := b.bosBuf[b.bosLen:]
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeDeviceCapability
	buf[2] = capabilityType
	copy(buf[3:], data)
	b.bosLen += length
	b.capCount++
	return b
}

// DeviceDescriptor returns the serialized device descriptor. Valid only
// after Build.
func (b *Builder) DeviceDescriptor() []byte {
	return b.deviceBuf[:]
}

// ConfigurationDescriptor returns the serialized configuration
// descriptor, including interface and endpoint descriptors. Valid only
// after Build.
func (b *Builder) ConfigurationDescriptor() []byte {
	return b.configBuf[:b.configLen]
}

// BOSDescriptor returns the serialized BOS descriptor. Valid only after
// Build.
func (b *Builder) BOSDescriptor() []byte {
	return b.bosBuf[:b.bosLen]
}

// Build finalizes the descriptor buffers and constructs the device on
// the given driver collaborators.
func (b *Builder) Build(bus hal.Bus, control hal.ControlPipe) (*Device, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}

	cfg := b.config
	switch cfg.MaxPacketSize0 {
	case 8, 16, 32, 64:
	default:
		return nil, pkg.ErrInvalidParameter
	}

	desc := DeviceDescriptor{
		USBVersion:        cfg.USBVersion,
		DeviceClass:       cfg.DeviceClass,
		DeviceSubClass:    cfg.DeviceSubClass,
		DeviceProtocol:    cfg.DeviceProtocol,
		MaxPacketSize0:    cfg.MaxPacketSize0,
		VendorID:          cfg.VendorID,
		ProductID:         cfg.ProductID,
		DeviceVersion:     cfg.DeviceRelease,
		NumConfigurations: 1,
	}
	if cfg.Manufacturer != "" {
		desc.ManufacturerIndex = StringIndexManufacturer
	}
	if cfg.Product != "" {
		desc.ProductIndex = StringIndexProduct
	}
	if cfg.SerialNumber != "" {
		desc.SerialNumberIndex = StringIndexSerialNumber
	}
	desc.MarshalTo(b.deviceBuf[:])

	attributes := uint8(ConfigAttrBusPowered)
	if cfg.SelfPowered {
		attributes |= ConfigAttrSelfPowered
	}
	if cfg.RemoteWakeup {
		attributes |= ConfigAttrRemoteWakeup
	}
	configDesc := ConfigurationDescriptor{
		TotalLength:        uint16(b.configLen),
		NumInterfaces:      b.interfaceCount,
		ConfigurationValue: ConfigurationValue,
		Attributes:         attributes,
		MaxPower:           uint8(cfg.MaxPowerMilliamps / 2),
	}
	configDesc.MarshalTo(b.configBuf[:])

	bosHeaderTo(b.bosBuf[:], uint16(b.bosLen), b.capCount)

	pkg.LogDebug(pkg.ComponentDevice, "descriptors assembled",
		"configTotalLength", b.configLen,
		"interfaces", b.interfaceCount,
		"bosTotalLength", b.bosLen)

	return New(bus, control, cfg,
		b.deviceBuf[:], b.configBuf[:b.configLen], b.bosBuf[:b.bosLen],
		b.classes[:b.classCount]...)
}
