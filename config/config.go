// Package config loads device identity configuration from YAML files and
// produces the device.Config consumed by the builder.
package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/usblab/usbd/device"
	"github.com/usblab/usbd/pkg"
)

// Identity is the YAML schema for device identity.
type Identity struct {
	VendorID      uint16 `yaml:"vendor_id"`
	ProductID     uint16 `yaml:"product_id"`
	DeviceRelease uint16 `yaml:"device_release"`

	Manufacturer string `yaml:"manufacturer"`
	Product      string `yaml:"product"`

	// SerialNumber defaults to a generated UUID when left empty.
	SerialNumber string `yaml:"serial_number"`

	// MaxPacketSize is the EP0 maximum packet size: 8, 16, 32, or 64.
	// Zero selects the default (64).
	MaxPacketSize uint8 `yaml:"max_packet_size"`

	SelfPowered  bool `yaml:"self_powered"`
	RemoteWakeup bool `yaml:"remote_wakeup"`

	// MaxPowerMilliamps is the advertised bus power draw. Zero selects
	// the default (100 mA).
	MaxPowerMilliamps uint16 `yaml:"max_power_ma"`
}

// Load reads and parses an identity file.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML identity data and validates it.
func Parse(data []byte) (*Identity, error) {
	var id Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("parse identity: %w", err)
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return &id, nil
}

// Validate checks field constraints.
func (id *Identity) Validate() error {
	if id.VendorID == 0 {
		return fmt.Errorf("%w: vendor_id is required", pkg.ErrInvalidParameter)
	}
	if id.ProductID == 0 {
		return fmt.Errorf("%w: product_id is required", pkg.ErrInvalidParameter)
	}
	switch id.MaxPacketSize {
	case 0, 8, 16, 32, 64:
	default:
		return fmt.Errorf("%w: max_packet_size must be 8, 16, 32, or 64 (got %d)",
			pkg.ErrInvalidParameter, id.MaxPacketSize)
	}
	if id.MaxPowerMilliamps > 500 {
		return fmt.Errorf("%w: max_power_ma must not exceed 500 (got %d)",
			pkg.ErrInvalidParameter, id.MaxPowerMilliamps)
	}
	return nil
}

// DeviceConfig converts the identity into a device.Config. A missing
// serial number is replaced by a generated UUID so every built device
// enumerates with a unique serial.
func (id *Identity) DeviceConfig() device.Config {
	serial := id.SerialNumber
	if serial == "" {
		serial = uuid.NewString()
		pkg.LogInfo(pkg.ComponentConfig, "generated serial number",
			"serial", serial)
	}
	return device.Config{
		VendorID:          id.VendorID,
		ProductID:         id.ProductID,
		DeviceRelease:     id.DeviceRelease,
		Manufacturer:      id.Manufacturer,
		Product:           id.Product,
		SerialNumber:      serial,
		MaxPacketSize0:    id.MaxPacketSize,
		SelfPowered:       id.SelfPowered,
		RemoteWakeup:      id.RemoteWakeup,
		MaxPowerMilliamps: id.MaxPowerMilliamps,
	}
}
