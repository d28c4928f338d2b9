package device

import (
	"context"
	"encoding/binary"

	"github.com/usblab/usbd/device/hal"
	"github.com/usblab/usbd/pkg"
)

// Device is the control-plane engine for one USB device. It owns the Bus
// and ControlPipe handles for its lifetime, tracks device state, and
// arbitrates the control endpoint among the registered classes and the
// standard request tables.
//
// A Device is driven by a single call to Run and performs no internal
// locking: there is never more than one mutator of device state active at
// a time. The state accessors are intended for inspection while Run is
// not executing (construction, after cancellation, tests); they are not
// synchronized against a concurrent Run.
type Device struct {
	bus     hal.Bus
	control hal.ControlPipe

	// Static descriptor buffers, borrowed from the caller and never
	// mutated. They must outlive the device.
	deviceDescriptor []byte
	configDescriptor []byte
	bosDescriptor    []byte

	manufacturer string
	product      string
	serialNumber string

	state               State
	remoteWakeupEnabled bool
	selfPowered         bool
	pendingAddress      uint8

	// Class registry. Insertion order is dispatch priority.
	classes    [MaxClassCount]Class
	classCount int

	// Scratch buffers for the control data stages and synthesized
	// descriptor fragments.
	outBuf     [MaxControlData]byte
	inBuf      [MaxControlData]byte
	scratchBuf [MaxWriterScratch]byte
}

// New creates a device from its construction-time inputs: the driver
// collaborators, identity configuration, the three serialized descriptor
// buffers, and the ordered class list (at most MaxClassCount entries,
// dispatch priority in argument order).
//
// The descriptor buffers are borrowed, not copied, and must remain valid
// and unmodified for the lifetime of the device.
func New(bus hal.Bus, control hal.ControlPipe, cfg Config,
	deviceDescriptor, configDescriptor, bosDescriptor []byte,
	classes ...Class) (*Device, error) {

	if bus == nil || control == nil {
		return nil, pkg.ErrInvalidParameter
	}
	if len(classes) > MaxClassCount {
		return nil, pkg.ErrNoMemory
	}

	d := &Device{
		bus:              bus,
		control:          control,
		deviceDescriptor: deviceDescriptor,
		configDescriptor: configDescriptor,
		bosDescriptor:    bosDescriptor,
		manufacturer:     cfg.Manufacturer,
		product:          cfg.Product,
		serialNumber:     cfg.SerialNumber,
		selfPowered:      cfg.SelfPowered,
		state:            StateDefault,
	}
	for _, c := range classes {
		d.classes[d.classCount] = c
		d.classCount++
	}
	return d, nil
}

// State returns the current device state.
func (d *Device) State() State {
	return d.state
}

// PendingAddress returns the address latched by the last SET_ADDRESS
// request. Applying the address is a driver concern; this value exists
// for protocol bookkeeping.
func (d *Device) PendingAddress() uint8 {
	return d.pendingAddress
}

// RemoteWakeupEnabled reports whether the host has enabled the remote
// wakeup feature.
func (d *Device) RemoteWakeupEnabled() bool {
	return d.remoteWakeupEnabled
}

// Run drives the device until ctx is cancelled or a driver stream
// closes. Each iteration races the bus event stream against the next
// SETUP packet; whichever is ready first is handled and the other is left
// untouched for the next iteration.
//
// Run never returns under normal operation; teardown of the owning task
// is the only cancellation surface.
func (d *Device) Run(ctx context.Context) error {
	pkg.LogInfo(pkg.ComponentDevice, "device running",
		"classes", d.classCount)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-d.bus.Events():
			if !ok {
				return pkg.ErrPipeClosed
			}
			d.handleBusEvent(evt)

		case setup, ok := <-d.control.Setup():
			if !ok {
				return pkg.ErrPipeClosed
			}
			req := ParseRequest(setup)
			pkg.LogDebug(pkg.ComponentControl, "control request",
				"request", req.String())

			var err error
			if req.Direction == DirectionIn {
				err = d.handleControlIn(ctx, req)
			} else {
				err = d.handleControlOut(ctx, req)
			}
			if err != nil {
				// Transport fault: the transfer is abandoned and the
				// next SETUP starts fresh. No retry at this layer.
				pkg.LogWarn(pkg.ComponentControl, "control transfer abandoned",
					"error", err,
					"request", req.String())
			}
		}
	}
}

// handleBusEvent applies a bus event to the device state machine.
func (d *Device) handleBusEvent(evt hal.Event) {
	switch evt {
	case hal.EventReset:
		if err := d.bus.Reset(); err != nil {
			pkg.LogWarn(pkg.ComponentHAL, "bus reset failed", "error", err)
		}

		d.state = StateDefault
		d.remoteWakeupEnabled = false
		d.pendingAddress = 0

		for i := 0; i < d.classCount; i++ {
			d.classes[i].Reset()
		}
		pkg.LogDebug(pkg.ComponentDevice, "bus reset")

	case hal.EventResume:
		// Resumption is implicit in returning to normal polling.

	case hal.EventSuspend:
		if err := d.bus.Suspend(); err != nil {
			pkg.LogWarn(pkg.ComponentHAL, "bus suspend failed", "error", err)
		}
		d.state = StateSuspend
		pkg.LogDebug(pkg.ComponentDevice, "bus suspended")
	}
}

// handleControlOut processes a control OUT transfer: read the data stage,
// offer the request to each class in priority order, then fall through to
// the standard request table.
func (d *Device) handleControlOut(ctx context.Context, req Request) error {
	data := d.outBuf[:0]
	if req.Length > 0 {
		n, err := d.control.DataOut(ctx, d.outBuf[:])
		if err != nil {
			return err
		}
		data = d.outBuf[:n]
	}

	for i := 0; i < d.classCount; i++ {
		switch d.classes[i].ControlOut(req, data) {
		case Accepted:
			d.control.Accept()
			return nil
		case Rejected:
			d.control.Reject()
			return nil
		}
	}

	if req.Type != RequestTypeStandard {
		d.control.Reject()
		return nil
	}

	switch {
	case req.Recipient == RecipientDevice &&
		req.Request == RequestClearFeature &&
		req.Value == FeatureDeviceRemoteWakeup:
		d.remoteWakeupEnabled = false
		d.control.Accept()

	case req.Recipient == RecipientEndpoint &&
		req.Request == RequestClearFeature &&
		req.Value == FeatureEndpointHalt:
		// Un-stalling the endpoint at the bus is not wired up yet; the
		// request is acknowledged for host compatibility.
		d.control.Accept()

	case req.Recipient == RecipientDevice &&
		req.Request == RequestSetFeature &&
		req.Value == FeatureDeviceRemoteWakeup:
		d.remoteWakeupEnabled = true
		d.control.Accept()

	case req.Recipient == RecipientEndpoint &&
		req.Request == RequestSetFeature &&
		req.Value == FeatureEndpointHalt:
		d.bus.SetStalled(req.EndpointAddress(), true)
		d.control.Accept()

	case req.Recipient == RecipientDevice &&
		req.Request == RequestSetAddress &&
		req.Value >= 1 && req.Value <= 127:
		// Some controllers apply the address autonomously; the latched
		// value is protocol bookkeeping.
		d.pendingAddress = uint8(req.Value)
		d.control.Accept()

	case req.Recipient == RecipientDevice &&
		req.Request == RequestSetConfiguration &&
		req.Value == ConfigurationValue:
		d.state = StateConfigured
		d.control.Accept()
		pkg.LogDebug(pkg.ComponentDevice, "device configured")

	case req.Recipient == RecipientDevice &&
		req.Request == RequestSetConfiguration &&
		req.Value == ConfigurationNone:
		if d.state != StateDefault {
			d.state = StateAddressed
		}
		d.control.Accept()

	case req.Recipient == RecipientInterface &&
		req.Request == RequestSetInterface &&
		req.Value == DefaultAlternateSetting:
		// Alternate settings beyond the default are not implemented.
		d.control.Accept()

	default:
		d.control.Reject()
	}
	return nil
}

// handleControlIn processes a control IN transfer: offer the request to
// each class in priority order, then fall through to the standard request
// table. Every reply is truncated to the host's requested length.
func (d *Device) handleControlIn(ctx context.Context, req Request) error {
	for i := 0; i < d.classCount; i++ {
		n, status := d.classes[i].ControlIn(req, d.inBuf[:])
		switch status {
		case Accepted:
			return d.acceptIn(ctx, req, d.inBuf[:n])
		case Rejected:
			d.control.Reject()
			return nil
		}
	}

	if req.Type != RequestTypeStandard {
		d.control.Reject()
		return nil
	}

	switch {
	case req.Recipient == RecipientDevice && req.Request == RequestGetStatus:
		var status uint16
		if d.selfPowered {
			status |= 0x0001
		}
		if d.remoteWakeupEnabled {
			status |= 0x0002
		}
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], status)
		return d.acceptIn(ctx, req, buf[:])

	case req.Recipient == RecipientInterface && req.Request == RequestGetStatus:
		var buf [2]byte
		return d.acceptIn(ctx, req, buf[:])

	case req.Recipient == RecipientEndpoint && req.Request == RequestGetStatus:
		var status uint16
		if d.bus.IsStalled(req.EndpointAddress()) {
			status |= 0x0001
		}
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], status)
		return d.acceptIn(ctx, req, buf[:])

	case req.Recipient == RecipientDevice && req.Request == RequestGetDescriptor:
		return d.getDescriptor(ctx, req)

	case req.Recipient == RecipientDevice && req.Request == RequestGetConfiguration:
		value := byte(ConfigurationNone)
		if d.state == StateConfigured {
			value = ConfigurationValue
		}
		buf := [1]byte{value}
		return d.acceptIn(ctx, req, buf[:])

	case req.Recipient == RecipientInterface && req.Request == RequestGetInterface:
		buf := [1]byte{DefaultAlternateSetting}
		return d.acceptIn(ctx, req, buf[:])

	default:
		d.control.Reject()
	}
	return nil
}

// getDescriptor resolves a GET_DESCRIPTOR request. Static descriptor
// types reply with the pre-built buffers; string descriptors are
// synthesized on the fly.
func (d *Device) getDescriptor(ctx context.Context, req Request) error {
	descType, index := req.DescriptorTypeIndex()

	switch descType {
	case DescriptorTypeBOS:
		return d.acceptIn(ctx, req, d.bosDescriptor)
	case DescriptorTypeDevice:
		return d.acceptIn(ctx, req, d.deviceDescriptor)
	case DescriptorTypeConfiguration:
		return d.acceptIn(ctx, req, d.configDescriptor)
	case DescriptorTypeString:
		return d.getStringDescriptor(ctx, req, index)
	default:
		d.control.Reject()
		return nil
	}
}

// getStringDescriptor synthesizes a string descriptor reply via the
// descriptor writer.
func (d *Device) getStringDescriptor(ctx context.Context, req Request, index uint8) error {
	var s string
	switch index {
	case StringIndexLanguages:
		w := NewDescriptorWriter(d.scratchBuf[:])
		w.WriteLanguages(LangIDUSEnglish)
		return d.acceptIn(ctx, req, w.Bytes())
	case StringIndexManufacturer:
		s = d.manufacturer
	case StringIndexProduct:
		s = d.product
	case StringIndexSerialNumber:
		s = d.serialNumber
	default:
		// Class-supplied strings are an unimplemented extension point.
		d.control.Reject()
		return nil
	}

	if s == "" {
		d.control.Reject()
		return nil
	}
	w := NewDescriptorWriter(d.scratchBuf[:])
	w.WriteString(s)
	return d.acceptIn(ctx, req, w.Bytes())
}

// acceptIn completes a control IN transfer, truncating the reply to the
// length the host requested.
func (d *Device) acceptIn(ctx context.Context, req Request, data []byte) error {
	if len(data) > int(req.Length) {
		data = data[:req.Length]
	}
	return d.control.AcceptIn(ctx, data)
}
