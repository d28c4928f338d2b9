// Package device implements the device-side control-plane engine of a
// USB peripheral stack.
//
// The engine owns the USB device lifecycle state, arbitrates the shared
// control endpoint among a fixed set of function units ("classes"), and
// answers the mandatory USB standard control requests: GET/SET_CONFIGURATION,
// SET_ADDRESS, GET_DESCRIPTOR, and the feature and status queries hosts
// issue during enumeration.
//
// # Architecture
//
//   - [Device] owns device state, the class registry, and the run loop
//   - [Request] is the parsed form of a control SETUP packet
//   - [Class] is the capability contract pluggable function units implement
//   - [DescriptorWriter] serializes descriptor fragments into fixed buffers
//   - [Builder] assembles the static descriptor buffers and the class list
//
// Hardware access goes through the [hal.Bus] and [hal.ControlPipe]
// contracts in [github.com/usblab/usbd/device/hal]; the engine never
// touches a controller directly.
//
// # Run loop
//
// [Device.Run] races the bus event stream against incoming SETUP packets
// with a single select. Bus resets force the state machine back to
// Default and notify every class; SETUP packets are parsed into a
// [Request], offered to each class in registration order, and resolved
// against the standard request tables when no class claims them. Any
// unrecognized request stalls the control endpoint; nothing is silently
// dropped.
//
// # Zero-Allocation Design
//
// The engine targets constrained environments: the class registry is a
// fixed array, data-stage scratch buffers live inside the Device, the
// static descriptor buffers are borrowed from the caller, and
// serialization uses MarshalTo(buf) instead of allocating.
package device
