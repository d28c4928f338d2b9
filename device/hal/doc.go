// Package hal defines the driver contracts between the usbd device engine
// and USB controller hardware.
//
// Two collaborators are specified:
//
//   - [Bus] surfaces bus-level events (reset, resume, suspend) and controls
//     per-endpoint stall state.
//   - [ControlPipe] carries the default control endpoint: incoming SETUP
//     packets, data-stage reads, and the accept/reject handshake.
//
// Both deliver their asynchronous inputs on channels so a consumer can
// race them with a single select statement. Receiving from a channel is
// the only way an event or SETUP packet is consumed; a select arm that is
// not taken leaves the source untouched, so no input is lost when the
// other source wins the race.
//
// Platform vendors implement these interfaces to run the engine on their
// controller. The [github.com/usblab/usbd/device/hal/sim] package provides
// a software implementation for tests and examples.
package hal
