// Package sim provides an in-memory implementation of the hal driver
// contracts together with a host-side API for driving control transfers,
// suitable for tests and examples.
//
// A [Port] plays both roles: the device engine consumes it as a
// [hal.Bus] and [hal.ControlPipe], while the test or example acts as the
// host through SignalReset, ControlIn, and ControlOut. Transfers follow
// real control-transfer sequencing: SETUP, optional data stage, then a
// status stage observed by the host as success or stall.
package sim

import (
	"context"
	"sync"

	"github.com/usblab/usbd/device/hal"
	"github.com/usblab/usbd/pkg"
)

// maxEndpointAddresses is the number of distinct endpoint addresses
// (16 OUT + 16 IN).
const maxEndpointAddresses = 32

// endpointIndex converts an endpoint address to a stall-table index.
// OUT endpoints map to 0-15, IN endpoints to 16-31.
func endpointIndex(addr hal.EndpointAddress) int {
	if addr.IsIn() {
		return int(addr.Number()) + 16
	}
	return int(addr.Number())
}

// outcome is the host-visible completion of one control transfer.
type outcome struct {
	rejected bool
	data     []byte // reply payload for IN transfers (copied)
}

// Port is a software USB port connecting a device engine to a simulated
// host. The zero value is not usable; create ports with New.
type Port struct {
	events  chan hal.Event
	setup   chan hal.SetupPacket
	dataOut chan []byte
	results chan outcome

	mutex     sync.Mutex
	stalled   [maxEndpointAddresses]bool
	resets    int
	suspended bool
}

// New creates an idle port. The event channel buffers a single pending
// event, matching an edge-triggered controller.
func New() *Port {
	return &Port{
		events:  make(chan hal.Event, 1),
		setup:   make(chan hal.SetupPacket),
		dataOut: make(chan []byte, 1),
		results: make(chan outcome, 1),
	}
}

// Device-side driver contract.

// Events returns the bus event stream.
func (p *Port) Events() <-chan hal.Event {
	return p.events
}

// Reset reinitializes the simulated controller: all stall conditions are
// cleared and the suspended flag drops.
func (p *Port) Reset() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.stalled = [maxEndpointAddresses]bool{}
	p.suspended = false
	p.resets++
	return nil
}

// Suspend places the simulated controller in suspend.
func (p *Port) Suspend() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.suspended = true
	return nil
}

// SetStalled sets or clears an endpoint stall condition.
func (p *Port) SetStalled(addr hal.EndpointAddress, stalled bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.stalled[endpointIndex(addr)] = stalled
}

// IsStalled reports an endpoint stall condition.
func (p *Port) IsStalled(addr hal.EndpointAddress) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.stalled[endpointIndex(addr)]
}

// Setup returns the SETUP packet stream.
func (p *Port) Setup() <-chan hal.SetupPacket {
	return p.setup
}

// DataOut reads the pending data-stage payload into buf.
func (p *Port) DataOut(ctx context.Context, buf []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case payload := <-p.dataOut:
		return copy(buf, payload), nil
	}
}

// AcceptIn delivers an IN reply to the host and completes the transfer.
func (p *Port) AcceptIn(ctx context.Context, data []byte) error {
	reply := make([]byte, len(data))
	copy(reply, data)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.results <- outcome{data: reply}:
		return nil
	}
}

// Accept completes the transfer with a zero-length acknowledgement.
func (p *Port) Accept() {
	p.results <- outcome{}
}

// Reject stalls the transfer.
func (p *Port) Reject() {
	p.results <- outcome{rejected: true}
}

// Host-side API.

// SignalReset delivers a bus reset event to the device.
func (p *Port) SignalReset() {
	p.events <- hal.EventReset
}

// SignalResume delivers a resume event to the device.
func (p *Port) SignalResume() {
	p.events <- hal.EventResume
}

// SignalSuspend delivers a suspend event to the device.
func (p *Port) SignalSuspend() {
	p.events <- hal.EventSuspend
}

// ControlIn performs a control IN transfer as the host. It returns the
// reply payload, or pkg.ErrStall if the device rejected the request.
func (p *Port) ControlIn(ctx context.Context, setup hal.SetupPacket) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p.setup <- setup:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-p.results:
		if res.rejected {
			return nil, pkg.ErrStall
		}
		return res.data, nil
	}
}

// ControlOut performs a control OUT transfer as the host, supplying data
// as the data stage when setup.Length is nonzero. It returns
// pkg.ErrStall if the device rejected the request.
func (p *Port) ControlOut(ctx context.Context, setup hal.SetupPacket, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.setup <- setup:
	}
	if setup.Length > 0 {
		payload := make([]byte, len(data))
		copy(payload, data)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p.dataOut <- payload:
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-p.results:
		if res.rejected {
			return pkg.ErrStall
		}
		return nil
	}
}

// ResetCount returns how many times the device reinitialized the
// controller in response to bus resets.
func (p *Port) ResetCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.resets
}

// IsSuspended reports whether the device placed the controller in
// suspend.
func (p *Port) IsSuspended() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.suspended
}
