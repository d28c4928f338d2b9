package device

// RequestStatus is the outcome a class reports for a control request.
type RequestStatus uint8

// Request arbitration outcomes.
const (
	// Unhandled means the request is not addressed to this class; the
	// next class, or the standard request table, is consulted.
	Unhandled RequestStatus = iota

	// Accepted means the class handled the request. Dispatch stops and
	// the transfer completes successfully.
	Accepted

	// Rejected means the class claims the request but cannot service it.
	// Dispatch stops and the control endpoint stalls.
	Rejected
)

// String returns a human-readable status name.
func (s RequestStatus) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "unhandled"
	}
}

// Class is the capability contract a pluggable function unit implements.
//
// Up to MaxClassCount classes register with a device; registration order
// is dispatch priority and is never reordered. The engine lends each
// handler temporary exclusive access, one class at a time, so
// implementations need no internal locking against the engine.
type Class interface {
	// Reset notifies the class of a bus reset. This is the only hook for
	// reinitializing internal protocol state.
	Reset()

	// ControlOut offers a control OUT request and its data-stage payload
	// (empty when wLength is zero, truncated to MaxControlData bytes).
	// The payload slice is only valid for the duration of the call.
	ControlOut(req Request, data []byte) RequestStatus

	// ControlIn offers a control IN request with a scratch output buffer.
	// When the class accepts, it writes its reply into buf and returns
	// the reply length; the engine truncates to the host's requested
	// length before transmission.
	ControlIn(req Request, buf []byte) (int, RequestStatus)
}
