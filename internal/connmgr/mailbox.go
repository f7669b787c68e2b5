package connmgr

import (
	"sync/atomic"

	"netmgr/internal/credstore"
)

// RequestKind selects what a pending request asks the control loop to do
type RequestKind uint8

const (
	RequestNone RequestKind = iota
	// RequestApply persists Credentials and connects to them
	RequestApply
	// RequestPortal forces portal mode
	RequestPortal
	// RequestForget clears credentials and enters portal mode
	RequestForget
)

func (k RequestKind) String() string {
	switch k {
	case RequestApply:
		return "apply"
	case RequestPortal:
		return "portal"
	case RequestForget:
		return "forget"
	default:
		return "none"
	}
}

// Request is a command handed from request handlers to the control loop
type Request struct {
	Kind        RequestKind
	Credentials credstore.Credentials
}

// Mailbox is a single-slot, last-write-wins handoff. Any goroutine may
// Publish; only the control loop may Take. A request published over an
// unconsumed one replaces it and the older request is lost.
type Mailbox struct {
	slot atomic.Pointer[Request]
}

// Publish stores r and reports whether it displaced an unconsumed request
func (m *Mailbox) Publish(r Request) (replaced bool) {
	return m.slot.Swap(&r) != nil
}

// Take removes and returns the pending request, if any
func (m *Mailbox) Take() (Request, bool) {
	r := m.slot.Swap(nil)
	if r == nil {
		return Request{}, false
	}
	return *r, true
}

// Pending reports whether a request is waiting
func (m *Mailbox) Pending() bool {
	return m.slot.Load() != nil
}
