// Package connectivity exposes the connection manager to collaborators
// outside the core, such as the audio player and the file manager.
package connectivity

import "netmgr/internal/status"

// Reporter answers read-only connectivity queries. Safe from any goroutine.
type Reporter interface {
	IsConnected() bool
	Describe() string
}

// Controller is the full surface offered to request handlers. Every method
// either reads published state or posts a request for the control loop.
type Controller interface {
	Reporter
	InPortal() bool
	SubmitCredentials(name, passphrase string) error
	RequestPortal()
	RequestForget()
}

// IdleStatus returns the indicator a collaborator restores once its own
// activity (playback, upload) is over.
func IdleStatus(r Reporter) status.Kind {
	if r.IsConnected() {
		return status.Connected
	}
	return status.PortalActive
}

// RestoreIdle sets the idle indicator on sink. It is the exit hook for the
// audio collaborator once playback ends; nothing in this module calls it.
func RestoreIdle(r Reporter, sink status.Sink) {
	sink.SetStatus(IdleStatus(r))
}
