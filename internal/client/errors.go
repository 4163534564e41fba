package client

import "errors"

// Coarse error kinds surfaced by the hypervisor client. Callers branch on
// these with errors.Is, never on transport detail.
var (
	// ErrNotConfigured means no hypervisor endpoint or credentials were
	// supplied. Permanent, callers must not retry.
	ErrNotConfigured = errors.New("hypervisor not configured")

	// ErrGuestNotFound means the guest (or task) is unknown to the
	// hypervisor. Delete-style operations treat this as success.
	ErrGuestNotFound = errors.New("guest not found")

	// ErrTaskTimeout means a hypervisor task did not reach a terminal
	// state within the step budget. The remote task may still complete.
	ErrTaskTimeout = errors.New("hypervisor task timed out")

	// ErrRemoteRejected means the hypervisor actively refused the
	// operation. Terminal for the current attempt.
	ErrRemoteRejected = errors.New("hypervisor rejected operation")
)
