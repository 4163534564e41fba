package models

// ProvisionSpec describes a single provisioning attempt. It is built fresh
// per attempt and never persisted.
type ProvisionSpec struct {
	GuestID      int
	Name         string
	Cores        int
	MemoryMB     int
	DiskGB       int
	TemplateID   int    // 0 means create from scratch instead of cloning
	RootPassword string // injected via cloud-init when set
}

// ProvisionResult is the outcome of a provisioning attempt, returned by
// value and consumed immediately by the lifecycle layer.
type ProvisionResult struct {
	OK        bool
	GuestID   int
	IPAddress string // empty when discovery timed out (IP pending)
	Message   string // causal error message on failure
}

// GuestStatus values reported by the hypervisor.
const (
	GuestRunning = "running"
	GuestStopped = "stopped"
	GuestUnknown = "unknown"
)
