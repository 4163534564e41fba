package models

import (
	"time"
)

// Service status constants
const (
	StatusPending    = "pending"
	StatusActive     = "active"
	StatusSuspended  = "suspended"
	StatusTerminated = "terminated"
)

// Billing cycle constants
const (
	CycleMonthly   = "monthly"
	CycleQuarterly = "quarterly"
	CycleAnnually  = "annually"
)

// Service represents a hosted service instance owned by a user.
// The guest-identifying fields (GuestID, IPAddress, Password) stay unset
// while the service is pending and are cleared again on termination.
type Service struct {
	ID           string
	UserID       string
	PlanID       string
	Status       string
	BillingCycle string
	Price        float64
	NextDueDate  time.Time
	Domain       string
	GuestID      *int
	IPAddress    *string
	Username     string
	Password     string
	CreatedAt    time.Time
	ActivatedAt  *time.Time
	SuspendedAt  *time.Time
	TerminatedAt *time.Time

	// Joined from users / plans, read-only
	UserName    string
	UserEmail   string
	PlanName    string
	CPUCores    int
	RAMMB       int
	DiskGB      int
	BandwidthGB int
}

// CycleDuration returns the billing period length for the service's cycle.
func CycleDuration(cycle string) time.Duration {
	switch cycle {
	case CycleQuarterly:
		return 90 * 24 * time.Hour
	case CycleAnnually:
		return 365 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// NextDueFrom computes the next due date for the service's billing cycle
// relative to the given moment.
func (s *Service) NextDueFrom(now time.Time) time.Time {
	return now.Add(CycleDuration(s.BillingCycle))
}

// HasGuest reports whether a hypervisor guest has been provisioned.
func (s *Service) HasGuest() bool {
	return s.GuestID != nil && *s.GuestID > 0
}
