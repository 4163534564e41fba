package service

import (
	"context"
	"time"

	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/models"
)

// Hypervisor is the control-plane surface the orchestrator drives. It is
// implemented by client.ProxmoxClient and kept narrow so tests can swap in
// a fake cluster.
type Hypervisor interface {
	NextGuestID(ctx context.Context) (int, error)
	ListStorage(ctx context.Context) []string
	CloneGuest(ctx context.Context, templateID, newID int, name string) (string, error)
	CreateGuest(ctx context.Context, spec *models.ProvisionSpec, storage string) (string, error)
	ResizeDisk(ctx context.Context, guestID int, disk, size string) (string, error)
	Reconfigure(ctx context.Context, guestID, cores, memoryMB int, ciUser, ciPassword string) error
	Start(ctx context.Context, guestID int) (string, error)
	Stop(ctx context.Context, guestID int) error
	Delete(ctx context.Context, guestID int) error
	PollTask(ctx context.Context, taskID string, timeout time.Duration) error
	WaitForLockRelease(ctx context.Context, guestID int, timeout time.Duration) bool
	GuestDiskSizeGB(ctx context.Context, guestID int, disk string) (int, error)
	DiscoverIPv4(ctx context.Context, guestID int, timeout time.Duration) string
	Status(ctx context.Context, guestID int) (string, error)
}

// ServiceStore is the persistence surface for service rows, implemented by
// repository.ServiceRepository.
type ServiceStore interface {
	GetByID(ctx context.Context, id string) (*models.Service, error)
	GetByUserID(ctx context.Context, userID string) ([]*models.Service, error)
	Update(ctx context.Context, svc *models.Service) error
	ListDueBefore(ctx context.Context, cutoff time.Time) ([]*models.Service, error)
	ListSuspendedBefore(ctx context.Context, cutoff time.Time) ([]*models.Service, error)
}

// InvoiceStore is the billing collaborator surface used by the renewal
// sweep, implemented by repository.InvoiceRepository.
type InvoiceStore interface {
	CreateRenewal(ctx context.Context, svc *models.Service) (*models.Invoice, error)
	// OpenRenewal returns the service's unpaid renewal invoice, or nil
	// when there is none.
	OpenRenewal(ctx context.Context, serviceID string) (*models.Invoice, error)
}

// EventStore records the lifecycle audit trail, implemented by
// repository.EventRepository.
type EventStore interface {
	LogAction(ctx context.Context, serviceID, action, status, message string) error
}

// Provisioner turns a spec into a running guest, implemented by
// ProvisionEngine.
type Provisioner interface {
	Provision(ctx context.Context, spec *models.ProvisionSpec) *models.ProvisionResult
}
