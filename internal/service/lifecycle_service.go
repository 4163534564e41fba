package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/models"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/notify"
	cmap "github.com/orcaman/concurrent-map/v2"
)

var (
	// ErrInvalidTransition is returned for precondition failures such as
	// reactivating a non-suspended service. A reported no-op, not a crash.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrProvisionFailed is returned when a deployment attempt failed and
	// the service moved to suspended. Payment was already captured, so
	// callers must not present this as a payment failure.
	ErrProvisionFailed = errors.New("provisioning failed")
)

// LifecycleService drives a service through
// pending -> active -> suspended -> terminated, invoking the provisioning
// engine and the hypervisor for the corresponding guest actions.
//
// Transitions for one service are serialized through a per-service mutex:
// a service is never concurrently provisioned and suspended. Different
// services proceed independently.
type LifecycleService struct {
	services   ServiceStore
	events     EventStore
	engine     Provisioner
	hv         Hypervisor
	notifier   notify.Dispatcher
	templateID int

	locks cmap.ConcurrentMap[string, *sync.Mutex]
	now   func() time.Time
}

func NewLifecycleService(
	services ServiceStore,
	events EventStore,
	engine Provisioner,
	hv Hypervisor,
	notifier notify.Dispatcher,
	templateID int,
) *LifecycleService {
	return &LifecycleService{
		services:   services,
		events:     events,
		engine:     engine,
		hv:         hv,
		notifier:   notifier,
		templateID: templateID,
		locks:      cmap.New[*sync.Mutex](),
		now:        time.Now,
	}
}

// lockFor returns the mutex serializing transitions for one service ID.
func (s *LifecycleService) lockFor(serviceID string) *sync.Mutex {
	mu := &sync.Mutex{}
	if !s.locks.SetIfAbsent(serviceID, mu) {
		mu, _ = s.locks.Get(serviceID)
	}
	return mu
}

// Activate provisions a pending service, or restarts a suspended one that
// already has a guest. A deployment failure routes the service to
// suspended, never back to pending, so it surfaces as an actionable state
// with payment already captured.
func (s *LifecycleService) Activate(ctx context.Context, serviceID string) error {
	mu := s.lockFor(serviceID)
	mu.Lock()
	defer mu.Unlock()

	svc, err := s.services.GetByID(ctx, serviceID)
	if err != nil {
		return fmt.Errorf("load service %s: %w", serviceID, err)
	}

	switch svc.Status {
	case models.StatusActive:
		return fmt.Errorf("%w: service %s is already active", ErrInvalidTransition, serviceID)
	case models.StatusTerminated:
		return fmt.Errorf("%w: service %s is terminated", ErrInvalidTransition, serviceID)
	}

	if svc.Status == models.StatusSuspended && svc.HasGuest() {
		return s.reactivate(ctx, svc)
	}

	return s.provisionFresh(ctx, svc)
}

func (s *LifecycleService) provisionFresh(ctx context.Context, svc *models.Service) error {
	guestID, err := s.hv.NextGuestID(ctx)
	if err != nil {
		// Only a not-configured hypervisor fails here; the counter
		// itself has a fallback. Permanent, so surface it directly.
		return fmt.Errorf("allocate guest ID: %w", err)
	}

	password := GeneratePassword(16)
	spec := &models.ProvisionSpec{
		GuestID:      guestID,
		Name:         fmt.Sprintf("vm-%s-%d", svc.UserName, guestID),
		Cores:        svc.CPUCores,
		MemoryMB:     svc.RAMMB,
		DiskGB:       svc.DiskGB,
		TemplateID:   s.templateID,
		RootPassword: password,
	}

	s.logEvent(ctx, svc.ID, "provision_started", svc.Status,
		fmt.Sprintf("Deploying guest %d for plan %s", guestID, svc.PlanName))

	result := s.engine.Provision(ctx, spec)
	now := s.now()

	if !result.OK {
		svc.Status = models.StatusSuspended
		svc.SuspendedAt = &now
		if err := s.services.Update(ctx, svc); err != nil {
			return fmt.Errorf("persist failed deployment for %s: %w", svc.ID, err)
		}
		s.logEvent(ctx, svc.ID, "provision_failed", models.StatusSuspended, result.Message)
		s.dispatch(ctx, notify.KindDeployFailed, svc, nil)
		return fmt.Errorf("%w: %s", ErrProvisionFailed, result.Message)
	}

	svc.GuestID = &result.GuestID
	if result.IPAddress != "" {
		svc.IPAddress = &result.IPAddress
	}
	svc.Username = "root"
	svc.Password = password
	svc.Status = models.StatusActive
	svc.ActivatedAt = &now
	svc.SuspendedAt = nil
	svc.NextDueDate = svc.NextDueFrom(now)

	if err := s.services.Update(ctx, svc); err != nil {
		return fmt.Errorf("persist activation for %s: %w", svc.ID, err)
	}

	s.logEvent(ctx, svc.ID, "provision_succeeded", models.StatusActive,
		fmt.Sprintf("Guest %d active, ip=%s", result.GuestID, orPending(result.IPAddress)))
	s.dispatch(ctx, notify.KindCredentialsReady, svc, nil)

	log.Printf("[Lifecycle] Service %s activated (guest %d)", svc.ID, result.GuestID)
	return nil
}

// reactivate restarts the existing guest of a suspended service. The start
// is best-effort, matching the payment flow: the user has paid, so the
// service record goes active and operators chase any stuck guest through
// the event log.
func (s *LifecycleService) reactivate(ctx context.Context, svc *models.Service) error {
	if _, err := s.hv.Start(ctx, *svc.GuestID); err != nil {
		log.Printf("[Lifecycle] Start of guest %d during reactivation failed: %v", *svc.GuestID, err)
		s.logEvent(ctx, svc.ID, "reactivate_start_failed", svc.Status, err.Error())
	}

	now := s.now()
	svc.Status = models.StatusActive
	svc.SuspendedAt = nil
	svc.NextDueDate = svc.NextDueFrom(now)

	if err := s.services.Update(ctx, svc); err != nil {
		return fmt.Errorf("persist reactivation for %s: %w", svc.ID, err)
	}

	s.logEvent(ctx, svc.ID, "reactivated", models.StatusActive,
		fmt.Sprintf("Guest %d restarted after payment", *svc.GuestID))

	log.Printf("[Lifecycle] Service %s reactivated (guest %d)", svc.ID, *svc.GuestID)
	return nil
}

// Suspend stops the guest and marks the service suspended.
func (s *LifecycleService) Suspend(ctx context.Context, serviceID string) error {
	mu := s.lockFor(serviceID)
	mu.Lock()
	defer mu.Unlock()

	svc, err := s.services.GetByID(ctx, serviceID)
	if err != nil {
		return fmt.Errorf("load service %s: %w", serviceID, err)
	}

	if svc.Status != models.StatusActive {
		return fmt.Errorf("%w: cannot suspend service %s in state %s", ErrInvalidTransition, serviceID, svc.Status)
	}

	if svc.HasGuest() {
		if err := s.hv.Stop(ctx, *svc.GuestID); err != nil {
			log.Printf("[Lifecycle] Best-effort stop of guest %d failed: %v", *svc.GuestID, err)
		}
	}

	now := s.now()
	svc.Status = models.StatusSuspended
	svc.SuspendedAt = &now

	if err := s.services.Update(ctx, svc); err != nil {
		return fmt.Errorf("persist suspension for %s: %w", serviceID, err)
	}

	s.logEvent(ctx, svc.ID, "suspended", models.StatusSuspended, "Suspended for non-payment")
	s.dispatch(ctx, notify.KindSuspended, svc, nil)

	log.Printf("[Lifecycle] Service %s suspended", svc.ID)
	return nil
}

// Terminate deletes the guest and marks the service terminated. The guest
// fields are cleared; the service row itself is never deleted.
func (s *LifecycleService) Terminate(ctx context.Context, serviceID string) error {
	mu := s.lockFor(serviceID)
	mu.Lock()
	defer mu.Unlock()

	svc, err := s.services.GetByID(ctx, serviceID)
	if err != nil {
		return fmt.Errorf("load service %s: %w", serviceID, err)
	}

	if svc.Status == models.StatusTerminated {
		return fmt.Errorf("%w: service %s is already terminated", ErrInvalidTransition, serviceID)
	}

	if svc.HasGuest() {
		if err := s.hv.Delete(ctx, *svc.GuestID); err != nil {
			log.Printf("[Lifecycle] Best-effort delete of guest %d failed: %v", *svc.GuestID, err)
		}
	}

	now := s.now()
	svc.Status = models.StatusTerminated
	svc.TerminatedAt = &now
	svc.GuestID = nil
	svc.IPAddress = nil
	svc.Password = ""

	if err := s.services.Update(ctx, svc); err != nil {
		return fmt.Errorf("persist termination for %s: %w", serviceID, err)
	}

	s.logEvent(ctx, svc.ID, "terminated", models.StatusTerminated, "Service terminated")

	log.Printf("[Lifecycle] Service %s terminated", svc.ID)
	return nil
}

// Renew extends the due date of an active service after a renewal payment.
func (s *LifecycleService) Renew(ctx context.Context, serviceID string) error {
	mu := s.lockFor(serviceID)
	mu.Lock()
	defer mu.Unlock()

	svc, err := s.services.GetByID(ctx, serviceID)
	if err != nil {
		return fmt.Errorf("load service %s: %w", serviceID, err)
	}

	if svc.Status != models.StatusActive {
		return fmt.Errorf("%w: cannot renew service %s in state %s", ErrInvalidTransition, serviceID, svc.Status)
	}

	svc.NextDueDate = svc.NextDueFrom(s.now())
	if err := s.services.Update(ctx, svc); err != nil {
		return fmt.Errorf("persist renewal for %s: %w", serviceID, err)
	}

	s.logEvent(ctx, svc.ID, "renewed", models.StatusActive,
		fmt.Sprintf("Next due date extended to %s", svc.NextDueDate.Format("2006-01-02")))
	return nil
}

// HandlePaidInvoice routes a payment confirmation to the right transition:
// deploy a pending service, reactivate a suspended one, or extend the due
// date of an active one.
func (s *LifecycleService) HandlePaidInvoice(ctx context.Context, invoice *models.Invoice) error {
	if invoice.ServiceID == nil {
		return nil
	}

	svc, err := s.services.GetByID(ctx, *invoice.ServiceID)
	if err != nil {
		return fmt.Errorf("load service for invoice %s: %w", invoice.InvoiceNumber, err)
	}

	switch svc.Status {
	case models.StatusPending, models.StatusSuspended:
		return s.Activate(ctx, svc.ID)
	case models.StatusActive:
		return s.Renew(ctx, svc.ID)
	default:
		log.Printf("[Lifecycle] Ignoring payment for %s service %s", svc.Status, svc.ID)
		return nil
	}
}

// GetServiceStatus builds the user-facing view of a service, including the
// live guest power state when one exists.
func (s *LifecycleService) GetServiceStatus(ctx context.Context, serviceID string) (*models.ServiceStatusResponse, error) {
	svc, err := s.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	return s.toStatusResponse(ctx, svc), nil
}

// GetUserServices lists the user's services.
func (s *LifecycleService) GetUserServices(ctx context.Context, userID string) (*models.ServiceListResponse, error) {
	services, err := s.services.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := &models.ServiceListResponse{}
	for _, svc := range services {
		resp.Services = append(resp.Services, s.toStatusResponse(ctx, svc))
	}
	return resp, nil
}

func (s *LifecycleService) toStatusResponse(ctx context.Context, svc *models.Service) *models.ServiceStatusResponse {
	resp := &models.ServiceStatusResponse{
		ServiceID:    svc.ID,
		PlanName:     svc.PlanName,
		Status:       svc.Status,
		BillingCycle: svc.BillingCycle,
		Price:        svc.Price,
		NextDueDate:  svc.NextDueDate.Format(time.RFC3339),
		IPAddress:    svc.IPAddress,
		CPUCores:     svc.CPUCores,
		RAMMB:        svc.RAMMB,
		DiskGB:       svc.DiskGB,
		BandwidthGB:  svc.BandwidthGB,
		CreatedAt:    svc.CreatedAt.Format(time.RFC3339),
		ActivatedAt:  models.FormatTimePtr(svc.ActivatedAt),
		SuspendedAt:  models.FormatTimePtr(svc.SuspendedAt),
	}

	if svc.Status == models.StatusActive {
		resp.Username = svc.Username
		resp.Password = svc.Password
	}

	if svc.HasGuest() {
		status, err := s.hv.Status(ctx, *svc.GuestID)
		if err != nil {
			log.Printf("[Lifecycle] Status query for guest %d failed: %v", *svc.GuestID, err)
		}
		resp.GuestStatus = status
	}

	return resp
}

// dispatch sends a notification without letting delivery failures affect
// the transition.
func (s *LifecycleService) dispatch(ctx context.Context, kind string, svc *models.Service, extra map[string]string) {
	if err := s.notifier.Send(ctx, kind, svc, extra); err != nil {
		log.Printf("[Lifecycle] Failed to send %s notification for service %s: %v", kind, svc.ID, err)
	}
}

func (s *LifecycleService) logEvent(ctx context.Context, serviceID, action, status, message string) {
	if err := s.events.LogAction(ctx, serviceID, action, status, message); err != nil {
		log.Printf("[Lifecycle] Failed to record %s event for service %s: %v", action, serviceID, err)
	}
}

func orPending(ip string) string {
	if ip == "" {
		return "pending"
	}
	return ip
}
