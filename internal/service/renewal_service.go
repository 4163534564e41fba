package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/models"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/notify"
)

// Services suspended longer than this are terminated by the 6-hourly sweep.
const suspensionGrace = 7 * 24 * time.Hour

// renewalWindow is how far ahead of the due date the daily sweep invoices.
const renewalWindow = 24 * time.Hour

// LifecycleManager is the slice of LifecycleService the scheduler needs.
type LifecycleManager interface {
	Suspend(ctx context.Context, serviceID string) error
	Terminate(ctx context.Context, serviceID string) error
}

// RenewalService runs the periodic billing sweeps. Both sweeps are
// externally triggered (cron hits the internal API); the service itself
// keeps no timer. Each matched service is processed independently: one
// failure is logged and counted, never aborts the batch.
type RenewalService struct {
	services  ServiceStore
	invoices  InvoiceStore
	lifecycle LifecycleManager
	notifier  notify.Dispatcher

	now func() time.Time
}

func NewRenewalService(
	services ServiceStore,
	invoices InvoiceStore,
	lifecycle LifecycleManager,
	notifier notify.Dispatcher,
) *RenewalService {
	return &RenewalService{
		services:  services,
		invoices:  invoices,
		lifecycle: lifecycle,
		notifier:  notifier,
		now:       time.Now,
	}
}

// RunRenewalSweep invoices every active service due within 24 hours and
// sends the renewal reminder. Services already past due are additionally
// suspended.
func (s *RenewalService) RunRenewalSweep(ctx context.Context) (*models.SweepResult, error) {
	now := s.now()

	services, err := s.services.ListDueBefore(ctx, now.Add(renewalWindow))
	if err != nil {
		return nil, fmt.Errorf("list due services: %w", err)
	}

	result := &models.SweepResult{Matched: len(services)}
	log.Printf("[Renewal] Daily sweep: %d services due before %s", len(services), now.Add(renewalWindow).Format(time.RFC3339))

	for _, svc := range services {
		s.processDueService(ctx, svc, now, result)
	}

	log.Printf("[Renewal] Daily sweep done: invoiced=%d notified=%d suspended=%d failed=%d",
		result.Invoiced, result.Notified, result.Suspended, result.Failed)
	return result, nil
}

func (s *RenewalService) processDueService(ctx context.Context, svc *models.Service, now time.Time, result *models.SweepResult) {
	invoice, err := s.invoices.OpenRenewal(ctx, svc.ID)
	if err != nil {
		log.Printf("[Renewal] Check open invoices for service %s failed: %v", svc.ID, err)
		result.Failed++
		return
	}

	if invoice == nil {
		invoice, err = s.invoices.CreateRenewal(ctx, svc)
		if err != nil {
			log.Printf("[Renewal] Create invoice for service %s failed: %v", svc.ID, err)
			result.Failed++
			return
		}
		result.Invoiced++
	}

	// The reminder goes out on every sweep until the invoice is paid, not
	// only when the invoice is first created.
	err = s.notifier.Send(ctx, notify.KindRenewalReminder, svc, map[string]string{
		"invoice_number": invoice.InvoiceNumber,
		"amount":         fmt.Sprintf("%.2f", invoice.Amount),
		"due_date":       invoice.DueDate.Format("2006-01-02"),
	})
	if err != nil {
		log.Printf("[Renewal] Reminder for service %s failed: %v", svc.ID, err)
	} else {
		result.Notified++
	}

	if svc.NextDueDate.Before(now) {
		if err := s.lifecycle.Suspend(ctx, svc.ID); err != nil {
			log.Printf("[Renewal] Suspend of overdue service %s failed: %v", svc.ID, err)
			result.Failed++
			return
		}
		result.Suspended++
	}
}

// RunTerminationSweep terminates every service that has sat suspended for
// longer than the grace period.
func (s *RenewalService) RunTerminationSweep(ctx context.Context) (*models.SweepResult, error) {
	cutoff := s.now().Add(-suspensionGrace)

	services, err := s.services.ListSuspendedBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list suspended services: %w", err)
	}

	result := &models.SweepResult{Matched: len(services)}
	log.Printf("[Renewal] Termination sweep: %d services suspended since before %s", len(services), cutoff.Format(time.RFC3339))

	for _, svc := range services {
		if err := s.lifecycle.Terminate(ctx, svc.ID); err != nil {
			log.Printf("[Renewal] Terminate of service %s failed: %v", svc.ID, err)
			result.Failed++
			continue
		}
		result.Terminated++
	}

	log.Printf("[Renewal] Termination sweep done: terminated=%d failed=%d", result.Terminated, result.Failed)
	return result, nil
}
