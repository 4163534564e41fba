package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/models"
)

// bootDisk is the disk every platform image boots from.
const bootDisk = "scsi0"

// EngineTimeouts are the per-step budgets for one provisioning attempt.
type EngineTimeouts struct {
	Clone       time.Duration
	Lock        time.Duration
	Resize      time.Duration
	Start       time.Duration
	IPDiscovery time.Duration
	Cleanup     time.Duration
}

// DefaultEngineTimeouts reflect observed Proxmox clone/start behavior on
// the production cluster.
func DefaultEngineTimeouts() EngineTimeouts {
	return EngineTimeouts{
		Clone:       300 * time.Second,
		Lock:        60 * time.Second,
		Resize:      120 * time.Second,
		Start:       120 * time.Second,
		IPDiscovery: 120 * time.Second,
		Cleanup:     30 * time.Second,
	}
}

// ProvisionEngine turns a ProvisionSpec into a running, reachable guest.
// The clone path is preferred when a template is configured: it boots a
// pre-baked OS image but requires waiting out the transient locks the
// hypervisor holds during clone and resize. The scratch path has no such
// transient state.
type ProvisionEngine struct {
	hv       Hypervisor
	timeouts EngineTimeouts
}

func NewProvisionEngine(hv Hypervisor) *ProvisionEngine {
	return &ProvisionEngine{
		hv:       hv,
		timeouts: DefaultEngineTimeouts(),
	}
}

// NewProvisionEngineWithTimeouts is used by tests and by operators tuning
// step budgets for slow storage.
func NewProvisionEngineWithTimeouts(hv Hypervisor, timeouts EngineTimeouts) *ProvisionEngine {
	return &ProvisionEngine{hv: hv, timeouts: timeouts}
}

// Provision runs one provisioning attempt. It never returns an error: the
// result carries the outcome, and any partially created guest is cleaned
// up best-effort before a failure result is returned.
func (e *ProvisionEngine) Provision(ctx context.Context, spec *models.ProvisionSpec) *models.ProvisionResult {
	log.Printf("[Engine] Provisioning guest %d (%s): cores=%d memory=%dMB disk=%dGB template=%d",
		spec.GuestID, spec.Name, spec.Cores, spec.MemoryMB, spec.DiskGB, spec.TemplateID)

	if spec.TemplateID > 0 {
		return e.provisionFromTemplate(ctx, spec)
	}
	return e.provisionFromScratch(ctx, spec)
}

func (e *ProvisionEngine) provisionFromTemplate(ctx context.Context, spec *models.ProvisionSpec) *models.ProvisionResult {
	taskID, err := e.hv.CloneGuest(ctx, spec.TemplateID, spec.GuestID, spec.Name)
	if err != nil {
		return e.cleanupAndFail(spec, fmt.Errorf("clone template %d: %w", spec.TemplateID, err))
	}
	if err := e.hv.PollTask(ctx, taskID, e.timeouts.Clone); err != nil {
		return e.cleanupAndFail(spec, fmt.Errorf("wait for clone: %w", err))
	}

	// The clone leaves the guest locked while the hypervisor finishes
	// housekeeping. A lock-wait timeout is soft: locks are often released
	// between the check and the next operation.
	e.hv.WaitForLockRelease(ctx, spec.GuestID, e.timeouts.Lock)

	currentGB, err := e.hv.GuestDiskSizeGB(ctx, spec.GuestID, bootDisk)
	if err != nil {
		return e.cleanupAndFail(spec, fmt.Errorf("read disk size: %w", err))
	}
	if spec.DiskGB > currentGB {
		delta := spec.DiskGB - currentGB
		resizeTask, err := e.hv.ResizeDisk(ctx, spec.GuestID, bootDisk, fmt.Sprintf("+%dG", delta))
		if err != nil {
			return e.cleanupAndFail(spec, fmt.Errorf("resize disk by %dG: %w", delta, err))
		}
		if resizeTask != "" {
			if err := e.hv.PollTask(ctx, resizeTask, e.timeouts.Resize); err != nil {
				return e.cleanupAndFail(spec, fmt.Errorf("wait for resize: %w", err))
			}
		}
	} else if spec.DiskGB < currentGB {
		// Shrinking is unsupported and unsafe; the guest keeps the
		// larger template disk.
		log.Printf("[Engine] Requested disk %dGB below template disk %dGB for guest %d, keeping current size",
			spec.DiskGB, currentGB, spec.GuestID)
	}

	e.hv.WaitForLockRelease(ctx, spec.GuestID, e.timeouts.Lock)

	if err := e.hv.Reconfigure(ctx, spec.GuestID, spec.Cores, spec.MemoryMB, "root", spec.RootPassword); err != nil {
		return e.cleanupAndFail(spec, fmt.Errorf("reconfigure: %w", err))
	}

	e.hv.WaitForLockRelease(ctx, spec.GuestID, e.timeouts.Lock)

	if err := e.startAndWait(ctx, spec.GuestID); err != nil {
		return e.cleanupAndFail(spec, err)
	}

	return e.finish(ctx, spec)
}

func (e *ProvisionEngine) provisionFromScratch(ctx context.Context, spec *models.ProvisionSpec) *models.ProvisionResult {
	storage := e.hv.ListStorage(ctx)[0]

	taskID, err := e.hv.CreateGuest(ctx, spec, storage)
	if err != nil {
		return e.cleanupAndFail(spec, fmt.Errorf("create guest: %w", err))
	}
	if err := e.hv.PollTask(ctx, taskID, e.timeouts.Clone); err != nil {
		return e.cleanupAndFail(spec, fmt.Errorf("wait for create: %w", err))
	}

	if err := e.startAndWait(ctx, spec.GuestID); err != nil {
		return e.cleanupAndFail(spec, err)
	}

	return e.finish(ctx, spec)
}

func (e *ProvisionEngine) startAndWait(ctx context.Context, guestID int) error {
	taskID, err := e.hv.Start(ctx, guestID)
	if err != nil {
		return fmt.Errorf("start guest: %w", err)
	}
	if err := e.hv.PollTask(ctx, taskID, e.timeouts.Start); err != nil {
		return fmt.Errorf("wait for start: %w", err)
	}
	return nil
}

func (e *ProvisionEngine) finish(ctx context.Context, spec *models.ProvisionSpec) *models.ProvisionResult {
	ip := e.hv.DiscoverIPv4(ctx, spec.GuestID, e.timeouts.IPDiscovery)
	if ip == "" {
		log.Printf("[Engine] Guest %d provisioned, IP assignment still pending", spec.GuestID)
	} else {
		log.Printf("[Engine] Guest %d provisioned at %s", spec.GuestID, ip)
	}

	return &models.ProvisionResult{
		OK:        true,
		GuestID:   spec.GuestID,
		IPAddress: ip,
	}
}

// cleanupAndFail tears down whatever the failed attempt created. Cleanup
// errors are logged and swallowed: the hypervisor-side task the attempt
// was waiting on may still finish, and delete tolerates a guest that never
// came to exist. A fresh context is used so a cancelled attempt still gets
// its cleanup.
func (e *ProvisionEngine) cleanupAndFail(spec *models.ProvisionSpec, cause error) *models.ProvisionResult {
	log.Printf("[Engine] Provisioning guest %d failed: %v", spec.GuestID, cause)

	ctx, cancel := context.WithTimeout(context.Background(), e.timeouts.Cleanup)
	defer cancel()

	if err := e.hv.Stop(ctx, spec.GuestID); err != nil {
		log.Printf("[Engine] Cleanup stop of guest %d failed: %v", spec.GuestID, err)
	}
	if err := e.hv.Delete(ctx, spec.GuestID); err != nil {
		log.Printf("[Engine] Cleanup delete of guest %d failed: %v", spec.GuestID, err)
	}

	return &models.ProvisionResult{
		OK:      false,
		GuestID: spec.GuestID,
		Message: cause.Error(),
	}
}
