package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/models"
)

// fakeHypervisor is a scriptable in-memory stand-in for the Proxmox
// client. Counters are guarded so concurrency tests can assert on them.
type fakeHypervisor struct {
	mu sync.Mutex

	nextID      int
	nextIDErr   error
	cloneErr    error
	createErr   error
	resizeErr   error
	reconfigErr error
	startErr    error
	stopErr     error
	deleteErr   error
	diskSizeGB  int
	diskSizeErr error
	pollErrs    map[string]error
	ip          string
	guestStatus string

	cloneCalls    int
	createCalls   int
	resizeCalls   int
	resizeSizes   []string
	reconfigCalls int
	reconfigCores int
	reconfigMemMB int
	reconfigUser  string
	reconfigPass  string
	startCalls    int
	stopCalls     int
	deleteCalls   int
}

func newFakeHypervisor() *fakeHypervisor {
	return &fakeHypervisor{
		nextID:      100,
		diskSizeGB:  32,
		pollErrs:    map[string]error{},
		ip:          "10.0.0.50",
		guestStatus: models.GuestRunning,
	}
}

func (f *fakeHypervisor) NextGuestID(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextIDErr != nil {
		return 0, f.nextIDErr
	}
	id := f.nextID
	f.nextID++
	return id, nil
}

func (f *fakeHypervisor) ListStorage(ctx context.Context) []string {
	return []string{"local-lvm"}
}

func (f *fakeHypervisor) CloneGuest(ctx context.Context, templateID, newID int, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cloneCalls++
	if f.cloneErr != nil {
		return "", f.cloneErr
	}
	return "UPID:clone", nil
}

func (f *fakeHypervisor) CreateGuest(ctx context.Context, spec *models.ProvisionSpec, storage string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return "UPID:create", nil
}

func (f *fakeHypervisor) ResizeDisk(ctx context.Context, guestID int, disk, size string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizeCalls++
	f.resizeSizes = append(f.resizeSizes, size)
	if f.resizeErr != nil {
		return "", f.resizeErr
	}
	return "UPID:resize", nil
}

func (f *fakeHypervisor) Reconfigure(ctx context.Context, guestID, cores, memoryMB int, ciUser, ciPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconfigCalls++
	f.reconfigCores = cores
	f.reconfigMemMB = memoryMB
	f.reconfigUser = ciUser
	f.reconfigPass = ciPassword
	return f.reconfigErr
}

func (f *fakeHypervisor) Start(ctx context.Context, guestID int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return "", f.startErr
	}
	return "UPID:start", nil
}

func (f *fakeHypervisor) Stop(ctx context.Context, guestID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeHypervisor) Delete(ctx context.Context, guestID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	return f.deleteErr
}

func (f *fakeHypervisor) PollTask(ctx context.Context, taskID string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollErrs[taskID]
}

func (f *fakeHypervisor) WaitForLockRelease(ctx context.Context, guestID int, timeout time.Duration) bool {
	return true
}

func (f *fakeHypervisor) GuestDiskSizeGB(ctx context.Context, guestID int, disk string) (int, error) {
	if f.diskSizeErr != nil {
		return 0, f.diskSizeErr
	}
	return f.diskSizeGB, nil
}

func (f *fakeHypervisor) DiscoverIPv4(ctx context.Context, guestID int, timeout time.Duration) string {
	return f.ip
}

func (f *fakeHypervisor) Status(ctx context.Context, guestID int) (string, error) {
	return f.guestStatus, nil
}

// fakeServiceStore keeps services in memory and applies the same filters
// as the SQL repository.
type fakeServiceStore struct {
	mu       sync.Mutex
	services map[string]*models.Service
}

func newFakeServiceStore(services ...*models.Service) *fakeServiceStore {
	store := &fakeServiceStore{services: map[string]*models.Service{}}
	for _, svc := range services {
		store.services[svc.ID] = svc
	}
	return store
}

func (f *fakeServiceStore) GetByID(ctx context.Context, id string) (*models.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[id]
	if !ok {
		return nil, fmt.Errorf("service %s not found", id)
	}
	copied := *svc
	return &copied, nil
}

func (f *fakeServiceStore) GetByUserID(ctx context.Context, userID string) ([]*models.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Service
	for _, svc := range f.services {
		if svc.UserID == userID && svc.Status != models.StatusTerminated {
			copied := *svc
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeServiceStore) Update(ctx context.Context, svc *models.Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *svc
	f.services[svc.ID] = &copied
	return nil
}

func (f *fakeServiceStore) ListDueBefore(ctx context.Context, cutoff time.Time) ([]*models.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Service
	for _, svc := range f.services {
		if svc.Status == models.StatusActive && !svc.NextDueDate.After(cutoff) {
			copied := *svc
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeServiceStore) ListSuspendedBefore(ctx context.Context, cutoff time.Time) ([]*models.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Service
	for _, svc := range f.services {
		if svc.Status == models.StatusSuspended && svc.SuspendedAt != nil && !svc.SuspendedAt.After(cutoff) {
			copied := *svc
			out = append(out, &copied)
		}
	}
	return out, nil
}

// fakeEventStore discards events.
type fakeEventStore struct{}

func (f *fakeEventStore) LogAction(ctx context.Context, serviceID, action, status, message string) error {
	return nil
}

// fakeNotifier records dispatched notification kinds.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string
	errOn map[string]error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{errOn: map[string]error{}}
}

func (f *fakeNotifier) Send(ctx context.Context, kind string, service *models.Service, extra map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errOn[kind]; err != nil {
		return err
	}
	f.sent = append(f.sent, kind)
	return nil
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// fakeInvoiceStore records renewal invoices and keeps them open until a
// test marks them paid.
type fakeInvoiceStore struct {
	mu        sync.Mutex
	created   []*models.Invoice
	createErr map[string]error
	open      map[string]*models.Invoice
}

func newFakeInvoiceStore() *fakeInvoiceStore {
	return &fakeInvoiceStore{
		createErr: map[string]error{},
		open:      map[string]*models.Invoice{},
	}
}

func (f *fakeInvoiceStore) CreateRenewal(ctx context.Context, svc *models.Service) (*models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErr[svc.ID]; err != nil {
		return nil, err
	}
	invoice := &models.Invoice{
		ID:            fmt.Sprintf("inv-%d", len(f.created)+1),
		UserID:        svc.UserID,
		ServiceID:     &svc.ID,
		InvoiceNumber: fmt.Sprintf("INV-%04d", len(f.created)+1),
		Amount:        svc.Price,
		Status:        models.InvoiceUnpaid,
		DueDate:       svc.NextDueDate,
	}
	f.created = append(f.created, invoice)
	f.open[svc.ID] = invoice
	return invoice, nil
}

func (f *fakeInvoiceStore) OpenRenewal(ctx context.Context, serviceID string) (*models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[serviceID], nil
}

// fakeProvisioner returns a scripted result and counts invocations.
type fakeProvisioner struct {
	mu     sync.Mutex
	calls  int
	result *models.ProvisionResult
	delay  time.Duration
}

func (f *fakeProvisioner) Provision(ctx context.Context, spec *models.ProvisionSpec) *models.ProvisionResult {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	result := *f.result
	if result.GuestID == 0 {
		result.GuestID = spec.GuestID
	}
	return &result
}

func (f *fakeProvisioner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeLifecycle records transition requests from the scheduler sweeps.
type fakeLifecycle struct {
	mu         sync.Mutex
	suspended  []string
	terminated []string
	suspendErr map[string]error
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{suspendErr: map[string]error{}}
}

func (f *fakeLifecycle) Suspend(ctx context.Context, serviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.suspendErr[serviceID]; err != nil {
		return err
	}
	f.suspended = append(f.suspended, serviceID)
	return nil
}

func (f *fakeLifecycle) Terminate(ctx context.Context, serviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, serviceID)
	return nil
}
