package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/config"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/models"
)

// Polling intervals against the Proxmox API.
const (
	taskPollInterval = 2 * time.Second
	lockPollInterval = 2 * time.Second
	ipPollInterval   = 5 * time.Second
)

// Fallback guest ID range used when the cluster counter is unreachable.
// 说明: 随机 ID 存在碰撞风险，范围保留在高位以避开正常分配的 ID
const (
	fallbackIDBase  = 90000
	fallbackIDRange = 10000
)

// ProxmoxClient is a typed facade over the Proxmox VE control API. The
// underlying HTTP client is safe for concurrent use; no lock is held across
// a polling wait.
type ProxmoxClient struct {
	baseURL    string
	user       string
	password   string
	node       string
	httpClient *http.Client

	mu        sync.Mutex
	ticket    string
	csrfToken string
}

// NewProxmoxClient connects to the hypervisor control endpoint. Returns
// ErrNotConfigured when host or credentials are absent so callers can treat
// the condition as permanent.
func NewProxmoxClient(cfg config.ProxmoxConfig) (*ProxmoxClient, error) {
	if cfg.Host == "" || cfg.User == "" || cfg.Password == "" {
		return nil, ErrNotConfigured
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS},
	}

	c := &ProxmoxClient{
		baseURL:  "https://" + cfg.Host + "/api2/json",
		user:     cfg.User,
		password: cfg.Password,
		node:     cfg.Node,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}

	if err := c.login(context.Background()); err != nil {
		return nil, fmt.Errorf("connect to proxmox at %s: %w", cfg.Host, err)
	}

	log.Printf("[ProxmoxClient] Connected to %s (node: %s)", cfg.Host, cfg.Node)
	return c, nil
}

// login obtains an auth ticket and CSRF token from /access/ticket.
func (c *ProxmoxClient) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.user)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/access/ticket", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: login status %d", ErrRemoteRejected, resp.StatusCode)
	}

	var result struct {
		Data struct {
			Ticket    string `json:"ticket"`
			CSRFToken string `json:"CSRFPreventionToken"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}

	c.mu.Lock()
	c.ticket = result.Data.Ticket
	c.csrfToken = result.Data.CSRFToken
	c.mu.Unlock()

	return nil
}

// do performs one authenticated API request and returns the raw "data"
// payload. A 401 triggers a single ticket refresh and retry.
func (c *ProxmoxClient) do(ctx context.Context, method, path string, form url.Values) (json.RawMessage, error) {
	data, status, err := c.doOnce(ctx, method, path, form)
	if status == http.StatusUnauthorized {
		if err := c.login(ctx); err != nil {
			return nil, fmt.Errorf("refresh ticket: %w", err)
		}
		data, status, err = c.doOnce(ctx, method, path, form)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrGuestNotFound, path)
	case status < 200 || status > 299:
		return nil, fmt.Errorf("%w: %s %s returned status %d", ErrRemoteRejected, method, path, status)
	}

	return data, nil
}

func (c *ProxmoxClient) doOnce(ctx context.Context, method, path string, form url.Values) (json.RawMessage, int, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.mu.Lock()
	req.AddCookie(&http.Cookie{Name: "PVEAuthCookie", Value: c.ticket})
	if method != http.MethodGet {
		req.Header.Set("CSRFPreventionToken", c.csrfToken)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	// Proxmox wraps every payload in {"data": ...}; error responses may
	// carry an empty body, which is fine for status-only handling.
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &wrapper); err != nil && resp.StatusCode == http.StatusOK {
			return nil, resp.StatusCode, fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
		}
	}

	return wrapper.Data, resp.StatusCode, nil
}

func (c *ProxmoxClient) qemuPath(guestID int) string {
	return fmt.Sprintf("/nodes/%s/qemu/%d", c.node, guestID)
}

// sleepCtx waits one polling interval, or less when the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// NextGuestID queries the cluster ID counter. When the counter is
// unreachable it falls back to a random ID in a reserved high range rather
// than failing the provisioning attempt.
func (c *ProxmoxClient) NextGuestID(ctx context.Context) (int, error) {
	data, err := c.do(ctx, http.MethodGet, "/cluster/nextid", nil)
	if err != nil {
		id := fallbackIDBase + rand.Intn(fallbackIDRange)
		log.Printf("[ProxmoxClient] cluster/nextid failed (%v), using fallback guest ID %d", err, id)
		return id, nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		id := fallbackIDBase + rand.Intn(fallbackIDRange)
		log.Printf("[ProxmoxClient] unexpected nextid payload (%v), using fallback guest ID %d", err, id)
		return id, nil
	}

	id, err := strconv.Atoi(raw)
	if err != nil {
		id = fallbackIDBase + rand.Intn(fallbackIDRange)
		log.Printf("[ProxmoxClient] non-numeric nextid %q, using fallback guest ID %d", raw, id)
	}
	return id, nil
}

// ListStorage enumerates storage backends that can hold guest images. Falls
// back to local-lvm when the query fails.
func (c *ProxmoxClient) ListStorage(ctx context.Context) []string {
	data, err := c.do(ctx, http.MethodGet, "/nodes/"+c.node+"/storage", nil)
	if err != nil {
		log.Printf("[ProxmoxClient] list storage failed: %v", err)
		return []string{"local-lvm"}
	}

	var entries []struct {
		Storage string `json:"storage"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Printf("[ProxmoxClient] decode storage list failed: %v", err)
		return []string{"local-lvm"}
	}

	var names []string
	for _, e := range entries {
		if strings.Contains(e.Content, "images") {
			names = append(names, e.Storage)
		}
	}
	if len(names) == 0 {
		return []string{"local-lvm"}
	}
	return names
}

// CloneGuest performs a full clone of the template guest and returns the
// task handle.
func (c *ProxmoxClient) CloneGuest(ctx context.Context, templateID, newID int, name string) (string, error) {
	log.Printf("[ProxmoxClient] Cloning template %d -> guest %d (%s)", templateID, newID, name)

	form := url.Values{}
	form.Set("newid", strconv.Itoa(newID))
	form.Set("name", name)
	form.Set("full", "1")

	data, err := c.do(ctx, http.MethodPost, c.qemuPath(templateID)+"/clone", form)
	if err != nil {
		return "", fmt.Errorf("clone guest: %w", err)
	}

	return decodeTaskID(data)
}

// CreateGuest creates a guest from scratch, sized directly from the spec.
// Fixed virtio SCSI / bridged NIC / Linux 2.6+ parameters match the images
// the platform ships.
func (c *ProxmoxClient) CreateGuest(ctx context.Context, spec *models.ProvisionSpec, storage string) (string, error) {
	log.Printf("[ProxmoxClient] Creating guest %d (%s) on storage %s", spec.GuestID, spec.Name, storage)

	form := url.Values{}
	form.Set("vmid", strconv.Itoa(spec.GuestID))
	form.Set("name", spec.Name)
	form.Set("cores", strconv.Itoa(spec.Cores))
	form.Set("memory", strconv.Itoa(spec.MemoryMB))
	form.Set("scsihw", "virtio-scsi-pci")
	form.Set("scsi0", fmt.Sprintf("%s:%d", storage, spec.DiskGB))
	form.Set("net0", "virtio,bridge=vmbr0")
	form.Set("ostype", "l26")
	form.Set("boot", "c")
	form.Set("bootdisk", "scsi0")

	data, err := c.do(ctx, http.MethodPost, "/nodes/"+c.node+"/qemu", form)
	if err != nil {
		return "", fmt.Errorf("create guest: %w", err)
	}

	return decodeTaskID(data)
}

// ResizeDisk grows a guest disk. Size uses Proxmox syntax, e.g. "+18G" for
// an incremental grow. Returns the task handle; some Proxmox versions
// complete the resize synchronously and return no task.
func (c *ProxmoxClient) ResizeDisk(ctx context.Context, guestID int, disk, size string) (string, error) {
	log.Printf("[ProxmoxClient] Resizing guest %d disk %s by %s", guestID, disk, size)

	form := url.Values{}
	form.Set("disk", disk)
	form.Set("size", size)

	data, err := c.do(ctx, http.MethodPut, c.qemuPath(guestID)+"/resize", form)
	if err != nil {
		return "", fmt.Errorf("resize disk: %w", err)
	}

	if len(data) == 0 || string(data) == "null" {
		return "", nil
	}
	return decodeTaskID(data)
}

// Reconfigure sets CPU and memory, and when a cloud-init password is given
// also injects the root credentials and enables DHCP on the primary
// interface. Synchronous, no task handle.
func (c *ProxmoxClient) Reconfigure(ctx context.Context, guestID, cores, memoryMB int, ciUser, ciPassword string) error {
	form := url.Values{}
	form.Set("cores", strconv.Itoa(cores))
	form.Set("memory", strconv.Itoa(memoryMB))
	if ciPassword != "" {
		form.Set("ciuser", ciUser)
		form.Set("cipassword", ciPassword)
		form.Set("ipconfig0", "ip=dhcp")
	}

	if _, err := c.do(ctx, http.MethodPut, c.qemuPath(guestID)+"/config", form); err != nil {
		return fmt.Errorf("reconfigure guest %d: %w", guestID, err)
	}

	log.Printf("[ProxmoxClient] Reconfigured guest %d (cores=%d memory=%d cloudinit=%t)",
		guestID, cores, memoryMB, ciPassword != "")
	return nil
}

// Start powers on a guest and returns the task handle.
func (c *ProxmoxClient) Start(ctx context.Context, guestID int) (string, error) {
	data, err := c.do(ctx, http.MethodPost, c.qemuPath(guestID)+"/status/start", nil)
	if err != nil {
		return "", fmt.Errorf("start guest %d: %w", guestID, err)
	}
	return decodeTaskID(data)
}

// Stop powers off a guest.
func (c *ProxmoxClient) Stop(ctx context.Context, guestID int) error {
	if _, err := c.do(ctx, http.MethodPost, c.qemuPath(guestID)+"/status/stop", nil); err != nil {
		return fmt.Errorf("stop guest %d: %w", guestID, err)
	}
	return nil
}

// Delete removes a guest. A missing guest counts as success so cleanup and
// termination stay idempotent.
func (c *ProxmoxClient) Delete(ctx context.Context, guestID int) error {
	_, err := c.do(ctx, http.MethodDelete, c.qemuPath(guestID), nil)
	if err != nil {
		if errors.Is(err, ErrGuestNotFound) {
			log.Printf("[ProxmoxClient] Guest %d already gone, delete treated as success", guestID)
			return nil
		}
		return fmt.Errorf("delete guest %d: %w", guestID, err)
	}
	return nil
}

// PollTask polls a task handle every 2s until it reaches a terminal state
// or the timeout elapses. Terminal success is status "stopped" with
// exitstatus "OK"; any other terminal exit is a rejection.
func (c *ProxmoxClient) PollTask(ctx context.Context, taskID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	path := fmt.Sprintf("/nodes/%s/tasks/%s/status", c.node, url.PathEscape(taskID))

	for time.Now().Before(deadline) {
		data, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			log.Printf("[ProxmoxClient] Error polling task %s: %v", taskID, err)
			if err := sleepCtx(ctx, taskPollInterval); err != nil {
				return err
			}
			continue
		}

		var status struct {
			Status     string `json:"status"`
			ExitStatus string `json:"exitstatus"`
		}
		if err := json.Unmarshal(data, &status); err != nil {
			log.Printf("[ProxmoxClient] Decode task status failed: %v", err)
			if err := sleepCtx(ctx, taskPollInterval); err != nil {
				return err
			}
			continue
		}

		if status.Status == "stopped" {
			if status.ExitStatus == "OK" {
				return nil
			}
			return fmt.Errorf("%w: task %s exited with %q", ErrRemoteRejected, taskID, status.ExitStatus)
		}

		if err := sleepCtx(ctx, taskPollInterval); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: task %s still running after %v", ErrTaskTimeout, taskID, timeout)
}

// WaitForLockRelease polls the guest config every 2s until no lock is
// reported or the timeout elapses. Returns false on timeout; callers treat
// that as soft and proceed, since the hypervisor clears locks
// asynchronously and the lock may be gone by the next operation.
func (c *ProxmoxClient) WaitForLockRelease(ctx context.Context, guestID int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		cfg, err := c.GuestConfig(ctx, guestID)
		if err != nil {
			log.Printf("[ProxmoxClient] Error reading config for guest %d: %v", guestID, err)
		} else if _, locked := cfg["lock"]; !locked {
			return true
		}

		if sleepCtx(ctx, lockPollInterval) != nil {
			return false
		}
	}

	log.Printf("[ProxmoxClient] Guest %d still locked after %v, proceeding anyway", guestID, timeout)
	return false
}

// GuestConfig reads the raw guest configuration.
func (c *ProxmoxClient) GuestConfig(ctx context.Context, guestID int) (map[string]interface{}, error) {
	data, err := c.do(ctx, http.MethodGet, c.qemuPath(guestID)+"/config", nil)
	if err != nil {
		return nil, fmt.Errorf("get config for guest %d: %w", guestID, err)
	}

	var cfg map[string]interface{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config for guest %d: %w", guestID, err)
	}
	return cfg, nil
}

// GuestDiskSizeGB reads the provisioned size of a guest disk in GB.
func (c *ProxmoxClient) GuestDiskSizeGB(ctx context.Context, guestID int, disk string) (int, error) {
	cfg, err := c.GuestConfig(ctx, guestID)
	if err != nil {
		return 0, err
	}

	volume, ok := cfg[disk].(string)
	if !ok {
		return 0, fmt.Errorf("%w: guest %d has no disk %q", ErrGuestNotFound, guestID, disk)
	}

	size, err := ParseDiskSizeGB(volume)
	if err != nil {
		return 0, fmt.Errorf("guest %d disk %s: %w", guestID, disk, err)
	}
	return size, nil
}

// ParseDiskSizeGB extracts the size in GB from a Proxmox volume spec such
// as "local-lvm:vm-100-disk-0,size=32G".
func ParseDiskSizeGB(volume string) (int, error) {
	for _, part := range strings.Split(volume, ",") {
		if !strings.HasPrefix(part, "size=") {
			continue
		}
		raw := strings.TrimPrefix(part, "size=")

		unit := 1
		switch {
		case strings.HasSuffix(raw, "T"):
			unit = 1024
			raw = strings.TrimSuffix(raw, "T")
		case strings.HasSuffix(raw, "G"):
			raw = strings.TrimSuffix(raw, "G")
		case strings.HasSuffix(raw, "M"):
			unit = -1024
			raw = strings.TrimSuffix(raw, "M")
		}

		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("unparseable size in volume spec %q", volume)
		}
		if unit == -1024 {
			// Round up so sub-gigabyte volumes never report zero and the
			// grow-only resize never computes a delta from an undersized
			// current value.
			return (n + 1023) / 1024, nil
		}
		return n * unit, nil
	}
	return 0, fmt.Errorf("no size in volume spec %q", volume)
}

// DiscoverIPv4 polls the in-guest agent for the first IPv4 address on a
// primary interface. Returns an empty string on timeout; IP discovery is
// non-fatal and the service can activate with the address pending.
func (c *ProxmoxClient) DiscoverIPv4(ctx context.Context, guestID int, timeout time.Duration) string {
	deadline := time.Now().Add(timeout)
	path := c.qemuPath(guestID) + "/agent/network-get-interfaces"

	for time.Now().Before(deadline) {
		data, err := c.do(ctx, http.MethodGet, path, nil)
		if err == nil {
			if ip := firstPrimaryIPv4(data); ip != "" {
				log.Printf("[ProxmoxClient] Guest %d reachable at %s", guestID, ip)
				return ip
			}
		}
		// Agent is unavailable until the guest OS finishes booting,
		// so poll errors are expected here.

		if sleepCtx(ctx, ipPollInterval) != nil {
			return ""
		}
	}

	log.Printf("[ProxmoxClient] No IPv4 discovered for guest %d within %v", guestID, timeout)
	return ""
}

func firstPrimaryIPv4(data json.RawMessage) string {
	var payload struct {
		Result []struct {
			Name        string `json:"name"`
			IPAddresses []struct {
				Type    string `json:"ip-address-type"`
				Address string `json:"ip-address"`
			} `json:"ip-addresses"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}

	for _, iface := range payload.Result {
		if !isPrimaryInterface(iface.Name) {
			continue
		}
		for _, addr := range iface.IPAddresses {
			if addr.Type != "ipv4" || strings.HasPrefix(addr.Address, "127.") {
				continue
			}
			return addr.Address
		}
	}
	return ""
}

func isPrimaryInterface(name string) bool {
	if name == "lo" {
		return false
	}
	return strings.HasPrefix(name, "eth") ||
		strings.HasPrefix(name, "ens") ||
		strings.HasPrefix(name, "enp")
}

// Status reports the current power state of a guest.
func (c *ProxmoxClient) Status(ctx context.Context, guestID int) (string, error) {
	data, err := c.do(ctx, http.MethodGet, c.qemuPath(guestID)+"/status/current", nil)
	if err != nil {
		return models.GuestUnknown, fmt.Errorf("get status for guest %d: %w", guestID, err)
	}

	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return models.GuestUnknown, fmt.Errorf("decode status for guest %d: %w", guestID, err)
	}

	switch status.Status {
	case "running":
		return models.GuestRunning, nil
	case "stopped":
		return models.GuestStopped, nil
	default:
		return models.GuestUnknown, nil
	}
}

func decodeTaskID(data json.RawMessage) (string, error) {
	var taskID string
	if err := json.Unmarshal(data, &taskID); err != nil {
		return "", fmt.Errorf("decode task handle: %w (body: %s)", err, string(data))
	}
	return taskID, nil
}
