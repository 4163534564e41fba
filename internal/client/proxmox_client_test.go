package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/config"
)

// fakeCluster is an httptest-backed stand-in for the Proxmox API, serving
// the {"data": ...} envelope and the ticket login endpoint.
type fakeCluster struct {
	mux *http.ServeMux

	mu     sync.Mutex
	logins int
}

func newFakeCluster() *fakeCluster {
	f := &fakeCluster{mux: http.NewServeMux()}
	f.handle("/access/ticket", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logins++
		f.mu.Unlock()

		_ = r.ParseForm()
		writeData(w, map[string]string{
			"ticket":              "PVE:TICKET",
			"CSRFPreventionToken": "CSRF:TOKEN",
		})
	})
	return f
}

func (f *fakeCluster) handle(path string, h http.HandlerFunc) {
	f.mux.HandleFunc("/api2/json"+path, h)
}

func (f *fakeCluster) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

// start spins up the TLS server and connects a client to it. The test
// server's self-signed certificate exercises the VerifyTLS=false path.
func (f *fakeCluster) start(t *testing.T) *ProxmoxClient {
	t.Helper()

	server := httptest.NewTLSServer(f.mux)
	t.Cleanup(server.Close)

	client, err := NewProxmoxClient(config.ProxmoxConfig{
		Host:     strings.TrimPrefix(server.URL, "https://"),
		User:     "root@pam",
		Password: "secret",
		Node:     "pve",
	})
	require.NoError(t, err)
	return client
}

func writeData(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"data": v})
}

func TestNewProxmoxClientNotConfigured(t *testing.T) {
	_, err := NewProxmoxClient(config.ProxmoxConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewProxmoxClient(config.ProxmoxConfig{Host: "pve.example.com", User: "root@pam"})
	assert.ErrorIs(t, err, ErrNotConfigured, "missing password is a configuration error")
}

func TestAuthenticatedRequestCarriesTicket(t *testing.T) {
	cluster := newFakeCluster()

	var gotCookie, gotCSRF string
	cluster.handle("/cluster/nextid", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("PVEAuthCookie"); err == nil {
			gotCookie = c.Value
		}
		gotCSRF = r.Header.Get("CSRFPreventionToken")
		writeData(w, "123")
	})

	client := cluster.start(t)
	id, err := client.NextGuestID(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 123, id)
	assert.Equal(t, "PVE:TICKET", gotCookie)
	assert.Empty(t, gotCSRF, "GET requests carry no CSRF token")
}

func TestExpiredTicketIsRefreshedOnce(t *testing.T) {
	cluster := newFakeCluster()

	calls := 0
	cluster.handle("/cluster/nextid", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeData(w, "456")
	})

	client := cluster.start(t)
	id, err := client.NextGuestID(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 456, id)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, cluster.loginCount(), "initial login plus one refresh")
}

func TestNextGuestIDFallsBackWhenCounterUnreachable(t *testing.T) {
	cluster := newFakeCluster()
	cluster.handle("/cluster/nextid", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	client := cluster.start(t)
	id, err := client.NextGuestID(context.Background())
	require.NoError(t, err, "the counter failing must not fail provisioning")
	assert.GreaterOrEqual(t, id, fallbackIDBase)
	assert.Less(t, id, fallbackIDBase+fallbackIDRange)
}

func TestListStorageFiltersImageCapable(t *testing.T) {
	cluster := newFakeCluster()
	cluster.handle("/nodes/pve/storage", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []map[string]string{
			{"storage": "local", "content": "iso,vztmpl"},
			{"storage": "local-lvm", "content": "rootdir,images"},
			{"storage": "ceph-pool", "content": "images"},
		})
	})

	client := cluster.start(t)
	assert.Equal(t, []string{"local-lvm", "ceph-pool"}, client.ListStorage(context.Background()))
}

func TestListStorageFallsBackOnError(t *testing.T) {
	cluster := newFakeCluster()
	cluster.handle("/nodes/pve/storage", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	client := cluster.start(t)
	assert.Equal(t, []string{"local-lvm"}, client.ListStorage(context.Background()))
}

func TestCloneGuestSubmitsFullClone(t *testing.T) {
	cluster := newFakeCluster()

	var form map[string]string
	cluster.handle("/nodes/pve/qemu/9000/clone", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = map[string]string{
			"newid": r.PostForm.Get("newid"),
			"name":  r.PostForm.Get("name"),
			"full":  r.PostForm.Get("full"),
			"csrf":  r.Header.Get("CSRFPreventionToken"),
		}
		writeData(w, "UPID:pve:0001:clone")
	})

	client := cluster.start(t)
	taskID, err := client.CloneGuest(context.Background(), 9000, 150, "vm-alice-150")
	require.NoError(t, err)

	assert.Equal(t, "UPID:pve:0001:clone", taskID)
	assert.Equal(t, "150", form["newid"])
	assert.Equal(t, "vm-alice-150", form["name"])
	assert.Equal(t, "1", form["full"])
	assert.Equal(t, "CSRF:TOKEN", form["csrf"], "mutating requests carry the CSRF token")
}

func TestReconfigureInjectsCloudInit(t *testing.T) {
	cluster := newFakeCluster()

	var form map[string]string
	cluster.handle("/nodes/pve/qemu/150/config", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = map[string]string{
			"cores":      r.PostForm.Get("cores"),
			"memory":     r.PostForm.Get("memory"),
			"ciuser":     r.PostForm.Get("ciuser"),
			"cipassword": r.PostForm.Get("cipassword"),
			"ipconfig0":  r.PostForm.Get("ipconfig0"),
		}
		writeData(w, nil)
	})

	client := cluster.start(t)
	require.NoError(t, client.Reconfigure(context.Background(), 150, 2, 2048, "root", "s3cret"))

	assert.Equal(t, "2", form["cores"])
	assert.Equal(t, "2048", form["memory"])
	assert.Equal(t, "root", form["ciuser"])
	assert.Equal(t, "s3cret", form["cipassword"])
	assert.Equal(t, "ip=dhcp", form["ipconfig0"])

	// Without a password no cloud-init keys are sent.
	require.NoError(t, client.Reconfigure(context.Background(), 150, 2, 2048, "root", ""))
	assert.Empty(t, form["cipassword"])
	assert.Empty(t, form["ipconfig0"])
}

func TestResizeDiskHandlesSynchronousCompletion(t *testing.T) {
	cluster := newFakeCluster()
	cluster.handle("/nodes/pve/qemu/150/resize", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, nil)
	})

	client := cluster.start(t)
	taskID, err := client.ResizeDisk(context.Background(), 150, "scsi0", "+18G")
	require.NoError(t, err)
	assert.Empty(t, taskID, "some versions resize without a task handle")
}

func TestDeleteTreatsMissingGuestAsSuccess(t *testing.T) {
	cluster := newFakeCluster()
	cluster.handle("/nodes/pve/qemu/150", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	cluster.handle("/nodes/pve/qemu/151", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	client := cluster.start(t)
	assert.NoError(t, client.Delete(context.Background(), 150), "deleting an absent guest is idempotent")
	assert.ErrorIs(t, client.Delete(context.Background(), 151), ErrRemoteRejected)
}

func TestPollTask(t *testing.T) {
	cluster := newFakeCluster()

	polls := 0
	cluster.handle("/nodes/pve/tasks/UPID:ok/status", func(w http.ResponseWriter, r *http.Request) {
		polls++
		writeData(w, map[string]string{"status": "stopped", "exitstatus": "OK"})
	})
	cluster.handle("/nodes/pve/tasks/UPID:bad/status", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]string{"status": "stopped", "exitstatus": "command failed"})
	})

	client := cluster.start(t)

	require.NoError(t, client.PollTask(context.Background(), "UPID:ok", 10*time.Second))
	assert.Equal(t, 1, polls)

	err := client.PollTask(context.Background(), "UPID:bad", 10*time.Second)
	assert.ErrorIs(t, err, ErrRemoteRejected)
}

func TestPollTaskTimesOut(t *testing.T) {
	cluster := newFakeCluster()
	cluster.handle("/nodes/pve/tasks/UPID:slow/status", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]string{"status": "running"})
	})

	client := cluster.start(t)
	err := client.PollTask(context.Background(), "UPID:slow", 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrTaskTimeout)
}

func TestPollTaskStopsOnContextCancel(t *testing.T) {
	cluster := newFakeCluster()
	cluster.handle("/nodes/pve/tasks/UPID:slow/status", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]string{"status": "running"})
	})

	client := cluster.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.PollTask(ctx, "UPID:slow", 10*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second,
		"cancellation must interrupt the polling wait, not run out the interval")
}

func TestWaitForLockRelease(t *testing.T) {
	cluster := newFakeCluster()

	calls := 0
	cluster.handle("/nodes/pve/qemu/150/config", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeData(w, map[string]string{"lock": "clone", "scsi0": "local-lvm:vm-150-disk-0,size=32G"})
			return
		}
		writeData(w, map[string]string{"scsi0": "local-lvm:vm-150-disk-0,size=32G"})
	})

	client := cluster.start(t)
	assert.True(t, client.WaitForLockRelease(context.Background(), 150, 10*time.Second))
	assert.Equal(t, 2, calls)
}

func TestGuestDiskSizeGB(t *testing.T) {
	cluster := newFakeCluster()
	cluster.handle("/nodes/pve/qemu/150/config", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]string{"scsi0": "local-lvm:vm-150-disk-0,size=32G"})
	})

	client := cluster.start(t)

	size, err := client.GuestDiskSizeGB(context.Background(), 150, "scsi0")
	require.NoError(t, err)
	assert.Equal(t, 32, size)

	_, err = client.GuestDiskSizeGB(context.Background(), 150, "scsi1")
	assert.ErrorIs(t, err, ErrGuestNotFound)
}

func TestParseDiskSizeGB(t *testing.T) {
	cases := []struct {
		volume  string
		want    int
		wantErr bool
	}{
		{"local-lvm:vm-100-disk-0,size=32G", 32, false},
		{"local-lvm:vm-100-disk-0,size=1T", 1024, false},
		{"local-lvm:vm-100-disk-0,size=2048M", 2, false},
		{"local-lvm:vm-100-disk-0,size=500M", 1, false},
		{"local-lvm:vm-100-disk-0,size=2500M", 3, false},
		{"ceph-pool:vm-100-disk-0,cache=writeback,size=50G", 50, false},
		{"local-lvm:vm-100-disk-0", 0, true},
		{"local-lvm:vm-100-disk-0,size=badG", 0, true},
	}

	for _, tc := range cases {
		got, err := ParseDiskSizeGB(tc.volume)
		if tc.wantErr {
			assert.Error(t, err, tc.volume)
			continue
		}
		require.NoError(t, err, tc.volume)
		assert.Equal(t, tc.want, got, tc.volume)
	}
}

func TestDiscoverIPv4(t *testing.T) {
	cluster := newFakeCluster()
	cluster.handle("/nodes/pve/qemu/150/agent/network-get-interfaces", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]interface{}{
			"result": []map[string]interface{}{
				{
					"name": "lo",
					"ip-addresses": []map[string]string{
						{"ip-address-type": "ipv4", "ip-address": "127.0.0.1"},
					},
				},
				{
					"name": "eth0",
					"ip-addresses": []map[string]string{
						{"ip-address-type": "ipv6", "ip-address": "fe80::1"},
						{"ip-address-type": "ipv4", "ip-address": "10.0.0.50"},
					},
				},
			},
		})
	})

	client := cluster.start(t)
	ip := client.DiscoverIPv4(context.Background(), 150, 10*time.Second)
	assert.Equal(t, "10.0.0.50", ip, "loopback and IPv6 addresses are skipped")
}

func TestStatus(t *testing.T) {
	cluster := newFakeCluster()
	cluster.handle("/nodes/pve/qemu/150/status/current", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]string{"status": "running"})
	})

	client := cluster.start(t)
	status, err := client.Status(context.Background(), 150)
	require.NoError(t, err)
	assert.Equal(t, "running", status)
}
