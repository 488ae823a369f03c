package vmpool

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jimyag/vmpool/internal/vmpool/config"
	"github.com/jimyag/vmpool/internal/vmpool/entity"
	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Database:        filepath.Join(dir, "vm.db"),
		Address:         "127.0.0.1:0",
		MachineLifetime: 24 * time.Hour,
		AbandonTimeout:  900 * time.Second,
		PollInterval:    time.Second,
		MaxQueryErrors:  5,
		LaunchInterval:  time.Minute,
		ReapInterval:    time.Minute,
		CheckInterval:   time.Minute,
		SSH: config.SSHConfig{
			User:           "jenkins",
			PrivateKeyFile: filepath.Join(dir, "missing_key"),
		},
		Snapshot: config.SnapshotConfig{BuildTimeout: time.Hour},
		Providers: []config.ProviderConfig{
			{
				Name:       "rax",
				Driver:     "openstack",
				MaxServers: 10,
				BaseImages: []config.BaseImageConfig{{Name: "ubuntu", MinReady: 1}},
			},
			{Name: "local", Driver: "libvirt", MaxServers: 2},
		},
	}
}

func TestServer_ProviderNames(t *testing.T) {
	t.Parallel()

	s, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	names, err := s.ProviderNames("")
	require.NoError(t, err)
	assert.Equal(t, []string{"rax", "local"}, names)

	names, err = s.ProviderNames("local")
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, names)

	_, err = s.ProviderNames("missing")
	assert.Error(t, err)
}

func TestServer_FetchOverHTTP(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	provider, err := s.store.Providers.GetByName(ctx, "rax")
	require.NoError(t, err)
	image, err := s.store.BaseImages.GetByName(ctx, provider.ID, "ubuntu")
	require.NoError(t, err)
	require.NoError(t, s.store.Machines.Create(ctx, &model.Machine{
		BaseImageID: image.ID,
		ProviderID:  provider.ID,
		ExternalID:  "srv-1",
		Name:        "vmpool-ubuntu-1",
		IP:          "10.0.0.7",
		State:       model.MachineReady,
		StateTime:   time.Now().Unix(),
	}))

	body, err := json.Marshal(&entity.FetchMachineRequest{Image: "ubuntu", JobName: "gate"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/machines/fetch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.api.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp entity.FetchMachineResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "10.0.0.7", resp.IP)
	assert.Equal(t, "rax", resp.Provider)
	assert.NotZero(t, resp.ResultID)

	// 第二次领取没有可用机器
	req = httptest.NewRequest(http.MethodPost, "/api/machines/fetch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	s.api.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_ProbeWithoutKey(t *testing.T) {
	t.Parallel()

	s, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	// 没有可用 READY 机器时 Checker 不会探测
	require.NoError(t, s.Checker.Run(context.Background(), "rax"))

	ok, err := unavailableProber{err: assert.AnError}.Probe(context.Background(), "10.0.0.1", "jenkins")
	assert.False(t, ok)
	assert.ErrorIs(t, err, assert.AnError)
}
