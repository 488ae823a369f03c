package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"github.com/jimyag/vmpool/pkg/cloud"
	"github.com/jimyag/vmpool/pkg/jenkins"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestLauncher(env *testEnv, scheduler Scheduler, publicKey string) *Launcher {
	l := NewLauncher(env.store, env.cfg, env.drivers(), env.prober, scheduler, publicKey)
	l.now = env.clock.Now
	l.sleep = env.clock.Sleep
	return l
}

func TestLauncher_NextName(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	l := newTestLauncher(env, nil, "")

	first, err := l.nextName(context.Background(), "ubuntu", "")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("ci-vmpool-ubuntu-%d", testNow), first)

	// 同一秒内生成的名称会等待到下一秒
	second, err := l.nextName(context.Background(), "ubuntu", first)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("ci-vmpool-ubuntu-%d", testNow+1), second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.nextName(ctx, "ubuntu", fmt.Sprintf("ci-vmpool-ubuntu-%d", testNow+1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLauncher_LaunchAndPollReady(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	ctx := context.Background()
	provider := seedProvider(t, env.store, "rax", 10)
	image := seedImage(t, env.store, provider, "ubuntu", 2)
	seedSnapshot(t, env.store, image, testNow-3600, model.SnapshotReady, testNow-3600)

	env.driver.On("Close").Return(nil)
	env.driver.On("FindFlavor", mock.Anything, 2048).Return("m1.small", nil)
	env.driver.On("GetImage", mock.Anything, "img-ubuntu").
		Return(&cloud.Image{ID: "img-ubuntu", Status: cloud.StatusActive}, nil)
	env.driver.On("CreateServer", mock.Anything, mock.MatchedBy(func(opts cloud.CreateServerOpts) bool {
		return opts.ImageID == "img-ubuntu" && opts.FlavorID == "m1.small" && opts.Metadata["vmpool_image"] == "ubuntu"
	})).Return(&cloud.Server{ID: "srv-1", Status: cloud.StatusBuild}, nil).Once()
	env.driver.On("CreateServer", mock.Anything, mock.Anything).
		Return(&cloud.Server{ID: "srv-2", Status: cloud.StatusBuild}, nil).Once()
	env.driver.On("GetServer", mock.Anything, "srv-1").
		Return(&cloud.Server{ID: "srv-1", Status: cloud.StatusActive, PublicIP: "10.1.0.1"}, nil)
	env.driver.On("GetServer", mock.Anything, "srv-2").
		Return(&cloud.Server{ID: "srv-2", Status: cloud.StatusActive, PublicIP: "10.1.0.2"}, nil)
	env.driver.On("NeedsFloatingIP").Return(false)
	env.prober.On("Probe", mock.Anything, mock.Anything, "jenkins").Return(true, nil)

	err := newTestLauncher(env, nil, "").Run(ctx, "rax")
	require.NoError(t, err)

	machines, err := env.store.Machines.ListByProvider(ctx, provider.ID)
	require.NoError(t, err)
	require.Len(t, machines, 2)

	names := map[string]bool{}
	ips := map[string]bool{}
	for _, m := range machines {
		assert.Equal(t, model.MachineReady, m.State)
		assert.True(t, strings.HasPrefix(m.Name, "ci-vmpool-ubuntu-"))
		names[m.Name] = true
		ips[m.IP] = true
	}
	assert.Len(t, names, 2)
	assert.True(t, ips["10.1.0.1"])
	assert.True(t, ips["10.1.0.2"])
	env.driver.AssertNumberOfCalls(t, "CreateServer", 2)
	env.driver.AssertCalled(t, "Close")
}

func TestLauncher_SkipsImageWithoutSnapshot(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	provider := seedProvider(t, env.store, "rax", 10)
	seedImage(t, env.store, provider, "ubuntu", 3)

	env.driver.On("Close").Return(nil)

	require.NoError(t, newTestLauncher(env, nil, "").Run(context.Background(), "rax"))
	env.driver.AssertNotCalled(t, "CreateServer", mock.Anything, mock.Anything)
}

func TestLauncher_RespectsProviderMax(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	provider := seedProvider(t, env.store, "rax", 3)
	image := seedImage(t, env.store, provider, "ubuntu", 5)
	seedSnapshot(t, env.store, image, testNow, model.SnapshotReady, testNow)
	for _, name := range []string{"u1", "u2", "u3"} {
		seedMachine(t, env.store, image, name, model.MachineUsed, testNow)
	}

	env.driver.On("Close").Return(nil)
	env.driver.On("FindFlavor", mock.Anything, 2048).Return("m1.small", nil)
	env.driver.On("GetImage", mock.Anything, "img-ubuntu").
		Return(&cloud.Image{ID: "img-ubuntu", Status: cloud.StatusActive}, nil)

	require.NoError(t, newTestLauncher(env, nil, "").Run(context.Background(), "rax"))
	env.driver.AssertNotCalled(t, "CreateServer", mock.Anything, mock.Anything)
}

func TestLauncher_EnsureKeypair(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	ctx := context.Background()
	provider := seedProvider(t, env.store, "rax", 10)

	env.driver.On("Close").Return(nil)
	env.driver.On("EnsureKeypair", mock.Anything, "", "ssh-ed25519 AAAA").Return("vmpool-key", nil)

	require.NoError(t, newTestLauncher(env, nil, "ssh-ed25519 AAAA").Run(ctx, "rax"))

	saved, err := env.store.Providers.GetByID(ctx, provider.ID)
	require.NoError(t, err)
	assert.Equal(t, "vmpool-key", saved.KeypairName)
}

func TestLauncher_PollErrorStatus(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	ctx := context.Background()
	provider := seedProvider(t, env.store, "rax", 10)
	image := seedImage(t, env.store, provider, "ubuntu", 0)
	machine := seedMachine(t, env.store, image, "m1", model.MachineBuilding, testNow)

	env.driver.On("Close").Return(nil)
	env.driver.On("GetServer", mock.Anything, "ext-m1").
		Return(&cloud.Server{ID: "ext-m1", Status: cloud.StatusError, RawStatus: "ERROR"}, nil)

	err := newTestLauncher(env, nil, "").Run(ctx, "rax")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many errors")

	assert.Equal(t, model.MachineError, getMachine(t, env.store, machine.ID).State)
	env.driver.AssertNumberOfCalls(t, "GetServer", 5)
}

func TestLauncher_PollErrorCountResetsOnRecovery(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	ctx := context.Background()
	provider := seedProvider(t, env.store, "rax", 10)
	image := seedImage(t, env.store, provider, "ubuntu", 0)
	machine := seedMachine(t, env.store, image, "m1", model.MachineBuilding, testNow)

	errored := &cloud.Server{ID: "ext-m1", Status: cloud.StatusError, RawStatus: "ERROR"}
	building := &cloud.Server{ID: "ext-m1", Status: cloud.StatusBuild, RawStatus: "BUILD"}
	active := &cloud.Server{ID: "ext-m1", Status: cloud.StatusActive, PublicIP: "10.1.0.7"}

	env.driver.On("Close").Return(nil)
	env.driver.On("NeedsFloatingIP").Return(false)
	env.driver.On("GetServer", mock.Anything, "ext-m1").Return(errored, nil).Times(3)
	env.driver.On("GetServer", mock.Anything, "ext-m1").Return(building, nil).Once()
	env.driver.On("GetServer", mock.Anything, "ext-m1").Return(errored, nil).Times(2)
	env.driver.On("GetServer", mock.Anything, "ext-m1").Return(active, nil).Once()
	env.prober.On("Probe", mock.Anything, "10.1.0.7", "jenkins").Return(true, nil)

	require.NoError(t, newTestLauncher(env, nil, "").Run(ctx, "rax"))

	got := getMachine(t, env.store, machine.ID)
	assert.Equal(t, model.MachineReady, got.State)
	assert.Equal(t, "10.1.0.7", got.IP)
	env.driver.AssertNumberOfCalls(t, "GetServer", 7)
}

func TestLauncher_PollAbandonTimeout(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name  string
		setup func(env *testEnv)
	}{
		{
			name: "still building",
			setup: func(env *testEnv) {
				env.driver.On("GetServer", mock.Anything, "ext-m1").
					Return(&cloud.Server{ID: "ext-m1", Status: cloud.StatusBuild}, nil)
			},
		},
		{
			name: "server detail unavailable",
			setup: func(env *testEnv) {
				env.driver.On("GetServer", mock.Anything, "ext-m1").Return(nil, errors.New("gateway timeout"))
			},
		},
		{
			name: "ssh not reachable",
			setup: func(env *testEnv) {
				env.driver.On("GetServer", mock.Anything, "ext-m1").
					Return(&cloud.Server{ID: "ext-m1", Status: cloud.StatusActive, PublicIP: "10.1.0.9"}, nil)
				env.driver.On("NeedsFloatingIP").Return(false)
				env.prober.On("Probe", mock.Anything, "10.1.0.9", "jenkins").Return(false, nil)
			},
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestEnv(t)
			provider := seedProvider(t, env.store, "rax", 10)
			image := seedImage(t, env.store, provider, "ubuntu", 0)
			machine := seedMachine(t, env.store, image, "m1", model.MachineBuilding, testNow-901)

			env.driver.On("Close").Return(nil)
			tc.setup(env)

			err := newTestLauncher(env, nil, "").Run(context.Background(), "rax")
			require.Error(t, err)
			assert.Equal(t, model.MachineError, getMachine(t, env.store, machine.ID).State)
		})
	}
}

func TestLauncher_FloatingIPAndRegister(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	ctx := context.Background()
	provider := seedProvider(t, env.store, "rax", 10)
	image := seedImage(t, env.store, provider, "ubuntu", 0)
	machine := seedMachine(t, env.store, image, "m1", model.MachineBuilding, testNow)

	env.driver.On("Close").Return(nil)
	env.driver.On("GetServer", mock.Anything, "ext-m1").Return(&cloud.Server{
		ID:        "ext-m1",
		Status:    cloud.StatusActive,
		PublicIP:  "192.168.0.5",
		PrivateIP: "192.168.0.5",
	}, nil)
	env.driver.On("NeedsFloatingIP").Return(true)
	env.driver.On("AttachFloatingIP", mock.Anything, "ext-m1").Return("203.0.113.9", nil)
	env.prober.On("Probe", mock.Anything, "203.0.113.9", "jenkins").Return(true, nil)
	env.scheduler.On("CreateNode", mock.Anything, mock.MatchedBy(func(node jenkins.Node) bool {
		return node.Name == "m1" && node.Host == "203.0.113.9" && node.Labels == "ubuntu"
	})).Return(nil)

	require.NoError(t, newTestLauncher(env, env.scheduler, "").Run(ctx, "rax"))

	got := getMachine(t, env.store, machine.ID)
	assert.Equal(t, model.MachineReady, got.State)
	assert.Equal(t, "203.0.113.9", got.IP)
	assert.Equal(t, "m1", got.SchedulerName)
	env.scheduler.AssertExpectations(t)
}

func TestLauncher_ProviderNotFound(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	err := newTestLauncher(env, nil, "").Run(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestLauncher_PollStopsOnCancel(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	provider := seedProvider(t, env.store, "rax", 10)
	image := seedImage(t, env.store, provider, "ubuntu", 0)
	seedMachine(t, env.store, image, "m1", model.MachineBuilding, testNow)

	ctx, cancel := context.WithCancel(context.Background())
	env.driver.On("Close").Return(nil)
	env.driver.On("GetServer", mock.Anything, "ext-m1").
		Return(&cloud.Server{ID: "ext-m1", Status: cloud.StatusBuild}, nil).
		Run(func(mock.Arguments) { cancel() })

	l := newTestLauncher(env, nil, "")
	l.pollInterval = time.Second
	err := l.Run(ctx, "rax")
	assert.ErrorIs(t, err, context.Canceled)
}
