package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jimyag/vmpool/internal/vmpool/config"
	"github.com/jimyag/vmpool/internal/vmpool/repository"
	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"github.com/jimyag/vmpool/pkg/cloud"
	"github.com/jimyag/vmpool/pkg/jenkins"
	"github.com/jimyag/vmpool/pkg/sshx"
	"github.com/stretchr/testify/require"
)

// testNow 测试使用的固定起始时间
const testNow int64 = 1_700_000_000

// testClock 可控的时钟，sleep 直接推进时间
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(unix int64) *testClock {
	return &testClock{now: time.Unix(unix, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

// testEnv 每个测试用例独立的数据库和 mock
type testEnv struct {
	store     *repository.Store
	cfg       *config.Config
	clock     *testClock
	driver    *cloud.MockDriver
	prober    *sshx.MockProber
	scheduler *jenkins.MockClient
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tmpDir := t.TempDir()
	store, err := repository.Open(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
		_ = os.RemoveAll(tmpDir)
	})

	return &testEnv{
		store:     store,
		cfg:       testConfig(),
		clock:     newTestClock(testNow),
		driver:    cloud.NewMockDriver(),
		prober:    sshx.NewMockProber(),
		scheduler: jenkins.NewMockClient(),
	}
}

func testConfig() *config.Config {
	return &config.Config{
		NamePrefix:      "ci-",
		MachineLifetime: 24 * time.Hour,
		AbandonTimeout:  900 * time.Second,
		PollInterval:    3 * time.Second,
		MaxQueryErrors:  5,
		SSH:             config.SSHConfig{User: "jenkins"},
		Snapshot:        config.SnapshotConfig{BuildTimeout: time.Hour},
	}
}

func (e *testEnv) drivers() DriverFactory {
	return func(context.Context, *model.Provider) (cloud.Driver, error) {
		return e.driver, nil
	}
}

func seedProvider(t *testing.T, store *repository.Store, name string, maxServers int) *model.Provider {
	t.Helper()
	provider := &model.Provider{Name: name, Driver: "openstack", MaxServers: maxServers}
	require.NoError(t, store.Providers.Create(context.Background(), provider))
	return provider
}

func seedImage(t *testing.T, store *repository.Store, provider *model.Provider, name string, minReady int) *model.BaseImage {
	t.Helper()
	image := &model.BaseImage{
		ProviderID: provider.ID,
		Name:       name,
		ExternalID: "base-" + name,
		MinReady:   minReady,
		MinRAM:     2048,
	}
	require.NoError(t, store.BaseImages.Create(context.Background(), image))
	return image
}

func seedSnapshot(t *testing.T, store *repository.Store, image *model.BaseImage, version int64, state model.SnapshotState, stateTime int64) *model.SnapshotImage {
	t.Helper()
	snapshot := &model.SnapshotImage{
		BaseImageID:      image.ID,
		Name:             image.Name + "-snap",
		Version:          version,
		ExternalID:       "img-" + image.Name,
		ServerExternalID: "tmpl-" + image.Name,
		State:            state,
		StateTime:        stateTime,
	}
	require.NoError(t, store.SnapshotImages.Create(context.Background(), snapshot))
	return snapshot
}

func seedMachine(t *testing.T, store *repository.Store, image *model.BaseImage, name string, state model.MachineState, stateTime int64) *model.Machine {
	t.Helper()
	machine := &model.Machine{
		BaseImageID: image.ID,
		ProviderID:  image.ProviderID,
		ExternalID:  "ext-" + name,
		Name:        name,
		IP:          "10.0.0.1",
		State:       state,
		StateTime:   stateTime,
	}
	require.NoError(t, store.Machines.Create(context.Background(), machine))
	return machine
}

func getMachine(t *testing.T, store *repository.Store, id int64) *model.Machine {
	t.Helper()
	machine, err := store.Machines.GetByID(context.Background(), id)
	require.NoError(t, err)
	return machine
}
