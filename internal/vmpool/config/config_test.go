package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
database: /tmp/vmpool-test/vm.db
name_prefix: ci-
abandon_timeout: 15m
providers:
  - name: rax
    max_servers: 10
    giftable: true
    auth_url: https://identity.example.com/v3
    username: ci
    password: secret
    project_name: ci
    region: DFW
    network: private
    base_images:
      - name: precise
        external_id: img-precise
        min_ready: 4
        min_ram: 8192
  - name: lab
    driver: libvirt
    endpoint: qemu:///system
    max_servers: 2
    base_images:
      - name: precise
        external_id: precise-base.qcow2
        min_ready: 1
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vmpool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/vmpool-test/vm.db", cfg.Database)
	assert.Equal(t, "ci-", cfg.NamePrefix)
	assert.Equal(t, 15*time.Minute, cfg.AbandonTimeout)

	// 默认值
	assert.Equal(t, 24*time.Hour, cfg.MachineLifetime)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.MaxQueryErrors)
	assert.Equal(t, "jenkins", cfg.SSH.User)
	assert.Equal(t, 22, cfg.SSH.Port)

	require.Len(t, cfg.Providers, 2)
	rax, ok := cfg.Provider("rax")
	require.True(t, ok)
	assert.Equal(t, "openstack", rax.Driver)
	assert.True(t, rax.Giftable)
	require.Len(t, rax.BaseImages, 1)
	assert.Equal(t, 4, rax.BaseImages[0].MinReady)
	assert.Equal(t, 8192, rax.BaseImages[0].MinRAM)

	lab, ok := cfg.Provider("lab")
	require.True(t, ok)
	assert.Equal(t, "libvirt", lab.Driver)

	_, ok = cfg.Provider("missing")
	assert.False(t, ok)
}

func TestLoad_WithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Database)
	assert.Empty(t, cfg.Providers)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("VMPOOL_SSH_USER", "zuul")
	t.Setenv("VMPOOL_MAX_QUERY_ERRORS", "7")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "zuul", cfg.SSH.User)
	assert.Equal(t, 7, cfg.MaxQueryErrors)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name          string
		content       string
		errorContains string
	}{
		{
			name: "duplicate provider",
			content: `
providers:
  - name: a
  - name: a
`,
			errorContains: `provider "a" defined more than once`,
		},
		{
			name: "unknown driver",
			content: `
providers:
  - name: a
    driver: vmware
`,
			errorContains: `unknown driver "vmware"`,
		},
		{
			name: "duplicate image",
			content: `
providers:
  - name: a
    base_images:
      - name: precise
      - name: precise
`,
			errorContains: `base image "precise" defined more than once`,
		},
		{
			name: "negative min_ready",
			content: `
providers:
  - name: a
    base_images:
      - name: precise
        min_ready: -1
`,
			errorContains: "min_ready must not be negative",
		},
		{
			name:          "zero reap interval",
			content:       "reap_interval: 0s\n",
			errorContains: "reap_interval must be positive",
		},
		{
			name:          "zero launch interval",
			content:       "launch_interval: 0s\n",
			errorContains: "launch_interval must be positive",
		},
		{
			name:          "negative check interval",
			content:       "check_interval: -1m\n",
			errorContains: "check_interval must be positive",
		},
		{
			name:          "zero machine lifetime",
			content:       "machine_lifetime: 0s\n",
			errorContains: "machine_lifetime must be positive",
		},
		{
			name:          "negative abandon timeout",
			content:       "abandon_timeout: -1s\n",
			errorContains: "abandon_timeout must be positive",
		},
		{
			name:          "zero poll interval",
			content:       "poll_interval: 0s\n",
			errorContains: "poll_interval must be positive",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errorContains)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDump_MasksSecrets(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	cfg.Scheduler.APIToken = "token"

	var buf bytes.Buffer
	require.NoError(t, cfg.Dump(&buf))

	out := buf.String()
	assert.NotContains(t, out, "secret")
	assert.NotContains(t, out, "token\n")
	assert.Contains(t, out, "name: rax")
	assert.Contains(t, out, "abandon_timeout: 15m0s")

	// 原配置不受影响
	rax, _ := cfg.Provider("rax")
	assert.Equal(t, "secret", rax.Password)
}
