package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jimyag/vmpool/internal/vmpool/entity"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintStatus(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	printStatus(cmd, &entity.PoolStatus{
		Ready: 2,
		Providers: []entity.ProviderStatus{{
			Name:       "rax",
			MaxServers: 10,
			Total:      3,
			States:     map[string]int{"ready": 2, "used": 1},
			Images: []entity.ImageStatus{
				{Name: "ubuntu", MinReady: 2, Snapshot: "ubuntu-1700000000", States: map[string]int{"ready": 2, "used": 1}},
				{Name: "centos", MinReady: 0},
			},
		}},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "PROVIDER"))
	assert.Contains(t, lines[1], "centos")
	assert.Contains(t, lines[1], "-")
	assert.Contains(t, lines[2], "ubuntu-1700000000")
	assert.Contains(t, lines[3], "(total 3/10)")
	assert.Equal(t, []string{"READY", "2"}, strings.Fields(lines[4]))
}

func TestConfigDump(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vmpool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database: `+filepath.Join(dir, "vm.db")+`
providers:
  - name: rax
    max_servers: 5
    password: hunter2
`), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", path, "config-dump"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "rax")
	assert.NotContains(t, out.String(), "hunter2")
	assert.Nil(t, server)
}
