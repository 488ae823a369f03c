package cloudinit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIHt5 vmpool@test"

func TestNewSeedValidation(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name string
		opts Options
	}{
		{name: "no hostname", opts: Options{User: "jenkins", Keys: []string{testKey}}},
		{name: "no user", opts: Options{Hostname: "ci-1", Keys: []string{testKey}}},
		{name: "no key", opts: Options{Hostname: "ci-1", User: "jenkins"}},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewSeed(tc.opts)
			assert.Error(t, err)
		})
	}
}

func TestRenderMetaData(t *testing.T) {
	t.Parallel()

	seed, err := NewSeed(Options{Hostname: "ci-ubuntu-1", User: "jenkins", Keys: []string{testKey}})
	require.NoError(t, err)

	data, err := seed.RenderMetaData()
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, "i-ci-ubuntu-1", got["instance-id"])
	assert.Equal(t, "ci-ubuntu-1", got["local-hostname"])
}

func TestRenderUserData(t *testing.T) {
	t.Parallel()

	seed, err := NewSeed(Options{
		Hostname: "ci-ubuntu-1",
		User:     "jenkins",
		Keys:     []string{testKey},
		Commands: []string{"systemctl restart ssh"},
	})
	require.NoError(t, err)

	data, err := seed.RenderUserData()
	require.NoError(t, err)
	assert.True(t, len(data) > 0 && string(data[:14]) == "#cloud-config\n")

	var got struct {
		Users []any    `yaml:"users"`
		SSH   bool     `yaml:"ssh_pwauth"`
		Cmds  []string `yaml:"runcmd"`
	}
	require.NoError(t, yaml.Unmarshal(data, &got))
	require.Len(t, got.Users, 2)
	assert.Equal(t, "default", got.Users[0])

	user, ok := got.Users[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "jenkins", user["name"])
	assert.Equal(t, []any{testKey}, user["ssh_authorized_keys"])
	assert.Equal(t, true, user["lock_passwd"])
	assert.False(t, got.SSH)
	assert.Equal(t, []string{"systemctl restart ssh"}, got.Cmds)
}

func TestWriteFiles(t *testing.T) {
	t.Parallel()

	seed, err := NewSeed(Options{Hostname: "ci-1", User: "jenkins", Keys: []string{testKey}})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, seed.writeFiles(dir))
	assert.FileExists(t, filepath.Join(dir, "meta-data"))
	assert.FileExists(t, filepath.Join(dir, "user-data"))
}

func TestWriteISO(t *testing.T) {
	t.Parallel()

	seed, err := NewSeed(Options{Hostname: "ci-1", User: "jenkins", Keys: []string{testKey}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "seeds", "ci-1-cidata.iso")
	err = seed.WriteISO(context.Background(), path)
	if errors.Is(err, ErrNoISOTool) {
		t.Skip("iso tool not installed")
	}
	require.NoError(t, err)
	assert.FileExists(t, path)

	require.NoError(t, RemoveISO(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, RemoveISO(path))
}
