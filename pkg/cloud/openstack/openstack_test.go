package openstack

import (
	"errors"
	"testing"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/jimyag/vmpool/pkg/cloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddresses(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name        string
		addresses   map[string]interface{}
		wantPublic  string
		wantPrivate string
	}{
		{
			name: "floating ip",
			addresses: map[string]interface{}{
				"private": []interface{}{
					map[string]interface{}{"addr": "10.0.0.5", "version": float64(4), "OS-EXT-IPS:type": "fixed"},
					map[string]interface{}{"addr": "172.24.4.10", "version": float64(4), "OS-EXT-IPS:type": "floating"},
				},
			},
			wantPublic:  "172.24.4.10",
			wantPrivate: "10.0.0.5",
		},
		{
			name: "public network",
			addresses: map[string]interface{}{
				"private": []interface{}{
					map[string]interface{}{"addr": "10.0.0.5", "version": float64(4)},
				},
				"public": []interface{}{
					map[string]interface{}{"addr": "fe80::1", "version": float64(6)},
					map[string]interface{}{"addr": "198.51.100.7", "version": float64(4)},
				},
			},
			wantPublic:  "198.51.100.7",
			wantPrivate: "10.0.0.5",
		},
		{
			name: "only fixed",
			addresses: map[string]interface{}{
				"lan": []interface{}{
					map[string]interface{}{"addr": "192.168.1.20", "version": float64(4), "OS-EXT-IPS:type": "fixed"},
				},
			},
			wantPublic:  "192.168.1.20",
			wantPrivate: "192.168.1.20",
		},
		{
			name:      "no addresses",
			addresses: map[string]interface{}{},
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			public, private := parseAddresses(tc.addresses)
			assert.Equal(t, tc.wantPublic, public)
			assert.Equal(t, tc.wantPrivate, private)
		})
	}
}

func TestToServer(t *testing.T) {
	t.Parallel()

	s := toServer(&servers.Server{
		ID:         "abc",
		Name:       "vmpool-precise-1",
		Status:     "BUILD",
		AccessIPv4: "203.0.113.9",
	})
	assert.Equal(t, cloud.StatusBuild, s.Status)
	assert.Equal(t, "BUILD", s.RawStatus)
	assert.Equal(t, "203.0.113.9", s.PublicIP)
}

func TestSmallestFlavor(t *testing.T) {
	t.Parallel()

	all := []flavors.Flavor{
		{ID: "large", RAM: 16384},
		{ID: "tiny", RAM: 512},
		{ID: "medium", RAM: 8192},
	}

	id, err := smallestFlavor(all, 8000)
	require.NoError(t, err)
	assert.Equal(t, "medium", id)

	id, err = smallestFlavor(all, 0)
	require.NoError(t, err)
	assert.Equal(t, "tiny", id)

	_, err = smallestFlavor(all, 32768)
	assert.Error(t, err)
}

func TestWrapNotFound(t *testing.T) {
	t.Parallel()

	err := wrapNotFound(gophercloud.ErrDefault404{}, "get server %s", "abc")
	assert.True(t, cloud.IsNotFound(err))
	assert.Contains(t, err.Error(), "get server abc")

	err = wrapNotFound(gophercloud.ErrUnexpectedResponseCode{Actual: 404}, "delete image %s", "img")
	assert.True(t, cloud.IsNotFound(err))

	raw := errors.New("connection refused")
	err = wrapNotFound(raw, "get server %s", "abc")
	assert.False(t, cloud.IsNotFound(err))
	assert.ErrorIs(t, err, raw)
}
