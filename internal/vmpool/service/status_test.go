package service

import (
	"context"
	"errors"
	"testing"

	"github.com/jimyag/vmpool/internal/vmpool/entity"
	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"github.com/jimyag/vmpool/pkg/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusService_Status(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	ctx := context.Background()

	rax := seedProvider(t, env.store, "rax", 10)
	ubuntu := seedImage(t, env.store, rax, "ubuntu", 2)
	centos := seedImage(t, env.store, rax, "centos", 1)
	seedSnapshot(t, env.store, ubuntu, testNow, model.SnapshotReady, testNow)
	seedMachine(t, env.store, ubuntu, "u1", model.MachineReady, testNow)
	seedMachine(t, env.store, ubuntu, "u2", model.MachineReady, testNow)
	seedMachine(t, env.store, ubuntu, "u3", model.MachineUsed, testNow)
	seedMachine(t, env.store, centos, "c1", model.MachineBuilding, testNow)

	hp := seedProvider(t, env.store, "hp", 5)
	fedora := seedImage(t, env.store, hp, "fedora", 1)
	seedMachine(t, env.store, fedora, "f1", model.MachineReady, testNow)

	svc := NewStatusService(env.store)

	testcases := []struct {
		name          string
		req           *entity.PoolStatusRequest
		expectedReady int
		expectedErr   error
		providers     int
	}{
		{name: "all providers", req: &entity.PoolStatusRequest{}, expectedReady: 3, providers: 2},
		{name: "one provider", req: &entity.PoolStatusRequest{Provider: "rax"}, expectedReady: 2, providers: 1},
		{name: "threshold met", req: &entity.PoolStatusRequest{Threshold: 3}, expectedReady: 3, providers: 2},
		{
			name:          "threshold not met",
			req:           &entity.PoolStatusRequest{Threshold: 4},
			expectedReady: 3,
			expectedErr:   apierror.ErrThresholdNotMet,
			providers:     2,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			status, err := svc.Status(ctx, tc.req)
			if tc.expectedErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.expectedErr))
			} else {
				require.NoError(t, err)
			}
			require.NotNil(t, status)
			assert.Equal(t, tc.expectedReady, status.Ready)
			assert.Len(t, status.Providers, tc.providers)
		})
	}

	status, err := svc.Status(ctx, &entity.PoolStatusRequest{Provider: "rax"})
	require.NoError(t, err)
	ps := status.Providers[0]
	assert.Equal(t, 4, ps.Total)
	assert.Equal(t, 10, ps.MaxServers)
	assert.Equal(t, map[string]int{"ready": 2, "used": 1, "building": 1}, ps.States)
	require.Len(t, ps.Images, 2)
	for _, is := range ps.Images {
		switch is.Name {
		case "ubuntu":
			assert.Equal(t, "ubuntu-snap", is.Snapshot)
			assert.Equal(t, map[string]int{"ready": 2, "used": 1}, is.States)
		case "centos":
			assert.Empty(t, is.Snapshot)
			assert.Equal(t, map[string]int{"building": 1}, is.States)
		}
	}

	_, err = svc.Status(ctx, &entity.PoolStatusRequest{Provider: "missing"})
	assert.True(t, errors.Is(err, apierror.ErrProviderNotFound))
}
