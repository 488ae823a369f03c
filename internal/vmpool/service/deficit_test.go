package service

import (
	"context"
	"testing"

	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeficit(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name                                              string
		minReady, ready, building, providerTotal, maxSrvs int
		expected                                          int
	}{
		{name: "below min ready", minReady: 5, ready: 2, building: 1, providerTotal: 3, maxSrvs: 10, expected: 2},
		{name: "capped by provider headroom", minReady: 10, ready: 0, building: 0, providerTotal: 9, maxSrvs: 10, expected: 1},
		{name: "building counts toward ready", minReady: 3, ready: 1, building: 2, providerTotal: 3, maxSrvs: 10, expected: 0},
		{name: "over min ready", minReady: 2, ready: 5, building: 0, providerTotal: 5, maxSrvs: 10, expected: 0},
		{name: "provider over max", minReady: 4, ready: 0, building: 0, providerTotal: 12, maxSrvs: 10, expected: 0},
		{name: "zero min ready", minReady: 0, ready: 0, building: 0, providerTotal: 0, maxSrvs: 10, expected: 0},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Deficit(tc.minReady, tc.ready, tc.building, tc.providerTotal, tc.maxSrvs)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestDeficitCalculator_Compute(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	ctx := context.Background()

	provider := seedProvider(t, env.store, "rax", 10)
	ubuntu := seedImage(t, env.store, provider, "ubuntu", 5)
	centos := seedImage(t, env.store, provider, "centos", 1)

	seedMachine(t, env.store, ubuntu, "u1", model.MachineReady, testNow)
	seedMachine(t, env.store, ubuntu, "u2", model.MachineReady, testNow)
	seedMachine(t, env.store, ubuntu, "u3", model.MachineBuilding, testNow)
	seedMachine(t, env.store, centos, "c1", model.MachineUsed, testNow)

	calc := NewDeficitCalculator(env.store)
	need, err := calc.Compute(ctx, provider, ubuntu)
	require.NoError(t, err)
	assert.Equal(t, 2, need)

	// 每次都重新计数
	seedMachine(t, env.store, ubuntu, "u4", model.MachineBuilding, testNow)
	need, err = calc.Compute(ctx, provider, ubuntu)
	require.NoError(t, err)
	assert.Equal(t, 1, need)
}
