package repository

import (
	"context"
	"testing"

	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultRepository_SetResult(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name        string
		sequence    []model.ResultCode
		wantApplied []bool
		want        model.ResultCode
	}{
		{
			name:        "timeout on unset result",
			sequence:    []model.ResultCode{model.ResultTimeout},
			wantApplied: []bool{true},
			want:        model.ResultTimeout,
		},
		{
			name:        "timeout never overwrites success",
			sequence:    []model.ResultCode{model.ResultSuccess, model.ResultTimeout},
			wantApplied: []bool{true, false},
			want:        model.ResultSuccess,
		},
		{
			name:        "failure overwrites timeout",
			sequence:    []model.ResultCode{model.ResultTimeout, model.ResultFailure},
			wantApplied: []bool{true, true},
			want:        model.ResultFailure,
		},
		{
			name:        "success overwrites failure",
			sequence:    []model.ResultCode{model.ResultFailure, model.ResultSuccess},
			wantApplied: []bool{true, true},
			want:        model.ResultSuccess,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := setupTestDB(t)
			ctx := context.Background()

			result := &model.Result{MachineID: 1, BaseImageID: 1, JobName: "gate-tempest", StartTime: 10}
			require.NoError(t, store.Results.Create(ctx, result))

			var wantEnd int64
			for i, code := range tc.sequence {
				applied, err := store.Results.SetResult(ctx, result.ID, code, int64(100+i))
				require.NoError(t, err)
				assert.Equal(t, tc.wantApplied[i], applied, "step %d", i)
				if applied {
					wantEnd = int64(100 + i)
				}
			}

			got, err := store.Results.GetByID(ctx, result.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Result)
			// 被忽略的 TIMEOUT 不修改 end_time
			assert.Equal(t, wantEnd, got.EndTime)
		})
	}
}

func TestResultRepository_Missing(t *testing.T) {
	t.Parallel()

	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.Results.SetResult(ctx, 42, model.ResultSuccess, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Results.SetResult(ctx, 42, model.ResultTimeout, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResultRepository_ListByMachine(t *testing.T) {
	t.Parallel()

	store := setupTestDB(t)
	ctx := context.Background()

	for _, job := range []string{"a", "b"} {
		require.NoError(t, store.Results.Create(ctx, &model.Result{MachineID: 7, JobName: job}))
	}
	require.NoError(t, store.Results.Create(ctx, &model.Result{MachineID: 8, JobName: "c"}))

	results, err := store.Results.ListByMachine(ctx, 7)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].JobName)
}
