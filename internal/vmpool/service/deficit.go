package service

import (
	"context"
	"fmt"

	"github.com/jimyag/vmpool/internal/vmpool/repository"
	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"github.com/rs/zerolog"
)

// Deficit 计算需要新建的机器数量
// READY 和 BUILDING 都计入已有数量，避免提供商很慢时堆积请求；不超过 Provider 剩余容量；不小于 0
func Deficit(minReady, ready, building, providerTotal, maxServers int) int {
	need := minReady - (ready + building)
	need = min(need, maxServers-providerTotal)
	return max(need, 0)
}

// DeficitCalculator 从 Store 读取最新计数计算缺口
type DeficitCalculator struct {
	store *repository.Store
}

// NewDeficitCalculator 创建缺口计算器
func NewDeficitCalculator(store *repository.Store) *DeficitCalculator {
	return &DeficitCalculator{store: store}
}

// Compute 每次调用都重新计数
func (c *DeficitCalculator) Compute(ctx context.Context, provider *model.Provider, image *model.BaseImage) (int, error) {
	ready, err := c.store.Machines.CountByBaseImage(ctx, image.ID, model.MachineReady)
	if err != nil {
		return 0, fmt.Errorf("count ready machines of %s: %w", image.Name, err)
	}
	building, err := c.store.Machines.CountByBaseImage(ctx, image.ID, model.MachineBuilding)
	if err != nil {
		return 0, fmt.Errorf("count building machines of %s: %w", image.Name, err)
	}
	total, err := c.store.Machines.CountByProvider(ctx, provider.ID)
	if err != nil {
		return 0, fmt.Errorf("count machines of %s: %w", provider.Name, err)
	}

	need := Deficit(image.MinReady, ready, building, total, provider.MaxServers)

	zerolog.Ctx(ctx).Info().
		Str("provider", provider.Name).
		Str("image", image.Name).
		Int("ready", ready).
		Int("building", building).
		Int("provider_total", total).
		Int("provider_max", provider.MaxServers).
		Int("need", need).
		Msg("Computed deficit")
	return need, nil
}
