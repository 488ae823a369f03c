package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jimyag/vmpool/internal/vmpool/config"
	"github.com/jimyag/vmpool/internal/vmpool/repository"
	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"github.com/jimyag/vmpool/pkg/apierror"
	"github.com/jimyag/vmpool/pkg/sshx"
	"github.com/rs/zerolog"
)

// Checker 重新探测 READY 机器，不可达的机器进入 DELETE 并删除调度器节点
type Checker struct {
	store   *repository.Store
	prober  sshx.Prober
	nodes   *schedulerNodes
	sshUser string
	now     func() time.Time
}

// NewChecker 创建 Checker
func NewChecker(store *repository.Store, cfg *config.Config, prober sshx.Prober, scheduler Scheduler) *Checker {
	return &Checker{
		store:   store,
		prober:  prober,
		nodes:   &schedulerNodes{scheduler: scheduler},
		sshUser: cfg.SSH.User,
		now:     time.Now,
	}
}

// Run 检查一个 Provider 的所有 READY 机器
func (c *Checker) Run(ctx context.Context, providerName string) error {
	logger := zerolog.Ctx(ctx).With().Str("provider", providerName).Logger()
	ctx = logger.WithContext(ctx)

	provider, err := c.store.Providers.GetByName(ctx, providerName)
	if err != nil {
		return storeError(err, apierror.ErrProviderNotFound, "provider %s", providerName)
	}
	machines, err := c.store.Machines.ListByProvider(ctx, provider.ID, model.MachineReady)
	if err != nil {
		return fmt.Errorf("list ready machines: %w", err)
	}

	var errs []error
	for _, machine := range machines {
		logger.Debug().Int64("machine_id", machine.ID).Str("machine", machine.Name).Msg("Checking machine")

		ok, err := c.prober.Probe(ctx, machine.IP, c.sshUser)
		if err != nil {
			errs = append(errs, fmt.Errorf("probe machine %d: %w", machine.ID, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if ok {
			continue
		}

		changed, err := c.store.Machines.TransitionFrom(ctx, machine.ID,
			model.MachineReady, model.MachineDelete, c.now().Unix())
		if err != nil {
			errs = append(errs, fmt.Errorf("mark machine %d deleted: %w", machine.ID, err))
			continue
		}
		if !changed {
			// 检查期间已被领取
			continue
		}
		logger.Warn().
			Int64("machine_id", machine.ID).
			Str("ip", machine.IP).
			Msg("Machine unreachable, set deleted")
		c.nodes.remove(ctx, machine)
	}
	return errors.Join(errs...)
}
