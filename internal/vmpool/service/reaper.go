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
	"github.com/jimyag/vmpool/pkg/cloud"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ReapOptions 回收选项
type ReapOptions struct {
	// AllServers 删除所有机器
	AllServers bool
	// AllImages 删除所有非当前快照镜像
	AllImages bool
}

// Reaper 回收过期、出错和超额的机器以及旧快照镜像
type Reaper struct {
	store    *repository.Store
	drivers  DriverFactory
	nodes    *schedulerNodes
	lifetime time.Duration
	now      func() time.Time
}

// NewReaper 创建 Reaper
func NewReaper(store *repository.Store, cfg *config.Config, drivers DriverFactory, scheduler Scheduler) *Reaper {
	return &Reaper{
		store:    store,
		drivers:  drivers,
		nodes:    &schedulerNodes{scheduler: scheduler},
		lifetime: cfg.MachineLifetime,
		now:      time.Now,
	}
}

// reapPass 一次回收过程中的状态
type reapPass struct {
	driver cloud.Driver
	now    int64
	// destroyed 本次已经向提供商发出删除的机器
	destroyed map[int64]bool
}

// Run 对一个 Provider 执行一次回收
// 单个资源失败只记录并聚合，超额无法消除时返回 ErrOvercommitUnresolvable
func (r *Reaper) Run(ctx context.Context, providerName string, opts ReapOptions) error {
	logger := zerolog.Ctx(ctx).With().Str("provider", providerName).Logger()
	ctx = logger.WithContext(ctx)

	provider, err := r.store.Providers.GetByName(ctx, providerName)
	if err != nil {
		return storeError(err, apierror.ErrProviderNotFound, "provider %s", providerName)
	}
	driver, err := r.drivers(ctx, provider)
	if err != nil {
		return fmt.Errorf("create driver for provider %s: %w", provider.Name, err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close driver")
		}
	}()

	if opts.AllServers {
		logger.Info().Msg("Reaping all known machines")
	}
	if opts.AllImages {
		logger.Info().Msg("Reaping all known images")
	}

	pass := &reapPass{
		driver:    driver,
		now:       r.now().Unix(),
		destroyed: make(map[int64]bool),
	}

	var errs []error
	errs = append(errs, r.sweepMachines(ctx, provider, pass, opts)...)

	images, err := r.store.BaseImages.ListByProvider(ctx, provider.ID)
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("list base images: %w", err))...)
	}
	errs = append(errs, r.sweepImages(ctx, images, pass, opts)...)

	if err := r.resolveOvercommit(ctx, provider, images, pass, &errs); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// sweepMachines 删除 DELETE、ERROR 以及非 READY 且超过生命周期的机器
func (r *Reaper) sweepMachines(ctx context.Context, provider *model.Provider, pass *reapPass, opts ReapOptions) []error {
	logger := zerolog.Ctx(ctx)

	machines, err := r.store.Machines.ListByProvider(ctx, provider.ID)
	if err != nil {
		return []error{fmt.Errorf("list machines: %w", err)}
	}

	lifetime := int64(r.lifetime / time.Second)
	var errs []error
	for _, machine := range machines {
		expired := machine.State != model.MachineReady && machine.StateAge(pass.now) > lifetime
		if !opts.AllServers && !expired &&
			machine.State != model.MachineDelete && machine.State != model.MachineError {
			continue
		}
		logger.Info().
			Int64("machine_id", machine.ID).
			Str("machine", machine.Name).
			Str("state", string(machine.State)).
			Msg("Deleting machine")
		if err := r.deleteMachine(ctx, machine, pass); err != nil {
			logger.Error().Err(err).Int64("machine_id", machine.ID).Msg("Failed to delete machine")
			errs = append(errs, err)
		}
	}
	return errs
}

// sweepImages 删除非当前且超过生命周期的快照镜像
func (r *Reaper) sweepImages(ctx context.Context, images []*model.BaseImage, pass *reapPass, opts ReapOptions) []error {
	logger := zerolog.Ctx(ctx)
	lifetime := int64(r.lifetime / time.Second)

	var errs []error
	for _, image := range images {
		current, err := r.store.SnapshotImages.Current(ctx, image.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("current snapshot of %s: %w", image.Name, err))
			continue
		}
		snapshots, err := r.store.SnapshotImages.ListByBaseImage(ctx, image.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("list snapshots of %s: %w", image.Name, err))
			continue
		}

		for _, snapshot := range snapshots {
			if current != nil && snapshot.ID == current.ID {
				continue
			}
			if !opts.AllImages && snapshot.StateAge(pass.now) <= lifetime {
				continue
			}
			logger.Info().Str("snapshot", snapshot.Name).Msg("Deleting image")
			if err := r.deleteImage(ctx, snapshot, pass); err != nil {
				logger.Error().Err(err).Str("snapshot", snapshot.Name).Msg("Failed to delete image")
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// resolveOvercommit 删除非 READY、非 BUILDING 的机器直到为所有镜像的 min_ready 留出余量
func (r *Reaper) resolveOvercommit(
	ctx context.Context,
	provider *model.Provider,
	images []*model.BaseImage,
	pass *reapPass,
	errs *[]error,
) error {
	logger := zerolog.Ctx(ctx)

	machines, err := r.store.Machines.ListByProvider(ctx, provider.ID)
	if err != nil {
		return fmt.Errorf("list machines: %w", err)
	}

	minReady := lo.SumBy(images, func(image *model.BaseImage) int { return image.MinReady })
	ready := lo.CountBy(machines, func(m *model.Machine) bool { return m.State == model.MachineReady })
	overcommit := (len(machines) - ready + minReady) - provider.MaxServers

	eligible := lo.Filter(machines, func(m *model.Machine, _ int) bool {
		return m.State != model.MachineReady && m.State != model.MachineBuilding
	})
	// 本次已经删除过的机器优先抵扣，不再重复删除
	alreadyGone := lo.Filter(eligible, func(m *model.Machine, _ int) bool { return pass.destroyed[m.ID] })
	rest := lo.Filter(eligible, func(m *model.Machine, _ int) bool { return !pass.destroyed[m.ID] })
	eligible = append(alreadyGone, rest...)

	counted := make(map[int64]bool, len(eligible))
	for overcommit > 0 {
		logger.Warn().Int("overcommit", overcommit).Msg("Provider is overcommitted")
		last := overcommit

		for _, machine := range eligible {
			if overcommit <= 0 {
				break
			}
			if counted[machine.ID] {
				continue
			}
			if pass.destroyed[machine.ID] {
				counted[machine.ID] = true
				overcommit--
				continue
			}
			logger.Info().Int64("machine_id", machine.ID).Str("machine", machine.Name).Msg("Deleting machine")
			if err := r.deleteMachine(ctx, machine, pass); err != nil {
				logger.Error().Err(err).Int64("machine_id", machine.ID).Msg("Failed to delete machine")
				*errs = append(*errs, err)
				continue
			}
			counted[machine.ID] = true
			overcommit--
		}

		if overcommit == last {
			return apierror.WrapError(apierror.ErrOvercommitUnresolvable,
				fmt.Sprintf("unable to reduce overcommitment of provider %s (still %d over max_servers %d)",
					provider.Name, overcommit, provider.MaxServers), nil)
		}
	}
	return nil
}

// deleteMachine 提供商侧已不存在时删除记录；否则发出删除并标记 DELETE，下一次回收确认后再删除记录
func (r *Reaper) deleteMachine(ctx context.Context, machine *model.Machine, pass *reapPass) error {
	logger := zerolog.Ctx(ctx)

	if machine.ExternalID != "" {
		_, err := pass.driver.GetServer(ctx, machine.ExternalID)
		switch {
		case cloud.IsNotFound(err):
			logger.Debug().Str("server_id", machine.ExternalID).Msg("Server not found")
		case err != nil:
			return fmt.Errorf("get server %s of machine %d: %w", machine.ExternalID, machine.ID, err)
		default:
			if err := pass.driver.DeleteServer(ctx, machine.ExternalID); err != nil && !cloud.IsNotFound(err) {
				return fmt.Errorf("delete server %s of machine %d: %w", machine.ExternalID, machine.ID, err)
			}
			pass.destroyed[machine.ID] = true
			r.nodes.remove(ctx, machine)
			if machine.State != model.MachineDelete {
				if err := r.store.Machines.Transition(ctx, machine.ID, model.MachineDelete, pass.now); err != nil {
					return fmt.Errorf("mark machine %d deleted: %w", machine.ID, err)
				}
				machine.State = model.MachineDelete
			}
			return nil
		}
	}

	r.nodes.remove(ctx, machine)
	if err := r.store.Machines.Delete(ctx, machine.ID); err != nil {
		return fmt.Errorf("delete machine %d: %w", machine.ID, err)
	}
	pass.destroyed[machine.ID] = true
	return nil
}

// deleteImage 删除快照构建用的服务器、提供商侧镜像和记录
func (r *Reaper) deleteImage(ctx context.Context, snapshot *model.SnapshotImage, pass *reapPass) error {
	if snapshot.ServerExternalID != "" {
		if err := pass.driver.DeleteServer(ctx, snapshot.ServerExternalID); err != nil && !cloud.IsNotFound(err) {
			return fmt.Errorf("delete server %s of snapshot %s: %w", snapshot.ServerExternalID, snapshot.Name, err)
		}
	}
	if snapshot.ExternalID != "" {
		if err := pass.driver.DeleteImage(ctx, snapshot.ExternalID); err != nil && !cloud.IsNotFound(err) {
			return fmt.Errorf("delete image %s of snapshot %s: %w", snapshot.ExternalID, snapshot.Name, err)
		}
	}
	if err := r.store.SnapshotImages.Delete(ctx, snapshot.ID); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", snapshot.Name, err)
	}
	return nil
}
