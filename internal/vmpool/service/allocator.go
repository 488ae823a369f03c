package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jimyag/vmpool/internal/vmpool/config"
	"github.com/jimyag/vmpool/internal/vmpool/entity"
	"github.com/jimyag/vmpool/internal/vmpool/repository"
	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"github.com/jimyag/vmpool/pkg/apierror"
	"github.com/jimyag/vmpool/pkg/sshx"
	"github.com/rs/zerolog"
)

// JobInfo 创建任务结果时记录的任务信息
type JobInfo struct {
	JobName        string
	BuildNumber    string
	ChangeNumber   string
	PatchsetNumber string
}

// Allocator 领取和归还机器，记录任务结果
type Allocator struct {
	store   *repository.Store
	nodes   *schedulerNodes
	prober  sshx.Prober
	sshUser string
	now     func() time.Time
}

// NewAllocator 创建 Allocator，scheduler 可以为 nil
func NewAllocator(store *repository.Store, cfg *config.Config, scheduler Scheduler, prober sshx.Prober) *Allocator {
	return &Allocator{
		store: store,
		nodes: &schedulerNodes{
			scheduler:   scheduler,
			sshUser:     cfg.SSH.User,
			credentials: cfg.Scheduler.Credentials,
			labels:      cfg.Scheduler.Labels,
		},
		prober:  prober,
		sshUser: cfg.SSH.User,
		now:     time.Now,
	}
}

// Claim 原子地领取指定镜像最早 READY 的机器，并发调用不会拿到同一台
func (a *Allocator) Claim(ctx context.Context, imageName string) (*model.Machine, error) {
	if strings.TrimSpace(imageName) == "" {
		return nil, apierror.InvalidParameter("image name is required")
	}

	machine, err := a.store.Machines.ClaimReady(ctx, imageName, a.now().Unix())
	if err != nil {
		return nil, storeError(err, apierror.ErrNoMachineAvailable, "no ready machine for image %s", imageName)
	}

	zerolog.Ctx(ctx).Info().
		Int64("machine_id", machine.ID).
		Str("machine", machine.Name).
		Str("image", imageName).
		Msg("Machine claimed")
	return machine, nil
}

// CreateResult 为机器创建一条未结束的任务结果
func (a *Allocator) CreateResult(ctx context.Context, machine *model.Machine, job JobInfo) (*model.Result, error) {
	image, err := a.store.BaseImages.GetByID(ctx, machine.BaseImageID)
	if err != nil {
		return nil, storeError(err, apierror.ErrImageNotFound, "base image %d of machine %d", machine.BaseImageID, machine.ID)
	}
	provider, err := a.store.Providers.GetByID(ctx, image.ProviderID)
	if err != nil {
		return nil, storeError(err, apierror.ErrProviderNotFound, "provider %d of image %s", image.ProviderID, image.Name)
	}

	result := &model.Result{
		MachineID:      machine.ID,
		BaseImageID:    image.ID,
		ProviderName:   provider.Name,
		ImageName:      image.Name,
		JobName:        job.JobName,
		BuildNumber:    job.BuildNumber,
		ChangeNumber:   job.ChangeNumber,
		PatchsetNumber: job.PatchsetNumber,
		StartTime:      a.now().Unix(),
		Result:         model.ResultUnset,
	}
	if err := a.store.Results.Create(ctx, result); err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to create result", err)
	}
	return result, nil
}

// SetResult 写入任务结果，TIMEOUT 不会覆盖已有结果
func (a *Allocator) SetResult(ctx context.Context, resultID int64, code string) (*entity.ReportResultResponse, error) {
	rc := model.ResultCode(strings.ToUpper(strings.TrimSpace(code)))
	if !rc.Valid() {
		return nil, apierror.InvalidParameter("unknown result %q, expect SUCCESS, FAILURE or TIMEOUT", code)
	}

	changed, err := a.store.Results.SetResult(ctx, resultID, rc, a.now().Unix())
	if err != nil {
		return nil, storeError(err, apierror.ErrResultNotFound, "result %d", resultID)
	}
	result, err := a.store.Results.GetByID(ctx, resultID)
	if err != nil {
		return nil, storeError(err, apierror.ErrResultNotFound, "result %d", resultID)
	}

	zerolog.Ctx(ctx).Info().
		Int64("result_id", resultID).
		Str("result", string(rc)).
		Bool("changed", changed).
		Msg("Result reported")

	e, err := resultModelToEntity(result)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to convert result", err)
	}
	return &entity.ReportResultResponse{Changed: changed, Result: e}, nil
}

// Fetch 领取机器，提供了任务名时同时创建任务结果
func (a *Allocator) Fetch(ctx context.Context, req *entity.FetchMachineRequest) (*entity.FetchMachineResponse, error) {
	machine, err := a.Claim(ctx, req.Image)
	if err != nil {
		return nil, err
	}

	provider, err := a.store.Providers.GetByID(ctx, machine.ProviderID)
	if err != nil {
		return nil, storeError(err, apierror.ErrProviderNotFound, "provider %d of machine %d", machine.ProviderID, machine.ID)
	}

	resp := &entity.FetchMachineResponse{
		IP:        machine.IP,
		Provider:  provider.Name,
		MachineID: machine.ID,
	}
	if req.JobName != "" {
		result, err := a.CreateResult(ctx, machine, JobInfo{
			JobName:        req.JobName,
			BuildNumber:    req.BuildNumber,
			ChangeNumber:   req.ChangeNumber,
			PatchsetNumber: req.PatchsetNumber,
		})
		if err != nil {
			return nil, err
		}
		resp.ResultID = result.ID
	}

	resp.Machine, err = machineModelToEntity(machine)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to convert machine", err)
	}
	return resp, nil
}

// Release 归还机器，HOLD 状态保持不变，其他状态进入 DELETE
func (a *Allocator) Release(ctx context.Context, name string) (*entity.Machine, error) {
	logger := zerolog.Ctx(ctx)

	machine, err := a.findByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if machine.State == model.MachineHold {
		logger.Info().Int64("machine_id", machine.ID).Msg("Machine is held, not releasing")
		return a.toEntity(machine)
	}

	a.nodes.remove(ctx, machine)

	if err := a.store.Machines.Transition(ctx, machine.ID, model.MachineDelete, a.now().Unix()); err != nil {
		return nil, storeError(err, apierror.ErrMachineNotFound, "release machine %d", machine.ID)
	}
	logger.Info().Int64("machine_id", machine.ID).Str("machine", machine.Name).Msg("Machine released")
	return a.reload(ctx, machine.ID)
}

// MarkInProgress 标记任务开始，机器进入 USED 并将调度器节点置为离线
func (a *Allocator) MarkInProgress(ctx context.Context, name string) (*entity.Machine, error) {
	machine, err := a.findByName(ctx, name)
	if err != nil {
		return nil, err
	}

	a.nodes.disable(ctx, machine, "Build started")

	if err := a.store.Machines.Transition(ctx, machine.ID, model.MachineUsed, a.now().Unix()); err != nil {
		return nil, storeError(err, apierror.ErrMachineNotFound, "mark machine %d in progress", machine.ID)
	}
	return a.reload(ctx, machine.ID)
}

// Hold 保留机器，回收器不会删除 HOLD 状态的机器直到其过期
func (a *Allocator) Hold(ctx context.Context, machineID int64) (*entity.Machine, error) {
	if err := a.store.Machines.Transition(ctx, machineID, model.MachineHold, a.now().Unix()); err != nil {
		return nil, storeError(err, apierror.ErrMachineNotFound, "machine %d", machineID)
	}
	zerolog.Ctx(ctx).Info().Int64("machine_id", machineID).Msg("Machine held")
	return a.reload(ctx, machineID)
}

// Give 将可赠送 Provider 的机器交给某个用户：写入公钥、记录用户并进入 HOLD
func (a *Allocator) Give(ctx context.Context, req *entity.GiveMachineRequest) (*entity.Machine, error) {
	logger := zerolog.Ctx(ctx)

	for _, key := range req.PublicKeys {
		if err := sshx.ValidatePublicKey(key); err != nil {
			return nil, apierror.InvalidParameter("invalid public key: %v", err)
		}
	}

	machine, err := a.store.Machines.GetByID(ctx, req.MachineID)
	if err != nil {
		return nil, storeError(err, apierror.ErrMachineNotFound, "machine %d", req.MachineID)
	}
	provider, err := a.store.Providers.GetByID(ctx, machine.ProviderID)
	if err != nil {
		return nil, storeError(err, apierror.ErrProviderNotFound, "provider %d", machine.ProviderID)
	}
	if !provider.Giftable {
		return nil, apierror.WrapError(apierror.ErrNotGiftable,
			fmt.Sprintf("provider %s does not allow giving machines away", provider.Name), nil)
	}
	switch machine.State {
	case model.MachineReady, model.MachineUsed, model.MachineHold:
	default:
		return nil, apierror.InvalidParameter("machine %d is %s", machine.ID, machine.State)
	}
	if machine.IP == "" {
		return nil, apierror.InvalidParameter("machine %d has no address", machine.ID)
	}
	if a.prober == nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "remote execution is not configured", nil)
	}

	cmd, err := sshx.AppendAuthorizedKeysCommand(req.PublicKeys)
	if err != nil {
		return nil, apierror.InvalidParameter("%v", err)
	}
	if out, err := a.prober.Run(ctx, machine.IP, a.sshUser, cmd); err != nil {
		logger.Error().Err(err).Str("output", out).Int64("machine_id", machine.ID).Msg("Failed to add keys")
		return nil, apierror.WrapError(apierror.ErrInternalError, "Unable to add keys", err)
	}

	if err := a.store.Machines.UpdateUser(ctx, machine.ID, req.User); err != nil {
		return nil, storeError(err, apierror.ErrMachineNotFound, "machine %d", machine.ID)
	}
	if err := a.store.Machines.Transition(ctx, machine.ID, model.MachineHold, a.now().Unix()); err != nil {
		return nil, storeError(err, apierror.ErrMachineNotFound, "machine %d", machine.ID)
	}

	logger.Info().
		Int64("machine_id", machine.ID).
		Str("user", req.User).
		Str("ip", machine.IP).
		Msg("Added user to authorized_keys")
	return a.reload(ctx, machine.ID)
}

// findByName 先按调度器节点名查找，再按机器名查找
func (a *Allocator) findByName(ctx context.Context, name string) (*model.Machine, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apierror.InvalidParameter("machine name is required")
	}
	machine, err := a.store.Machines.GetBySchedulerName(ctx, name)
	if err == nil {
		return machine, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to get machine", err)
	}
	machine, err = a.store.Machines.GetByName(ctx, name)
	if err != nil {
		return nil, storeError(err, apierror.ErrMachineNotFound, "machine %s", name)
	}
	return machine, nil
}

func (a *Allocator) reload(ctx context.Context, id int64) (*entity.Machine, error) {
	machine, err := a.store.Machines.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, apierror.ErrMachineNotFound, "machine %d", id)
	}
	return a.toEntity(machine)
}

func (a *Allocator) toEntity(machine *model.Machine) (*entity.Machine, error) {
	e, err := machineModelToEntity(machine)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to convert machine", err)
	}
	return e, nil
}
