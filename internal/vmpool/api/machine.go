package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vmpool/internal/vmpool/entity"
	"github.com/jimyag/vmpool/internal/vmpool/service"
	"github.com/jimyag/vmpool/pkg/ginx"
	"github.com/rs/zerolog"
)

// AllocatorInterface 领取、归还、保留、赠送机器以及上报任务结果
type AllocatorInterface interface {
	Fetch(ctx context.Context, req *entity.FetchMachineRequest) (*entity.FetchMachineResponse, error)
	Release(ctx context.Context, name string) (*entity.Machine, error)
	MarkInProgress(ctx context.Context, name string) (*entity.Machine, error)
	Hold(ctx context.Context, machineID int64) (*entity.Machine, error)
	Give(ctx context.Context, req *entity.GiveMachineRequest) (*entity.Machine, error)
	SetResult(ctx context.Context, resultID int64, code string) (*entity.ReportResultResponse, error)
}

var _ AllocatorInterface = (*service.Allocator)(nil)

type Machine struct {
	allocator AllocatorInterface
}

func NewMachine(allocator AllocatorInterface) *Machine {
	return &Machine{allocator: allocator}
}

func (m *Machine) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/machines/fetch", ginx.Adapt5(m.Fetch))
	router.POST("/machines/release", ginx.Adapt5(m.Release))
	router.POST("/machines/inprogress", ginx.Adapt5(m.InProgress))
	router.POST("/machines/hold", ginx.Adapt5(m.Hold))
	router.POST("/machines/give", ginx.Adapt5(m.Give))
}

func (m *Machine) Fetch(ctx *gin.Context, req *entity.FetchMachineRequest) (*entity.FetchMachineResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("image", req.Image).
		Str("job", req.JobName).
		Msg("Fetch called")

	resp, err := m.allocator.Fetch(ctx, req)
	if err != nil {
		logger.Warn().Err(err).Str("image", req.Image).Msg("Failed to fetch machine")
		return nil, err
	}
	return resp, nil
}

func (m *Machine) Release(ctx *gin.Context, req *entity.MachineNameRequest) (*entity.MachineResponse, error) {
	machine, err := m.allocator.Release(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	return &entity.MachineResponse{Machine: machine}, nil
}

func (m *Machine) InProgress(ctx *gin.Context, req *entity.MachineNameRequest) (*entity.MachineResponse, error) {
	machine, err := m.allocator.MarkInProgress(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	return &entity.MachineResponse{Machine: machine}, nil
}

func (m *Machine) Hold(ctx *gin.Context, req *entity.HoldMachineRequest) (*entity.MachineResponse, error) {
	machine, err := m.allocator.Hold(ctx, req.MachineID)
	if err != nil {
		return nil, err
	}
	return &entity.MachineResponse{Machine: machine}, nil
}

func (m *Machine) Give(ctx *gin.Context, req *entity.GiveMachineRequest) (*entity.MachineResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Int64("machine_id", req.MachineID).
		Str("user", req.User).
		Int("keys", len(req.PublicKeys)).
		Msg("Give called")

	machine, err := m.allocator.Give(ctx, req)
	if err != nil {
		logger.Error().Err(err).Int64("machine_id", req.MachineID).Msg("Failed to give machine")
		return nil, err
	}
	return &entity.MachineResponse{Machine: machine}, nil
}
