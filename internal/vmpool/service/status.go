package service

import (
	"context"
	"fmt"

	"github.com/jimyag/vmpool/internal/vmpool/entity"
	"github.com/jimyag/vmpool/internal/vmpool/repository"
	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"github.com/jimyag/vmpool/pkg/apierror"
	"github.com/samber/lo"
)

// StatusService 汇总池的占用情况
type StatusService struct {
	store *repository.Store
}

// NewStatusService 创建 StatusService
func NewStatusService(store *repository.Store) *StatusService {
	return &StatusService{store: store}
}

// Status 返回每个 Provider、每个基础镜像各状态的机器数量
// Threshold 大于 0 且 READY 总数低于它时同时返回 ErrThresholdNotMet
func (s *StatusService) Status(ctx context.Context, req *entity.PoolStatusRequest) (*entity.PoolStatus, error) {
	providers, err := s.providers(ctx, req.Provider)
	if err != nil {
		return nil, err
	}

	status := &entity.PoolStatus{
		Providers: make([]entity.ProviderStatus, 0, len(providers)),
		Threshold: req.Threshold,
	}
	for _, provider := range providers {
		ps, err := s.providerStatus(ctx, provider)
		if err != nil {
			return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to collect provider status", err)
		}
		status.Ready += ps.States[string(model.MachineReady)]
		status.Providers = append(status.Providers, *ps)
	}

	if req.Threshold > 0 && status.Ready < req.Threshold {
		return status, apierror.WrapError(apierror.ErrThresholdNotMet,
			fmt.Sprintf("%d ready machines, threshold is %d", status.Ready, req.Threshold), nil)
	}
	return status, nil
}

func (s *StatusService) providers(ctx context.Context, name string) ([]*model.Provider, error) {
	if name == "" {
		providers, err := s.store.Providers.List(ctx)
		if err != nil {
			return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to list providers", err)
		}
		return providers, nil
	}
	provider, err := s.store.Providers.GetByName(ctx, name)
	if err != nil {
		return nil, storeError(err, apierror.ErrProviderNotFound, "provider %s", name)
	}
	return []*model.Provider{provider}, nil
}

func (s *StatusService) providerStatus(ctx context.Context, provider *model.Provider) (*entity.ProviderStatus, error) {
	images, err := s.store.BaseImages.ListByProvider(ctx, provider.ID)
	if err != nil {
		return nil, err
	}
	machines, err := s.store.Machines.ListByProvider(ctx, provider.ID)
	if err != nil {
		return nil, err
	}

	byImage := lo.GroupBy(machines, func(m *model.Machine) int64 { return m.BaseImageID })

	ps := &entity.ProviderStatus{
		Name:       provider.Name,
		MaxServers: provider.MaxServers,
		Total:      len(machines),
		States:     countStates(machines),
		Images:     make([]entity.ImageStatus, 0, len(images)),
	}
	for _, image := range images {
		is := entity.ImageStatus{
			Name:     image.Name,
			MinReady: image.MinReady,
			States:   countStates(byImage[image.ID]),
		}
		current, err := s.store.SnapshotImages.Current(ctx, image.ID)
		if err != nil {
			return nil, err
		}
		if current != nil {
			is.Snapshot = current.Name
		}
		ps.Images = append(ps.Images, is)
	}
	return ps, nil
}

func countStates(machines []*model.Machine) map[string]int {
	groups := lo.GroupBy(machines, func(m *model.Machine) string { return string(m.State) })
	return lo.MapValues(groups, func(ms []*model.Machine, _ string) int { return len(ms) })
}
