package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jimyag/vmpool/internal/vmpool/config"
	"github.com/jimyag/vmpool/internal/vmpool/repository"
	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"github.com/rs/zerolog"
)

// ProviderService 将配置文件中的 Provider 和基础镜像同步到数据库
type ProviderService struct {
	store *repository.Store
}

// NewProviderService 创建 ProviderService
func NewProviderService(store *repository.Store) *ProviderService {
	return &ProviderService{store: store}
}

// Sync 创建或更新配置中的 Provider 和基础镜像，配置中没有的记录保持不变
func (s *ProviderService) Sync(ctx context.Context, providers []config.ProviderConfig) error {
	var errs []error
	for i := range providers {
		if err := s.syncProvider(ctx, &providers[i]); err != nil {
			errs = append(errs, fmt.Errorf("sync provider %s: %w", providers[i].Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *ProviderService) syncProvider(ctx context.Context, cfg *config.ProviderConfig) error {
	logger := zerolog.Ctx(ctx)

	provider, err := s.store.Providers.GetByName(ctx, cfg.Name)
	created := false
	switch {
	case errors.Is(err, repository.ErrNotFound):
		provider = &model.Provider{Name: cfg.Name}
		created = true
	case err != nil:
		return err
	}

	applyProviderConfig(provider, cfg)
	if created {
		if err := s.store.Providers.Create(ctx, provider); err != nil {
			return err
		}
		logger.Info().Str("provider", provider.Name).Str("driver", provider.Driver).Msg("Provider created")
	} else if err := s.store.Providers.Update(ctx, provider); err != nil {
		return err
	}

	for _, imageCfg := range cfg.BaseImages {
		if err := s.syncBaseImage(ctx, provider, imageCfg); err != nil {
			return fmt.Errorf("base image %s: %w", imageCfg.Name, err)
		}
	}
	return nil
}

func (s *ProviderService) syncBaseImage(ctx context.Context, provider *model.Provider, cfg config.BaseImageConfig) error {
	image, err := s.store.BaseImages.GetByName(ctx, provider.ID, cfg.Name)
	if errors.Is(err, repository.ErrNotFound) {
		image = &model.BaseImage{
			ProviderID: provider.ID,
			Name:       cfg.Name,
			ExternalID: cfg.ExternalID,
			MinReady:   cfg.MinReady,
			MinRAM:     cfg.MinRAM,
		}
		if err := s.store.BaseImages.Create(ctx, image); err != nil {
			return err
		}
		zerolog.Ctx(ctx).Info().
			Str("provider", provider.Name).
			Str("image", image.Name).
			Int("min_ready", image.MinReady).
			Msg("Base image created")
		return nil
	}
	if err != nil {
		return err
	}

	image.ExternalID = cfg.ExternalID
	image.MinReady = cfg.MinReady
	image.MinRAM = cfg.MinRAM
	return s.store.BaseImages.Update(ctx, image)
}

func applyProviderConfig(p *model.Provider, cfg *config.ProviderConfig) {
	p.Driver = cfg.Driver
	p.MaxServers = cfg.MaxServers
	p.Giftable = cfg.Giftable
	p.AuthURL = cfg.AuthURL
	p.Username = cfg.Username
	p.Password = cfg.Password
	p.ProjectName = cfg.ProjectName
	p.DomainName = cfg.DomainName
	p.Region = cfg.Region
	p.Endpoint = cfg.Endpoint
	p.Network = cfg.Network
	p.FloatingIPPool = cfg.FloatingIPPool
	// 空的密钥对名称不覆盖已自动生成的名称
	if cfg.KeypairName != "" {
		p.KeypairName = cfg.KeypairName
	}
}
