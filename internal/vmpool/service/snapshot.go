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
	"github.com/jimyag/vmpool/pkg/idgen"
	"github.com/jimyag/vmpool/pkg/sshx"
	"github.com/rs/zerolog"
)

// SnapshotBuilder 从基础镜像构建新的快照镜像
// 启动模板机器，执行配置的命令，保存为镜像并等待镜像可用
type SnapshotBuilder struct {
	store        *repository.Store
	drivers      DriverFactory
	prober       sshx.Prober
	idGen        *idgen.Generator
	sshUser      string
	publicKey    string
	namePrefix   string
	commands     []string
	buildTimeout time.Duration
	pollInterval time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSnapshotBuilder 创建 SnapshotBuilder
func NewSnapshotBuilder(
	store *repository.Store,
	cfg *config.Config,
	drivers DriverFactory,
	prober sshx.Prober,
	publicKey string,
) *SnapshotBuilder {
	return &SnapshotBuilder{
		store:        store,
		drivers:      drivers,
		prober:       prober,
		idGen:        idgen.DefaultGenerator(),
		sshUser:      cfg.SSH.User,
		publicKey:    publicKey,
		namePrefix:   cfg.NamePrefix,
		commands:     cfg.Snapshot.Commands,
		buildTimeout: cfg.Snapshot.BuildTimeout,
		pollInterval: cfg.PollInterval,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// Build 构建快照，成功后快照进入 READY，失败进入 ERROR
func (b *SnapshotBuilder) Build(ctx context.Context, providerName, imageName string) (*model.SnapshotImage, error) {
	buildID, err := b.idGen.GenerateBuildID()
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to generate build ID", err)
	}
	logger := zerolog.Ctx(ctx).With().
		Str("provider", providerName).
		Str("image", imageName).
		Str("build_id", buildID).
		Logger()
	ctx = logger.WithContext(ctx)

	provider, err := b.store.Providers.GetByName(ctx, providerName)
	if err != nil {
		return nil, storeError(err, apierror.ErrProviderNotFound, "provider %s", providerName)
	}
	image, err := b.store.BaseImages.GetByName(ctx, provider.ID, imageName)
	if err != nil {
		return nil, storeError(err, apierror.ErrImageNotFound, "base image %s of provider %s", imageName, providerName)
	}
	if image.ExternalID == "" {
		return nil, apierror.InvalidParameter("base image %s has no external id", imageName)
	}

	driver, err := b.drivers(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("create driver for provider %s: %w", provider.Name, err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close driver")
		}
	}()

	version := b.now().Unix()
	snapshot := &model.SnapshotImage{
		BaseImageID: image.ID,
		Name:        fmt.Sprintf("%s-%d", image.Name, version),
		Version:     version,
		State:       model.SnapshotBuilding,
		StateTime:   version,
	}
	if err := b.store.SnapshotImages.Create(ctx, snapshot); err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to create snapshot record", err)
	}

	buildCtx, cancel := context.WithTimeout(ctx, b.buildTimeout)
	defer cancel()

	if err := b.build(buildCtx, provider, image, snapshot, driver, buildID); err != nil {
		logger.Error().Err(err).Str("snapshot", snapshot.Name).Msg("Snapshot build failed")
		// 构建上下文可能已超时，状态写入使用外层 ctx
		if terr := b.store.SnapshotImages.Transition(ctx, snapshot.ID, model.SnapshotError, b.now().Unix()); terr != nil {
			err = errors.Join(err, terr)
		}
		return nil, err
	}

	if err := b.store.SnapshotImages.Transition(ctx, snapshot.ID, model.SnapshotReady, b.now().Unix()); err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to mark snapshot ready", err)
	}
	if err := driver.DeleteServer(ctx, snapshot.ServerExternalID); err != nil && !cloud.IsNotFound(err) {
		logger.Warn().Err(err).Str("server_id", snapshot.ServerExternalID).Msg("Failed to delete template server")
	}

	logger.Info().Str("snapshot", snapshot.Name).Str("image_id", snapshot.ExternalID).Msg("Snapshot ready")
	return b.store.SnapshotImages.GetByID(ctx, snapshot.ID)
}

func (b *SnapshotBuilder) build(
	ctx context.Context,
	provider *model.Provider,
	image *model.BaseImage,
	snapshot *model.SnapshotImage,
	driver cloud.Driver,
	buildID string,
) error {
	logger := zerolog.Ctx(ctx)

	keyName := provider.KeypairName
	if b.publicKey != "" {
		name, err := driver.EnsureKeypair(ctx, provider.KeypairName, b.publicKey)
		if err != nil {
			return fmt.Errorf("ensure keypair: %w", err)
		}
		keyName = name
	}
	flavor, err := driver.FindFlavor(ctx, image.MinRAM)
	if err != nil {
		return fmt.Errorf("find flavor: %w", err)
	}

	server, err := driver.CreateServer(ctx, cloud.CreateServerOpts{
		Name:     fmt.Sprintf("%svmpool-%s-template-%d", b.namePrefix, image.Name, snapshot.Version),
		ImageID:  image.ExternalID,
		FlavorID: flavor,
		KeyName:  keyName,
		Metadata: map[string]string{"vmpool_build": buildID},
	})
	if err != nil {
		return fmt.Errorf("create template server: %w", err)
	}
	snapshot.ServerExternalID = server.ID
	if err := b.store.SnapshotImages.Update(ctx, snapshot); err != nil {
		return fmt.Errorf("save template server id: %w", err)
	}
	logger.Info().Str("server_id", server.ID).Msg("Template server created")

	ip, err := b.waitReachable(ctx, driver, server.ID)
	if err != nil {
		return err
	}

	for _, command := range b.commands {
		logger.Info().Str("command", command).Msg("Running")
		out, err := b.prober.Run(ctx, ip, b.sshUser, command)
		if err != nil {
			logger.Error().Str("output", out).Msg("Command failed")
			return fmt.Errorf("run %q: %w", command, err)
		}
	}

	logger.Info().Msg("Saving image")
	imageID, err := driver.CreateImage(ctx, server.ID, snapshot.Name)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	snapshot.ExternalID = imageID
	if err := b.store.SnapshotImages.Update(ctx, snapshot); err != nil {
		return fmt.Errorf("save image id: %w", err)
	}

	return b.waitImage(ctx, driver, imageID)
}

// waitReachable 等待模板机器 ACTIVE 并能通过 SSH 登录，返回其地址
func (b *SnapshotBuilder) waitReachable(ctx context.Context, driver cloud.Driver, serverID string) (string, error) {
	for {
		server, err := driver.GetServer(ctx, serverID)
		switch {
		case err != nil:
			zerolog.Ctx(ctx).Warn().Err(err).Msg("Unable to get template server, will retry")
		case server.Status == cloud.StatusError:
			return "", fmt.Errorf("template server %s is in error (%s)", serverID, server.RawStatus)
		case server.Status == cloud.StatusActive:
			ip := server.PublicIP
			if driver.NeedsFloatingIP() && (ip == "" || ip == server.PrivateIP) {
				if ip, err = driver.AttachFloatingIP(ctx, serverID); err != nil {
					return "", fmt.Errorf("attach floating ip: %w", err)
				}
			}
			if ip != "" {
				ok, err := b.prober.Probe(ctx, ip, b.sshUser)
				if err != nil {
					return "", err
				}
				if ok {
					return ip, nil
				}
			}
		}
		if err := b.sleep(ctx, b.pollInterval); err != nil {
			return "", fmt.Errorf("waiting for template server %s: %w", serverID, err)
		}
	}
}

// waitImage 等待镜像 ACTIVE
func (b *SnapshotBuilder) waitImage(ctx context.Context, driver cloud.Driver, imageID string) error {
	logger := zerolog.Ctx(ctx)
	lastProgress := -1
	for {
		image, err := driver.GetImage(ctx, imageID)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("Unable to get image, will retry")
		case image.Status == cloud.StatusActive:
			return nil
		case image.Status == cloud.StatusError:
			return fmt.Errorf("image %s is in error (%s)", imageID, image.RawStatus)
		case image.Progress != lastProgress:
			lastProgress = image.Progress
			logger.Info().Int("progress", image.Progress).Str("status", image.RawStatus).Msg("Image saving")
		}
		if err := b.sleep(ctx, b.pollInterval); err != nil {
			return fmt.Errorf("waiting for image %s: %w", imageID, err)
		}
	}
}
