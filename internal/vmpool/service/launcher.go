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
	"github.com/jimyag/vmpool/pkg/sshx"
	"github.com/rs/zerolog"
)

// Launcher 按缺口创建机器，并轮询 BUILDING 机器直到 READY 或 ERROR
type Launcher struct {
	store          *repository.Store
	deficit        *DeficitCalculator
	drivers        DriverFactory
	prober         sshx.Prober
	nodes          *schedulerNodes
	sshUser        string
	publicKey      string
	namePrefix     string
	pollInterval   time.Duration
	abandonTimeout time.Duration
	maxQueryErrors int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLauncher 创建 Launcher，publicKey 为空时不在提供商侧创建密钥对
func NewLauncher(
	store *repository.Store,
	cfg *config.Config,
	drivers DriverFactory,
	prober sshx.Prober,
	scheduler Scheduler,
	publicKey string,
) *Launcher {
	return &Launcher{
		store:   store,
		deficit: NewDeficitCalculator(store),
		drivers: drivers,
		prober:  prober,
		nodes: &schedulerNodes{
			scheduler:   scheduler,
			sshUser:     cfg.SSH.User,
			credentials: cfg.Scheduler.Credentials,
			labels:      cfg.Scheduler.Labels,
		},
		sshUser:        cfg.SSH.User,
		publicKey:      publicKey,
		namePrefix:     cfg.NamePrefix,
		pollInterval:   cfg.PollInterval,
		abandonTimeout: cfg.AbandonTimeout,
		maxQueryErrors: cfg.MaxQueryErrors,
		now:            time.Now,
		sleep:          sleepContext,
	}
}

// Run 对一个 Provider 执行一次补充和轮询
// 任一机器进入 ERROR 或启动阶段的提供商调用失败时返回聚合错误
func (l *Launcher) Run(ctx context.Context, providerName string) error {
	logger := zerolog.Ctx(ctx).With().Str("provider", providerName).Logger()
	ctx = logger.WithContext(ctx)

	provider, err := l.store.Providers.GetByName(ctx, providerName)
	if err != nil {
		return storeError(err, apierror.ErrProviderNotFound, "provider %s", providerName)
	}
	driver, err := l.drivers(ctx, provider)
	if err != nil {
		return fmt.Errorf("create driver for provider %s: %w", provider.Name, err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close driver")
		}
	}()

	logger.Info().Msg("Working with provider")

	launchErr := l.launch(ctx, provider, driver)
	pollErr := l.poll(ctx, provider, driver)
	return errors.Join(launchErr, pollErr)
}

func (l *Launcher) launch(ctx context.Context, provider *model.Provider, driver cloud.Driver) error {
	logger := zerolog.Ctx(ctx)

	images, err := l.store.BaseImages.ListByProvider(ctx, provider.ID)
	if err != nil {
		return fmt.Errorf("list base images: %w", err)
	}

	keyName, err := l.ensureKeypair(ctx, provider, driver)
	if err != nil {
		return err
	}

	var errs []error
	lastName := ""
	for _, image := range images {
		snapshot, err := l.store.SnapshotImages.Current(ctx, image.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("current snapshot of %s: %w", image.Name, err))
			continue
		}
		if snapshot == nil {
			logger.Debug().Str("image", image.Name).Msg("No ready snapshot, skipping image")
			continue
		}
		logger.Info().Str("snapshot", snapshot.Name).Msg("Working on image")

		flavor, err := driver.FindFlavor(ctx, image.MinRAM)
		if err != nil {
			errs = append(errs, fmt.Errorf("find flavor for %s: %w", image.Name, err))
			continue
		}
		if _, err := driver.GetImage(ctx, snapshot.ExternalID); err != nil {
			errs = append(errs, fmt.Errorf("get snapshot image %s: %w", snapshot.Name, err))
			continue
		}

		need, err := l.deficit.Compute(ctx, provider, image)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		for range need {
			machine, err := l.launchOne(ctx, driver, image, snapshot, flavor, keyName, lastName)
			if err != nil {
				logger.Error().Err(err).Str("image", image.Name).Msg("Failed to launch machine")
				errs = append(errs, err)
				if ctx.Err() != nil {
					return errors.Join(errs...)
				}
				continue
			}
			lastName = machine.Name
		}
	}
	return errors.Join(errs...)
}

// ensureKeypair 配置了公钥时确保提供商侧存在密钥对，生成的名称写回 Provider
func (l *Launcher) ensureKeypair(ctx context.Context, provider *model.Provider, driver cloud.Driver) (string, error) {
	if l.publicKey == "" {
		return provider.KeypairName, nil
	}
	name, err := driver.EnsureKeypair(ctx, provider.KeypairName, l.publicKey)
	if err != nil {
		return "", fmt.Errorf("ensure keypair: %w", err)
	}
	if name != provider.KeypairName {
		provider.KeypairName = name
		if err := l.store.Providers.Update(ctx, provider); err != nil {
			return "", fmt.Errorf("save keypair name: %w", err)
		}
	}
	return name, nil
}

func (l *Launcher) launchOne(
	ctx context.Context,
	driver cloud.Driver,
	image *model.BaseImage,
	snapshot *model.SnapshotImage,
	flavor, keyName, lastName string,
) (*model.Machine, error) {
	name, err := l.nextName(ctx, image.Name, lastName)
	if err != nil {
		return nil, err
	}

	server, err := driver.CreateServer(ctx, cloud.CreateServerOpts{
		Name:     name,
		ImageID:  snapshot.ExternalID,
		FlavorID: flavor,
		KeyName:  keyName,
		Metadata: map[string]string{"vmpool_image": image.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("create server %s: %w", name, err)
	}

	machine := &model.Machine{
		BaseImageID: image.ID,
		ProviderID:  image.ProviderID,
		ExternalID:  server.ID,
		Name:        name,
		State:       model.MachineBuilding,
		StateTime:   l.now().Unix(),
	}
	if err := l.store.Machines.Create(ctx, machine); err != nil {
		return nil, fmt.Errorf("record machine %s (server %s): %w", name, server.ID, err)
	}

	zerolog.Ctx(ctx).Info().
		Int64("machine_id", machine.ID).
		Str("server_id", server.ID).
		Str("machine", name).
		Msg("Started building machine")
	return machine, nil
}

// nextName 生成 <prefix>vmpool-<image>-<unix 秒>，与上一个名称相同时等待 1 秒重新生成
func (l *Launcher) nextName(ctx context.Context, imageName, lastName string) (string, error) {
	for {
		name := fmt.Sprintf("%svmpool-%s-%d", l.namePrefix, imageName, l.now().Unix())
		if name != lastName {
			return name, nil
		}
		if err := l.sleep(ctx, time.Second); err != nil {
			return "", err
		}
	}
}

// poll 轮询 Provider 下所有 BUILDING 机器，直到没有 BUILDING 机器
func (l *Launcher) poll(ctx context.Context, provider *model.Provider, driver cloud.Driver) error {
	logger := zerolog.Ctx(ctx)

	errorCounts := make(map[int64]int)
	var errs []error
	for {
		machines, err := l.store.Machines.ListByProvider(ctx, provider.ID, model.MachineBuilding)
		if err != nil {
			errs = append(errs, fmt.Errorf("list building machines: %w", err))
			break
		}
		if len(machines) == 0 {
			logger.Info().Msg("No more machines are building, finished")
			break
		}

		logger.Info().Int("building", len(machines)).Msg("Waiting on machines")
		for _, machine := range machines {
			if err := l.checkMachine(ctx, driver, machine, errorCounts); err != nil {
				if ctx.Err() != nil {
					break
				}
				logger.Error().Err(err).Int64("machine_id", machine.ID).Msg("Abandoning machine")
				if _, terr := l.store.Machines.TransitionFrom(ctx, machine.ID,
					model.MachineBuilding, model.MachineError, l.now().Unix()); terr != nil {
					err = errors.Join(err, terr)
				}
				errs = append(errs, fmt.Errorf("machine %d: %w", machine.ID, err))
			}
		}

		if err := l.sleep(ctx, l.pollInterval); err != nil {
			errs = append(errs, err)
			break
		}
	}
	return errors.Join(errs...)
}

// checkMachine 检查一台 BUILDING 机器，返回错误表示机器应进入 ERROR
func (l *Launcher) checkMachine(
	ctx context.Context,
	driver cloud.Driver,
	machine *model.Machine,
	errorCounts map[int64]int,
) error {
	logger := zerolog.Ctx(ctx).With().Int64("machine_id", machine.ID).Logger()

	server, err := driver.GetServer(ctx, machine.ExternalID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn().Err(err).Msg("Unable to get server detail, will retry")
		if l.abandoned(machine) {
			return fmt.Errorf("waited too long for machine %d: %w", machine.ID, err)
		}
		return nil
	}

	if server.Status != cloud.StatusError {
		delete(errorCounts, machine.ID)
	}

	switch server.Status {
	case cloud.StatusActive:
		ip, err := l.publicIP(ctx, driver, server)
		if err != nil {
			return err
		}
		if err := l.store.Machines.UpdateAddress(ctx, machine.ID, ip); err != nil {
			return fmt.Errorf("save address: %w", err)
		}
		machine.IP = ip

		logger.Info().Str("ip", ip).Msg("Machine is running, testing ssh")
		ok, err := l.prober.Probe(ctx, ip, l.sshUser)
		if err != nil {
			return err
		}
		if !ok {
			if l.abandoned(machine) {
				return fmt.Errorf("waited too long for ssh on machine %d", machine.ID)
			}
			return nil
		}

		changed, err := l.store.Machines.TransitionFrom(ctx, machine.ID,
			model.MachineBuilding, model.MachineReady, l.now().Unix())
		if err != nil {
			return fmt.Errorf("mark ready: %w", err)
		}
		if !changed {
			return nil
		}
		logger.Info().Msg("Machine is ready")
		l.registerNode(ctx, machine)
		return nil

	case cloud.StatusBuild:
		if l.abandoned(machine) {
			return fmt.Errorf("waited too long for machine %d", machine.ID)
		}
		return nil

	default:
		errorCounts[machine.ID]++
		count := errorCounts[machine.ID]
		logger.Warn().
			Str("status", server.RawStatus).
			Int("count", count).
			Int("max", l.maxQueryErrors).
			Msg("Machine is in error")
		if count >= l.maxQueryErrors {
			return fmt.Errorf("too many errors querying machine %d (status %s)", machine.ID, server.RawStatus)
		}
		return nil
	}
}

func (l *Launcher) abandoned(machine *model.Machine) bool {
	return time.Duration(machine.StateAge(l.now().Unix()))*time.Second >= l.abandonTimeout
}

// publicIP 需要时先关联浮动 IP
func (l *Launcher) publicIP(ctx context.Context, driver cloud.Driver, server *cloud.Server) (string, error) {
	ip := server.PublicIP
	if driver.NeedsFloatingIP() && (ip == "" || ip == server.PrivateIP) {
		floating, err := driver.AttachFloatingIP(ctx, server.ID)
		if err != nil {
			return "", fmt.Errorf("attach floating ip: %w", err)
		}
		ip = floating
	}
	if ip == "" {
		return "", fmt.Errorf("unable to find public ip of server %s", server.ID)
	}
	return ip, nil
}

func (l *Launcher) registerNode(ctx context.Context, machine *model.Machine) {
	image, err := l.store.BaseImages.GetByID(ctx, machine.BaseImageID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("machine_id", machine.ID).Msg("Failed to load base image")
		return
	}
	name := l.nodes.register(ctx, machine, image.Name)
	if name == "" {
		return
	}
	if err := l.store.Machines.SetSchedulerName(ctx, machine.ID, name); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("machine_id", machine.ID).Msg("Failed to save scheduler node name")
	}
}
