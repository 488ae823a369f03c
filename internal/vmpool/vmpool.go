// Package vmpool 组装机器池的各个组件并提供 serve 模式的主入口
package vmpool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jimmicro/grace"
	"github.com/jimyag/vmpool/internal/vmpool/api"
	"github.com/jimyag/vmpool/internal/vmpool/config"
	"github.com/jimyag/vmpool/internal/vmpool/repository"
	"github.com/jimyag/vmpool/internal/vmpool/service"
	"github.com/jimyag/vmpool/pkg/sshx"
	"github.com/rs/zerolog"
)

// Server 持有一次进程内共享的 Store 和各组件，CLI 子命令直接使用这些组件
type Server struct {
	cfg   *config.Config
	store *repository.Store
	api   *api.API

	Allocator *service.Allocator
	Launcher  *service.Launcher
	Reaper    *service.Reaper
	Checker   *service.Checker
	Snapshots *service.SnapshotBuilder
	Status    *service.StatusService
	Providers *service.ProviderService
}

// SetupLogger 安装进程级 logger，后续通过 zerolog.Ctx 获取
func SetupLogger(level string) zerolog.Logger {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return logger
}

func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger := zerolog.Ctx(ctx)

	// 0. 打开数据库
	store, err := repository.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Database, err)
	}

	// 1. 把配置中的 Provider 和基础镜像同步到数据库
	providers := service.NewProviderService(store)
	if err := providers.Sync(ctx, cfg.Providers); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("sync providers: %w", err)
	}

	// 2. SSH 探测，没有私钥时只有需要探测的操作会失败
	var prober sshx.Prober
	client, err := sshx.New(sshx.Options{
		PrivateKeyFile: cfg.SSH.PrivateKeyFile,
		Port:           cfg.SSH.Port,
		Timeout:        cfg.SSH.Timeout,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("SSH is not available, probing machines will fail")
		prober = unavailableProber{err: err}
	} else {
		prober = client
	}

	publicKey := ""
	if cfg.SSH.PublicKeyFile != "" {
		if publicKey, err = sshx.LoadPublicKey(cfg.SSH.PublicKeyFile); err != nil {
			logger.Warn().Err(err).Msg("Public key not loaded, keypairs will not be managed")
			publicKey = ""
		}
	}

	// 3. CI 调度器
	scheduler, err := service.NewScheduler(cfg.Scheduler)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create scheduler client: %w", err)
	}

	// 4. 各个组件
	drivers := service.NewDriverFactory(cfg)
	s := &Server{
		cfg:       cfg,
		store:     store,
		Allocator: service.NewAllocator(store, cfg, scheduler, prober),
		Launcher:  service.NewLauncher(store, cfg, drivers, prober, scheduler, publicKey),
		Reaper:    service.NewReaper(store, cfg, drivers, scheduler),
		Checker:   service.NewChecker(store, cfg, prober, scheduler),
		Snapshots: service.NewSnapshotBuilder(store, cfg, drivers, prober, publicKey),
		Status:    service.NewStatusService(store),
		Providers: providers,
	}
	s.api = api.New(cfg.Address, s.Allocator, s.Status)
	return s, nil
}

// ProviderNames 返回配置中的 Provider 名称，name 不为空时校验并只返回它
func (s *Server) ProviderNames(name string) ([]string, error) {
	if name != "" {
		if _, ok := s.cfg.Provider(name); !ok {
			return nil, fmt.Errorf("provider %s is not configured", name)
		}
		return []string{name}, nil
	}
	names := make([]string, 0, len(s.cfg.Providers))
	for _, p := range s.cfg.Providers {
		names = append(names, p.Name)
	}
	return names, nil
}

// Run serve 模式：HTTP API 以及每个 Provider 的 launch/reap/check 循环
func (s *Server) Run(ctx context.Context) error {
	services := []grace.Grace{s.api}
	for _, p := range s.cfg.Providers {
		name := p.Name
		services = append(services,
			newLoop("launch "+name, s.cfg.LaunchInterval, func(ctx context.Context) error {
				return s.Launcher.Run(ctx, name)
			}),
			newLoop("reap "+name, s.cfg.ReapInterval, func(ctx context.Context) error {
				return s.Reaper.Run(ctx, name, service.ReapOptions{})
			}),
			newLoop("check "+name, s.cfg.CheckInterval, func(ctx context.Context) error {
				return s.Checker.Run(ctx, name)
			}),
		)
	}

	shepherd := grace.NewShepherd(
		services,
		grace.WithTimeout(30*time.Second),
		grace.WithLogger(&zerologLogger{}),
	)

	shepherd.Start(ctx)
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(s.api.Shutdown(ctx), s.Close())
}

// Close 关闭数据库
func (s *Server) Close() error {
	return s.store.Close()
}

// Name 实现 grace.Grace 接口
func (s *Server) Name() string {
	return "vmpool Server"
}

// unavailableProber SSH 客户端创建失败时使用
type unavailableProber struct {
	err error
}

func (p unavailableProber) Probe(context.Context, string, string) (bool, error) {
	return false, p.err
}

func (p unavailableProber) Run(context.Context, string, string, string) (string, error) {
	return "", p.err
}

// zerologLogger 实现 grace.Logger 接口
type zerologLogger struct{}

// defaultLogger 未调用 SetupLogger 时丢弃日志
func defaultLogger() *zerolog.Logger {
	if zerolog.DefaultContextLogger != nil {
		return zerolog.DefaultContextLogger
	}
	nop := zerolog.Nop()
	return &nop
}

func (l *zerologLogger) Info(msg string, args ...interface{}) {
	logger := defaultLogger().Info()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}

func (l *zerologLogger) Error(msg string, args ...interface{}) {
	logger := defaultLogger().Error()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}
