package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jimmicro/version"
	"github.com/jimyag/vmpool/internal/vmpool"
	"github.com/jimyag/vmpool/internal/vmpool/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config
	server     *vmpool.Server
)

var rootCmd = &cobra.Command{
	Use:   "vmpool",
	Short: "Keep a pool of ready-to-use disposable CI machines",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		logger := vmpool.SetupLogger(cfg.LogLevel)
		cmd.SetContext(logger.WithContext(cmd.Context()))
		return nil
	},

	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if server != nil {
			return server.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("VMPOOL_CONFIG"), "path to the configuration file")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(inProgressCmd)
	rootCmd.AddCommand(resultCmd)
	rootCmd.AddCommand(holdCmd)
	rootCmd.AddCommand(giveCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(reapCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configDumpCmd)
}

// app 按需创建 Server，只读配置的子命令不会打开数据库
func app(cmd *cobra.Command) (*vmpool.Server, error) {
	if server != nil {
		return server, nil
	}
	var err error
	server, err = vmpool.New(cmd.Context(), cfg)
	return server, err
}

// forEachProvider 依次对每个 Provider 执行 fn，单个失败不影响其他 Provider
func forEachProvider(cmd *cobra.Command, fn func(ctx context.Context, s *vmpool.Server, provider string) error) error {
	s, err := app(cmd)
	if err != nil {
		return err
	}
	names, err := s.ProviderNames(providerFlag(cmd))
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range names {
		if err := fn(cmd.Context(), s, name); err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func providerFlag(cmd *cobra.Command) string {
	name, _ := cmd.Flags().GetString("provider")
	return name
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatal().Err(err).Msg("Command failed")
	}
}
