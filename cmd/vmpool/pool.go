package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/jimyag/vmpool/internal/vmpool"
	"github.com/jimyag/vmpool/internal/vmpool/entity"
	"github.com/jimyag/vmpool/internal/vmpool/service"
	"github.com/jimyag/vmpool/pkg/apierror"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Create machines until every image has min_ready machines, then wait for them",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachProvider(cmd, func(ctx context.Context, s *vmpool.Server, provider string) error {
			return s.Launcher.Run(ctx, provider)
		})
	},
}

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Delete expired, failed and surplus machines and old snapshot images",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		var opts service.ReapOptions
		opts.AllServers, _ = cmd.Flags().GetBool("all-servers")
		opts.AllImages, _ = cmd.Flags().GetBool("all-images")
		return forEachProvider(cmd, func(ctx context.Context, s *vmpool.Server, provider string) error {
			return s.Reaper.Run(ctx, provider, opts)
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe ready machines and retire the unreachable ones",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachProvider(cmd, func(ctx context.Context, s *vmpool.Server, provider string) error {
			return s.Checker.Run(ctx, provider)
		})
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot PROVIDER IMAGE",
	Short: "Build a new snapshot image from a base image",
	Args:  cobra.ExactArgs(2),

	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := app(cmd)
		if err != nil {
			return err
		}
		snapshot, err := s.Snapshots.Build(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", snapshot.Name, snapshot.ExternalID)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show machine counts per provider, image and state",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := app(cmd)
		if err != nil {
			return err
		}
		threshold, _ := cmd.Flags().GetInt("threshold")
		if !cmd.Flags().Changed("threshold") {
			threshold = cfg.ReadyThreshold
		}

		status, err := s.Status.Status(cmd.Context(), &entity.PoolStatusRequest{
			Provider:  providerFlag(cmd),
			Threshold: threshold,
		})
		if status != nil {
			printStatus(cmd, status)
		}
		if errors.Is(err, apierror.ErrThresholdNotMet) {
			return fmt.Errorf("only %d ready machines, threshold is %d", status.Ready, threshold)
		}
		return err
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the launch, reap and check loops",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := app(cmd)
		if err != nil {
			return err
		}
		return s.Run(cmd.Context())
	},
}

func printStatus(cmd *cobra.Command, status *entity.PoolStatus) {
	states := []string{"building", "ready", "used", "hold", "delete", "error"}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "PROVIDER\tIMAGE\tMIN_READY\tSNAPSHOT\tBUILDING\tREADY\tUSED\tHOLD\tDELETE\tERROR")
	for _, p := range status.Providers {
		images := append([]entity.ImageStatus(nil), p.Images...)
		sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
		for _, image := range images {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s", p.Name, image.Name, image.MinReady, lo.Ternary(image.Snapshot == "", "-", image.Snapshot))
			for _, state := range states {
				fmt.Fprintf(w, "\t%d", image.States[state])
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s\t(total %d/%d)\t\t", p.Name, p.Total, p.MaxServers)
		for _, state := range states {
			fmt.Fprintf(w, "\t%d", p.States[state])
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "READY\t%d\n", status.Ready)
}

func addProviderFlag(fs *pflag.FlagSet) {
	fs.StringP("provider", "p", "", "only work on this provider")
}

func init() {
	for _, cmd := range []*cobra.Command{launchCmd, reapCmd, checkCmd, statusCmd} {
		addProviderFlag(cmd.Flags())
	}
	reapCmd.Flags().Bool("all-servers", false, "delete every machine, ready or not")
	reapCmd.Flags().Bool("all-images", false, "delete every snapshot image except the current one")
	statusCmd.Flags().Int("threshold", 0, "fail when fewer machines are ready (defaults to ready_threshold)")
}
