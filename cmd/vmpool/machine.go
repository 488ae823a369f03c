package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jimyag/vmpool/internal/vmpool/entity"
	"github.com/jimyag/vmpool/pkg/sshx"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch IMAGE",
	Short: "Claim the oldest ready machine of an image",
	Long: "Claim the oldest ready machine of an image and print its details as\n" +
		"shell assignments. Exits non-zero when no machine is available.",
	Args: cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := app(cmd)
		if err != nil {
			return err
		}
		req := &entity.FetchMachineRequest{Image: args[0]}
		req.JobName, _ = cmd.Flags().GetString("job")
		req.BuildNumber, _ = cmd.Flags().GetString("build")
		req.ChangeNumber, _ = cmd.Flags().GetString("change")
		req.PatchsetNumber, _ = cmd.Flags().GetString("patchset")

		resp, err := s.Allocator.Fetch(cmd.Context(), req)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "NODE_IP_ADDR=%s\n", resp.IP)
		fmt.Fprintf(out, "NODE_PROVIDER=%s\n", resp.Provider)
		fmt.Fprintf(out, "NODE_ID=%d\n", resp.MachineID)
		if resp.ResultID != 0 {
			fmt.Fprintf(out, "RESULT_ID=%d\n", resp.ResultID)
		}
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release NAME",
	Short: "Return a machine to the pool for deletion (held machines are kept)",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := app(cmd)
		if err != nil {
			return err
		}
		machine, err := s.Allocator.Release(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		cmd.PrintErrf("Machine %s is %s\n", machine.Name, machine.State)
		return nil
	},
}

var inProgressCmd = &cobra.Command{
	Use:   "inprogress NAME",
	Short: "Mark the machine as used by a running build",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := app(cmd)
		if err != nil {
			return err
		}
		_, err = s.Allocator.MarkInProgress(cmd.Context(), args[0])
		return err
	},
}

var resultCmd = &cobra.Command{
	Use:   "result RESULT_ID SUCCESS|FAILURE|TIMEOUT",
	Short: "Record the outcome of a job",
	Args:  cobra.ExactArgs(2),

	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid result id %q: %w", args[0], err)
		}
		s, err := app(cmd)
		if err != nil {
			return err
		}
		resp, err := s.Allocator.SetResult(cmd.Context(), id, args[1])
		if err != nil {
			return err
		}
		if !resp.Changed {
			cmd.PrintErrf("Result %d already recorded as %s\n", id, resp.Result.Result)
		}
		return nil
	},
}

var holdCmd = &cobra.Command{
	Use:   "hold MACHINE_ID",
	Short: "Keep a machine out of the pool until it expires",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid machine id %q: %w", args[0], err)
		}
		s, err := app(cmd)
		if err != nil {
			return err
		}
		_, err = s.Allocator.Hold(cmd.Context(), id)
		return err
	},
}

var giveCmd = &cobra.Command{
	Use:   "give MACHINE_ID USER",
	Short: "Give a machine to a user by installing their public keys",
	Args:  cobra.ExactArgs(2),

	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid machine id %q: %w", args[0], err)
		}

		keys, _ := cmd.Flags().GetStringArray("key")
		keyFiles, _ := cmd.Flags().GetStringArray("key-file")
		for _, path := range keyFiles {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read key file: %w", err)
			}
			for _, line := range strings.Split(string(data), "\n") {
				if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
					keys = append(keys, line)
				}
			}
		}
		for _, key := range keys {
			if err := sshx.ValidatePublicKey(key); err != nil {
				return fmt.Errorf("invalid public key: %w", err)
			}
		}

		req := &entity.GiveMachineRequest{MachineID: id, User: args[1], PublicKeys: keys}
		if err := req.IsValid(); err != nil {
			return err
		}
		s, err := app(cmd)
		if err != nil {
			return err
		}
		machine, err := s.Allocator.Give(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s@%s\n", machine.User, machine.IP)
		return nil
	},
}

func init() {
	fetchCmd.Flags().String("job", "", "job name, creates a result record when set")
	fetchCmd.Flags().String("build", "", "build number")
	fetchCmd.Flags().String("change", "", "change number")
	fetchCmd.Flags().String("patchset", "", "patchset number")

	giveCmd.Flags().StringArray("key", nil, "public key to install (repeatable)")
	giveCmd.Flags().StringArray("key-file", nil, "file of public keys to install (repeatable)")
}
