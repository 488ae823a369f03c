package main

import (
	"github.com/spf13/cobra"
)

var configDumpCmd = &cobra.Command{
	Use:   "config-dump",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Dump(cmd.OutOrStdout())
	},
}
