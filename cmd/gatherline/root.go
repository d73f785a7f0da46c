// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/gatherline/gatherline/internal/config"
	"github.com/gatherline/gatherline/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the gatherline CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatherline",
		Short: "Gatherline - event signup and waitlist server",
		Long: `Gatherline manages event signups: facilities host events, users join
waitlists, and lotteries promote waitlisted users to invitations.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, nil)
			if err != nil {
				return err
			}
			logging.SetDefault("gatherline", cmd.Root().Version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
			return nil
		},
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewSeedCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewLotteryCmd())
	cmd.AddCommand(NewServeMetricsCmd())

	return cmd
}
