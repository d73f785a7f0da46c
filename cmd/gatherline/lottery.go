// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatherline/gatherline/internal/config"
	"github.com/gatherline/gatherline/internal/model"
)

// Default timeout for lottery command.
const defaultLotteryTimeout = 30 * time.Second

// lotteryConfig holds configuration for the lottery command.
type lotteryConfig struct {
	eventID        string
	count          int
	notifyRejected bool
	timeout        time.Duration
}

// NewLotteryCmd creates the lottery subcommand.
func NewLotteryCmd() *cobra.Command {
	cfg := &lotteryConfig{}

	cmd := &cobra.Command{
		Use:   "lottery",
		Short: "Draw users from an event's waitlist and invite them",
		Long: `Draws the requested number of users at random from the event's
waitlist, marks them invited, and notifies them. Users left on the
waitlist can optionally be notified too.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLottery(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.eventID, "event", "", "event ID to draw for")
	cmd.Flags().IntVar(&cfg.count, "count", 1, "number of users to draw")
	cmd.Flags().BoolVar(&cfg.notifyRejected, "notify-rejected", false, "notify users left on the waitlist")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultLotteryTimeout, "timeout for store operations (e.g., 30s, 1m)")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

func runLottery(cmd *cobra.Command, cfg *lotteryConfig) error {
	appCfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	store, err := openStore(ctx, appCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	c := newCache(store)
	ev, err := model.FetchEvent(ctx, c, cfg.eventID)
	if err != nil {
		return err
	}
	defer ev.Dissolve()

	result, err := ev.Lottery(ctx, c, cfg.count)
	if err != nil {
		return err
	}
	chosen, remaining := len(result.Chosen()), len(result.NotChosen())
	if err := result.Execute(ctx, c, cfg.notifyRejected); err != nil {
		return err
	}

	cmd.Printf("Invited %d of %d requested; %d remain on the waitlist\n", chosen, cfg.count, remaining)
	slog.Info("lottery executed",
		"event", cfg.eventID,
		"requested", cfg.count,
		"invited", chosen,
		"remaining", remaining,
		"notify_rejected", cfg.notifyRejected)
	return nil
}
