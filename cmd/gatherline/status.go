// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatherline/gatherline/internal/config"
	"github.com/gatherline/gatherline/internal/docstore"
	"github.com/gatherline/gatherline/internal/model"
)

// Default timeout for status queries.
const defaultStatusTimeout = 30 * time.Second

// statusCollections is the reporting order.
var statusCollections = []string{
	model.CollectionUsers,
	model.CollectionFacilities,
	model.CollectionEvents,
	model.CollectionAssociations,
	model.CollectionNotifications,
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
	timeout    time.Duration
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show document counts per collection",
		Long:  `Connects to the configured store and reports how many documents each collection holds.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output counts as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultStatusTimeout, "timeout for store operations (e.g., 30s, 1m)")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
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

	counts := make(map[string]int64, len(statusCollections))
	for _, coll := range statusCollections {
		n, countErr := store.Count(ctx, docstore.Query{Collection: coll})
		if countErr != nil {
			return countErr
		}
		counts[coll] = n
	}

	var output string
	if cfg.jsonOutput {
		data, marshalErr := json.MarshalIndent(counts, "", "  ")
		if marshalErr != nil {
			return fmt.Errorf("failed to format JSON: %w", marshalErr)
		}
		output = string(data)
	} else {
		output = formatCountsTable(counts)
	}

	cmd.Println(output)
	return nil
}

func formatCountsTable(counts map[string]int64) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tDOCUMENTS")
	for _, coll := range statusCollections {
		fmt.Fprintf(w, "%s\t%d\n", coll, counts[coll])
	}
	_ = w.Flush()
	return strings.TrimRight(sb.String(), "\n")
}
