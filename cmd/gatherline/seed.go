// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gatherline/gatherline/internal/cache"
	"github.com/gatherline/gatherline/internal/config"
	"github.com/gatherline/gatherline/internal/docstore"
	"github.com/gatherline/gatherline/internal/model"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

//go:embed seed_schema.json
var seedSchemaJSON []byte

// seedSchemaCache holds the compiled schema to avoid recompilation.
var seedSchemaCache *jschema.Schema

// seedConfig holds configuration for the seed command.
type seedConfig struct {
	file    string
	timeout time.Duration
}

// seedFile is the decoded shape of a seed data file. Creation order follows
// the reference chain: users first, then their facilities, then events.
type seedFile struct {
	Users      []map[string]any `yaml:"users"`
	Facilities []map[string]any `yaml:"facilities"`
	Events     []map[string]any `yaml:"events"`
}

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd() *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load seed data from a YAML or JSON file",
		Long: `Validates a seed file against the built-in schema, then creates its
documents. This command is idempotent - documents that already exist are
skipped, not duplicated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, args, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.file, "file", "", "seed data file (YAML or JSON)")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for store operations (e.g., 30s, 1m)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runSeed(cmd *cobra.Command, _ []string, cfg *seedConfig) error {
	appCfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(cfg.file)
	if err != nil {
		return oops.Code("SEED_FAILED").With("path", cfg.file).Wrap(err)
	}
	seeds, err := parseSeedFile(data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	cmd.Println("Connecting to store...")
	store, err := openStore(ctx, appCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := model.NewRegistry()
	created, skipped := 0, 0
	sections := []struct {
		collection string
		entries    []map[string]any
	}{
		{model.CollectionUsers, seeds.Users},
		{model.CollectionFacilities, seeds.Facilities},
		{model.CollectionEvents, seeds.Events},
	}
	for _, section := range sections {
		for _, entry := range section.entries {
			ok, seedErr := seedDocument(ctx, store, registry, section.collection, entry)
			if seedErr != nil {
				return seedErr
			}
			if ok {
				created++
			} else {
				skipped++
			}
		}
	}

	cmd.Printf("Seeding complete: %d created, %d already existed\n", created, skipped)
	slog.Info("seed finished", "created", created, "skipped", skipped)
	return nil
}

// parseSeedFile validates the raw file against the seed schema and decodes
// it. YAML is a superset of JSON, so both formats go through one path.
func parseSeedFile(data []byte) (*seedFile, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, oops.Code("VALIDATION_FAILED").Errorf("invalid seed file: %v", err)
	}

	sch, err := compiledSeedSchema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(jsonTypes(raw)); err != nil {
		return nil, oops.Code("VALIDATION_FAILED").Wrap(err)
	}

	var seeds seedFile
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, oops.Code("VALIDATION_FAILED").Errorf("invalid seed file: %v", err)
	}
	return &seeds, nil
}

// seedDocument builds the field map with creation defaults, overlays the
// seed entry, validates, and creates. Returns false when the document
// already existed.
func seedDocument(ctx context.Context, store docstore.Store, registry *cache.Registry, collection string, entry map[string]any) (bool, error) {
	id, _ := entry["id"].(string)
	fields := defaultFields(collection, entry)
	for k, v := range entry {
		if k == "id" {
			continue
		}
		fields[k] = jsonTypes(v)
	}

	schema, ok := registry.Schema(collection)
	if !ok {
		return false, oops.Code("ILLEGAL_STATE").With("collection", collection).Errorf("unknown collection")
	}
	if invalid := schema.ValidateFields(fields); len(invalid) > 0 {
		return false, oops.Code("VALIDATION_FAILED").
			With("collection", collection).
			With("id", id).
			With("fields", invalid).
			Errorf("seed entry failed validation")
	}

	if err := store.Create(ctx, collection, id, fields); err != nil {
		if errors.Is(err, docstore.ErrExists) {
			slog.Info("seed document already exists, skipping", "collection", collection, "id", id)
			return false, nil
		}
		return false, oops.Code("SEED_FAILED").With("collection", collection).With("id", id).Wrap(err)
	}
	return true, nil
}

func defaultFields(collection string, entry map[string]any) docstore.Fields {
	str := func(key string) string {
		s, _ := entry[key].(string)
		return s
	}
	switch collection {
	case model.CollectionUsers:
		return model.NewUserFields(str("name"), str("email"), str("phone"))
	case model.CollectionFacilities:
		return model.NewFacilityFields(str("name"), str("address"), str("organizerID"))
	case model.CollectionEvents:
		// Default window: signups open now, the event runs next week.
		now := time.Now()
		return model.NewEventFields(str("title"), str("facilityID"), 1, model.UnlimitedWaitlist,
			now, now.AddDate(0, 0, 7),
			now.AddDate(0, 0, 7), now.AddDate(0, 0, 7).Add(2*time.Hour))
	default:
		return docstore.Fields{}
	}
}

// jsonTypes converts YAML-decoded values to JSON-compatible types so both
// the schema validator and the store see the same shapes.
func jsonTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[k] = jsonTypes(item)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = jsonTypes(item)
		}
		return result
	case int:
		return int64(val)
	default:
		return val
	}
}

// compiledSeedSchema returns the cached compiled schema or compiles it.
func compiledSeedSchema() (*jschema.Schema, error) {
	if seedSchemaCache != nil {
		return seedSchemaCache, nil
	}

	var schemaData any
	if err := json.Unmarshal(seedSchemaJSON, &schemaData); err != nil {
		return nil, oops.Code("ILLEGAL_STATE").Errorf("failed to parse seed schema: %v", err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("seed.schema.json", schemaData); err != nil {
		return nil, oops.Code("ILLEGAL_STATE").Errorf("failed to add schema resource: %v", err)
	}
	sch, err := c.Compile("seed.schema.json")
	if err != nil {
		return nil, oops.Code("ILLEGAL_STATE").Errorf("failed to compile seed schema: %v", err)
	}

	seedSchemaCache = sch
	return sch, nil
}
