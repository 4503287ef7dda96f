// Copyright 2025 Cloudlint Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudlint/harvest/ai"
	"github.com/cloudlint/harvest/ai/openai"
	"github.com/cloudlint/harvest/convert"
	"github.com/cloudlint/harvest/core"
	"github.com/cloudlint/harvest/dedup"
	"github.com/cloudlint/harvest/health"
	"github.com/cloudlint/harvest/kb"
	"github.com/cloudlint/harvest/pipeline"
	"github.com/cloudlint/harvest/registry"
	"github.com/cloudlint/harvest/stage"
	"github.com/cloudlint/harvest/state"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "harvest",
		Usage: "Ingestion pipeline for cloud misconfiguration recommendations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
			&cli.StringFlag{
				Name:  "data",
				Usage: "Data directory for state, staging and the knowledge base",
				Value: "data",
			},
			&cli.StringFlag{
				Name:  "registry",
				Usage: "Path to the source registry file",
				Value: "sources.yaml",
			},
			&cli.StringFlag{
				Name:  "schema",
				Usage: "Path to the recommendation JSON schema",
				Value: "schema/misconfig-schema.json",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "fetch",
				Usage:  "Run the ingestion pipeline",
				Action: fetchCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "sources",
						Usage: "Source IDs to fetch (default: all enabled)",
					},
					&cli.StringFlag{
						Name:  "source-type",
						Usage: "Filter by source type (feed, page, repository)",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Fetch and dedup without conversion or staging",
					},
					&cli.BoolFlag{
						Name:  "skip-llm",
						Usage: "Skip generative conversion",
					},
					&cli.IntFlag{
						Name:  "max-items",
						Usage: "Max items per source",
					},
					&cli.Float64Flag{
						Name:  "similarity-threshold",
						Usage: "Dedup similarity threshold",
						Value: dedup.DefaultThreshold,
					},
					&cli.BoolFlag{
						Name:  "semantic",
						Usage: "Enable the semantic dedup pass backed by an embedding model",
					},
					&cli.BoolFlag{
						Name:  "auto-promote",
						Usage: "Promote low-similarity items straight into the knowledge base",
					},
					&cli.Float64Flag{
						Name:  "auto-promote-threshold",
						Usage: "Auto-promote dedup score threshold",
						Value: 0.30,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Fetch worker pool size (default: NumCPU/2)",
					},
					&cli.StringFlag{
						Name:  "llm-host",
						Usage: "Generator service host URL",
						Value: "http://localhost:11434/v1",
					},
					&cli.StringFlag{
						Name:  "llm-model",
						Usage: "Generator model name",
						Value: "qwen2.5:3b",
					},
					&cli.StringFlag{
						Name:  "embedding-host",
						Usage: "Embedding service host URL (defaults to llm-host)",
					},
					&cli.StringFlag{
						Name:  "embedding-model",
						Usage: "Embedding model name",
						Value: "embeddinggemma",
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N items",
						Value: 1,
					},
				},
			},
			{
				Name:   "list-sources",
				Usage:  "List configured sources",
				Action: listSourcesCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "enabled-only",
						Usage: "Show only enabled sources",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output as JSON",
					},
				},
			},
			{
				Name:   "health",
				Usage:  "Run health checks over pipeline state",
				Action: healthCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "check",
						Usage: fmt.Sprintf("Specific checks to run (%s)", strings.Join(health.CheckNames, ", ")),
					},
				},
			},
			{
				Name:   "history",
				Usage:  "Show pipeline run history",
				Action: historyCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "last",
						Usage: "Number of runs to show",
						Value: 10,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output as JSON",
					},
				},
			},
			{
				Name:   "show-staged",
				Usage:  "Show staged recommendations awaiting review",
				Action: showStagedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "filter-service",
						Usage: "Filter by service name",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output as JSON",
					},
				},
			},
			{
				Name:      "promote",
				Usage:     "Promote a staged recommendation into the knowledge base",
				ArgsUsage: "<id>",
				Action:    promoteCommand,
			},
			{
				Name:      "reject",
				Usage:     "Reject a staged recommendation",
				ArgsUsage: "<id>",
				Action:    rejectCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "reason",
						Usage: "Rejection reason, recorded alongside the entry",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// env bundles the stores every command operates on.
type env struct {
	reg     *registry.Registry
	store   *state.Store
	kbStore *kb.Store
	staging *stage.Store
	dataDir string
}

func openEnv(c *cli.Context) (*env, error) {
	reg, err := registry.Load(c.String("registry"))
	if err != nil {
		return nil, err
	}

	dataDir := c.String("data")
	store, err := state.Load(filepath.Join(dataDir, "ingest_state.json"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	kbStore := kb.NewStore(filepath.Join(dataDir, "by-service"), nil)
	staging := stage.NewStore(filepath.Join(dataDir, "staging"), kbStore, nil)

	return &env{reg: reg, store: store, kbStore: kbStore, staging: staging, dataDir: dataDir}, nil
}

func fetchCommand(c *cli.Context) error {
	ctx := context.Background()

	e, err := openEnv(c)
	if err != nil {
		return err
	}

	schemaData, err := os.ReadFile(c.String("schema"))
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	schema, err := core.ParseSchema(schemaData)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithSourceFilter(core.SourceType(c.String("source-type")), c.StringSlice("sources")),
		pipeline.WithDryRun(c.Bool("dry-run")),
		pipeline.WithDedupOptions(dedup.WithThreshold(c.Float64("similarity-threshold"))),
		pipeline.WithProgress(pipeline.NewProgressTracker(os.Stderr, c.Int("report-interval"))),
	}
	if c.Int("max-items") > 0 {
		opts = append(opts, pipeline.WithMaxItems(c.Int("max-items")))
	}
	if c.Int("workers") > 0 {
		opts = append(opts, pipeline.WithWorkers(c.Int("workers")))
	}
	if c.Bool("auto-promote") {
		opts = append(opts, pipeline.WithAutoPromote(c.Float64("auto-promote-threshold")))
	}

	embeddingHost := c.String("embedding-host")
	if embeddingHost == "" {
		embeddingHost = c.String("llm-host")
	}
	aiConfig := ai.NewConfig(
		ai.WithGeneratorHost(c.String("llm-host")),
		ai.WithGeneratorModel(c.String("llm-model")),
		ai.WithEmbeddingHost(embeddingHost),
		ai.WithEmbeddingModel(c.String("embedding-model")),
	)
	if err := aiConfig.Validate(); err != nil {
		return fmt.Errorf("invalid AI configuration: %w", err)
	}

	if !c.Bool("skip-llm") && !c.Bool("dry-run") {
		generator, err := openai.NewGenerator(aiConfig)
		if err != nil {
			return fmt.Errorf("failed to create generator: %w", err)
		}
		opts = append(opts, pipeline.WithConverter(convert.NewConverter(generator, string(schemaData))))
	}

	if c.Bool("semantic") {
		embedder, err := openai.NewEmbedder(aiConfig)
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
		cache, err := dedup.OpenEmbedCache(filepath.Join(e.dataDir, "embed-cache"))
		if err != nil {
			return fmt.Errorf("failed to open embedding cache: %w", err)
		}
		defer cache.Close()
		opts = append(opts, pipeline.WithDedupOptions(dedup.WithEmbedder(embedder), dedup.WithCache(cache)))
	}

	p, err := pipeline.New(e.reg, e.store, e.kbStore, e.staging, schema, opts...)
	if err != nil {
		return err
	}
	defer p.Release()

	metrics, err := p.Run(ctx)
	if err != nil {
		return err
	}

	printSummary(metrics)
	if metrics.AutoPromoted > 0 {
		fmt.Printf("\n  %d item(s) auto-promoted to the knowledge base\n", metrics.AutoPromoted)
	}
	if len(metrics.Errors) > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func printSummary(m *core.PipelineMetrics) {
	line := strings.Repeat("=", 60)
	fmt.Println("\n" + line)
	fmt.Println("Pipeline Run Summary")
	fmt.Println(line)
	fmt.Printf("Sources processed:  %d/%d\n", m.SourcesProcessed, m.SourcesAttempted)
	fmt.Printf("Items fetched:      %d\n", m.ItemsFetched)
	fmt.Printf("Filtered (seen):    %d\n", m.FilteredSeen)
	fmt.Printf("Filtered (dedup):   %d\n", m.FilteredDuplicate)
	fmt.Printf("Converted:          %d\n", m.Converted)
	fmt.Printf("Convert skipped:    %d\n", m.ConvertSkipped)
	fmt.Printf("Validated:          %d\n", m.Validated)
	fmt.Printf("Validation failed:  %d\n", m.ValidationFailed)
	fmt.Printf("Staged:             %d\n", m.Staged)
	if m.ElapsedSeconds > 0 {
		fmt.Printf("Elapsed:            %.2fs\n", m.ElapsedSeconds)
	}
	if len(m.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(m.Errors))
		for _, err := range m.Errors {
			fmt.Printf("  - %s\n", err)
		}
	}
	fmt.Println(line)
}

func listSourcesCommand(c *cli.Context) error {
	reg, err := registry.Load(c.String("registry"))
	if err != nil {
		return err
	}

	sources := reg.Sources
	if c.Bool("enabled-only") {
		sources = reg.Filter("", nil)
	}

	if c.Bool("json") {
		return json.NewEncoder(os.Stdout).Encode(sources)
	}

	fmt.Printf("%-35s %-12s %-8s %s\n", "ID", "Type", "Enabled", "Categories")
	fmt.Println(strings.Repeat("-", 80))
	enabled := 0
	for _, src := range reg.Sources {
		if src.Enabled {
			enabled++
		}
	}
	for _, src := range sources {
		yn := "no"
		if src.Enabled {
			yn = "yes"
		}
		fmt.Printf("%-35s %-12s %-8s %s\n", src.ID, src.Type, yn, strings.Join(src.Categories, ", "))
	}
	fmt.Printf("\n  %d enabled / %d total\n", enabled, len(reg.Sources))
	return nil
}

func healthCommand(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}

	monitor := health.NewMonitor(e.store, e.reg, e.staging)
	findings := monitor.Run(c.StringSlice("check"))

	symbols := map[health.Severity]string{
		health.SeverityOK:       "✓",
		health.SeverityWarning:  "⚠",
		health.SeverityError:    "✗",
		health.SeverityCritical: "✗✗",
	}
	for _, f := range findings {
		fmt.Printf("  %s [%s] %s: %s\n", symbols[f.Severity], f.Severity, f.Check, f.Message)
	}

	if !health.Healthy(findings) {
		return cli.Exit("", 1)
	}
	return nil
}

func historyCommand(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}

	runs := e.store.Runs()
	if len(runs) == 0 {
		fmt.Println("No pipeline runs recorded.")
		return nil
	}

	last := c.Int("last")
	if last > 0 && len(runs) > last {
		runs = runs[len(runs)-last:]
	}

	if c.Bool("json") {
		return json.NewEncoder(os.Stdout).Encode(runs)
	}

	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]
		m := run.Metrics
		fmt.Printf("  %s  fetched=%d  staged=%d  dedup=%d  errors=%d\n",
			run.Timestamp.Format("2006-01-02 15:04:05"),
			m.ItemsFetched, m.Staged, m.FilteredDuplicate, len(m.Errors))
	}
	return nil
}

func showStagedCommand(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}

	staged, err := e.staging.List(c.String("filter-service"))
	if err != nil {
		return err
	}
	if len(staged) == 0 {
		fmt.Println("No staged recommendations.")
		return nil
	}

	if c.Bool("json") {
		return json.NewEncoder(os.Stdout).Encode(staged)
	}

	fmt.Printf("%-40s %-12s %-40s %s\n", "ID", "Service", "Scenario", "Dedup")
	fmt.Println(strings.Repeat("-", 100))
	for _, item := range staged {
		scenario := item.Scenario
		if len(scenario) > 40 {
			scenario = scenario[:38] + ".."
		}
		fmt.Printf("%-40s %-12s %-40s %.2f\n", item.ID, item.ServiceName, scenario, item.DedupScore)
	}
	fmt.Printf("\nTotal: %d staged recommendations\n", len(staged))
	return nil
}

func promoteCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: promote <id>")
	}
	e, err := openEnv(c)
	if err != nil {
		return err
	}

	msg, err := e.staging.Promote(c.Args().First())
	if err != nil {
		fmt.Println(err)
		return cli.Exit("", 1)
	}
	fmt.Println(msg)
	return nil
}

func rejectCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: reject <id>")
	}
	e, err := openEnv(c)
	if err != nil {
		return err
	}

	msg, err := e.staging.Reject(c.Args().First(), c.String("reason"))
	if err != nil {
		fmt.Println(err)
		return cli.Exit("", 1)
	}
	fmt.Println(msg)
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
