package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/vampirenirmal/storyforge/internal/brief"
	"github.com/vampirenirmal/storyforge/internal/chapter"
	"github.com/vampirenirmal/storyforge/internal/config"
	"github.com/vampirenirmal/storyforge/internal/cover"
	"github.com/vampirenirmal/storyforge/internal/dna"
	"github.com/vampirenirmal/storyforge/internal/gateway"
	"github.com/vampirenirmal/storyforge/internal/pipeline"
	"github.com/vampirenirmal/storyforge/internal/prompts"
	"github.com/vampirenirmal/storyforge/internal/qa"
	"github.com/vampirenirmal/storyforge/internal/storage"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *storage.SQLite
	briefs *brief.Manager
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	if opts.configPath != "" {
		return config.LoadFrom(opts.configPath)
	}
	return config.Load()
}

// openApp loads config, sets up logging and opens the database. Commands
// that never call the model still go through here.
func openApp(opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger := newLogger(os.Stderr, level, cfg.Log.JSON || opts.logJSON)
	slog.SetDefault(logger)

	db, err := storage.OpenSQLite(cfg.Storage.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		briefs: brief.NewManager(db,
			brief.WithMaxAttempts(cfg.Limits.MaxAttempts),
			brief.WithLogger(logger)),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// orchestrator wires the generation stack behind the pipeline.
func (a *app) orchestrator() (*pipeline.Orchestrator, error) {
	cfg := a.cfg
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	limits := cfg.Limits

	client := gateway.NewClient(cfg.AI.APIKey,
		gateway.WithAPIConfig(cfg.AI.BaseURL, cfg.AI.Model),
		gateway.WithTimeout(time.Duration(cfg.AI.Timeout)*time.Second),
		gateway.WithMaxTokens(cfg.AI.MaxTokens),
		gateway.WithRetry(limits.GatewayRetries),
		gateway.WithBackoff(limits.BaseBackoff, limits.MaxBackoff),
		gateway.WithRateLimit(limits.RateLimit.RequestsPerMinute, limits.RateLimit.BurstSize),
		gateway.WithLogger(a.logger),
	)
	lib := prompts.NewLibrary(cfg.Storage.PromptsDir)
	if err := lib.Preload(); err != nil {
		return nil, fmt.Errorf("loading prompt templates: %w", err)
	}

	synth := dna.New(client, lib,
		dna.WithModel(cfg.AI.Model),
		dna.WithBudget(limits.StageAttempts, limits.Variations),
		dna.WithLogger(a.logger))
	writer := chapter.New(client, lib,
		chapter.WithModel(cfg.AI.Model),
		chapter.WithCheckerModel(cfg.AI.CheckerModel),
		chapter.WithLogger(a.logger))
	gate := qa.New(client, lib,
		qa.WithModel(cfg.AI.Model),
		qa.WithThresholds(qa.ThresholdsFrom(cfg.QA)),
		qa.WithLogger(a.logger))
	artist := cover.NewClient(cfg.Cover.BaseURL, cfg.Cover.APIKey, lib,
		cover.WithPolling(cfg.Cover.PollInterval, cfg.Cover.MaxPolls),
		cover.WithLogger(a.logger))
	archive := storage.NewArchive(storage.NewFileSystem(cfg.Storage.ArchiveDir))

	return pipeline.New(synth, writer, gate, a.db, a.briefs,
		pipeline.WithCover(artist),
		pipeline.WithArchive(archive),
		pipeline.WithRunTimeout(limits.RunTimeout),
		pipeline.WithLogger(a.logger)), nil
}
