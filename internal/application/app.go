// Package application wires configuration, the database pool, telemetry and
// the record service together for the server and the admin CLI.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/imoveis/internal/config"
	"github.com/JonMunkholm/imoveis/internal/core"
	_ "github.com/JonMunkholm/imoveis/internal/core/references" // Register all categories
	"github.com/JonMunkholm/imoveis/internal/database"
	"github.com/JonMunkholm/imoveis/internal/telemetry"
)

// Version is reported in traces and by the CLI.
var Version = "dev"

// App holds the long-lived components of a running process.
type App struct {
	Config  *config.Config
	DB      *database.Provider
	Service *core.Service

	shutdownTracing func(context.Context) error
}

// Options selects the startup steps that touch the schema.
type Options struct {
	// Migrate applies the schema before the service starts.
	Migrate bool

	// Seed inserts the default entry of every empty dictionary.
	Seed bool
}

// OptionsFromConfig enables the startup steps the configuration asks for.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{Migrate: cfg.Database.AutoMigrate, Seed: cfg.Records.SeedDefaults}
}

// Settings converts the records and audit sections into service settings.
func Settings(cfg *config.Config) (core.Settings, error) {
	policy, err := core.ParseNumericPolicy(cfg.Records.NumericPolicy)
	if err != nil {
		return core.Settings{}, err
	}
	mode, err := core.ParseUpdateMode(cfg.Records.UpdateMode)
	if err != nil {
		return core.Settings{}, err
	}
	return core.Settings{
		OperationTimeout: cfg.Records.OperationTimeout,
		NumericPolicy:    policy,
		UpdateMode:       mode,
		Audit:            cfg.Audit.Enabled,
	}, nil
}

// Open starts telemetry, applies category policy overrides, connects the
// pool and builds the service. Close releases everything Open acquired.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	settings, err := Settings(cfg)
	if err != nil {
		return nil, err
	}
	if err := core.ApplyPolicies(cfg.Records.CategoryPolicies()); err != nil {
		return nil, fmt.Errorf("category policies: %w", err)
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "imoveis",
		ServiceVersion: Version,
		Exporter:       cfg.Metrics.TraceExporter,
		OTLPEndpoint:   cfg.Metrics.OTLPEndpoint,
	})
	if err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, database.SettingsFromConfig(cfg.Database))
	if err != nil {
		return nil, errors.Join(err, shutdown(ctx))
	}
	slog.Info("connected to database", "name", db.DatabaseName())

	app := &App{
		Config:          cfg,
		DB:              db,
		Service:         core.NewService(db, settings),
		shutdownTracing: shutdown,
	}

	if opts.Migrate {
		applied, err := database.EnsureSchema(ctx, db.Pool())
		if err != nil {
			app.Close(ctx)
			return nil, err
		}
		slog.Info("schema ready", "migrations", applied)
	}

	if opts.Seed {
		n, err := app.Service.SeedDefaults(ctx)
		if err != nil {
			app.Close(ctx)
			return nil, fmt.Errorf("seed defaults: %w", err)
		}
		slog.Info("reference defaults seeded", "inserted", n)
	}

	for _, def := range core.Categories() {
		slog.Debug("category registered",
			"category", def.Key,
			"table", def.Table,
			"fallback", def.Fallback.String(),
			"required", def.Required,
		)
	}
	return app, nil
}

// Close closes the pool and flushes pending spans.
func (a *App) Close(ctx context.Context) {
	a.DB.Close()
	if err := a.shutdownTracing(ctx); err != nil {
		slog.Warn("tracing shutdown failed", "error", err)
	}
}

// RetentionConfig converts the audit section for the retention job.
func RetentionConfig(cfg *config.Config) core.RetentionConfig {
	return core.RetentionConfig{
		RetentionDays: cfg.Audit.RetentionDays,
		BatchSize:     cfg.Audit.BatchSize,
		CheckInterval: cfg.Audit.CheckInterval,
	}
}
