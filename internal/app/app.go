// Package app wires a workspace into a ready engine: config, logger,
// database, schema and template registry.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"filigree/internal/config"
	"filigree/internal/db"
	"filigree/internal/engine"
	"filigree/internal/logging"
	"filigree/internal/migrate"
	"filigree/internal/templates"
)

type Options struct {
	Workspace string
	// Config overrides reading filigree.yml from the workspace.
	Config *config.Config
	// LogWriter defaults to stderr.
	LogWriter io.Writer
	// LogLevel overrides the configured level when set.
	LogLevel string
}

type App struct {
	Workspace string
	Config    *config.Config
	Logger    *log.Logger
	DB        *sql.DB
	// SchemaVersion is the database schema version after migrations ran.
	SchemaVersion int
	Loader        templates.Loader
	Registry      *templates.Registry
	Engine        engine.Engine
}

// Open prepares a workspace for use. A missing filigree.yml means defaults.
func Open(ctx context.Context, opts Options) (*App, error) {
	workspace := opts.Workspace
	if workspace == "" {
		workspace = "."
	}
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.LoadOptional(workspace)
		if err != nil {
			return nil, err
		}
	}
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{Level: level, Format: cfg.Logging.Format, Writer: opts.LogWriter})
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(db.Config{Workspace: workspace, Path: cfg.Storage.Path})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	schema, err := migrate.Version(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	if latest := migrate.Latest(); schema > latest {
		conn.Close()
		return nil, fmt.Errorf("database schema v%d is newer than this build supports (v%d)", schema, latest)
	}

	loader := templates.Loader{
		EnabledPacks: cfg.Workflow.EnabledPacks,
		PacksDir:     config.Resolve(workspace, cfg.Workflow.PacksDir),
		TemplatesDir: config.Resolve(workspace, cfg.Workflow.TemplatesDir),
	}
	reg := templates.NewRegistry(loader, logger.WithPrefix("templates"))
	if err := reg.Load(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("load templates: %w", err)
	}
	logger.Debug("workspace ready", "workspace", workspace, "db", db.Path(db.Config{Workspace: workspace, Path: cfg.Storage.Path}), "schema", schema, "types", len(reg.Types()))

	return &App{
		Workspace:     workspace,
		Config:        cfg,
		Logger:        logger,
		DB:            conn,
		SchemaVersion: schema,
		Loader:        loader,
		Registry:      reg,
		Engine:        engine.New(conn, reg, cfg, logger),
	}, nil
}

// WatchTemplates reloads the registry on template file changes until ctx is
// done. It returns immediately when watching is disabled in config.
func (a *App) WatchTemplates(ctx context.Context) error {
	if !a.Config.Workflow.Watch {
		return nil
	}
	a.Logger.Info("watching template directories", "dirs", a.Loader.Dirs())
	return a.Registry.Watch(ctx, a.Loader.Dirs()...)
}

func (a *App) Close() error {
	return a.DB.Close()
}
