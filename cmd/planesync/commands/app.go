package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/planesync/planesync/pkg/engine"
	"github.com/planesync/planesync/pkg/plane"
	"github.com/planesync/planesync/pkg/policy"
	"github.com/planesync/planesync/pkg/settings"
	"github.com/planesync/planesync/pkg/stores"
	"github.com/planesync/planesync/pkg/telemetry"
	"github.com/planesync/planesync/pkg/template"
)

// app holds what a command needs to talk to Plane and the ledger.
type app struct {
	settings *settings.Settings
	tel      *telemetry.Telemetry
	store    *stores.SQLStore
	client   *plane.Client
	policy   *policy.Engine
	exec     *engine.Executor
}

// loadSettings reads settings and raises the global log level with -v.
func loadSettings() (*settings.Settings, error) {
	s, err := settings.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := telemetry.ParseLevel(s.Telemetry.LogLevel)
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	if s.ConfigFile != "" {
		log.Debug().Str("config", s.ConfigFile).Msg("Loaded settings")
	}
	return s, nil
}

// openApp wires settings, telemetry, the ledger and, when remote is set,
// the Plane client and executor. overrides adjust the loaded settings.
func openApp(ctx context.Context, remote bool, overrides ...func(*settings.Settings)) (*app, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(s)
	}
	if remote {
		if err := s.RequireRemote(); err != nil {
			return nil, err
		}
	}

	tcfg := s.TelemetryConfig(buildVersion)
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	tel, err := telemetry.NewTelemetry(tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{settings: s, tel: tel}

	a.store, err = openStore(ctx, s)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	if !remote {
		return a, nil
	}

	a.client = plane.NewClient(s.Plane.BaseURL, s.Plane.APIKey).
		WithTimeout(s.Plane.Timeout).
		WithLogger(tel.Logger.NewComponentLogger("plane").Zerolog())

	opts := s.EngineOptions()
	opts.Telemetry = tel
	if s.Policy.Enabled {
		a.policy, err = newPolicyEngine(ctx, s, tel.Logger.Zerolog())
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		opts.Guard = a.policy
	}
	a.exec = engine.NewExecutor(a.client, a.store, opts)

	return a, nil
}

// openStore opens the ledger and brings its schema up to date.
func openStore(ctx context.Context, s *settings.Settings) (*stores.SQLStore, error) {
	cfg := s.StoreConfig()
	if cfg.Driver == stores.DriverSQLite && cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	store, err := stores.NewSQLStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// newPolicyEngine builds a policy engine with the configured policy paths.
func newPolicyEngine(ctx context.Context, s *settings.Settings, logger zerolog.Logger) (*policy.Engine, error) {
	pe, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(s.Policy.Paths) > 0 {
		if err := pe.LoadPolicies(ctx, s.Policy.Paths); err != nil {
			return nil, err
		}
	}
	return pe, nil
}

// Close releases the ledger and flushes telemetry.
func (a *app) Close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if a.tel != nil {
		if err := a.tel.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down telemetry")
		}
	}
}

// loadTemplate reads a template file. format overrides the extension.
func loadTemplate(ctx context.Context, path, format string, vars map[string]string) (*template.BatchTemplate, error) {
	loader, err := template.NewLoader()
	if err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		loader.Vars = make(map[string]interface{}, len(vars))
		for k, v := range vars {
			loader.Vars[k] = v
		}
	}

	if format == "" {
		return loader.LoadFile(ctx, path)
	}
	f, err := template.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return loader.Parse(ctx, path, content, f)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
