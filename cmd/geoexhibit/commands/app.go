package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/geoexhibit/geoexhibit/pkg/analyzers"
	"github.com/geoexhibit/geoexhibit/pkg/config"
	"github.com/geoexhibit/geoexhibit/pkg/features"
	"github.com/geoexhibit/geoexhibit/pkg/plugins"
	"github.com/geoexhibit/geoexhibit/pkg/stores"
	"github.com/geoexhibit/geoexhibit/pkg/telemetry"
	"github.com/geoexhibit/geoexhibit/pkg/timeres"
)

// env is the shared setup of the commands that run analyzers.
type env struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	registry *plugins.Registry
	jobs     *stores.SQLiteStore
	metrics  *telemetry.MetricsServer

	workDir     string
	keepWorkDir bool
}

// resolveConfigPath prefers the positional argument, then --config, then a
// known file in the working directory.
func resolveConfigPath(args []string) (string, error) {
	switch {
	case len(args) > 0 && args[0] != "":
		return args[0], nil
	case configPath != "":
		return configPath, nil
	}
	return config.Discover(".")
}

func loadConfig(args []string) (*config.Loader, *config.Config, error) {
	path, err := resolveConfigPath(args)
	if err != nil {
		return nil, nil, err
	}
	loader := config.NewLoader()
	cfg, err := loader.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log.Debug().Str("path", path).Str("collection_id", cfg.Project.CollectionID).Msg("Configuration loaded")
	return loader, cfg, nil
}

func newTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion
	cfg.Metrics.ListenAddress = metricsAddr
	if traceSpans {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "stdout"
	}

	tel, err := telemetry.NewTelemetry(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	tel.Logger = telemetry.WrapLogger(log.Logger)
	if verbose {
		tel.Events.Subscribe(telemetry.LogSubscriber(tel.Logger.NewComponentLogger("events")), nil)
	}
	return tel, nil
}

// newRegistry registers the built-in analyzers and time providers. Plugin
// directories are scanned on first lookup.
func newRegistry(loader *config.Loader, dirs []string, workDir string) (*plugins.Registry, error) {
	registry := plugins.NewRegistry(plugins.Options{
		Directories: dirs,
		Schemas:     loader.Schemas(),
		Logger:      &log.Logger,
	})
	if err := analyzers.RegisterBuiltins(registry, workDir); err != nil {
		return nil, err
	}
	if err := timeres.RegisterBuiltins(registry); err != nil {
		return nil, err
	}
	return registry, nil
}

// openEnv loads the configuration and sets up telemetry, the registry and,
// when enabled, the job history. workDir is created when empty.
func openEnv(ctx context.Context, args []string, workDir string) (*env, error) {
	loader, cfg, err := loadConfig(args)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, workDir: workDir, keepWorkDir: workDir != ""}
	if e.workDir == "" {
		if e.workDir, err = os.MkdirTemp("", "geoexhibit-"); err != nil {
			return nil, err
		}
	}

	if e.tel, err = newTelemetry(); err != nil {
		e.close(ctx)
		return nil, err
	}
	if e.metrics, err = e.tel.Metrics.StartMetricsServer(log.Logger); err != nil {
		e.close(ctx)
		return nil, err
	}

	if e.registry, err = newRegistry(loader, cfg.Analyzer.PluginDirectories, e.workDir); err != nil {
		e.close(ctx)
		return nil, err
	}

	if cfg.State.Enabled && cfg.State.Path != "" {
		if e.jobs, err = stores.Open(ctx, cfg.State.Path); err != nil {
			e.close(ctx)
			return nil, err
		}
		e.tel.Events.Subscribe(telemetry.StoreSubscriber(e.jobs), nil)
	}
	return e, nil
}

func (e *env) close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if e.registry != nil {
		if err := e.registry.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to close plugins")
		}
	}
	if e.jobs != nil {
		if err := e.jobs.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close job history")
		}
	}
	if e.metrics != nil {
		if err := e.metrics.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to stop metrics server")
		}
	}
	if e.tel != nil {
		if err := e.tel.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush telemetry")
		}
	}
	if e.workDir != "" && !e.keepWorkDir {
		_ = os.RemoveAll(e.workDir)
	}
}

// featuresPath returns flag, or a known features file next to the config.
func (e *env) featuresPath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	dir := "."
	if e.cfg.Source != "" {
		dir = filepath.Dir(e.cfg.Source)
	}
	return features.Discover(dir)
}
