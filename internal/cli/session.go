package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/allot/internal/allocation"
	"github.com/roach88/allot/internal/config"
	"github.com/roach88/allot/internal/metrics"
	"github.com/roach88/allot/internal/store"
)

// session is an engine opened against the configured database.
type session struct {
	cfg      config.Config
	store    *store.Store
	engine   *allocation.Engine
	logger   *slog.Logger
	registry *prometheus.Registry
	out      *OutputFormatter

	metricsFile string
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}
	if opts.DB != "" {
		cfg.DB = opts.DB
	}
	if opts.ClaimTTL > 0 {
		cfg.ClaimTTL = opts.ClaimTTL
	}
	if opts.Verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	return cfg, nil
}

// openSession loads configuration, opens the database and builds the
// engine. Callers must Close the session.
func openSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if cfg.DB == "" {
		return nil, NewExitError(ExitCommandError, "no database: pass --db or set db in the config file")
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	logger.Debug("opening database", "path", cfg.DB)
	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	reg := prometheus.NewRegistry()
	eng := allocation.New(st, st.Reviews(),
		allocation.WithClaimTTL(cfg.ClaimTTL),
		allocation.WithMaxRetries(cfg.MaxRetries),
		allocation.WithLogger(logger),
		allocation.WithMetrics(metrics.NewPrometheus(reg, cfg.MetricsNamespace)),
	)

	return &session{
		cfg:         cfg,
		store:       st,
		engine:      eng,
		logger:      logger,
		registry:    reg,
		out:         opts.formatter(cmd),
		metricsFile: opts.MetricsFile,
	}, nil
}

// Close writes the metrics file, if requested, and closes the database.
func (s *session) Close() error {
	var errs []error
	if s.metricsFile != "" {
		if err := prometheus.WriteToTextfile(s.metricsFile, s.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics file: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}

// withSession opens a session, runs fn and closes the session. A close
// error is returned only if fn succeeded.
func withSession(opts *RootOptions, cmd *cobra.Command, fn func(s *session) error) (err error) {
	s, err := openSession(opts, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = WrapExitError(ExitFailure, "failed to close session", cerr)
		}
	}()
	return fn(s)
}
