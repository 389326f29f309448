// Package config loads allot configuration.
//
// Configuration files are CUE. A file is unified with the embedded schema,
// which supplies defaults and rejects unknown fields, then decoded into
// Config. Command-line flags override file values.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// Config is the resolved configuration.
type Config struct {
	DB               string
	ClaimTTL         time.Duration
	MaxRetries       int
	SweepInterval    time.Duration
	LogLevel         slog.Level
	MetricsNamespace string
}

// fileConfig mirrors #Config field for field.
type fileConfig struct {
	DB               string `json:"db"`
	ClaimTTL         string `json:"claim_ttl"`
	MaxRetries       int    `json:"max_retries"`
	SweepInterval    string `json:"sweep_interval"`
	LogLevel         string `json:"log_level"`
	MetricsNamespace string `json:"metrics_namespace"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ClaimTTL:         12 * time.Hour,
		MaxRetries:       3,
		LogLevel:         slog.LevelInfo,
		MetricsNamespace: "allot",
	}
}

// Load reads and validates the CUE file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse validates CUE source against the schema and resolves it.
// filename is used in error positions only.
func Parse(src []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Config{}, fmt.Errorf("parse config: %s", errors.Details(err, nil))
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("invalid config: %s", errors.Details(err, nil))
	}

	var fc fileConfig
	if err := unified.Decode(&fc); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return fc.resolve()
}

func (fc fileConfig) resolve() (Config, error) {
	cfg := Config{
		DB:               fc.DB,
		MaxRetries:       fc.MaxRetries,
		MetricsNamespace: fc.MetricsNamespace,
	}

	var err error
	if cfg.ClaimTTL, err = time.ParseDuration(fc.ClaimTTL); err != nil {
		return Config{}, fmt.Errorf("invalid config: claim_ttl: %w", err)
	}
	if cfg.ClaimTTL <= 0 {
		return Config{}, fmt.Errorf("invalid config: claim_ttl must be positive, got %s", fc.ClaimTTL)
	}
	if cfg.SweepInterval, err = time.ParseDuration(fc.SweepInterval); err != nil {
		return Config{}, fmt.Errorf("invalid config: sweep_interval: %w", err)
	}
	if cfg.SweepInterval < 0 {
		return Config{}, fmt.Errorf("invalid config: sweep_interval must not be negative, got %s", fc.SweepInterval)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(fc.LogLevel)); err != nil {
		return Config{}, fmt.Errorf("invalid config: log_level: %w", err)
	}
	return cfg, nil
}
