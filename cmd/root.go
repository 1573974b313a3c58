package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codetesla51/lotterykv/config"
	"github.com/codetesla51/lotterykv/store"
)

var (
	configPath string
	backend    string
	redisAddr  string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "lotterykv",
	Short: "Key/value data access for the lottery platform",
	Long: `lotterykv is the data-access layer of the lottery platform.

It exposes string, set and hash operations on Redis (or an in-memory or
PostgreSQL backend) over HTTP, and as one-shot commands for operators.

Common usage:
  lotterykv serve --config lottery.yaml       # Run the HTTP surface
  lotterykv get draw:latest                   # Read a string value
  lotterykv set session:1 token --ttl 60      # Write a value that expires
  lotterykv prefix get ticket:                # Values of every ticket:* key`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML or TOML config file")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "store backend: redis, memory or database (overrides config)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "", "Redis address (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if redisAddr != "" {
		cfg.Redis.Address = redisAddr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func storeOptions(cfg *config.Config) store.Options {
	return store.Options{
		Backend: cfg.Backend,
		Redis: store.RedisOptions{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		},
		DSN: cfg.Database.DSN,
	}
}

// openStore loads config, builds the logger and opens the configured backend.
func openStore(ctx context.Context) (store.Store, *config.Config, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	s, err := store.Open(ctx, storeOptions(cfg), logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return s, cfg, logger, nil
}
