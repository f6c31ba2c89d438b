// Package config parses panelfleet configuration from flags with
// environment-variable fallbacks.
package config

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings shared by the worker daemon and the one-shot
// fleet commands.
type Config struct {
	DBPath            string
	LogLevel          string
	SyncPeriod        time.Duration
	ReconcileInterval time.Duration
	LoginTTL          time.Duration
	FanoutLimit       int
	InsecureTLS       bool
	PprofAddr         string
}

const defaultDBPath = "./panelfleet.db"
const defaultSyncPeriod = time.Hour
const defaultReconcileInterval = 60 * time.Second
const defaultLoginTTL = 55 * time.Minute
const defaultFanoutLimit = 5

// ParseFlags parses the given command-line arguments into a [Config].
// Every flag falls back to a PANELFLEET_* environment variable, then to a
// package default.
func ParseFlags(command string, args []string) (Config, error) {
	return ParseFlagsWith(command, args, nil)
}

// ParseFlagsWith is ParseFlags with a hook for subcommands to register
// their own flags on the same flag set before parsing.
func ParseFlagsWith(command string, args []string, register func(fs *flag.FlagSet)) (Config, error) {
	cfg := Config{
		DBPath:            envOrDefault("PANELFLEET_DB_PATH", defaultDBPath),
		LogLevel:          envOrDefault("PANELFLEET_LOG_LEVEL", "info"),
		SyncPeriod:        envDurationOrDefault("PANELFLEET_SYNC_PERIOD", defaultSyncPeriod),
		ReconcileInterval: envDurationOrDefault("PANELFLEET_RECONCILE_INTERVAL", defaultReconcileInterval),
		LoginTTL:          envDurationOrDefault("PANELFLEET_LOGIN_TTL", defaultLoginTTL),
		FanoutLimit:       envIntOrDefault("PANELFLEET_FANOUT_LIMIT", defaultFanoutLimit),
		InsecureTLS:       envBoolOrDefault("PANELFLEET_INSECURE_TLS", true),
		PprofAddr:         envOrDefault("PANELFLEET_PPROF_ADDR", ""),
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.DurationVar(&cfg.SyncPeriod, "sync-period", cfg.SyncPeriod, "Max age of the server list before a registry re-sync")
	fs.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", cfg.ReconcileInterval, "Access reconciliation interval (worker)")
	fs.DurationVar(&cfg.LoginTTL, "login-ttl", cfg.LoginTTL, "Panel session lifetime before proactive re-login")
	fs.IntVar(&cfg.FanoutLimit, "fanout-limit", cfg.FanoutLimit, "Max concurrent in-flight panel calls")
	fs.BoolVar(&cfg.InsecureTLS, "insecure-tls", cfg.InsecureTLS, "Skip TLS verification for panel endpoints (panels commonly run self-signed certs)")
	fs.StringVar(&cfg.PprofAddr, "pprof-addr", cfg.PprofAddr, "Optional pprof listen address (worker)")
	if register != nil {
		register(fs)
	}
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("missing --db or PANELFLEET_DB_PATH")
	}
	if cfg.SyncPeriod <= 0 {
		return cfg, errors.New("sync period must be > 0")
	}
	if cfg.ReconcileInterval < 10*time.Second {
		return cfg, errors.New("reconcile interval must be at least 10s")
	}
	if cfg.LoginTTL <= 0 {
		return cfg, errors.New("login ttl must be > 0")
	}
	if cfg.FanoutLimit <= 0 {
		return cfg, errors.New("fanout limit must be > 0")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOrDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
