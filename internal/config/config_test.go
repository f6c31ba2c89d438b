package config

import (
	"flag"
	"testing"
	"time"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := ParseFlags("worker", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != defaultDBPath {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.SyncPeriod != defaultSyncPeriod {
		t.Fatalf("expected default sync period, got %v", cfg.SyncPeriod)
	}
	if cfg.ReconcileInterval != defaultReconcileInterval {
		t.Fatalf("expected default reconcile interval, got %v", cfg.ReconcileInterval)
	}
	if cfg.LoginTTL != defaultLoginTTL {
		t.Fatalf("expected default login ttl, got %v", cfg.LoginTTL)
	}
	if cfg.FanoutLimit != defaultFanoutLimit {
		t.Fatalf("expected default fanout limit, got %d", cfg.FanoutLimit)
	}
	if !cfg.InsecureTLS {
		t.Fatal("expected insecure TLS on by default")
	}
}

func TestParseFlagsOverrides(t *testing.T) {
	cfg, err := ParseFlags("worker", []string{
		"-db", "/tmp/fleet.db",
		"-log-level", "debug",
		"-sync-period", "30m",
		"-reconcile-interval", "45s",
		"-login-ttl", "10m",
		"-fanout-limit", "8",
		"-insecure-tls=false",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/tmp/fleet.db" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.SyncPeriod != 30*time.Minute || cfg.ReconcileInterval != 45*time.Second {
		t.Fatalf("durations not applied: %+v", cfg)
	}
	if cfg.LoginTTL != 10*time.Minute || cfg.FanoutLimit != 8 || cfg.InsecureTLS {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseFlagsEnvFallback(t *testing.T) {
	t.Setenv("PANELFLEET_DB_PATH", "/var/lib/fleet.db")
	t.Setenv("PANELFLEET_FANOUT_LIMIT", "3")
	t.Setenv("PANELFLEET_SYNC_PERIOD", "2h")
	t.Setenv("PANELFLEET_INSECURE_TLS", "false")

	cfg, err := ParseFlags("worker", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/var/lib/fleet.db" || cfg.FanoutLimit != 3 {
		t.Fatalf("env fallback not applied: %+v", cfg)
	}
	if cfg.SyncPeriod != 2*time.Hour || cfg.InsecureTLS {
		t.Fatalf("env fallback not applied: %+v", cfg)
	}
}

func TestParseFlagsFlagBeatsEnv(t *testing.T) {
	t.Setenv("PANELFLEET_DB_PATH", "/from/env.db")
	cfg, err := ParseFlags("worker", []string{"-db", "/from/flag.db"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/from/flag.db" {
		t.Fatalf("flag must override env, got %q", cfg.DBPath)
	}
}

func TestParseFlagsInvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("PANELFLEET_FANOUT_LIMIT", "lots")
	t.Setenv("PANELFLEET_SYNC_PERIOD", "soon")
	cfg, err := ParseFlags("worker", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FanoutLimit != defaultFanoutLimit || cfg.SyncPeriod != defaultSyncPeriod {
		t.Fatalf("expected defaults for unparseable env, got %+v", cfg)
	}
}

func TestParseFlagsValidation(t *testing.T) {
	cases := [][]string{
		{"-db", " "},
		{"-sync-period", "0s"},
		{"-reconcile-interval", "5s"},
		{"-login-ttl", "-1m"},
		{"-fanout-limit", "0"},
	}
	for _, args := range cases {
		if _, err := ParseFlags("worker", args); err == nil {
			t.Errorf("expected validation error for %v", args)
		}
	}
}

func TestParseFlagsWithExtraFlags(t *testing.T) {
	var code string
	_, err := ParseFlagsWith("servers", []string{"-code", "de1", "-db", "/tmp/x.db"}, func(fs *flag.FlagSet) {
		fs.StringVar(&code, "code", "", "server code")
	})
	if err != nil {
		t.Fatal(err)
	}
	if code != "de1" {
		t.Fatalf("expected extra flag parsed, got %q", code)
	}
}
