package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_CreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != defaultListen || cfg.WeekStart != "monday" || cfg.Density != "regular" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600, got %o", perm)
	}
}

func TestLoad_NormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
listen: ":9000"
week_start: Sunday
density: sparse
refresh: "not a cron"
max_iterations: -3
feeds:
  - url: https://example.com/team.ics
    name: team
    plan_type: work
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != ":9000" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.WeekStart != "sunday" {
		t.Errorf("week_start = %q", cfg.WeekStart)
	}
	if cfg.Density != "regular" {
		t.Errorf("density = %q", cfg.Density)
	}
	if cfg.RefreshCron != defaultRefresh {
		t.Errorf("refresh = %q", cfg.RefreshCron)
	}
	if cfg.MaxIterations != defaultMaxIterations {
		t.Errorf("max_iterations = %d", cfg.MaxIterations)
	}
	if len(cfg.Feeds) != 1 || cfg.Feeds[0].SourceID() != "team" || cfg.Feeds[0].PlanType != "work" {
		t.Errorf("feeds = %+v", cfg.Feeds)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Timezone = "Asia/Seoul"
	cfg.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Timezone != "Asia/Seoul" || got.BasicAuth == nil || got.BasicAuth.Username != "u" {
		t.Errorf("round trip lost data: %+v", got)
	}
}

func TestApplyEnvAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envFile, []byte("PLANCAL_TEST_DOTENV_DENSITY=compact\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("PLANCAL_TEST_DOTENV_DENSITY") })
	if err := LoadDotEnv(envFile, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if os.Getenv("PLANCAL_TEST_DOTENV_DENSITY") != "compact" {
		t.Fatal("dotenv value not loaded")
	}

	t.Setenv("PLANCAL_DENSITY", os.Getenv("PLANCAL_TEST_DOTENV_DENSITY"))
	t.Setenv("PLANCAL_MAX_ITERATIONS", "120")
	t.Setenv("PLANCAL_BASIC_AUTH_USER", "admin")
	t.Setenv("PLANCAL_BASIC_AUTH_PASSWORD", "secret")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.Density != "compact" || cfg.MaxIterations != 120 {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.BasicAuth == nil || cfg.BasicAuth.Password != "secret" {
		t.Errorf("basic auth not applied: %+v", cfg.BasicAuth)
	}
}
