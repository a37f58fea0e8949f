package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gamerank/gamerank/pkg/popularity"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Refresh.ParseInterval() != time.Hour {
		t.Errorf("expected 1h refresh, got %v", cfg.Refresh.ParseInterval())
	}
	if cfg.Refresh.MinAlertTier() != popularity.TierPopular {
		t.Errorf("expected popular, got %s", cfg.Refresh.MinAlertTier())
	}
	if cfg.Scoring.Scorer().Weights() != popularity.DefaultWeights {
		t.Errorf("expected default weights")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Chdir(t.TempDir())

	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: /tmp/ranks.db
scoring:
  weights:
    follow: 0.5
    hype: 0.4
    rating: 0.1
    rating_amplifier: 5
refresh:
  interval: 15m
  sample_rate: 0.05
  alert_min_tier: mainstream
  projections:
    - name: hyped
      where: hypes > 0
      order_by: hypes DESC
      limit: 20
server:
  port: 9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "/tmp/ranks.db" {
		t.Errorf("expected dsn override, got %s", cfg.Database.DSN)
	}
	if cfg.Refresh.ParseInterval() != 15*time.Minute {
		t.Errorf("expected 15m, got %v", cfg.Refresh.ParseInterval())
	}
	if cfg.Refresh.MinAlertTier() != popularity.TierMainstream {
		t.Errorf("expected mainstream, got %s", cfg.Refresh.MinAlertTier())
	}
	if w := cfg.Scoring.Scorer().Weights(); w.Follow != 0.5 || w.RatingAmplifier != 5 {
		t.Errorf("unexpected weights %+v", w)
	}
	if cfg.Scoring.Scorer().Thresholds() != popularity.DefaultThresholds {
		t.Errorf("expected default thresholds to survive a partial file")
	}

	defs := cfg.Refresh.Definitions()
	if last := defs[len(defs)-1]; last.Name != "hyped" || last.Limit != 20 {
		t.Errorf("expected configured projection last, got %+v", last)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GAMERANK_DB_DSN", "/data/env.db")
	t.Setenv("GAMERANK_SAMPLE_RATE", "0.2")
	t.Setenv("GAMERANK_ADMIN_KEY", "s3cret")
	t.Setenv("TWITCH_CLIENT_ID", "client")
	t.Setenv("TWITCH_APP_ACCESS_TOKEN", "token")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.test/x")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "/data/env.db" {
		t.Errorf("expected env dsn, got %s", cfg.Database.DSN)
	}
	if cfg.Refresh.SampleRate != 0.2 {
		t.Errorf("expected sample rate 0.2, got %v", cfg.Refresh.SampleRate)
	}
	if cfg.Server.AdminKey != "s3cret" {
		t.Errorf("expected admin key from env")
	}
	if !cfg.Importer.IGDB.Enabled || cfg.Importer.IGDB.ClientID != "client" {
		t.Errorf("expected igdb enabled from env, got %+v", cfg.Importer.IGDB)
	}
	if !cfg.Alerts.Slack.Enabled {
		t.Error("expected slack enabled from env")
	}
}

func TestDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("GAMERANK_PORT=7070\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("GAMERANK_PORT") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected port from .env, got %d", cfg.Server.Port)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "mysql"
	cfg.Refresh.SampleRate = 2
	cfg.Refresh.AlertMinTier = "legendary"
	cfg.Scoring.Thresholds.Known = popularity.Band{Follows: 20_000, Score: 20_000}
	cfg.Importer.IGDB.BatchSize = 1000

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"database.driver", "sample_rate", "alert_min_tier", "thresholds", "batch_size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestParseIntervalFallback(t *testing.T) {
	r := RefreshConfig{Interval: "soon"}
	if r.ParseInterval() != time.Hour {
		t.Errorf("expected fallback to 1h, got %v", r.ParseInterval())
	}
	f := FeedsConfig{MaxAge: ""}
	if f.ParseMaxAge() != 24*time.Hour {
		t.Errorf("expected fallback to 24h, got %v", f.ParseMaxAge())
	}
}
