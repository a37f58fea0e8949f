package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gamerank/gamerank/pkg/popularity"
	"github.com/gamerank/gamerank/pkg/projection"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Importer ImporterConfig `yaml:"importer"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // file path for sqlite
}

// ScoringConfig tunes the popularity formula and tier bands.
type ScoringConfig struct {
	Weights    popularity.Weights    `yaml:"weights"`
	Thresholds popularity.Thresholds `yaml:"thresholds"`
}

// Scorer builds the configured scorer.
func (s ScoringConfig) Scorer() *popularity.Scorer {
	return popularity.NewScorer(s.Weights, s.Thresholds)
}

// RefreshConfig configures projection rebuilds.
type RefreshConfig struct {
	Interval     string                  `yaml:"interval"`
	SampleRate   float64                 `yaml:"sample_rate"`
	AlertMinTier string                  `yaml:"alert_min_tier"`
	Projections  []projection.Definition `yaml:"projections"`
}

// ParseInterval returns the refresh interval as time.Duration.
func (r RefreshConfig) ParseInterval() time.Duration {
	d, err := time.ParseDuration(r.Interval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// MinAlertTier returns the lowest tier whose promotions are alerted.
func (r RefreshConfig) MinAlertTier() popularity.Tier {
	t, err := popularity.ParseTier(r.AlertMinTier)
	if err != nil {
		return popularity.TierPopular
	}
	return t
}

// Definitions returns the built-in projections followed by configured ones.
func (r RefreshConfig) Definitions() []projection.Definition {
	return append(projection.Builtins(), r.Projections...)
}

// ImporterConfig holds configuration for the bulk write paths.
type ImporterConfig struct {
	Interval string      `yaml:"interval"`
	IGDB     IGDBConfig  `yaml:"igdb"`
	Feeds    FeedsConfig `yaml:"feeds"`
}

// ParseInterval returns how often the daemon runs the importers.
func (i ImporterConfig) ParseInterval() time.Duration {
	d, err := time.ParseDuration(i.Interval)
	if err != nil || d <= 0 {
		return 6 * time.Hour
	}
	return d
}

// IGDBConfig for the IGDB metadata sync.
type IGDBConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	ClientID  string `yaml:"client_id"`
	Token     string `yaml:"token"`
	BatchSize int    `yaml:"batch_size"`
	Parallel  int    `yaml:"parallel"`
	Limit     int    `yaml:"limit"`
}

// FeedsConfig for the RSS/Atom hype collector.
type FeedsConfig struct {
	Enabled bool       `yaml:"enabled"`
	MaxAge  string     `yaml:"max_age"`
	Exclude []string   `yaml:"exclude"`
	Feeds   []FeedItem `yaml:"feeds"`
}

// ParseMaxAge returns how old a feed item may be and still count.
func (f FeedsConfig) ParseMaxAge() time.Duration {
	d, err := time.ParseDuration(f.MaxAge)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// FeedItem is a single RSS feed entry.
type FeedItem struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AdminKey  string `yaml:"admin_key"`
	PublicURL string `yaml:"public_url"` // base for game links in alerts
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "./gamerank.db"},
		Scoring: ScoringConfig{
			Weights:    popularity.DefaultWeights,
			Thresholds: popularity.DefaultThresholds,
		},
		Refresh: RefreshConfig{
			Interval:     "1h",
			SampleRate:   0.01,
			AlertMinTier: string(popularity.TierPopular),
		},
		Importer: ImporterConfig{
			Interval: "6h",
			IGDB: IGDBConfig{
				BaseURL:   "https://api.igdb.com/v4",
				BatchSize: 500,
				Parallel:  4,
			},
			Feeds: FeedsConfig{
				MaxAge: "24h",
				Feeds: []FeedItem{
					{Name: "PC Gamer", URL: "https://www.pcgamer.com/rss/"},
					{Name: "Rock Paper Shotgun", URL: "https://www.rockpapershotgun.com/feed"},
					{Name: "Eurogamer", URL: "https://www.eurogamer.net/feed"},
				},
			},
		},
		Server: ServerConfig{Port: 8080, PublicURL: "http://localhost:8080"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
// A .env file in the working directory, if present, is loaded first; it never
// overrides variables already set in the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GAMERANK_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("GAMERANK_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" && os.Getenv("GAMERANK_DB_DSN") == "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = v
	}
	if v := os.Getenv("GAMERANK_REFRESH_INTERVAL"); v != "" {
		cfg.Refresh.Interval = v
	}
	if v := os.Getenv("GAMERANK_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Refresh.SampleRate = f
		}
	}
	if v := os.Getenv("GAMERANK_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("GAMERANK_ADMIN_KEY"); v != "" {
		cfg.Server.AdminKey = v
	}
	if v := os.Getenv("TWITCH_CLIENT_ID"); v != "" {
		cfg.Importer.IGDB.ClientID = v
	}
	if v := os.Getenv("TWITCH_APP_ACCESS_TOKEN"); v != "" {
		cfg.Importer.IGDB.Token = v
		cfg.Importer.IGDB.Enabled = true
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	if err := c.Scoring.Scorer().Thresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring.thresholds: %w", err))
	}

	if c.Refresh.SampleRate < 0 || c.Refresh.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("refresh.sample_rate: %v not in [0, 1]", c.Refresh.SampleRate))
	}
	if _, err := time.ParseDuration(c.Refresh.Interval); c.Refresh.Interval != "" && err != nil {
		errs = append(errs, fmt.Errorf("refresh.interval: %w", err))
	}
	if c.Refresh.AlertMinTier != "" {
		if _, err := popularity.ParseTier(c.Refresh.AlertMinTier); err != nil {
			errs = append(errs, fmt.Errorf("refresh.alert_min_tier: %w", err))
		}
	}
	for i, p := range c.Refresh.Projections {
		if p.Name == "" || p.OrderBy == "" {
			errs = append(errs, fmt.Errorf("refresh.projections[%d]: name and order_by are required", i))
		}
	}

	if c.Importer.IGDB.BatchSize > 500 {
		errs = append(errs, fmt.Errorf("importer.igdb.batch_size: %d exceeds the IGDB limit of 500", c.Importer.IGDB.BatchSize))
	}
	if c.Importer.IGDB.Enabled && (c.Importer.IGDB.ClientID == "" || c.Importer.IGDB.Token == "") {
		errs = append(errs, errors.New("importer.igdb: client_id and token are required when enabled"))
	}

	return errors.Join(errs...)
}
