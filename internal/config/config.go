package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// FeedConfig describes a single ICS subscription imported into the planner.
type FeedConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier; imported events are grouped by it.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
	// PlanType and Project are stamped on every event imported from the feed.
	PlanType string `yaml:"plan_type,omitempty" json:"plan_type,omitempty"`
	Project  string `yaml:"project,omitempty" json:"project,omitempty"`
}

// SourceID returns the ID used to group this feed's events.
func (f FeedConfig) SourceID() string {
	switch {
	case f.ID != "":
		return f.ID
	case f.Name != "":
		return f.Name
	default:
		return f.URL
	}
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// LogConfig selects verbosity and encoder.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// PreviewConfig controls the -snapshot PNG capture.
type PreviewConfig struct {
	Output string `yaml:"output" json:"output"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone grids are rendered in (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// Density is "regular" (3 rows per week) or "compact" (2 rows).
	Density string `yaml:"density" json:"density"`

	// MaxIterations caps recurrence stepping per series.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// Database is the SQLite file holding base events.
	Database string `yaml:"database" json:"database"`

	// CacheDir stores conditional-GET metadata and bodies for feeds.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// RefreshCron is a cron schedule (e.g. "*/15 * * * *") for feed imports.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays bounds how far ahead complex feed rules are materialized.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	Log LogConfig `yaml:"log" json:"log"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	Preview PreviewConfig `yaml:"preview" json:"preview"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen        = "127.0.0.1:8080"
	defaultTimezone      = "UTC"
	defaultRefresh       = "*/15 * * * *"
	defaultHorizonDays   = 400
	defaultMaxIterations = 5000
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        defaultListen,
		Timezone:      defaultTimezone,
		WeekStart:     "monday",
		Density:       "regular",
		MaxIterations: defaultMaxIterations,
		Database:      "./var/plancal.db",
		CacheDir:      "./var/ics-cache",
		RefreshCron:   defaultRefresh,
		HorizonDays:   defaultHorizonDays,
		Log:           LogConfig{Level: "info", Format: "console"},
		Feeds:         []FeedConfig{},
		Preview:       PreviewConfig{Output: "./var/preview.png", Width: 1280, Height: 960},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		// Unknown value; fall back to monday to avoid surprising layouts.
		c.WeekStart = "monday"
	}
	switch c.Density {
	case "regular", "compact":
	default:
		c.Density = "regular"
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.Database == "" {
		c.Database = d.Database
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		c.RefreshCron = d.RefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = d.HorizonDays
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format != "json" {
		c.Log.Format = "console"
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.Preview.Output == "" {
		c.Preview.Output = d.Preview.Output
	}
	if c.Preview.Width <= 0 {
		c.Preview.Width = d.Preview.Width
	}
	if c.Preview.Height <= 0 {
		c.Preview.Height = d.Preview.Height
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are applied by ApplyEnv, not here, so that Save
// never persists values that only came from the environment.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// LoadDotEnv reads KEY=VALUE pairs from the given files (".env" when none
// are given) into the process environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overlays PLANCAL_* environment variables onto c.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PLANCAL_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("PLANCAL_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("PLANCAL_DATABASE"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("PLANCAL_DENSITY"); v != "" {
		c.Density = v
	}
	if v := os.Getenv("PLANCAL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PLANCAL_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("PLANCAL_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxIterations = n
		}
	}
	user, pass := os.Getenv("PLANCAL_BASIC_AUTH_USER"), os.Getenv("PLANCAL_BASIC_AUTH_PASSWORD")
	if user != "" && pass != "" {
		c.BasicAuth = &BasicAuthConfig{Username: user, Password: pass}
	}
	c.Normalize()
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".plancal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
