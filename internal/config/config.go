package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FeedConfig maps an ICS calendar onto a product of a user.
type FeedConfig struct {
	// User is the owner ID the product is listed under.
	User string `yaml:"user" json:"user"`
	// ProductID is the product identifier; events get it as owner.
	ProductID string `yaml:"product_id" json:"product_id"`
	// Name is the product name shown in the timeline.
	Name string `yaml:"name" json:"name"`
	// Category is the category name of the product.
	Category string `yaml:"category" json:"category"`
	// Location is an ICS URL or a local file path.
	Location string `yaml:"location" json:"location"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// UpstreamConfig points at the product/event REST API.
type UpstreamConfig struct {
	// URL is the API root, e.g. "http://localhost:8080/api". Empty disables
	// the upstream source.
	URL string `yaml:"url" json:"url"`
	// Username/Password are used to open a session at startup.
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
	// TimeoutSeconds bounds each attempt.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	// RetryMax is the number of retries on transient failures.
	RetryMax int `yaml:"retry_max" json:"retry_max"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone of the refresh schedule, the recurrence
	// window and the default start day of new events. Date-only values from
	// sources are always read as UTC midnight.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DefaultLocale is used when Accept-Language negotiation finds nothing
	// better, for API responses and page redirects alike.
	DefaultLocale string `yaml:"default_locale" json:"default_locale"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is the schedule of product refreshes (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Users are refreshed on every RefreshCron tick.
	Users []string `yaml:"users" json:"users"`

	// HorizonDays bounds recurrence expansion after today.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// ExpandRecurrence materializes recurring single events within the
	// horizon. When false each event is projected exactly once.
	ExpandRecurrence bool `yaml:"expand_recurrence" json:"expand_recurrence"`

	// MaxOccurrences caps expansion per event.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// Upstream configures the REST API source.
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"`

	// ProductsFile is an optional YAML products file.
	ProductsFile string `yaml:"products_file" json:"products_file"`

	// Feeds are ICS calendars imported as products.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "Europe/Paris"
	defaultLocale      = "fr"
	defaultLogLevel    = "info"
	defaultRefreshCron = "*/15 * * * *"
	defaultHorizonDays = 365
	defaultMaxOccur    = 500
	defaultTimeout     = 15
	defaultRetryMax    = 3
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		Timezone:       defaultTimezone,
		DefaultLocale:  defaultLocale,
		LogLevel:       defaultLogLevel,
		RefreshCron:    defaultRefreshCron,
		Users:          []string{},
		HorizonDays:    defaultHorizonDays,
		MaxOccurrences: defaultMaxOccur,
		Upstream: UpstreamConfig{
			TimeoutSeconds: defaultTimeout,
			RetryMax:       defaultRetryMax,
		},
		Feeds:       []FeedConfig{},
		CORSOrigins: []string{"http://localhost:3000"},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch c.DefaultLocale {
	case "fr", "en":
	default:
		c.DefaultLocale = defaultLocale
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.Users == nil {
		c.Users = []string{}
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = defaultMaxOccur
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		c.Upstream.TimeoutSeconds = defaultTimeout
	}
	if c.Upstream.RetryMax < 0 {
		c.Upstream.RetryMax = defaultRetryMax
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{}
	}
}

// ApplyEnv overrides file values with MATIMELINE_* environment variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("MATIMELINE_API_URL"); ok && v != "" {
		c.Upstream.URL = v
	}
	if v, ok := lookup("MATIMELINE_API_USERNAME"); ok && v != "" {
		c.Upstream.Username = v
	}
	if v, ok := lookup("MATIMELINE_API_PASSWORD"); ok && v != "" {
		c.Upstream.Password = v
	}
	if v, ok := lookup("MATIMELINE_LISTEN"); ok && v != "" {
		c.Listen = v
	}
	if v, ok := lookup("MATIMELINE_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	c.Normalize()
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

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory with 0700.
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

	tmp, err := os.CreateTemp(dir, ".matimeline-config-*.tmp")
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
