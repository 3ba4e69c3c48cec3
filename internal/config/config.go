package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	defaultDownloadConcurrency = 5
	defaultUploadConcurrency   = 2
	defaultMaxRetries          = 3
	defaultRetryDelay          = 2 * time.Second
	defaultTimeout             = 10 * time.Minute

	envCTFileSession = "CTFILE_SESSION"
	envWebDAVUser    = "WEBDAV_USERNAME"
	envWebDAVPass    = "WEBDAV_PASSWORD"
	envFeedToken     = "FEED_TOKEN"
)

type FeedConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"-"` // from environment only
}

// Duration lets YAML carry durations as strings like "2s" or "10m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("cannot parse duration %q: %w", s, err)
	}

	*d = Duration(v)

	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type TransferConfig struct {
	Concurrency int      `yaml:"concurrency"`
	MaxRetries  uint     `yaml:"max_retries"`
	RetryDelay  Duration `yaml:"retry_delay"`
	Timeout     Duration `yaml:"timeout"`
}

type CTFileConfig struct {
	BaseURL      string `yaml:"base_url"`
	RootFolderID string `yaml:"root_folder_id"`
	Session      string `yaml:"-"` // from environment only
}

type WebDAVConfig struct {
	URL      string `yaml:"url"`
	Root     string `yaml:"root"`
	Username string `yaml:"-"` // from environment only
	Password string `yaml:"-"` // from environment only
}

func (c *WebDAVConfig) Configured() bool {
	return c.URL != ""
}

type Config struct {
	StateDir      string         `yaml:"state_dir"`
	DownloadDir   string         `yaml:"download_dir"`
	LogLevel      string         `yaml:"log_level"`
	ForceSync     bool           `yaml:"force_sync"`
	SizeThreshold int64          `yaml:"size_threshold"` // bytes; above it the primary transport is skipped
	Feed          FeedConfig     `yaml:"feed"`
	Downloads     TransferConfig `yaml:"downloads"`
	Uploads       TransferConfig `yaml:"uploads"`
	CTFile        CTFileConfig   `yaml:"ctfile"`
	WebDAV        WebDAVConfig   `yaml:"webdav"`
}

// MustLoad reads the YAML config file, overlays credentials from the
// environment (an optional .env file next to the process is honored) and
// validates the result. Configuration problems are fatal before any network
// activity, so this panics.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file: %w", err)
	}

	// Credentials never live in the config file.
	godotenv.Load()
	cfg.CTFile.Session = os.Getenv(envCTFileSession)
	cfg.WebDAV.Username = os.Getenv(envWebDAVUser)
	cfg.WebDAV.Password = os.Getenv(envWebDAVPass)
	cfg.Feed.Token = os.Getenv(envFeedToken)

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = LogLevelInfo
	}

	applyTransferDefaults(&c.Downloads, defaultDownloadConcurrency)
	applyTransferDefaults(&c.Uploads, defaultUploadConcurrency)
}

func applyTransferDefaults(t *TransferConfig, concurrency int) {
	if t.Concurrency < 1 {
		t.Concurrency = concurrency
	}

	if t.MaxRetries == 0 {
		t.MaxRetries = defaultMaxRetries
	}

	if t.RetryDelay == 0 {
		t.RetryDelay = Duration(defaultRetryDelay)
	}

	if t.Timeout == 0 {
		t.Timeout = Duration(defaultTimeout)
	}
}

// Validate checks preconditions that must abort the run before any network
// activity.
func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}

	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}

	if c.DownloadDir == "" {
		return fmt.Errorf("download_dir is required")
	}

	if c.CTFile.BaseURL != "" && c.CTFile.Session == "" {
		return fmt.Errorf("%s is required when ctfile is configured", envCTFileSession)
	}

	if c.WebDAV.Configured() && c.WebDAV.Password == "" {
		return fmt.Errorf("%s is required when webdav is configured", envWebDAVPass)
	}

	if c.CTFile.BaseURL == "" && !c.WebDAV.Configured() {
		return fmt.Errorf("at least one upload transport must be configured")
	}

	return nil
}
