// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Platform Platform       `mapstructure:"platform"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Commands CommandsConfig `mapstructure:"commands"`
}

// Platform selects which Open edX deployment to crawl.
type Platform struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
}

// AuthConfig holds the learner credentials used for the AJAX login.
type AuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CrawlConfig governs course selection and output layout.
type CrawlConfig struct {
	CourseURLs           []string `mapstructure:"course_urls"`
	HTMLDir              string   `mapstructure:"html_dir"`
	FilterSection        int      `mapstructure:"filter_section"`
	FileFormats          []string `mapstructure:"file_formats"`
	OverwriteFileFormats bool     `mapstructure:"overwrite_file_formats"`
	Sequential           bool     `mapstructure:"sequential"`
	Concurrency          int      `mapstructure:"concurrency"`
	ArchiveSource        bool     `mapstructure:"archive_source"`
	RemoveSourceDir      bool     `mapstructure:"remove_source_dir"`
}

// HTTPConfig configures the page fetcher.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig selects the blob backend used for archived crawl artifacts.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"` // none, local, gcs
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres run store.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int32  `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MonitorConfig toggles the progress HTTP server.
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CommandsConfig governs external command execution (yt-dlp probes).
type CommandsConfig struct {
	YoutubeDL    string `mapstructure:"youtube_dl"`
	IgnoreErrors bool   `mapstructure:"ignore_errors"`
}

// DefaultFileFormats are the resource extensions extracted from course pages
// when the user does not override them.
var DefaultFileFormats = []string{"pdf", "txt", "srt", "doc", "ppt", "xls", "zip", "mp4"}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EDX_CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("platform.name", "edx")
	v.SetDefault("platform.base_url", "https://courses.edx.org")
	v.SetDefault("crawl.html_dir", "HTMLs")
	v.SetDefault("crawl.filter_section", 0)
	v.SetDefault("crawl.file_formats", []string{})
	v.SetDefault("crawl.overwrite_file_formats", false)
	v.SetDefault("crawl.sequential", false)
	v.SetDefault("crawl.concurrency", 8)
	v.SetDefault("crawl.archive_source", true)
	v.SetDefault("crawl.remove_source_dir", true)
	v.SetDefault("http.user_agent", "edx-crawler/1.0")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "courses")
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("commands.youtube_dl", "yt-dlp")
	v.SetDefault("commands.ignore_errors", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	if c.Crawl.HTMLDir == "" {
		return fmt.Errorf("crawl.html_dir is required")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case "none", "local", "gcs":
	default:
		return fmt.Errorf("storage.backend must be none, local or gcs")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
	}
	if c.Storage.Backend == "local" && c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required for the local backend")
	}
	if c.Monitor.Enabled && c.Monitor.Port <= 0 {
		return fmt.Errorf("monitor.port must be > 0 when the monitor is enabled")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// FileFormats resolves the resource extension list from defaults plus overrides.
func (c Config) FileFormats() []string {
	formats := append([]string(nil), DefaultFileFormats...)
	if c.Crawl.OverwriteFileFormats {
		formats = formats[:0]
	}
	formats = append(formats, c.Crawl.FileFormats...)
	return formats
}

// LoginURL returns the AJAX login endpoint for the configured platform.
func (c Config) LoginURL() string {
	return strings.TrimRight(c.Platform.BaseURL, "/") + "/login_ajax"
}

// DashboardURL returns the learner dashboard for the configured platform.
func (c Config) DashboardURL() string {
	return strings.TrimRight(c.Platform.BaseURL, "/") + "/dashboard"
}
