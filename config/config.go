package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the ingestion service. It is built once
// at startup and passed by value/reference into components; nothing mutates it
// after construction.
type Config struct {
	General GeneralConfig `mapstructure:"general"`
	Server  ServerConfig  `mapstructure:"server"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Sources SourcesConfig `mapstructure:"sources"`
	Storage StorageConfig `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// IngestConfig drives the recurring ingestion run.
type IngestConfig struct {
	Queries        []string      `mapstructure:"queries"`
	MaxResults     int           `mapstructure:"max_results"`
	RecencyWindow  time.Duration `mapstructure:"recency_window"`
	Interval       time.Duration `mapstructure:"interval"`
	ScheduleCron   string        `mapstructure:"schedule_cron"`
	MaxWorkers     int           `mapstructure:"max_workers"`
	ArticleTimeout time.Duration `mapstructure:"article_timeout"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	FetchRetries   int           `mapstructure:"fetch_retries"`
	FetchBackoff   time.Duration `mapstructure:"fetch_backoff"`
	Fetcher        string        `mapstructure:"fetcher"` // http or chromedp
	UserAgent      string        `mapstructure:"user_agent"`
	MaxChars       int           `mapstructure:"max_chars"`
}

func (c IngestConfig) Validate() error {
	if len(c.Queries) == 0 {
		return fmt.Errorf("ingest.queries must not be empty")
	}
	if c.Fetcher != "http" && c.Fetcher != "chromedp" {
		return fmt.Errorf("ingest.fetcher must be http or chromedp, got %q", c.Fetcher)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("ingest.max_workers must be > 0")
	}
	return nil
}

// SourcesConfig contains external lookup endpoints.
type SourcesConfig struct {
	GoogleNews GoogleNewsConfig `mapstructure:"google_news"`
	WebSearch  WebSearchConfig  `mapstructure:"web_search"`
}

// GoogleNewsConfig contains the RSS search endpoint settings.
type GoogleNewsConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Language string        `mapstructure:"language"`
	Country  string        `mapstructure:"country"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// WebSearchConfig contains profile search settings.
type WebSearchConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	SerperAPIKey  string        `mapstructure:"serper_api_key"`
	ProfileSite   string        `mapstructure:"profile_site"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	File     FileConfig     `mapstructure:"file"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// FileConfig contains file storage settings.
type FileConfig struct {
	DataDir        string `mapstructure:"data_dir"`
	SnapshotFile   string `mapstructure:"snapshot_file"`
	KnownCompanies string `mapstructure:"known_companies"`
}

func (f FileConfig) Validate() error {
	if strings.TrimSpace(f.DataDir) == "" {
		return fmt.Errorf("storage.file.data_dir required")
	}
	if strings.TrimSpace(f.SnapshotFile) == "" {
		return fmt.Errorf("storage.file.snapshot_file required")
	}
	return nil
}

// SnapshotPath is the absolute location of the persisted snapshot artifact.
func (f FileConfig) SnapshotPath() string {
	return filepath.Join(f.DataDir, f.SnapshotFile)
}

// PostgresConfig contains optional run-history database settings. Empty URL
// and host disables run history.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Enabled reports whether run history should be recorded.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

// DSN builds a postgres connection string from the configured parts.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains optional distributed-lock settings. Empty host keeps
// the run lock process-local.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether the cross-process run lock is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// LoadConfig loads config from file, applying defaults and MEDWATCH_* env
// overrides. Configuration errors are fatal at startup.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("ingest.queries", []string{
		"MedTech",
		"medical devices",
		"digital health",
		"healthcare technology",
		"medical innovation",
		"healthcare startup",
		"medical device funding",
		"health tech investment",
	})
	viper.SetDefault("ingest.max_results", 20)
	viper.SetDefault("ingest.recency_window", 24*time.Hour)
	viper.SetDefault("ingest.interval", 6*time.Hour)
	viper.SetDefault("ingest.max_workers", 4)
	viper.SetDefault("ingest.article_timeout", 90*time.Second)
	viper.SetDefault("ingest.fetch_timeout", 15*time.Second)
	viper.SetDefault("ingest.fetch_retries", 3)
	viper.SetDefault("ingest.fetch_backoff", time.Second)
	viper.SetDefault("ingest.fetcher", "http")
	viper.SetDefault("ingest.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	viper.SetDefault("ingest.max_chars", 20000)
	viper.SetDefault("sources.google_news.endpoint", "https://news.google.com/rss/search")
	viper.SetDefault("sources.google_news.language", "en-US")
	viper.SetDefault("sources.google_news.country", "US")
	viper.SetDefault("sources.google_news.timeout", 10*time.Second)
	viper.SetDefault("sources.web_search.endpoint", "https://google.serper.dev/search")
	viper.SetDefault("sources.web_search.profile_site", "linkedin.com/in")
	viper.SetDefault("sources.web_search.timeout", 10*time.Second)
	viper.SetDefault("sources.web_search.rate_per_second", 1.0)
	viper.SetDefault("storage.file.data_dir", "./data")
	viper.SetDefault("storage.file.snapshot_file", "medtech_news.json")
	viper.SetDefault("storage.file.known_companies", "known_companies.csv")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("MEDWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// config file is optional: defaults plus env cover a working setup
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Ingest.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.File.Validate(); err != nil {
		panic(err)
	}
	return &config
}
