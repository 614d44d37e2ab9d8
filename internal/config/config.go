// Package config loads runtime configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ourcityhealth/citypulse/internal/pipeline"
)

// Config is the root configuration tree.
type Config struct {
	Development bool   `mapstructure:"development"`
	OutputDir   string `mapstructure:"output_dir"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Database DatabaseConfig  `mapstructure:"database"`
	Fetch    FetchConfig     `mapstructure:"fetch"`
	Scan     ScanConfig      `mapstructure:"scan"`
	Gemini   GeminiConfig    `mapstructure:"gemini"`
	Cities   []pipeline.City `mapstructure:"cities"`
}

// DatabaseConfig selects the visited-state backend. An empty DSN falls back
// to the in-memory store.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// FetchConfig tunes the HTTP fetcher.
type FetchConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	Referer        string        `mapstructure:"referer"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffCap     time.Duration `mapstructure:"backoff_cap"`
	JitterMax      time.Duration `mapstructure:"jitter_max"`
	PerDomainRPS   float64       `mapstructure:"per_domain_rps"`
	PerDomainBurst int           `mapstructure:"per_domain_burst"`
}

// ScanConfig bounds the pipeline's fan-out and budgets.
type ScanConfig struct {
	Sites              []string      `mapstructure:"sites"`
	ArticlesPerSite    int           `mapstructure:"articles_per_site"`
	SiteWorkers        int           `mapstructure:"site_workers"`
	FetchWorkers       int           `mapstructure:"fetch_workers"`
	CommentWorkers     int           `mapstructure:"comment_workers"`
	RedditPostsPerCity int           `mapstructure:"reddit_posts_per_city"`
	CommentsPerPost    int           `mapstructure:"comments_per_post"`
	DocsPerCity        int           `mapstructure:"docs_per_city"`
	InterBatchDelay    time.Duration `mapstructure:"inter_batch_delay"`
}

// GeminiConfig configures the language-model boundary. An empty key disables
// analysis and every city scores neutral.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Load reads configuration from the optional file at path plus CITYPULSE_*
// environment variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CITYPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("citypulse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/citypulse")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("development", false)
	v.SetDefault("output_dir", "out")
	v.SetDefault("metrics_addr", ":9090")

	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("fetch.referer", "https://www.google.com/")
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_base", "500ms")
	v.SetDefault("fetch.backoff_cap", "8s")
	v.SetDefault("fetch.jitter_max", "500ms")
	v.SetDefault("fetch.per_domain_rps", 1.0)
	v.SetDefault("fetch.per_domain_burst", 2)

	v.SetDefault("scan.articles_per_site", 25)
	v.SetDefault("scan.site_workers", 6)
	v.SetDefault("scan.fetch_workers", 8)
	v.SetDefault("scan.comment_workers", 4)
	v.SetDefault("scan.reddit_posts_per_city", 40)
	v.SetDefault("scan.comments_per_post", 25)
	v.SetDefault("scan.docs_per_city", 50)
	v.SetDefault("scan.inter_batch_delay", "2s")

	v.SetDefault("gemini.model", "gemini-1.5-flash")
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return errors.New("output_dir must not be empty")
	}
	if c.Fetch.MaxRetries < 1 {
		return errors.New("fetch.max_retries must be at least 1")
	}
	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be positive")
	}
	if c.Scan.ArticlesPerSite < 1 {
		return errors.New("scan.articles_per_site must be at least 1")
	}
	if c.Scan.SiteWorkers < 1 || c.Scan.FetchWorkers < 1 || c.Scan.CommentWorkers < 1 {
		return errors.New("scan worker pools must be at least 1")
	}
	if c.Scan.DocsPerCity < 1 {
		return errors.New("scan.docs_per_city must be at least 1")
	}

	seen := make(map[string]struct{}, len(c.Cities))
	for i, city := range c.Cities {
		if city.ID == "" {
			return fmt.Errorf("cities[%d]: id must not be empty", i)
		}
		if city.Name == "" {
			return fmt.Errorf("city %s: name must not be empty", city.ID)
		}
		if _, dup := seen[city.ID]; dup {
			return fmt.Errorf("city %s: duplicate id", city.ID)
		}
		seen[city.ID] = struct{}{}
	}
	return nil
}
