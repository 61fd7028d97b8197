package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL       = "https://my.living-apps.de/rest"
	DefaultProductsAppID = "6936e6c75134d7f5c73f7d1c"
	DefaultShopsAppID    = "6936e6cd9361feb26bd89d11"
	DefaultPricesAppID   = "6936e6ea3affba4f80b7a732"
)

type Config struct {
	Pricewatch PricewatchConfig `yaml:"pricewatch"`
	LivingApps LivingAppsConfig `yaml:"livingapps"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type PricewatchConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LivingAppsConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Apps           AppsConfig           `yaml:"apps"`
	Timeout        time.Duration        `yaml:"timeout"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	ForwardCookies bool                 `yaml:"forward_cookies"`
}

// AppsConfig names the collection identifiers. Panels is only set in the
// layout variant of the deployment.
type AppsConfig struct {
	Products string `yaml:"products"`
	Shops    string `yaml:"shops"`
	Prices   string `yaml:"prices"`
	Panels   string `yaml:"panels"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
	TopSeries       int           `yaml:"top_series"`
}

type MetricsConfig struct {
	RequestCounters   bool             `yaml:"request_counters"`
	DropCounters      bool             `yaml:"drop_counters"`
	PrometheusAddress string           `yaml:"prometheus_address"`
	CloudWatch        CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config controls the parquet export of price histories.
type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	PathStyle       bool          `yaml:"path_style"`
	Prefix          string        `yaml:"prefix"`
	Compression     string        `yaml:"compression"`
	ExportInterval  time.Duration `yaml:"export_interval"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string                 `yaml:"level"`
	Format string                 `yaml:"format"`
	Output string                 `yaml:"output"`
	MaxAge int                    `yaml:"max_age"`
	Fields map[string]interface{} `yaml:"fields"`
}

// Default returns the configuration used when a file omits a section.
func Default() Config {
	return Config{
		LivingApps: LivingAppsConfig{
			BaseURL: DefaultBaseURL,
			Apps: AppsConfig{
				Products: DefaultProductsAppID,
				Shops:    DefaultShopsAppID,
				Prices:   DefaultPricesAppID,
			},
			Timeout: 30 * time.Second,
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    10,
				MaxConnsPerHost: 10,
				IdleConnTimeout: 90 * time.Second,
			},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 10,
				BurstSize:         20,
			},
			ForwardCookies: true,
		},
		Dashboard: DashboardConfig{
			Enabled:         true,
			Address:         "0.0.0.0:8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      200,
			MetricsHistory:  200,
			TopSeries:       3,
		},
		Metrics: MetricsConfig{
			RequestCounters: true,
			DropCounters:    true,
			CloudWatch: CloudWatchConfig{
				Namespace: "PriceWatch",
				Dashboard: "PriceWatch",
			},
		},
		Storage: StorageConfig{
			S3: S3Config{
				Prefix:      "price-history",
				Compression: "snappy",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	config.LivingApps.BaseURL = strings.TrimSuffix(strings.TrimSpace(config.LivingApps.BaseURL), "/")
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LIVINGAPPS_BASE_URL"); v != "" {
		cfg.LivingApps.BaseURL = strings.TrimSpace(v)
	}

	// Override S3 settings from environment variables if available
	if cfg.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			cfg.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Pricewatch.Name == "" {
		return fmt.Errorf("pricewatch.name is required")
	}

	if cfg.Pricewatch.Version == "" {
		return fmt.Errorf("pricewatch.version is required")
	}

	if cfg.LivingApps.BaseURL == "" {
		return fmt.Errorf("livingapps.base_url is required")
	}
	if u, err := url.Parse(cfg.LivingApps.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("livingapps.base_url '%s' is not an absolute URL", cfg.LivingApps.BaseURL)
	}

	apps := map[string]string{
		"livingapps.apps.products": cfg.LivingApps.Apps.Products,
		"livingapps.apps.shops":    cfg.LivingApps.Apps.Shops,
		"livingapps.apps.prices":   cfg.LivingApps.Apps.Prices,
	}
	for name, id := range apps {
		if id == "" {
			return fmt.Errorf("%s is required", name)
		}
		if !isValidAppID(id) {
			return fmt.Errorf("%s '%s' is not a 24 character hex identifier", name, id)
		}
	}
	if cfg.LivingApps.Apps.Panels != "" && !isValidAppID(cfg.LivingApps.Apps.Panels) {
		return fmt.Errorf("livingapps.apps.panels '%s' is not a 24 character hex identifier", cfg.LivingApps.Apps.Panels)
	}

	if cfg.LivingApps.Timeout <= 0 {
		return fmt.Errorf("livingapps.timeout must be greater than 0")
	}
	if cfg.LivingApps.RateLimit.RequestsPerSecond < 0 || cfg.LivingApps.RateLimit.BurstSize < 0 {
		return fmt.Errorf("livingapps.rate_limit values must not be negative")
	}

	if cfg.Dashboard.TopSeries < 0 {
		return fmt.Errorf("dashboard.top_series must not be negative")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		switch cfg.Storage.S3.Compression {
		case "", "snappy", "gzip", "none":
		default:
			return fmt.Errorf("storage.s3.compression '%s' is not supported", cfg.Storage.S3.Compression)
		}
		if cfg.Storage.S3.ExportInterval < 0 {
			return fmt.Errorf("storage.s3.export_interval must not be negative")
		}
	}

	return nil
}

var appIDRegexp = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

func isValidAppID(id string) bool {
	return appIDRegexp.MatchString(id)
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
