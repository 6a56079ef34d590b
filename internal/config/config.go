// Package config loads the server configuration from a YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort             = "8080"
	DefaultCatalogURL       = "https://github.com/QIN2DIM/hcaptcha-challenger/raw/main/src/objects.yaml"
	DefaultModelURLTemplate = "https://github.com/QIN2DIM/hcaptcha-challenger/releases/download/model/{key}.onnx"
	DefaultImageURLTemplate = "https://imgs.hcaptcha.com/{id}"
	DefaultUserAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/111.0.0.0 Safari/537.36"
)

// Duration reads Go duration strings such as "90s" or "1h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Redis struct {
	Address  string   `yaml:"address"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	TTL      Duration `yaml:"ttl"`
}

type Config struct {
	Port               string   `yaml:"port"`
	CatalogURL         string   `yaml:"catalog_url"`
	CatalogTTL         Duration `yaml:"catalog_ttl"`
	CatalogRetryAfter  Duration `yaml:"catalog_retry_after"`
	ModelURLTemplate   string   `yaml:"model_url_template"`
	ImageURLTemplate   string   `yaml:"image_url_template"`
	UserAgent          string   `yaml:"user_agent"`
	ImageSize          int      `yaml:"image_size"`
	MaxConcurrency     int      `yaml:"max_concurrency"`
	InferenceWorkers   int      `yaml:"inference_workers"`
	RequestTimeout     Duration `yaml:"request_timeout"`
	FetchTimeout       Duration `yaml:"fetch_timeout"`
	MaxFetchBytes      int64    `yaml:"max_fetch_bytes"`
	OnnxRuntimeLibrary string   `yaml:"onnxruntime_library"`
	Redis              Redis    `yaml:"redis"`
	LogLevel           string   `yaml:"log_level"`
	LogFormat          string   `yaml:"log_format"`
}

// Load reads path (if not empty), applies environment overrides and fills
// in defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Address = v
	}
	if v := os.Getenv("ONNXRUNTIME_LIB"); v != "" {
		c.OnnxRuntimeLibrary = v
	}
	if v := os.Getenv("MAX_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_CONCURRENCY %q: %w", v, err)
		}
		c.MaxConcurrency = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.CatalogURL == "" {
		c.CatalogURL = DefaultCatalogURL
	}
	if c.CatalogTTL <= 0 {
		c.CatalogTTL = Duration(time.Hour)
	}
	if c.CatalogRetryAfter <= 0 {
		c.CatalogRetryAfter = Duration(time.Minute)
	}
	if c.ModelURLTemplate == "" {
		c.ModelURLTemplate = DefaultModelURLTemplate
	}
	if c.ImageURLTemplate == "" {
		c.ImageURLTemplate = DefaultImageURLTemplate
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.ImageSize <= 0 {
		c.ImageSize = 64
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 16
	}
	if c.InferenceWorkers < 0 {
		c.InferenceWorkers = 0
	}
	if c.RequestTimeout < 0 {
		c.RequestTimeout = 0
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = Duration(30 * time.Second)
	}
	if c.MaxFetchBytes <= 0 {
		c.MaxFetchBytes = 64 << 20
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
}
