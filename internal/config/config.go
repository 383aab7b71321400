package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/menta2k/image-marker/pkg/processing"
	"github.com/menta2k/image-marker/pkg/render"
)

// EnvPrefix prefixes environment overrides, e.g. IMAGE_MARKER_SERVER_PORT.
const EnvPrefix = "IMAGE_MARKER"

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Submit  SubmitConfig  `mapstructure:"submit"`
	Encode  EncodeConfig  `mapstructure:"encode"`
	Marker  MarkerConfig  `mapstructure:"marker"`
	Vision  VisionConfig  `mapstructure:"vision"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// BackendConfig holds the pending-request settings of the backend.
type BackendConfig struct {
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	Store       string        `mapstructure:"store"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// SubmitConfig configures the operator side transport. A zero timeout
// disables the watchdog.
type SubmitConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EncodeConfig struct {
	Format  string `mapstructure:"format"`
	Quality int    `mapstructure:"quality"`
}

type MarkerConfig struct {
	MinSize     float64 `mapstructure:"min_size"`
	StrokeWidth float64 `mapstructure:"stroke_width"`
	Color       string  `mapstructure:"color"`
}

// VisionConfig enables the optional describer run on applied images.
type VisionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"`
	URL     string `mapstructure:"url"`
	Model   string `mapstructure:"model"`
	Prompt  string `mapstructure:"prompt"`
}

// Load reads configuration from a YAML file. An empty path looks for
// config.yaml in the working directory and falls back to defaults when it
// is missing. Environment variables override both.
func Load(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(v)
}

// Default returns a configuration with default values
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8188")
	v.SetDefault("server.mode", "debug")

	v.SetDefault("backend.wait_timeout", 300*time.Second)
	v.SetDefault("backend.store", "memory")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 10*time.Minute)

	v.SetDefault("submit.base_url", "http://localhost:8188")
	v.SetDefault("submit.timeout", time.Duration(0))

	v.SetDefault("encode.format", processing.FormatPNG)
	v.SetDefault("encode.quality", 92)

	v.SetDefault("marker.min_size", 5.0)
	v.SetDefault("marker.stroke_width", 5.0)
	v.SetDefault("marker.color", "#ff0000")

	v.SetDefault("vision.enabled", false)
	v.SetDefault("vision.backend", "ollama")
	v.SetDefault("vision.url", "http://localhost:11434")
	v.SetDefault("vision.model", "")
	v.SetDefault("vision.prompt", "")
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode)
	}
	if c.Backend.WaitTimeout <= 0 {
		return fmt.Errorf("backend.wait_timeout must be positive")
	}
	switch c.Backend.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("backend.store must be memory or redis, got %q", c.Backend.Store)
	}
	if c.Backend.Store == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for the redis store")
	}
	if c.Redis.TTL < 0 {
		return fmt.Errorf("redis.ttl cannot be negative")
	}
	if c.Backend.Store == "redis" && c.Redis.TTL > 0 && c.Redis.TTL < c.Backend.WaitTimeout {
		return fmt.Errorf("redis.ttl (%s) must not be shorter than backend.wait_timeout (%s)", c.Redis.TTL, c.Backend.WaitTimeout)
	}
	if c.Submit.Timeout < 0 {
		return fmt.Errorf("submit.timeout cannot be negative")
	}
	if _, err := c.Processor(); err != nil {
		return err
	}
	if c.Marker.MinSize < 0 {
		return fmt.Errorf("marker.min_size cannot be negative")
	}
	if c.Marker.StrokeWidth <= 0 {
		return fmt.Errorf("marker.stroke_width must be positive")
	}
	if _, err := c.Style(); err != nil {
		return err
	}
	switch c.Vision.Backend {
	case "ollama", "llamacpp":
	default:
		return fmt.Errorf("vision.backend must be ollama or llamacpp, got %q", c.Vision.Backend)
	}
	if c.Vision.Enabled && strings.TrimSpace(c.Vision.Model) == "" {
		return fmt.Errorf("vision.model is required when vision is enabled")
	}
	return nil
}

// Processor builds the image processor for the configured encoding.
func (c *Config) Processor() (*processing.Processor, error) {
	p, err := processing.NewProcessorWithFormat(c.Encode.Format, c.Encode.Quality)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return p, nil
}

// Style builds the rectangle stroke style.
func (c *Config) Style() (render.Style, error) {
	col, err := render.ParseColor(c.Marker.Color)
	if err != nil {
		return render.Style{}, fmt.Errorf("marker.color: %w", err)
	}
	return render.Style{Width: c.Marker.StrokeWidth, Color: col}, nil
}
