// Package config provides YAML-based configuration for the workbench CLI and local API.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "ismart.yaml"

// AppConfig is the root configuration document.
type AppConfig struct {
	Backend BackendConfig `yaml:"backend"`
	Upload  UploadConfig  `yaml:"upload"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Events  EventsConfig  `yaml:"events"`
	Objects ObjectsConfig `yaml:"objects"`
	Log     LogConfig     `yaml:"log"`
}

// BackendConfig points at the remote REST backend.
type BackendConfig struct {
	BaseURL      string        `yaml:"base_url"`
	RecommendURL string        `yaml:"recommend_url,omitempty"`
	Timeout      time.Duration `yaml:"timeout"`
}

// UploadConfig tunes the upload queue.
type UploadConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	RetickDelay      time.Duration `yaml:"retick_delay"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// IngestConfig tunes the simulated ingestion progress.
type IngestConfig struct {
	SimulatedDuration time.Duration `yaml:"simulated_duration"`
	TickInterval      time.Duration `yaml:"tick_interval"`
}

// StorageConfig selects where session state and the results ledger live.
type StorageConfig struct {
	Driver     string `yaml:"driver"` // memory, file or duckdb
	Path       string `yaml:"path"`
	StagingDir string `yaml:"staging_dir"`
}

// ServerConfig contains local HTTP API settings
type ServerConfig struct {
	BindAddress  string `yaml:"bind_address"`
	Port         int    `yaml:"port"`
	EnableCORS   bool   `yaml:"enable_cors"`
	AllowOrigins string `yaml:"allow_origins"`
	BodyLimit    string `yaml:"body_limit"`
}

// EventsConfig enables the optional Redis event bridge.
type EventsConfig struct {
	RedisAddress  string `yaml:"redis_address,omitempty"`
	RedisChannel  string `yaml:"redis_channel"`
	RedisPassword string `yaml:"redis_password,omitempty"`
}

// ObjectsConfig holds credentials for s3:// upload sources.
type ObjectsConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region,omitempty"`
}

// LogConfig controls the logrus logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 10 * time.Minute,
		},
		Upload: UploadConfig{
			Concurrency:      3,
			RetickDelay:      80 * time.Millisecond,
			ProgressInterval: 100 * time.Millisecond,
		},
		Ingest: IngestConfig{
			SimulatedDuration: 90 * time.Second,
			TickInterval:      500 * time.Millisecond,
		},
		Storage: StorageConfig{
			Driver:     "file",
			Path:       "./data/session.yaml",
			StagingDir: "./data/staging",
		},
		Server: ServerConfig{
			BindAddress:  "127.0.0.1",
			Port:         8090,
			EnableCORS:   false,
			AllowOrigins: "",
			BodyLimit:    "512M",
		},
		Events: EventsConfig{
			RedisChannel: "ismart:events",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// envOverrides are the ISMART_* variables. Empty means unset.
type envOverrides struct {
	BaseURL          string `env:"ISMART_BACKEND_URL"`
	RecommendURL     string `env:"ISMART_RECOMMEND_URL"`
	Timeout          string `env:"ISMART_BACKEND_TIMEOUT"`
	Concurrency      string `env:"ISMART_UPLOAD_CONCURRENCY"`
	StorageDriver    string `env:"ISMART_STORAGE_DRIVER"`
	StoragePath      string `env:"ISMART_STORAGE_PATH"`
	StagingDir       string `env:"ISMART_STAGING_DIR"`
	Port             string `env:"ISMART_PORT"`
	BindAddress      string `env:"ISMART_BIND_ADDRESS"`
	RedisAddress     string `env:"ISMART_REDIS_ADDRESS"`
	RedisPassword    string `env:"ISMART_REDIS_PASSWORD"`
	ObjectsEndpoint  string `env:"ISMART_S3_ENDPOINT"`
	ObjectsAccessKey string `env:"ISMART_S3_ACCESS_KEY"`
	ObjectsSecretKey string `env:"ISMART_S3_SECRET_KEY"`
	ObjectsUseSSL    string `env:"ISMART_S3_USE_SSL"`
	LogLevel         string `env:"ISMART_LOG_LEVEL"`
	LogFormat        string `env:"ISMART_LOG_FORMAT"`
}

// LoadConfig loads configuration from a YAML file, creating it with defaults
// if it does not exist. A .env file next to the working directory is loaded
// first so ISMART_* variables can live there.
func LoadConfig(ctx context.Context, configPath string) (*AppConfig, error) {
	_ = godotenv.Load()

	config := DefaultConfig()
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.applyEnvironmentOverrides(ctx); err != nil {
		return nil, err
	}

	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration as YAML.
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# i-SMART workbench configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *AppConfig) applyEnvironmentOverrides(ctx context.Context) error {
	var in envOverrides
	if err := envconfig.Process(ctx, &in); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	setString(&c.Backend.BaseURL, in.BaseURL)
	setString(&c.Backend.RecommendURL, in.RecommendURL)
	setString(&c.Storage.Driver, in.StorageDriver)
	setString(&c.Storage.Path, in.StoragePath)
	setString(&c.Storage.StagingDir, in.StagingDir)
	setString(&c.Server.BindAddress, in.BindAddress)
	setString(&c.Events.RedisAddress, in.RedisAddress)
	setString(&c.Events.RedisPassword, in.RedisPassword)
	setString(&c.Objects.Endpoint, in.ObjectsEndpoint)
	setString(&c.Objects.AccessKey, in.ObjectsAccessKey)
	setString(&c.Objects.SecretKey, in.ObjectsSecretKey)
	setString(&c.Log.Level, in.LogLevel)
	setString(&c.Log.Format, in.LogFormat)

	if in.Timeout != "" {
		d, err := time.ParseDuration(in.Timeout)
		if err != nil {
			return fmt.Errorf("ISMART_BACKEND_TIMEOUT: %w", err)
		}
		c.Backend.Timeout = d
	}
	if in.Concurrency != "" {
		n, err := strconv.Atoi(in.Concurrency)
		if err != nil {
			return fmt.Errorf("ISMART_UPLOAD_CONCURRENCY: %w", err)
		}
		c.Upload.Concurrency = n
	}
	if in.Port != "" {
		p, err := strconv.Atoi(in.Port)
		if err != nil {
			return fmt.Errorf("ISMART_PORT: %w", err)
		}
		c.Server.Port = p
	}
	if in.ObjectsUseSSL != "" {
		b, err := strconv.ParseBool(in.ObjectsUseSSL)
		if err != nil {
			return fmt.Errorf("ISMART_S3_USE_SSL: %w", err)
		}
		c.Objects.UseSSL = b
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if c.Storage.Path != "" && !filepath.IsAbs(c.Storage.Path) {
		c.Storage.Path = filepath.Join(configDir, c.Storage.Path)
	}
	if c.Storage.StagingDir != "" && !filepath.IsAbs(c.Storage.StagingDir) {
		c.Storage.StagingDir = filepath.Join(configDir, c.Storage.StagingDir)
	}
}

// Validate rejects settings the workbench cannot run with.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("backend.base_url must not be empty")
	}
	if _, err := url.Parse(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if c.Upload.Concurrency < 1 {
		return fmt.Errorf("upload.concurrency must be at least 1 but received: %d", c.Upload.Concurrency)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("expected port to be between 1 and 65535 but received: %d", c.Server.Port)
	}
	switch c.Storage.Driver {
	case "memory", "file", "duckdb":
	default:
		return fmt.Errorf("storage.driver must be memory, file or duckdb but received: %q", c.Storage.Driver)
	}
	return nil
}

// RecommendBaseURL returns the recommendations host, defaulting to the main backend.
func (c *AppConfig) RecommendBaseURL() string {
	if c.Backend.RecommendURL != "" {
		return c.Backend.RecommendURL
	}
	return c.Backend.BaseURL
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	var dirs []string
	if c.Storage.Driver != "memory" && c.Storage.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Storage.StagingDir != "" {
		dirs = append(dirs, c.Storage.StagingDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
