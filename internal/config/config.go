// Package config loads server and client configuration.
//
// Values are layered: struct defaults, then an optional YAML file
// (CONFIG_PATH or config.yaml), then environment variables. A .env file in
// the working directory is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

var defaultConfigPaths = []string{"config.yaml", "config.yml"}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MailConfig struct {
	Provider string `koanf:"provider"` // console | smtp
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

// Server is the configuration of cmd/server.
type Server struct {
	Port              int           `koanf:"port"`
	DBDSN             string        `koanf:"db_dsn"`
	JWTSecret         string        `koanf:"jwt_secret"`
	TokenTTL          time.Duration `koanf:"token_ttl"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	GeminiAPIKey      string        `koanf:"gemini_api_key"`
	GeminiModel       string        `koanf:"gemini_model"`
	MaxImageBytes     int64         `koanf:"max_image_bytes"`
	Mail              MailConfig    `koanf:"mail"`
	Log               LogConfig     `koanf:"log"`
}

// Client is the configuration of cmd/flockctl.
type Client struct {
	ServerURL      string        `koanf:"server_url"`
	DataDir        string        `koanf:"data_dir"`
	ProbeInterval  time.Duration `koanf:"probe_interval"`
	ProbeTimeout   time.Duration `koanf:"probe_timeout"`
	AnalyzeTimeout time.Duration `koanf:"analyze_timeout"`
	Concurrency    int           `koanf:"concurrency"`
	MaxImageSide   int           `koanf:"max_image_side"`
	Retry          RetryConfig   `koanf:"retry"`
	Log            LogConfig     `koanf:"log"`
}

type RetryConfig struct {
	MaxAttempts     int           `koanf:"max_attempts"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
	Multiplier      float64       `koanf:"multiplier"`
}

func defaultServer() Server {
	return Server{
		Port:              8080,
		DBDSN:             "data/flock.db",
		TokenTTL:          30 * 24 * time.Hour,
		RateLimitRequests: 120,
		RateLimitWindow:   time.Minute,
		GeminiModel:       "gemini-2.0-flash",
		MaxImageBytes:     10 << 20,
		Mail:              MailConfig{Provider: "console"},
		Log:               LogConfig{Level: "info", Format: "json"},
	}
}

func defaultClient() Client {
	return Client{
		ServerURL:      "http://localhost:8080",
		DataDir:        defaultDataDir(),
		ProbeInterval:  30 * time.Second,
		ProbeTimeout:   5 * time.Second,
		AnalyzeTimeout: 60 * time.Second,
		Concurrency:    4,
		MaxImageSide:   1024,
		Retry: RetryConfig{
			MaxAttempts:     8,
			InitialInterval: 5 * time.Second,
			MaxInterval:     30 * time.Minute,
			Multiplier:      2,
		},
		Log: LogConfig{Level: "warn", Format: "console"},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + string(os.PathSeparator) + "flock-control"
	}
	return ".flock-control"
}

// serverEnv maps environment variable names to koanf paths.
var serverEnv = map[string]string{
	"port":                "port",
	"db_dsn":              "db_dsn",
	"db_path":             "db_dsn",
	"jwt_secret":          "jwt_secret",
	"token_ttl":           "token_ttl",
	"cors_origins":        "cors_origins",
	"rate_limit_requests": "rate_limit_requests",
	"rate_limit_window":   "rate_limit_window",
	"gemini_api_key":      "gemini_api_key",
	"gemini_model":        "gemini_model",
	"max_image_bytes":     "max_image_bytes",
	"mail_provider":       "mail.provider",
	"smtp_host":           "mail.host",
	"smtp_port":           "mail.port",
	"smtp_user":           "mail.user",
	"smtp_password":       "mail.password",
	"smtp_from":           "mail.from",
	"log_level":           "log.level",
	"log_format":          "log.format",
}

var clientEnv = map[string]string{
	"flock_server_url":         "server_url",
	"flock_data_dir":           "data_dir",
	"flock_probe_interval":     "probe_interval",
	"flock_probe_timeout":      "probe_timeout",
	"flock_analyze_timeout":    "analyze_timeout",
	"flock_concurrency":        "concurrency",
	"flock_max_image_side":     "max_image_side",
	"flock_retry_max_attempts": "retry.max_attempts",
	"flock_retry_initial":      "retry.initial_interval",
	"flock_retry_max_interval": "retry.max_interval",
	"flock_retry_multiplier":   "retry.multiplier",
	"flock_log_level":          "log.level",
	"flock_log_format":         "log.format",
}

// LoadServer builds the server configuration.
func LoadServer() (*Server, error) {
	cfg := defaultServer()
	if err := load(&cfg, "server", serverEnv, []string{"cors_origins"}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadClient builds the client configuration.
func LoadClient() (*Client, error) {
	cfg := defaultClient()
	if err := load(&cfg, "client", clientEnv, nil); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// load layers defaults, the section of the YAML file and env vars onto out.
func load(out interface{}, section string, envMap map[string]string, csvFields []string) error {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(out, "koanf"), nil); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		fk := koanf.New(".")
		if err := fk.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		if fk.Exists(section) {
			if err := k.Merge(fk.Cut(section)); err != nil {
				return fmt.Errorf("failed to merge config file %s: %w", path, err)
			}
		}
	}

	transform := func(key string) string {
		return envMap[strings.ToLower(key)]
	}
	if err := k.Load(env.Provider("", ".", transform), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	for _, field := range csvFields {
		if raw, ok := k.Get(field).(string); ok {
			if err := k.Set(field, parseCSV(raw)); err != nil {
				return err
			}
		}
	}

	if err := k.Unmarshal("", out); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			items = append(items, value)
		}
	}
	return items
}

// Validate checks required server settings.
func (c *Server) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN must not be empty"))
	}
	return errors.Join(errs...)
}

// Validate checks client settings.
func (c *Client) Validate() error {
	var errs []error
	if c.ServerURL == "" {
		errs = append(errs, errors.New("server_url must not be empty"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("probe_timeout must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}
