// Package config loads gateway configuration from environment variables,
// with the limiter class table optionally overridable from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Upstream  UpstreamConfig
	Log       LogConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Blocklist BlocklistConfig
	Upload    UploadConfig
	Sanitize  SanitizeConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int `validate:"min=1,max=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int64 `validate:"min=1"`
}

// Addr returns the host:port address for the HTTP listener.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UpstreamConfig holds the proxied application configuration.
type UpstreamConfig struct {
	// URL is the base URL of the application the gateway fronts.
	URL string `validate:"required,url"`

	// Timeout bounds a single proxied round trip.
	Timeout time.Duration `validate:"gt=0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `validate:"omitempty,oneof=debug info warn error"`
	Format string `validate:"omitempty,oneof=json text"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// ClassLimit defines one limiter class: a fixed window and the maximum
// number of requests a client key may make within it.
type ClassLimit struct {
	Window time.Duration `yaml:"window" validate:"required,gt=0"`
	Max    int           `yaml:"max"    validate:"required,gt=0"`
}

// UnmarshalYAML decodes a class limit, parsing the window as a Go duration
// string ("15m", "1h30m").
func (c *ClassLimit) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Window string `yaml:"window"`
		Max    int    `yaml:"max"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	window, err := time.ParseDuration(raw.Window)
	if err != nil {
		return fmt.Errorf("invalid window %q: %w", raw.Window, err)
	}

	c.Window = window
	c.Max = raw.Max
	return nil
}

// RateLimitConfig holds fixed-window rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool

	// Classes maps a limiter class name to its window/quota.
	Classes map[string]ClassLimit `validate:"required,dive"`

	// LimitsFile optionally points to a YAML file overriding Classes.
	LimitsFile string

	// BucketTTL is how long an idle client bucket is retained before the
	// cleanup pass removes it. Should exceed the longest class window.
	BucketTTL time.Duration `validate:"gt=0"`

	// CleanupInterval is the cadence of the stale-bucket cleanup pass.
	CleanupInterval time.Duration `validate:"gt=0"`
}

// BlocklistConfig holds progressive IP blocking configuration.
type BlocklistConfig struct {
	// BlockThreshold is the violation count at which an address is blocked.
	BlockThreshold int `validate:"min=1"`

	// StepMinutes scales block duration: violations * StepMinutes minutes.
	StepMinutes int `validate:"min=1"`

	// MaxBlockMinutes caps the computed block duration.
	MaxBlockMinutes int `validate:"min=1"`

	// DecayPerSweep is how many violations a lapsed record sheds per sweep.
	DecayPerSweep int `validate:"min=1"`

	// SweepSchedule is a cron expression for the decay sweep cadence.
	SweepSchedule string `validate:"required"`
}

// UploadConfig holds upload validation configuration.
type UploadConfig struct {
	AllowedMIMETypes  []string `validate:"required,min=1"`
	AllowedExtensions []string `validate:"required,min=1"`
	MaxSizeBytes      int64    `validate:"min=1"`
}

// SanitizeConfig holds image sanitization configuration.
type SanitizeConfig struct {
	StripMetadata bool

	// MaxWidth/MaxHeight define the resize bounding box. Zero disables resizing.
	MaxWidth  int `validate:"min=0"`
	MaxHeight int `validate:"min=0"`

	// JPEGQuality is the canonical re-encode quality.
	JPEGQuality int `validate:"min=1,max=100"`

	// MaxConcurrent bounds how many images are processed at once.
	MaxConcurrent int `validate:"min=1"`

	// Timeout is the defensive cap on a single decode/re-encode.
	Timeout time.Duration `validate:"gt=0"`
}

// DefaultClasses returns the built-in limiter class table.
func DefaultClasses() map[string]ClassLimit {
	return map[string]ClassLimit{
		"auth":           {Window: 15 * time.Minute, Max: 5},
		"password_reset": {Window: 60 * time.Minute, Max: 3},
		"upload":         {Window: 15 * time.Minute, Max: 20},
		"api":            {Window: 15 * time.Minute, Max: 100},
		"ai":             {Window: 15 * time.Minute, Max: 30},
		"weather":        {Window: 10 * time.Minute, Max: 20},
	}
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "closetmind-gateway"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxBodySize:     getEnvInt64("SERVER_MAX_BODY_SIZE", 25<<20),
		},
		Upstream: UpstreamConfig{
			URL:     getEnv("UPSTREAM_URL", "http://localhost:3000"),
			Timeout: getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvSlice("CORS_ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"}),
			MaxAge:         getEnvInt("CORS_MAX_AGE", 300),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvBool("RATELIMIT_ENABLED", true),
			Classes:         DefaultClasses(),
			LimitsFile:      getEnv("RATELIMIT_LIMITS_FILE", ""),
			BucketTTL:       getEnvDuration("RATELIMIT_BUCKET_TTL", 2*time.Hour),
			CleanupInterval: getEnvDuration("RATELIMIT_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Blocklist: BlocklistConfig{
			BlockThreshold:  getEnvInt("BLOCKLIST_THRESHOLD", 5),
			StepMinutes:     getEnvInt("BLOCKLIST_STEP_MINUTES", 5),
			MaxBlockMinutes: getEnvInt("BLOCKLIST_MAX_MINUTES", 60),
			DecayPerSweep:   getEnvInt("BLOCKLIST_DECAY_PER_SWEEP", 2),
			SweepSchedule:   getEnv("BLOCKLIST_SWEEP_SCHEDULE", "@every 5m"),
		},
		Upload: UploadConfig{
			AllowedMIMETypes:  getEnvSlice("UPLOAD_ALLOWED_MIME_TYPES", []string{"image/jpeg", "image/png", "image/webp"}),
			AllowedExtensions: getEnvSlice("UPLOAD_ALLOWED_EXTENSIONS", []string{".jpg", ".jpeg", ".png", ".webp"}),
			MaxSizeBytes:      getEnvInt64("UPLOAD_MAX_SIZE_BYTES", 20<<20),
		},
		Sanitize: SanitizeConfig{
			StripMetadata: getEnvBool("SANITIZE_STRIP_METADATA", true),
			MaxWidth:      getEnvInt("SANITIZE_MAX_WIDTH", 2048),
			MaxHeight:     getEnvInt("SANITIZE_MAX_HEIGHT", 2048),
			JPEGQuality:   getEnvInt("SANITIZE_JPEG_QUALITY", 85),
			MaxConcurrent: getEnvInt("SANITIZE_MAX_CONCURRENT", 4),
			Timeout:       getEnvDuration("SANITIZE_TIMEOUT", 10*time.Second),
		},
	}

	if cfg.RateLimit.LimitsFile != "" {
		classes, err := loadLimitsFile(cfg.RateLimit.LimitsFile)
		if err != nil {
			return nil, fmt.Errorf("load limits file: %w", err)
		}
		cfg.RateLimit.Classes = classes
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// limitsFile is the YAML shape of a limiter class table:
//
//	classes:
//	  auth:
//	    window: 15m
//	    max: 5
type limitsFile struct {
	Classes map[string]ClassLimit `yaml:"classes"`
}

// loadLimitsFile reads a limiter class table from a YAML file.
func loadLimitsFile(path string) (map[string]ClassLimit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f limitsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(f.Classes) == 0 {
		return nil, fmt.Errorf("%s defines no limiter classes", path)
	}
	return f.Classes, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for name, limit := range c.RateLimit.Classes {
		if c.RateLimit.BucketTTL < limit.Window {
			return fmt.Errorf("RATELIMIT_BUCKET_TTL %s is shorter than the %q class window %s",
				c.RateLimit.BucketTTL, name, limit.Window)
		}
	}

	if c.Blocklist.StepMinutes > c.Blocklist.MaxBlockMinutes {
		return fmt.Errorf("BLOCKLIST_STEP_MINUTES %d exceeds BLOCKLIST_MAX_MINUTES %d",
			c.Blocklist.StepMinutes, c.Blocklist.MaxBlockMinutes)
	}

	// An upload larger than the body cap would be rejected before validation
	// could name the real reason.
	if c.Upload.MaxSizeBytes > c.Server.MaxBodySize {
		return fmt.Errorf("UPLOAD_MAX_SIZE_BYTES %d exceeds SERVER_MAX_BODY_SIZE %d",
			c.Upload.MaxSizeBytes, c.Server.MaxBodySize)
	}

	return nil
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, p := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
