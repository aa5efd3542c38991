package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kenneth/djbf-gateway/internal/djbf"
)

// Config holds the complete application configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level" env:"LOG_LEVEL"`
	Converter ConverterConfig `yaml:"converter"`
	Keychain  KeychainConfig  `yaml:"keychain"`
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Cache     CacheConfig     `yaml:"cache"`
	Audit     AuditConfig     `yaml:"audit"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// EncodeConfig describes the envelope written by encrypt runs.
type EncodeConfig struct {
	Profile string `yaml:"profile"`
	Version string `yaml:"version"` // 0-3 or 0x0100-0x0103
	Flags   string `yaml:"flags"`   // e.g. "AES_ECB, FastLZ"
}

// Options parses the version and flags into codec options.
func (e EncodeConfig) Options() (djbf.EncodeOptions, error) {
	version, err := djbf.ParseVersion(e.Version)
	if err != nil {
		return djbf.EncodeOptions{}, err
	}
	flags, err := djbf.ParseFlags(e.Flags)
	if err != nil {
		return djbf.EncodeOptions{}, err
	}
	opts := djbf.EncodeOptions{Version: version, Flags: flags, Profile: e.Profile}
	if flags == 0 {
		return opts, fmt.Errorf("%w: no flags provided", djbf.ErrInvalidOptions)
	}
	return opts, opts.Validate()
}

// Converter modes.
const (
	ModeDecrypt = "decrypt"
	ModeEncrypt = "encrypt"
)

// ConverterConfig holds batch conversion settings.
type ConverterConfig struct {
	EncodeConfig  `yaml:",inline"`
	Mode          string   `yaml:"mode" env:"CONVERTER_MODE"`
	SearchPattern string   `yaml:"search_pattern" env:"CONVERTER_SEARCH_PATTERN"`
	SourceDir     string   `yaml:"source_dir" env:"CONVERTER_SOURCE_DIR"`
	OutputDir     string   `yaml:"output_dir" env:"CONVERTER_OUTPUT_DIR"` // empty writes next to the source
	Bucket        string   `yaml:"bucket" env:"CONVERTER_BUCKET"`         // read from S3 instead of SourceDir
	Prefix        string   `yaml:"prefix" env:"CONVERTER_PREFIX"`
	Workers       int      `yaml:"workers" env:"CONVERTER_WORKERS"` // 0 means one per CPU
	RulesFiles    []string `yaml:"rules_files" env:"CONVERTER_RULES_FILES"`
}

// KeychainConfig locates additional key profiles.
type KeychainConfig struct {
	ProfilesFile string `yaml:"profiles_file" env:"KEYCHAIN_PROFILES_FILE"`
	Watch        bool   `yaml:"watch" env:"KEYCHAIN_WATCH"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	ListenAddr        string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"SERVER_READ_HEADER_TIMEOUT"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes" env:"SERVER_MAX_HEADER_BYTES"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" env:"SERVER_MAX_BODY_BYTES"`
	AccessLogFormat   string        `yaml:"access_log_format" env:"SERVER_ACCESS_LOG_FORMAT"` // default, json, clf
	RedactHeaders     []string      `yaml:"redact_headers" env:"SERVER_REDACT_HEADERS"`
	// AllowedBuckets restricts /assets to buckets matching these glob patterns.
	AllowedBuckets    []string      `yaml:"allowed_buckets" env:"SERVER_ALLOWED_BUCKETS"`
	// Defaults apply to /v1/encode and asset uploads that do not name options.
	Defaults EncodeConfig `yaml:"defaults"`
}

// BackendConfig holds S3 backend configuration.
type BackendConfig struct {
	Endpoint     string `yaml:"endpoint" env:"BACKEND_ENDPOINT"`
	Region       string `yaml:"region" env:"BACKEND_REGION"`
	AccessKey    string `yaml:"access_key" env:"BACKEND_ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key" env:"BACKEND_SECRET_KEY"`
	Provider     string `yaml:"provider" env:"BACKEND_PROVIDER"` // aws, minio, wasabi, ...
	UseSSL       bool   `yaml:"use_ssl" env:"BACKEND_USE_SSL"`
	UsePathStyle bool   `yaml:"use_path_style" env:"BACKEND_USE_PATH_STYLE"`
}

// Configured reports whether an S3 backend has been set up.
func (b BackendConfig) Configured() bool {
	return b.Endpoint != "" || b.AccessKey != ""
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	Limit   int           `yaml:"limit" env:"RATE_LIMIT_REQUESTS"`
	Window  time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW"`
}

// CacheConfig holds the decoded asset cache configuration.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" env:"CACHE_ENABLED"`
	MaxSize    int64         `yaml:"max_size" env:"CACHE_MAX_SIZE"`   // bytes
	MaxItems   int           `yaml:"max_items" env:"CACHE_MAX_ITEMS"`
	DefaultTTL time.Duration `yaml:"default_ttl" env:"CACHE_DEFAULT_TTL"`
}

// AuditConfig holds audit logging configuration.
type AuditConfig struct {
	Enabled   bool `yaml:"enabled" env:"AUDIT_ENABLED"`
	MaxEvents int  `yaml:"max_events" env:"AUDIT_MAX_EVENTS"` // events kept in memory
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" env:"TRACING_ENABLED"`
	ServiceName    string  `yaml:"service_name" env:"TRACING_SERVICE_NAME"`
	ServiceVersion string  `yaml:"service_version" env:"TRACING_SERVICE_VERSION"`
	Exporter       string  `yaml:"exporter" env:"TRACING_EXPORTER"` // stdout or otlp
	OtlpEndpoint   string  `yaml:"otlp_endpoint" env:"TRACING_OTLP_ENDPOINT"`
	SamplingRatio  float64 `yaml:"sampling_ratio" env:"TRACING_SAMPLING_RATIO"`

	// RedactSensitive keeps object keys, query strings and credentials out of spans.
	RedactSensitive bool `yaml:"redact_sensitive" env:"TRACING_REDACT_SENSITIVE"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	Textfile string `yaml:"textfile" env:"METRICS_TEXTFILE"` // node_exporter textfile written after CLI runs
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	encode := EncodeConfig{
		Profile: "kakao",
		Version: "1",
		Flags:   "AES_ECB, FastLZ",
	}
	return &Config{
		LogLevel: "info",
		Converter: ConverterConfig{
			EncodeConfig:  encode,
			Mode:          ModeDecrypt,
			SearchPattern: "*",
			SourceDir:     ".",
		},
		Server: ServerConfig{
			ListenAddr:        ":8080",
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20, // 1MB
			MaxBodyBytes:      64 << 20,
			AccessLogFormat:   "default",
			RedactHeaders:     []string{"authorization", "cookie"},
			Defaults:          encode,
		},
		Backend: BackendConfig{
			Region: "us-east-1",
			UseSSL: true,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			Limit:   100,
			Window:  60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    false,
			MaxSize:    100 * 1024 * 1024, // 100MB default
			MaxItems:   1000,
			DefaultTTL: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:   false,
			MaxEvents: 10000,
		},
		Tracing: TracingConfig{
			Enabled:         false,
			ServiceName:     "djbf-gateway",
			ServiceVersion:  "dev",
			Exporter:        "stdout",
			SamplingRatio:   1.0,
			RedactSensitive: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadConfig loads configuration from a file and environment variables.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	// Load from file if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func envBool(v string) bool {
	return v == "true" || v == "1"
}

func envList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDuration(v string, dst *time.Duration) {
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func envPositiveInt(v string, dst *int) {
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = n
	}
}

func envPositiveInt64(v string, dst *int64) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
		*dst = n
	}
}

// loadFromEnv loads configuration values from environment variables.
func loadFromEnv(config *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}

	// Converter
	if v := os.Getenv("CONVERTER_MODE"); v != "" {
		config.Converter.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("CONVERTER_PROFILE"); v != "" {
		config.Converter.Profile = v
	}
	if v := os.Getenv("CONVERTER_VERSION"); v != "" {
		config.Converter.Version = v
	}
	if v := os.Getenv("CONVERTER_FLAGS"); v != "" {
		config.Converter.Flags = v
	}
	if v := os.Getenv("CONVERTER_SEARCH_PATTERN"); v != "" {
		config.Converter.SearchPattern = v
	}
	if v := os.Getenv("CONVERTER_SOURCE_DIR"); v != "" {
		config.Converter.SourceDir = v
	}
	if v := os.Getenv("CONVERTER_OUTPUT_DIR"); v != "" {
		config.Converter.OutputDir = v
	}
	if v := os.Getenv("CONVERTER_BUCKET"); v != "" {
		config.Converter.Bucket = v
	}
	if v := os.Getenv("CONVERTER_PREFIX"); v != "" {
		config.Converter.Prefix = v
	}
	if v := os.Getenv("CONVERTER_WORKERS"); v != "" {
		envPositiveInt(v, &config.Converter.Workers)
	}
	if v := os.Getenv("CONVERTER_RULES_FILES"); v != "" {
		config.Converter.RulesFiles = envList(v)
	}

	// Keychain
	if v := os.Getenv("KEYCHAIN_PROFILES_FILE"); v != "" {
		config.Keychain.ProfilesFile = v
	}
	if v := os.Getenv("KEYCHAIN_WATCH"); v != "" {
		config.Keychain.Watch = envBool(v)
	}

	// Server
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		config.Server.ListenAddr = v
	}
	if v := os.Getenv("SERVER_READ_TIMEOUT"); v != "" {
		envDuration(v, &config.Server.ReadTimeout)
	}
	if v := os.Getenv("SERVER_WRITE_TIMEOUT"); v != "" {
		envDuration(v, &config.Server.WriteTimeout)
	}
	if v := os.Getenv("SERVER_IDLE_TIMEOUT"); v != "" {
		envDuration(v, &config.Server.IdleTimeout)
	}
	if v := os.Getenv("SERVER_READ_HEADER_TIMEOUT"); v != "" {
		envDuration(v, &config.Server.ReadHeaderTimeout)
	}
	if v := os.Getenv("SERVER_MAX_HEADER_BYTES"); v != "" {
		envPositiveInt(v, &config.Server.MaxHeaderBytes)
	}
	if v := os.Getenv("SERVER_MAX_BODY_BYTES"); v != "" {
		envPositiveInt64(v, &config.Server.MaxBodyBytes)
	}
	if v := os.Getenv("SERVER_ACCESS_LOG_FORMAT"); v != "" {
		config.Server.AccessLogFormat = v
	}
	if v := os.Getenv("SERVER_REDACT_HEADERS"); v != "" {
		config.Server.RedactHeaders = envList(v)
	}
	if v := os.Getenv("SERVER_ALLOWED_BUCKETS"); v != "" {
		config.Server.AllowedBuckets = envList(v)
	}

	// Backend
	if v := os.Getenv("BACKEND_ENDPOINT"); v != "" {
		config.Backend.Endpoint = v
	}
	if v := os.Getenv("BACKEND_REGION"); v != "" {
		config.Backend.Region = v
	}
	if v := os.Getenv("BACKEND_ACCESS_KEY"); v != "" {
		config.Backend.AccessKey = v
	}
	if v := os.Getenv("BACKEND_SECRET_KEY"); v != "" {
		config.Backend.SecretKey = v
	}
	if v := os.Getenv("BACKEND_PROVIDER"); v != "" {
		config.Backend.Provider = v
	}
	if v := os.Getenv("BACKEND_USE_SSL"); v != "" {
		config.Backend.UseSSL = envBool(v)
	}
	if v := os.Getenv("BACKEND_USE_PATH_STYLE"); v != "" {
		config.Backend.UsePathStyle = envBool(v)
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		config.RateLimit.Enabled = envBool(v)
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		envPositiveInt(v, &config.RateLimit.Limit)
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		envDuration(v, &config.RateLimit.Window)
	}

	// Cache
	if v := os.Getenv("CACHE_ENABLED"); v != "" {
		config.Cache.Enabled = envBool(v)
	}
	if v := os.Getenv("CACHE_MAX_SIZE"); v != "" {
		envPositiveInt64(v, &config.Cache.MaxSize)
	}
	if v := os.Getenv("CACHE_MAX_ITEMS"); v != "" {
		envPositiveInt(v, &config.Cache.MaxItems)
	}
	if v := os.Getenv("CACHE_DEFAULT_TTL"); v != "" {
		envDuration(v, &config.Cache.DefaultTTL)
	}

	// Audit
	if v := os.Getenv("AUDIT_ENABLED"); v != "" {
		config.Audit.Enabled = envBool(v)
	}
	if v := os.Getenv("AUDIT_MAX_EVENTS"); v != "" {
		envPositiveInt(v, &config.Audit.MaxEvents)
	}

	// Tracing
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		config.Tracing.Enabled = envBool(v)
	}
	if v := os.Getenv("TRACING_SERVICE_NAME"); v != "" {
		config.Tracing.ServiceName = v
	}
	if v := os.Getenv("TRACING_SERVICE_VERSION"); v != "" {
		config.Tracing.ServiceVersion = v
	}
	if v := os.Getenv("TRACING_EXPORTER"); v != "" {
		config.Tracing.Exporter = v
	}
	if v := os.Getenv("TRACING_OTLP_ENDPOINT"); v != "" {
		config.Tracing.OtlpEndpoint = v
	}
	if v := os.Getenv("TRACING_SAMPLING_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil && ratio >= 0.0 && ratio <= 1.0 {
			config.Tracing.SamplingRatio = ratio
		}
	}
	if v := os.Getenv("TRACING_REDACT_SENSITIVE"); v != "" {
		config.Tracing.RedactSensitive = envBool(v)
	}

	// Metrics
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		config.Metrics.Enabled = envBool(v)
	}
	if v := os.Getenv("METRICS_TEXTFILE"); v != "" {
		config.Metrics.Textfile = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[c.LogLevel] {
			return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
		}
	}

	if err := c.Converter.Validate(); err != nil {
		return err
	}

	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes cannot be negative")
	}
	switch c.Server.AccessLogFormat {
	case "", "default", "json", "clf":
	default:
		return fmt.Errorf("invalid server.access_log_format: %s (must be default, json, or clf)", c.Server.AccessLogFormat)
	}
	if _, err := c.Server.Defaults.Options(); err != nil {
		return fmt.Errorf("invalid server.defaults: %w", err)
	}

	// Credentials are optional (SDK default chain) but must come as a pair
	if (c.Backend.AccessKey == "") != (c.Backend.SecretKey == "") {
		return fmt.Errorf("backend.access_key and backend.secret_key must be set together")
	}

	if c.Keychain.Watch && c.Keychain.ProfilesFile == "" {
		return fmt.Errorf("keychain.profiles_file is required when keychain.watch is enabled")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Limit <= 0 {
			return fmt.Errorf("rate_limit.limit must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit.window must be positive")
		}
	}

	if c.Cache.Enabled && c.Cache.MaxItems <= 0 {
		return fmt.Errorf("cache.max_items must be positive when the cache is enabled")
	}

	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" {
			return fmt.Errorf("tracing.service_name is required when tracing is enabled")
		}
		validExporters := map[string]bool{
			"stdout": true,
			"otlp":   true,
		}
		if !validExporters[c.Tracing.Exporter] {
			return fmt.Errorf("invalid tracing.exporter: %s (must be stdout or otlp)", c.Tracing.Exporter)
		}
		if c.Tracing.SamplingRatio < 0.0 || c.Tracing.SamplingRatio > 1.0 {
			return fmt.Errorf("tracing.sampling_ratio must be between 0.0 and 1.0")
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.OtlpEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is otlp")
		}
	}

	return nil
}

// Validate checks the converter section. Encode options are only enforced
// in encrypt mode.
func (c ConverterConfig) Validate() error {
	switch c.Mode {
	case ModeDecrypt:
	case ModeEncrypt:
		if _, err := c.EncodeConfig.Options(); err != nil {
			return fmt.Errorf("invalid converter options: %w", err)
		}
	default:
		return fmt.Errorf("invalid converter.mode: %q (must be decrypt or encrypt)", c.Mode)
	}
	if c.Workers < 0 {
		return fmt.Errorf("converter.workers cannot be negative")
	}
	if c.SearchPattern == "" {
		return fmt.Errorf("converter.search_pattern is required")
	}
	if c.Bucket == "" && c.SourceDir == "" {
		return fmt.Errorf("converter.source_dir or converter.bucket is required")
	}
	return nil
}
