package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/djbf-gateway/internal/djbf"
)

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Server.ListenAddr != ":8080" {
		t.Errorf("expected ListenAddr :8080, got %s", config.Server.ListenAddr)
	}
	if config.LogLevel != "info" {
		t.Errorf("expected LogLevel info, got %s", config.LogLevel)
	}
	if config.Converter.Mode != ModeDecrypt {
		t.Errorf("expected converter mode decrypt, got %s", config.Converter.Mode)
	}
	if config.Converter.SearchPattern != "*" {
		t.Errorf("expected search pattern *, got %s", config.Converter.SearchPattern)
	}

	opts, err := config.Converter.Options()
	require.NoError(t, err)
	assert.Equal(t, djbf.Version0101, opts.Version)
	assert.Equal(t, djbf.AESECB|djbf.FastLZ, opts.Flags)
	assert.Equal(t, "kakao", opts.Profile)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", config.LogLevel)
}

func TestLoadConfig_FromYAML(t *testing.T) {
	path := createTempConfigFile(t, `
log_level: debug
converter:
  mode: encrypt
  profile: qq
  version: "0x0102"
  flags: "AES_CBC, FastLZ"
  search_pattern: "*.png"
  source_dir: /assets
  output_dir: /out
  workers: 4
  rules_files:
    - /etc/djbf/rules/*.yaml
keychain:
  profiles_file: /etc/djbf/profiles.yaml
  watch: true
server:
  listen_addr: ":9000"
  max_body_bytes: 1048576
  defaults:
    profile: kakao
    version: "3"
    flags: AES_ECB
rate_limit:
  enabled: true
  limit: 50
  window: 30s
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, ModeEncrypt, config.Converter.Mode)
	assert.Equal(t, "qq", config.Converter.Profile)
	assert.Equal(t, "*.png", config.Converter.SearchPattern)
	assert.Equal(t, "/out", config.Converter.OutputDir)
	assert.Equal(t, 4, config.Converter.Workers)
	assert.Equal(t, []string{"/etc/djbf/rules/*.yaml"}, config.Converter.RulesFiles)
	assert.True(t, config.Keychain.Watch)
	assert.Equal(t, ":9000", config.Server.ListenAddr)
	assert.Equal(t, int64(1048576), config.Server.MaxBodyBytes)
	assert.Equal(t, 30*time.Second, config.RateLimit.Window)

	opts, err := config.Converter.Options()
	require.NoError(t, err)
	assert.Equal(t, djbf.Version0102, opts.Version)
	assert.Equal(t, djbf.AESCBC|djbf.FastLZ, opts.Flags)

	defaults, err := config.Server.Defaults.Options()
	require.NoError(t, err)
	assert.Equal(t, djbf.Version0103, defaults.Version)
	assert.Equal(t, djbf.AESECB, defaults.Flags)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BACKEND_ENDPOINT", "http://localhost:9000")
	t.Setenv("BACKEND_ACCESS_KEY", "test-key")
	t.Setenv("BACKEND_SECRET_KEY", "test-secret")
	t.Setenv("CONVERTER_MODE", "Encrypt")
	t.Setenv("CONVERTER_FLAGS", "FastLZ")
	t.Setenv("CONVERTER_VERSION", "2")
	t.Setenv("CONVERTER_WORKERS", "8")
	t.Setenv("CONVERTER_RULES_FILES", "a.yaml, b.yaml")
	t.Setenv("METRICS_TEXTFILE", "/var/lib/node_exporter/djbf.prom")
	t.Setenv("SERVER_ALLOWED_BUCKETS", "game-*, patches")
	t.Setenv("SERVER_ACCESS_LOG_FORMAT", "json")

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", config.Server.ListenAddr)
	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, "http://localhost:9000", config.Backend.Endpoint)
	assert.True(t, config.Backend.Configured())
	assert.Equal(t, ModeEncrypt, config.Converter.Mode)
	assert.Equal(t, 8, config.Converter.Workers)
	assert.Equal(t, []string{"a.yaml", "b.yaml"}, config.Converter.RulesFiles)
	assert.Equal(t, "/var/lib/node_exporter/djbf.prom", config.Metrics.Textfile)
	assert.Equal(t, []string{"game-*", "patches"}, config.Server.AllowedBuckets)
	assert.Equal(t, "json", config.Server.AccessLogFormat)

	opts, err := config.Converter.Options()
	require.NoError(t, err)
	assert.Equal(t, djbf.Version0102, opts.Version)
	assert.Equal(t, djbf.FastLZ, opts.Flags)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"bad mode", func(c *Config) { c.Converter.Mode = "convert" }, true},
		{"encrypt without flags", func(c *Config) {
			c.Converter.Mode = ModeEncrypt
			c.Converter.Flags = "none"
		}, true},
		{"encrypt bad version", func(c *Config) {
			c.Converter.Mode = ModeEncrypt
			c.Converter.Version = "7"
		}, true},
		{"encrypt both AES at 0x0102", func(c *Config) {
			c.Converter.Mode = ModeEncrypt
			c.Converter.Version = "2"
			c.Converter.Flags = "AES_ECB, AES_CBC"
		}, true},
		{"encrypt both AES at 0x0101", func(c *Config) {
			c.Converter.Mode = ModeEncrypt
			c.Converter.Version = "1"
			c.Converter.Flags = "AES_ECB, AES_CBC"
		}, false},
		{"decrypt ignores encode options", func(c *Config) {
			c.Converter.Flags = "none"
		}, false},
		{"negative workers", func(c *Config) { c.Converter.Workers = -1 }, true},
		{"no source", func(c *Config) { c.Converter.SourceDir = "" }, true},
		{"bucket source", func(c *Config) {
			c.Converter.SourceDir = ""
			c.Converter.Bucket = "assets"
		}, false},
		{"missing listen addr", func(c *Config) { c.Server.ListenAddr = "" }, true},
		{"bad access log format", func(c *Config) { c.Server.AccessLogFormat = "xml" }, true},
		{"bad server defaults", func(c *Config) { c.Server.Defaults.Flags = "lz4" }, true},
		{"half backend credentials", func(c *Config) { c.Backend.AccessKey = "key" }, true},
		{"watch without file", func(c *Config) { c.Keychain.Watch = true }, true},
		{"rate limit without window", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.Window = 0
		}, true},
		{"jaeger exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, true},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
