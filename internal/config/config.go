// Package config loads service configuration from a YAML file with
// environment variable overrides on top. All fields have working
// defaults so the binary runs with no config file at all.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	NATS   NATSConfig   `yaml:"nats"`
	Auth   AuthConfig   `yaml:"auth"`
	Sync   SyncConfig   `yaml:"sync"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DataConfig struct {
	// Path of the sqlite database file.
	DBPath string `yaml:"dbPath"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
	// Disabled runs without a broker; outbox events accumulate until a
	// dispatcher drains them.
	Disabled bool `yaml:"disabled"`
}

type AuthConfig struct {
	// TokenServiceURL is the OAuth token service endpoint.
	TokenServiceURL string `yaml:"tokenServiceUrl"`
	// JWKSURL is where request JWTs are verified against. Empty
	// disables request authentication.
	JWKSURL  string `yaml:"jwksUrl"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

type SyncConfig struct {
	PageSize       int `yaml:"pageSize"`
	MaxPages       int `yaml:"maxPages"`
	InboundBuffer  int `yaml:"inboundBuffer"`
	ThreadCacheLen int `yaml:"threadCacheLen"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Data:   DataConfig{DBPath: "data/mailcore.db"},
		NATS:   NATSConfig{URL: "nats://127.0.0.1:4222"},
		Auth:   AuthConfig{TokenServiceURL: "http://127.0.0.1:3000"},
		Sync: SyncConfig{
			PageSize:       100,
			MaxPages:       50,
			InboundBuffer:  4096,
			ThreadCacheLen: 512,
		},
	}
}

// Load reads path (optional) and applies environment overrides.
// A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	overrideFromEnv(cfg)
	return cfg, nil
}

func overrideFromEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "MAILCORE_ADDR")
	setString(&cfg.Data.DBPath, "MAILCORE_DB_PATH")
	setString(&cfg.NATS.URL, "MAILCORE_NATS_URL")
	setBool(&cfg.NATS.Disabled, "MAILCORE_NATS_DISABLED")
	setString(&cfg.Auth.TokenServiceURL, "MAILCORE_TOKEN_SERVICE_URL")
	setString(&cfg.Auth.JWKSURL, "MAILCORE_JWKS_URL")
	setString(&cfg.Auth.Issuer, "MAILCORE_JWT_ISSUER")
	setString(&cfg.Auth.Audience, "MAILCORE_JWT_AUDIENCE")
	setInt(&cfg.Sync.PageSize, "MAILCORE_SYNC_PAGE_SIZE")
	setInt(&cfg.Sync.MaxPages, "MAILCORE_SYNC_MAX_PAGES")
	setInt(&cfg.Sync.InboundBuffer, "MAILCORE_INBOUND_BUFFER")
	setInt(&cfg.Sync.ThreadCacheLen, "MAILCORE_THREAD_CACHE_LEN")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
