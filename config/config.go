// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config centralizes Sentinel gateway configuration. Settings are
// resolved in three layers: built-in defaults, an optional YAML file
// (SENTINEL_CONFIG_FILE), then SENTINEL_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds all gateway configuration.
type Settings struct {
	Server    ServerSettings    `yaml:"server"`
	Database  DatabaseSettings  `yaml:"database"`
	Guardian  GuardianSettings  `yaml:"guardian"`
	Cache     CacheSettings     `yaml:"cache"`
	Audit     AuditSettings     `yaml:"audit"`
	Auth      AuthSettings      `yaml:"auth"`
	RateLimit RateLimitSettings `yaml:"rate_limit"`
}

// ServerSettings configures the HTTP surface.
type ServerSettings struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// DatabaseSettings configures the rule/audit backing store and the
// connection pool in front of it.
type DatabaseSettings struct {
	Host                string        `yaml:"host"`
	Port                int           `yaml:"port"`
	Name                string        `yaml:"name"`
	User                string        `yaml:"user"`
	Password            string        `yaml:"password"`
	SSLMode             string        `yaml:"sslmode"`
	PoolSize            int           `yaml:"pool_size"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	QueryTimeout        time.Duration `yaml:"query_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	MaxRetries          int           `yaml:"max_retries"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
}

// GuardianSettings configures the semantic risk model call.
type GuardianSettings struct {
	APIKey   string        `yaml:"api_key"`
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CacheSettings configures the verdict cache.
type CacheSettings struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"max_size"`
}

// AuditSettings configures the async audit sink.
type AuditSettings struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	QueueSize     int           `yaml:"queue_size"`
}

// AuthSettings configures bearer-token authentication on the gateway.
type AuthSettings struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
}

// RateLimitSettings configures per-session request throttling.
type RateLimitSettings struct {
	Enabled   bool   `yaml:"enabled"`
	RedisURL  string `yaml:"redis_url"`
	PerMinute int    `yaml:"per_minute"`
}

// Defaults returns the built-in configuration.
func Defaults() Settings {
	return Settings{
		Server: ServerSettings{
			Port:     "8080",
			LogLevel: "info",
		},
		Database: DatabaseSettings{
			Host:                "localhost",
			Port:                5432,
			Name:                "sentinel",
			User:                "sentinel",
			SSLMode:             "require",
			PoolSize:            5,
			ConnectTimeout:      30 * time.Second,
			QueryTimeout:        60 * time.Second,
			HealthCheckInterval: 30 * time.Second,
			MaxRetries:          3,
			RetryDelay:          time.Second,
		},
		Guardian: GuardianSettings{
			Endpoint: "https://us-south.ml.cloud.ibm.com",
			Model:    "ibm/granite-guardian-3.0-8b",
			Timeout:  10 * time.Second,
		},
		Cache: CacheSettings{
			Enabled: true,
			TTL:     5 * time.Minute,
			MaxSize: 1000,
		},
		Audit: AuditSettings{
			Enabled:       true,
			BatchSize:     10,
			FlushInterval: 5 * time.Second,
			QueueSize:     1000,
		},
		Auth: AuthSettings{
			Enabled: false,
		},
		RateLimit: RateLimitSettings{
			Enabled:   false,
			PerMinute: 120,
		},
	}
}

// Load resolves settings from defaults, the optional YAML file named by
// SENTINEL_CONFIG_FILE, and SENTINEL_-prefixed environment variables.
func Load() (Settings, error) {
	s := Defaults()

	if path := os.Getenv("SENTINEL_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(&s)

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// applyEnv overlays SENTINEL_-prefixed environment variables.
func applyEnv(s *Settings) {
	setString(&s.Server.Port, "SENTINEL_PORT")
	setString(&s.Server.LogLevel, "SENTINEL_LOG_LEVEL")

	setString(&s.Database.Host, "SENTINEL_DB_HOST")
	setInt(&s.Database.Port, "SENTINEL_DB_PORT")
	setString(&s.Database.Name, "SENTINEL_DB_NAME")
	setString(&s.Database.User, "SENTINEL_DB_USER")
	setString(&s.Database.Password, "SENTINEL_DB_PASSWORD")
	setString(&s.Database.SSLMode, "SENTINEL_DB_SSLMODE")
	setInt(&s.Database.PoolSize, "SENTINEL_DB_POOL_SIZE")
	setDuration(&s.Database.ConnectTimeout, "SENTINEL_DB_CONNECT_TIMEOUT")
	setDuration(&s.Database.QueryTimeout, "SENTINEL_DB_QUERY_TIMEOUT")
	setDuration(&s.Database.HealthCheckInterval, "SENTINEL_DB_HEALTH_CHECK_INTERVAL")
	setInt(&s.Database.MaxRetries, "SENTINEL_DB_MAX_RETRIES")
	setDuration(&s.Database.RetryDelay, "SENTINEL_DB_RETRY_DELAY")

	setString(&s.Guardian.APIKey, "SENTINEL_GUARDIAN_API_KEY")
	setString(&s.Guardian.Endpoint, "SENTINEL_GUARDIAN_ENDPOINT")
	setString(&s.Guardian.Model, "SENTINEL_GUARDIAN_MODEL")
	setDuration(&s.Guardian.Timeout, "SENTINEL_GUARDIAN_TIMEOUT")

	setBool(&s.Cache.Enabled, "SENTINEL_CACHE_ENABLED")
	setDuration(&s.Cache.TTL, "SENTINEL_CACHE_TTL")
	setInt(&s.Cache.MaxSize, "SENTINEL_CACHE_MAX_SIZE")

	setBool(&s.Audit.Enabled, "SENTINEL_AUDIT_ENABLED")
	setInt(&s.Audit.BatchSize, "SENTINEL_AUDIT_BATCH_SIZE")
	setDuration(&s.Audit.FlushInterval, "SENTINEL_AUDIT_FLUSH_INTERVAL")
	setInt(&s.Audit.QueueSize, "SENTINEL_AUDIT_QUEUE_SIZE")

	setBool(&s.Auth.Enabled, "SENTINEL_AUTH_ENABLED")
	setString(&s.Auth.JWTSecret, "SENTINEL_AUTH_JWT_SECRET")

	setBool(&s.RateLimit.Enabled, "SENTINEL_RATE_LIMIT_ENABLED")
	setString(&s.RateLimit.RedisURL, "SENTINEL_REDIS_URL")
	setInt(&s.RateLimit.PerMinute, "SENTINEL_RATE_LIMIT_PER_MINUTE")
}

// Validate rejects configurations the gateway cannot run with.
func (s Settings) Validate() error {
	if s.Database.PoolSize < 1 || s.Database.PoolSize > 50 {
		return fmt.Errorf("database pool_size must be between 1 and 50, got %d", s.Database.PoolSize)
	}
	if s.Database.MaxRetries < 1 {
		return fmt.Errorf("database max_retries must be at least 1, got %d", s.Database.MaxRetries)
	}
	if s.Cache.MaxSize < 1 {
		return fmt.Errorf("cache max_size must be at least 1, got %d", s.Cache.MaxSize)
	}
	if s.Audit.BatchSize < 1 {
		return fmt.Errorf("audit batch_size must be at least 1, got %d", s.Audit.BatchSize)
	}
	if s.Audit.FlushInterval <= 0 {
		return fmt.Errorf("audit flush_interval must be positive, got %s", s.Audit.FlushInterval)
	}
	if s.Auth.Enabled && s.Auth.JWTSecret == "" {
		return fmt.Errorf("auth is enabled but jwt_secret is empty")
	}
	return nil
}

// ConnString builds the lib/pq connection string for the backing store.
func (d DatabaseSettings) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode,
		int(d.ConnectTimeout.Seconds()),
	)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
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

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
