// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package authserver composes the protocol pipelines, storage, and HTTP
// adapters into a runnable OpenID Connect authorization server.
package authserver

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/device"
)

// ClientConfig is a client registration as it appears in the config file.
// Secret, when present, is bcrypt-hashed at load time; omit it for public
// clients.
type ClientConfig struct {
	client.Client `mapstructure:",squash"`

	Secret string `mapstructure:"secret"`
}

// RedisConfig selects the Redis backend. Leave Addr empty to run on the
// in-memory store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig tunes the device-flow verification limiter.
type RateLimitConfig struct {
	MaxFailuresBeforeBackoff int           `mapstructure:"max_failures_before_backoff"`
	MaxBackoffDuration       time.Duration `mapstructure:"max_backoff_duration"`
	Window                   time.Duration `mapstructure:"window"`
	MaxIPFailuresPerWindow   int           `mapstructure:"max_ip_failures_per_window"`
}

// Config is the server configuration.
type Config struct {
	Issuer     string `mapstructure:"issuer"`
	ListenAddr string `mapstructure:"listen_addr"`

	// SigningKeyFile holds a PEM private key; empty generates an ephemeral
	// key on startup.
	SigningKeyFile   string `mapstructure:"signing_key_file"`
	SigningAlgorithm string `mapstructure:"signing_algorithm"`

	// PairwiseSalt feeds pairwise subject derivation. Changing it changes
	// every pairwise subject, so treat it like a key.
	PairwiseSalt string `mapstructure:"pairwise_salt"`

	StorePrefix string      `mapstructure:"store_prefix"`
	Redis       RedisConfig `mapstructure:"redis"`

	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	SessionCookieName string        `mapstructure:"session_cookie_name"`
	ConsentTTL        time.Duration `mapstructure:"consent_ttl"`

	LoginURL   string `mapstructure:"login_url"`
	ConsentURL string `mapstructure:"consent_url"`

	DeviceVerificationURI string          `mapstructure:"device_verification_uri"`
	RateLimit             RateLimitConfig `mapstructure:"rate_limit"`

	ScopesSupported []string `mapstructure:"scopes_supported"`
	ACRValues       []string `mapstructure:"acr_values"`

	Clients []ClientConfig `mapstructure:"clients"`
}

// LoadConfig reads the configuration file at path, layering environment
// variables with the OPENAUTHD_ prefix on top.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("OPENAUTHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("signing_algorithm", "RS256")
	v.SetDefault("session_ttl", 24*time.Hour)
	v.SetDefault("session_cookie_name", "openauthd_session")
	v.SetDefault("consent_ttl", 30*24*time.Hour)
	v.SetDefault("scopes_supported", []string{"openid", "profile", "email", "offline_access"})

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.PairwiseSalt == "" {
		return fmt.Errorf("pairwise_salt is required")
	}
	if c.DeviceVerificationURI == "" {
		c.DeviceVerificationURI = strings.TrimSuffix(c.Issuer, "/") + "/device"
	}
	return nil
}

// limiterConfig translates the config section into the device package's
// type, falling back to its defaults for zero values.
func (c *Config) limiterConfig() device.LimiterConfig {
	return device.LimiterConfig{
		MaxFailuresBeforeBackoff: c.RateLimit.MaxFailuresBeforeBackoff,
		MaxBackoffDuration:       c.RateLimit.MaxBackoffDuration,
		Window:                   c.RateLimit.Window,
		MaxIPFailuresPerWindow:   c.RateLimit.MaxIPFailuresPerWindow,
	}
}
