// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads wgcauth configuration from defaults, a YAML file,
// the environment and command flags.
package config

import (
	"net"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/wgcauth/internal/callback"
	"github.com/holomush/wgcauth/internal/identity"
	"github.com/holomush/wgcauth/internal/realm"
)

// Config is the complete wgcauth configuration.
type Config struct {
	Log      LogConfig              `koanf:"log" yaml:"log"`
	Callback CallbackConfig         `koanf:"callback" yaml:"callback"`
	Identity IdentityConfig         `koanf:"identity" yaml:"identity"`
	PoW      PoWConfig              `koanf:"pow" yaml:"pow"`
	Auth     AuthConfig             `koanf:"auth" yaml:"auth"`
	Login    LoginConfig            `koanf:"login" yaml:"login"`
	Metrics  MetricsConfig          `koanf:"metrics" yaml:"metrics"`
	Realms   map[string]RealmConfig `koanf:"realms" yaml:"realms" jsonschema_description:"Per-realm endpoint and client id overrides keyed by realm code"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// CallbackConfig configures the local login server.
type CallbackConfig struct {
	Addr        string  `koanf:"addr" yaml:"addr" jsonschema_description:"Loopback host:port for the login pages"`
	PagesDir    string  `koanf:"pages_dir" yaml:"pages_dir" jsonschema_description:"Directory of HTML page overrides"`
	SubmitRate  float64 `koanf:"submit_rate" yaml:"submit_rate" jsonschema:"exclusiveMinimum=0" jsonschema_description:"Form submissions per second"`
	SubmitBurst int     `koanf:"submit_burst" yaml:"submit_burst" jsonschema:"minimum=1"`
}

// IdentityConfig configures the identity service client.
type IdentityConfig struct {
	TrackingID     string        `koanf:"tracking_id" yaml:"tracking_id" jsonschema_description:"Machine identifier sent as tid; random when empty"`
	RequestTimeout time.Duration `koanf:"request_timeout" yaml:"request_timeout"`
	PollInterval   time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
	PollTimeout    time.Duration `koanf:"poll_timeout" yaml:"poll_timeout"`
	PollHosts      []string      `koanf:"poll_hosts" yaml:"poll_hosts" jsonschema_description:"Host globs a 202 Location may point at"`
}

// PoWConfig configures the proof-of-work solver.
type PoWConfig struct {
	MaxIterations uint64 `koanf:"max_iterations" yaml:"max_iterations" jsonschema_description:"Nonce search cap; 0 is unbounded"`
}

// AuthConfig configures the auth session.
type AuthConfig struct {
	AttemptTimeout time.Duration `koanf:"attempt_timeout" yaml:"attempt_timeout"`
}

// LoginConfig configures the login command.
type LoginConfig struct {
	Timeout time.Duration `koanf:"timeout" yaml:"timeout" jsonschema_description:"How long login waits for the browser"`
}

// MetricsConfig configures the observability server.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr" jsonschema_description:"host:port for /metrics and health probes; empty disables"`
}

// RealmConfig overrides one realm.
type RealmConfig struct {
	IdentityURL string `koanf:"identity_url" yaml:"identity_url,omitempty"`
	SessionURL  string `koanf:"session_url" yaml:"session_url,omitempty"`
	ClientID    string `koanf:"client_id" yaml:"client_id,omitempty"`
}

// Default returns the built-in configuration. Realms holds overrides only;
// the built-in realm table lives in the realm package.
func Default() Config {
	return Config{
		Log: LogConfig{Format: "json", Level: "info"},
		Callback: CallbackConfig{
			Addr:        callback.DefaultAddr,
			SubmitRate:  float64(callback.DefaultSubmitRate),
			SubmitBurst: callback.DefaultSubmitBurst,
		},
		Identity: IdentityConfig{
			RequestTimeout: identity.DefaultRequestTimeout,
			PollInterval:   identity.DefaultPollInterval,
			PollTimeout:    identity.DefaultPollTimeout,
			PollHosts:      append([]string(nil), realm.DefaultPollHosts...),
		},
		Auth:   AuthConfig{AttemptTimeout: 5 * time.Minute},
		Login:  LoginConfig{Timeout: 10 * time.Minute},
		Realms: map[string]RealmConfig{},
	}
}

// RealmOverrides converts the realms section for realm.NewRegistry.
// Keys differing only in case are merged by Registry normalization.
func (c *Config) RealmOverrides() map[string]realm.Override {
	out := make(map[string]realm.Override, len(c.Realms))
	for code, r := range c.Realms {
		out[code] = realm.Override{
			ClientID:    r.ClientID,
			IdentityURL: r.IdentityURL,
			SessionURL:  r.SessionURL,
		}
	}
	return out
}

// Validate checks every field.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", c.Log.Format, "must be json or text")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", c.Log.Level, "must be debug, info, warn or error")
	}

	if err := callback.ValidateAddr(c.Callback.Addr); err != nil {
		return oops.With("key", "callback.addr").Wrap(err)
	}
	if c.Callback.SubmitRate <= 0 {
		return invalid("callback.submit_rate", c.Callback.SubmitRate, "must be positive")
	}
	if c.Callback.SubmitBurst < 1 {
		return invalid("callback.submit_burst", c.Callback.SubmitBurst, "must be at least 1")
	}

	for key, d := range map[string]time.Duration{
		"identity.request_timeout": c.Identity.RequestTimeout,
		"identity.poll_interval":   c.Identity.PollInterval,
		"identity.poll_timeout":    c.Identity.PollTimeout,
		"auth.attempt_timeout":     c.Auth.AttemptTimeout,
		"login.timeout":            c.Login.Timeout,
	} {
		if d <= 0 {
			return invalid(key, d.String(), "must be a positive duration")
		}
	}
	if c.Identity.PollInterval > c.Identity.PollTimeout {
		return invalid("identity.poll_interval", c.Identity.PollInterval.String(), "must not exceed identity.poll_timeout")
	}
	if _, err := realm.NewHostPolicy(c.Identity.PollHosts); err != nil {
		return oops.With("key", "identity.poll_hosts").Wrap(err)
	}

	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return oops.Code("CONFIG_INVALID").With("key", "metrics.addr").Wrap(err)
		}
	}

	if _, err := realm.NewRegistry(c.RealmOverrides()); err != nil {
		return oops.With("key", "realms").Wrap(err)
	}
	return nil
}

func invalid(key string, value any, reason string) error {
	return oops.Code("CONFIG_INVALID").
		With("key", key).
		With("value", value).
		Errorf("%s %s", key, reason)
}
