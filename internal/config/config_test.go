// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/wgcauth/internal/config"
	"github.com/holomush/wgcauth/pkg/errutil"
)

// isolate points the XDG directories at empty temp dirs.
func isolate(t *testing.T) (configDir, dataDir string) {
	t.Helper()
	configDir = t.TempDir()
	dataDir = t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("XDG_DATA_HOME", dataDir)
	return configDir, dataDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestDefault_Validates(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:13337", cfg.Callback.Addr)
	assert.Empty(t, cfg.Realms)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	isolate(t)

	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)
	assert.Equal(t, config.Default().Identity, cfg.Identity)
	assert.Empty(t, cfg.Callback.PagesDir)
}

func TestLoad_ReadsXDGFile(t *testing.T) {
	configDir, _ := isolate(t)
	writeFile(t, filepath.Join(configDir, "wgcauth", "config.yaml"), `
log:
  level: debug
identity:
  poll_interval: 250ms
`)

	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Identity.PollInterval)
	assert.Equal(t, "json", cfg.Log.Format, "unset keys keep defaults")
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	isolate(t)

	_, err := config.Load(config.Options{File: filepath.Join(t.TempDir(), "missing.yaml")})
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestLoad_RejectsSchemaViolation(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "callback:\n  port: 80\n")

	_, err := config.Load(config.Options{File: path})
	errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA")
	errutil.AssertErrorContext(t, err, "path", path)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "log:\n  level: debug\n")
	t.Setenv("WGCAUTH_LOG_LEVEL", "warn")
	t.Setenv("WGCAUTH_AUTH_ATTEMPT_TIMEOUT", "90s")
	t.Setenv("WGCAUTH_NOT_A_KEY", "ignored")

	cfg, err := config.Load(config.Options{File: path})
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 90*time.Second, cfg.Auth.AttemptTimeout)
}

func TestLoad_EnvPollHostsList(t *testing.T) {
	isolate(t)
	t.Setenv("WGCAUTH_IDENTITY_POLL_HOSTS", "*.example.net, poll.example.org")

	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"*.example.net", "poll.example.org"}, cfg.Identity.PollHosts)
}

func TestLoad_EnvRealmOverride(t *testing.T) {
	isolate(t)
	t.Setenv("WGCAUTH_REALMS_EU_IDENTITY_URL", "https://id.example.test")
	t.Setenv("WGCAUTH_REALMS_EU_BOGUS", "dropped")

	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]config.RealmConfig{
		"EU": {IdentityURL: "https://id.example.test"},
	}, cfg.Realms)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	isolate(t)
	t.Setenv("WGCAUTH_LOG_LEVEL", "warn")
	t.Setenv("WGCAUTH_LOG_FORMAT", "text")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-level", "info", "")
	fs.String("log-format", "json", "")
	fs.Duration("timeout", 10*time.Minute, "")
	require.NoError(t, fs.Parse([]string{"--log-level=error", "--timeout=2m"}))

	cfg, err := config.Load(config.Options{
		Flags: fs,
		FlagKeys: map[string]string{
			"log-level":  "log.level",
			"log-format": "log.format",
			"timeout":    "login.timeout",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "unchanged flag must not override env")
	assert.Equal(t, 2*time.Minute, cfg.Login.Timeout)
}

func TestLoad_PagesDirFromXDG(t *testing.T) {
	_, dataDir := isolate(t)
	pages := filepath.Join(dataDir, "wgcauth", "html")
	require.NoError(t, os.MkdirAll(pages, 0o700))

	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)
	assert.Equal(t, pages, cfg.Callback.PagesDir)
}

func TestLoad_InvalidValue(t *testing.T) {
	isolate(t)
	t.Setenv("WGCAUTH_CALLBACK_ADDR", "0.0.0.0:13337")

	_, err := config.Load(config.Options{})
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID_CALLBACK_ADDR")
	errutil.AssertErrorContext(t, err, "key", "callback.addr")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		code   string
		key    string
	}{
		{"log format", func(c *config.Config) { c.Log.Format = "xml" }, "CONFIG_INVALID", "log.format"},
		{"log level", func(c *config.Config) { c.Log.Level = "trace" }, "CONFIG_INVALID", "log.level"},
		{"public callback", func(c *config.Config) { c.Callback.Addr = "192.0.2.1:80" }, "CONFIG_INVALID_CALLBACK_ADDR", "callback.addr"},
		{"zero submit rate", func(c *config.Config) { c.Callback.SubmitRate = 0 }, "CONFIG_INVALID", "callback.submit_rate"},
		{"zero burst", func(c *config.Config) { c.Callback.SubmitBurst = 0 }, "CONFIG_INVALID", "callback.submit_burst"},
		{"zero poll timeout", func(c *config.Config) { c.Identity.PollTimeout = 0 }, "CONFIG_INVALID", "identity.poll_timeout"},
		{"interval exceeds timeout", func(c *config.Config) { c.Identity.PollInterval = 2 * c.Identity.PollTimeout }, "CONFIG_INVALID", "identity.poll_interval"},
		{"bad poll host", func(c *config.Config) { c.Identity.PollHosts = []string{"["} }, "CONFIG_INVALID_POLL_HOST", "identity.poll_hosts"},
		{"metrics addr", func(c *config.Config) { c.Metrics.Addr = "nope" }, "CONFIG_INVALID", "metrics.addr"},
		{"incomplete realm", func(c *config.Config) {
			c.Realms["XX"] = config.RealmConfig{IdentityURL: "https://id.example.test"}
		}, "CONFIG_UNKNOWN_REALM", "realms"},
		{"relative realm url", func(c *config.Config) {
			c.Realms["eu"] = config.RealmConfig{SessionURL: "/relative"}
		}, "CONFIG_INVALID_REALM_URL", "realms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			errutil.AssertErrorCode(t, err, tt.code)
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}
}

func TestRealmOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Realms["eu"] = config.RealmConfig{ClientID: "custom"}

	overrides := cfg.RealmOverrides()
	require.Contains(t, overrides, "eu")
	assert.Equal(t, "custom", overrides["eu"].ClientID)
	assert.Empty(t, overrides["eu"].IdentityURL)
}

func TestKeys(t *testing.T) {
	keys := config.Keys()
	assert.Contains(t, keys, "callback.pages_dir")
	assert.Contains(t, keys, "identity.poll_hosts")
	assert.Contains(t, keys, "pow.max_iterations")
	for _, k := range keys {
		assert.NotContains(t, k, "realms")
	}
}
