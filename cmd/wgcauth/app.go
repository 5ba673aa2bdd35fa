// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/wgcauth/internal/auth"
	"github.com/holomush/wgcauth/internal/config"
	"github.com/holomush/wgcauth/internal/identity"
	"github.com/holomush/wgcauth/internal/logging"
	"github.com/holomush/wgcauth/internal/observability"
	"github.com/holomush/wgcauth/internal/pow"
	"github.com/holomush/wgcauth/internal/realm"
	"github.com/holomush/wgcauth/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// app is the wired set of components behind a sign-in command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	realms  *realm.Registry
	obs     *observability.Server
	session *auth.Session
}

func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		File:     opts.configFile,
		Flags:    cmd.Flags(),
		FlagKeys: flagKeys,
	})
	if err != nil {
		return nil, oops.With("operation", "load config").Wrap(err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	//nolint:wrapcheck // Setup returns coded errors
	return logging.Setup(logging.Options{
		Service: "wgcauth",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  cmd.ErrOrStderr(),
	})
}

// newApp loads configuration and wires the identity client, solver and
// session. The metrics server is created but not started.
func newApp(cmd *cobra.Command, opts *rootOptions, deps *Deps) (*app, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	registry, err := realm.NewRegistry(cfg.RealmOverrides())
	if err != nil {
		return nil, err //nolint:wrapcheck // coded by realm
	}
	policy, err := realm.NewHostPolicy(cfg.Identity.PollHosts)
	if err != nil {
		return nil, err //nolint:wrapcheck // coded by realm
	}

	var (
		obs     *observability.Server
		metrics *observability.Metrics
	)
	if cfg.Metrics.Addr != "" {
		obs = observability.NewServer(cfg.Metrics.Addr, nil)
		metrics = obs.Metrics()
	}

	client, err := identity.NewClient(identity.Config{
		HTTPClient:     deps.HTTPClient,
		HostPolicy:     policy,
		TrackingID:     cfg.Identity.TrackingID,
		RequestTimeout: cfg.Identity.RequestTimeout,
		PollInterval:   cfg.Identity.PollInterval,
		PollTimeout:    cfg.Identity.PollTimeout,
		Recorder:       metrics,
		Logger:         logger,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // coded by identity
	}

	session, err := auth.NewSession(auth.Config{
		Realms:         registry,
		Identity:       client,
		Solver:         pow.NewSolver(cfg.PoW.MaxIterations, metrics),
		Recorder:       metrics,
		Logger:         logger,
		AttemptTimeout: cfg.Auth.AttemptTimeout,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // coded by auth
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		realms:  registry,
		obs:     obs,
		session: session,
	}, nil
}

// startMetrics starts the observability server when configured. The
// returned stop function is always safe to call.
func (a *app) startMetrics(ctx context.Context, ready observability.ReadinessChecker) (func(), error) {
	if a.obs == nil {
		return func() {}, nil
	}
	a.obs.SetReadiness(ready)
	errCh, err := a.obs.Start()
	if err != nil {
		return nil, err //nolint:wrapcheck // coded by observability
	}
	go func() {
		for err := range errCh {
			errutil.LogError(ctx, a.logger, "observability server error", err)
		}
	}()
	a.logger.InfoContext(ctx, "observability server started", "addr", a.obs.Addr())

	return func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.obs.Stop(stopCtx); err != nil {
			errutil.LogWarn(ctx, a.logger, "observability server stop failed", err)
		}
	}, nil
}

// writeAccount prints the signed-in account as YAML, or JSON when asJSON.
func writeAccount(w io.Writer, acct auth.Account, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(acct); err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
		return nil
	}
	data, err := yaml.Marshal(acct)
	if err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	if _, err := fmt.Fprint(w, string(data)); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}
