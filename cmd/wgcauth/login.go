// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/holomush/wgcauth/internal/callback"
	"github.com/holomush/wgcauth/pkg/errutil"
)

// loginOptions holds flags for the login command.
type loginOptions struct {
	jsonOutput   bool
	callbackAddr string
	pagesDir     string
	timeout      time.Duration
	metricsAddr  string
}

func newLoginCmd(root *rootOptions, deps *Deps) *cobra.Command {
	opts := &loginOptions{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through a local browser page",
		Long: `Start a loopback web server serving the sign-in pages, wait until the
account is signed in, then print it. The command gives up on a shutdown
signal or when login.timeout elapses.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, root, opts, deps)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the account as JSON")
	cmd.Flags().StringVar(&opts.callbackAddr, "callback-addr", callback.DefaultAddr, "loopback listen address for the sign-in pages")
	cmd.Flags().StringVar(&opts.pagesDir, "pages-dir", "", "directory of HTML page overrides")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "how long to wait for sign-in")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("tracking-id", "", "machine identifier sent to the identity service")
	cmd.Flags().Uint64("max-iterations", 0, "proof-of-work nonce cap (0 = unbounded)")

	return cmd
}

func runLogin(cmd *cobra.Command, root *rootOptions, opts *loginOptions, deps *Deps) error {
	a, err := newApp(cmd, root, deps)
	if err != nil {
		return err
	}
	cfg := a.cfg

	ctx, stop := deps.notifyContext(cmd.Context())
	defer stop()

	srv, err := callback.New(a.session, callback.Config{
		Addr:        cfg.Callback.Addr,
		PagesDir:    cfg.Callback.PagesDir,
		SubmitRate:  rate.Limit(cfg.Callback.SubmitRate),
		SubmitBurst: cfg.Callback.SubmitBurst,
		Logger:      a.logger,
	})
	if err != nil {
		return err //nolint:wrapcheck // coded by callback
	}

	stopMetrics, err := a.startMetrics(ctx, srv.Running)
	if err != nil {
		return err
	}
	defer stopMetrics()

	if err := srv.Start(); err != nil {
		return err //nolint:wrapcheck // coded by callback
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			errutil.LogWarn(ctx, a.logger, "callback server stop failed", err)
		}
	}()

	a.logger.InfoContext(ctx, "waiting for sign-in", "url", srv.URL(), "timeout", cfg.Login.Timeout)
	cmd.PrintErrf("Open %s in a browser to sign in\n", srv.URL())
	deps.onListening(srv.URL())

	timer := time.NewTimer(cfg.Login.Timeout)
	defer timer.Stop()

	select {
	case <-a.session.Done():
	case <-ctx.Done():
		return oops.Code("LOGIN_INTERRUPTED").Wrapf(context.Cause(ctx), "sign-in interrupted")
	case <-timer.C:
		return oops.Code("LOGIN_TIMEOUT").With("timeout", cfg.Login.Timeout.String()).Errorf("sign-in not completed within %s", cfg.Login.Timeout)
	}

	acct, err := a.session.Account()
	if err != nil {
		return err //nolint:wrapcheck // coded by auth
	}
	a.logger.InfoContext(ctx, "signed in", "account", acct)
	return writeAccount(cmd.OutOrStdout(), acct, opts.jsonOutput)
}
