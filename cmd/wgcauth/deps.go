// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

// Deps contains injectable dependencies for the sign-in commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// HTTPClient is the identity service transport.
	// Default: an https-only safeurl client
	HTTPClient *http.Client

	// NotifyContext derives the context cancelled on shutdown signals.
	// Default: signal.NotifyContext with SIGINT and SIGTERM
	NotifyContext func(ctx context.Context) (context.Context, context.CancelFunc)

	// OnListening is called with the login URL once the callback server
	// accepts connections.
	// Default: no-op
	OnListening func(loginURL string)
}

func (d *Deps) notifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.NotifyContext != nil {
		return d.NotifyContext(ctx)
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func (d *Deps) onListening(loginURL string) {
	if d.OnListening != nil {
		d.OnListening(loginURL)
	}
}
