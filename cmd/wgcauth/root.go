// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
}

// flagKeys binds flag names to config keys. Only flags set on the command
// line override lower layers.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"callback-addr":  "callback.addr",
	"pages-dir":      "callback.pages_dir",
	"timeout":        "login.timeout",
	"metrics-addr":   "metrics.addr",
	"tracking-id":    "identity.tracking_id",
	"max-iterations": "pow.max_iterations",
}

// NewRootCmd creates the root command for the wgcauth CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&Deps{})
}

func newRootCmd(deps *Deps) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "wgcauth",
		Short: "wgcauth - Wargaming account sign-in",
		Long: `wgcauth signs a Wargaming account in through the game center identity
protocol: proof of work, credentials, an optional one-time code, and the
exchange token handoff. Sign-in runs from a local browser page or directly
from the terminal.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "log format (json or text)")

	cmd.AddCommand(newLoginCmd(opts, deps))
	cmd.AddCommand(newLoginDirectCmd(opts, deps))
	cmd.AddCommand(newRestoreCmd(opts, deps))
	cmd.AddCommand(newRealmsCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))

	return cmd
}
