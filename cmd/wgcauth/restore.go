// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/wgcauth/internal/auth"
)

// restoreOptions holds flags for the restore command.
type restoreOptions struct {
	file       string
	jsonOutput bool
}

func newRestoreCmd(root *rootOptions, deps *Deps) *cobra.Command {
	opts := &restoreOptions{}

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Check a saved account against the identity service",
		Long: `Load an account previously printed by "login --json", confirm its access
token with the identity service and print it with a refreshed nickname.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRestore(cmd, root, opts, deps)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "-", "account JSON file (- for standard input)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the account as JSON")

	return cmd
}

func runRestore(cmd *cobra.Command, root *rootOptions, opts *restoreOptions, deps *Deps) error {
	a, err := newApp(cmd, root, deps)
	if err != nil {
		return err
	}

	var r io.Reader = cmd.InOrStdin()
	if opts.file != "-" {
		f, err := os.Open(opts.file)
		if err != nil {
			return oops.Code("INPUT_FAILED").With("path", opts.file).Wrap(err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var acct auth.Account
	if err := json.NewDecoder(r).Decode(&acct); err != nil {
		return oops.Code("INPUT_FAILED").With("path", opts.file).Wrapf(err, "decode account")
	}

	ctx, stop := deps.notifyContext(cmd.Context())
	defer stop()

	if err := auth.AsError(a.session.Restore(ctx, acct)); err != nil {
		return err //nolint:wrapcheck // coded by auth
	}
	restored, err := a.session.Account()
	if err != nil {
		return err //nolint:wrapcheck // coded by auth
	}
	return writeAccount(cmd.OutOrStdout(), restored, opts.jsonOutput)
}
