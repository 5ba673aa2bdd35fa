// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/wgcauth/internal/auth"
)

// loginDirectOptions holds flags for the login-direct command.
type loginDirectOptions struct {
	realm      string
	email      string
	jsonOutput bool
}

func newLoginDirectCmd(root *rootOptions, deps *Deps) *cobra.Command {
	opts := &loginDirectOptions{}

	cmd := &cobra.Command{
		Use:   "login-direct",
		Short: "Sign in from the terminal",
		Long: `Sign in without a browser. The password is read from the first line of
standard input; when the account uses a second factor, each following line
is tried as a one-time code.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoginDirect(cmd, root, opts, deps)
		},
	}

	cmd.Flags().StringVar(&opts.realm, "realm", "", "realm code (RU, EU, NA, ASIA)")
	cmd.Flags().StringVar(&opts.email, "email", "", "account email")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the account as JSON")
	cmd.Flags().String("tracking-id", "", "machine identifier sent to the identity service")
	cmd.Flags().Uint64("max-iterations", 0, "proof-of-work nonce cap (0 = unbounded)")
	_ = cmd.MarkFlagRequired("realm")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runLoginDirect(cmd *cobra.Command, root *rootOptions, opts *loginDirectOptions, deps *Deps) error {
	a, err := newApp(cmd, root, deps)
	if err != nil {
		return err
	}

	ctx, stop := deps.notifyContext(cmd.Context())
	defer stop()

	stopMetrics, err := a.startMetrics(ctx, func() bool { return true })
	if err != nil {
		return err
	}
	defer stopMetrics()

	lines := bufio.NewScanner(cmd.InOrStdin())
	readLine := func(prompt string) (string, error) {
		cmd.PrintErr(prompt)
		if !lines.Scan() {
			if err := lines.Err(); err != nil {
				return "", oops.Code("INPUT_FAILED").Wrap(err)
			}
			return "", oops.Code("INPUT_FAILED").Errorf("standard input closed")
		}
		return strings.TrimRight(lines.Text(), "\r"), nil
	}

	password, err := readLine("Password: ")
	if err != nil {
		return err
	}

	out := a.session.Authenticate(ctx, opts.realm, opts.email, password)
	for {
		switch o := out.(type) {
		case auth.Finished:
			acct, err := a.session.Account()
			if err != nil {
				return err //nolint:wrapcheck // coded by auth
			}
			return writeAccount(cmd.OutOrStdout(), acct, opts.jsonOutput)
		case auth.Failed:
			return o.Err
		case auth.IncorrectSecondFactor:
			cmd.PrintErrln("Incorrect one-time code")
		}

		code, err := readLine("One-time code: ")
		if err != nil {
			return err
		}
		out = a.session.SubmitSecondFactor(ctx, code)
	}
}
