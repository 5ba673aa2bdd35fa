// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/wgcauth/internal/config"
	"github.com/holomush/wgcauth/internal/xdg"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err //nolint:wrapcheck // coded by config
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			data, err := config.YAML(cfg)
			if err != nil {
				return err //nolint:wrapcheck // coded by config
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		path  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Long:  `Write the built-in defaults as YAML to the XDG config file, or to --path.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				var err error
				if path, err = xdg.ConfigFile(); err != nil {
					return oops.Code("CONFIG_INIT_FAILED").Wrap(err)
				}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return oops.Code("CONFIG_EXISTS").With("path", path).Errorf("config file already exists, use --force to overwrite")
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return oops.Code("CONFIG_INIT_FAILED").With("path", path).Wrap(err)
			}

			cfg := config.Default()
			data, err := config.YAML(&cfg)
			if err != nil {
				return err //nolint:wrapcheck // coded by config
			}
			if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
				return oops.Code("CONFIG_INIT_FAILED").With("path", path).Wrap(err)
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return oops.Code("CONFIG_INIT_FAILED").With("path", path).Wrap(err)
			}
			cmd.Printf("Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "file to write (default: XDG config file)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}
