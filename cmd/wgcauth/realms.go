// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/holomush/wgcauth/internal/realm"
)

// realmInfo is the JSON form of one realm row.
type realmInfo struct {
	Code        string `json:"code"`
	ClientID    string `json:"client_id"`
	IdentityURL string `json:"identity_url"`
	SessionURL  string `json:"session_url"`
}

func newRealmsCmd(root *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "realms",
		Short: "List realms and their endpoints",
		Long:  `List the realm codes with their client ids and base URLs, after config overrides.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			registry, err := realm.NewRegistry(cfg.RealmOverrides())
			if err != nil {
				return err //nolint:wrapcheck // coded by realm
			}

			if jsonOutput {
				output, err := formatRealmsJSON(registry.All())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), output)
				return nil
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), formatRealmsTable(registry.All()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output realms as JSON")

	return cmd
}

func formatRealmsJSON(realms []realm.Realm) (string, error) {
	rows := make([]realmInfo, 0, len(realms))
	for _, r := range realms {
		rows = append(rows, realmInfo{
			Code:        string(r.Code),
			ClientID:    r.ClientID,
			IdentityURL: r.IdentityURL,
			SessionURL:  r.SessionURL,
		})
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal realms: %w", err)
	}
	return string(data), nil
}

func formatRealmsTable(realms []realm.Realm) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "REALM\tCLIENT ID\tIDENTITY\tSESSION")
	_, _ = fmt.Fprintln(w, "-----\t---------\t--------\t-------")
	for _, r := range realms {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Code, r.ClientID, r.IdentityURL, r.SessionURL)
	}
	_ = w.Flush()

	return buf.String()
}
