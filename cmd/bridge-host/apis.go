// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Query-farm/native-bridge/bridge"
	"github.com/spf13/cobra"
)

func apisCmd(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "apis",
		Short: "List the registered APIs and their routes",
		Long: `List every API the host registers, with its kind and the
POST routes the web app uses to reach it.

Examples:
  bridge-host apis
  bridge-host apis --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			server, err := newBridge(cfg, discardLogger())
			if err != nil {
				return err
			}
			defer server.Close()
			return printAPIs(cmd.OutOrStdout(), server, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the describe catalogue as JSON")

	return cmd
}

func printAPIs(out io.Writer, server *bridge.Server, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(server.Describe())
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tROUTES")
	for _, info := range server.APIs() {
		routes := bridge.Routes(info.Name, info.Kind)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, info.Kind, strings.Join(routes, " "))
	}
	return tw.Flush()
}
