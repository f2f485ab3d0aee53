// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command bridge-host runs a native bridge with the demo handler set: the
// HTTP call transport and the WebSocket push transport on loopback ports.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "bridge-host",
		Short: "Host-side loopback bridge for an embedded web app",
		Long: `bridge-host exposes named native APIs to a web front-end.

Calls arrive as HTTP POSTs on one loopback port; push-streams are
delivered over a WebSocket listener on a second port. Settings come
from bridge.json and can be overridden by flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the config file (default ./"+ConfigFileName+" if present)")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		apisCmd(&configPath),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the explicit config path, or bridge.json in the working
// directory when it exists.
func loadConfig(path string) (*Config, error) {
	if path == "" {
		return LoadConfig(ConfigFileName, true)
	}
	return LoadConfig(path, false)
}
