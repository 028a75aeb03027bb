// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the MoniSens CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monisens",
		Short: "MoniSens - a sensor monitoring host",
		Long: `MoniSens hosts device driver modules, walks each device through its
lifecycle, and records streamed sensor readings to storage.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewDriversCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("monisens %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
