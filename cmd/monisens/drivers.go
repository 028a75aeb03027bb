// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/monisens/monisens/internal/module"
	"github.com/monisens/monisens/internal/stream"
	"github.com/monisens/monisens/internal/xdg"
	"github.com/monisens/monisens/pkg/driver"
)

// NewDriversCmd creates the drivers subcommand.
func NewDriversCmd() *cobra.Command {
	var driversDir string

	cmd := &cobra.Command{
		Use:   "drivers",
		Short: "List installed drivers",
		Long:  `List the driver manifests found in the drivers directory along with the builtin drivers compiled into this binary.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registerBuiltins()

			for _, name := range driver.Registered() {
				cmd.Printf("%s\tbuiltin\n", name)
			}

			mgr := module.NewManager(driversDir, "", stream.NewHub())
			discovered, err := mgr.Discover(cmd.Context())
			if err != nil {
				return err
			}
			for _, dd := range discovered {
				cmd.Printf("%s\t%s\t%s\n", dd.Manifest.Name, dd.Manifest.Type, dd.Manifest.Version)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&driversDir, "drivers-dir", xdg.DriversDir(), "directory holding installed driver manifests")

	return cmd
}
