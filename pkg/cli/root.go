// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package cli defines the operator command line of the driver: database
// migration, appliance registry inspection and project compute lookups.
package cli

import (
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

// Options are shared by every command
type Options struct {
	ConfigPath string
	Log        logr.Logger
}

// Root returns the root command. log is used by every subcommand.
func Root(version string, log logr.Logger) *cobra.Command {
	opts := &Options{Log: log}

	cmd := &cobra.Command{
		Use:           "vthunder-driver",
		Short:         "Provision load balancers on A10 vThunder appliances",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to the service config file (default /etc/vthunder-driver/config.yaml)")

	cmd.AddCommand(Migrate(opts))
	cmd.AddCommand(Appliance(opts))
	cmd.AddCommand(Compute(opts))
	cmd.AddCommand(Tunables(opts))
	cmd.AddCommand(Version(version))

	return cmd
}
