// Package app provides the entry point for the talosctl command-line application.
package app

import (
	"github.com/spf13/cobra"

	"github.com/stacklok/talos/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "talosctl",
	DisableAutoGenTag: true,
	Short:             "Operator CLI for Talos capability grant, inspection, and revocation",
	Long: `talosctl is a local, offline operator tool over pkg/capability. It never talks
to a running gateway over the network: its subcommands work only on an
issuer seed file and capability files on disk, so an operator can mint,
inspect, and revoke capabilities without a gateway admin API.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates the root command for the talosctl CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().String("seed-file", "", "Path to the issuer's hex-encoded Ed25519 seed")
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newGrantCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newRevokeCmd())
	rootCmd.AddCommand(newVerifyCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}
