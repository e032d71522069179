// Package cmd implements the revpd command-line surface: serve, resync,
// status, and version, following the teacher's cmd/ package shape.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "revpd",
	Short: "revpd - dynamic reverse-proxy control plane",
	Long: `revpd discovers containers across SSH-reached hosts and static
config, compiles routing intent from container labels, and reconciles
an external proxy's live configuration to match desired state.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./revpd.yaml and /etc/revpd)")
}
