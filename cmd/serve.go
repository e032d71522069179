package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snadboy/revpd/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the revpd daemon",
	Long:  `Start the Host Observers, Service Registry, and Route Reconciler and block until shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Run(context.Background(), cfgFile); err != nil {
			fmt.Fprintln(os.Stderr, "revpd serve:", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
