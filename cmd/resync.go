package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snadboy/revpd/internal/app"
)

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Force a running revpd daemon to reconcile immediately",
	Long:  `Send a resync signal to the running revpd serve process, triggering an out-of-band reconcile sweep.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.SendResyncSignal(); err != nil {
			fmt.Println("Error:", err)
			return err
		}
		fmt.Println("Resync signal sent.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resyncCmd)
}
