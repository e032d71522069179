package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snadboy/revpd/internal/app"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show host connectivity and service reconcile state",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := app.Status(context.Background(), cfgFile)
		if err != nil {
			return err
		}

		fmt.Println("Hosts:")
		for _, h := range status.Hosts {
			enabled := "disabled"
			if h.Enabled {
				enabled = "enabled"
			}
			fmt.Printf("  %-20s %-12s %s", h.Alias, h.State, enabled)
			if h.Reason != "" {
				fmt.Printf(" (%s)", h.Reason)
			}
			fmt.Println()
		}

		fmt.Println("Services:")
		for _, s := range status.Services {
			state := "ok"
			if s.Degraded {
				state = "degraded"
			}
			fmt.Printf("  %-30s gen=%-6d %s", s.Domain, s.Generation, state)
			if s.Reason != "" {
				fmt.Printf(" (%s)", s.Reason)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
