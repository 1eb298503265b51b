package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check server health",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status, err := paymentClient.Health(ctx)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		if jsonOutput {
			printJSON(map[string]string{"status": status})
		} else {
			fmt.Println(status)
		}
		return nil
	},
}
