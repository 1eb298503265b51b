package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/splitpay/internal/client"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List payments",
	GroupID: "views",
	Example: `  splitpay list --status failed,partially_completed --limit 20`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetStringSlice("status")
		orderID, _ := cmd.Flags().GetString("order")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		resp, err := paymentClient.ListPayments(context.Background(), &client.ListPaymentsRequest{
			Status:  status,
			OrderID: orderID,
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			return fmt.Errorf("listing payments: %w", err)
		}

		if jsonOutput {
			printJSON(resp)
		} else {
			printPaymentList(os.Stdout, resp.Payments, resp.Total)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringSliceP("status", "s", nil, "filter by payment status (repeatable)")
	listCmd.Flags().String("order", "", "filter by order ID")
	listCmd.Flags().Int("limit", 50, "maximum number of payments")
	listCmd.Flags().Int("offset", 0, "number of payments to skip")
}
