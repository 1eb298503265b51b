package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:     "show <payment-id>",
	Short:   "Show a payment with its order and sub-transactions",
	GroupID: "views",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		view, err := paymentClient.GetPayment(context.Background(), id)
		if err != nil {
			return fmt.Errorf("getting payment %s: %w", id, err)
		}
		if jsonOutput {
			printJSON(view)
		} else {
			printPaymentView(os.Stdout, view)
		}
		return nil
	},
}

var orderCmd = &cobra.Command{
	Use:     "order <order-id>",
	Short:   "Show an order's fulfillment status",
	GroupID: "views",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		order, err := paymentClient.GetOrder(context.Background(), id)
		if err != nil {
			return fmt.Errorf("getting order %s: %w", id, err)
		}
		if jsonOutput {
			printJSON(order)
		} else {
			printOrder(os.Stdout, order)
		}
		return nil
	},
}
