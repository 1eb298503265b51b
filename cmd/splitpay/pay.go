package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/payment"
)

var payCmd = &cobra.Command{
	Use:     "pay --order <id> --total <minor> --alloc <amount:method:target>...",
	Short:   "Pay an order across several payment methods",
	GroupID: "payments",
	Example: `  splitpay pay --order ord-1 --total 1000 --alloc 600:card:visa-4242 --alloc 400:wallet:w-77`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		orderID, _ := cmd.Flags().GetString("order")
		total, _ := cmd.Flags().GetInt64("total")
		specs, _ := cmd.Flags().GetStringArray("alloc")

		allocs := make([]model.Allocation, 0, len(specs))
		for _, s := range specs {
			a, err := parseAllocation(s)
			if err != nil {
				return err
			}
			allocs = append(allocs, a)
		}

		res, err := paymentClient.ProcessSplitPayment(context.Background(), &payment.Request{
			OrderID:     orderID,
			Total:       total,
			Allocations: allocs,
		})
		if err != nil {
			return fmt.Errorf("processing payment for order %s: %w", orderID, err)
		}

		if jsonOutput {
			printJSON(res)
		} else {
			printResult(os.Stdout, res)
		}
		return nil
	},
}

// parseAllocation parses "amount:method:target". The target may itself
// contain colons.
func parseAllocation(s string) (model.Allocation, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return model.Allocation{}, fmt.Errorf("invalid allocation %q (want amount:method:target)", s)
	}
	amount, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return model.Allocation{}, fmt.Errorf("invalid allocation amount %q: %w", parts[0], err)
	}
	return model.Allocation{Amount: amount, Method: parts[1], Target: parts[2]}, nil
}

var webhookCmd = &cobra.Command{
	Use:     "webhook <payment-id> <provider-status>",
	Short:   "Apply a provider status notification to a pending payment",
	GroupID: "payments",
	Example: `  splitpay webhook pay-abc123 succeeded`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := paymentClient.ApplyProviderStatus(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("applying provider status to %s: %w", args[0], err)
		}
		if jsonOutput {
			printJSON(res)
		} else {
			printResult(os.Stdout, res)
		}
		return nil
	},
}

func init() {
	payCmd.Flags().String("order", "", "order ID (required)")
	payCmd.Flags().Int64("total", 0, "order total in minor currency units (required)")
	payCmd.Flags().StringArray("alloc", nil, "allocation as amount:method:target (repeatable)")
	_ = payCmd.MarkFlagRequired("order")
	_ = payCmd.MarkFlagRequired("total")
	_ = payCmd.MarkFlagRequired("alloc")
}
