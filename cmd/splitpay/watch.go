package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/splitpay/internal/events"
)

var watchCmd = &cobra.Command{
	Use:     "watch [payment-id]",
	Short:   "Stream payment status changes",
	GroupID: "views",
	Long: `Stream payment status changes as they happen.

By default the command subscribes to the server's live stream (SSE over HTTP,
or WatchStatus over gRPC). With --nats it reads the status bus directly.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var paymentID string
		if len(args) == 1 {
			paymentID = args[0]
		}
		natsURL, _ := cmd.Flags().GetString("nats")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		emit := func(m events.Message) error {
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(m)
			}
			printMessage(os.Stdout, m)
			return nil
		}

		if natsURL != "" {
			return watchNATS(ctx, natsURL, paymentID, emit)
		}
		if err := paymentClient.WatchStatus(ctx, paymentID, emit); err != nil {
			return fmt.Errorf("watching status: %w", err)
		}
		return nil
	},
}

// watchNATS reads status messages from the bus until ctx is done.
func watchNATS(ctx context.Context, natsURL, paymentID string, fn func(events.Message) error) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(events.TopicAllStatus)
	if err != nil {
		return fmt.Errorf("subscribing to status events: %w", err)
	}
	defer cancel()

	return relayMessages(ctx, ch, paymentID, fn, os.Stderr)
}

// relayMessages decodes bus payloads and hands those matching paymentID (or
// all, when empty) to fn. Undecodable payloads are reported to errw and
// skipped.
func relayMessages(ctx context.Context, ch <-chan []byte, paymentID string, fn func(events.Message) error, errw io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var m events.Message
			if err := json.Unmarshal(data, &m); err != nil {
				fmt.Fprintf(errw, "skipping malformed status event: %v\n", err)
				continue
			}
			if m.Type != events.TypePaymentStatus {
				continue
			}
			if paymentID != "" && m.PaymentID != paymentID {
				continue
			}
			if err := fn(m); err != nil {
				return err
			}
		}
	}
}

func init() {
	watchCmd.Flags().String("nats", os.Getenv("SPLITPAY_NATS_URL"), "read status events from this NATS server instead of the API")
}
