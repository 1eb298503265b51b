package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/splitpay/internal/events"
	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/payment"
	"github.com/alfredjeanlab/splitpay/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printResult(w io.Writer, res *payment.Result) {
	fmt.Fprintf(w, "Payment:     %s\n", res.PaymentID)
	fmt.Fprintf(w, "Order:       %s (%s)\n", res.OrderID, ui.RenderStatus(string(res.FulfillmentStatus)))
	fmt.Fprintf(w, "Status:      %s\n", ui.RenderStatus(string(res.Status)))
	fmt.Fprintf(w, "Completed:   %s of %s\n", ui.RenderAmount(res.CompletedAmount), ui.RenderAmount(res.Total))
	if len(res.SubTransactions) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tAMOUNT\tMETHOD\tTARGET\tSTATUS\tDETAIL")
	for _, st := range res.SubTransactions {
		detail := st.ProviderReference
		if st.Error != "" {
			detail = st.Error
		}
		if st.RolledBack {
			detail = ui.RenderMuted("rolled back")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			st.Seq, ui.RenderAmount(st.Amount), st.Method, st.Target, ui.RenderStatus(string(st.Status)), detail)
	}
	tw.Flush()
}

func printPaymentView(w io.Writer, v *payment.PaymentView) {
	p := v.Payment
	fmt.Fprintf(w, "ID:          %s\n", p.ID)
	fmt.Fprintf(w, "Order:       %s\n", p.OrderID)
	fmt.Fprintf(w, "Status:      %s\n", ui.RenderStatus(string(p.Status)))
	fmt.Fprintf(w, "Total:       %s\n", ui.RenderAmount(p.Total))
	fmt.Fprintf(w, "Completed:   %s\n", ui.RenderAmount(v.CompletedAmount))
	if v.Order != nil {
		fmt.Fprintf(w, "Fulfillment: %s\n", ui.RenderStatus(string(v.Order.FulfillmentStatus)))
	}
	fmt.Fprintf(w, "Version:     %d\n", p.Version)
	if !p.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:  %s\n", p.CreatedAt.Format(timeLayout))
	}
	if !p.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated At:  %s\n", p.UpdatedAt.Format(timeLayout))
	}
	if len(v.SubTransactions) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sub-transactions:")
	for _, st := range v.SubTransactions {
		line := fmt.Sprintf("  [%d] %s %s via %s/%s: %s", st.Seq, st.ID, ui.RenderAmount(st.Amount), st.Method, st.Target, ui.RenderStatus(string(st.Status)))
		switch {
		case st.FailureReason != "":
			line += " (" + st.FailureReason + ")"
		case st.ProviderReference != "":
			line += " " + ui.RenderMuted(st.ProviderReference)
		}
		fmt.Fprintln(w, line)
	}
}

func printOrder(w io.Writer, o *model.Order) {
	fmt.Fprintf(w, "ID:          %s\n", o.ID)
	fmt.Fprintf(w, "Fulfillment: %s\n", ui.RenderStatus(string(o.FulfillmentStatus)))
	if o.PaymentID != "" {
		fmt.Fprintf(w, "Payment:     %s\n", o.PaymentID)
	}
	fmt.Fprintf(w, "Version:     %d\n", o.Version)
	if !o.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated At:  %s\n", o.UpdatedAt.Format(timeLayout))
	}
}

func printPaymentList(w io.Writer, payments []*model.Payment, total int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tORDER\tSTATUS\tTOTAL\tUPDATED")
	for _, p := range payments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.OrderID, ui.RenderStatus(string(p.Status)), ui.RenderAmount(p.Total), p.UpdatedAt.Format(timeLayout))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d payments (%d total)\n", len(payments), total)
}

func printMessage(w io.Writer, m events.Message) {
	ts := m.EmittedAt.Local().Format(time.TimeOnly)
	line := fmt.Sprintf("%s %s %s", ui.RenderMuted(ts), m.PaymentID, ui.RenderStatus(m.Status))
	if len(m.Details) > 0 {
		if data, err := json.Marshal(m.Details); err == nil {
			line += " " + ui.RenderMuted(string(data))
		}
	}
	fmt.Fprintln(w, line)
}
