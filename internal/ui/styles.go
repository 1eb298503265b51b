package ui

import (
	"fmt"

	"github.com/alfredjeanlab/splitpay/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorPass   = 114 // green
	colorWarn   = 221 // yellow
	colorFail   = 203 // red
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderStatus colors a payment, order or sub-transaction status by outcome:
// green when money moved, red when it did not, yellow while undecided.
func RenderStatus(status string) string {
	switch status {
	case string(model.PaymentCompleted), string(model.FulfillmentPaid):
		return render(colorPass, status)
	case string(model.PaymentFailed), string(model.FulfillmentPaymentFailed):
		return render(colorFail, status)
	case string(model.PaymentPartiallyCompleted), string(model.PaymentProcessing):
		return render(colorWarn, status)
	default:
		return render(colorMuted, status)
	}
}

// RenderAmount formats minor units as a fixed two-decimal amount.
func RenderAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
