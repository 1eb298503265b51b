package main

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/splitpay/internal/ui"
)

// helpRule rewrites the submatches of one pattern in Cobra's help text.
type helpRule struct {
	re     *regexp.Regexp
	render func(parts []string) string
}

var helpRules = []helpRule{
	// Section headers: "Payments:", "Flags:". Usage is left alone.
	{regexp.MustCompile(`(?m)^([A-Z][^\n]*:)[ \t]*$`), func(p []string) string {
		if p[1] == "Usage:" {
			return p[0]
		}
		return ui.RenderAccent(p[1])
	}},
	// Command names: two-space indent, name, two or more spaces.
	{regexp.MustCompile(`(?m)^(  )([a-z]\S*)(  )`), func(p []string) string {
		return p[1] + ui.RenderCommand(p[2]) + p[3]
	}},
	// Flag types: "--order string", "--total int64".
	{regexp.MustCompile(`(--?\S+\s+)(string|int|int64|duration|stringArray|stringSlice)\b`), func(p []string) string {
		return p[1] + ui.RenderMuted(p[2])
	}},
	{regexp.MustCompile(`\(default "[^"]*"\)`), func(p []string) string {
		return ui.RenderMuted(p[0])
	}},
	// Example invocations.
	{regexp.MustCompile(`(?m)^(  )(splitpay .*)$`), func(p []string) string {
		return p[1] + ui.RenderMuted(p[2])
	}},
}

// colorizedHelpFunc returns a Cobra help function that styles the default
// usage text when stdout supports color.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		orig := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}

		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(orig)
		fmt.Fprint(orig, colorizeHelpOutput(buf.String()))
	}
}

func colorizeHelpOutput(s string) string {
	for _, r := range helpRules {
		s = r.re.ReplaceAllStringFunc(s, func(match string) string {
			return r.render(r.re.FindStringSubmatch(match))
		})
	}
	return s
}
