package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/alfredjeanlab/extgate/internal/ui"
	"github.com/spf13/cobra"
)

// Patterns used to colorize Cobra's default help output.
var (
	// Section headers such as "Review:" or "Flags:".
	reGroupHeader = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// Command names: two-space indent, a word, then two or more spaces.
	reCommand = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)

	// Flag type annotations: e.g. "--url string", "--interval duration".
	reFlagType = regexp.MustCompile(`(--?\S+\s+)(string|int|duration|stringArray|stringToString)`)

	reDefault = regexp.MustCompile(`\(default "[^"]*"\)`)
)

// colorizedHelpFunc post-processes cobra's help text with ANSI colors when
// the terminal supports it.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		if !ui.ShouldUseColor() {
			cmd.SetOut(cmd.OutOrStdout())
			_ = cmd.Usage()
			return
		}

		orig := cmd.OutOrStdout()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(orig)

		fmt.Fprint(orig, colorizeHelpOutput(buf.String()))
	}
}

func colorizeHelpOutput(s string) string {
	s = reGroupHeader.ReplaceAllStringFunc(s, func(match string) string {
		return ui.RenderAccent(strings.TrimSpace(match))
	})
	s = reCommand.ReplaceAllStringFunc(s, func(match string) string {
		parts := reCommand.FindStringSubmatch(match)
		return parts[1] + ui.RenderCommand(parts[2]) + parts[3]
	})
	s = reFlagType.ReplaceAllStringFunc(s, func(match string) string {
		parts := reFlagType.FindStringSubmatch(match)
		return parts[1] + ui.RenderMuted(parts[2])
	})
	return reDefault.ReplaceAllStringFunc(s, ui.RenderMuted)
}
