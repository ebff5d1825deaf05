package ui

import (
	"fmt"

	"github.com/alfredjeanlab/extgate/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 179 // amber
	colorFail   = 203 // red
)

var noColor bool

func paint(color int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderStatus colors a review item status: pending amber, approved green,
// rejected red.
func RenderStatus(s model.Status) string {
	switch s {
	case model.StatusPending:
		return paint(colorWarn, s.String())
	case model.StatusApproved:
		return paint(colorOK, s.String())
	case model.StatusRejected:
		return paint(colorFail, s.String())
	default:
		return s.String()
	}
}

// RenderHTTPStatus colors an HTTP status code by class.
func RenderHTTPStatus(code int) string {
	s := fmt.Sprintf("%d", code)
	switch {
	case code >= 500:
		return paint(colorFail, s)
	case code >= 400:
		return paint(colorWarn, s)
	case code >= 200 && code < 300:
		return paint(colorOK, s)
	default:
		return s
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
