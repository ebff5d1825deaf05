package ui

import (
	"strings"
	"testing"

	"github.com/alfredjeanlab/extgate/internal/model"
)

func TestRenderStatus(t *testing.T) {
	noColor = false
	t.Cleanup(func() { noColor = false })

	for status, color := range map[model.Status]string{
		model.StatusPending:  "179",
		model.StatusApproved: "114",
		model.StatusRejected: "203",
	} {
		got := RenderStatus(status)
		if !strings.Contains(got, "38;5;"+color+"m"+status.String()) {
			t.Errorf("RenderStatus(%s) = %q", status, got)
		}
	}
	if got := RenderStatus("unknown"); got != "unknown" {
		t.Errorf("unknown status = %q", got)
	}
}

func TestRenderHTTPStatus(t *testing.T) {
	noColor = false
	t.Cleanup(func() { noColor = false })

	for code, color := range map[int]string{201: "114", 404: "179", 502: "203"} {
		if got := RenderHTTPStatus(code); !strings.Contains(got, "38;5;"+color+"m") {
			t.Errorf("RenderHTTPStatus(%d) = %q", code, got)
		}
	}
	if got := RenderHTTPStatus(302); got != "302" {
		t.Errorf("RenderHTTPStatus(302) = %q", got)
	}
}

func TestForceNoColor(t *testing.T) {
	t.Cleanup(func() { noColor = false })
	ForceNoColor()
	if got := RenderStatus(model.StatusApproved); got != "approved" {
		t.Errorf("RenderStatus = %q", got)
	}
	if got := RenderAccent("x"); got != "x" {
		t.Errorf("RenderAccent = %q", got)
	}
}

func TestShouldUseColor_Env(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if ShouldUseColor() {
		t.Error("NO_COLOR should disable color")
	}
	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	if !ShouldUseColor() {
		t.Error("CLICOLOR_FORCE should force color")
	}
	t.Setenv("CLICOLOR_FORCE", "")
	t.Setenv("CLICOLOR", "0")
	if ShouldUseColor() {
		t.Error("CLICOLOR=0 should disable color")
	}
}
