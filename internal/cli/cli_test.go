package cli

import (
	"strings"
	"testing"

	"github.com/remiblancher/cmpctx/internal/cmp"
)

func TestU_FormatStatus(t *testing.T) {
	tests := []struct {
		name   string
		status string
		color  string
	}{
		{"[Unit] FormatStatus: success", "success", ColorGreen},
		{"[Unit] FormatStatus: valid chain", "VALID", ColorGreen},
		{"[Unit] FormatStatus: failure", "failure", ColorRed},
		{"[Unit] FormatStatus: disabled", "disabled", ColorYellow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatStatus(tt.status)
			if !strings.HasPrefix(got, tt.color) || !strings.HasSuffix(got, ColorReset) || !strings.Contains(got, tt.status) {
				t.Errorf("FormatStatus(%q) = %q", tt.status, got)
			}
		})
	}

	if got := FormatStatus("other"); got != "other" {
		t.Errorf("FormatStatus(other) = %q", got)
	}
}

func TestU_OptionValueName(t *testing.T) {
	tests := []struct {
		name string
		opt  cmp.Option
		val  int
		want string
	}{
		{"[Unit] OptionValueName: revocation none", cmp.OptRevocationReason, -1, "none"},
		{"[Unit] OptionValueName: key compromise", cmp.OptRevocationReason, 1, "keyCompromise"},
		{"[Unit] OptionValueName: reason 7 unassigned", cmp.OptRevocationReason, 7, "unknown (7)"},
		{"[Unit] OptionValueName: popo signature", cmp.OptPopoMethod, cmp.PopoSignature, "signature"},
		{"[Unit] OptionValueName: popo raVerified", cmp.OptPopoMethod, 0, "raVerified"},
		{"[Unit] OptionValueName: verbosity", cmp.OptLogVerbosity, int(cmp.SeverityInfo), "INFO"},
		{"[Unit] OptionValueName: plain option", cmp.OptImplicitConfirm, 1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OptionValueName(tt.opt, tt.val); got != tt.want {
				t.Errorf("OptionValueName() = %q, want %q", got, tt.want)
			}
		})
	}
}
