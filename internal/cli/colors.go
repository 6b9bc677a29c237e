// Package cli holds presentation helpers shared by the cmpctx commands.
package cli

// ANSI color codes for terminal output.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
)

// FormatStatus returns a colored status string. Unknown statuses are
// returned unchanged.
func FormatStatus(status string) string {
	switch status {
	case "valid", "success", "PASSED", "VALID":
		return ColorGreen + status + ColorReset
	case "invalid", "failure", "FAILED", "INVALID":
		return ColorRed + status + ColorReset
	case "disabled", "none":
		return ColorYellow + status + ColorReset
	default:
		return status
	}
}
