package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/remiblancher/cmpctx/internal/audit"
	"github.com/remiblancher/cmpctx/internal/cli"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log management",
	Long: `Commands for managing and verifying audit logs.

The audit log provides a tamper-evident record of context operations:
creation, credential loading, option changes and snapshot exports.
Each event is cryptographically chained using SHA-256 hashes.

Examples:
  # Verify audit log integrity
  cmpctx audit verify --log /var/log/cmpctx/audit.jsonl

  # Show last 10 events
  cmpctx audit tail --log /var/log/cmpctx/audit.jsonl -n 10`,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log integrity",
	Long: `Verify the cryptographic hash chain of an audit log file.

Each event in the log contains:
  - hash_prev: SHA-256 hash of the previous event
  - hash: SHA-256 hash of the current event

The chain starts with hash_prev="sha256:genesis" for the first event.`,
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit events",
	Long:  `Display the most recent audit events from the log file.`,
	RunE:  runAuditTail,
}

var (
	auditLogFile  string
	auditTailNum  int
	auditShowJSON bool
	auditType     string
)

func init() {
	auditVerifyCmd.Flags().StringVar(&auditLogFile, "log", "", "Path to audit log file (required)")
	_ = auditVerifyCmd.MarkFlagRequired("log")

	auditTailCmd.Flags().StringVar(&auditLogFile, "log", "", "Path to audit log file (required)")
	_ = auditTailCmd.MarkFlagRequired("log")
	auditTailCmd.Flags().IntVarP(&auditTailNum, "num", "n", 10, "Number of events to show")
	auditTailCmd.Flags().BoolVar(&auditShowJSON, "json", false, "Output as JSON")
	auditTailCmd.Flags().StringVar(&auditType, "type", "", "Only show events of this type (e.g. OPTION_CHANGED)")

	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Verifying audit log: %s\n\n", auditLogFile)

	count, err := audit.VerifyChain(auditLogFile)
	if err != nil {
		fmt.Fprintf(out, "VERIFICATION %s\n", cli.FormatStatus("FAILED"))
		fmt.Fprintf(out, "  Valid events: %d\n", count)
		fmt.Fprintf(out, "  Error: %s\n", err)
		return fmt.Errorf("audit log verification failed: %w", err)
	}

	fmt.Fprintf(out, "VERIFICATION %s\n", cli.FormatStatus("PASSED"))
	fmt.Fprintf(out, "  Total events: %d\n", count)
	fmt.Fprintf(out, "  Hash chain: %s\n", cli.FormatStatus("VALID"))
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	events, err := audit.ReadEvents(auditLogFile)
	if err != nil {
		return err
	}
	if auditType != "" {
		filtered := events[:0]
		for _, e := range events {
			if string(e.EventType) == auditType {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "Audit log is empty")
		return nil
	}

	if len(events) > auditTailNum {
		events = events[len(events)-auditTailNum:]
	}

	if auditShowJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	for _, e := range events {
		printEvent(out, e)
	}
	return nil
}

func printEvent(out io.Writer, e *audit.Event) {
	resultIcon := "✓"
	if e.Result == audit.ResultFailure {
		resultIcon = "✗"
	}

	fmt.Fprintf(out, "[%s] %s %s (%s)\n", e.Timestamp, resultIcon, e.EventType, cli.FormatStatus(string(e.Result)))
	fmt.Fprintf(out, "    Actor:  %s@%s\n", e.Actor.ID, e.Actor.Host)

	if e.Object.Type != "" {
		fmt.Fprintf(out, "    Object: %s", e.Object.Type)
		if e.Object.ID != "" {
			fmt.Fprintf(out, " id=%s", e.Object.ID)
		}
		if e.Object.Subject != "" {
			fmt.Fprintf(out, " subject=%s", e.Object.Subject)
		}
		if e.Object.Path != "" {
			fmt.Fprintf(out, " path=%s", e.Object.Path)
		}
		fmt.Fprintln(out)
	}

	d := e.Details
	if d.Option != "" || d.Value != nil || d.Algorithm != "" || d.Count != 0 || d.Reason != "" {
		fmt.Fprint(out, "    Details:")
		if d.Option != "" {
			fmt.Fprintf(out, " option=%s", d.Option)
		}
		if d.Value != nil {
			fmt.Fprintf(out, " value=%d", *d.Value)
		}
		if d.Algorithm != "" {
			fmt.Fprintf(out, " algorithm=%s", d.Algorithm)
		}
		if d.Count != 0 {
			fmt.Fprintf(out, " count=%d", d.Count)
		}
		if d.Reason != "" {
			fmt.Fprintf(out, " reason=%s", d.Reason)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out)
}
