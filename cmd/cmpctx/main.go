// Command cmpctx inspects, checks and serves CMP client contexts.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/remiblancher/cmpctx/internal/audit"
	"github.com/remiblancher/cmpctx/internal/cmp"
	"github.com/remiblancher/cmpctx/internal/crypto"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	auditLogPath string
	envFile      string
	verbosity    string
)

func main() {
	// Setup signal handler for clean PKCS#11 shutdown
	setupSignalHandler()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		crypto.CloseAllPools() // Cleanup PKCS#11 before exit
		os.Exit(1)
	}

	// Cleanup PKCS#11 session pools on normal exit
	crypto.CloseAllPools()
}

// setupSignalHandler releases PKCS#11 sessions on SIGINT/SIGTERM. The serve
// command installs its own handler for graceful shutdown.
func setupSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		if serving.Load() {
			return
		}
		crypto.CloseAllPools()
		os.Exit(0)
	}()
}

var rootCmd = &cobra.Command{
	Use:   "cmpctx",
	Short: "CMP client context toolkit",
	Long: `cmpctx manages the configuration of Certificate Management Protocol
(CMP, RFC 4210) client contexts: server location, names, credentials, trust
anchors, certificate template and protocol options.

A context is described by a YAML file and can be checked, exported as a
(optionally COSE-signed) snapshot, or served over an administration API.

Examples:
  # Check a context configuration
  cmpctx check --config client.yaml

  # List options with their defaults and ranges
  cmpctx options

  # Generate a new key for the certificate request
  cmpctx key gen --algorithm ml-dsa-65 --out new.key

  # Export a signed snapshot of the context
  cmpctx snapshot export --config client.yaml --out client.snap --sign

  # Serve contexts over HTTP
  cmpctx serve --context client.yaml --audit-log audit.jsonl`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cmp.ParseSeverity(verbosity); err != nil {
			return fmt.Errorf("invalid --verbosity: %w", err)
		}

		// Variables already set in the environment win over the file.
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("failed to load env file: %w", err)
			}
		}

		// Check for audit log path from environment if not set via flag
		if auditLogPath == "" {
			auditLogPath = os.Getenv("CMPCTX_AUDIT_LOG")
		}

		// Initialize audit logging
		if auditLogPath != "" {
			if err := audit.InitFile(auditLogPath); err != nil {
				return fmt.Errorf("failed to initialize audit log: %w", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Close audit log
		return audit.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "",
		"Path to audit log file (or set CMPCTX_AUDIT_LOG env var)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "",
		"Load CMPCTX_* settings and env: passphrases from a dotenv file")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info",
		"Log level: error, warn, info, debug, trace")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(optionsCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(auditCmd)
}

// newLogger returns a leveled logger writing to the command's error
// stream at the --verbosity level.
func newLogger(cmd *cobra.Command, scope string) logging.LeveledLogger {
	level, err := cmp.ParseSeverity(verbosity)
	if err != nil {
		level = cmp.SeverityInfo
	}
	factory := logging.NewDefaultLoggerFactory()
	factory.Writer = cmd.ErrOrStderr()
	factory.DefaultLogLevel = cmp.LevelFor(level)
	return factory.NewLogger(scope)
}
