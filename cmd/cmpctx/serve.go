package main

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/remiblancher/cmpctx/internal/api/server"
)

// serving is set while the serve command owns signal handling.
var serving atomic.Bool

// Serve command flags
var (
	servePort     int
	serveHost     string
	serveContexts []string
	serveTLSCert  string
	serveTLSKey   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the context administration API",
	Long: `Start the HTTP administration API for CMP contexts.

Contexts given with --context are registered at startup and may use
certificate files, keys and HSMs. Contexts created through
/api/v1/contexts must be self-contained. The API has no authentication and
listens on 127.0.0.1 unless --host says otherwise. When --audit-log is set
the log is exposed read-only under /api/v1/audit.

Environment variables:
  CMPCTX_PORT      Listen port
  CMPCTX_HOST      Host to bind to
  CMPCTX_CONTEXTS  Comma separated context configuration files
  CMPCTX_TLS_CERT  TLS certificate file
  CMPCTX_TLS_KEY   TLS private key file

Examples:
  # Serve two contexts
  cmpctx serve --context ra.yaml --context ee.yaml

  # Serve with TLS and auditing
  cmpctx serve --port 8443 --tls-cert server.crt --tls-key server.key \
    --audit-log audit.jsonl`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default: 8829)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: 127.0.0.1)")
	serveCmd.Flags().StringArrayVar(&serveContexts, "context", nil, "Context configuration file (repeatable)")
	serveCmd.Flags().StringVar(&serveTLSCert, "tls-cert", "", "TLS certificate file")
	serveCmd.Flags().StringVar(&serveTLSKey, "tls-key", "", "TLS private key file")
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeEnvVars()

	cfg := server.DefaultConfig()
	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveHost != "" {
		cfg.Host = serveHost
	}
	cfg.Contexts = serveContexts
	cfg.TLSCert = serveTLSCert
	cfg.TLSKey = serveTLSKey
	cfg.AuditLog = auditLogPath

	srv := server.New(cfg, version)
	srv.SetOutput(cmd.OutOrStdout())

	serving.Store(true)
	defer serving.Store(false)
	return srv.Start()
}

func applyServeEnvVars() {
	if servePort == 0 {
		if v := os.Getenv("CMPCTX_PORT"); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				servePort = p
			}
		}
	}
	if serveHost == "" {
		serveHost = os.Getenv("CMPCTX_HOST")
	}
	if len(serveContexts) == 0 {
		if v := os.Getenv("CMPCTX_CONTEXTS"); v != "" {
			for _, p := range strings.Split(v, ",") {
				if p = strings.TrimSpace(p); p != "" {
					serveContexts = append(serveContexts, p)
				}
			}
		}
	}
	if serveTLSCert == "" {
		serveTLSCert = os.Getenv("CMPCTX_TLS_CERT")
	}
	if serveTLSKey == "" {
		serveTLSKey = os.Getenv("CMPCTX_TLS_KEY")
	}
}
