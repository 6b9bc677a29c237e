package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/remiblancher/cmpctx/internal/api/router"
	"github.com/remiblancher/cmpctx/internal/api/service"
)

// Server represents the HTTP server.
type Server struct {
	cfg      *Config
	version  string
	contexts *service.ContextService
	srv      *http.Server
	out      io.Writer
}

// New creates a new Server.
func New(cfg *Config, version string) *Server {
	return &Server{
		cfg:      cfg,
		version:  version,
		contexts: service.NewContextService(),
		out:      os.Stdout,
	}
}

// SetOutput redirects the startup banner.
func (s *Server) SetOutput(w io.Writer) {
	s.out = w
}

// Contexts returns the context registry served by s.
func (s *Server) Contexts() *service.ContextService {
	return s.contexts
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return router.New(&router.Config{
		Version:   s.version,
		Contexts:  s.contexts,
		AuditPath: s.cfg.AuditLog,
	})
}

// LoadContexts registers every configured context file.
func (s *Server) LoadContexts(ctx context.Context) error {
	for _, path := range s.cfg.Contexts {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read context config: %w", err)
		}
		resp, err := s.contexts.Register(ctx, data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		log.Printf("registered context %s from %s", resp.ID, path)
	}
	return nil
}

// Start starts the HTTP server and blocks until a shutdown signal.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is done or the listener fails, then shuts down
// gracefully and releases every registered context.
func (s *Server) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	defer s.contexts.Close()

	if err := s.LoadContexts(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.printStartupInfo(ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if s.cfg.TLSEnabled() {
			errChan <- s.srv.ServeTLS(ln, s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			errChan <- s.srv.Serve(ln)
		}
	}()

	select {
	case err := <-errChan:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Printf("Shutting down...")
		return s.shutdown()
	}
}

// shutdown gracefully stops the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	log.Println("Server stopped gracefully")
	return nil
}

// printStartupInfo prints server startup information.
func (s *Server) printStartupInfo(addr string) {
	scheme := "http"
	if s.cfg.TLSEnabled() {
		scheme = "https"
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "CMP Context API Server")
	fmt.Fprintln(s.out, "======================")
	fmt.Fprintf(s.out, "  Version:  %s\n", s.version)
	fmt.Fprintf(s.out, "  Address:  %s://%s\n", scheme, addr)
	fmt.Fprintf(s.out, "  Contexts: %d\n", s.contexts.Len())
	if s.cfg.AuditLog != "" {
		fmt.Fprintf(s.out, "  Audit:    %s\n", s.cfg.AuditLog)
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "Endpoints:")
	fmt.Fprintln(s.out, "  GET  /health                        - Health check")
	fmt.Fprintln(s.out, "  GET  /ready                         - Readiness check")
	fmt.Fprintln(s.out, "  GET  /api/openapi.yaml              - OpenAPI specification")
	fmt.Fprintln(s.out, "  *    /api/v1/contexts/*             - Context administration")
	fmt.Fprintln(s.out, "  *    /api/v1/audit/*                - Audit log")
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "Use Ctrl+C to stop")
	fmt.Fprintln(s.out)
}
