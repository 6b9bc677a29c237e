// Package service provides business logic for the REST API.
package service

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remiblancher/cmpctx/internal/api/dto"
	"github.com/remiblancher/cmpctx/internal/audit"
	"github.com/remiblancher/cmpctx/internal/cmp"
	"github.com/remiblancher/cmpctx/internal/config"
	pkicrypto "github.com/remiblancher/cmpctx/internal/crypto"
	"github.com/remiblancher/cmpctx/internal/snapshot"
	"github.com/remiblancher/cmpctx/internal/x509util"
)

var (
	// ErrContextNotFound indicates an unknown context identifier.
	ErrContextNotFound = errors.New("context not found")

	// ErrContextClosed indicates a context released while the request
	// was waiting for it.
	ErrContextClosed = errors.New("context closed")
)

// entry is one registered context. mu serializes every use of ctx.
type entry struct {
	mu      sync.Mutex
	id      string
	created time.Time
	ctx     *cmp.Context
	release func()
	closed  bool
}

// ContextService keeps a registry of CMP contexts addressed by UUID.
type ContextService struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewContextService creates an empty registry.
func NewContextService() *ContextService {
	return &ContextService{entries: make(map[string]*entry)}
}

// Len returns the number of registered contexts.
func (s *ContextService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *ContextService) register(c *cmp.Context, id string, release func()) *entry {
	e := &entry{id: id, created: time.Now().UTC(), ctx: c, release: release}
	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()
	return e
}

// with runs fn while holding the context of id.
func (s *ContextService) with(id string, fn func(e *entry) error) error {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrContextNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("%w: %s", ErrContextClosed, id)
	}
	return fn(e)
}

// Create parses a YAML (or JSON) context configuration received from a
// client and registers a new context built from it. The configuration must
// be self-contained: file, environment and HSM references are refused.
func (s *ContextService) Create(ctx context.Context, data []byte) (*dto.ContextResponse, error) {
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.CheckInline(); err != nil {
		return nil, err
	}
	return s.create(cfg)
}

// Register registers a context from operator supplied configuration, such
// as the files given to the server at startup. Host resources are allowed.
func (s *ContextService) Register(ctx context.Context, data []byte) (*dto.ContextResponse, error) {
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, err
	}
	return s.create(cfg)
}

func (s *ContextService) create(cfg *config.Config) (*dto.ContextResponse, error) {
	id := uuid.NewString()
	c, release, err := config.NewContext(cfg, id)
	if err != nil {
		return nil, err
	}
	e := s.register(c, id, release)

	var resp *dto.ContextResponse
	err = s.with(e.id, func(e *entry) error {
		resp = describe(e)
		return nil
	})
	return resp, err
}

// Restore registers a new context from a snapshot. A sealed snapshot is
// verified under cert.
func (s *ContextService) Restore(ctx context.Context, data []byte, cert *x509.Certificate) (*dto.ContextResponse, error) {
	var snap *snapshot.Snapshot
	var err error
	if snapshot.IsSealed(data) {
		if cert == nil {
			return nil, fmt.Errorf("%w: sealed snapshot requires a certificate", cmp.ErrNullArgument)
		}
		var sealed *snapshot.Sealed
		if sealed, err = snapshot.OpenWithCertificate(data, cert); err != nil {
			return nil, err
		}
		snap = sealed.Snapshot
	} else if snap, err = snapshot.Unmarshal(data); err != nil {
		return nil, err
	}

	c, err := cmp.New(nil, snap.PropertyQuery)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	if err := audit.LogContextCreated(id, snap.PropertyQuery); err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := snap.Restore(c); err != nil {
		_ = c.Close()
		_ = audit.LogContextClosed(id)
		return nil, err
	}
	release := func() {
		_ = c.Close()
		_ = audit.LogContextClosed(id)
	}
	e := s.register(c, id, release)

	var resp *dto.ContextResponse
	err = s.with(e.id, func(e *entry) error {
		resp = describe(e)
		return nil
	})
	return resp, err
}

// List returns the registered contexts, oldest first.
func (s *ContextService) List(ctx context.Context, pagination *dto.PaginationRequest) (*dto.ContextListResponse, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].created.Equal(entries[j].created) {
			return entries[i].id < entries[j].id
		}
		return entries[i].created.Before(entries[j].created)
	})

	var p dto.PaginationRequest
	if pagination != nil {
		p = *pagination
	}
	start, end, page := dto.Paginate(p, len(entries))

	items := make([]dto.ContextListItem, 0, end-start)
	for _, e := range entries[start:end] {
		e.mu.Lock()
		if !e.closed {
			items = append(items, dto.ContextListItem{
				ID:        e.id,
				CreatedAt: e.created.Format(time.RFC3339),
				Server:    e.ctx.Server(),
			})
		}
		e.mu.Unlock()
	}
	return &dto.ContextListResponse{Contexts: items, Pagination: page}, nil
}

// Get describes one context.
func (s *ContextService) Get(ctx context.Context, id string) (*dto.ContextResponse, error) {
	var resp *dto.ContextResponse
	err := s.with(id, func(e *entry) error {
		resp = describe(e)
		return nil
	})
	return resp, err
}

// GetOption returns the value and range of one option.
func (s *ContextService) GetOption(ctx context.Context, id, name string) (*dto.OptionResponse, error) {
	opt, err := cmp.ParseOption(name)
	if err != nil {
		return nil, err
	}
	var resp *dto.OptionResponse
	err = s.with(id, func(e *entry) error {
		v, err := e.ctx.Option(opt)
		if err != nil {
			return err
		}
		resp = optionResponse(opt, v)
		return nil
	})
	return resp, err
}

// SetOption changes one option. Every attempt on an existing context is
// audited, including rejected values.
func (s *ContextService) SetOption(ctx context.Context, id, name string, value int) (*dto.OptionResponse, error) {
	opt, err := cmp.ParseOption(name)
	if err != nil {
		return nil, err
	}
	var resp *dto.OptionResponse
	err = s.with(id, func(e *entry) error {
		if err := e.ctx.SetOption(opt, value); err != nil {
			if aerr := audit.LogOptionChanged(id, opt.String(), value, false, err.Error()); aerr != nil {
				return aerr
			}
			return err
		}
		if err := audit.LogOptionChanged(id, opt.String(), value, true, ""); err != nil {
			return err
		}
		v, err := e.ctx.Option(opt)
		if err != nil {
			return err
		}
		resp = optionResponse(opt, v)
		return nil
	})
	return resp, err
}

func optionResponse(opt cmp.Option, v int) *dto.OptionResponse {
	resp := &dto.OptionResponse{Name: opt.String(), Value: v}
	if min, max, hasMax, err := opt.Range(); err == nil {
		resp.Min = min
		if hasMax {
			resp.Max = &max
		}
	}
	return resp
}

// Reinit resets the transaction state of a context.
func (s *ContextService) Reinit(ctx context.Context, id string) (*dto.ContextResponse, error) {
	var resp *dto.ContextResponse
	err := s.with(id, func(e *entry) error {
		if err := e.ctx.Reinit(); err != nil {
			return err
		}
		if err := audit.LogContextReinit(id); err != nil {
			return err
		}
		resp = describe(e)
		return nil
	})
	return resp, err
}

// Snapshot exports the durable configuration of a context as CBOR. With
// seal set, the snapshot is signed with the context's own key and the
// algorithm name is returned.
func (s *ContextService) Snapshot(ctx context.Context, id string, seal bool) ([]byte, string, error) {
	var data []byte
	algorithm := "none"
	err := s.with(id, func(e *entry) error {
		snap, err := snapshot.Take(e.ctx)
		if err != nil {
			return err
		}
		if !seal {
			if data, err = snap.Marshal(); err != nil {
				return err
			}
			return audit.LogSnapshotExported(id, "", algorithm)
		}

		key := e.ctx.PrivateKey()
		if key == nil {
			return fmt.Errorf("%w: context has no private key to seal with", cmp.ErrNullArgument)
		}
		var cert *x509.Certificate
		if c := e.ctx.Cert(); c != nil {
			cert = c.Certificate()
		}
		alg, err := snapshot.AlgorithmFromKey(key.Public())
		if err != nil {
			return err
		}
		if data, err = snap.Seal(key, cert); err != nil {
			return err
		}
		algorithm = snapshot.AlgorithmName(alg)
		return audit.LogSnapshotExported(id, "", algorithm)
	})
	return data, algorithm, err
}

// Delete releases a context and removes it from the registry.
func (s *ContextService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrContextNotFound, id)
	}
	closeEntry(e)
	return nil
}

// Close releases every registered context.
func (s *ContextService) Close() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range entries {
		closeEntry(e)
	}
}

func closeEntry(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.release()
}

// describe renders the state of e. The caller holds e.mu.
func describe(e *entry) *dto.ContextResponse {
	c := e.ctx
	resp := &dto.ContextResponse{
		ID:            e.id,
		CreatedAt:     e.created.Format(time.RFC3339),
		PropertyQuery: c.PropertyQuery(),
		Server: dto.ServerInfo{
			Host:    c.Server(),
			Port:    c.ServerPort(),
			Path:    c.ServerPath(),
			Proxy:   c.Proxy(),
			NoProxy: c.NoProxy(),
		},
		Recipient:      nameString(c.Recipient()),
		ExpectedSender: nameString(c.ExpectedSender()),
		Issuer:         nameString(c.Issuer()),
		Subject:        nameString(c.SubjectName()),
		Untrusted:      len(c.Untrusted()),
		HasPrivateKey:  c.PrivateKey() != nil,
		HasSecret:      c.HasSecretValue(),
		NewKeyPrivate:  c.NewKeyIsPrivate(),
		ReferenceValue: len(c.ReferenceValue()) > 0,
		Status:         c.Status().String(),
		FailInfo:       c.FailInfo(),
		Options:        c.OptionValues(),
	}

	if cert := c.Cert(); cert != nil {
		resp.Cert = cert.String()
	}
	if cert := c.ServerCert(); cert != nil {
		resp.ServerCert = cert.String()
	}
	if cert := c.OldCert(); cert != nil {
		resp.OldCert = cert.String()
	}
	for _, cert := range c.Chain() {
		resp.Chain = append(resp.Chain, cert.String())
	}
	if store := c.Trusted(); store != nil {
		resp.TrustAnchors = store.Len()
	}
	if extra, err := c.ExtraCertsOut(); err == nil {
		resp.ExtraCertsOut = len(extra)
		x509util.FreeAll(extra)
	}

	for _, gn := range c.SubjectAltNames() {
		resp.SubjectAltNames = append(resp.SubjectAltNames, gn.String())
	}
	for _, p := range c.Policies() {
		resp.Policies = append(resp.Policies, p.Policy.String())
	}
	if sn := c.SerialNumber(); sn != nil {
		resp.SerialNumber = sn.String()
	}

	iterations, saltLen := c.PBMParameters()
	resp.PBM = dto.PBMInfo{
		Iterations: iterations,
		SaltLength: saltLen,
		OWF:        pkicrypto.DigestName(c.PBMOWF()),
		MAC:        pkicrypto.DigestName(c.PBMMAC()),
	}
	return resp
}

func nameString(n *pkix.Name) string {
	if n == nil {
		return ""
	}
	return n.String()
}
