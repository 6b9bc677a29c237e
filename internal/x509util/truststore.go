package x509util

import (
	"crypto/x509"
	"sync"
)

// TrustStore holds trust anchors used for chain building and server
// certificate validation. A store owns one reference on each anchor.
type TrustStore struct {
	mu      sync.RWMutex
	anchors []*Cert
	pool    *x509.CertPool
}

// NewTrustStore creates an empty trust store.
func NewTrustStore() *TrustStore {
	return &TrustStore{pool: x509.NewCertPool()}
}

// NewTrustStoreFromCertificates creates a store holding the given anchors.
func NewTrustStoreFromCertificates(certs []*x509.Certificate) *TrustStore {
	s := NewTrustStore()
	for _, c := range certs {
		h := NewCert(c)
		_ = s.Add(h)
		h.Free()
	}
	return s
}

// Add adds an anchor, taking a reference. Anchors already present are skipped.
func (s *TrustStore) Add(c *Cert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if Contains(s.anchors, c) {
		return nil
	}
	if err := c.UpRef(); err != nil {
		return err
	}
	s.anchors = append(s.anchors, c)
	s.pool.AddCert(c.Certificate())
	return nil
}

// Contains reports whether c is one of the anchors.
func (s *TrustStore) Contains(c *Cert) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Contains(s.anchors, c)
}

// Anchors returns the anchors without taking references.
func (s *TrustStore) Anchors() []*Cert {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Cert, len(s.anchors))
	copy(out, s.anchors)
	return out
}

// Pool returns the anchors as a certificate pool.
func (s *TrustStore) Pool() *x509.CertPool {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool
}

// Len returns the number of anchors.
func (s *TrustStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.anchors)
}

// Free drops the references held on all anchors and empties the store.
func (s *TrustStore) Free() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	FreeAll(s.anchors)
	s.anchors = nil
	s.pool = x509.NewCertPool()
}
