package x509util

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"sync/atomic"
)

// Cert is a shared handle on a parsed certificate.
//
// A handle starts with one reference. Every holder that keeps the handle
// beyond a call takes its own reference with UpRef and drops it with Free.
// Reference counting is atomic so handles may be shared between
// goroutines; the certificate itself is immutable.
type Cert struct {
	cert *x509.Certificate
	refs atomic.Int32
}

// NewCert wraps a parsed certificate in a handle holding one reference.
func NewCert(c *x509.Certificate) *Cert {
	h := &Cert{cert: c}
	h.refs.Store(1)
	return h
}

// ParseCert parses a DER certificate into a new handle.
func ParseCert(der []byte) (*Cert, error) {
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return NewCert(c), nil
}

// Certificate returns the underlying certificate.
func (c *Cert) Certificate() *x509.Certificate {
	if c == nil {
		return nil
	}
	return c.cert
}

// UpRef takes an additional reference on the handle.
func (c *Cert) UpRef() error {
	if c == nil {
		return ErrReleased
	}
	for {
		n := c.refs.Load()
		if n <= 0 {
			return ErrReleased
		}
		if c.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Free drops one reference. Freeing a nil or fully released handle is a no-op.
func (c *Cert) Free() {
	if c == nil {
		return
	}
	for {
		n := c.refs.Load()
		if n <= 0 {
			return
		}
		if c.refs.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// RefCount returns the current number of references.
func (c *Cert) RefCount() int {
	if c == nil {
		return 0
	}
	return int(c.refs.Load())
}

// Check performs a structural sanity check: the handle must be live and
// its encoding must re-parse into the same certificate.
func (c *Cert) Check() error {
	if c == nil || c.cert == nil || len(c.cert.Raw) == 0 {
		return ErrInvalidCertificate
	}
	if c.RefCount() <= 0 {
		return ErrReleased
	}
	reparsed, err := x509.ParseCertificate(c.cert.Raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if !bytes.Equal(reparsed.RawTBSCertificate, c.cert.RawTBSCertificate) {
		return ErrInvalidCertificate
	}
	return nil
}

// Equal reports whether both handles carry the same encoded certificate.
func (c *Cert) Equal(o *Cert) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.cert.Equal(o.cert)
}

// IsSelfSigned reports whether the certificate is issued by itself and
// its signature verifies under its own key.
func (c *Cert) IsSelfSigned() bool {
	cert := c.Certificate()
	if cert == nil || !bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		return false
	}
	return cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}

// String returns the subject for diagnostics.
func (c *Cert) String() string {
	if c.Certificate() == nil {
		return "<nil>"
	}
	return c.cert.Subject.String()
}
