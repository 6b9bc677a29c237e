package x509util

import (
	"crypto/x509"
	"fmt"
)

// UpRefAll returns a new slice holding one additional reference on every
// element. If any reference cannot be taken, the references already taken
// are dropped again and the error is returned. A nil input yields nil.
func UpRefAll(certs []*Cert) ([]*Cert, error) {
	if certs == nil {
		return nil, nil
	}
	out := make([]*Cert, 0, len(certs))
	for i, c := range certs {
		if err := c.UpRef(); err != nil {
			FreeAll(out)
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// FreeAll drops one reference on every element.
func FreeAll(certs []*Cert) {
	for _, c := range certs {
		c.Free()
	}
}

// Contains reports whether list holds a certificate equal to c.
func Contains(list []*Cert, c *Cert) bool {
	for _, e := range list {
		if e.Equal(c) {
			return true
		}
	}
	return false
}

// AddCert appends c to list, taking a reference. With noDup set, a
// certificate already present is skipped.
func AddCert(list []*Cert, c *Cert, noDup bool) ([]*Cert, error) {
	if noDup && Contains(list, c) {
		return list, nil
	}
	if err := c.UpRef(); err != nil {
		return list, err
	}
	return append(list, c), nil
}

// AddCerts appends every element of certs to list as AddCert does. On
// failure the list is returned unchanged and any references taken by this
// call are dropped.
func AddCerts(list []*Cert, certs []*Cert, noDup bool) ([]*Cert, error) {
	n := len(list)
	out := list
	for _, c := range certs {
		var err error
		out, err = AddCert(out, c, noDup)
		if err != nil {
			FreeAll(out[n:])
			return list[:n], err
		}
	}
	return out, nil
}

// Dedup returns list with repeated certificates removed, dropping the
// reference held by each removed duplicate.
func Dedup(list []*Cert) []*Cert {
	out := list[:0]
	for _, c := range list {
		if Contains(out, c) {
			c.Free()
			continue
		}
		out = append(out, c)
	}
	return out
}

// Certificates returns the parsed certificates of the handles.
func Certificates(list []*Cert) []*x509.Certificate {
	out := make([]*x509.Certificate, 0, len(list))
	for _, c := range list {
		out = append(out, c.Certificate())
	}
	return out
}

// WrapAll wraps parsed certificates into fresh handles.
func WrapAll(certs []*x509.Certificate) []*Cert {
	out := make([]*Cert, 0, len(certs))
	for _, c := range certs {
		out = append(out, NewCert(c))
	}
	return out
}
