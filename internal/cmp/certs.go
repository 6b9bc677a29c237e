package cmp

import (
	"github.com/remiblancher/cmpctx/internal/x509util"
)

// =============================================================================
// Shared certificates (share by reference)
// =============================================================================

// setShared replaces *dst with a new reference on cert. The certificate is
// sanity checked first; on any failure *dst is left unchanged.
func (c *Context) setShared(op string, dst **x509util.Cert, cert *x509util.Cert) error {
	if cert != nil {
		if err := cert.Check(); err != nil {
			return c.fail(op, ErrPotentiallyInvalidCertificate, err)
		}
		if err := cert.UpRef(); err != nil {
			return c.fail(op, ErrPotentiallyInvalidCertificate, err)
		}
	}
	(*dst).Free()
	*dst = cert
	return nil
}

// SetServerCert pins the server certificate trusted directly, even if
// expired, for verifying responses. Nil clears it.
func (c *Context) SetServerCert(cert *x509util.Cert) error {
	if c == nil {
		return nullArg("SetServerCert")
	}
	return c.setShared("SetServerCert", &c.srvCert, cert)
}

// SetValidatedServerCert records the server certificate validated in the
// current transaction.
func (c *Context) SetValidatedServerCert(cert *x509util.Cert) error {
	if c == nil {
		return nullArg("SetValidatedServerCert")
	}
	return c.setShared("SetValidatedServerCert", &c.validatedSrvCert, cert)
}

// SetCert sets the own (signer) certificate.
func (c *Context) SetCert(cert *x509util.Cert) error {
	if c == nil {
		return nullArg("SetCert")
	}
	return c.setShared("SetCert", &c.cert, cert)
}

// SetOldCert sets the certificate to update (KUR) or revoke (RR). It is
// also the reference certificate for default subject and SANs.
func (c *Context) SetOldCert(cert *x509util.Cert) error {
	if c == nil {
		return nullArg("SetOldCert")
	}
	return c.setShared("SetOldCert", &c.oldCert, cert)
}

// The getters below do not take a reference; callers that keep the
// handle beyond the context's use must UpRef it.

func (c *Context) ServerCert() *x509util.Cert {
	if c == nil {
		return nil
	}
	return c.srvCert
}

func (c *Context) ValidatedServerCert() *x509util.Cert {
	if c == nil {
		return nil
	}
	return c.validatedSrvCert
}

func (c *Context) Cert() *x509util.Cert {
	if c == nil {
		return nil
	}
	return c.cert
}

func (c *Context) OldCert() *x509util.Cert {
	if c == nil {
		return nil
	}
	return c.oldCert
}

// SetNewCert takes the caller's reference on the newly enrolled certificate.
func (c *Context) SetNewCert(cert *x509util.Cert) error {
	if c == nil {
		return nullArg("SetNewCert")
	}
	c.newCert.Free()
	c.newCert = cert
	return nil
}

func (c *Context) NewCert() *x509util.Cert {
	if c == nil {
		return nil
	}
	return c.newCert
}

// =============================================================================
// Trust material
// =============================================================================

// SetTrusted takes ownership of the store used to validate server
// certificates. The previous store is freed.
func (c *Context) SetTrusted(store *x509util.TrustStore) error {
	if c == nil {
		return nullArg("SetTrusted")
	}
	if c.trusted != store {
		c.trusted.Free()
	}
	c.trusted = store
	return nil
}

func (c *Context) Trusted() *x509util.TrustStore {
	if c == nil {
		return nil
	}
	return c.trusted
}

// SetUntrusted replaces the untrusted certificates used for chain
// building. Duplicates are dropped.
func (c *Context) SetUntrusted(certs []*x509util.Cert) error {
	const op = "SetUntrusted"
	if c == nil {
		return nullArg(op)
	}
	untrusted, err := x509util.AddCerts(nil, certs, true)
	if err != nil {
		return c.fail(op, ErrAllocation, err)
	}
	x509util.FreeAll(c.untrusted)
	c.untrusted = untrusted
	return nil
}

// Untrusted returns the untrusted certificates without taking references.
func (c *Context) Untrusted() []*x509util.Cert {
	if c == nil {
		return nil
	}
	return append([]*x509util.Cert(nil), c.untrusted...)
}

// =============================================================================
// Certificate lists (copy in by reference)
// =============================================================================

// setList replaces *dst with new references on certs. If a reference
// cannot be taken, the partial copy is released and *dst is unchanged.
func (c *Context) setList(op string, dst *[]*x509util.Cert, certs []*x509util.Cert) error {
	list, err := x509util.UpRefAll(certs)
	if err != nil {
		return c.fail(op, ErrAllocation, err)
	}
	x509util.FreeAll(*dst)
	*dst = list
	return nil
}

// getList returns new references on list. The caller frees them.
func (c *Context) getList(op string, list []*x509util.Cert) ([]*x509util.Cert, error) {
	out, err := x509util.UpRefAll(list)
	if err != nil {
		return nil, c.fail(op, ErrAllocation, err)
	}
	return out, nil
}

// SetExtraCertsOut sets the certificates sent in the extraCerts field.
func (c *Context) SetExtraCertsOut(certs []*x509util.Cert) error {
	if c == nil {
		return nullArg("SetExtraCertsOut")
	}
	return c.setList("SetExtraCertsOut", &c.extraCertsOut, certs)
}

// SetExtraCertsIn records the extraCerts of the last response.
func (c *Context) SetExtraCertsIn(certs []*x509util.Cert) error {
	if c == nil {
		return nullArg("SetExtraCertsIn")
	}
	return c.setList("SetExtraCertsIn", &c.extraCertsIn, certs)
}

// SetCAPubs records the caPubs of the last certificate response.
func (c *Context) SetCAPubs(certs []*x509util.Cert) error {
	if c == nil {
		return nullArg("SetCAPubs")
	}
	return c.setList("SetCAPubs", &c.caPubs, certs)
}

// SetNewChain records the chain of the newly enrolled certificate.
func (c *Context) SetNewChain(certs []*x509util.Cert) error {
	if c == nil {
		return nullArg("SetNewChain")
	}
	return c.setList("SetNewChain", &c.newChain, certs)
}

// ExtraCertsOut returns new references on the outgoing extraCerts.
func (c *Context) ExtraCertsOut() ([]*x509util.Cert, error) {
	if c == nil {
		return nil, nullArg("ExtraCertsOut")
	}
	return c.getList("ExtraCertsOut", c.extraCertsOut)
}

// ExtraCertsIn returns new references on the extraCerts received.
func (c *Context) ExtraCertsIn() ([]*x509util.Cert, error) {
	if c == nil {
		return nil, nullArg("ExtraCertsIn")
	}
	return c.getList("ExtraCertsIn", c.extraCertsIn)
}

// CAPubs returns new references on the caPubs received.
func (c *Context) CAPubs() ([]*x509util.Cert, error) {
	if c == nil {
		return nil, nullArg("CAPubs")
	}
	return c.getList("CAPubs", c.caPubs)
}

// NewChain returns new references on the chain of the new certificate.
func (c *Context) NewChain() ([]*x509util.Cert, error) {
	if c == nil {
		return nil, nullArg("NewChain")
	}
	return c.getList("NewChain", c.newChain)
}

// =============================================================================
// Own chain
// =============================================================================

// BuildCertChain builds the chain of the own certificate for inclusion in
// extraCerts. The candidates are first added to the untrusted
// certificates, skipping duplicates. With ownTrusted the chain must end
// at one of its anchors.
func (c *Context) BuildCertChain(ownTrusted *x509util.TrustStore, candidates []*x509util.Cert) error {
	const op = "BuildCertChain"
	if c == nil {
		return nullArg(op)
	}

	untrusted, err := x509util.AddCerts(c.untrusted, candidates, true)
	if err != nil {
		return c.fail(op, ErrAllocation, err)
	}
	c.untrusted = untrusted

	c.Debugf("trying to build chain for own CMP signer cert")
	chain, err := x509util.BuildChain(ownTrusted, c.untrusted, c.cert)
	if err != nil {
		return c.fail(op, ErrChainBuild, err)
	}
	c.Debugf("success building chain for own CMP signer cert")

	x509util.FreeAll(c.chain)
	c.chain = chain
	return nil
}

// Chain returns the own chain built by BuildCertChain without taking
// references.
func (c *Context) Chain() []*x509util.Cert {
	if c == nil {
		return nil
	}
	return append([]*x509util.Cert(nil), c.chain...)
}
