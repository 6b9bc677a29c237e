package cmp

import (
	"crypto"

	pkicrypto "github.com/remiblancher/cmpctx/internal/crypto"
)

// SetPrivateKey sets the own private key used for signature-based
// protection. The key is shared: the context never closes it.
func (c *Context) SetPrivateKey(key crypto.Signer) error {
	if c == nil {
		return nullArg("SetPrivateKey")
	}
	c.pkey = key
	return nil
}

func (c *Context) PrivateKey() crypto.Signer {
	if c == nil {
		return nil
	}
	return c.pkey
}

// SetNewKey takes ownership of the key pair to be certified. A previous
// new key that holds resources (e.g. an HSM signer) is closed. Nil clears it.
func (c *Context) SetNewKey(key crypto.Signer) error {
	if c == nil {
		return nullArg("SetNewKey")
	}
	c.releaseNewKey(key)
	if key == nil {
		c.newKey, c.newKeyPriv = nil, false
		return nil
	}
	c.newKey, c.newKeyPriv = key, true
	return nil
}

// SetNewPublicKey sets only the public key to be certified, e.g. when
// the private key is held elsewhere.
func (c *Context) SetNewPublicKey(pub crypto.PublicKey) error {
	if c == nil {
		return nullArg("SetNewPublicKey")
	}
	c.releaseNewKey(nil)
	c.newKey, c.newKeyPriv = pub, false
	return nil
}

func (c *Context) releaseNewKey(next crypto.Signer) {
	old, ok := c.newKey.(crypto.Signer)
	if !ok || old == next {
		return
	}
	if err := pkicrypto.CloseSigner(old); err != nil {
		c.Warnf("error closing previous new key: %v", err)
	}
}

// NewPrivateKey returns the private key for certificate enrollment: the
// new key if it includes a private part, otherwise the own private key.
// It returns nil when a PKCS#10 request supplies the key, or when only a
// new public key is set.
func (c *Context) NewPrivateKey() crypto.Signer {
	if c == nil {
		return nil
	}
	if c.newKey != nil {
		if !c.newKeyPriv {
			return nil
		}
		return c.newKey.(crypto.Signer)
	}
	if c.p10CSR != nil {
		return nil
	}
	return c.pkey
}

// NewPublicKey returns the public key to be certified, taken in order
// from the new key, the PKCS#10 request, the old certificate, the own
// certificate and the own private key.
func (c *Context) NewPublicKey() crypto.PublicKey {
	if c == nil {
		return nil
	}
	switch {
	case c.newKey != nil:
		if s, ok := c.newKey.(crypto.Signer); ok {
			return s.Public()
		}
		return c.newKey
	case c.p10CSR != nil:
		return c.p10CSR.PublicKey
	case c.oldCert != nil:
		return c.oldCert.Certificate().PublicKey
	case c.cert != nil:
		return c.cert.Certificate().PublicKey
	case c.pkey != nil:
		return c.pkey.Public()
	}
	return nil
}

// NewKeyIsPrivate reports whether the new key includes a private part.
func (c *Context) NewKeyIsPrivate() bool {
	return c != nil && c.newKey != nil && c.newKeyPriv
}
