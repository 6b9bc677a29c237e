package cmp

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	pkicrypto "github.com/remiblancher/cmpctx/internal/crypto"
	"github.com/remiblancher/cmpctx/internal/x509util"
)

// PBM parameter limits enforced by SetPBMParameters.
const (
	MinPBMIterations = 100
	MaxPBMIterations = 100000
	MinPBMSaltLen    = 8
	MaxPBMSaltLen    = 64
)

// hashOIDs maps OWF digests to their algorithm identifiers.
var hashOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:   {1, 3, 14, 3, 2, 26},
	crypto.SHA224: {2, 16, 840, 1, 101, 3, 4, 2, 4},
	crypto.SHA256: {2, 16, 840, 1, 101, 3, 4, 2, 1},
	crypto.SHA384: {2, 16, 840, 1, 101, 3, 4, 2, 2},
	crypto.SHA512: {2, 16, 840, 1, 101, 3, 4, 2, 3},
}

var hmacOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:   x509util.OIDHMACWithSHA1,
	crypto.SHA224: x509util.OIDHMACWithSHA224,
	crypto.SHA256: x509util.OIDHMACWithSHA256,
	crypto.SHA384: x509util.OIDHMACWithSHA384,
	crypto.SHA512: x509util.OIDHMACWithSHA512,
}

// pbmParameter is the PBMParameter structure of RFC 4211 section 4.4.
type pbmParameter struct {
	Salt           []byte
	OWF            pkix.AlgorithmIdentifier
	IterationCount int
	MAC            pkix.AlgorithmIdentifier
}

// SetPBMParameters sets the iteration count and salt length used for
// password-based MAC protection.
func (c *Context) SetPBMParameters(iterations, saltLen int) error {
	const op = "SetPBMParameters"
	if c == nil {
		return nullArg(op)
	}
	if iterations < MinPBMIterations || saltLen < MinPBMSaltLen {
		return c.fail(op, ErrValueTooSmall, fmt.Errorf("iterations=%d salt length=%d", iterations, saltLen))
	}
	if iterations > MaxPBMIterations || saltLen > MaxPBMSaltLen {
		return c.fail(op, ErrValueTooLarge, fmt.Errorf("iterations=%d salt length=%d", iterations, saltLen))
	}
	c.pbmIterations = iterations
	c.pbmSaltLen = saltLen
	return nil
}

// PBMParameters returns the iteration count and salt length.
func (c *Context) PBMParameters() (iterations, saltLen int) {
	if c == nil {
		return 0, 0
	}
	return c.pbmIterations, c.pbmSaltLen
}

// PBMOWF returns the one-way function used for PBM key derivation.
func (c *Context) PBMOWF() crypto.Hash {
	if c == nil || c.pbmOWF == nil {
		return 0
	}
	return c.pbmOWF.Hash
}

// PBMMAC returns the HMAC digest used for PBM.
func (c *Context) PBMMAC() crypto.Hash {
	if c == nil {
		return 0
	}
	return c.pbmMAC
}

// NewPBMSalt returns a random salt of the configured length.
func (c *Context) NewPBMSalt() ([]byte, error) {
	const op = "NewPBMSalt"
	if c == nil {
		return nil, nullArg(op)
	}
	salt := make([]byte, c.pbmSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, c.fail(op, ErrAllocation, err)
	}
	return salt, nil
}

// DerivePBMKey derives the PBM base key: the OWF applied iteration-count
// times to secret||salt. The caller should erase the key after use.
func (c *Context) DerivePBMKey(salt []byte) ([]byte, error) {
	const op = "DerivePBMKey"
	if c == nil {
		return nil, nullArg(op)
	}
	if len(c.secretValue) == 0 {
		return nil, c.fail(op, ErrMissingSecret, nil)
	}
	if c.pbmOWF == nil {
		return nil, c.fail(op, ErrUnsupportedAlgorithm, nil)
	}

	h := c.pbmOWF.New()
	h.Write(c.secretValue)
	h.Write(salt)
	key := h.Sum(nil)
	for i := 1; i < c.pbmIterations; i++ {
		h.Reset()
		h.Write(key)
		key = h.Sum(key[:0])
	}
	return key, nil
}

// PBMMac computes the password-based MAC of msg under salt.
func (c *Context) PBMMac(salt, msg []byte) ([]byte, error) {
	const op = "PBMMac"
	if c == nil {
		return nil, nullArg(op)
	}
	macDigest, err := c.provider.FetchDigest(c.pbmMAC)
	if err != nil {
		return nil, c.fail(op, ErrUnsupportedAlgorithm, err)
	}
	key, err := c.DerivePBMKey(salt)
	if err != nil {
		return nil, err
	}
	defer pkicrypto.Zeroize(key)

	mac := hmac.New(macDigest.New, key)
	mac.Write(msg)
	return mac.Sum(nil), nil
}

// EncodePBMParameter returns the DER encoded PBMParameter for salt.
func (c *Context) EncodePBMParameter(salt []byte) ([]byte, error) {
	const op = "EncodePBMParameter"
	if c == nil {
		return nil, nullArg(op)
	}
	owf, ok := hashOIDs[c.PBMOWF()]
	if !ok {
		return nil, c.fail(op, ErrUnsupportedAlgorithm, fmt.Errorf("OWF %s", c.PBMOWF()))
	}
	mac, ok := hmacOIDs[c.pbmMAC]
	if !ok {
		return nil, c.fail(op, ErrUnsupportedAlgorithm, fmt.Errorf("MAC HMAC-%s", c.pbmMAC))
	}
	der, err := asn1.Marshal(pbmParameter{
		Salt:           salt,
		OWF:            pkix.AlgorithmIdentifier{Algorithm: owf},
		IterationCount: c.pbmIterations,
		MAC:            pkix.AlgorithmIdentifier{Algorithm: mac},
	})
	if err != nil {
		return nil, c.fail(op, ErrAllocation, err)
	}
	return der, nil
}
