//go:build !cgo

package crypto

import (
	"crypto"
	"fmt"
	"io"
)

// PKCS11Config holds PKCS#11 configuration.
type PKCS11Config struct {
	ModulePath string
	TokenLabel string
	SlotID     *uint
	PIN        string
	KeyLabel   string
	KeyID      string
}

// PKCS11Signer is a stub used when CGO is not available.
type PKCS11Signer struct{}

// errNoCGO is returned when PKCS#11 operations are attempted without CGO.
var errNoCGO = fmt.Errorf("HSM support requires CGO (build with CGO_ENABLED=1)")

// NewPKCS11Signer returns an error when CGO is not available.
func NewPKCS11Signer(_ PKCS11Config) (*PKCS11Signer, error) {
	return nil, errNoCGO
}

func (s *PKCS11Signer) Algorithm() AlgorithmID { return "" }

func (s *PKCS11Signer) Public() crypto.PublicKey { return nil }

func (s *PKCS11Signer) Sign(_ io.Reader, _ []byte, _ crypto.SignerOpts) ([]byte, error) {
	return nil, errNoCGO
}

func (s *PKCS11Signer) Close() error { return nil }

// CloseAllPools is a no-op without CGO.
func CloseAllPools() {}
