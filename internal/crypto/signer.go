package crypto

import (
	"crypto"
)

// Signer extends crypto.Signer with algorithm metadata.
type Signer interface {
	crypto.Signer

	// Algorithm returns the algorithm identifier for this signer.
	Algorithm() AlgorithmID
}

// Closer is implemented by signers that hold external resources, such as
// an HSM session pool reference.
type Closer interface {
	Close() error
}

// CloseSigner releases the resources of s if it holds any.
func CloseSigner(s crypto.Signer) error {
	if c, ok := s.(Closer); ok {
		return c.Close()
	}
	return nil
}
