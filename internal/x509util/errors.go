package x509util

import (
	"errors"
	"fmt"
)

var (
	// ErrReleased is returned when a reference is taken on a handle whose
	// last reference was already dropped.
	ErrReleased = errors.New("certificate handle already released")

	// ErrInvalidCertificate is returned when a certificate fails the
	// structural sanity check.
	ErrInvalidCertificate = errors.New("potentially invalid certificate")

	// ErrNoChain is returned when no chain could be built for a target.
	ErrNoChain = errors.New("cannot build certificate chain")

	ErrInvalidGeneralName = errors.New("invalid general name")
	ErrInvalidName        = errors.New("invalid distinguished name")
	ErrInvalidOID         = errors.New("invalid object identifier")
)

func errInvalidOID(s string) error {
	return fmt.Errorf("%w: %q", ErrInvalidOID, s)
}
