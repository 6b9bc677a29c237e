package snapshot

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/remiblancher/cmpctx/internal/audit"
	"github.com/remiblancher/cmpctx/internal/cmp"
)

// sign1Tag is the first byte of a tagged COSE_Sign1 message (tag 18).
const sign1Tag = 0xd2

// IsSealed reports whether data looks like a COSE_Sign1 message.
func IsSealed(data []byte) bool {
	return len(data) > 0 && data[0] == sign1Tag
}

// Export writes a snapshot of ctx to path. With a signer the snapshot is
// sealed; algorithm reports the COSE algorithm in the audit log, or
// "none" for plain CBOR.
func Export(ctx *cmp.Context, id, path string, signer crypto.Signer, cert *x509.Certificate) error {
	s, err := Take(ctx)
	if err != nil {
		return err
	}

	var data []byte
	algorithm := "none"
	if signer != nil {
		if data, err = s.Seal(signer, cert); err != nil {
			return err
		}
		alg, err := AlgorithmFromKey(signer.Public())
		if err != nil {
			return err
		}
		algorithm = AlgorithmName(alg)
	} else if data, err = s.Marshal(); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return audit.LogSnapshotExported(id, path, algorithm)
}

// ReadFile loads a snapshot. A sealed snapshot is verified under cert,
// which is then required.
func ReadFile(path string, cert *x509.Certificate) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if !IsSealed(data) {
		return Unmarshal(data)
	}
	if cert == nil {
		return nil, fmt.Errorf("sealed snapshot requires a certificate to verify")
	}
	sealed, err := OpenWithCertificate(data, cert)
	if err != nil {
		return nil, err
	}
	return sealed.Snapshot, nil
}
