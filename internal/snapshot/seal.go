package snapshot

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"

	gocose "github.com/veraison/go-cose"

	pkicrypto "github.com/remiblancher/cmpctx/internal/crypto"
)

// COSE algorithm identifiers for ML-DSA (draft-ietf-cose-dilithium).
const (
	AlgMLDSA44 gocose.Algorithm = -48
	AlgMLDSA65 gocose.Algorithm = -49
	AlgMLDSA87 gocose.Algorithm = -50
)

// ErrSignature indicates a sealed snapshot whose signature does not verify.
var ErrSignature = errors.New("snapshot signature verification failed")

// AlgorithmFromKey returns the COSE algorithm used to seal with pub.
func AlgorithmFromKey(pub crypto.PublicKey) (gocose.Algorithm, error) {
	alg, err := pkicrypto.AlgorithmOf(pub)
	if err != nil {
		return 0, err
	}
	switch alg {
	case pkicrypto.AlgECDSAP256:
		return gocose.AlgorithmES256, nil
	case pkicrypto.AlgECDSAP384:
		return gocose.AlgorithmES384, nil
	case pkicrypto.AlgECDSAP521:
		return gocose.AlgorithmES512, nil
	case pkicrypto.AlgEd25519:
		return gocose.AlgorithmEdDSA, nil
	case pkicrypto.AlgRSA2048, pkicrypto.AlgRSA3072, pkicrypto.AlgRSA4096:
		return gocose.AlgorithmPS256, nil
	case pkicrypto.AlgMLDSA44:
		return AlgMLDSA44, nil
	case pkicrypto.AlgMLDSA65:
		return AlgMLDSA65, nil
	case pkicrypto.AlgMLDSA87:
		return AlgMLDSA87, nil
	default:
		return 0, fmt.Errorf("unsupported algorithm for COSE: %s", alg)
	}
}

// AlgorithmName returns the display name of alg.
func AlgorithmName(alg gocose.Algorithm) string {
	switch alg {
	case AlgMLDSA44:
		return "ML-DSA-44"
	case AlgMLDSA65:
		return "ML-DSA-65"
	case AlgMLDSA87:
		return "ML-DSA-87"
	default:
		return alg.String()
	}
}

func isMLDSA(alg gocose.Algorithm) bool {
	return alg == AlgMLDSA44 || alg == AlgMLDSA65 || alg == AlgMLDSA87
}

// mldsaSigner signs the COSE Sig_structure directly; ML-DSA takes the
// full message.
type mldsaSigner struct {
	alg    gocose.Algorithm
	signer crypto.Signer
}

func (s *mldsaSigner) Algorithm() gocose.Algorithm { return s.alg }

func (s *mldsaSigner) Sign(random io.Reader, content []byte) ([]byte, error) {
	return s.signer.Sign(random, content, crypto.Hash(0))
}

type mldsaVerifier struct {
	alg gocose.Algorithm
	pub crypto.PublicKey
}

func (v *mldsaVerifier) Algorithm() gocose.Algorithm { return v.alg }

func (v *mldsaVerifier) Verify(content, signature []byte) error {
	if !pkicrypto.Verify(v.pub, content, signature) {
		return gocose.ErrVerification
	}
	return nil
}

func newSigner(s crypto.Signer) (gocose.Signer, error) {
	alg, err := AlgorithmFromKey(s.Public())
	if err != nil {
		return nil, err
	}
	if isMLDSA(alg) {
		return &mldsaSigner{alg: alg, signer: s}, nil
	}
	return gocose.NewSigner(alg, s)
}

func newVerifier(pub crypto.PublicKey) (gocose.Verifier, error) {
	alg, err := AlgorithmFromKey(pub)
	if err != nil {
		return nil, err
	}
	if isMLDSA(alg) {
		return &mldsaVerifier{alg: alg, pub: pub}, nil
	}
	return gocose.NewVerifier(alg, pub)
}

// KeyID returns the SHA-256 fingerprint of a certificate, used as the
// COSE key identifier.
func KeyID(cert *x509.Certificate) []byte {
	sum := sha256.Sum256(cert.Raw)
	return sum[:]
}

// Seal encodes the snapshot and signs it into a COSE_Sign1 message. When
// cert is given, its fingerprint is placed in the kid header.
func (s *Snapshot) Seal(signer crypto.Signer, cert *x509.Certificate) ([]byte, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	payload, err := s.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	coseSigner, err := newSigner(signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create COSE signer: %w", err)
	}

	msg := gocose.NewSign1Message()
	msg.Headers.Protected[gocose.HeaderLabelAlgorithm] = coseSigner.Algorithm()
	msg.Headers.Protected[gocose.HeaderLabelContentType] = ContentType
	if cert != nil {
		msg.Headers.Protected[gocose.HeaderLabelKeyID] = KeyID(cert)
	}
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, coseSigner); err != nil {
		return nil, fmt.Errorf("failed to sign snapshot: %w", err)
	}
	return msg.MarshalCBOR()
}

// Sealed describes a verified COSE_Sign1 snapshot.
type Sealed struct {
	Snapshot  *Snapshot
	Algorithm gocose.Algorithm
	KeyID     []byte
}

// Open verifies a sealed snapshot under pub and decodes its payload.
func Open(data []byte, pub crypto.PublicKey) (*Sealed, error) {
	var msg gocose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if ct, _ := msg.Headers.Protected[gocose.HeaderLabelContentType].(string); ct != ContentType {
		return nil, fmt.Errorf("%w: content type %q", ErrInvalidSnapshot, ct)
	}

	verifier, err := newVerifier(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to create COSE verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	snap, err := Unmarshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	alg, _ := msg.Headers.Protected.Algorithm()
	kid, _ := msg.Headers.Protected[gocose.HeaderLabelKeyID].([]byte)
	return &Sealed{Snapshot: snap, Algorithm: alg, KeyID: kid}, nil
}

// OpenWithCertificate verifies a sealed snapshot under cert. A kid header
// must match the certificate fingerprint.
func OpenWithCertificate(data []byte, cert *x509.Certificate) (*Sealed, error) {
	sealed, err := Open(data, cert.PublicKey)
	if err != nil {
		return nil, err
	}
	if len(sealed.KeyID) > 0 && string(sealed.KeyID) != string(KeyID(cert)) {
		return nil, fmt.Errorf("%w: key ID does not match certificate", ErrSignature)
	}
	return sealed, nil
}
