package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// SoftwareSigner implements Signer with an in-memory private key that
// can be serialized to and from PEM files.
type SoftwareSigner struct {
	alg     AlgorithmID
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
	keyPath string
}

var _ Signer = (*SoftwareSigner)(nil)

// NewSoftwareSigner creates a new SoftwareSigner from a key pair.
func NewSoftwareSigner(kp *KeyPair) (*SoftwareSigner, error) {
	if kp == nil {
		return nil, fmt.Errorf("key pair is nil")
	}
	return &SoftwareSigner{
		alg:  kp.Algorithm,
		priv: kp.PrivateKey,
		pub:  kp.PublicKey,
	}, nil
}

// GenerateSoftwareSigner generates a new key pair and returns a SoftwareSigner.
func GenerateSoftwareSigner(alg AlgorithmID) (*SoftwareSigner, error) {
	kp, err := GenerateKeyPair(alg)
	if err != nil {
		return nil, err
	}
	return NewSoftwareSigner(kp)
}

// Algorithm returns the algorithm used by this signer.
func (s *SoftwareSigner) Algorithm() AlgorithmID {
	return s.alg
}

// Public returns the public key.
func (s *SoftwareSigner) Public() crypto.PublicKey {
	return s.pub
}

// PrivateKey returns the underlying private key.
func (s *SoftwareSigner) PrivateKey() crypto.PrivateKey {
	return s.priv
}

// KeyPath returns the file the key was loaded from or saved to.
func (s *SoftwareSigner) KeyPath() string {
	return s.keyPath
}

// Sign signs digest with the private key.
// For ECDSA and RSA, digest is the hash of the message. Ed25519 and
// ML-DSA take the full message.
func (s *SoftwareSigner) Sign(random io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	switch priv := s.priv.(type) {
	case *ecdsa.PrivateKey:
		return ecdsa.SignASN1(random, priv, digest)

	case ed25519.PrivateKey:
		return ed25519.Sign(priv, digest), nil

	case *rsa.PrivateKey:
		if pssOpts, ok := opts.(*rsa.PSSOptions); ok {
			return rsa.SignPSS(random, priv, pssOpts.Hash, digest, pssOpts)
		}
		hash := crypto.SHA256
		if opts != nil {
			hash = opts.HashFunc()
		}
		return rsa.SignPKCS1v15(random, priv, hash, digest)

	case *mldsa44.PrivateKey:
		// opts.HashFunc() must be 0 for pure ML-DSA
		return priv.Sign(random, digest, crypto.Hash(0))
	case *mldsa65.PrivateKey:
		return priv.Sign(random, digest, crypto.Hash(0))
	case *mldsa87.PrivateKey:
		return priv.Sign(random, digest, crypto.Hash(0))

	default:
		return nil, fmt.Errorf("unsupported private key type: %T", priv)
	}
}

// Verify verifies a signature under pub.
func Verify(pub crypto.PublicKey, message, signature []byte) bool {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(k, message, signature)
	case ed25519.PublicKey:
		return ed25519.Verify(k, message, signature)
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, message, signature) == nil
	case *mldsa44.PublicKey:
		return mldsa44.Verify(k, message, nil, signature)
	case *mldsa65.PublicKey:
		return mldsa65.Verify(k, message, nil, signature)
	case *mldsa87.PublicKey:
		return mldsa87.Verify(k, message, nil, signature)
	default:
		return false
	}
}

// pemTypes maps ML-DSA algorithms to their PEM block types.
var pemTypes = map[AlgorithmID]string{
	AlgMLDSA44: "ML-DSA-44 PRIVATE KEY",
	AlgMLDSA65: "ML-DSA-65 PRIVATE KEY",
	AlgMLDSA87: "ML-DSA-87 PRIVATE KEY",
}

// SavePrivateKey saves the private key to a PEM file.
// If passphrase is provided, the key is encrypted.
func (s *SoftwareSigner) SavePrivateKey(path string, passphrase []byte) error {
	var block *pem.Block

	switch priv := s.priv.(type) {
	case *ecdsa.PrivateKey, ed25519.PrivateKey, *rsa.PrivateKey:
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return fmt.Errorf("failed to marshal private key: %w", err)
		}
		block = &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	case *mldsa44.PrivateKey:
		block = &pem.Block{Type: pemTypes[AlgMLDSA44], Bytes: priv.Bytes()}
	case *mldsa65.PrivateKey:
		block = &pem.Block{Type: pemTypes[AlgMLDSA65], Bytes: priv.Bytes()}
	case *mldsa87.PrivateKey:
		block = &pem.Block{Type: pemTypes[AlgMLDSA87], Bytes: priv.Bytes()}
	default:
		return fmt.Errorf("unsupported private key type: %T", s.priv)
	}

	if len(passphrase) > 0 {
		var err error
		block, err = x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, passphrase, x509.PEMCipherAES256) //nolint:staticcheck // Deprecated but still used
		if err != nil {
			return fmt.Errorf("failed to encrypt private key: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer f.Close()

	if err := pem.Encode(f, block); err != nil {
		return fmt.Errorf("failed to write PEM: %w", err)
	}

	s.keyPath = path
	return nil
}

// LoadPrivateKey loads a private key from a PEM file.
func LoadPrivateKey(path string, passphrase []byte) (*SoftwareSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	keyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("private key is encrypted but no passphrase provided")
		}
		keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
	}

	signer, err := parsePEMKeyBlock(block.Type, keyBytes)
	if err != nil {
		return nil, err
	}
	signer.keyPath = path
	return signer, nil
}

// parsePEMKeyBlock parses a single decrypted PEM key block.
func parsePEMKeyBlock(pemType string, keyBytes []byte) (*SoftwareSigner, error) {
	var priv crypto.PrivateKey
	var err error

	switch pemType {
	case "PRIVATE KEY":
		priv, err = x509.ParsePKCS8PrivateKey(keyBytes)
	case "EC PRIVATE KEY":
		priv, err = x509.ParseECPrivateKey(keyBytes)
	case "RSA PRIVATE KEY":
		priv, err = x509.ParsePKCS1PrivateKey(keyBytes)
	case pemTypes[AlgMLDSA44]:
		var k mldsa44.PrivateKey
		err = k.UnmarshalBinary(keyBytes)
		priv = &k
	case pemTypes[AlgMLDSA65]:
		var k mldsa65.PrivateKey
		err = k.UnmarshalBinary(keyBytes)
		priv = &k
	case pemTypes[AlgMLDSA87]:
		var k mldsa87.PrivateKey
		err = k.UnmarshalBinary(keyBytes)
		priv = &k
	default:
		return nil, fmt.Errorf("unknown PEM type: %s", pemType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", pemType, err)
	}

	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key type %T cannot sign", priv)
	}
	pub := signer.Public()
	alg, err := AlgorithmOf(pub)
	if err != nil {
		return nil, err
	}
	return &SoftwareSigner{alg: alg, priv: priv, pub: pub}, nil
}

// ParsePublicKeyPEM parses a PEM "PUBLIC KEY" block (PKIX).
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("no PUBLIC KEY block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}
