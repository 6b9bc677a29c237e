// Package crypto provides the cryptographic services a CMP context relies
// on: digest resolution through a provider with property queries, key
// generation for classical and ML-DSA keys, software and PKCS#11 signers,
// and secure erasure of secret material.
package crypto

import (
	"encoding/asn1"
	"fmt"
	"sort"
)

// AlgorithmID identifies a key/signature algorithm.
type AlgorithmID string

// Classical signature algorithms.
const (
	AlgECDSAP256 AlgorithmID = "ecdsa-p256"
	AlgECDSAP384 AlgorithmID = "ecdsa-p384"
	AlgECDSAP521 AlgorithmID = "ecdsa-p521"
	AlgEd25519   AlgorithmID = "ed25519"
	AlgRSA2048   AlgorithmID = "rsa-2048"
	AlgRSA3072   AlgorithmID = "rsa-3072"
	AlgRSA4096   AlgorithmID = "rsa-4096"
)

// Post-quantum signature algorithms (FIPS 204 ML-DSA).
const (
	AlgMLDSA44 AlgorithmID = "ml-dsa-44"
	AlgMLDSA65 AlgorithmID = "ml-dsa-65"
	AlgMLDSA87 AlgorithmID = "ml-dsa-87"
)

// AlgorithmType categorizes algorithms.
type AlgorithmType int

const (
	TypeUnknown AlgorithmType = iota
	TypeClassicalSignature
	TypePQCSignature
)

// algorithmInfo holds metadata about an algorithm.
type algorithmInfo struct {
	Type        AlgorithmType
	OID         asn1.ObjectIdentifier
	KeySizeBits int
	Description string
}

// algorithms maps AlgorithmID to its metadata.
var algorithms = map[AlgorithmID]algorithmInfo{
	AlgECDSAP256: {
		Type:        TypeClassicalSignature,
		OID:         asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7},
		KeySizeBits: 256,
		Description: "ECDSA with P-256 curve",
	},
	AlgECDSAP384: {
		Type:        TypeClassicalSignature,
		OID:         asn1.ObjectIdentifier{1, 3, 132, 0, 34},
		KeySizeBits: 384,
		Description: "ECDSA with P-384 curve",
	},
	AlgECDSAP521: {
		Type:        TypeClassicalSignature,
		OID:         asn1.ObjectIdentifier{1, 3, 132, 0, 35},
		KeySizeBits: 521,
		Description: "ECDSA with P-521 curve",
	},
	AlgEd25519: {
		Type:        TypeClassicalSignature,
		OID:         asn1.ObjectIdentifier{1, 3, 101, 112},
		KeySizeBits: 256,
		Description: "Ed25519 (EdDSA with Curve25519)",
	},
	AlgRSA2048: {
		Type:        TypeClassicalSignature,
		OID:         asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1},
		KeySizeBits: 2048,
		Description: "RSA 2048-bit",
	},
	AlgRSA3072: {
		Type:        TypeClassicalSignature,
		OID:         asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1},
		KeySizeBits: 3072,
		Description: "RSA 3072-bit",
	},
	AlgRSA4096: {
		Type:        TypeClassicalSignature,
		OID:         asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1},
		KeySizeBits: 4096,
		Description: "RSA 4096-bit",
	},
	AlgMLDSA44: {
		Type:        TypePQCSignature,
		OID:         asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 17},
		Description: "ML-DSA-44 (FIPS 204, NIST level 2)",
	},
	AlgMLDSA65: {
		Type:        TypePQCSignature,
		OID:         asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 18},
		Description: "ML-DSA-65 (FIPS 204, NIST level 3)",
	},
	AlgMLDSA87: {
		Type:        TypePQCSignature,
		OID:         asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 19},
		Description: "ML-DSA-87 (FIPS 204, NIST level 5)",
	},
}

// IsValid returns true if the algorithm is known.
func (a AlgorithmID) IsValid() bool {
	_, ok := algorithms[a]
	return ok
}

// Type returns the algorithm category.
func (a AlgorithmID) Type() AlgorithmType {
	return algorithms[a].Type
}

// IsPQC returns true for post-quantum algorithms.
func (a AlgorithmID) IsPQC() bool {
	return a.Type() == TypePQCSignature
}

// OID returns the key algorithm OID, or nil if unknown.
func (a AlgorithmID) OID() asn1.ObjectIdentifier {
	return algorithms[a].OID
}

// Description returns a human-readable description.
func (a AlgorithmID) Description() string {
	if info, ok := algorithms[a]; ok {
		return info.Description
	}
	return "unknown algorithm"
}

func (a AlgorithmID) String() string {
	return string(a)
}

// ParseAlgorithm parses an algorithm identifier.
func ParseAlgorithm(s string) (AlgorithmID, error) {
	alg := AlgorithmID(s)
	if !alg.IsValid() {
		return "", fmt.Errorf("unknown algorithm: %s", s)
	}
	return alg, nil
}

// AllAlgorithms returns all supported algorithms in a stable order.
func AllAlgorithms() []AlgorithmID {
	out := make([]AlgorithmID, 0, len(algorithms))
	for a := range algorithms {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
