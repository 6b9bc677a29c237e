// Package x509util provides the X.509 building blocks used by a CMP
// context: shared certificate handles, certificate lists, trust stores,
// chain building, distinguished names and general names.
package x509util

import (
	"encoding/asn1"
)

// Standard X.509 extension OIDs.
var (
	// Key Usage extension
	OIDExtKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 15}

	// Subject Alternative Name extension
	OIDExtSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

	// Basic Constraints extension
	OIDExtBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}

	// Certificate Policies extension
	OIDExtCertificatePolicies = asn1.ObjectIdentifier{2, 5, 29, 32}

	// Extended Key Usage extension
	OIDExtExtKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 37}
)

// Policy OIDs.
var (
	OIDAnyPolicy = asn1.ObjectIdentifier{2, 5, 29, 32, 0}
)

// Distinguished name attribute OIDs not covered by pkix.Name fields.
var (
	OIDEmailAddress    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
	OIDDomainComponent = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}
	OIDUserID          = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}
)

// CMP related OIDs (RFC 4210, RFC 9480).
var (
	// Password-based MAC (PBM) protection algorithm
	OIDPasswordBasedMAC = asn1.ObjectIdentifier{1, 2, 840, 113533, 7, 66, 13}

	// id-it arc for InfoTypeAndValue
	OIDIt = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 4}

	OIDItCAProtEncCert    = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 4, 1}
	OIDItSignKeyPairTypes = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 4, 2}
	OIDItEncKeyPairTypes  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 4, 3}
	OIDItPreferredSymmAlg = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 4, 4}
	OIDItCAKeyUpdateInfo  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 4, 5}
	OIDItCurrentCRL       = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 4, 6}
	OIDItImplicitConfirm  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 4, 13}
	OIDItConfirmWaitTime  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 4, 14}
	OIDItCACerts          = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 4, 17}
	OIDItRootCAKeyUpdate  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 4, 18}
	OIDItCertReqTemplate  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 4, 19}
)

// HMAC algorithm OIDs (RFC 4231 / RFC 8018).
var (
	OIDHMACWithSHA1   = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 8, 1, 2}
	OIDHMACWithSHA224 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 8}
	OIDHMACWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 9}
	OIDHMACWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 10}
	OIDHMACWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 11}
)

// ParseOID parses a dotted OID string such as "1.2.3.4".
func ParseOID(s string) (asn1.ObjectIdentifier, error) {
	var oid asn1.ObjectIdentifier
	n := 0
	seen := false
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			if !seen {
				return nil, errInvalidOID(s)
			}
			oid = append(oid, n)
			n, seen = 0, false
			continue
		}
		c := s[i]
		if c < '0' || c > '9' {
			return nil, errInvalidOID(s)
		}
		n = n*10 + int(c-'0')
		seen = true
	}
	if len(oid) < 2 {
		return nil, errInvalidOID(s)
	}
	return oid, nil
}
