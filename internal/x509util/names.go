package x509util

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"
)

// attributeOIDs maps short attribute names to their OIDs.
var attributeOIDs = map[string]asn1.ObjectIdentifier{
	"CN":           {2, 5, 4, 3},
	"SERIALNUMBER": {2, 5, 4, 5},
	"C":            {2, 5, 4, 6},
	"L":            {2, 5, 4, 7},
	"ST":           {2, 5, 4, 8},
	"STREET":       {2, 5, 4, 9},
	"O":            {2, 5, 4, 10},
	"OU":           {2, 5, 4, 11},
	"POSTALCODE":   {2, 5, 4, 17},
	"EMAILADDRESS": OIDEmailAddress,
	"DC":           OIDDomainComponent,
	"UID":          OIDUserID,
}

// ParseDN parses a distinguished name.
//
// Two notations are accepted: the slash form "/CN=Server/O=Example/C=FR"
// and the comma form "CN=Server, O=Example, C=FR". A backslash escapes
// the next character. Attribute types are either short names (CN, O, OU,
// C, L, ST, STREET, POSTALCODE, SERIALNUMBER, emailAddress, DC, UID) or
// dotted OIDs.
func ParseDN(s string) (*pkix.Name, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidName)
	}

	sep := byte(',')
	if s[0] == '/' {
		sep = '/'
		s = s[1:]
	}

	var rdns pkix.RDNSequence
	for _, part := range splitEscaped(s, sep) {
		part = strings.TrimSpace(part)
		if part == "" {
			if sep == '/' {
				return nil, fmt.Errorf("%w: empty component", ErrInvalidName)
			}
			continue
		}
		var rdn pkix.RelativeDistinguishedNameSET
		for _, av := range splitEscaped(part, '+') {
			atv, err := parseAttribute(av)
			if err != nil {
				return nil, err
			}
			rdn = append(rdn, atv)
		}
		rdns = append(rdns, rdn)
	}
	if len(rdns) == 0 {
		return nil, fmt.Errorf("%w: no attributes", ErrInvalidName)
	}

	return NameFromRDNSequence(rdns), nil
}

// NameFromRDNSequence builds a name from its RDN sequence. Attributes
// without a pkix.Name field are kept in ExtraNames so that they survive
// re-encoding.
func NameFromRDNSequence(rdns pkix.RDNSequence) *pkix.Name {
	var name pkix.Name
	name.FillFromRDNSequence(&rdns)
	for _, rdn := range rdns {
		for _, atv := range rdn {
			if !isStandardAttribute(atv.Type) {
				name.ExtraNames = append(name.ExtraNames, atv)
			}
		}
	}
	return &name
}

func parseAttribute(s string) (pkix.AttributeTypeAndValue, error) {
	i := strings.IndexByte(s, '=')
	if i <= 0 {
		return pkix.AttributeTypeAndValue{}, fmt.Errorf("%w: missing '=' in %q", ErrInvalidName, s)
	}
	key := strings.TrimSpace(s[:i])
	value := unescape(strings.TrimSpace(s[i+1:]))
	if value == "" {
		return pkix.AttributeTypeAndValue{}, fmt.Errorf("%w: empty value for %s", ErrInvalidName, key)
	}

	oid, ok := attributeOIDs[strings.ToUpper(key)]
	if !ok {
		var err error
		if oid, err = ParseOID(key); err != nil {
			return pkix.AttributeTypeAndValue{}, fmt.Errorf("%w: unknown attribute %q", ErrInvalidName, key)
		}
	}
	return pkix.AttributeTypeAndValue{Type: oid, Value: value}, nil
}

// isStandardAttribute reports whether pkix.Name has a dedicated field for
// the attribute, in which case it must not be repeated in ExtraNames.
func isStandardAttribute(oid asn1.ObjectIdentifier) bool {
	if len(oid) != 4 || oid[0] != 2 || oid[1] != 5 || oid[2] != 4 {
		return false
	}
	switch oid[3] {
	case 3, 5, 6, 7, 8, 9, 10, 11, 17:
		return true
	}
	return false
}

// splitEscaped splits s on sep, ignoring separators preceded by a backslash.
func splitEscaped(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// CloneName returns a deep copy of n. A nil name yields nil.
func CloneName(n *pkix.Name) *pkix.Name {
	if n == nil {
		return nil
	}
	c := pkix.Name{
		Country:            cloneStrings(n.Country),
		Organization:       cloneStrings(n.Organization),
		OrganizationalUnit: cloneStrings(n.OrganizationalUnit),
		Locality:           cloneStrings(n.Locality),
		Province:           cloneStrings(n.Province),
		StreetAddress:      cloneStrings(n.StreetAddress),
		PostalCode:         cloneStrings(n.PostalCode),
		SerialNumber:       n.SerialNumber,
		CommonName:         n.CommonName,
		Names:              cloneAttributes(n.Names),
		ExtraNames:         cloneAttributes(n.ExtraNames),
	}
	return &c
}

// NameEqual compares two names by their DER encoding.
func NameEqual(a, b *pkix.Name) bool {
	if a == nil || b == nil {
		return a == b
	}
	da, errA := asn1.Marshal(a.ToRDNSequence())
	db, errB := asn1.Marshal(b.ToRDNSequence())
	return errA == nil && errB == nil && string(da) == string(db)
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneAttributes(attrs []pkix.AttributeTypeAndValue) []pkix.AttributeTypeAndValue {
	if attrs == nil {
		return nil
	}
	out := make([]pkix.AttributeTypeAndValue, len(attrs))
	for i, a := range attrs {
		out[i] = pkix.AttributeTypeAndValue{
			Type:  append(asn1.ObjectIdentifier(nil), a.Type...),
			Value: a.Value,
		}
	}
	return out
}
