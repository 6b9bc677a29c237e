package x509util

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// GeneralNameType identifies the choice of a GeneralName (RFC 5280).
type GeneralNameType int

const (
	GeneralNameEmail     GeneralNameType = 1
	GeneralNameDNS       GeneralNameType = 2
	GeneralNameDirectory GeneralNameType = 4
	GeneralNameURI       GeneralNameType = 6
	GeneralNameIP        GeneralNameType = 7
)

// String returns the conventional prefix of the type.
func (t GeneralNameType) String() string {
	switch t {
	case GeneralNameEmail:
		return "email"
	case GeneralNameDNS:
		return "DNS"
	case GeneralNameDirectory:
		return "dirName"
	case GeneralNameURI:
		return "URI"
	case GeneralNameIP:
		return "IP"
	default:
		return fmt.Sprintf("GeneralName(%d)", int(t))
	}
}

// GeneralName is a subject alternative name entry.
type GeneralName struct {
	Type GeneralNameType

	// Value holds the DNS name, email address or URI.
	Value string

	IP        net.IP
	Directory *pkix.Name
}

// ParseGeneralName parses a general name. An explicit prefix
// ("DNS:", "email:", "URI:", "IP:", "dirName:") selects the type;
// without one, IP addresses, email addresses and URIs are recognized and
// anything else is taken as a DNS name.
func ParseGeneralName(s string) (GeneralName, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return GeneralName{}, fmt.Errorf("%w: empty", ErrInvalidGeneralName)
	}

	var g GeneralName
	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		switch strings.ToLower(prefix) {
		case "dns":
			g = GeneralName{Type: GeneralNameDNS, Value: rest}
		case "email":
			g = GeneralName{Type: GeneralNameEmail, Value: rest}
		case "uri":
			g = GeneralName{Type: GeneralNameURI, Value: rest}
		case "ip":
			g = GeneralName{Type: GeneralNameIP, IP: net.ParseIP(rest)}
		case "dirname":
			dn, err := ParseDN(rest)
			if err != nil {
				return GeneralName{}, fmt.Errorf("%w: %v", ErrInvalidGeneralName, err)
			}
			g = GeneralName{Type: GeneralNameDirectory, Directory: dn}
		}
	}

	if g.Type == 0 {
		switch {
		case net.ParseIP(s) != nil:
			g = GeneralName{Type: GeneralNameIP, IP: net.ParseIP(s)}
		case strings.Contains(s, "://"):
			g = GeneralName{Type: GeneralNameURI, Value: s}
		case strings.Contains(s, "@"):
			g = GeneralName{Type: GeneralNameEmail, Value: s}
		default:
			g = GeneralName{Type: GeneralNameDNS, Value: s}
		}
	}

	if err := g.Validate(); err != nil {
		return GeneralName{}, err
	}
	return g, nil
}

// Validate checks the value against the rules of its type.
func (g GeneralName) Validate() error {
	switch g.Type {
	case GeneralNameDNS:
		if err := ValidateDNSName(g.Value); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidGeneralName, err)
		}
	case GeneralNameEmail:
		local, domain, ok := strings.Cut(g.Value, "@")
		if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
			return fmt.Errorf("%w: malformed email address %q", ErrInvalidGeneralName, g.Value)
		}
	case GeneralNameURI:
		u, err := url.Parse(g.Value)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("%w: malformed URI %q", ErrInvalidGeneralName, g.Value)
		}
	case GeneralNameIP:
		if len(g.IP) != net.IPv4len && len(g.IP) != net.IPv6len {
			return fmt.Errorf("%w: malformed IP address", ErrInvalidGeneralName)
		}
	case GeneralNameDirectory:
		if g.Directory == nil {
			return fmt.Errorf("%w: empty directory name", ErrInvalidGeneralName)
		}
	default:
		return fmt.Errorf("%w: unsupported type %d", ErrInvalidGeneralName, int(g.Type))
	}
	return nil
}

// Clone returns a deep copy.
func (g GeneralName) Clone() GeneralName {
	c := GeneralName{Type: g.Type, Value: g.Value}
	if g.IP != nil {
		c.IP = append(net.IP(nil), g.IP...)
	}
	c.Directory = CloneName(g.Directory)
	return c
}

// Equal reports whether both names have the same type and value.
func (g GeneralName) Equal(o GeneralName) bool {
	if g.Type != o.Type {
		return false
	}
	switch g.Type {
	case GeneralNameIP:
		return g.IP.Equal(o.IP)
	case GeneralNameDirectory:
		return NameEqual(g.Directory, o.Directory)
	case GeneralNameDNS:
		return NormalizeDNSName(g.Value) == NormalizeDNSName(o.Value)
	default:
		return g.Value == o.Value
	}
}

func (g GeneralName) String() string {
	switch g.Type {
	case GeneralNameIP:
		return "IP:" + g.IP.String()
	case GeneralNameDirectory:
		if g.Directory == nil {
			return "dirName:"
		}
		return "dirName:" + g.Directory.String()
	default:
		return g.Type.String() + ":" + g.Value
	}
}

// MarshalSubjectAltName encodes names as a subjectAltName extension.
func MarshalSubjectAltName(names []GeneralName, critical bool) (pkix.Extension, error) {
	raw := make([]asn1.RawValue, 0, len(names))
	for _, g := range names {
		if err := g.Validate(); err != nil {
			return pkix.Extension{}, err
		}
		rv := asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: int(g.Type)}
		switch g.Type {
		case GeneralNameIP:
			ip := g.IP
			if v4 := ip.To4(); v4 != nil {
				ip = v4
			}
			rv.Bytes = ip
		case GeneralNameDirectory:
			der, err := asn1.Marshal(g.Directory.ToRDNSequence())
			if err != nil {
				return pkix.Extension{}, fmt.Errorf("failed to encode directory name: %w", err)
			}
			rv.IsCompound = true
			rv.Bytes = der
		default:
			rv.Bytes = []byte(g.Value)
		}
		raw = append(raw, rv)
	}
	value, err := asn1.Marshal(raw)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode subjectAltName: %w", err)
	}
	return pkix.Extension{Id: OIDExtSubjectAltName, Critical: critical, Value: value}, nil
}

// HasExtension reports whether exts contains an extension with the given OID.
func HasExtension(exts []pkix.Extension, oid asn1.ObjectIdentifier) bool {
	for _, e := range exts {
		if e.Id.Equal(oid) {
			return true
		}
	}
	return false
}

// NormalizeDNSName lowercases a DNS name and strips a trailing dot.
func NormalizeDNSName(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".")
}

// ValidateDNSName validates a DNS name according to RFC 1035/1123.
// Single-label names are accepted. A wildcard is only valid as the
// leftmost label, needs at least three labels and must not cover a
// public suffix such as "*.co.uk".
func ValidateDNSName(name string) error {
	if name == "" {
		return fmt.Errorf("DNS name cannot be empty")
	}
	name = NormalizeDNSName(name)

	// RFC 1035: total DNS name ≤ 253 characters
	if len(name) > 253 {
		return fmt.Errorf("DNS name too long: %d > 253 characters", len(name))
	}

	labels := strings.Split(name, ".")
	for i, label := range labels {
		if label == "" {
			return fmt.Errorf("empty label in DNS name %q", name)
		}
		if len(label) > 63 {
			return fmt.Errorf("label too long: %q (%d > 63 characters)", label, len(label))
		}
		if label == "*" {
			if i != 0 {
				return fmt.Errorf("wildcard (*) must be leftmost label")
			}
			continue
		}
		if !isValidDNSLabel(label) {
			return fmt.Errorf("invalid DNS label %q", label)
		}
	}

	if labels[0] == "*" {
		if len(labels) < 3 {
			return fmt.Errorf("wildcard requires at least 3 labels (*.domain.tld): %q", name)
		}
		base := strings.Join(labels[1:], ".")
		if suffix, icann := publicsuffix.PublicSuffix(base); icann && suffix == base {
			return fmt.Errorf("wildcard on public suffix not allowed: %q", name)
		}
	}
	return nil
}

// isValidDNSLabel checks RFC 1123 label syntax: alphanumerics and inner hyphens.
func isValidDNSLabel(label string) bool {
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, c := range label {
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		if !isLower && !isDigit && c != '-' {
			return false
		}
	}
	return true
}
