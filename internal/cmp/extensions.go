package cmp

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"

	"github.com/remiblancher/cmpctx/internal/x509util"
)

// ITAV is an InfoTypeAndValue (RFC 4210 section 5.3.19).
type ITAV struct {
	Type  asn1.ObjectIdentifier
	Value asn1.RawValue `asn1:"optional"`
}

// NewITAV creates an ITAV with the DER encoding of value. A nil value
// yields an ITAV without value, as used in genm requests.
func NewITAV(typ asn1.ObjectIdentifier, value any) (*ITAV, error) {
	itav := &ITAV{Type: append(asn1.ObjectIdentifier(nil), typ...)}
	if value == nil {
		return itav, nil
	}
	der, err := asn1.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ITAV value: %w", err)
	}
	if _, err := asn1.Unmarshal(der, &itav.Value); err != nil {
		return nil, fmt.Errorf("failed to encode ITAV value: %w", err)
	}
	return itav, nil
}

// PolicyQualifier is a PolicyQualifierInfo (RFC 5280 section 4.2.1.4).
type PolicyQualifier struct {
	ID        asn1.ObjectIdentifier
	Qualifier asn1.RawValue
}

// PolicyInfo is a certificate policy requested in the template.
type PolicyInfo struct {
	Policy     asn1.ObjectIdentifier
	Qualifiers []PolicyQualifier `asn1:"optional,omitempty"`
}

// =============================================================================
// Request extensions and subject alternative names
// =============================================================================

// SetRequestExtensions takes the extensions requested in IR/CR/KUR. It
// fails if they contain a subjectAltName while names were pushed with
// PushSubjectAltName.
func (c *Context) SetRequestExtensions(exts []pkix.Extension) error {
	const op = "SetRequestExtensions"
	if c == nil {
		return nullArg(op)
	}
	if len(c.subjectAltNames) > 0 && x509util.HasExtension(exts, x509util.OIDExtSubjectAltName) {
		return c.fail(op, ErrMultipleSANSources, nil)
	}
	c.reqExtensions = exts
	return nil
}

func (c *Context) RequestExtensions() []pkix.Extension {
	if c == nil {
		return nil
	}
	return c.reqExtensions
}

// RequestExtensionsHaveSAN reports whether the request extensions contain
// a subjectAltName.
func (c *Context) RequestExtensionsHaveSAN() bool {
	return c != nil && x509util.HasExtension(c.reqExtensions, x509util.OIDExtSubjectAltName)
}

// PushSubjectAltName appends a copy of name to the subject alternative
// names requested. It fails if the request extensions already carry a
// subjectAltName.
func (c *Context) PushSubjectAltName(name x509util.GeneralName) error {
	const op = "PushSubjectAltName"
	if c == nil {
		return nullArg(op)
	}
	if err := name.Validate(); err != nil {
		return c.fail(op, ErrInvalidGeneralName, err)
	}
	if c.RequestExtensionsHaveSAN() {
		return c.fail(op, ErrMultipleSANSources, nil)
	}
	c.subjectAltNames = append(c.subjectAltNames, name.Clone())
	return nil
}

// SubjectAltNames returns the pushed subject alternative names.
func (c *Context) SubjectAltNames() []x509util.GeneralName {
	if c == nil {
		return nil
	}
	return append([]x509util.GeneralName(nil), c.subjectAltNames...)
}

// =============================================================================
// Policies and InfoTypeAndValues (append only)
// =============================================================================

// PushPolicy takes ownership of a policy to be requested.
func (c *Context) PushPolicy(p *PolicyInfo) error {
	const op = "PushPolicy"
	if c == nil {
		return nullArg(op)
	}
	if p == nil {
		return c.fail(op, ErrNullArgument, fmt.Errorf("policy"))
	}
	c.policies = append(c.policies, p)
	return nil
}

func (c *Context) Policies() []*PolicyInfo {
	if c == nil {
		return nil
	}
	return c.policies
}

// PushGeneralInfo takes ownership of an ITAV for the generalInfo field of
// the PKIHeader.
func (c *Context) PushGeneralInfo(itav *ITAV) error {
	const op = "PushGeneralInfo"
	if c == nil {
		return nullArg(op)
	}
	if itav == nil {
		return c.fail(op, ErrNullArgument, fmt.Errorf("itav"))
	}
	c.generalInfo = append(c.generalInfo, itav)
	return nil
}

// ResetGeneralInfo removes all generalInfo ITAVs.
func (c *Context) ResetGeneralInfo() error {
	if c == nil {
		return nullArg("ResetGeneralInfo")
	}
	c.generalInfo = nil
	return nil
}

func (c *Context) GeneralInfo() []*ITAV {
	if c == nil {
		return nil
	}
	return c.generalInfo
}

// PushGenm takes ownership of an ITAV for the body of outgoing general
// messages. The list is cleared by Reinit.
func (c *Context) PushGenm(itav *ITAV) error {
	const op = "PushGenm"
	if c == nil {
		return nullArg(op)
	}
	if itav == nil {
		return c.fail(op, ErrNullArgument, fmt.Errorf("itav"))
	}
	c.genmITAVs = append(c.genmITAVs, itav)
	return nil
}

func (c *Context) Genm() []*ITAV {
	if c == nil {
		return nil
	}
	return c.genmITAVs
}

// =============================================================================
// Template extensions
// =============================================================================

// TemplateExtensions returns the extensions for the certificate template:
// the request extensions, a subjectAltName built from the pushed names
// and a certificatePolicies extension. Without pushed names and unless
// san_nodefault is set, the SANs of the reference certificate (old
// certificate, else own certificate) are reused.
func (c *Context) TemplateExtensions() ([]pkix.Extension, error) {
	const op = "TemplateExtensions"
	if c == nil {
		return nil, nullArg(op)
	}

	exts := append([]pkix.Extension(nil), c.reqExtensions...)

	sans := c.subjectAltNames
	if len(sans) == 0 && c.sanNoDefault == 0 && !c.RequestExtensionsHaveSAN() {
		sans = c.referenceSANs()
	}
	if len(sans) > 0 {
		ext, err := x509util.MarshalSubjectAltName(sans, c.sanCritical != 0)
		if err != nil {
			return nil, c.fail(op, ErrInvalidGeneralName, err)
		}
		exts = append(exts, ext)
	}

	if len(c.policies) > 0 {
		value, err := asn1.Marshal(derefPolicies(c.policies))
		if err != nil {
			return nil, c.fail(op, ErrAllocation, err)
		}
		exts = append(exts, pkix.Extension{
			Id:       x509util.OIDExtCertificatePolicies,
			Critical: c.policiesCritical != 0,
			Value:    value,
		})
	}
	return exts, nil
}

func derefPolicies(ps []*PolicyInfo) []PolicyInfo {
	out := make([]PolicyInfo, 0, len(ps))
	for _, p := range ps {
		out = append(out, *p)
	}
	return out
}

// referenceSANs returns the SANs of the old certificate, else the own one.
func (c *Context) referenceSANs() []x509util.GeneralName {
	ref := c.oldCert
	if ref == nil {
		ref = c.cert
	}
	cert := ref.Certificate()
	if cert == nil {
		return nil
	}

	var out []x509util.GeneralName
	for _, d := range cert.DNSNames {
		out = append(out, x509util.GeneralName{Type: x509util.GeneralNameDNS, Value: d})
	}
	for _, e := range cert.EmailAddresses {
		out = append(out, x509util.GeneralName{Type: x509util.GeneralNameEmail, Value: e})
	}
	for _, ip := range cert.IPAddresses {
		out = append(out, x509util.GeneralName{Type: x509util.GeneralNameIP, IP: append(net.IP(nil), ip...)})
	}
	for _, u := range cert.URIs {
		out = append(out, x509util.GeneralName{Type: x509util.GeneralNameURI, Value: u.String()})
	}
	return out
}
