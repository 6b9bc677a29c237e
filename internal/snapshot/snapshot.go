// Package snapshot exports the durable configuration of a CMP context as
// CBOR, optionally sealed in a COSE_Sign1 message, and restores it into a
// fresh context.
//
// A snapshot never carries key material or the PBM secret. Transaction
// state (nonces, transaction ID, status, received certificates, genm
// ITAVs) is not exported either: a restored context starts a new
// transaction. Request extensions and generalInfo ITAVs survive Reinit
// and are exported with the template.
package snapshot

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/remiblancher/cmpctx/internal/cmp"
	"github.com/remiblancher/cmpctx/internal/x509util"
)

// Version is the snapshot format version.
const Version = 1

// ContentType identifies a snapshot payload in COSE headers.
const ContentType = "application/cmpctx-snapshot+cbor"

var (
	// ErrUnsupportedVersion indicates a snapshot written by a newer format.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrInvalidSnapshot indicates a snapshot that cannot be decoded.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

// Snapshot is the exported configuration of a context. Certificates,
// names and policies are kept in their DER encoding.
type Snapshot struct {
	Version       int    `cbor:"1,keyasint"`
	CreatedAt     int64  `cbor:"2,keyasint"`
	PropertyQuery string `cbor:"3,keyasint,omitempty"`

	Server Server `cbor:"4,keyasint"`

	Recipient      []byte `cbor:"5,keyasint,omitempty"`
	ExpectedSender []byte `cbor:"6,keyasint,omitempty"`
	Issuer         []byte `cbor:"7,keyasint,omitempty"`
	Subject        []byte `cbor:"8,keyasint,omitempty"`

	Reference []byte `cbor:"9,keyasint,omitempty"`

	Cert          []byte   `cbor:"10,keyasint,omitempty"`
	ServerCert    []byte   `cbor:"11,keyasint,omitempty"`
	OldCert       []byte   `cbor:"12,keyasint,omitempty"`
	Trusted       [][]byte `cbor:"13,keyasint,omitempty"`
	Untrusted     [][]byte `cbor:"14,keyasint,omitempty"`
	ExtraCertsOut [][]byte `cbor:"15,keyasint,omitempty"`

	SubjectAltNames []GeneralName `cbor:"16,keyasint,omitempty"`
	Policies        [][]byte      `cbor:"17,keyasint,omitempty"`
	Serial          []byte        `cbor:"18,keyasint,omitempty"` // DER INTEGER
	CSR             []byte        `cbor:"19,keyasint,omitempty"`

	PBMIterations int `cbor:"20,keyasint"`
	PBMSaltLength int `cbor:"21,keyasint"`

	Options map[string]int `cbor:"22,keyasint"`

	RequestExtensions [][]byte `cbor:"23,keyasint,omitempty"`
	GeneralInfo       [][]byte `cbor:"24,keyasint,omitempty"`
}

// Server locates the CMP server.
type Server struct {
	Host    string `cbor:"1,keyasint,omitempty"`
	Port    int    `cbor:"2,keyasint,omitempty"`
	Path    string `cbor:"3,keyasint,omitempty"`
	Proxy   string `cbor:"4,keyasint,omitempty"`
	NoProxy string `cbor:"5,keyasint,omitempty"`
}

// GeneralName is a subject alternative name entry. Directory names are
// DER encoded.
type GeneralName struct {
	Type  int    `cbor:"1,keyasint"`
	Value string `cbor:"2,keyasint,omitempty"`
	IP    []byte `cbor:"3,keyasint,omitempty"`
	DN    []byte `cbor:"4,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Take captures the configuration of ctx.
func Take(ctx *cmp.Context) (*Snapshot, error) {
	if ctx == nil {
		return nil, cmp.NewError("Take", cmp.ErrNullArgument)
	}

	s := &Snapshot{
		Version:       Version,
		CreatedAt:     time.Now().UTC().Unix(),
		PropertyQuery: ctx.PropertyQuery(),
		Server: Server{
			Host:    ctx.Server(),
			Port:    ctx.ServerPort(),
			Path:    ctx.ServerPath(),
			Proxy:   ctx.Proxy(),
			NoProxy: ctx.NoProxy(),
		},
		Reference:  ctx.ReferenceValue(),
		Cert:       certDER(ctx.Cert()),
		ServerCert: certDER(ctx.ServerCert()),
		OldCert:    certDER(ctx.OldCert()),
		Trusted:    listDER(ctx.Trusted().Anchors()),
		Untrusted:  listDER(ctx.Untrusted()),
		Options:    ctx.OptionValues(),
	}
	s.PBMIterations, s.PBMSaltLength = ctx.PBMParameters()

	var err error
	for _, n := range []struct {
		dst  *[]byte
		name *pkix.Name
	}{
		{&s.Recipient, ctx.Recipient()},
		{&s.ExpectedSender, ctx.ExpectedSender()},
		{&s.Issuer, ctx.Issuer()},
		{&s.Subject, ctx.SubjectName()},
	} {
		if *n.dst, err = nameDER(n.name); err != nil {
			return nil, err
		}
	}

	extra, err := ctx.ExtraCertsOut()
	if err != nil {
		return nil, err
	}
	s.ExtraCertsOut = listDER(extra)
	x509util.FreeAll(extra)

	for _, g := range ctx.SubjectAltNames() {
		sg := GeneralName{Type: int(g.Type), Value: g.Value, IP: g.IP}
		if sg.DN, err = nameDER(g.Directory); err != nil {
			return nil, err
		}
		s.SubjectAltNames = append(s.SubjectAltNames, sg)
	}
	for _, p := range ctx.Policies() {
		der, err := asn1.Marshal(*p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode policy %s: %w", p.Policy, err)
		}
		s.Policies = append(s.Policies, der)
	}
	if sn := ctx.SerialNumber(); sn != nil {
		if s.Serial, err = asn1.Marshal(sn); err != nil {
			return nil, fmt.Errorf("failed to encode serial number: %w", err)
		}
	}
	for _, ext := range ctx.RequestExtensions() {
		der, err := asn1.Marshal(ext)
		if err != nil {
			return nil, fmt.Errorf("failed to encode extension %s: %w", ext.Id, err)
		}
		s.RequestExtensions = append(s.RequestExtensions, der)
	}
	for _, itav := range ctx.GeneralInfo() {
		der, err := asn1.Marshal(*itav)
		if err != nil {
			return nil, fmt.Errorf("failed to encode generalInfo %s: %w", itav.Type, err)
		}
		s.GeneralInfo = append(s.GeneralInfo, der)
	}
	if csr := ctx.P10CSR(); csr != nil {
		s.CSR = csr.Raw
	}
	return s, nil
}

// Marshal encodes the snapshot as deterministic CBOR.
func (s *Snapshot) Marshal() ([]byte, error) {
	return encMode.Marshal(s)
}

// Unmarshal decodes a CBOR snapshot.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := decMode.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, s.Version)
	}
	return &s, nil
}

// Time returns the creation time of the snapshot.
func (s *Snapshot) Time() time.Time {
	return time.Unix(s.CreatedAt, 0).UTC()
}

// Restore applies the snapshot to ctx. Keys and the PBM secret must be
// set separately. Restore stops at the first failing field. Options that
// already hold the snapshot value are left alone, so defaults outside the
// settable range (msg_timeout and use_tls start at -1) restore cleanly.
func (s *Snapshot) Restore(ctx *cmp.Context) error {
	if ctx == nil {
		return cmp.NewError("Restore", cmp.ErrNullArgument)
	}

	sv := s.Server
	for _, set := range []func() error{
		func() error { return ctx.SetServer(sv.Host) },
		func() error { return ctx.SetServerPort(sv.Port) },
		func() error { return ctx.SetServerPath(sv.Path) },
		func() error { return ctx.SetProxy(sv.Proxy) },
		func() error { return ctx.SetNoProxy(sv.NoProxy) },
	} {
		if err := set(); err != nil {
			return err
		}
	}

	for _, n := range []struct {
		der []byte
		set func(*pkix.Name) error
	}{
		{s.Recipient, ctx.SetRecipient},
		{s.ExpectedSender, ctx.SetExpectedSender},
		{s.Issuer, ctx.SetIssuer},
		{s.Subject, ctx.SetSubjectName},
	} {
		if len(n.der) == 0 {
			continue
		}
		name, err := parseName(n.der)
		if err != nil {
			return err
		}
		if err := n.set(name); err != nil {
			return err
		}
	}

	if len(s.Reference) > 0 {
		if err := ctx.SetReferenceValue(s.Reference); err != nil {
			return err
		}
	}

	if err := s.restoreCerts(ctx); err != nil {
		return err
	}
	if err := s.restoreTemplate(ctx); err != nil {
		return err
	}

	if err := ctx.SetPBMParameters(s.PBMIterations, s.PBMSaltLength); err != nil {
		return err
	}
	for _, opt := range cmp.Options() {
		v, ok := s.Options[opt.String()]
		if !ok {
			continue
		}
		if cur, err := ctx.Option(opt); err == nil && cur == v {
			continue
		}
		if err := ctx.SetOption(opt, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Snapshot) restoreCerts(ctx *cmp.Context) error {
	for _, c := range []struct {
		der []byte
		set func(*x509util.Cert) error
	}{
		{s.Cert, ctx.SetCert},
		{s.ServerCert, ctx.SetServerCert},
		{s.OldCert, ctx.SetOldCert},
	} {
		if len(c.der) == 0 {
			continue
		}
		cert, err := x509util.ParseCert(c.der)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		err = c.set(cert)
		cert.Free()
		if err != nil {
			return err
		}
	}

	if len(s.Trusted) > 0 {
		anchors, err := parseList(s.Trusted)
		if err != nil {
			return err
		}
		store := x509util.NewTrustStore()
		for _, a := range anchors {
			_ = store.Add(a)
		}
		x509util.FreeAll(anchors)
		if err := ctx.SetTrusted(store); err != nil {
			store.Free()
			return err
		}
	}

	for _, l := range []struct {
		ders [][]byte
		set  func([]*x509util.Cert) error
	}{
		{s.Untrusted, ctx.SetUntrusted},
		{s.ExtraCertsOut, ctx.SetExtraCertsOut},
	} {
		if len(l.ders) == 0 {
			continue
		}
		certs, err := parseList(l.ders)
		if err != nil {
			return err
		}
		err = l.set(certs)
		x509util.FreeAll(certs)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Snapshot) restoreTemplate(ctx *cmp.Context) error {
	for _, sg := range s.SubjectAltNames {
		g := x509util.GeneralName{
			Type:  x509util.GeneralNameType(sg.Type),
			Value: sg.Value,
		}
		if len(sg.IP) > 0 {
			g.IP = net.IP(sg.IP)
		}
		if len(sg.DN) > 0 {
			dn, err := parseName(sg.DN)
			if err != nil {
				return err
			}
			g.Directory = dn
		}
		if err := ctx.PushSubjectAltName(g); err != nil {
			return err
		}
	}

	for _, der := range s.Policies {
		var p cmp.PolicyInfo
		rest, err := asn1.Unmarshal(der, &p)
		if err != nil || len(rest) > 0 {
			return fmt.Errorf("%w: malformed policy", ErrInvalidSnapshot)
		}
		if err := ctx.PushPolicy(&p); err != nil {
			return err
		}
	}

	if len(s.Serial) > 0 {
		var sn *big.Int
		rest, err := asn1.Unmarshal(s.Serial, &sn)
		if err != nil || len(rest) > 0 {
			return fmt.Errorf("%w: malformed serial number", ErrInvalidSnapshot)
		}
		if err := ctx.SetSerialNumber(sn); err != nil {
			return err
		}
	}
	if len(s.RequestExtensions) > 0 {
		exts := make([]pkix.Extension, 0, len(s.RequestExtensions))
		for _, der := range s.RequestExtensions {
			var ext pkix.Extension
			rest, err := asn1.Unmarshal(der, &ext)
			if err != nil || len(rest) > 0 {
				return fmt.Errorf("%w: malformed request extension", ErrInvalidSnapshot)
			}
			exts = append(exts, ext)
		}
		if err := ctx.SetRequestExtensions(exts); err != nil {
			return err
		}
	}
	for _, der := range s.GeneralInfo {
		itav := new(cmp.ITAV)
		rest, err := asn1.Unmarshal(der, itav)
		if err != nil || len(rest) > 0 {
			return fmt.Errorf("%w: malformed generalInfo", ErrInvalidSnapshot)
		}
		if err := ctx.PushGeneralInfo(itav); err != nil {
			return err
		}
	}
	if len(s.CSR) > 0 {
		csr, err := x509.ParseCertificateRequest(s.CSR)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		if err := ctx.SetP10CSR(csr); err != nil {
			return err
		}
	}
	return nil
}

func certDER(c *x509util.Cert) []byte {
	if cert := c.Certificate(); cert != nil {
		return cert.Raw
	}
	return nil
}

func listDER(certs []*x509util.Cert) [][]byte {
	var out [][]byte
	for _, c := range certs {
		if der := certDER(c); der != nil {
			out = append(out, der)
		}
	}
	return out
}

func parseList(ders [][]byte) ([]*x509util.Cert, error) {
	out := make([]*x509util.Cert, 0, len(ders))
	for _, der := range ders {
		c, err := x509util.ParseCert(der)
		if err != nil {
			x509util.FreeAll(out)
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func nameDER(n *pkix.Name) ([]byte, error) {
	if n == nil {
		return nil, nil
	}
	der, err := asn1.Marshal(n.ToRDNSequence())
	if err != nil {
		return nil, fmt.Errorf("failed to encode name: %w", err)
	}
	return der, nil
}

func parseName(der []byte) (*pkix.Name, error) {
	var rdns pkix.RDNSequence
	rest, err := asn1.Unmarshal(der, &rdns)
	if err != nil || len(rest) > 0 {
		return nil, fmt.Errorf("%w: malformed name", ErrInvalidSnapshot)
	}
	return x509util.NameFromRDNSequence(rdns), nil
}
