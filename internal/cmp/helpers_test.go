package cmp

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/remiblancher/cmpctx/internal/x509util"
)

type testPKI struct {
	root, inter, leaf *x509util.Cert
	leafKey           *ecdsa.PrivateKey
}

func generateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func issueCert(t *testing.T, tmpl, parent *x509.Certificate, pub any, signer *ecdsa.PrivateKey) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return cert
}

func caTemplate(serial int64, cn string) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
}

// newTestPKI issues root -> intermediate -> leaf. Each handle holds the
// test's single reference.
func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	rootKey, interKey := generateKey(t), generateKey(t)

	rootTmpl := caTemplate(1, "Test Root CA")
	root := issueCert(t, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	inter := issueCert(t, caTemplate(2, "Test Intermediate CA"), root, &interKey.PublicKey, rootKey)

	leafKey := generateKey(t)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "client.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		DNSNames:     []string{"client.example.com"},
		IPAddresses:  []net.IP{net.ParseIP("192.0.2.10")},
	}
	leaf := issueCert(t, leafTmpl, inter, &leafKey.PublicKey, interKey)

	return &testPKI{
		root:    x509util.NewCert(root),
		inter:   x509util.NewCert(inter),
		leaf:    x509util.NewCert(leaf),
		leafKey: leafKey,
	}
}

func newTestContext(t *testing.T) *Context {
	t.Helper()
	ctx, err := New(nil, "")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = ctx.Close() })
	return ctx
}

// fakeTransport counts Close calls.
type fakeTransport struct {
	closed int
	err    error
}

func (f *fakeTransport) Close() error {
	f.closed++
	return f.err
}

// logRecorder collects log callback invocations.
type logRecorder struct {
	levels []Severity
	msgs   []string
	fns    []string
}

func (r *logRecorder) cb(fn, file string, line int, level Severity, msg string) bool {
	r.levels = append(r.levels, level)
	r.msgs = append(r.msgs, msg)
	r.fns = append(r.fns, fn)
	return true
}
