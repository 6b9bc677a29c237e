package main

import (
	"bytes"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/cmpctx/internal/audit"
	pkicrypto "github.com/remiblancher/cmpctx/internal/crypto"
	"github.com/remiblancher/cmpctx/internal/x509util"
)

// executeCommand executes a Cobra command with the given args and returns output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err = root.Execute()
	return buf.String(), err
}

// resetFlags restores every package level flag variable. Cobra keeps flag
// values between Execute calls on the same command tree.
func resetFlags(t *testing.T) {
	t.Helper()
	auditLogPath = ""
	envFile = ""
	verbosity = "info"

	checkConfigPath = ""
	optionsConfigPath = ""
	optionsJSON = false

	keyGenAlgorithm = "ecdsa-p256"
	keyGenOutput = ""
	keyGenPassphrase = ""
	keyInfoPassphrase = ""

	snapshotConfigPath = ""
	snapshotOut = ""
	snapshotSign = false
	snapshotCertPath = ""

	auditLogFile = ""
	auditTailNum = 10
	auditShowJSON = false
	auditType = ""

	t.Setenv("CMPCTX_AUDIT_LOG", "")
	// A failing command skips the post-run hook that closes the log.
	t.Cleanup(func() { _ = audit.Close() })
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
}

// newTestContext creates a new test context with a temp directory and
// fresh flag values.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	resetFlags(t)
	return &testContext{t: t, tempDir: t.TempDir()}
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name, content string) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		tc.t.Fatalf("Failed to write file %s: %v", name, err)
	}
	return path
}

// writeCredentials writes a self-signed ECDSA P-256 certificate and its
// unencrypted key.
func (tc *testContext) writeCredentials() (certPath, keyPath string) {
	tc.t.Helper()
	signer, err := pkicrypto.GenerateSoftwareSigner(pkicrypto.AlgECDSAP256)
	if err != nil {
		tc.t.Fatalf("Failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(42),
		Subject:               pkix.Name{CommonName: "client.example.com", Organization: []string{"Test Org"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, signer.Public(), signer)
	if err != nil {
		tc.t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		tc.t.Fatalf("Failed to parse certificate: %v", err)
	}

	certPath = tc.path("client.crt")
	keyPath = tc.path("client.key")
	if err := x509util.WriteCertificatesPEM(certPath, []*x509.Certificate{cert}); err != nil {
		tc.t.Fatalf("Failed to write certificate: %v", err)
	}
	if err := signer.SavePrivateKey(keyPath, nil); err != nil {
		tc.t.Fatalf("Failed to write key: %v", err)
	}
	return certPath, keyPath
}

// writeConfig writes a context configuration. With credentials, the own
// certificate and key are referenced.
func (tc *testContext) writeConfig(withCredentials bool) string {
	tc.t.Helper()
	var b strings.Builder
	b.WriteString(`server:
  host: ca.example.com
  port: 8080
  path: /pkix/
names:
  recipient: CN=Test CA,O=Test Org
template:
  subject_alt_names:
    - dns:client.example.com
  serial: "0x2a"
options:
  implicit_confirm: 1
  popo_method: 0
`)
	if withCredentials {
		certPath, keyPath := tc.writeCredentials()
		b.WriteString("credentials:\n")
		b.WriteString("  cert: " + certPath + "\n")
		b.WriteString("  key:\n")
		b.WriteString("    type: software\n")
		b.WriteString("    key_path: " + keyPath + "\n")
	}
	return tc.writeFile("context.yaml", b.String())
}

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func assertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func assertContains(t *testing.T, output string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(output, w) {
			t.Errorf("output missing %q:\n%s", w, output)
		}
	}
}
