package config

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/remiblancher/cmpctx/internal/audit"
	"github.com/remiblancher/cmpctx/internal/cmp"
	pkicrypto "github.com/remiblancher/cmpctx/internal/crypto"
	"github.com/remiblancher/cmpctx/internal/x509util"
)

// =============================================================================
// Helpers
// =============================================================================

type testFiles struct {
	dir       string
	rootCert  string
	interCert string
	leafCert  string
	leafKey   string
	newKey    string
}

func issue(t *testing.T, tmpl, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	return cert
}

func generateSigner(t *testing.T) *pkicrypto.SoftwareSigner {
	t.Helper()
	s, err := pkicrypto.GenerateSoftwareSigner(pkicrypto.AlgECDSAP256)
	if err != nil {
		t.Fatalf("GenerateSoftwareSigner() error = %v", err)
	}
	return s
}

func template(serial int64, cn string, ca bool) *x509.Certificate {
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		BasicConstraintsValid: true,
		IsCA:                  ca,
	}
	if ca {
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
	} else {
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	}
	return tmpl
}

// writePKI writes a root, an intermediate and a leaf certificate with its
// key, plus a spare key for certificate requests.
func writePKI(t *testing.T) *testFiles {
	t.Helper()
	dir := t.TempDir()
	f := &testFiles{
		dir:       dir,
		rootCert:  filepath.Join(dir, "root.pem"),
		interCert: filepath.Join(dir, "inter.pem"),
		leafCert:  filepath.Join(dir, "leaf.pem"),
		leafKey:   filepath.Join(dir, "leaf.key"),
		newKey:    filepath.Join(dir, "new.key"),
	}

	rootKey := generateSigner(t)
	rootTmpl := template(1, "Test Root", true)
	root := issue(t, rootTmpl, rootTmpl, rootKey.Public(), rootKey)

	interKey := generateSigner(t)
	inter := issue(t, template(2, "Test Issuing CA", true), root, interKey.Public(), rootKey)

	leafKey := generateSigner(t)
	leaf := issue(t, template(3, "client.example.com", false), inter, leafKey.Public(), interKey)

	for path, cert := range map[string]*x509.Certificate{
		f.rootCert:  root,
		f.interCert: inter,
		f.leafCert:  leaf,
	} {
		if err := x509util.WriteCertificatesPEM(path, []*x509.Certificate{cert}); err != nil {
			t.Fatalf("WriteCertificatesPEM() error = %v", err)
		}
	}
	if err := leafKey.SavePrivateKey(f.leafKey, nil); err != nil {
		t.Fatalf("SavePrivateKey() error = %v", err)
	}
	if err := generateSigner(t).SavePrivateKey(f.newKey, nil); err != nil {
		t.Fatalf("SavePrivateKey() error = %v", err)
	}
	return f
}

// initAudit routes audit events to a file in a fresh directory.
func initAudit(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	if err := audit.InitFile(path); err != nil {
		t.Fatalf("InitFile() error = %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })
	return path
}

func eventTypes(t *testing.T, path string) []audit.EventType {
	t.Helper()
	events, err := audit.ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents() error = %v", err)
	}
	var out []audit.EventType
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}

// =============================================================================
// Parse / Validate Tests
// =============================================================================

func TestU_Parse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "[Unit] Parse: minimal",
			yaml: "server:\n  host: ca.example.com\n",
		},
		{
			name: "[Unit] Parse: full",
			yaml: `
property_query: fips=yes
verbosity: debug
server:
  host: ca.example.com
  port: 8080
  path: /pkix/
names:
  recipient: CN=Test CA,O=Example
  subject: /CN=client/O=Example
credentials:
  secret_env: CMP_SECRET
  reference: client-1
template:
  subject_alt_names: [client.example.com, "IP:192.0.2.1"]
  policies: [2.5.29.32.0]
  serial: "0x1f"
pbm:
  iterations: 1000
  owf: sha384
digest: sha512
options:
  implicit_confirm: 1
  popo_method: 0
`,
		},
		{
			name:    "[Unit] Parse: invalid YAML",
			yaml:    "server: [",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "[Unit] Parse: port out of range",
			yaml:    "server:\n  port: 70000\n",
			wantErr: "server.port",
		},
		{
			name:    "[Unit] Parse: unknown verbosity",
			yaml:    "verbosity: chatty\n",
			wantErr: "verbosity",
		},
		{
			name:    "[Unit] Parse: bad property query",
			yaml:    "property_query: color=blue\n",
			wantErr: "property_query",
		},
		{
			name:    "[Unit] Parse: bad DN",
			yaml:    "names:\n  issuer: nonsense\n",
			wantErr: "names.issuer",
		},
		{
			name:    "[Unit] Parse: key without cert",
			yaml:    "credentials:\n  key:\n    key_path: /tmp/k.pem\n",
			wantErr: "requires credentials.cert",
		},
		{
			name:    "[Unit] Parse: software key without path",
			yaml:    "credentials:\n  cert: c.pem\n  key:\n    type: software\n",
			wantErr: "key_path is required",
		},
		{
			name:    "[Unit] Parse: pkcs11 key without label",
			yaml:    "template:\n  new_key:\n    type: pkcs11\n    pkcs11_lib: /usr/lib/softhsm.so\n",
			wantErr: "pkcs11_key_label or pkcs11_key_id",
		},
		{
			name:    "[Unit] Parse: unsupported key storage",
			yaml:    "template:\n  new_key:\n    type: tpm\n",
			wantErr: "unsupported key storage",
		},
		{
			name:    "[Unit] Parse: new_key and csr",
			yaml:    "template:\n  csr: req.pem\n  new_key:\n    key_path: k.pem\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "[Unit] Parse: bad SAN",
			yaml:    "template:\n  subject_alt_names: [\"IP:not-an-ip\"]\n",
			wantErr: "template.subject_alt_names",
		},
		{
			name:    "[Unit] Parse: bad policy",
			yaml:    "template:\n  policies: [x.y]\n",
			wantErr: "template.policies",
		},
		{
			name:    "[Unit] Parse: bad serial",
			yaml:    "template:\n  serial: twelve\n",
			wantErr: "template.serial",
		},
		{
			name:    "[Unit] Parse: iterations too small",
			yaml:    "pbm:\n  iterations: 10\n",
			wantErr: "pbm.iterations",
		},
		{
			name:    "[Unit] Parse: salt too long",
			yaml:    "pbm:\n  salt_length: 1000\n",
			wantErr: "pbm.salt_length",
		},
		{
			name:    "[Unit] Parse: unknown digest",
			yaml:    "digest: whirlpool\n",
			wantErr: "digest",
		},
		{
			name:    "[Unit] Parse: digest rejected by properties",
			yaml:    "property_query: fips=yes\ndigest: md5\n",
			wantErr: "digest",
		},
		{
			name:    "[Unit] Parse: unknown option",
			yaml:    "options:\n  turbo: 1\n",
			wantErr: "invalid option",
		},
		{
			name:    "[Unit] Parse: option out of range",
			yaml:    "options:\n  popo_method: 4\n",
			wantErr: "options.popo_method",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Parse() error = %v", err)
				}
				if cfg == nil {
					t.Fatal("Parse() returned nil config")
				}
				return
			}
			if err == nil {
				t.Fatalf("Parse() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want it to contain %q", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Parse() error should match ErrInvalidConfig: %v", err)
			}
		})
	}
}

func TestU_Parse_FullValues(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  host: ca.example.com
  port: 8080
trust:
  trusted: [a.pem, b.pem]
  build_chain: true
credentials:
  cert: c.pem
  key:
    key_path: k.pem
    passphrase: env:KEY_PASS
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Server.Host != "ca.example.com" || cfg.Server.Port != 8080 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if len(cfg.Trust.Trusted) != 2 || !cfg.Trust.BuildChain {
		t.Errorf("Trust = %+v", cfg.Trust)
	}
	if cfg.Credentials.Key == nil || cfg.Credentials.Key.Passphrase != "env:KEY_PASS" {
		t.Errorf("Credentials.Key = %+v", cfg.Credentials.Key)
	}
}

func TestU_Validate_AggregatesErrors(t *testing.T) {
	cfg := &Config{
		Verbosity: "loud",
		Server:    ServerConfig{Port: -1},
		Options:   map[string]int{"turbo": 1},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("Validate() error type = %T, want *multierror.Error", err)
	}
	if len(merr.Errors) != 3 {
		t.Errorf("Validate() reported %d errors, want 3: %v", len(merr.Errors), err)
	}
	if !errors.Is(err, cmp.ErrInvalidOption) {
		t.Error("Validate() error should match ErrInvalidOption")
	}
}

func TestU_Validate_Empty(t *testing.T) {
	if err := (&Config{}).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestU_CheckInline(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{"[Unit] CheckInline: self-contained", "server:\n  host: ca.example.com\ntemplate:\n  serial: \"7\"\n", nil},
		{"[Unit] CheckInline: certificate and key files", "credentials:\n  cert: /x/c.pem\n  key:\n    key_path: /x/k.pem\n", []string{"credentials.cert", "credentials.key"}},
		{"[Unit] CheckInline: PKCS#11 module", "credentials:\n  cert: /x/c.pem\n  key:\n    type: pkcs11\n    pkcs11_lib: /tmp/evil.so\n    pkcs11_key_label: k\n", []string{"credentials.cert", "credentials.key"}},
		{"[Unit] CheckInline: secret env", "credentials:\n  secret_env: HOME\n", []string{"credentials.secret_env"}},
		{"[Unit] CheckInline: trust files", "trust:\n  trusted: [/a]\n  untrusted: [/b]\n  server_cert: /c\n  extra_certs: [/d]\n", []string{"trust.trusted", "trust.untrusted", "trust.server_cert", "trust.extra_certs"}},
		{"[Unit] CheckInline: template files", "template:\n  old_cert: /a\n  csr: /b\n", []string{"template.old_cert", "template.csr"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got := cfg.HostResources(); strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("HostResources() = %v, want %v", got, tt.want)
			}
			err = cfg.CheckInline()
			if len(tt.want) == 0 {
				if err != nil {
					t.Errorf("CheckInline() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) || !errors.Is(err, ErrHostResource) {
				t.Fatalf("CheckInline() error = %v, want ErrInvalidConfig and ErrHostResource", err)
			}
			var merr *multierror.Error
			if !errors.As(err, &merr) || len(merr.Errors) != len(tt.want) {
				t.Errorf("CheckInline() problems = %v, want %d", err, len(tt.want))
			}
		})
	}
}

func TestU_Load(t *testing.T) {
	t.Run("[Unit] Load: file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cmp.yaml")
		if err := os.WriteFile(path, []byte("server:\n  host: ca.example.com\n"), 0600); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Server.Host != "ca.example.com" {
			t.Errorf("Server.Host = %q", cfg.Server.Host)
		}
	})

	t.Run("[Unit] Load: missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
			t.Errorf("Load() error = %v", err)
		}
	})
}

// =============================================================================
// Apply Tests
// =============================================================================

func TestU_NewContext_Full(t *testing.T) {
	files := writePKI(t)
	auditPath := initAudit(t)
	t.Setenv("CMP_TEST_SECRET", "shared-secret")

	cfg := &Config{
		Verbosity: "debug",
		Server:    ServerConfig{Host: "ca.example.com", Port: 8080, Path: "/pkix/"},
		Names: NamesConfig{
			Recipient: "CN=Test Issuing CA",
			Subject:   "CN=client.example.com,O=Example",
		},
		Credentials: CredentialsConfig{
			Cert:      files.leafCert,
			Key:       &pkicrypto.KeyStorageConfig{KeyPath: files.leafKey},
			SecretEnv: "CMP_TEST_SECRET",
			Reference: "client-1",
		},
		Trust: TrustConfig{
			Trusted:    []string{files.rootCert},
			Untrusted:  []string{files.interCert},
			ServerCert: files.interCert,
			BuildChain: true,
		},
		Template: TemplateConfig{
			SubjectAltNames: []string{"client.example.com", "IP:192.0.2.10"},
			Policies:        []string{"2.5.29.32.0"},
			Serial:          "0x1f",
			NewKey:          &pkicrypto.KeyStorageConfig{KeyPath: files.newKey},
		},
		PBM:     PBMConfig{Iterations: 1000, OWF: "sha384"},
		Digest:  "sha512",
		Options: map[string]int{"implicit_confirm": 1, "popo_method": 0},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	ctx, release, err := NewContext(cfg, "ctx-1")
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}

	if got := ctx.Verbosity(); got != cmp.SeverityDebug {
		t.Errorf("Verbosity() = %v, want DEBUG", got)
	}
	if ctx.Server() != "ca.example.com" || ctx.ServerPort() != 8080 || ctx.ServerPath() != "/pkix/" {
		t.Errorf("server = %s:%d%s", ctx.Server(), ctx.ServerPort(), ctx.ServerPath())
	}
	if ctx.Recipient() == nil || ctx.Recipient().CommonName != "Test Issuing CA" {
		t.Errorf("Recipient() = %v", ctx.Recipient())
	}
	if ctx.Cert() == nil || ctx.PrivateKey() == nil {
		t.Fatal("own credentials not set")
	}
	if !ctx.HasSecretValue() || string(ctx.ReferenceValue()) != "client-1" {
		t.Error("PBM secret or reference not set")
	}
	if ctx.Trusted().Len() != 1 {
		t.Errorf("Trusted().Len() = %d, want 1", ctx.Trusted().Len())
	}
	if len(ctx.Untrusted()) != 1 {
		t.Errorf("Untrusted() len = %d, want 1", len(ctx.Untrusted()))
	}
	if ctx.ServerCert() == nil {
		t.Error("ServerCert() not set")
	}

	chain := ctx.Chain()
	// leaf and intermediate; the root is not among the untrusted certs
	if len(chain) != 2 {
		t.Errorf("Chain() len = %d, want 2", len(chain))
	}
	extra, err := ctx.ExtraCertsOut()
	if err != nil {
		t.Fatalf("ExtraCertsOut() error = %v", err)
	}
	if len(extra) != len(chain) {
		t.Errorf("ExtraCertsOut() len = %d, want %d", len(extra), len(chain))
	}
	x509util.FreeAll(extra)

	if n := len(ctx.SubjectAltNames()); n != 2 {
		t.Errorf("SubjectAltNames() len = %d, want 2", n)
	}
	if n := len(ctx.Policies()); n != 1 {
		t.Errorf("Policies() len = %d, want 1", n)
	}
	if sn := ctx.SerialNumber(); sn == nil || sn.Int64() != 31 {
		t.Errorf("SerialNumber() = %v, want 31", sn)
	}
	if !ctx.NewKeyIsPrivate() {
		t.Error("new key should be private")
	}
	if it, _ := ctx.PBMParameters(); it != 1000 {
		t.Errorf("PBM iterations = %d, want 1000", it)
	}
	if ctx.PBMOWF() != crypto.SHA384 {
		t.Errorf("PBMOWF() = %v, want SHA-384", ctx.PBMOWF())
	}
	if ctx.Digest() != crypto.SHA512 {
		t.Errorf("Digest() = %v, want SHA-512", ctx.Digest())
	}
	if v, _ := ctx.Option(cmp.OptImplicitConfirm); v != 1 {
		t.Errorf("implicit_confirm = %d, want 1", v)
	}
	if v, _ := ctx.Option(cmp.OptPopoMethod); v != 0 {
		t.Errorf("popo_method = %d, want 0", v)
	}

	release()
	if !ctx.Closed() {
		t.Error("release() should close the context")
	}

	want := []audit.EventType{
		audit.EventContextCreated,
		audit.EventCredentialLoaded,
		audit.EventSecretConfigured,
		audit.EventTrustLoaded,
		audit.EventChainBuilt,
		audit.EventOptionChanged,
		audit.EventOptionChanged,
		audit.EventContextClosed,
	}
	got := eventTypes(t, auditPath)
	if len(got) != len(want) {
		t.Fatalf("audit events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	if n, err := audit.VerifyChain(auditPath); err != nil || n != len(want) {
		t.Errorf("VerifyChain() = %d, %v", n, err)
	}
}

func TestU_Apply_Errors(t *testing.T) {
	files := writePKI(t)

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "[Unit] Apply: missing cert file",
			cfg:     Config{Credentials: CredentialsConfig{Cert: filepath.Join(files.dir, "none.pem")}},
			wantErr: "credentials.cert",
		},
		{
			name: "[Unit] Apply: missing key file",
			cfg: Config{Credentials: CredentialsConfig{
				Cert: files.leafCert,
				Key:  &pkicrypto.KeyStorageConfig{KeyPath: filepath.Join(files.dir, "none.key")},
			}},
			wantErr: "credentials.key",
		},
		{
			name:    "[Unit] Apply: unset secret variable",
			cfg:     Config{Credentials: CredentialsConfig{SecretEnv: "CMP_TEST_UNSET_SECRET"}},
			wantErr: "CMP_TEST_UNSET_SECRET",
		},
		{
			name:    "[Unit] Apply: missing trust file",
			cfg:     Config{Trust: TrustConfig{Trusted: []string{filepath.Join(files.dir, "none.pem")}}},
			wantErr: "trust.trusted",
		},
		{
			name:    "[Unit] Apply: chain without own cert",
			cfg:     Config{Trust: TrustConfig{BuildChain: true}},
			wantErr: cmp.ErrChainBuild.Error(),
		},
		{
			name:    "[Unit] Apply: missing CSR file",
			cfg:     Config{Template: TemplateConfig{CSR: filepath.Join(files.dir, "none.csr")}},
			wantErr: "template.csr",
		},
		{
			name:    "[Unit] Apply: option out of range",
			cfg:     Config{Options: map[string]int{"revocation_reason": 11}},
			wantErr: cmp.ErrValueTooLarge.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, err := cmp.New(nil, "")
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer func() { _ = ctx.Close() }()

			release, err := tt.cfg.Apply(ctx, "ctx-err")
			if err == nil {
				release()
				t.Fatalf("Apply() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Apply() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestU_Apply_NilContext(t *testing.T) {
	_, err := (&Config{}).Apply(nil, "x")
	if !errors.Is(err, cmp.ErrNullArgument) {
		t.Errorf("Apply(nil) error = %v, want ErrNullArgument", err)
	}
}

func TestU_Apply_FailedOptionAudited(t *testing.T) {
	auditPath := initAudit(t)

	ctx, err := cmp.New(nil, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = ctx.Close() }()

	cfg := &Config{Options: map[string]int{"log_verbosity": 9}}
	if _, err := cfg.Apply(ctx, "ctx-opt"); err == nil {
		t.Fatal("Apply() expected error")
	}

	events, err := audit.ReadEvents(auditPath)
	if err != nil {
		t.Fatalf("ReadEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.EventType != audit.EventOptionChanged || e.Result != audit.ResultFailure {
		t.Errorf("event = %s/%s", e.EventType, e.Result)
	}
	if e.Details.Option != "log_verbosity" || e.Details.Value == nil || *e.Details.Value != 9 {
		t.Errorf("details = %+v", e.Details)
	}
}
