package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// [Unit] Algorithm Property Tests
// =============================================================================

func TestU_Algorithm_Properties(t *testing.T) {
	tests := []struct {
		name    string
		alg     AlgorithmID
		wantPQC bool
	}{
		{"[Unit] Properties: EC P-256", AlgECDSAP256, false},
		{"[Unit] Properties: EC P-384", AlgECDSAP384, false},
		{"[Unit] Properties: Ed25519", AlgEd25519, false},
		{"[Unit] Properties: RSA-2048", AlgRSA2048, false},
		{"[Unit] Properties: ML-DSA-65", AlgMLDSA65, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.alg.IsValid() {
				t.Fatalf("%s should be valid", tt.alg)
			}
			if got := tt.alg.IsPQC(); got != tt.wantPQC {
				t.Errorf("IsPQC() = %v, want %v", got, tt.wantPQC)
			}
			if tt.alg.OID() == nil {
				t.Error("OID() should not be nil")
			}
			if tt.alg.Description() == "unknown algorithm" {
				t.Error("Description() should be known")
			}
		})
	}
}

func TestU_ParseAlgorithm(t *testing.T) {
	if _, err := ParseAlgorithm("ecdsa-p256"); err != nil {
		t.Errorf("ParseAlgorithm(ecdsa-p256) failed: %v", err)
	}
	if _, err := ParseAlgorithm("dsa-1024"); err == nil {
		t.Error("ParseAlgorithm(dsa-1024) should fail")
	}
	all := AllAlgorithms()
	for i := 1; i < len(all); i++ {
		if all[i-1] >= all[i] {
			t.Fatalf("AllAlgorithms() not sorted: %v", all)
		}
	}
}

// =============================================================================
// [Unit] Key Generation and Signing
// =============================================================================

func TestU_KeyGen_SignVerify(t *testing.T) {
	algs := []AlgorithmID{AlgECDSAP256, AlgECDSAP384, AlgEd25519, AlgRSA2048, AlgMLDSA44, AlgMLDSA65}
	message := []byte("cmp context test message")

	for _, alg := range algs {
		t.Run("[Unit] SignVerify: "+string(alg), func(t *testing.T) {
			signer, err := GenerateSoftwareSigner(alg)
			if err != nil {
				t.Fatalf("GenerateSoftwareSigner(%s) failed: %v", alg, err)
			}
			if signer.Algorithm() != alg {
				t.Errorf("Algorithm() = %s, want %s", signer.Algorithm(), alg)
			}

			got, err := AlgorithmOf(signer.Public())
			if err != nil {
				t.Fatalf("AlgorithmOf() failed: %v", err)
			}
			if got != alg {
				t.Errorf("AlgorithmOf() = %s, want %s", got, alg)
			}

			input := message
			var opts crypto.SignerOpts = crypto.Hash(0)
			if alg.Type() == TypeClassicalSignature && alg != AlgEd25519 {
				sum := sha256.Sum256(message)
				input = sum[:]
				opts = crypto.SHA256
			}
			sig, err := signer.Sign(rand.Reader, input, opts)
			if err != nil {
				t.Fatalf("Sign() failed: %v", err)
			}
			if !Verify(signer.Public(), input, sig) {
				t.Error("Verify() failed for a valid signature")
			}
			if Verify(signer.Public(), []byte("tampered"), sig) {
				t.Error("Verify() accepted a signature over other data")
			}
		})
	}
}

func TestU_KeyGen_AlgorithmInvalid(t *testing.T) {
	if _, err := GenerateKeyPair("invalid"); err == nil {
		t.Error("GenerateKeyPair(invalid) should fail")
	}
}

func TestSoftwareSigner_SaveLoad(t *testing.T) {
	tests := []struct {
		name       string
		alg        AlgorithmID
		passphrase []byte
	}{
		{"[Unit] SaveLoad: EC plain", AlgECDSAP256, nil},
		{"[Unit] SaveLoad: EC encrypted", AlgECDSAP384, []byte("secret")},
		{"[Unit] SaveLoad: Ed25519", AlgEd25519, nil},
		{"[Unit] SaveLoad: ML-DSA-65", AlgMLDSA65, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "key.pem")
			signer, err := GenerateSoftwareSigner(tt.alg)
			if err != nil {
				t.Fatalf("GenerateSoftwareSigner() failed: %v", err)
			}
			if err := signer.SavePrivateKey(path, tt.passphrase); err != nil {
				t.Fatalf("SavePrivateKey() failed: %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if perm := info.Mode().Perm(); perm != 0600 {
				t.Errorf("key file mode = %o, want 0600", perm)
			}

			loaded, err := LoadPrivateKey(path, tt.passphrase)
			if err != nil {
				t.Fatalf("LoadPrivateKey() failed: %v", err)
			}
			if loaded.Algorithm() != tt.alg {
				t.Errorf("loaded Algorithm() = %s, want %s", loaded.Algorithm(), tt.alg)
			}
			if loaded.KeyPath() != path {
				t.Errorf("KeyPath() = %q, want %q", loaded.KeyPath(), path)
			}
		})
	}
}

func TestLoadPrivateKey_EncryptedWithoutPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	signer, err := GenerateSoftwareSigner(AlgECDSAP256)
	if err != nil {
		t.Fatal(err)
	}
	if err := signer.SavePrivateKey(path, []byte("pw")); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPrivateKey(path, nil); err == nil {
		t.Error("LoadPrivateKey() should fail without passphrase")
	}
}

// =============================================================================
// [Unit] Digest Provider Tests
// =============================================================================

func TestU_Provider_FetchDigest(t *testing.T) {
	p := DefaultProvider()

	d, err := p.FetchDigest(crypto.SHA256)
	if err != nil {
		t.Fatalf("FetchDigest(SHA256) failed: %v", err)
	}
	want := sha256.Sum256([]byte("abc"))
	if got := d.Sum([]byte("abc")); string(got) != string(want[:]) {
		t.Error("SHA256 digest mismatch")
	}
	if d.Size() != 32 {
		t.Errorf("Size() = %d, want 32", d.Size())
	}

	names := []string{"SHA256", "sha3-512", "blake2b-512", "md5", "sha512-256"}
	for _, name := range names {
		if _, err := p.FetchDigestByName(name); err != nil {
			t.Errorf("FetchDigestByName(%q) failed: %v", name, err)
		}
	}
	if _, err := p.FetchDigestByName("whirlpool"); !errors.Is(err, ErrDigestUnavailable) {
		t.Errorf("FetchDigestByName(whirlpool) error = %v, want ErrDigestUnavailable", err)
	}
}

func TestU_Provider_PropertyQuery(t *testing.T) {
	p, err := DefaultProvider().WithPropertyQuery("provider=default, fips=yes")
	if err != nil {
		t.Fatalf("WithPropertyQuery() failed: %v", err)
	}
	if got := p.PropertyQuery(); got != "fips=yes,provider=default" {
		t.Errorf("PropertyQuery() = %q", got)
	}

	if _, err := p.FetchDigest(crypto.MD5); !errors.Is(err, ErrDigestUnavailable) {
		t.Errorf("md5 under fips=yes: error = %v, want ErrDigestUnavailable", err)
	}
	if _, err := p.FetchDigestByName("blake2b-256"); err == nil {
		t.Error("blake2b under fips=yes should be unavailable")
	}
	if _, err := p.FetchDigest(crypto.SHA384); err != nil {
		t.Errorf("sha384 under fips=yes failed: %v", err)
	}
	for _, n := range p.DigestNames() {
		if n == "md5" {
			t.Error("DigestNames() under fips=yes lists md5")
		}
	}
}

func TestU_ParsePropertyQuery_Invalid(t *testing.T) {
	tests := []string{"fips", "fips=maybe", "color=blue", "=yes"}
	for _, q := range tests {
		t.Run("[Unit] PropertyQuery: "+q, func(t *testing.T) {
			if _, err := ParsePropertyQuery(q); !errors.Is(err, ErrInvalidPropertyQuery) {
				t.Errorf("ParsePropertyQuery(%q) error = %v, want ErrInvalidPropertyQuery", q, err)
			}
		})
	}
}

func TestU_DigestName(t *testing.T) {
	if got := DigestName(crypto.SHA256); got != "sha256" {
		t.Errorf("DigestName(SHA256) = %q", got)
	}
}

// =============================================================================
// [Unit] Zeroize
// =============================================================================

func TestU_Zeroize(t *testing.T) {
	b := []byte("top secret")
	Zeroize(b)
	for i, c := range b {
		if c != 0 {
			t.Fatalf("byte %d = %d after Zeroize", i, c)
		}
	}
	Zeroize(nil)
}

// =============================================================================
// [Unit] Key Provider Tests
// =============================================================================

func TestU_SoftwareKeyProvider_GenerateLoad(t *testing.T) {
	t.Setenv("CMPCTX_TEST_PASS", "hunter2")
	cfg := KeyStorageConfig{
		Type:       KeyProviderTypeSoftware,
		KeyPath:    filepath.Join(t.TempDir(), "ctx.key"),
		Passphrase: "env:CMPCTX_TEST_PASS",
	}

	kp := NewKeyProvider(cfg)
	generated, err := kp.Generate(AlgEd25519, cfg)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	loaded, err := LoadKey(cfg)
	if err != nil {
		t.Fatalf("LoadKey() failed: %v", err)
	}
	if loaded.Algorithm() != generated.Algorithm() {
		t.Errorf("loaded algorithm = %s, want %s", loaded.Algorithm(), generated.Algorithm())
	}

	cfg.Passphrase = "wrong"
	if _, err := LoadKey(cfg); err == nil {
		t.Error("LoadKey() with a wrong passphrase should fail")
	}
}

func TestU_KeyProvider_Validation(t *testing.T) {
	if _, err := (&SoftwareKeyProvider{}).Load(KeyStorageConfig{}); err == nil {
		t.Error("software Load() without key_path should fail")
	}
	if _, err := (&PKCS11KeyProvider{}).Load(KeyStorageConfig{Type: KeyProviderTypePKCS11}); err == nil {
		t.Error("pkcs11 Load() without lib should fail")
	}
	if _, err := (&PKCS11KeyProvider{}).Generate(AlgECDSAP256, KeyStorageConfig{Type: KeyProviderTypePKCS11}); err == nil {
		t.Error("pkcs11 Generate() should fail")
	}
	if got := ResolvePassphrase("literal"); string(got) != "literal" {
		t.Errorf("ResolvePassphrase(literal) = %q", got)
	}
	if got := ResolvePassphrase(""); got != nil {
		t.Errorf("ResolvePassphrase(\"\") = %q, want nil", got)
	}
}

func TestU_LoadHSMConfig(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"[Unit] HSMConfig: valid", "type: pkcs11\npkcs11:\n  lib: /usr/lib/softhsm.so\n  token: cmp\n  pin_env: HSM_PIN\n", ""},
		{"[Unit] HSMConfig: wrong type", "type: kms\n", "unsupported HSM type"},
		{"[Unit] HSMConfig: no lib", "type: pkcs11\npkcs11:\n  token: cmp\n  pin_env: X\n", "pkcs11.lib"},
		{"[Unit] HSMConfig: no token or slot", "type: pkcs11\npkcs11:\n  lib: /x.so\n  pin_env: X\n", "pkcs11.token"},
		{"[Unit] HSMConfig: no pin env", "type: pkcs11\npkcs11:\n  lib: /x.so\n  slot: 0\n", "pin_env"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "hsm"+string(rune('a'+i))+".yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0600); err != nil {
				t.Fatal(err)
			}
			cfg, err := LoadHSMConfig(path)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("LoadHSMConfig() failed: %v", err)
				}
				t.Setenv("HSM_PIN", "1234")
				if pin, err := cfg.GetPIN(); err != nil || pin != "1234" {
					t.Errorf("GetPIN() = %q, %v", pin, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadHSMConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkSign_ECDSA_P256(b *testing.B) {
	signer, err := GenerateSoftwareSigner(AlgECDSAP256)
	if err != nil {
		b.Fatal(err)
	}
	digest := sha256.Sum256([]byte("bench"))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	}
}
