package crypto

import (
	"fmt"
	"os"
)

// KeyProviderType identifies the type of key provider backend.
type KeyProviderType string

const (
	// KeyProviderTypeSoftware uses PEM key files.
	KeyProviderTypeSoftware KeyProviderType = "software"

	// KeyProviderTypePKCS11 uses PKCS#11 (HSM) key storage.
	KeyProviderTypePKCS11 KeyProviderType = "pkcs11"
)

// KeyStorageConfig describes where a context key lives.
type KeyStorageConfig struct {
	// Type specifies the storage backend ("software" or "pkcs11").
	Type KeyProviderType `json:"type" yaml:"type"`

	// Software key storage
	KeyPath    string `json:"key_path,omitempty" yaml:"key_path,omitempty"`
	Passphrase string `json:"-" yaml:"passphrase,omitempty"` // "env:VAR" or literal, never serialized to JSON

	// PKCS#11 (HSM) key storage
	PKCS11ConfigPath string `json:"pkcs11_config_path,omitempty" yaml:"pkcs11_config_path,omitempty"`
	PKCS11Lib        string `json:"pkcs11_lib,omitempty" yaml:"pkcs11_lib,omitempty"`
	PKCS11Token      string `json:"pkcs11_token,omitempty" yaml:"pkcs11_token,omitempty"`
	PKCS11Slot       *uint  `json:"pkcs11_slot,omitempty" yaml:"pkcs11_slot,omitempty"`
	PKCS11Pin        string `json:"-" yaml:"-"`
	PKCS11KeyLabel   string `json:"pkcs11_key_label,omitempty" yaml:"pkcs11_key_label,omitempty"`
	PKCS11KeyID      string `json:"pkcs11_key_id,omitempty" yaml:"pkcs11_key_id,omitempty"`
}

// KeyProvider loads and generates context keys.
type KeyProvider interface {
	// Load loads an existing key and returns a Signer.
	Load(cfg KeyStorageConfig) (Signer, error)

	// Generate generates a new key, stores it, and returns a Signer.
	Generate(alg AlgorithmID, cfg KeyStorageConfig) (Signer, error)
}

// NewKeyProvider creates a KeyProvider based on the storage type.
// An empty type selects software storage.
func NewKeyProvider(cfg KeyStorageConfig) KeyProvider {
	switch cfg.Type {
	case KeyProviderTypePKCS11:
		return &PKCS11KeyProvider{}
	default:
		return &SoftwareKeyProvider{}
	}
}

// LoadKey resolves cfg into a signer. For PKCS#11 storage described by an
// HSM config file, the module, token and PIN are taken from that file.
func LoadKey(cfg KeyStorageConfig) (Signer, error) {
	if cfg.Type == KeyProviderTypePKCS11 && cfg.PKCS11ConfigPath != "" {
		hsmCfg, err := LoadHSMConfig(cfg.PKCS11ConfigPath)
		if err != nil {
			return nil, err
		}
		pin, err := hsmCfg.GetPIN()
		if err != nil {
			return nil, err
		}
		cfg.PKCS11Lib = hsmCfg.PKCS11.Lib
		cfg.PKCS11Token = hsmCfg.PKCS11.Token
		cfg.PKCS11Slot = hsmCfg.PKCS11.Slot
		cfg.PKCS11Pin = pin
	}
	return NewKeyProvider(cfg).Load(cfg)
}

// ResolvePassphrase resolves a passphrase that may be "env:VAR_NAME".
func ResolvePassphrase(passphrase string) []byte {
	if passphrase == "" {
		return nil
	}
	if len(passphrase) > 4 && passphrase[:4] == "env:" {
		return []byte(os.Getenv(passphrase[4:]))
	}
	return []byte(passphrase)
}

// SoftwareKeyProvider implements KeyProvider for PEM key files.
type SoftwareKeyProvider struct{}

var _ KeyProvider = (*SoftwareKeyProvider)(nil)

// Load loads a private key from disk.
func (m *SoftwareKeyProvider) Load(cfg KeyStorageConfig) (Signer, error) {
	if cfg.Type != KeyProviderTypeSoftware && cfg.Type != "" {
		return nil, fmt.Errorf("SoftwareKeyProvider only supports software keys, got: %s", cfg.Type)
	}
	if cfg.KeyPath == "" {
		return nil, fmt.Errorf("key_path is required for software key storage")
	}
	return LoadPrivateKey(cfg.KeyPath, ResolvePassphrase(cfg.Passphrase))
}

// Generate generates a new key pair and saves it to disk.
func (m *SoftwareKeyProvider) Generate(alg AlgorithmID, cfg KeyStorageConfig) (Signer, error) {
	if cfg.Type != KeyProviderTypeSoftware && cfg.Type != "" {
		return nil, fmt.Errorf("SoftwareKeyProvider only supports software keys, got: %s", cfg.Type)
	}
	if cfg.KeyPath == "" {
		return nil, fmt.Errorf("key_path is required for software key storage")
	}

	signer, err := GenerateSoftwareSigner(alg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", alg, err)
	}
	if err := signer.SavePrivateKey(cfg.KeyPath, ResolvePassphrase(cfg.Passphrase)); err != nil {
		return nil, fmt.Errorf("failed to save private key: %w", err)
	}
	return signer, nil
}

// PKCS11KeyProvider implements KeyProvider for keys held in an HSM.
type PKCS11KeyProvider struct{}

var _ KeyProvider = (*PKCS11KeyProvider)(nil)

// Load finds an existing key in the HSM.
func (m *PKCS11KeyProvider) Load(cfg KeyStorageConfig) (Signer, error) {
	if cfg.Type != KeyProviderTypePKCS11 {
		return nil, fmt.Errorf("PKCS11KeyProvider only supports pkcs11 keys, got: %s", cfg.Type)
	}
	if cfg.PKCS11Lib == "" {
		return nil, fmt.Errorf("pkcs11_lib is required for PKCS#11 key storage")
	}
	if cfg.PKCS11KeyLabel == "" && cfg.PKCS11KeyID == "" {
		return nil, fmt.Errorf("at least one of pkcs11_key_label or pkcs11_key_id is required")
	}

	signer, err := NewPKCS11Signer(PKCS11Config{
		ModulePath: cfg.PKCS11Lib,
		TokenLabel: cfg.PKCS11Token,
		SlotID:     cfg.PKCS11Slot,
		PIN:        cfg.PKCS11Pin,
		KeyLabel:   cfg.PKCS11KeyLabel,
		KeyID:      cfg.PKCS11KeyID,
	})
	if err != nil {
		return nil, err
	}
	return signer, nil
}

// Generate is not supported: HSM keys are provisioned with the token's
// own tooling and referenced by label or ID.
func (m *PKCS11KeyProvider) Generate(alg AlgorithmID, cfg KeyStorageConfig) (Signer, error) {
	return nil, fmt.Errorf("generating %s keys in an HSM is not supported; provision the key and reference it by label", alg)
}
