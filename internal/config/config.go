// Package config loads CMP context settings from YAML and applies them to
// a cmp.Context.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/remiblancher/cmpctx/internal/cmp"
	pkicrypto "github.com/remiblancher/cmpctx/internal/crypto"
	"github.com/remiblancher/cmpctx/internal/x509util"
)

// ErrInvalidConfig marks configuration that cannot be parsed or fails
// validation.
var ErrInvalidConfig = errors.New("invalid config")

// ErrHostResource marks a setting that reads from the local host: a file,
// an environment variable or a PKCS#11 module.
var ErrHostResource = errors.New("references a host resource")

// Config describes one CMP client context.
type Config struct {
	// PropertyQuery restricts algorithm resolution, e.g. "fips=yes".
	PropertyQuery string `yaml:"property_query,omitempty"`

	// Verbosity is a log level name ("info", "debug", ...).
	Verbosity string `yaml:"verbosity,omitempty"`

	Server      ServerConfig      `yaml:"server"`
	Names       NamesConfig       `yaml:"names,omitempty"`
	Credentials CredentialsConfig `yaml:"credentials,omitempty"`
	Trust       TrustConfig       `yaml:"trust,omitempty"`
	Template    TemplateConfig    `yaml:"template,omitempty"`
	PBM         PBMConfig         `yaml:"pbm,omitempty"`

	// Digest names the digest for signature-based protection, e.g. "sha384".
	Digest string `yaml:"digest,omitempty"`

	// Options maps option names (see cmp.Options) to values.
	Options map[string]int `yaml:"options,omitempty"`
}

// ServerConfig locates the CMP server.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port,omitempty"`
	Path    string `yaml:"path,omitempty"`
	Proxy   string `yaml:"proxy,omitempty"`
	NoProxy string `yaml:"no_proxy,omitempty"`
}

// NamesConfig holds distinguished names in "CN=...,O=..." form.
type NamesConfig struct {
	Recipient      string `yaml:"recipient,omitempty"`
	ExpectedSender string `yaml:"expected_sender,omitempty"`
	Issuer         string `yaml:"issuer,omitempty"`
	Subject        string `yaml:"subject,omitempty"`
}

// CredentialsConfig selects the protection credentials.
type CredentialsConfig struct {
	// Cert is the PEM file of the own certificate.
	Cert string `yaml:"cert,omitempty"`

	// Key is the own private key, in a file or on an HSM.
	Key *pkicrypto.KeyStorageConfig `yaml:"key,omitempty"`

	// SecretEnv names the environment variable holding the PBM secret.
	SecretEnv string `yaml:"secret_env,omitempty"`

	// Reference is the senderKID used with PBM.
	Reference string `yaml:"reference,omitempty"`
}

// TrustConfig lists certificate files used for validation and chain building.
type TrustConfig struct {
	Trusted    []string `yaml:"trusted,omitempty"`
	Untrusted  []string `yaml:"untrusted,omitempty"`
	ServerCert string   `yaml:"server_cert,omitempty"`
	ExtraCerts []string `yaml:"extra_certs,omitempty"`

	// BuildChain builds the own chain from the untrusted certificates and
	// adds it to extraCerts.
	BuildChain bool `yaml:"build_chain,omitempty"`
}

// TemplateConfig describes the requested certificate.
type TemplateConfig struct {
	SubjectAltNames []string                    `yaml:"subject_alt_names,omitempty"`
	Policies        []string                    `yaml:"policies,omitempty"`
	OldCert         string                      `yaml:"old_cert,omitempty"`
	CSR             string                      `yaml:"csr,omitempty"`
	Serial          string                      `yaml:"serial,omitempty"`
	NewKey          *pkicrypto.KeyStorageConfig `yaml:"new_key,omitempty"`
}

// PBMConfig sets password-based MAC parameters. Zero values keep the
// context defaults.
type PBMConfig struct {
	Iterations int    `yaml:"iterations,omitempty"`
	SaltLength int    `yaml:"salt_length,omitempty"`
	OWF        string `yaml:"owf,omitempty"`
	MAC        string `yaml:"mac,omitempty"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// HostResources returns the settings that make Apply read local files,
// environment variables or load a PKCS#11 module.
func (c *Config) HostResources() []string {
	var refs []string
	add := func(set bool, name string) {
		if set {
			refs = append(refs, name)
		}
	}
	add(c.Credentials.Cert != "", "credentials.cert")
	add(c.Credentials.Key != nil, "credentials.key")
	add(c.Credentials.SecretEnv != "", "credentials.secret_env")
	add(len(c.Trust.Trusted) > 0, "trust.trusted")
	add(len(c.Trust.Untrusted) > 0, "trust.untrusted")
	add(c.Trust.ServerCert != "", "trust.server_cert")
	add(len(c.Trust.ExtraCerts) > 0, "trust.extra_certs")
	add(c.Template.OldCert != "", "template.old_cert")
	add(c.Template.CSR != "", "template.csr")
	add(c.Template.NewKey != nil, "template.new_key")
	return refs
}

// CheckInline fails unless the configuration is self-contained. It guards
// configurations received from clients, which must not choose what the
// host reads or loads.
func (c *Config) CheckInline() error {
	var errs *multierror.Error
	for _, ref := range c.HostResources() {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", ref, ErrHostResource))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs *multierror.Error
	add := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	provider := pkicrypto.DefaultProvider()
	if c.PropertyQuery != "" {
		p, err := provider.WithPropertyQuery(c.PropertyQuery)
		if err != nil {
			add("property_query: %v", err)
		} else {
			provider = p
		}
	}

	if c.Verbosity != "" {
		if _, err := cmp.ParseSeverity(c.Verbosity); err != nil {
			add("verbosity: %v", err)
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port: %d out of range", c.Server.Port)
	}

	for field, dn := range map[string]string{
		"names.recipient":       c.Names.Recipient,
		"names.expected_sender": c.Names.ExpectedSender,
		"names.issuer":          c.Names.Issuer,
		"names.subject":         c.Names.Subject,
	} {
		if dn == "" {
			continue
		}
		if _, err := x509util.ParseDN(dn); err != nil {
			add("%s: %v", field, err)
		}
	}

	if k := c.Credentials.Key; k != nil {
		if err := validateKeyStorage(*k); err != nil {
			add("credentials.key: %v", err)
		}
		if c.Credentials.Cert == "" {
			add("credentials.key: requires credentials.cert")
		}
	}
	if k := c.Template.NewKey; k != nil {
		if err := validateKeyStorage(*k); err != nil {
			add("template.new_key: %v", err)
		}
	}
	if c.Template.NewKey != nil && c.Template.CSR != "" {
		add("template: new_key and csr are mutually exclusive")
	}

	for _, s := range c.Template.SubjectAltNames {
		if _, err := x509util.ParseGeneralName(s); err != nil {
			add("template.subject_alt_names: %v", err)
		}
	}
	for _, s := range c.Template.Policies {
		if _, err := x509util.ParseOID(s); err != nil {
			add("template.policies: %v", err)
		}
	}
	if c.Template.Serial != "" {
		if _, ok := parseSerial(c.Template.Serial); !ok {
			add("template.serial: invalid number %q", c.Template.Serial)
		}
	}

	if c.PBM.Iterations != 0 && (c.PBM.Iterations < cmp.MinPBMIterations || c.PBM.Iterations > cmp.MaxPBMIterations) {
		add("pbm.iterations: %d not in [%d, %d]", c.PBM.Iterations, cmp.MinPBMIterations, cmp.MaxPBMIterations)
	}
	if c.PBM.SaltLength != 0 && (c.PBM.SaltLength < cmp.MinPBMSaltLen || c.PBM.SaltLength > cmp.MaxPBMSaltLen) {
		add("pbm.salt_length: %d not in [%d, %d]", c.PBM.SaltLength, cmp.MinPBMSaltLen, cmp.MaxPBMSaltLen)
	}
	for field, name := range map[string]string{"pbm.owf": c.PBM.OWF, "pbm.mac": c.PBM.MAC, "digest": c.Digest} {
		if name == "" {
			continue
		}
		if _, err := provider.FetchDigestByName(name); err != nil {
			add("%s: %v", field, err)
		}
	}

	for name, v := range c.Options {
		opt, err := cmp.ParseOption(name)
		if err != nil {
			add("options: %w", err)
			continue
		}
		min, max, hasMax, _ := opt.Range()
		if v < min || (hasMax && v > max) {
			add("options.%s: %d out of range", name, v)
		}
	}

	return errs.ErrorOrNil()
}

func validateKeyStorage(k pkicrypto.KeyStorageConfig) error {
	switch k.Type {
	case "", pkicrypto.KeyProviderTypeSoftware:
		if k.KeyPath == "" {
			return fmt.Errorf("key_path is required for software keys")
		}
	case pkicrypto.KeyProviderTypePKCS11:
		if k.PKCS11ConfigPath == "" && k.PKCS11Lib == "" {
			return fmt.Errorf("pkcs11_config_path or pkcs11_lib is required")
		}
		if k.PKCS11KeyLabel == "" && k.PKCS11KeyID == "" {
			return fmt.Errorf("pkcs11_key_label or pkcs11_key_id is required")
		}
	default:
		return fmt.Errorf("unsupported key storage type %q", k.Type)
	}
	return nil
}

// parseSerial accepts decimal or 0x-prefixed hexadecimal serial numbers.
func parseSerial(s string) (*big.Int, bool) {
	return new(big.Int).SetString(strings.TrimSpace(s), 0)
}
