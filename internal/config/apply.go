package config

import (
	"crypto"
	"crypto/x509/pkix"
	"fmt"
	"os"

	"github.com/remiblancher/cmpctx/internal/audit"
	"github.com/remiblancher/cmpctx/internal/cmp"
	pkicrypto "github.com/remiblancher/cmpctx/internal/crypto"
	"github.com/remiblancher/cmpctx/internal/x509util"
)

// NewContext creates a context for cfg and applies it. The returned
// release function closes the context and the own key; call it exactly once.
func NewContext(cfg *Config, id string) (*cmp.Context, func(), error) {
	ctx, err := cmp.New(nil, cfg.PropertyQuery)
	if err != nil {
		return nil, nil, err
	}
	if err := audit.LogContextCreated(id, cfg.PropertyQuery); err != nil {
		_ = ctx.Close()
		return nil, nil, err
	}

	releaseKey, err := cfg.Apply(ctx, id)
	if err != nil {
		_ = ctx.Close()
		return nil, nil, err
	}
	release := func() {
		_ = ctx.Close()
		releaseKey()
		_ = audit.LogContextClosed(id)
	}
	return ctx, release, nil
}

// Apply sets every configured field on ctx. The own private key is only
// shared with the context, so the returned function must be called to
// close it once the context is no longer used. On error, anything loaded
// by Apply is already released.
func (c *Config) Apply(ctx *cmp.Context, id string) (func(), error) {
	if ctx == nil {
		return nil, cmp.NewError("Apply", cmp.ErrNullArgument)
	}
	var ownKey crypto.Signer
	release := func() {
		if ownKey != nil {
			_ = pkicrypto.CloseSigner(ownKey)
		}
	}

	steps := []func() error{
		func() error { return c.applyVerbosity(ctx) },
		func() error { return c.applyServer(ctx) },
		func() error { return c.applyNames(ctx) },
		func() error {
			k, err := c.applyCredentials(ctx, id)
			ownKey = k
			return err
		},
		func() error { return c.applyTrust(ctx, id) },
		func() error { return c.applyTemplate(ctx) },
		func() error { return c.applyAlgorithms(ctx) },
		func() error { return c.applyOptions(ctx, id) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			release()
			return nil, err
		}
	}
	return release, nil
}

func (c *Config) applyVerbosity(ctx *cmp.Context) error {
	if c.Verbosity == "" {
		return nil
	}
	level, err := cmp.ParseSeverity(c.Verbosity)
	if err != nil {
		return err
	}
	return ctx.SetOption(cmp.OptLogVerbosity, int(level))
}

func (c *Config) applyServer(ctx *cmp.Context) error {
	s := c.Server
	for _, set := range []func() error{
		func() error { return ctx.SetServer(s.Host) },
		func() error { return ctx.SetServerPort(s.Port) },
		func() error { return ctx.SetServerPath(s.Path) },
		func() error { return ctx.SetProxy(s.Proxy) },
		func() error { return ctx.SetNoProxy(s.NoProxy) },
	} {
		if err := set(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyNames(ctx *cmp.Context) error {
	setters := []struct {
		dn  string
		set func(*pkix.Name) error
	}{
		{c.Names.Recipient, ctx.SetRecipient},
		{c.Names.ExpectedSender, ctx.SetExpectedSender},
		{c.Names.Issuer, ctx.SetIssuer},
		{c.Names.Subject, ctx.SetSubjectName},
	}
	for _, s := range setters {
		if s.dn == "" {
			continue
		}
		name, err := x509util.ParseDN(s.dn)
		if err != nil {
			return err
		}
		if err := s.set(name); err != nil {
			return err
		}
	}
	return nil
}

// loadCert loads the first certificate of path into a new handle.
func loadCert(path string) (*x509util.Cert, error) {
	cert, err := x509util.LoadCertificate(path)
	if err != nil {
		return nil, err
	}
	return x509util.NewCert(cert), nil
}

// setCertFile loads path and shares it with the context through set.
func setCertFile(path string, set func(*x509util.Cert) error) error {
	cert, err := loadCert(path)
	if err != nil {
		return err
	}
	defer cert.Free()
	return set(cert)
}

func (c *Config) applyCredentials(ctx *cmp.Context, id string) (crypto.Signer, error) {
	cr := c.Credentials

	if cr.Cert != "" {
		if err := setCertFile(cr.Cert, ctx.SetCert); err != nil {
			_ = audit.LogCredentialLoaded(id, "", "", cr.Cert, false, err.Error())
			return nil, fmt.Errorf("credentials.cert: %w", err)
		}
		subject := ctx.Cert().String()

		var key crypto.Signer
		algorithm := ""
		if cr.Key != nil {
			signer, err := loadKey(*cr.Key)
			if err != nil {
				_ = audit.LogCredentialLoaded(id, subject, "", cr.Key.KeyPath, false, err.Error())
				return nil, fmt.Errorf("credentials.key: %w", err)
			}
			key, algorithm = signer, string(signer.Algorithm())
			if err := ctx.SetPrivateKey(signer); err != nil {
				_ = pkicrypto.CloseSigner(signer)
				return nil, err
			}
		}
		if err := audit.LogCredentialLoaded(id, subject, algorithm, cr.Cert, true, ""); err != nil {
			if key != nil {
				_ = pkicrypto.CloseSigner(key)
			}
			return nil, err
		}
		if err := c.applySecret(ctx, id); err != nil {
			if key != nil {
				_ = pkicrypto.CloseSigner(key)
			}
			return nil, err
		}
		return key, nil
	}
	return nil, c.applySecret(ctx, id)
}

func (c *Config) applySecret(ctx *cmp.Context, id string) error {
	cr := c.Credentials
	if cr.Reference != "" {
		if err := ctx.SetReferenceValue([]byte(cr.Reference)); err != nil {
			return err
		}
	}
	if cr.SecretEnv == "" {
		return nil
	}
	secret := os.Getenv(cr.SecretEnv)
	if secret == "" {
		return fmt.Errorf("credentials.secret_env: %s is not set or empty", cr.SecretEnv)
	}
	if err := ctx.SetSecretValue([]byte(secret)); err != nil {
		return err
	}
	return audit.LogSecretConfigured(id)
}

// loadKey loads a key described by cfg. A directly configured PKCS#11
// module takes its PIN from the passphrase setting.
func loadKey(cfg pkicrypto.KeyStorageConfig) (pkicrypto.Signer, error) {
	if cfg.Type == pkicrypto.KeyProviderTypePKCS11 && cfg.PKCS11ConfigPath == "" && cfg.PKCS11Pin == "" {
		cfg.PKCS11Pin = string(pkicrypto.ResolvePassphrase(cfg.Passphrase))
	}
	return pkicrypto.LoadKey(cfg)
}

func loadCertList(paths []string) ([]*x509util.Cert, error) {
	var out []*x509util.Cert
	for _, p := range paths {
		certs, err := x509util.LoadCertificates(p)
		if err != nil {
			x509util.FreeAll(out)
			return nil, err
		}
		out = append(out, x509util.WrapAll(certs)...)
	}
	return out, nil
}

func (c *Config) applyTrust(ctx *cmp.Context, id string) error {
	t := c.Trust

	if len(t.Trusted) > 0 {
		anchors, err := loadCertList(t.Trusted)
		if err != nil {
			_ = audit.LogTrustLoaded(id, t.Trusted[0], 0, false, err.Error())
			return fmt.Errorf("trust.trusted: %w", err)
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
		if err := audit.LogTrustLoaded(id, t.Trusted[0], store.Len(), true, ""); err != nil {
			return err
		}
	}

	if len(t.Untrusted) > 0 {
		certs, err := loadCertList(t.Untrusted)
		if err != nil {
			return fmt.Errorf("trust.untrusted: %w", err)
		}
		err = ctx.SetUntrusted(certs)
		x509util.FreeAll(certs)
		if err != nil {
			return err
		}
	}

	if t.ServerCert != "" {
		if err := setCertFile(t.ServerCert, ctx.SetServerCert); err != nil {
			return fmt.Errorf("trust.server_cert: %w", err)
		}
	}

	extra, err := loadCertList(t.ExtraCerts)
	if err != nil {
		return fmt.Errorf("trust.extra_certs: %w", err)
	}
	defer func() { x509util.FreeAll(extra) }()

	if t.BuildChain {
		subject := ctx.Cert().String()
		if err := ctx.BuildCertChain(nil, nil); err != nil {
			_ = audit.LogChainBuilt(id, subject, 0, false, err.Error())
			return err
		}
		chain := ctx.Chain()
		if err := audit.LogChainBuilt(id, subject, len(chain), true, ""); err != nil {
			return err
		}
		extra, err = x509util.AddCerts(extra, chain, true)
		if err != nil {
			return err
		}
	}

	if len(extra) > 0 {
		return ctx.SetExtraCertsOut(extra)
	}
	return nil
}

func (c *Config) applyTemplate(ctx *cmp.Context) error {
	tp := c.Template

	for _, s := range tp.SubjectAltNames {
		name, err := x509util.ParseGeneralName(s)
		if err != nil {
			return err
		}
		if err := ctx.PushSubjectAltName(name); err != nil {
			return err
		}
	}
	for _, s := range tp.Policies {
		oid, err := x509util.ParseOID(s)
		if err != nil {
			return err
		}
		if err := ctx.PushPolicy(&cmp.PolicyInfo{Policy: oid}); err != nil {
			return err
		}
	}

	if tp.OldCert != "" {
		if err := setCertFile(tp.OldCert, ctx.SetOldCert); err != nil {
			return fmt.Errorf("template.old_cert: %w", err)
		}
	}
	if tp.CSR != "" {
		csr, err := x509util.LoadCSR(tp.CSR)
		if err != nil {
			return fmt.Errorf("template.csr: %w", err)
		}
		if err := ctx.SetP10CSR(csr); err != nil {
			return err
		}
	}
	if tp.Serial != "" {
		sn, ok := parseSerial(tp.Serial)
		if !ok {
			return fmt.Errorf("template.serial: invalid number %q", tp.Serial)
		}
		if err := ctx.SetSerialNumber(sn); err != nil {
			return err
		}
	}
	if tp.NewKey != nil {
		signer, err := loadKey(*tp.NewKey)
		if err != nil {
			return fmt.Errorf("template.new_key: %w", err)
		}
		// the context owns the new key from here on
		if err := ctx.SetNewKey(signer); err != nil {
			_ = pkicrypto.CloseSigner(signer)
			return err
		}
	}
	return nil
}

func (c *Config) applyAlgorithms(ctx *cmp.Context) error {
	if c.PBM.Iterations != 0 || c.PBM.SaltLength != 0 {
		it, sl := ctx.PBMParameters()
		if c.PBM.Iterations != 0 {
			it = c.PBM.Iterations
		}
		if c.PBM.SaltLength != 0 {
			sl = c.PBM.SaltLength
		}
		if err := ctx.SetPBMParameters(it, sl); err != nil {
			return err
		}
	}

	digests := []struct {
		name string
		opt  cmp.Option
	}{
		{c.PBM.OWF, cmp.OptOWFAlgorithm},
		{c.PBM.MAC, cmp.OptMACAlgorithm},
		{c.Digest, cmp.OptDigestAlgorithm},
	}
	for _, d := range digests {
		if d.name == "" {
			continue
		}
		digest, err := ctx.Provider().FetchDigestByName(d.name)
		if err != nil {
			return cmp.NewError("Apply", fmt.Errorf("%w: %w", cmp.ErrUnsupportedAlgorithm, err))
		}
		if err := ctx.SetOption(d.opt, int(digest.Hash)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyOptions(ctx *cmp.Context, id string) error {
	for _, opt := range cmp.Options() {
		v, ok := c.Options[opt.String()]
		if !ok {
			continue
		}
		err := ctx.SetOption(opt, v)
		reason := ""
		if err != nil {
			reason = err.Error()
		}
		if aerr := audit.LogOptionChanged(id, opt.String(), v, err == nil, reason); aerr != nil && err == nil {
			err = aerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}
