// Package cmp implements the transaction context of a Certificate
// Management Protocol (RFC 4210) client.
//
// A Context accumulates everything a CMP engine needs across the messages
// of a transaction: credentials, trust material, peer expectations,
// correlation state (transaction ID and nonces) and behavioural options.
// It performs no I/O and implements no protocol logic.
//
// Setters follow one of three ownership disciplines:
//
//   - take ownership: the context keeps the value as given and releases
//     it when replaced or on Close (SetTrusted, SetNewCert, SetNewKey, ...)
//   - copy in: the context stores an independent duplicate (names, byte
//     strings, the serial number, the PKCS#10 request)
//   - share by reference: the context takes its own reference on a
//     shared certificate handle (SetCert, SetServerCert, ...)
//
// A Context is not safe for concurrent use.
package cmp

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"

	"github.com/hashicorp/go-multierror"

	pkicrypto "github.com/remiblancher/cmpctx/internal/crypto"
	"github.com/remiblancher/cmpctx/internal/x509util"
)

// PKIStatus is the status of the last response (RFC 4210 PKIStatus).
type PKIStatus int

const (
	PKIStatusUnspecified            PKIStatus = -1
	PKIStatusAccepted               PKIStatus = 0
	PKIStatusGrantedWithMods        PKIStatus = 1
	PKIStatusRejection              PKIStatus = 2
	PKIStatusWaiting                PKIStatus = 3
	PKIStatusRevocationWarning      PKIStatus = 4
	PKIStatusRevocationNotification PKIStatus = 5
	PKIStatusKeyUpdateWarning       PKIStatus = 6
)

func (s PKIStatus) String() string {
	switch s {
	case PKIStatusUnspecified:
		return "unspecified"
	case PKIStatusAccepted:
		return "accepted"
	case PKIStatusGrantedWithMods:
		return "grantedWithMods"
	case PKIStatusRejection:
		return "rejection"
	case PKIStatusWaiting:
		return "waiting"
	case PKIStatusRevocationWarning:
		return "revocationWarning"
	case PKIStatusRevocationNotification:
		return "revocationNotification"
	case PKIStatusKeyUpdateWarning:
		return "keyUpdateWarning"
	default:
		return "unknown"
	}
}

// Proof-of-possession methods (RFC 4211 ProofOfPossession).
const (
	PopoNone       = -1
	PopoRAVerified = 0
	PopoSignature  = 1
	PopoKeyEnc     = 2
	PopoKeyAgree   = 3
)

// Revocation reasons (RFC 5280 CRLReason). RevocationReasonNone means no
// reason is included.
const (
	RevocationReasonNone                 = -1
	RevocationReasonUnspecified          = 0
	RevocationReasonKeyCompromise        = 1
	RevocationReasonCACompromise         = 2
	RevocationReasonAffiliationChanged   = 3
	RevocationReasonSuperseded           = 4
	RevocationReasonCessationOfOperation = 5
	RevocationReasonCertificateHold      = 6
	RevocationReasonRemoveFromCRL        = 8
	RevocationReasonPrivilegeWithdrawn   = 9
	RevocationReasonAACompromise         = 10
)

// Defaults applied by New.
const (
	DefaultPBMSaltLen    = 16
	DefaultPBMIterations = 500
	DefaultDigest        = crypto.SHA256
	DefaultPBMOWF        = crypto.SHA256
	DefaultPBMMAC        = crypto.SHA1
)

// Transport is an open connection to a CMP server. The context does not
// create transports; it only closes one left open on Reinit and Close.
type Transport interface {
	Close() error
}

// TransferFunc sends a DER encoded request and returns the DER response.
type TransferFunc func(ctx *Context, req []byte) ([]byte, error)

// HTTPConnFunc is called when a transport connects (connect true) and
// disconnects. It may wrap the connection, e.g. to add TLS.
type HTTPConnFunc func(conn io.ReadWriteCloser, arg any, connect bool, detail int) (io.ReadWriteCloser, error)

// CertConfFunc checks a newly enrolled certificate. It returns the
// failure info bits to report (0 to accept) and an optional status text.
type CertConfFunc func(ctx *Context, cert *x509util.Cert, failInfo int) (int, string)

// Context holds the state of one CMP transaction.
type Context struct {
	closed bool

	provider *pkicrypto.Provider
	propq    string

	// diagnostics
	logCB     LogFunc
	verbosity Severity
	errs      *multierror.Error
	errOut    io.Writer

	// message transfer
	serverPath   string
	server       string
	serverPort   int
	proxy        string
	noProxy      string
	keepAlive    int
	msgTimeout   int
	totalTimeout int
	tlsUsed      int

	transport     Transport
	transferCB    TransferFunc
	transferCBArg any
	httpCB        HTTPConnFunc
	httpCBArg     any

	// server authentication
	srvCert                   *x509util.Cert
	validatedSrvCert          *x509util.Cert
	expectedSender            *pkix.Name
	trusted                   *x509util.TrustStore
	untrusted                 []*x509util.Cert
	ignoreKeyUsage            int
	permitTAInExtraCertsForIR int

	// client authentication
	unprotectedSend int
	cert            *x509util.Cert
	chain           []*x509util.Cert
	pkey            crypto.Signer
	referenceValue  []byte
	secretValue     []byte

	// PBM
	pbmSaltLen    int
	pbmOWF        *pkicrypto.Digest
	pbmIterations int
	pbmMAC        crypto.Hash

	// message header
	recipient        *pkix.Name
	digest           *pkicrypto.Digest
	transactionID    []byte
	senderNonce      []byte
	recipNonce       []byte
	firstSenderNonce []byte
	generalInfo      []*ITAV
	implicitConfirm  int
	disableConfirm   int
	extraCertsOut    []*x509util.Cert

	// certificate template
	newKey           any
	newKeyPriv       bool
	issuer           *pkix.Name
	serialNumber     *big.Int
	days             int
	subjectName      *pkix.Name
	subjectAltNames  []x509util.GeneralName
	sanNoDefault     int
	sanCritical      int
	reqExtensions    []pkix.Extension
	policies         []*PolicyInfo
	policiesCritical int
	popoMethod       int
	oldCert          *x509util.Cert
	p10CSR           *x509.CertificateRequest

	// misc body contents
	revocationReason int
	genmITAVs        []*ITAV

	// certificate confirmation
	certConfCB    CertConfFunc
	certConfCBArg any

	// result returned in responses
	status            PKIStatus
	statusText        []string
	failInfo          int
	newCert           *x509util.Cert
	newChain          []*x509util.Cert
	caPubs            []*x509util.Cert
	extraCertsIn      []*x509util.Cert
	unprotectedErrors int
	noCacheExtraCerts int
}

// New creates a context with default settings. A nil provider selects the
// default provider; propq restricts which digest implementations may be
// used (see crypto.Provider).
func New(provider *pkicrypto.Provider, propq string) (*Context, error) {
	const op = "New"

	if provider == nil {
		provider = pkicrypto.DefaultProvider()
	}
	if propq != "" {
		p, err := provider.WithPropertyQuery(propq)
		if err != nil {
			return nil, &Error{Op: op, Err: joinKind(ErrUnsupportedAlgorithm, err)}
		}
		provider = p
	}

	c := &Context{
		provider:   provider,
		propq:      propq,
		verbosity:  SeverityInfo,
		status:     PKIStatusUnspecified,
		failInfo:   -1,
		keepAlive:  1,
		msgTimeout: -1,
		tlsUsed:    -1,

		pbmSaltLen:    DefaultPBMSaltLen,
		pbmIterations: DefaultPBMIterations,
		pbmMAC:        DefaultPBMMAC,

		popoMethod:       PopoSignature,
		revocationReason: RevocationReasonNone,
	}

	var err error
	if c.pbmOWF, err = c.fetchDigest(DefaultPBMOWF); err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	if c.digest, err = c.fetchDigest(DefaultDigest); err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	return c, nil
}

func (c *Context) fetchDigest(h crypto.Hash) (*pkicrypto.Digest, error) {
	d, err := c.provider.FetchDigest(h)
	if err != nil {
		return nil, joinKind(ErrUnsupportedAlgorithm, err)
	}
	return d, nil
}

// Provider returns the algorithm provider of the context.
func (c *Context) Provider() *pkicrypto.Provider {
	if c == nil {
		return nil
	}
	return c.provider
}

// PropertyQuery returns the property query given to New.
func (c *Context) PropertyQuery() string {
	if c == nil {
		return ""
	}
	return c.propq
}

// closeTransport closes an open transport. Close errors are logged and
// otherwise ignored.
func (c *Context) closeTransport() {
	if c.transport == nil {
		return
	}
	if err := c.transport.Close(); err != nil {
		c.Warnf("error closing transport: %v", err)
	}
	c.Debugf("disconnected from CMP server")
	c.transport = nil
}

// Reinit prepares the context for a new transaction. It clears the
// correlation state and the results of the previous transaction while
// keeping credentials, trust material and options.
func (c *Context) Reinit() error {
	if c == nil {
		return nullArg("Reinit")
	}

	c.closeTransport()
	c.status = PKIStatusUnspecified
	c.failInfo = -1
	c.genmITAVs = nil
	c.statusText = nil

	c.newCert.Free()
	c.newCert = nil
	x509util.FreeAll(c.newChain)
	c.newChain = nil
	x509util.FreeAll(c.caPubs)
	c.caPubs = nil
	x509util.FreeAll(c.extraCertsIn)
	c.extraCertsIn = nil
	c.validatedSrvCert.Free()
	c.validatedSrvCert = nil

	c.firstSenderNonce = nil
	c.transactionID = nil
	c.senderNonce = nil
	c.recipNonce = nil
	return nil
}

// Close closes an open transport and releases everything the context
// holds. The shared secret is erased. Close is idempotent; the context
// must not be used afterwards.
func (c *Context) Close() error {
	if c == nil || c.closed {
		return nil
	}
	c.closeTransport()

	c.srvCert.Free()
	c.validatedSrvCert.Free()
	c.trusted.Free()
	x509util.FreeAll(c.untrusted)

	c.cert.Free()
	x509util.FreeAll(c.chain)
	pkicrypto.Zeroize(c.secretValue)

	x509util.FreeAll(c.extraCertsOut)
	if s, ok := c.newKey.(crypto.Signer); ok {
		if err := pkicrypto.CloseSigner(s); err != nil {
			c.Warnf("error closing new key: %v", err)
		}
	}
	c.oldCert.Free()

	c.newCert.Free()
	x509util.FreeAll(c.newChain)
	x509util.FreeAll(c.caPubs)
	x509util.FreeAll(c.extraCertsIn)

	*c = Context{
		closed:    true,
		provider:  c.provider,
		propq:     c.propq,
		verbosity: c.verbosity,
		logCB:     c.logCB,
		errs:      c.errs,
		errOut:    c.errOut,
	}
	return nil
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	return c == nil || c.closed
}
