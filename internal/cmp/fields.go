package cmp

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"

	pkicrypto "github.com/remiblancher/cmpctx/internal/crypto"
	"github.com/remiblancher/cmpctx/internal/x509util"
)

// =============================================================================
// Names (copy in)
// =============================================================================

// setName stores a deep copy of n in dst. A nil name clears the field.
func setName(dst **pkix.Name, n *pkix.Name) error {
	*dst = x509util.CloneName(n)
	return nil
}

// SetRecipient sets the recipient name placed in the PKIHeader.
func (c *Context) SetRecipient(n *pkix.Name) error {
	if c == nil {
		return nullArg("SetRecipient")
	}
	return setName(&c.recipient, n)
}

// SetExpectedSender sets the sender name expected in responses.
func (c *Context) SetExpectedSender(n *pkix.Name) error {
	if c == nil {
		return nullArg("SetExpectedSender")
	}
	return setName(&c.expectedSender, n)
}

// SetIssuer sets the issuer name placed in the certificate template.
func (c *Context) SetIssuer(n *pkix.Name) error {
	if c == nil {
		return nullArg("SetIssuer")
	}
	return setName(&c.issuer, n)
}

// SetSubjectName sets the subject name requested for the new certificate.
func (c *Context) SetSubjectName(n *pkix.Name) error {
	if c == nil {
		return nullArg("SetSubjectName")
	}
	return setName(&c.subjectName, n)
}

func (c *Context) Recipient() *pkix.Name {
	if c == nil {
		return nil
	}
	return c.recipient
}

func (c *Context) ExpectedSender() *pkix.Name {
	if c == nil {
		return nil
	}
	return c.expectedSender
}

func (c *Context) Issuer() *pkix.Name {
	if c == nil {
		return nil
	}
	return c.issuer
}

func (c *Context) SubjectName() *pkix.Name {
	if c == nil {
		return nil
	}
	return c.subjectName
}

// =============================================================================
// Server location
// =============================================================================

// SetServer sets the host name of the CMP server.
func (c *Context) SetServer(host string) error {
	if c == nil {
		return nullArg("SetServer")
	}
	c.server = host
	return nil
}

// SetServerPath sets the HTTP path on the server, e.g. "pkix/".
func (c *Context) SetServerPath(path string) error {
	if c == nil {
		return nullArg("SetServerPath")
	}
	c.serverPath = path
	return nil
}

// SetServerPort sets the server port. Zero selects the scheme default.
func (c *Context) SetServerPort(port int) error {
	if c == nil {
		return nullArg("SetServerPort")
	}
	c.serverPort = port
	return nil
}

// SetProxy sets the HTTP(S) proxy.
func (c *Context) SetProxy(proxy string) error {
	if c == nil {
		return nullArg("SetProxy")
	}
	c.proxy = proxy
	return nil
}

// SetNoProxy sets the list of hosts reached without the proxy.
func (c *Context) SetNoProxy(noProxy string) error {
	if c == nil {
		return nullArg("SetNoProxy")
	}
	c.noProxy = noProxy
	return nil
}

func (c *Context) Server() string {
	if c == nil {
		return ""
	}
	return c.server
}

func (c *Context) ServerPath() string {
	if c == nil {
		return ""
	}
	return c.serverPath
}

func (c *Context) ServerPort() int {
	if c == nil {
		return 0
	}
	return c.serverPort
}

func (c *Context) Proxy() string {
	if c == nil {
		return ""
	}
	return c.proxy
}

func (c *Context) NoProxy() string {
	if c == nil {
		return ""
	}
	return c.noProxy
}

// =============================================================================
// Byte strings (copy in)
// =============================================================================

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}

// SetTransactionID sets the transaction ID. Nil clears it.
func (c *Context) SetTransactionID(id []byte) error {
	if c == nil {
		return nullArg("SetTransactionID")
	}
	c.transactionID = cloneBytes(id)
	return nil
}

// SetSenderNonce records the sender nonce of the last request sent.
func (c *Context) SetSenderNonce(nonce []byte) error {
	if c == nil {
		return nullArg("SetSenderNonce")
	}
	c.senderNonce = cloneBytes(nonce)
	return nil
}

// SetRecipNonce sets the recipient nonce for the next request.
func (c *Context) SetRecipNonce(nonce []byte) error {
	if c == nil {
		return nullArg("SetRecipNonce")
	}
	c.recipNonce = cloneBytes(nonce)
	return nil
}

// SetFirstSenderNonce records the sender nonce of the first request,
// used to detect delayed delivery.
func (c *Context) SetFirstSenderNonce(nonce []byte) error {
	if c == nil {
		return nullArg("SetFirstSenderNonce")
	}
	c.firstSenderNonce = cloneBytes(nonce)
	return nil
}

// SetReferenceValue sets the identifier (user name) used with PBM.
func (c *Context) SetReferenceValue(ref []byte) error {
	if c == nil {
		return nullArg("SetReferenceValue")
	}
	c.referenceValue = cloneBytes(ref)
	return nil
}

// SetSecretValue sets the shared secret used for PBM protection. The
// previous secret is erased before it is dropped. Nil clears it.
func (c *Context) SetSecretValue(secret []byte) error {
	if c == nil {
		return nullArg("SetSecretValue")
	}
	next := cloneBytes(secret)
	pkicrypto.Zeroize(c.secretValue)
	c.secretValue = next
	return nil
}

// TransactionID returns a copy of the transaction ID. The byte getters
// below all copy, so writing into a result leaves the context unchanged.
func (c *Context) TransactionID() []byte {
	if c == nil {
		return nil
	}
	return cloneBytes(c.transactionID)
}

func (c *Context) SenderNonce() []byte {
	if c == nil {
		return nil
	}
	return cloneBytes(c.senderNonce)
}

func (c *Context) RecipNonce() []byte {
	if c == nil {
		return nil
	}
	return cloneBytes(c.recipNonce)
}

func (c *Context) FirstSenderNonce() []byte {
	if c == nil {
		return nil
	}
	return cloneBytes(c.firstSenderNonce)
}

func (c *Context) ReferenceValue() []byte {
	if c == nil {
		return nil
	}
	return cloneBytes(c.referenceValue)
}

// HasSecretValue reports whether a shared secret is set. The secret
// itself is not exposed.
func (c *Context) HasSecretValue() bool {
	return c != nil && len(c.secretValue) > 0
}

// =============================================================================
// Serial number and PKCS#10 request (copy in)
// =============================================================================

// SetSerialNumber sets the serial number placed in the template, e.g.
// of the certificate to revoke.
func (c *Context) SetSerialNumber(sn *big.Int) error {
	if c == nil {
		return nullArg("SetSerialNumber")
	}
	if sn == nil {
		c.serialNumber = nil
		return nil
	}
	c.serialNumber = new(big.Int).Set(sn)
	return nil
}

func (c *Context) SerialNumber() *big.Int {
	if c == nil {
		return nil
	}
	return c.serialNumber
}

// SetP10CSR sets the PKCS#10 request sent in a P10CR. The request is
// duplicated from its encoding.
func (c *Context) SetP10CSR(csr *x509.CertificateRequest) error {
	const op = "SetP10CSR"
	if c == nil {
		return nullArg(op)
	}
	if csr == nil {
		c.p10CSR = nil
		return nil
	}
	if len(csr.Raw) == 0 {
		return c.fail(op, ErrAllocation, fmt.Errorf("request has no encoding"))
	}
	dup, err := x509.ParseCertificateRequest(csr.Raw)
	if err != nil {
		return c.fail(op, ErrAllocation, err)
	}
	c.p10CSR = dup
	return nil
}

func (c *Context) P10CSR() *x509.CertificateRequest {
	if c == nil {
		return nil
	}
	return c.p10CSR
}

// =============================================================================
// Transaction results
// =============================================================================

// SetStatus records the PKIStatus of the last response.
func (c *Context) SetStatus(s PKIStatus) error {
	if c == nil {
		return nullArg("SetStatus")
	}
	c.status = s
	return nil
}

// Status returns the PKIStatus of the last response.
func (c *Context) Status() PKIStatus {
	if c == nil {
		return PKIStatusUnspecified
	}
	return c.status
}

// SetStatusText takes the status text of the last response.
func (c *Context) SetStatusText(text []string) error {
	if c == nil {
		return nullArg("SetStatusText")
	}
	c.statusText = text
	return nil
}

func (c *Context) StatusText() []string {
	if c == nil {
		return nil
	}
	return c.statusText
}

// SetFailInfo records the PKIFailureInfo bits of the last response;
// -1 means unset.
func (c *Context) SetFailInfo(bits int) error {
	if c == nil {
		return nullArg("SetFailInfo")
	}
	c.failInfo = bits
	return nil
}

// FailInfo returns the PKIFailureInfo bits, or -1 if unset.
func (c *Context) FailInfo() int {
	if c == nil {
		return -1
	}
	return c.failInfo
}

// =============================================================================
// Callbacks and transport
// =============================================================================

// SetTransport records an open transport, closed on Reinit and Close.
func (c *Context) SetTransport(t Transport) error {
	if c == nil {
		return nullArg("SetTransport")
	}
	c.transport = t
	return nil
}

func (c *Context) Transport() Transport {
	if c == nil {
		return nil
	}
	return c.transport
}

// SetTransferCallback sets the function that exchanges messages with
// the server.
func (c *Context) SetTransferCallback(cb TransferFunc) error {
	if c == nil {
		return nullArg("SetTransferCallback")
	}
	c.transferCB = cb
	return nil
}

func (c *Context) SetTransferCallbackArg(arg any) error {
	if c == nil {
		return nullArg("SetTransferCallbackArg")
	}
	c.transferCBArg = arg
	return nil
}

func (c *Context) TransferCallback() TransferFunc {
	if c == nil {
		return nil
	}
	return c.transferCB
}

func (c *Context) TransferCallbackArg() any {
	if c == nil {
		return nil
	}
	return c.transferCBArg
}

// SetHTTPCallback sets the connect/disconnect hook for HTTP(S) transfer.
func (c *Context) SetHTTPCallback(cb HTTPConnFunc) error {
	if c == nil {
		return nullArg("SetHTTPCallback")
	}
	c.httpCB = cb
	return nil
}

func (c *Context) SetHTTPCallbackArg(arg any) error {
	if c == nil {
		return nullArg("SetHTTPCallbackArg")
	}
	c.httpCBArg = arg
	return nil
}

func (c *Context) HTTPCallback() HTTPConnFunc {
	if c == nil {
		return nil
	}
	return c.httpCB
}

func (c *Context) HTTPCallbackArg() any {
	if c == nil {
		return nil
	}
	return c.httpCBArg
}

// SetCertConfCallback sets the check applied to newly enrolled certificates.
func (c *Context) SetCertConfCallback(cb CertConfFunc) error {
	if c == nil {
		return nullArg("SetCertConfCallback")
	}
	c.certConfCB = cb
	return nil
}

func (c *Context) SetCertConfCallbackArg(arg any) error {
	if c == nil {
		return nullArg("SetCertConfCallbackArg")
	}
	c.certConfCBArg = arg
	return nil
}

func (c *Context) CertConfCallback() CertConfFunc {
	if c == nil {
		return nil
	}
	return c.certConfCB
}

func (c *Context) CertConfCallbackArg() any {
	if c == nil {
		return nil
	}
	return c.certConfCBArg
}
