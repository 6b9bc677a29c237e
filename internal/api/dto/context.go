package dto

// ContextListResponse lists registered contexts.
type ContextListResponse struct {
	Contexts   []ContextListItem  `json:"contexts"`
	Pagination PaginationResponse `json:"pagination"`
}

// ContextListItem is a short description of one registered context.
type ContextListItem struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"` // RFC3339
	Server    string `json:"server,omitempty"`
}

// ContextResponse describes the state of a registered context. Secrets
// and private keys are never returned.
type ContextResponse struct {
	ID            string `json:"id"`
	CreatedAt     string `json:"created_at"` // RFC3339
	PropertyQuery string `json:"property_query,omitempty"`

	Server ServerInfo `json:"server"`

	Recipient      string `json:"recipient,omitempty"`
	ExpectedSender string `json:"expected_sender,omitempty"`
	Issuer         string `json:"issuer,omitempty"`
	Subject        string `json:"subject,omitempty"`

	// Cert is the subject of the own certificate.
	Cert       string   `json:"cert,omitempty"`
	ServerCert string   `json:"server_cert,omitempty"`
	OldCert    string   `json:"old_cert,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	TrustAnchors  int `json:"trust_anchors"`
	Untrusted     int `json:"untrusted"`
	ExtraCertsOut int `json:"extra_certs_out"`

	HasPrivateKey  bool `json:"has_private_key"`
	HasSecret      bool `json:"has_secret"`
	NewKeyPrivate  bool `json:"new_key_private"`
	ReferenceValue bool `json:"has_reference_value"`

	SubjectAltNames []string `json:"subject_alt_names,omitempty"`
	Policies        []string `json:"policies,omitempty"`
	SerialNumber    string   `json:"serial_number,omitempty"`

	PBM PBMInfo `json:"pbm"`

	Status   string `json:"status"`
	FailInfo int    `json:"fail_info"`

	Options map[string]int `json:"options"`
}

// ServerInfo locates the CMP server of a context.
type ServerInfo struct {
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port"`
	Path    string `json:"path,omitempty"`
	Proxy   string `json:"proxy,omitempty"`
	NoProxy string `json:"no_proxy,omitempty"`
}

// PBMInfo holds password-based MAC parameters.
type PBMInfo struct {
	Iterations int    `json:"iterations"`
	SaltLength int    `json:"salt_length"`
	OWF        string `json:"owf"`
	MAC        string `json:"mac"`
}

// OptionResponse is the value of one option.
type OptionResponse struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
	Min   int    `json:"min"`
	Max   *int   `json:"max,omitempty"`
}

// OptionSetRequest sets one option.
type OptionSetRequest struct {
	Value *int `json:"value"`
}
