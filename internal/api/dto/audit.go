package dto

// AuditLogsResponse represents audit logs.
type AuditLogsResponse struct {
	// Logs is the list of audit entries.
	Logs []AuditEntry `json:"logs"`

	// Pagination contains pagination information.
	Pagination PaginationResponse `json:"pagination"`
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	// Timestamp is when the event occurred (RFC3339).
	Timestamp string `json:"timestamp"`

	// EventType is the event type, e.g. CONTEXT_CREATED.
	EventType string `json:"event_type"`

	// Context is the identifier of the context the event concerns.
	Context string `json:"context,omitempty"`

	// Subject is the certificate subject, when relevant.
	Subject string `json:"subject,omitempty"`

	// Details contains event-specific details.
	Details map[string]string `json:"details,omitempty"`

	// Success indicates if the operation succeeded.
	Success bool `json:"success"`

	// Hash is the entry hash for verification.
	Hash string `json:"hash"`
}

// AuditVerifyResponse represents audit verification result.
type AuditVerifyResponse struct {
	// Valid indicates if the audit log is valid.
	Valid bool `json:"valid"`

	// Errors lists verification errors.
	Errors []string `json:"errors,omitempty"`

	// EntryCount is the number of entries verified.
	EntryCount int `json:"entry_count"`
}
