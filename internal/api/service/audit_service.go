package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/remiblancher/cmpctx/internal/api/dto"
	"github.com/remiblancher/cmpctx/internal/audit"
)

// ErrAuditDisabled indicates the server was started without an audit log.
var ErrAuditDisabled = errors.New("audit log not configured")

// AuditService reads the hash-chained audit log of the server.
type AuditService struct {
	path string
}

// NewAuditService creates an AuditService over the log at path. An empty
// path disables the audit endpoints.
func NewAuditService(path string) *AuditService {
	return &AuditService{path: path}
}

// AuditFilter selects audit entries.
type AuditFilter struct {
	EventType string
	Context   string
}

func (f AuditFilter) match(e *audit.Event) bool {
	if f.EventType != "" && string(e.EventType) != f.EventType {
		return false
	}
	if f.Context != "" && e.Object.ID != f.Context {
		return false
	}
	return true
}

// Logs returns audit entries matching filter, oldest first.
func (s *AuditService) Logs(ctx context.Context, filter AuditFilter, pagination *dto.PaginationRequest) (*dto.AuditLogsResponse, error) {
	if s.path == "" {
		return nil, ErrAuditDisabled
	}
	events, err := audit.ReadEvents(s.path)
	if err != nil {
		return nil, err
	}

	var matched []*audit.Event
	for _, e := range events {
		if filter.match(e) {
			matched = append(matched, e)
		}
	}

	var p dto.PaginationRequest
	if pagination != nil {
		p = *pagination
	}
	start, end, page := dto.Paginate(p, len(matched))

	logs := make([]dto.AuditEntry, 0, end-start)
	for _, e := range matched[start:end] {
		logs = append(logs, auditEntry(e))
	}
	return &dto.AuditLogsResponse{Logs: logs, Pagination: page}, nil
}

func auditEntry(e *audit.Event) dto.AuditEntry {
	entry := dto.AuditEntry{
		Timestamp: e.Timestamp,
		EventType: string(e.EventType),
		Context:   e.Object.ID,
		Subject:   e.Object.Subject,
		Success:   e.Result == audit.ResultSuccess,
		Hash:      e.Hash,
	}

	details := map[string]string{}
	if e.Object.Path != "" {
		details["path"] = e.Object.Path
	}
	if e.Details.Option != "" {
		details["option"] = e.Details.Option
	}
	if e.Details.Value != nil {
		details["value"] = strconv.Itoa(*e.Details.Value)
	}
	if e.Details.Algorithm != "" {
		details["algorithm"] = e.Details.Algorithm
	}
	if e.Details.Count != 0 {
		details["count"] = strconv.Itoa(e.Details.Count)
	}
	if e.Details.Reason != "" {
		details["reason"] = e.Details.Reason
	}
	if len(details) > 0 {
		entry.Details = details
	}
	return entry
}

// Verify checks the hash chain of the audit log.
func (s *AuditService) Verify(ctx context.Context) (*dto.AuditVerifyResponse, error) {
	if s.path == "" {
		return nil, ErrAuditDisabled
	}
	n, err := audit.VerifyChain(s.path)
	resp := &dto.AuditVerifyResponse{Valid: err == nil, EntryCount: n}
	if err != nil {
		resp.Errors = []string{err.Error()}
	}
	return resp, nil
}
