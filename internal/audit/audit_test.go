package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// =============================================================================
// Event Tests
// =============================================================================

func TestU_NewEvent_Creation(t *testing.T) {
	event := NewEvent(EventContextCreated, ResultSuccess)

	if event.EventType != EventContextCreated {
		t.Errorf("expected EventType=%s, got %s", EventContextCreated, event.EventType)
	}
	if event.Result != ResultSuccess {
		t.Errorf("expected Result=%s, got %s", ResultSuccess, event.Result)
	}
	if event.Timestamp == "" {
		t.Error("Timestamp should not be empty")
	}
	if event.Actor.Type != "user" {
		t.Errorf("expected Actor.Type=user, got %s", event.Actor.Type)
	}
}

func TestU_NewEvent_UnknownUser(t *testing.T) {
	t.Setenv("USER", "")
	t.Setenv("USERNAME", "")

	event := NewEvent(EventContextClosed, ResultSuccess)
	if event.Actor.ID != "unknown" {
		t.Errorf("Actor.ID = %q, want unknown", event.Actor.ID)
	}
}

func TestU_Event_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   *Event
		wantErr bool
	}{
		{
			name:    "[Unit] Validate: valid event",
			event:   NewEvent(EventOptionChanged, ResultSuccess),
			wantErr: false,
		},
		{
			name: "[Unit] Validate: missing event_type",
			event: &Event{
				Timestamp: "2026-01-15T10:00:00Z",
				Actor:     Actor{Type: "user", ID: "admin"},
				Result:    ResultSuccess,
			},
			wantErr: true,
		},
		{
			name: "[Unit] Validate: missing timestamp",
			event: &Event{
				EventType: EventContextReinit,
				Actor:     Actor{Type: "user", ID: "admin"},
				Result:    ResultSuccess,
			},
			wantErr: true,
		},
		{
			name: "[Unit] Validate: missing actor",
			event: &Event{
				EventType: EventContextReinit,
				Timestamp: "2026-01-15T10:00:00Z",
				Result:    ResultSuccess,
			},
			wantErr: true,
		},
		{
			name: "[Unit] Validate: missing result",
			event: &Event{
				EventType: EventContextReinit,
				Timestamp: "2026-01-15T10:00:00Z",
				Actor:     Actor{Type: "user", ID: "admin"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestU_Event_CanonicalJSON(t *testing.T) {
	event := NewEvent(EventChainBuilt, ResultSuccess).
		WithObject(Object{Type: "certificate", ID: "ctx-1"})
	event.HashPrev = GenesisHash
	event.Hash = "sha256:ignored"

	canonical, err := event.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON() error = %v", err)
	}
	if strings.Contains(string(canonical), `"hash":`) {
		t.Error("CanonicalJSON should not contain hash field")
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(canonical, &parsed); err != nil {
		t.Errorf("CanonicalJSON produced invalid JSON: %v", err)
	}
}

func TestU_Event_OptionValueZero(t *testing.T) {
	zero := 0
	event := NewEvent(EventOptionChanged, ResultSuccess).
		WithDetails(Details{Option: "implicit_confirm", Value: &zero})

	data, err := event.JSON()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"value":0`) {
		t.Errorf("a zero option value must be logged: %s", data)
	}
}

// =============================================================================
// FileWriter Tests
// =============================================================================

func TestU_FileWriter_Chain(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")

	writer, err := NewFileWriter(logPath)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}

	first := NewEvent(EventContextCreated, ResultSuccess).WithObject(Object{Type: "context", ID: "a"})
	if err := writer.Write(first); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if first.HashPrev != GenesisHash {
		t.Errorf("first HashPrev = %s, want %s", first.HashPrev, GenesisHash)
	}
	if !strings.HasPrefix(first.Hash, HashPrefix) {
		t.Errorf("Hash = %s, want %s prefix", first.Hash, HashPrefix)
	}

	second := NewEvent(EventContextClosed, ResultSuccess).WithObject(Object{Type: "context", ID: "a"})
	if err := writer.Write(second); err != nil {
		t.Fatal(err)
	}
	if second.HashPrev != first.Hash {
		t.Error("second event should chain to the first")
	}
	if writer.LastHash() != second.Hash {
		t.Error("LastHash() should be the hash of the last event")
	}
	_ = writer.Close()

	// Reopening continues the chain.
	writer, err = NewFileWriter(logPath)
	if err != nil {
		t.Fatal(err)
	}
	third := NewEvent(EventContextReinit, ResultSuccess)
	if err := writer.Write(third); err != nil {
		t.Fatal(err)
	}
	_ = writer.Close()
	if third.HashPrev != second.Hash {
		t.Error("reopened writer should chain to the last event on disk")
	}

	count, err := VerifyChain(logPath)
	if err != nil || count != 3 {
		t.Errorf("VerifyChain() = %d, %v, want 3", count, err)
	}
}

func TestU_FileWriter_Lockfile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")

	writer, err := NewFileWriter(logPath)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	if _, err := os.Stat(logPath + ".lock"); err != nil {
		t.Errorf("lock file not created: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(logPath + ".lock"); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed on Close, stat error = %v", err)
	}
}

func TestU_FileWriter_Errors(t *testing.T) {
	if _, err := NewFileWriter("/nonexistent/directory/audit.jsonl"); err == nil {
		t.Error("NewFileWriter() should fail with invalid path")
	}

	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.jsonl")
	_ = os.WriteFile(corrupt, []byte("{not json}\n"), 0600)
	if _, err := NewFileWriter(corrupt); err == nil {
		t.Error("NewFileWriter() should fail on a corrupt log")
	}

	writer, err := NewFileWriter(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if err := writer.Write(&Event{}); err == nil {
		t.Error("Write() should reject an invalid event")
	}
	if err := writer.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := writer.Write(NewEvent(EventContextClosed, ResultSuccess)); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Write() after Close() error = %v, want ErrWriterClosed", err)
	}
}

func TestU_FileWriter_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	writer, err := NewFileWriter(logPath)
	if err != nil {
		t.Fatal(err)
	}

	const goroutines, perGoroutine = 8, 10
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if err := writer.Write(NewEvent(EventOptionChanged, ResultSuccess)); err != nil {
					t.Errorf("concurrent write error: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	_ = writer.Close()

	count, err := VerifyChain(logPath)
	if err != nil || count != goroutines*perGoroutine {
		t.Errorf("VerifyChain() = %d, %v, want %d", count, err, goroutines*perGoroutine)
	}
}

// =============================================================================
// VerifyChain Tests
// =============================================================================

func TestU_VerifyChain_Tampering(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	writer, _ := NewFileWriter(logPath)
	for i := 0; i < 3; i++ {
		_ = writer.Write(NewEvent(EventTrustLoaded, ResultSuccess).WithObject(Object{Type: "trust", Path: "/etc/cmp/ca.pem"}))
	}
	_ = writer.Close()

	data, _ := os.ReadFile(logPath)
	tampered := strings.Replace(string(data), "/etc/cmp/ca.pem", "/tmp/evil.pem", 1)
	_ = os.WriteFile(logPath, []byte(tampered), 0600)

	count, err := VerifyChain(logPath)
	if err == nil {
		t.Fatal("VerifyChain() should detect tampering")
	}
	if count != 0 {
		t.Errorf("valid events before tampering = %d, want 0", count)
	}
}

func TestU_VerifyChain_EdgeCases(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.jsonl")
	_ = os.WriteFile(empty, nil, 0600)
	if count, err := VerifyChain(empty); err != nil || count != 0 {
		t.Errorf("empty log: %d, %v", count, err)
	}

	if _, err := VerifyChain(filepath.Join(dir, "missing.jsonl")); err == nil {
		t.Error("missing log should fail")
	}

	blanks := filepath.Join(dir, "blanks.jsonl")
	writer, _ := NewFileWriter(blanks)
	_ = writer.Write(NewEvent(EventContextCreated, ResultSuccess))
	_ = writer.Close()
	data, _ := os.ReadFile(blanks)
	_ = os.WriteFile(blanks, append([]byte("\n  \n"), data...), 0600)
	if count, err := VerifyChain(blanks); err != nil || count != 1 {
		t.Errorf("blank lines: %d, %v", count, err)
	}

	events, err := ReadEvents(blanks)
	if err != nil || len(events) != 1 || events[0].EventType != EventContextCreated {
		t.Errorf("ReadEvents() = %v, %v", events, err)
	}
}

// =============================================================================
// MultiWriter Tests
// =============================================================================

type failingWriter struct {
	failOnWrite bool
	failOnClose bool
}

func (f *failingWriter) Write(*Event) error {
	if f.failOnWrite {
		return os.ErrPermission
	}
	return nil
}

func (f *failingWriter) Close() error {
	if f.failOnClose {
		return os.ErrClosed
	}
	return nil
}

func (f *failingWriter) LastHash() string {
	return GenesisHash
}

func TestU_MultiWriter(t *testing.T) {
	dir := t.TempDir()
	w1, _ := NewFileWriter(filepath.Join(dir, "a.jsonl"))
	w2, _ := NewFileWriter(filepath.Join(dir, "b.jsonl"))
	multi := NewMultiWriter(w1, w2)

	if err := multi.Write(NewEvent(EventSecretConfigured, ResultSuccess)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if multi.LastHash() != w1.LastHash() {
		t.Error("LastHash() should be the first writer's")
	}
	if err := multi.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if NewMultiWriter().LastHash() != GenesisHash {
		t.Error("empty MultiWriter LastHash() should be genesis")
	}

	failing := NewMultiWriter(&failingWriter{}, &failingWriter{failOnWrite: true})
	if err := failing.Write(NewEvent(EventContextClosed, ResultSuccess)); !errors.Is(err, os.ErrPermission) {
		t.Errorf("Write() error = %v, want ErrPermission", err)
	}

	closing := NewMultiWriter(&failingWriter{failOnClose: true}, &failingWriter{failOnClose: true})
	err := closing.Close()
	if !errors.Is(err, os.ErrClosed) {
		t.Errorf("Close() error = %v, want ErrClosed", err)
	}
	if !strings.Contains(err.Error(), "2 errors occurred") {
		t.Errorf("Close() should report both failures: %v", err)
	}
}

// =============================================================================
// Global Audit Tests
// =============================================================================

func TestU_GlobalAudit_Helpers(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	if err := InitFile(logPath); err != nil {
		t.Fatalf("InitFile() error = %v", err)
	}
	defer func() { _ = Close() }()

	if !Enabled() {
		t.Fatal("Enabled() = false after InitFile")
	}

	calls := []func() error{
		func() error { return LogContextCreated("ctx-1", "fips=yes") },
		func() error { return LogOptionChanged("ctx-1", "popo_method", 0, true, "") },
		func() error { return LogOptionChanged("ctx-1", "popo_method", 9, false, "value too large") },
		func() error { return LogCredentialLoaded("ctx-1", "CN=client", "ecdsa-p256", "/keys/client.pem", true, "") },
		func() error { return LogSecretConfigured("ctx-1") },
		func() error { return LogTrustLoaded("ctx-1", "/etc/cmp/trusted.pem", 2, true, "") },
		func() error { return LogChainBuilt("ctx-1", "CN=client", 2, true, "") },
		func() error { return LogSnapshotExported("ctx-1", "/tmp/ctx.cbor", "ES256") },
		func() error { return LogContextReinit("ctx-1") },
		func() error { return LogContextClosed("ctx-1") },
	}
	for i, call := range calls {
		if err := call(); err != nil {
			t.Fatalf("helper %d error = %v", i, err)
		}
	}
	_ = Close()

	if Enabled() {
		t.Error("Enabled() = true after Close")
	}

	events, err := ReadEvents(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != len(calls) {
		t.Fatalf("logged %d events, want %d", len(events), len(calls))
	}
	if events[2].Result != ResultFailure || events[2].Details.Reason != "value too large" {
		t.Errorf("failed option change logged as %+v", events[2])
	}
	if events[0].Details.Reason != "properties=fips=yes" {
		t.Errorf("context creation details = %+v", events[0].Details)
	}
	if count, err := VerifyChain(logPath); err != nil || count != len(calls) {
		t.Errorf("VerifyChain() = %d, %v", count, err)
	}
}

func TestU_GlobalAudit_Disabled(t *testing.T) {
	if err := Init(nil); err != nil {
		t.Fatal(err)
	}
	if Enabled() {
		t.Error("Init(nil) should disable auditing")
	}
	if err := LogContextCreated("x", ""); err != nil {
		t.Errorf("logging while disabled error = %v", err)
	}
	if err := InitFile(""); err != nil || Enabled() {
		t.Error("InitFile(\"\") should disable auditing")
	}
	if err := Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestU_MustLog_Error(t *testing.T) {
	_ = Init(&failingWriter{failOnWrite: true})
	defer func() { _ = Close() }()

	err := MustLog(NewEvent(EventContextClosed, ResultSuccess))
	if err == nil || !strings.HasPrefix(err.Error(), "audit log failed") {
		t.Errorf("MustLog() error = %v", err)
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Errorf("MustLog() should wrap the writer error")
	}
}
