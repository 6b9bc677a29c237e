package audit

import (
	"fmt"
	"sync"
)

var (
	globalWriter Writer = NopWriter{}
	globalMu     sync.RWMutex
	enabled      bool
)

// Init installs w as the global audit writer. A nil writer disables auditing.
func Init(w Writer) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if w == nil {
		globalWriter = NopWriter{}
		enabled = false
		return nil
	}
	globalWriter = w
	enabled = true
	return nil
}

// InitFile installs a file writer for path. An empty path disables auditing.
func InitFile(path string) error {
	if path == "" {
		return Init(nil)
	}
	w, err := NewFileWriter(path)
	if err != nil {
		return err
	}
	return Init(w)
}

// Close closes the global writer and disables auditing.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	err := globalWriter.Close()
	globalWriter = NopWriter{}
	enabled = false
	return err
}

// Enabled reports whether audit logging is active.
func Enabled() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return enabled
}

// Log writes an event to the global writer.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()

	return w.Write(event)
}

// MustLog writes an event and returns an error suitable for failing the
// parent operation:
//
//	if err := audit.MustLog(event); err != nil {
//	    return nil, err
//	}
func MustLog(event *Event) error {
	if err := Log(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

// LogContextCreated logs the creation of a CMP context.
func LogContextCreated(id, propq string) error {
	event := NewEvent(EventContextCreated, ResultSuccess).
		WithObject(Object{Type: "context", ID: id}).
		WithDetails(Details{Reason: propertyReason(propq)})
	return MustLog(event)
}

func propertyReason(propq string) string {
	if propq == "" {
		return ""
	}
	return "properties=" + propq
}

// LogContextReinit logs a context reset for a new transaction.
func LogContextReinit(id string) error {
	return MustLog(NewEvent(EventContextReinit, ResultSuccess).
		WithObject(Object{Type: "context", ID: id}))
}

// LogContextClosed logs the release of a context.
func LogContextClosed(id string) error {
	return MustLog(NewEvent(EventContextClosed, ResultSuccess).
		WithObject(Object{Type: "context", ID: id}))
}

// LogCredentialLoaded logs loading the own certificate and key.
func LogCredentialLoaded(id, subject, algorithm, path string, success bool, reason string) error {
	event := NewEvent(EventCredentialLoaded, resultOf(success)).
		WithObject(Object{Type: "key", ID: id, Subject: subject, Path: path}).
		WithDetails(Details{Algorithm: algorithm, Reason: reason})
	return MustLog(event)
}

// LogSecretConfigured logs that a PBM secret was set. The secret itself
// is never logged.
func LogSecretConfigured(id string) error {
	return MustLog(NewEvent(EventSecretConfigured, ResultSuccess).
		WithObject(Object{Type: "secret", ID: id}))
}

// LogTrustLoaded logs loading trust anchors or untrusted certificates.
func LogTrustLoaded(id, path string, count int, success bool, reason string) error {
	event := NewEvent(EventTrustLoaded, resultOf(success)).
		WithObject(Object{Type: "trust", ID: id, Path: path}).
		WithDetails(Details{Count: count, Reason: reason})
	return MustLog(event)
}

// LogChainBuilt logs building the chain of the own certificate.
func LogChainBuilt(id, subject string, length int, success bool, reason string) error {
	event := NewEvent(EventChainBuilt, resultOf(success)).
		WithObject(Object{Type: "certificate", ID: id, Subject: subject}).
		WithDetails(Details{Count: length, Reason: reason})
	return MustLog(event)
}

// LogOptionChanged logs a context option update.
func LogOptionChanged(id, option string, value int, success bool, reason string) error {
	v := value
	event := NewEvent(EventOptionChanged, resultOf(success)).
		WithObject(Object{Type: "context", ID: id}).
		WithDetails(Details{Option: option, Value: &v, Reason: reason})
	return MustLog(event)
}

// LogSnapshotExported logs the export of a signed configuration snapshot.
func LogSnapshotExported(id, path, algorithm string) error {
	event := NewEvent(EventSnapshotExported, ResultSuccess).
		WithObject(Object{Type: "snapshot", ID: id, Path: path}).
		WithDetails(Details{Algorithm: algorithm})
	return MustLog(event)
}
