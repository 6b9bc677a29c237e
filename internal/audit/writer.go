package audit

import (
	"github.com/hashicorp/go-multierror"
)

// Writer is implemented by audit log sinks.
//
// Implementations must:
//   - Return an error if the write fails
//   - Flush to persistent storage before returning from Write
//   - Set the hash chain fields (HashPrev, Hash)
type Writer interface {
	Write(event *Event) error
	Close() error

	// LastHash returns the hash of the last written event, or
	// GenesisHash if none was written.
	LastHash() string
}

// NopWriter discards all events. It is used when auditing is disabled.
type NopWriter struct{}

var _ Writer = (*NopWriter)(nil)

func (NopWriter) Write(*Event) error { return nil }
func (NopWriter) Close() error       { return nil }
func (NopWriter) LastHash() string   { return GenesisHash }

// MultiWriter writes to several audit writers. The write fails as soon as
// one writer fails.
type MultiWriter struct {
	writers []Writer
}

var _ Writer = (*MultiWriter)(nil)

// NewMultiWriter creates a writer that writes to all provided writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) Write(event *Event) error {
	for _, w := range m.writers {
		if err := w.Write(event); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every writer and returns all close errors combined.
func (m *MultiWriter) Close() error {
	var errs *multierror.Error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (m *MultiWriter) LastHash() string {
	if len(m.writers) > 0 {
		return m.writers[0].LastHash()
	}
	return GenesisHash
}
