package audit

import "errors"

// Writer persists audit events.
//
// Write must validate the event, chain it (HashPrev, Hash), persist it and
// flush before returning. Any failure is returned so the caller can fail
// the operation.
type Writer interface {
	Write(event *Event) error
	Close() error

	// LastHash returns the hash of the last event written, or GenesisHash.
	LastHash() string
}

// NopWriter discards every event. It is the writer when no audit log is
// configured.
type NopWriter struct{}

var _ Writer = NopWriter{}

func (NopWriter) Write(*Event) error { return nil }
func (NopWriter) Close() error       { return nil }
func (NopWriter) LastHash() string   { return GenesisHash }

// MultiWriter fans events out to several writers. The first failing write
// stops the fan-out.
type MultiWriter struct {
	writers []Writer
}

var _ Writer = (*MultiWriter)(nil)

// NewMultiWriter returns a writer over writers, written in order.
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

// Close closes every writer and joins their errors.
func (m *MultiWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

// LastHash returns the last hash of the first writer.
func (m *MultiWriter) LastHash() string {
	if len(m.writers) == 0 {
		return GenesisHash
	}
	return m.writers[0].LastHash()
}
