package audit

import (
	"fmt"
	"strings"
	"sync"
)

var (
	globalWriter Writer = NopWriter{}
	globalMu     sync.RWMutex
)

// Init installs w as the process audit writer. A nil w disables auditing.
func Init(w Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if w == nil {
		w = NopWriter{}
	}
	globalWriter = w
}

// InitFile installs a FileWriter on path. An empty path disables auditing.
func InitFile(path string) error {
	return InitFiles(path)
}

// InitFiles installs one FileWriter per non-empty path. Each file keeps
// its own hash chain; several files are written through a MultiWriter.
// No path disables auditing.
func InitFiles(paths ...string) error {
	var writers []Writer
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		w, err := NewFileWriter(path)
		if err != nil {
			for _, opened := range writers {
				_ = opened.Close()
			}
			return err
		}
		writers = append(writers, w)
	}

	switch len(writers) {
	case 0:
		Init(nil)
	case 1:
		Init(writers[0])
	default:
		Init(NewMultiWriter(writers...))
	}
	return nil
}

// Close closes the process audit writer and disables auditing.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	err := globalWriter.Close()
	globalWriter = NopWriter{}
	return err
}

// Log writes event to the process audit writer. The error must fail the
// audited operation.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()

	if err := w.Write(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

// LogOperation records one dispatched operation. verdict is "true" or
// "false" for verify modes and empty otherwise; opErr is the operation
// error, if any.
func LogOperation(op Operation, verdict string, opErr error) error {
	event := NewEvent(EventForMode(op.Mode), ResultSuccess).
		WithOperation(op).
		WithOutcome(Outcome{Verdict: verdict}).
		WithError(opErr)
	return Log(event)
}

// LogCrosscheck records one cross-check run over op.Backends.
func LogCrosscheck(op Operation, mismatches int, opErr error) error {
	result := ResultSuccess
	if mismatches > 0 {
		result = ResultFailure
	}
	event := NewEvent(EventCrosscheck, result).
		WithOperation(op).
		WithOutcome(Outcome{Mismatches: mismatches}).
		WithError(opErr)
	return Log(event)
}
