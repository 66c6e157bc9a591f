package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

const (
	// GenesisHash is the HashPrev of the first event of a log.
	GenesisHash = "sha256:genesis"

	// HashPrefix prefixes every chained hash.
	HashPrefix = "sha256:"
)

// FileWriter appends hash-chained events to a JSONL file.
type FileWriter struct {
	mu       sync.Mutex
	file     *os.File
	lastHash string
	path     string
}

var _ Writer = (*FileWriter)(nil)

// NewFileWriter opens path for appending. An existing log is continued
// from its last hash.
func NewFileWriter(path string) (*FileWriter, error) {
	lastHash := GenesisHash
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if lastHash, err = readLastHash(data); err != nil {
			return nil, fmt.Errorf("failed to read last hash from existing log: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &FileWriter{file: file, lastHash: lastHash, path: path}, nil
}

// eachLine calls fn with the 1-based number and content of every
// non-blank line of data.
func eachLine(data []byte, fn func(n int, line []byte) error) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func readLastHash(data []byte) (string, error) {
	var last []byte
	if err := eachLine(data, func(_ int, line []byte) error {
		last = append(last[:0], line...)
		return nil
	}); err != nil {
		return "", err
	}
	if last == nil {
		return GenesisHash, nil
	}

	var event struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(last, &event); err != nil {
		return "", fmt.Errorf("failed to parse last event: %w", err)
	}
	if event.Hash == "" {
		return "", errors.New("last event has no hash")
	}
	return event.Hash, nil
}

// chainHash computes SHA-256(canonical || prevHash).
func chainHash(canonical []byte, prevHash string) string {
	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte(prevHash))
	return HashPrefix + hex.EncodeToString(h.Sum(nil))
}

// Write validates, chains, appends and syncs event.
func (w *FileWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errors.New("audit log is closed")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	event.HashPrev = w.lastHash
	canonical, err := event.canonicalJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	event.Hash = chainHash(canonical, w.lastHash)

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	w.lastHash = event.Hash
	return nil
}

// Close syncs and closes the file. Closing twice is a no-op.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	return errors.Join(f.Sync(), f.Close())
}

func (w *FileWriter) LastHash() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastHash
}

// Path returns the log file path.
func (w *FileWriter) Path() string {
	return w.path
}

// VerifyChain checks the hash chain of the log at path and returns the
// number of valid events before the first broken one.
func VerifyChain(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read audit log: %w", err)
	}

	prev := GenesisHash
	valid := 0
	err = eachLine(data, func(n int, line []byte) error {
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("line %d: invalid JSON: %w", n, err)
		}
		if event.HashPrev != prev {
			return fmt.Errorf("line %d: hash chain broken: expected prev=%s, got prev=%s", n, prev, event.HashPrev)
		}
		canonical, err := event.canonicalJSON()
		if err != nil {
			return fmt.Errorf("line %d: failed to serialize: %w", n, err)
		}
		if want := chainHash(canonical, event.HashPrev); event.Hash != want {
			return fmt.Errorf("line %d: hash mismatch: expected=%s, got=%s", n, want, event.Hash)
		}
		prev = event.Hash
		valid++
		return nil
	})
	return valid, err
}
