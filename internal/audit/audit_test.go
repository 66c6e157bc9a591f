package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiblancher/cdfkit/internal/cdferr"
)

func testOperation() Operation {
	return Operation{Family: "ecdsa", Mode: "sign", Backend: "go", Algorithm: "sha256"}
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var events []Event
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var e Event
		require.NoError(t, json.Unmarshal([]byte(line), &e), "invalid JSON line %q", line)
		events = append(events, e)
	}
	return events
}

// =============================================================================
// Event Tests
// =============================================================================

func TestU_NewEvent_Creation(t *testing.T) {
	event := NewEvent(EventSign, ResultSuccess)

	assert.Equal(t, EventSign, event.EventType)
	assert.NotEmpty(t, event.Timestamp)
	assert.True(t, strings.HasSuffix(event.Timestamp, "Z"), "timestamp %s should be UTC", event.Timestamp)
	assert.Equal(t, "user", event.Actor.Type)
	assert.NotEmpty(t, event.Actor.ID)
}

func TestU_NewEvent_UnknownUser(t *testing.T) {
	t.Setenv("USER", "")
	t.Setenv("USERNAME", "")

	assert.Equal(t, "unknown", NewEvent(EventDigest, ResultSuccess).Actor.ID)
}

func TestU_EventForMode(t *testing.T) {
	tests := map[string]EventType{
		"sign":    EventSign,
		"verify":  EventVerify,
		"encrypt": EventEncrypt,
		"decrypt": EventDecrypt,
		"digest":  EventDigest,
		"other":   EventDigest,
	}
	for mode, want := range tests {
		assert.Equal(t, want, EventForMode(mode), mode)
	}
}

func TestU_Event_Validate(t *testing.T) {
	valid := func() *Event { return NewEvent(EventSign, ResultSuccess).WithOperation(testOperation()) }

	tests := []struct {
		name    string
		mutate  func(e *Event)
		wantErr bool
	}{
		{"[Unit] Validate: valid event", func(*Event) {}, false},
		{"[Unit] Validate: missing event_type", func(e *Event) { e.EventType = "" }, true},
		{"[Unit] Validate: missing timestamp", func(e *Event) { e.Timestamp = "" }, true},
		{"[Unit] Validate: missing actor", func(e *Event) { e.Actor = Actor{} }, true},
		{"[Unit] Validate: missing family", func(e *Event) { e.Operation.Family = "" }, true},
		{"[Unit] Validate: missing result", func(e *Event) { e.Result = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)
			if tt.wantErr {
				assert.Error(t, e.Validate())
			} else {
				assert.NoError(t, e.Validate())
			}
		})
	}
}

func TestU_Event_WithError(t *testing.T) {
	e := NewEvent(EventVerify, ResultSuccess).
		WithError(cdferr.New(cdferr.MalformedInput, "hex decode", "odd length in deadbeef0"))

	assert.Equal(t, ResultFailure, e.Result)
	assert.Equal(t, "MalformedInput", e.Outcome.ErrorKind)

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "deadbeef", "error message leaked into the event")

	assert.Equal(t, "error", NewEvent(EventVerify, ResultSuccess).WithError(errors.New("x")).Outcome.ErrorKind)
	assert.Equal(t, ResultSuccess, NewEvent(EventVerify, ResultSuccess).WithError(nil).Result)
}

func TestU_Event_CanonicalJSON(t *testing.T) {
	event := NewEvent(EventSign, ResultSuccess).WithOperation(testOperation())
	event.HashPrev = GenesisHash
	event.Hash = "sha256:ignored"

	canonical, err := event.canonicalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(canonical), `"hash":`)
	assert.Contains(t, string(canonical), `"hash_prev":"sha256:genesis"`)
}

// =============================================================================
// FileWriter Tests
// =============================================================================

func TestU_FileWriter_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w, err := NewFileWriter(path)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	assert.Equal(t, GenesisHash, w.LastHash())
	assert.Equal(t, path, w.Path())

	for _, mode := range []string{"sign", "verify"} {
		op := testOperation()
		op.Mode = mode
		require.NoError(t, w.Write(NewEvent(EventForMode(mode), ResultSuccess).WithOperation(op)))
	}

	events := readEvents(t, path)
	require.Len(t, events, 2)
	assert.Equal(t, GenesisHash, events[0].HashPrev, "first event should chain to genesis")
	assert.Equal(t, events[0].Hash, events[1].HashPrev, "second event should chain to the first")
	assert.Equal(t, events[1].Hash, w.LastHash())
}

func TestU_FileWriter_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	w1, err := NewFileWriter(path)
	require.NoError(t, err)
	require.NoError(t, w1.Write(NewEvent(EventDigest, ResultSuccess).WithOperation(Operation{Family: "hash", Mode: "digest"})))
	last := w1.LastHash()
	require.NoError(t, w1.Close())

	w2, err := NewFileWriter(path)
	require.NoError(t, err)
	defer func() { _ = w2.Close() }()
	assert.Equal(t, last, w2.LastHash(), "reopened writer should continue the chain")
	require.NoError(t, w2.Write(NewEvent(EventDigest, ResultSuccess).WithOperation(Operation{Family: "hmac", Mode: "digest"})))

	n, err := VerifyChain(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestU_FileWriter_Errors(t *testing.T) {
	_, err := NewFileWriter(filepath.Join(t.TempDir(), "missing", "audit.jsonl"))
	assert.Error(t, err, "missing directory")

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0600))
	_, err = NewFileWriter(path)
	assert.Error(t, err, "corrupt last line")

	require.NoError(t, os.WriteFile(path, []byte(`{"event_type":"OP_SIGN"}`+"\n"), 0600))
	_, err = NewFileWriter(path)
	assert.Error(t, err, "last event without hash")
}

func TestU_FileWriter_InvalidEventAndClose(t *testing.T) {
	w, err := NewFileWriter(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	assert.Error(t, w.Write(NewEvent(EventSign, ResultSuccess)), "event without operation")

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close(), "second Close")
	assert.Error(t, w.Write(NewEvent(EventSign, ResultSuccess).WithOperation(testOperation())), "write after Close")
}

func TestU_FileWriter_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w, err := NewFileWriter(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Write(NewEvent(EventDigest, ResultSuccess).WithOperation(Operation{Family: "hash", Mode: "digest"}))
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	n, err := VerifyChain(path)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

// =============================================================================
// VerifyChain Tests
// =============================================================================

func TestU_VerifyChain_Tampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w, err := NewFileWriter(path)
	require.NoError(t, err)
	for _, family := range []string{"dsa", "ecdsa", "oaep"} {
		require.NoError(t, w.Write(NewEvent(EventSign, ResultSuccess).WithOperation(Operation{Family: family, Mode: "sign"})))
	}
	_ = w.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"family":"ecdsa"`, `"family":"rsasign"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0600))

	n, err := VerifyChain(path)
	require.Error(t, err, "tampering should be detected")
	assert.Equal(t, 1, n, "valid events before the tampered one")
	assert.Contains(t, err.Error(), "line 2")
}

func TestU_VerifyChain_EdgeCases(t *testing.T) {
	dir := t.TempDir()

	_, err := VerifyChain(filepath.Join(dir, "missing.jsonl"))
	assert.Error(t, err, "missing file")

	empty := filepath.Join(dir, "empty.jsonl")
	require.NoError(t, os.WriteFile(empty, []byte("\n  \n"), 0600))
	n, err := VerifyChain(empty)
	assert.NoError(t, err)
	assert.Zero(t, n)

	broken := filepath.Join(dir, "broken.jsonl")
	require.NoError(t, os.WriteFile(broken, []byte(`{"hash_prev":"sha256:other"}`+"\n"), 0600))
	_, err = VerifyChain(broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain broken")
}

// =============================================================================
// Writer Tests
// =============================================================================

type failingWriter struct{ NopWriter }

func (failingWriter) Write(*Event) error { return errors.New("disk full") }
func (failingWriter) Close() error       { return errors.New("close failed") }

func TestU_MultiWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	fw, err := NewFileWriter(path)
	require.NoError(t, err)
	m := NewMultiWriter(fw, NopWriter{})

	require.NoError(t, m.Write(NewEvent(EventSign, ResultSuccess).WithOperation(testOperation())))
	assert.Equal(t, fw.LastHash(), m.LastHash(), "LastHash should come from the first writer")
	require.NoError(t, m.Close())

	assert.Equal(t, GenesisHash, NewMultiWriter().LastHash())

	bad := NewMultiWriter(NopWriter{}, failingWriter{})
	assert.Error(t, bad.Write(NewEvent(EventSign, ResultSuccess).WithOperation(testOperation())))
	err = bad.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
}

// =============================================================================
// Global Audit Tests
// =============================================================================

func TestU_GlobalAudit_LogOperation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, InitFile(path))
	t.Cleanup(func() { _ = Close() })

	verify := Operation{Family: "dsa", Mode: "verify", Backend: "go", Algorithm: "sha256"}
	require.NoError(t, LogOperation(verify, "false", nil))
	fail := Operation{Family: "oaep", Mode: "decrypt", Backend: "pkcs11"}
	require.NoError(t, LogOperation(fail, "", cdferr.New(cdferr.PrimitiveFailed, "oaep decrypt", "decryption error")))
	cc := Operation{Family: "hash", Mode: "digest", Backends: []string{"go", "exec"}}
	require.NoError(t, LogCrosscheck(cc, 1, nil))
	require.NoError(t, Close())

	// after Close events are discarded
	require.NoError(t, LogOperation(verify, "true", nil))

	events := readEvents(t, path)
	require.Len(t, events, 3)

	assert.Equal(t, EventVerify, events[0].EventType)
	assert.Equal(t, "false", events[0].Outcome.Verdict)
	assert.Equal(t, ResultSuccess, events[0].Result)

	assert.Equal(t, EventDecrypt, events[1].EventType)
	assert.Equal(t, ResultFailure, events[1].Result)
	assert.Equal(t, "PrimitiveFailed", events[1].Outcome.ErrorKind)

	assert.Equal(t, EventCrosscheck, events[2].EventType)
	assert.Equal(t, ResultFailure, events[2].Result)
	assert.Equal(t, 1, events[2].Outcome.Mismatches)
	assert.Len(t, events[2].Operation.Backends, 2)
}

func TestU_GlobalAudit_Disabled(t *testing.T) {
	require.NoError(t, InitFile(""))
	assert.NoError(t, LogOperation(testOperation(), "", nil), "disabled audit should accept events")

	Init(failingWriter{})
	t.Cleanup(func() { Init(nil) })
	err := LogOperation(testOperation(), "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit log failed")
}

func TestU_InitFiles_WritesEveryCopy(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "audit.jsonl")
	mirror := filepath.Join(dir, "mirror.jsonl")

	require.NoError(t, InitFiles(primary, " ", mirror))
	t.Cleanup(func() { _ = Close() })

	require.NoError(t, LogOperation(testOperation(), "", nil))
	require.NoError(t, LogCrosscheck(Operation{Family: "hash", Mode: "digest", Backends: []string{"go", "go"}}, 0, nil))
	require.NoError(t, Close())

	for _, path := range []string{primary, mirror} {
		n, err := VerifyChain(path)
		require.NoError(t, err, path)
		assert.Equal(t, 2, n, path)
	}
	assert.Equal(t, readEvents(t, primary), readEvents(t, mirror))
}

func TestU_InitFiles_Errors(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "audit.jsonl")

	err := InitFiles(good, filepath.Join(dir, "missing", "audit.jsonl"))
	require.Error(t, err)
	t.Cleanup(func() { Init(nil) })

	// nothing was installed and the first file holds no event
	assert.NoError(t, LogOperation(testOperation(), "", nil))
	n, err := VerifyChain(good)
	require.NoError(t, err)
	assert.Zero(t, n)
}
