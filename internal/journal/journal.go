// Package journal is an optional, tamper-evident append-only log of a
// connection's lifecycle events (dial attempted, handshake accepted or
// rejected, disconnect reason, close code). Grounded on
// internal/audit/audit_logger.go's SHA-256 hash-chain scheme, adapted from
// generic JSON payloads to a fixed connection-event shape and keyed by the
// wsclient connection's UUID rather than an arbitrary sequence source.
//
// # Hash chain
//
// event_hash for entry N is SHA-256(JSON({seq, ts, conn_id, kind, detail,
// prev_hash})). The genesis entry's prev_hash is 64 ASCII zero characters.
package journal

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// GenesisHash seeds the chain for a journal with no prior entries.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// EventKind enumerates the connection lifecycle events worth journaling.
type EventKind string

const (
	EventDialAttempt      EventKind = "dial_attempt"
	EventDialFailed       EventKind = "dial_failed"
	EventHandshakeSent    EventKind = "handshake_sent"
	EventHandshakeAccept  EventKind = "handshake_accepted"
	EventHandshakeReject  EventKind = "handshake_rejected"
	EventDisconnectReason EventKind = "disconnect_reason"
	EventCloseCode        EventKind = "close_code"
)

type entry struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"ts"`
	ConnID    string    `json:"conn_id"`
	Kind      EventKind `json:"kind"`
	Detail    string    `json:"detail"`
	PrevHash  string    `json:"prev_hash"`
	EventHash string    `json:"event_hash"`
}

type entryContent struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"ts"`
	ConnID    string    `json:"conn_id"`
	Kind      EventKind `json:"kind"`
	Detail    string    `json:"detail"`
	PrevHash  string    `json:"prev_hash"`
}

// Journal is a tamper-evident, append-only connection event log. Create one
// with Open; do not copy after first use.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	prevHash string
	seq      int64
}

// Open opens (or creates) the journal file at path, replaying any existing
// entries to restore the hash chain so appends continue correctly.
func Open(path string) (*Journal, error) {
	prevHash := GenesisHash
	seq := int64(0)

	if _, err := os.Stat(path); err == nil {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("journal: open for reading %q: %w", path, err)
		}
		scanner := bufio.NewScanner(f)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 10*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var e entry
			if err := json.Unmarshal(line, &e); err != nil {
				f.Close()
				return nil, fmt.Errorf("journal: malformed entry at seq %d: %w", seq+1, err)
			}
			computed := hashContent(entryContent{e.Seq, e.Timestamp, e.ConnID, e.Kind, e.Detail, e.PrevHash})
			if computed != e.EventHash {
				f.Close()
				return nil, fmt.Errorf("journal: hash mismatch at seq %d: stored %q, computed %q", e.Seq, e.EventHash, computed)
			}
			if e.PrevHash != prevHash {
				f.Close()
				return nil, fmt.Errorf("journal: chain break at seq %d: expected prev_hash %q, got %q", e.Seq, prevHash, e.PrevHash)
			}
			prevHash = e.EventHash
			seq = e.Seq
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("journal: scanning existing log %q: %w", path, err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("journal: open for appending %q: %w", path, err)
	}

	return &Journal{file: f, prevHash: prevHash, seq: seq}, nil
}

// Record appends a new chained entry for connID describing kind, with a
// free-form detail string (e.g. a close code or error message).
func (j *Journal) Record(connID string, kind EventKind, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.seq + 1
	ts := time.Now().UTC()
	prevHash := j.prevHash

	content := entryContent{seq, ts, connID, kind, detail, prevHash}
	eventHash := hashContent(content)

	e := entry{seq, ts, connID, kind, detail, prevHash, eventHash}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: marshal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("journal: write entry: %w", err)
	}

	j.seq = seq
	j.prevHash = eventHash
	return nil
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.file.Sync(); err != nil {
		_ = j.file.Close()
		return fmt.Errorf("journal: sync: %w", err)
	}
	return j.file.Close()
}

func hashContent(c entryContent) string {
	raw, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("journal: marshal entryContent: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
