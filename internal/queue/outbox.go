// Package queue is a WAL-mode SQLite-backed durable outbox for outbound
// WebSocket frames. Grounded on internal/queue/sqlite_queue.go, adapted from
// an agent alert queue (tripwire_type/rule_name/severity) to a frame outbox
// (opcode/payload): a frame is persisted on Push and stays pending (returned
// by Pending) until the caller marks it delivered with Ack. wsclient acks a
// row as soon as the frame has been handed to its in-memory send queue, not
// after the frame reaches the transport.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// Outbox is a WAL-mode SQLite-backed durable queue of outbound frames. It is
// safe for concurrent use.
type Outbox struct {
	db    *sql.DB
	depth atomic.Int64
}

// Open opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. Depth() is seeded from any rows still
// marked undelivered, so a restart with the same path recovers outstanding
// work.
func Open(path string) (*Outbox, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("outbox: open %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("outbox: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("outbox: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("outbox: apply schema: %w", err)
	}

	o := &Outbox{db: db}

	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM outbound_frames WHERE delivered = 0`).Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("outbox: count pending rows: %w", err)
	}
	o.depth.Store(count)

	return o, nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS outbound_frames (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    opcode      INTEGER NOT NULL,
    payload     BLOB    NOT NULL,
    enqueued_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    delivered   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_outbound_frames_pending
    ON outbound_frames (delivered, id);
`

// PendingFrame is an undelivered outbound frame returned by Pending.
type PendingFrame struct {
	ID        int64
	Opcode    byte
	Payload   []byte
	EnqueuedAt time.Time
}

// Push persists a new outbound frame with delivered = 0 and returns its row
// ID. The caller enqueues the same frame onto the in-memory send queue and
// then calls Ack(id).
func (o *Outbox) Push(ctx context.Context, opcode byte, payload []byte) (int64, error) {
	res, err := o.db.ExecContext(ctx,
		`INSERT INTO outbound_frames (opcode, payload) VALUES (?, ?)`, opcode, payload)
	if err != nil {
		return 0, fmt.Errorf("outbox: push: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("outbox: last insert id: %w", err)
	}
	o.depth.Add(1)
	return id, nil
}

// Pending returns up to n undelivered frames in insertion order (oldest
// first), for re-enqueuing after a process restart.
func (o *Outbox) Pending(ctx context.Context, n int) ([]PendingFrame, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := o.db.QueryContext(ctx,
		`SELECT id, opcode, payload, enqueued_at FROM outbound_frames
		 WHERE delivered = 0 ORDER BY id LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("outbox: pending query: %w", err)
	}
	defer rows.Close()

	var frames []PendingFrame
	for rows.Next() {
		var (
			pf    PendingFrame
			tsStr string
		)
		if err := rows.Scan(&pf.ID, &pf.Opcode, &pf.Payload, &tsStr); err != nil {
			return nil, fmt.Errorf("outbox: pending scan: %w", err)
		}
		pf.EnqueuedAt, _ = time.Parse("2006-01-02T15:04:05.000Z", tsStr)
		frames = append(frames, pf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: pending rows: %w", err)
	}
	return frames, nil
}

// Ack marks ids as delivered. Idempotent: re-acking an already-delivered ID
// is a no-op.
func (o *Outbox) Ack(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	result, err := o.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE outbound_frames SET delivered = 1 WHERE id IN (%s) AND delivered = 0`, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("outbox: ack: %w", err)
	}

	n, _ := result.RowsAffected()
	o.depth.Add(-n)
	return nil
}

// Depth returns the number of undelivered frames without blocking.
func (o *Outbox) Depth() int {
	return int(o.depth.Load())
}

// Close closes the underlying database connection.
func (o *Outbox) Close() error {
	return o.db.Close()
}
