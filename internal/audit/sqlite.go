package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/blake2b"
)

// Schema for the session audit store. Records are hash-chained: each row
// carries the hash of its canonical encoding prefixed by the previous
// row's hash. The chain is an integrity aid for post-session review, not a
// tamper-proofing guarantee.
const schema = `
CREATE TABLE IF NOT EXISTS proctoring_logs (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id       TEXT NOT NULL,
    event_type       TEXT NOT NULL,
    detail           TEXT NOT NULL,
    timestamp_ns     INTEGER NOT NULL,
    increment        INTEGER NOT NULL,
    running_count    INTEGER NOT NULL,
    prev_hash        BLOB NOT NULL,
    record_hash      BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_logs_session ON proctoring_logs(session_id, timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_logs_type ON proctoring_logs(event_type);
`

// Store is the SQLite-backed audit sink.
type Store struct {
	db *sql.DB

	mu   sync.Mutex
	head [32]byte
}

// Open opens or creates the audit database at path and loads the chain
// head from the last row.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.loadHead(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Append writes one record and advances the hash chain.
func (s *Store) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, err := chainHash(s.head, rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proctoring_logs (session_id, event_type, detail, timestamp_ns, increment, running_count, prev_hash, record_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.EventType, rec.Detail, rec.Timestamp.UnixNano(),
		rec.Increment, rec.RunningCount, s.head[:], hash[:],
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	s.head = hash
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Records returns all records for a session in insertion order.
func (s *Store) Records(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, event_type, detail, timestamp_ns, increment, running_count
		FROM proctoring_logs WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var ns int64
		if err := rows.Scan(&rec.SessionID, &rec.EventType, &rec.Detail, &ns,
			&rec.Increment, &rec.RunningCount); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Timestamp = time.Unix(0, ns).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Verify recomputes the hash chain over every row and reports the first
// mismatch, if any.
func (s *Store) Verify(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, event_type, detail, timestamp_ns, increment, running_count, prev_hash, record_hash
		FROM proctoring_logs ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query audit chain: %w", err)
	}
	defer rows.Close()

	var head [32]byte
	row := 0
	for rows.Next() {
		row++
		var rec Record
		var ns int64
		var prev, stored []byte
		if err := rows.Scan(&rec.SessionID, &rec.EventType, &rec.Detail, &ns,
			&rec.Increment, &rec.RunningCount, &prev, &stored); err != nil {
			return fmt.Errorf("scan audit chain row: %w", err)
		}
		rec.Timestamp = time.Unix(0, ns).UTC()

		if string(prev) != string(head[:]) {
			return fmt.Errorf("audit chain broken at row %d: prev hash mismatch", row)
		}

		want, err := chainHash(head, rec)
		if err != nil {
			return err
		}
		if string(stored) != string(want[:]) {
			return fmt.Errorf("audit chain broken at row %d: record hash mismatch", row)
		}
		head = want
	}
	return rows.Err()
}

// loadHead restores the chain head from the last stored record.
func (s *Store) loadHead() error {
	var hash []byte
	err := s.db.QueryRow(`SELECT record_hash FROM proctoring_logs ORDER BY id DESC LIMIT 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load audit chain head: %w", err)
	}
	copy(s.head[:], hash)
	return nil
}

// chainHash hashes the previous hash plus the record's canonical JSON.
func chainHash(prev [32]byte, rec Record) ([32]byte, error) {
	rec.Timestamp = rec.Timestamp.UTC()
	canonical, err := json.Marshal(rec)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encode audit record: %w", err)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return [32]byte{}, err
	}
	h.Write(prev[:])
	h.Write(canonical)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
