package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	sgerrors "github.com/randalmurphal/streamgraph/pkg/streamgraph/errors"
)

// SQLiteStore persists completed checkpoints to SQLite.
// It is suitable for single-process production use.
//
// State handles live in the external blob store; SQLite holds only
// their references (the recovery metadata). Release hooks are
// process-local, so subsumption after a restart removes rows without
// calling release for handles created by the previous process.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	live   map[int64]*CompletedCheckpoint
	closed bool
}

// Compile-time interface check.
var _ CompletedStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite completed-checkpoint store.
// The path should be a file path (e.g., "./checkpoints.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS completed_checkpoints (
			id INTEGER PRIMARY KEY,
			kind TEXT NOT NULL,
			trigger_time TEXT NOT NULL,
			complete_time TEXT NOT NULL,
			metadata BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoint_counter (
			slot INTEGER PRIMARY KEY CHECK (slot = 0),
			last_id INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create counter table: %w", err)
	}

	return &SQLiteStore{db: db, live: make(map[int64]*CompletedCheckpoint)}, nil
}

// Add implements CompletedStore.
func (s *SQLiteStore) Add(record *CompletedCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	metadata, err := record.Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint metadata: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO completed_checkpoints (id, kind, trigger_time, complete_time, metadata)
		VALUES (?, ?, ?, ?, ?)
	`, record.ID, record.Kind,
		record.TriggerTime.UTC().Format(time.RFC3339Nano),
		record.CompleteTime.UTC().Format(time.RFC3339Nano),
		metadata)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateID
		}
		return &sgerrors.StorageError{Op: "add", Transient: true, Err: err}
	}

	s.live[record.ID] = record
	return nil
}

// Subsume implements CompletedStore.
func (s *SQLiteStore) Subsume(retain int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	if retain < 1 {
		return 0, nil
	}

	rows, err := s.db.Query(`
		SELECT id FROM completed_checkpoints
		ORDER BY id DESC
		LIMIT -1 OFFSET ?
	`, retain)
	if err != nil {
		return 0, fmt.Errorf("select subsumed checkpoints: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan subsumed id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate subsumed ids: %w", err)
	}

	var firstErr error
	discarded := 0
	for _, id := range ids {
		if _, err := s.db.Exec(`DELETE FROM completed_checkpoints WHERE id = ?`, id); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("delete checkpoint %d: %w", id, err)
			}
			continue
		}
		discarded++
		if record, ok := s.live[id]; ok {
			delete(s.live, id)
			if err := record.DiscardState(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return discarded, firstErr
}

// LatestID implements CompletedStore.
func (s *SQLiteStore) LatestID() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var latest sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(id) FROM completed_checkpoints`).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("query latest id: %w", err)
	}
	if !latest.Valid {
		return 0, nil
	}
	return latest.Int64, nil
}

// All implements CompletedStore. Records added by this process carry
// their live handles; records read back after a restart carry
// reference-only handles reconstructed from metadata.
func (s *SQLiteStore) All() ([]*CompletedCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT id, metadata FROM completed_checkpoints
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var records []*CompletedCheckpoint
	for rows.Next() {
		var id int64
		var metadata []byte
		if err := rows.Scan(&id, &metadata); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if record, ok := s.live[id]; ok {
			records = append(records, record)
			continue
		}
		record, err := Unmarshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint %d: %w", id, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return records, nil
}

// Close implements CompletedStore.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.live = nil
	return s.db.Close()
}

// isConstraintViolation reports whether the driver error is a primary
// key conflict. modernc.org/sqlite surfaces SQLITE_CONSTRAINT in the
// error string; there is no exported error code type to match on.
func isConstraintViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

// SQLiteCounter is a durable IDCounter backed by the store's counter
// table. The increment is committed before the id is handed out, so a
// restarted coordinator can never reuse an id.
type SQLiteCounter struct {
	store *SQLiteStore
	retry sgerrors.RetryConfig
}

// Compile-time interface check.
var _ IDCounter = (*SQLiteCounter)(nil)

// Counter returns the store's durable id counter, seeding it from the
// highest stored checkpoint id when no counter state exists yet.
func (s *SQLiteStore) Counter() (*SQLiteCounter, error) {
	seed, err := s.LatestID()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if _, err := s.db.Exec(`
		INSERT OR IGNORE INTO checkpoint_counter (slot, last_id) VALUES (0, ?)
	`, seed); err != nil {
		return nil, fmt.Errorf("seed counter: %w", err)
	}
	return &SQLiteCounter{store: s, retry: sgerrors.DefaultRetry}, nil
}

// Next implements IDCounter. Write contention is retried with backoff;
// a persistent failure aborts the triggering attempt, not the
// coordinator.
func (c *SQLiteCounter) Next() (int64, error) {
	return sgerrors.WithRetry(context.Background(), c.retry, func(context.Context) (int64, error) {
		c.store.mu.Lock()
		defer c.store.mu.Unlock()

		if c.store.closed {
			return 0, ErrStoreClosed
		}
		var id int64
		err := c.store.db.QueryRow(`
			UPDATE checkpoint_counter SET last_id = last_id + 1
			WHERE slot = 0
			RETURNING last_id
		`).Scan(&id)
		if err != nil {
			return 0, &sgerrors.StorageError{Op: "next id", Transient: true, Err: err}
		}
		return id, nil
	})
}
