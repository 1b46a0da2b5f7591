package snapshot

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	graph_id   TEXT    NOT NULL,
	name       TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	saved_at   TEXT    NOT NULL,
	data       BLOB    NOT NULL,
	PRIMARY KEY (graph_id, name)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_graph_seq ON snapshots(graph_id, seq);
`

// SQLiteStore persists snapshots in a SQLite database.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:"
// for a throwaway store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save implements Store. Overwriting a snapshot moves it to the end of
// the graph's list.
func (s *SQLiteStore) Save(graphID, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO snapshots (graph_id, name, seq, saved_at, data)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM snapshots), ?, ?)
		ON CONFLICT(graph_id, name) DO UPDATE SET
			seq      = excluded.seq,
			saved_at = excluded.saved_at,
			data     = excluded.data
	`, graphID, name, time.Now().UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("save snapshot %s/%s: %w", graphID, name, err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(graphID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM snapshots WHERE graph_id = ? AND name = ?`,
		graphID, name,
	).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("load snapshot %s/%s: %w", graphID, name, err)
	}
	return data, nil
}

// List implements Store.
func (s *SQLiteStore) List(graphID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT name, seq, saved_at, LENGTH(data)
		FROM snapshots
		WHERE graph_id = ?
		ORDER BY seq
	`, graphID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	infos := []Info{}
	for rows.Next() {
		info := Info{GraphID: graphID}
		var at string
		if err := rows.Scan(&info.Name, &info.Sequence, &at, &info.Size); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if info.Timestamp, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("snapshot %s timestamp: %w", info.Name, err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return infos, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(graphID, name string) error {
	return s.exec("delete snapshot",
		`DELETE FROM snapshots WHERE graph_id = ? AND name = ?`, graphID, name)
}

// DeleteGraph implements Store.
func (s *SQLiteStore) DeleteGraph(graphID string) error {
	return s.exec("delete graph snapshots",
		`DELETE FROM snapshots WHERE graph_id = ?`, graphID)
}

func (s *SQLiteStore) exec(op, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close implements Store. Closing twice is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
