// Package sqlite implements the conversation message log on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/memory"
)

// Store is a memory.MessageStore backed by a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ memory.MessageStore = (*Store)(nil)

// New opens or creates the database at dbPath. Use ":memory:" for a
// throwaway database.
func New(dbPath string) (*Store, error) {
	dsn := ":memory:"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, goerr.Wrap(err, "failed to create db dir", goerr.V("path", dbPath))
		}
		dsn = dbPath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open db", goerr.V("path", dbPath))
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to migrate db")
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role       TEXT NOT NULL,
		message    TEXT NOT NULL,
		embedding  BLOB,
		timestamp  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_conversations_timestamp ON conversations(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert appends rec and returns its row ID.
func (s *Store) Insert(ctx context.Context, rec *memory.Record) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (session_id, role, message, embedding, timestamp) VALUES (?, ?, ?, ?, ?)`,
		rec.SessionID, string(rec.Role), rec.Text, memory.Float32ToBytes(rec.Embedding), rec.Timestamp.UnixNano(),
	)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to insert message", goerr.V("session_id", rec.SessionID))
	}
	return res.LastInsertId()
}

// Recent returns up to limit records for sessionID, newest first.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]*memory.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, message, embedding, timestamp
		 FROM conversations
		 WHERE session_id = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query messages", goerr.V("session_id", sessionID))
	}
	defer rows.Close()

	var records []*memory.Record
	for rows.Next() {
		var (
			rec  memory.Record
			role string
			blob []byte
			ts   int64
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &role, &rec.Text, &blob, &ts); err != nil {
			return nil, goerr.Wrap(err, "failed to scan message")
		}
		rec.Role = core.Role(role)
		rec.Embedding = memory.BytesToFloat32(blob)
		rec.Timestamp = time.Unix(0, ts)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate messages")
	}
	return records, nil
}

// DeleteBefore removes every record stamped before cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE timestamp < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete messages", goerr.V("cutoff", cutoff))
	}
	return res.RowsAffected()
}

// Count returns the number of stored records for sessionID.
func (s *Store) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count messages", goerr.V("session_id", sessionID))
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
