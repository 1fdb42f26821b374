package batch

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/history"
)

// SQLiteSink archives finalized messages to a local database. The table is
// append-only from this subsystem's point of view; upsert-by-id keeps
// redelivery after a crash harmless.
type SQLiteSink struct {
	db *sql.DB
}

var _ Sink = &SQLiteSink{}

// NewSQLiteSink opens (and migrates) the archive database at dsn.
func NewSQLiteSink(dsn string) (*SQLiteSink, error) {
	if dsn == "" {
		return nil, errors.New("sqlite sink: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite sink: open")
	}
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS completed_messages (
	message_id   TEXT PRIMARY KEY,
	question     TEXT NOT NULL,
	answer       TEXT NOT NULL,
	attachment   TEXT,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL
);
`)
	return errors.Wrap(err, "sqlite sink: migrate")
}

// Process writes one finalized message.
func (s *SQLiteSink) Process(ctx context.Context, msg *history.Message) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite sink: db is nil")
	}
	if msg == nil || msg.ID == "" {
		return errors.New("sqlite sink: message id is empty")
	}

	var attachment any
	if msg.Attachment != nil {
		b, err := json.Marshal(msg.Attachment)
		if err != nil {
			return errors.Wrap(err, "sqlite sink: marshal attachment")
		}
		attachment = string(b)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO completed_messages (message_id, question, answer, attachment, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(message_id) DO UPDATE SET
	answer = excluded.answer,
	updated_at_ms = excluded.updated_at_ms
`, msg.ID, msg.Question, msg.Answer, attachment, msg.CreatedAt.UnixMilli(), msg.UpdatedAt.UnixMilli())
	return errors.Wrap(err, "sqlite sink: insert")
}

// Count returns the number of archived messages.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite sink: db is nil")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM completed_messages`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "sqlite sink: count")
	}
	return n, nil
}

// Close releases the underlying database handle.
func (s *SQLiteSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
