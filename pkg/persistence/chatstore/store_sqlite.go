package chatstore

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteMessageStore archives exchanges in SQLite.
type SQLiteMessageStore struct {
	db *sql.DB
}

var _ MessageStore = &SQLiteMessageStore{}

func NewSQLiteMessageStore(dsn string) (*SQLiteMessageStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite message store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteMessageStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteMessageStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS exchanges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conv_id TEXT NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_exchanges_conv
			ON exchanges(conv_id, created_at_ms);
	`)
	return errors.Wrap(err, "sqlite message store: migrate")
}

func (s *SQLiteMessageStore) Append(ctx context.Context, rec ExchangeRecord) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite message store: db is nil")
	}
	if rec.ConvID == "" {
		return errors.New("sqlite message store: convID is empty")
	}
	if rec.CreatedAtMs == 0 {
		rec.CreatedAtMs = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (conv_id, run_id, question, answer, created_at_ms)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ConvID, rec.RunID, rec.Question, rec.Answer, rec.CreatedAtMs)
	return errors.Wrap(err, "sqlite message store: append")
}

func (s *SQLiteMessageStore) History(ctx context.Context, convID string, limit int) ([]ExchangeRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite message store: db is nil")
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conv_id, run_id, question, answer, created_at_ms
		FROM (
			SELECT * FROM exchanges WHERE conv_id = ?
			ORDER BY created_at_ms DESC, id DESC LIMIT ?
		) ORDER BY created_at_ms ASC, id ASC`,
		convID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite message store: history")
	}
	defer func() { _ = rows.Close() }()

	var out []ExchangeRecord
	for rows.Next() {
		var rec ExchangeRecord
		if err := rows.Scan(&rec.ConvID, &rec.RunID, &rec.Question, &rec.Answer, &rec.CreatedAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite message store: scan")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteMessageStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
