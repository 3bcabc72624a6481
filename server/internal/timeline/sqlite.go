package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"panotour/server/internal/model"
)

// SQLiteStore 把时间线写入 sqlite，可与浏览计数共用一个库文件。
// 事件整体以 JSON 保存，seq 与 event_id 单独成列用于排序和幂等。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore 在已打开的库上建表。db 的生命周期由调用方管理。
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize timeline schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS timeline_events (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		event_id TEXT,
		payload TEXT NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_timeline_event_id
		ON timeline_events(session_id, event_id) WHERE event_id IS NOT NULL;`)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, evt *model.Event) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if evt.EventID != "" {
		var seq int64
		err := tx.QueryRowContext(ctx,
			`SELECT seq FROM timeline_events WHERE session_id = ? AND event_id = ?`,
			sessionID, evt.EventID).Scan(&seq)
		if err == nil {
			return seq, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("lookup event id: %w", err)
		}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM timeline_events WHERE session_id = ?`,
		sessionID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}

	stored := *evt
	stored.Seq = seq
	stored.SessionID = sessionID
	payload, err := json.Marshal(stored)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}

	var eventID any
	if evt.EventID != "" {
		eventID = evt.EventID
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO timeline_events (session_id, seq, event_id, payload) VALUES (?, ?, ?, ?)`,
		sessionID, seq, eventID, string(payload)); err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return seq, nil
}

func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]model.Event, error) {
	return s.ListAfter(ctx, sessionID, 0)
}

func (s *SQLiteStore) ListAfter(ctx context.Context, sessionID string, afterSeq int64) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM timeline_events WHERE session_id = ? AND seq > ? ORDER BY seq`,
		sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	out := []model.Event{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var evt model.Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}
