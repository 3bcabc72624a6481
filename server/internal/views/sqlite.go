package views

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore 把浏览计数持久化到 sqlite（纯 Go 驱动，无需 cgo）。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite 打开或创建计数库。
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite 单写者，限制连接数避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS scene_views (
		scene_id INTEGER PRIMARY KEY,
		views INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);`)
	return err
}

func (s *SQLiteStore) Increment(ctx context.Context, sceneID int64) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO scene_views (scene_id, views, updated_at) VALUES (?, 1, ?)
	ON CONFLICT(scene_id) DO UPDATE SET views = views + 1, updated_at = excluded.updated_at`,
		sceneID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("increment scene %d: %w", sceneID, err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context, sceneID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT views FROM scene_views WHERE scene_id = ?`, sceneID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count scene %d: %w", sceneID, err)
	}
	return n, nil
}

// DB 暴露底层连接，供同库的其他表（如时间线）复用。
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
