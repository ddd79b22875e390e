package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "pushrelay/pkg/logx"
)

//go:embed migrations_sqlite.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Put(ctx context.Context, rec Record) error {
	rec, err := normalize(rec)
	if err != nil {
		return err
	}
	b, err := jsonRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(sub_key, endpoint, user_name, record, created_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(sub_key) DO UPDATE SET endpoint=excluded.endpoint, user_name=excluded.user_name,
		   record=excluded.record, created_at=excluded.created_at`,
		rec.Key, rec.Subscription.Endpoint, rec.User, string(b), rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM subscriptions WHERE sub_key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec, err := decodeRecord(key, []byte(raw))
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE sub_key = ?`, key)
	return err
}

func (s *sqliteStore) List(ctx context.Context, cursor string, limit int) (Page, error) {
	limit = pageLimit(limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT sub_key, record FROM subscriptions WHERE sub_key > ? ORDER BY sub_key LIMIT ?`,
		cursor, limit,
	)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	var (
		p       Page
		scanned int
		last    string
	)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return Page{}, err
		}
		scanned++
		last = key
		rec, err := decodeRecord(key, []byte(raw))
		if err != nil {
			s.log.Warn("skipping undecodable subscription", logx.String("key", key), logx.Err(err))
			continue
		}
		p.Records = append(p.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}
	if scanned == limit {
		p.Next = last
	}
	return p, nil
}

// Compact checkpoints the WAL back into the main database file.
func (s *sqliteStore) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA optimize")
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
