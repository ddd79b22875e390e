package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "pushrelay/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresSchema string

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Put(ctx context.Context, rec Record) error {
	rec, err := normalize(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO subscriptions(sub_key, endpoint, user_name, record, created_at) VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT (sub_key) DO UPDATE SET endpoint=EXCLUDED.endpoint, user_name=EXCLUDED.user_name,
		   record=EXCLUDED.record, created_at=EXCLUDED.created_at`,
		rec.Key, rec.Subscription.Endpoint, rec.User, rec, rec.CreatedAt,
	)
	return err
}

func (s *postgresStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `SELECT record FROM subscriptions WHERE sub_key = $1`, key).Scan(&rec)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec.Key = key
	return rec, true, nil
}

func (s *postgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE sub_key = $1`, key)
	return err
}

func (s *postgresStore) List(ctx context.Context, cursor string, limit int) (Page, error) {
	limit = pageLimit(limit)
	rows, err := s.pool.Query(ctx,
		`SELECT sub_key, record FROM subscriptions WHERE sub_key > $1 ORDER BY sub_key LIMIT $2`,
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
		var (
			key string
			rec Record
		)
		if err := rows.Scan(&key, &rec); err != nil {
			return Page{}, err
		}
		scanned++
		last = key
		rec.Key = key
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

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
