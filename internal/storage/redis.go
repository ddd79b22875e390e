package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "pushrelay/pkg/logx"
)

const defaultRedisKey = "pushrelay:subscriptions"

// redisStore keeps every subscription as a field of one hash. Listing uses
// HSCAN, so the cursor is redis' own iterator position and a page may repeat
// a record that was rehashed mid-scan.
type redisStore struct {
	c    *redis.Client
	hash string
	log  logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	hash := strings.TrimSpace(cfg.Key)
	if hash == "" {
		hash = defaultRedisKey
	}

	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{c: c, hash: hash, log: log}, nil
}

func (s *redisStore) Put(ctx context.Context, rec Record) error {
	rec, err := normalize(rec)
	if err != nil {
		return err
	}
	b, err := jsonRecord(rec)
	if err != nil {
		return err
	}
	return s.c.HSet(ctx, s.hash, rec.Key, b).Err()
}

func (s *redisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	b, err := s.c.HGet(ctx, s.hash, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec, err := decodeRecord(key, b)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return s.c.HDel(ctx, s.hash, key).Err()
}

func (s *redisStore) List(ctx context.Context, cursor string, limit int) (Page, error) {
	var pos uint64
	if cursor != "" {
		v, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return Page{}, fmt.Errorf("redis: bad cursor %q: %w", cursor, err)
		}
		pos = v
	}

	kv, next, err := s.c.HScan(ctx, s.hash, pos, KeyPrefix+"*", int64(pageLimit(limit))).Result()
	if err != nil {
		return Page{}, err
	}

	var p Page
	for i := 0; i+1 < len(kv); i += 2 {
		rec, err := decodeRecord(kv[i], []byte(kv[i+1]))
		if err != nil {
			s.log.Warn("skipping undecodable subscription", logx.String("key", kv[i]), logx.Err(err))
			continue
		}
		p.Records = append(p.Records, rec)
	}
	if next != 0 {
		p.Next = strconv.FormatUint(next, 10)
	}
	return p, nil
}

func (s *redisStore) Close() error { return s.c.Close() }
