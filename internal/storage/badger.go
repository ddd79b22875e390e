package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	logx "pushrelay/pkg/logx"
)

type badgerStore struct {
	db  *badger.DB
	log logx.Logger
}

// badgerLogger routes badger's internal logging through logx.
type badgerLogger struct{ log logx.Logger }

func (l badgerLogger) Errorf(f string, a ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(f, a...)))
}
func (l badgerLogger) Warningf(f string, a ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(f, a...)))
}
func (l badgerLogger) Infof(f string, a ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(f, a...)))
}
func (l badgerLogger) Debugf(f string, a ...interface{}) {
	l.log.Trace(strings.TrimSpace(fmt.Sprintf(f, a...)))
}

func openBadger(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for badger driver")
	}
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{log: log.With(logx.String("comp", "badger"))})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &badgerStore{db: db, log: log}, nil
}

func (s *badgerStore) Put(_ context.Context, rec Record) error {
	rec, err := normalize(rec)
	if err != nil {
		return err
	}
	b, err := jsonRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(rec.Key), b)
	})
}

func (s *badgerStore) Get(_ context.Context, key string) (Record, bool, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		rec, err = decodeRecord(key, raw)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *badgerStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *badgerStore) List(_ context.Context, cursor string, limit int) (Page, error) {
	limit = pageLimit(limit)
	prefix := []byte(KeyPrefix)
	start := prefix
	if cursor != "" {
		start = []byte(cursor)
	}

	var p Page
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		scanned := 0
		last := ""
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			if key == cursor {
				continue
			}
			if scanned == limit {
				p.Next = last
				return nil
			}
			scanned++
			last = key
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decodeRecord(key, raw)
			if err != nil {
				s.log.Warn("skipping undecodable subscription", logx.String("key", key), logx.Err(err))
				continue
			}
			p.Records = append(p.Records, rec)
		}
		return nil
	})
	return p, err
}

// Compact runs value-log garbage collection until badger reports nothing
// left to rewrite.
func (s *badgerStore) Compact(ctx context.Context) error {
	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *badgerStore) Close() error { return s.db.Close() }
