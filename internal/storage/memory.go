package storage

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v2"
)

type memoryStore struct {
	m      *xsync.MapOf[string, Record]
	closed atomic.Bool
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &memoryStore{m: xsync.NewMapOf[Record]()}
}

func (s *memoryStore) Put(_ context.Context, rec Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	rec, err := normalize(rec)
	if err != nil {
		return err
	}
	s.m.Store(rec.Key, rec)
	return nil
}

func (s *memoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	if s.closed.Load() {
		return Record{}, false, ErrClosed
	}
	rec, ok := s.m.Load(key)
	return rec, ok, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.m.Delete(key)
	return nil
}

func (s *memoryStore) List(_ context.Context, cursor string, limit int) (Page, error) {
	if s.closed.Load() {
		return Page{}, ErrClosed
	}
	keys := make([]string, 0, s.m.Size())
	s.m.Range(func(k string, _ Record) bool {
		if k > cursor {
			keys = append(keys, k)
		}
		return true
	})
	return pageOf(keys, limit, func(k string) (Record, bool) { return s.m.Load(k) }), nil
}

func (s *memoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

// pageOf sorts keys (all after the cursor) and returns the first limit records.
func pageOf(keys []string, limit int, load func(string) (Record, bool)) Page {
	limit = pageLimit(limit)
	sort.Strings(keys)
	var p Page
	for _, k := range keys {
		if len(p.Records) == limit {
			break
		}
		if rec, ok := load(k); ok {
			p.Records = append(p.Records, rec)
		}
	}
	if len(keys) > limit && len(p.Records) > 0 {
		p.Next = p.Records[len(p.Records)-1].Key
	}
	return p
}
