package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "pushrelay/pkg/logx"
)

const fileCompactEvery = 500

// fileStore keeps every record in memory and persists through two files:
//
//   - <prefix>.subs.snapshot.json  (map key -> record, rewritten on compaction)
//   - <prefix>.subs.journal.jsonl  (append-only put/del entries since the snapshot)
//
// On open the snapshot is loaded and the journal replayed on top.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	recs         map[string]Record
	writes       int
}

type journalEntry struct {
	Op     string  `json:"op"` // "put" | "del"
	Key    string  `json:"key"`
	Record *Record `json:"record,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".subs.snapshot.json",
		recs:         map[string]Record{},
	}
	journalPath := prefix + ".subs.journal.jsonl"

	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	replayed, err := s.replay(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	s.writes = replayed

	log.Debug("file store opened",
		logx.String("snapshot", s.snapshotPath),
		logx.Int("records", len(s.recs)),
		logx.Int("journal_entries", replayed),
	)
	return s, nil
}

func (s *fileStore) Put(_ context.Context, rec Record) error {
	rec, err := normalize(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.appendLocked(journalEntry{Op: "put", Key: rec.Key, Record: &rec}); err != nil {
		return err
	}
	s.recs[rec.Key] = rec
	return nil
}

func (s *fileStore) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return Record{}, false, ErrClosed
	}
	rec, ok := s.recs[key]
	return rec, ok, nil
}

func (s *fileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if _, ok := s.recs[key]; !ok {
		return nil
	}
	if err := s.appendLocked(journalEntry{Op: "del", Key: key}); err != nil {
		return err
	}
	delete(s.recs, key)
	return nil
}

func (s *fileStore) List(_ context.Context, cursor string, limit int) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return Page{}, ErrClosed
	}
	keys := make([]string, 0, len(s.recs))
	for k := range s.recs {
		if k > cursor {
			keys = append(keys, k)
		}
	}
	return pageOf(keys, limit, func(k string) (Record, bool) {
		rec, ok := s.recs[k]
		return rec, ok
	}), nil
}

// Compact folds the journal into a fresh snapshot.
func (s *fileStore) Compact(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	return s.compactLocked()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) appendLocked(e journalEntry) error {
	if err := json.NewEncoder(s.journal).Encode(e); err != nil {
		return err
	}
	s.writes++
	if s.writes%fileCompactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("subscription journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	// Records are keyed by the map key; Record.Key itself is not serialized.
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.recs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	if _, err := s.journal.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	s.writes = 0
	s.log.Debug("subscription journal compacted", logx.Int("records", len(s.recs)))
	return nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]Record
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, rec := range m {
		rec.Key = k
		s.recs[k] = rec
	}
	return nil
}

// replay applies journal entries; a torn trailing line is skipped.
func (s *fileStore) replay(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var e journalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.Key == "" {
			continue
		}
		switch e.Op {
		case "put":
			if e.Record == nil {
				continue
			}
			rec := *e.Record
			rec.Key = e.Key
			s.recs[e.Key] = rec
		case "del":
			delete(s.recs, e.Key)
		default:
			continue
		}
		n++
	}
	return n, sc.Err()
}
