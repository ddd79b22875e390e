package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrClosed        = errors.New("storage: store closed")
	ErrInvalidRecord = errors.New("storage: invalid record")
	ErrNotFound      = errors.New("storage: subscription not found")
)

// DefaultPageSize is used when List is called with a non-positive limit.
const DefaultPageSize = 100

// KeyPrefix starts every subscription key.
const KeyPrefix = "sub:"

// Config configures storage.
//
// Driver values: "memory" (default when empty), "file", "sqlite", "postgres",
// "redis", "badger".
type Config struct {
	Driver string
	// Path is the file prefix (file), database file (sqlite) or directory (badger).
	Path string
	// DSN is the postgres connection string.
	DSN string
	// Addr, Password, DB address a redis server.
	Addr     string
	Password string
	DB       int
	// Key names the redis hash holding the subscriptions.
	Key         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscription is the browser PushSubscription as serialized by toJSON().
type Subscription struct {
	Endpoint       string            `json:"endpoint"`
	ExpirationTime *int64            `json:"expirationTime,omitempty"`
	Keys           *SubscriptionKeys `json:"keys,omitempty"`
}

type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Record is one stored push target.
type Record struct {
	Key          string       `json:"-"`
	Subscription Subscription `json:"subscription"`
	User         string       `json:"user"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Page is one List result. An empty Next means the listing is complete.
type Page struct {
	Records []Record
	Next    string
}

// Store is the subscription persistence API.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, key string) (Record, bool, error)
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns up to limit records after cursor ("" starts from the beginning).
	List(ctx context.Context, cursor string, limit int) (Page, error)
	Close() error
}

// Lookup is Get with a missing key reported as ErrNotFound.
func Lookup(ctx context.Context, st Store, key string) (Record, error) {
	rec, ok, err := st.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Compactor is implemented by stores with periodic housekeeping.
type Compactor interface {
	Compact(ctx context.Context) error
}

// KeyFor returns the storage key of an endpoint.
func KeyFor(endpoint string) string {
	return KeyPrefix + base64.StdEncoding.EncodeToString([]byte(endpoint))
}

// normalize validates rec and fills Key when it is empty.
func normalize(rec Record) (Record, error) {
	rec.Subscription.Endpoint = strings.TrimSpace(rec.Subscription.Endpoint)
	if rec.Subscription.Endpoint == "" {
		return rec, ErrInvalidRecord
	}
	if rec.Key == "" {
		rec.Key = KeyFor(rec.Subscription.Endpoint)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return rec, nil
}

func pageLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return limit
}

func jsonRecord(rec Record) ([]byte, error) { return json.Marshal(rec) }

func decodeRecord(key string, raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	rec.Key = key
	return rec, nil
}
