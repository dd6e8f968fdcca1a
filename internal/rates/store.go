package rates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Store is a sqlite-backed TTL cache of exchange rates shared between processes.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

// Entry is a cached rate. Stale entries are past their TTL; TooStale ones are
// also past the stale budget given to Get.
type Entry struct {
	Pair     string
	Rate     decimal.Decimal
	Age      time.Duration
	Stale    bool
	TooStale bool
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create rate cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite rate cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS rates (pair TEXT PRIMARY KEY, rate TEXT NOT NULL, fetched_at INTEGER NOT NULL, ttl_seconds INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init rate cache schema: %w", err)
		}
	}

	store := &Store{db: db, lock: flock.New(lockPath)}
	_ = store.Prune(24 * time.Hour)
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes rates that expired more than grace ago.
func (s *Store) Prune(grace time.Duration) error {
	if s == nil || s.db == nil {
		return nil
	}
	cutoff := time.Now().UTC().Add(-grace).Unix()
	if _, err := s.db.Exec("DELETE FROM rates WHERE fetched_at + ttl_seconds < ?", cutoff); err != nil {
		return fmt.Errorf("prune rate cache: %w", err)
	}
	return nil
}

// Get returns the cached rate for pair. A negative maxStale never marks an entry TooStale.
func (s *Store) Get(pair string, maxStale time.Duration) (Entry, bool, error) {
	var raw string
	var fetchedUnix, ttlSeconds int64
	err := s.db.QueryRow("SELECT rate, fetched_at, ttl_seconds FROM rates WHERE pair = ?", pair).Scan(&raw, &fetchedUnix, &ttlSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("rate cache read: %w", err)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return Entry{}, false, fmt.Errorf("rate cache decode %q: %w", raw, err)
	}

	age := time.Since(time.Unix(fetchedUnix, 0).UTC())
	if age < 0 {
		age = 0
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	stale := age > ttl
	return Entry{
		Pair:     pair,
		Rate:     rate,
		Age:      age,
		Stale:    stale,
		TooStale: stale && maxStale >= 0 && age > ttl+maxStale,
	}, true, nil
}

func (s *Store) Put(pair string, rate decimal.Decimal, ttl time.Duration) error {
	return s.put(pair, rate, ttl, time.Now().UTC())
}

func (s *Store) put(pair string, rate decimal.Decimal, ttl time.Duration, fetchedAt time.Time) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock rate cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock rate cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	ttlSeconds := int64(ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO rates (pair, rate, fetched_at, ttl_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pair) DO UPDATE SET
			rate=excluded.rate,
			fetched_at=excluded.fetched_at,
			ttl_seconds=excluded.ttl_seconds
	`, pair, rate.String(), fetchedAt.Unix(), ttlSeconds)
	if err != nil {
		return fmt.Errorf("rate cache write: %w", err)
	}
	return nil
}
