package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Store remembers friend-name resolutions per owner. Entries past their TTL
// are never returned: a stale address must not receive funds.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

type Entry struct {
	Owner   string
	Name    string
	Address string
	Age     time.Duration
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS friend_resolutions (
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			address TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			ttl_seconds INTEGER NOT NULL,
			PRIMARY KEY (owner, name)
		);`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}

	store := &Store{db: db, lock: flock.New(lockPath), now: time.Now}
	_ = store.Prune()
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes every expired resolution.
func (s *Store) Prune() error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec("DELETE FROM friend_resolutions WHERE created_at + ttl_seconds < ?", s.now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

// Lookup returns a fresh resolution for (owner, name).
func (s *Store) Lookup(owner, name string) (Entry, bool, error) {
	owner, name = normalizeKey(owner, name)
	var address string
	var createdUnix, ttlSeconds int64
	err := s.db.QueryRow(
		"SELECT address, created_at, ttl_seconds FROM friend_resolutions WHERE owner = ? AND name = ?",
		owner, name,
	).Scan(&address, &createdUnix, &ttlSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache read: %w", err)
	}

	age := s.now().UTC().Sub(time.Unix(createdUnix, 0).UTC())
	if age < 0 {
		age = 0
	}
	if age > time.Duration(ttlSeconds)*time.Second {
		return Entry{}, false, nil
	}
	return Entry{Owner: owner, Name: name, Address: address, Age: age}, true, nil
}

func (s *Store) Put(owner, name, address string, ttl time.Duration) error {
	owner, name = normalizeKey(owner, name)
	return s.withLock(func() error {
		ttlSeconds := int64(ttl.Seconds())
		if ttlSeconds <= 0 {
			ttlSeconds = 1
		}
		_, err := s.db.Exec(`
			INSERT INTO friend_resolutions (owner, name, address, created_at, ttl_seconds)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(owner, name) DO UPDATE SET
				address=excluded.address,
				created_at=excluded.created_at,
				ttl_seconds=excluded.ttl_seconds
		`, owner, name, address, s.now().UTC().Unix(), ttlSeconds)
		if err != nil {
			return fmt.Errorf("cache write: %w", err)
		}
		return nil
	})
}

func (s *Store) Forget(owner, name string) error {
	owner, name = normalizeKey(owner, name)
	return s.withLock(func() error {
		if _, err := s.db.Exec("DELETE FROM friend_resolutions WHERE owner = ? AND name = ?", owner, name); err != nil {
			return fmt.Errorf("cache delete: %w", err)
		}
		return nil
	})
}

func (s *Store) withLock(fn func() error) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func normalizeKey(owner, name string) (string, string) {
	return strings.ToLower(strings.TrimSpace(owner)), strings.ToLower(strings.TrimSpace(name))
}
