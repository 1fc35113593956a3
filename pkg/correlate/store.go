// Package correlate persists the mapping from relayed-message identity
// back to the originating account and chat. The relay is the only
// writer; reads and writes go through an in-memory index with periodic
// flushes to SQLite so records survive restarts.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("correlation record not found")

const schema = `
create table if not exists correlation (
	key              text primary key,
	account_id       text not null,
	chat_id          text not null,
	chat_name        text not null,
	last_activity_at timestamp not null
)`

// Record links a delivered message key to its origin.
type Record struct {
	Key            string    `db:"key" json:"key"`
	AccountID      string    `db:"account_id" json:"account_id"`
	ChatID         string    `db:"chat_id" json:"chat_id"`
	ChatName       string    `db:"chat_name" json:"chat_name"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
}

// Store is the durable key->origin map. All durable writes happen in
// Flush; Put/Get/Touch only touch the in-memory index. Safe for
// concurrent use, though in practice only the relay mutates it.
type Store struct {
	db *sqlx.DB

	mu      sync.RWMutex
	records map[string]Record
	dirty   map[string]struct{}
	removed map[string]struct{}
}

// Open connects to (or creates) the SQLite database at path and loads
// every persisted record into memory. The caller must see Open return
// before routing any traffic, so pre-restart replies stay resolvable.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening correlation database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating correlation table: %w", err)
	}

	var rows []Record
	if err := db.Select(&rows, `select * from correlation`); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading correlation records: %w", err)
	}

	records := make(map[string]Record, len(rows))
	for _, r := range rows {
		records[r.Key] = r
	}

	return &Store{
		db:      db,
		records: records,
		dirty:   make(map[string]struct{}),
		removed: make(map[string]struct{}),
	}, nil
}

// Put inserts or overwrites the record for key. Overwrite-on-reuse keeps
// the newest origin if the relay target ever reissues an identifier.
func (s *Store) Put(key string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Key = key
	s.records[key] = rec
	s.dirty[key] = struct{}{}
	delete(s.removed, key)
}

// Get returns the record for key, or ErrNotFound.
func (s *Store) Get(key string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Touch refreshes a record's last activity timestamp, extending its
// retention. Unknown keys are ignored.
func (s *Store) Touch(key string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return
	}
	rec.LastActivityAt = at
	s.records[key] = rec
	s.dirty[key] = struct{}{}
}

// Len reports the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// EvictOlderThan removes records whose last activity is older than the
// retention window. Returns the number evicted.
func (s *Store) EvictOlderThan(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, rec := range s.records {
		if rec.LastActivityAt.Before(cutoff) {
			s.evictLocked(key)
			n++
		}
	}
	return n
}

// TrimToCount evicts the oldest records until at most max remain. A max
// of zero or less means unbounded.
func (s *Store) TrimToCount(max int) int {
	if max <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	excess := len(s.records) - max
	if excess <= 0 {
		return 0
	}

	all := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastActivityAt.Before(all[j].LastActivityAt)
	})
	for _, rec := range all[:excess] {
		s.evictLocked(rec.Key)
	}
	return excess
}

func (s *Store) evictLocked(key string) {
	delete(s.records, key)
	delete(s.dirty, key)
	s.removed[key] = struct{}{}
}

// Flush writes pending changes to SQLite in one transaction.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirty) == 0 && len(s.removed) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning flush transaction: %w", err)
	}
	defer tx.Rollback()

	for key := range s.removed {
		if _, err := tx.Exec(`delete from correlation where key = ?`, key); err != nil {
			return fmt.Errorf("deleting record %q: %w", key, err)
		}
	}
	for key := range s.dirty {
		rec := s.records[key]
		_, err := tx.Exec(
			`insert into correlation (key, account_id, chat_id, chat_name, last_activity_at)
			 values (?, ?, ?, ?, ?)
			 on conflict(key) do update set
			   account_id = excluded.account_id,
			   chat_id = excluded.chat_id,
			   chat_name = excluded.chat_name,
			   last_activity_at = excluded.last_activity_at`,
			rec.Key, rec.AccountID, rec.ChatID, rec.ChatName, rec.LastActivityAt,
		)
		if err != nil {
			return fmt.Errorf("upserting record %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing flush: %w", err)
	}
	s.dirty = make(map[string]struct{})
	s.removed = make(map[string]struct{})
	return nil
}

// Close flushes pending changes and closes the database.
func (s *Store) Close() error {
	if err := s.Flush(context.Background()); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
