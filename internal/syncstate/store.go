// Package syncstate tracks per-(account, category) synchronization
// cursors. The store is the only process-wide holder of cursor state;
// mutation goes through Commit so every pass updates atomically.
package syncstate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bavit-uk/mailcore/internal/unified"
)

// HistoryCap bounds the rolling window of past pass summaries kept per
// key.
const HistoryCap = 10

// Key identifies one sync unit of work.
type Key struct {
	AccountID string
	Category  unified.Category
}

func (k Key) String() string {
	return k.AccountID + ":" + string(k.Category)
}

// PassSummary is one completed sync pass, kept in the rolling history.
type PassSummary struct {
	CompletedAt       time.Time `json:"completedAt"`
	EmailCount        int       `json:"emailCount"`
	ConflictsResolved int       `json:"conflictsResolved"`
	SkippedMalformed  int       `json:"skippedMalformed"`
	Pages             int       `json:"pages"`
	CursorToken       string    `json:"cursorToken"`
}

// Cursor is the tracked state for one key.
type Cursor struct {
	Key                    Key
	LastSyncedAt           time.Time
	CursorToken            string
	ConflictsResolvedTotal int64
	History                []PassSummary
}

// Checkpointer persists cursors across restarts. Implemented by the
// sqlite storage layer; may be nil for a purely in-memory store.
type Checkpointer interface {
	LoadCursor(ctx context.Context, accountID string, category unified.Category) (*Cursor, error)
	SaveCursor(ctx context.Context, cursor Cursor) error
}

// Store holds cursors keyed by (account, category) with per-key
// serialization. Created lazily on first access, never deleted except
// by explicit Remove.
type Store struct {
	mu  sync.Mutex
	cp  Checkpointer
	log *zap.Logger

	entries map[Key]*entry
}

type entry struct {
	mu     sync.Mutex
	loaded bool
	cursor Cursor
}

// New creates a cursor store; cp may be nil.
func New(cp Checkpointer, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{cp: cp, log: log, entries: make(map[Key]*entry)}
}

// Get returns the current cursor for key, loading it from the
// checkpointer on first access and creating an empty one when nothing
// is persisted. An empty CursorToken signals that the next sync must
// be a full one.
func (s *Store) Get(ctx context.Context, key Key) (Cursor, error) {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.ensureLoaded(ctx, key, e); err != nil {
		return Cursor{}, err
	}
	return e.cursor, nil
}

// Commit records a completed pass: the new cursor token, the pass
// summary appended to the bounded history, and the running conflict
// total. The update is atomic per key and persisted before the
// in-memory state is replaced.
func (s *Store) Commit(ctx context.Context, key Key, token string, pass PassSummary) (Cursor, error) {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.ensureLoaded(ctx, key, e); err != nil {
		return Cursor{}, err
	}

	next := e.cursor
	next.CursorToken = token
	next.LastSyncedAt = pass.CompletedAt
	next.ConflictsResolvedTotal += int64(pass.ConflictsResolved)
	next.History = appendHistory(next.History, pass)

	if s.cp != nil {
		if err := s.cp.SaveCursor(ctx, next); err != nil {
			return Cursor{}, err
		}
	}

	e.cursor = next
	return next, nil
}

// Remove deletes the key entirely. Only explicit account removal calls
// this.
func (s *Store) Remove(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *Store) entry(key Key) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

// caller holds e.mu
func (s *Store) ensureLoaded(ctx context.Context, key Key, e *entry) error {
	if e.loaded {
		return nil
	}
	e.cursor = Cursor{Key: key}
	if s.cp != nil {
		persisted, err := s.cp.LoadCursor(ctx, key.AccountID, key.Category)
		if err != nil {
			return err
		}
		if persisted != nil {
			e.cursor = *persisted
			e.cursor.Key = key
		}
	}
	e.loaded = true
	return nil
}

func appendHistory(h []PassSummary, pass PassSummary) []PassSummary {
	h = append(h, pass)
	if len(h) > HistoryCap {
		trimmed := make([]PassSummary, HistoryCap)
		copy(trimmed, h[len(h)-HistoryCap:])
		return trimmed
	}
	return h
}
