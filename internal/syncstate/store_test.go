package syncstate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bavit-uk/mailcore/internal/unified"
)

type memCheckpointer struct {
	mu    sync.Mutex
	saved map[string]Cursor
}

func newMemCheckpointer() *memCheckpointer {
	return &memCheckpointer{saved: make(map[string]Cursor)}
}

func (m *memCheckpointer) LoadCursor(_ context.Context, accountID string, category unified.Category) (*Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.saved[accountID+":"+string(category)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memCheckpointer) SaveCursor(_ context.Context, cursor Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[cursor.Key.String()] = cursor
	return nil
}

func TestGetCreatesLazily(t *testing.T) {
	s := New(nil, nil)
	key := Key{AccountID: "a1", Category: unified.CategoryInbox}

	cur, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if cur.CursorToken != "" || cur.ConflictsResolvedTotal != 0 {
		t.Errorf("fresh cursor not empty: %+v", cur)
	}
	if cur.Key != key {
		t.Errorf("key = %+v, want %+v", cur.Key, key)
	}
}

func TestCommitAdvancesAndAccumulates(t *testing.T) {
	s := New(nil, nil)
	key := Key{AccountID: "a1", Category: unified.CategoryInbox}
	now := time.Now().UTC()

	_, err := s.Commit(context.Background(), key, "tok-1", PassSummary{
		CompletedAt: now, EmailCount: 5, ConflictsResolved: 2, CursorToken: "tok-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	cur, err := s.Commit(context.Background(), key, "tok-2", PassSummary{
		CompletedAt: now.Add(time.Minute), EmailCount: 3, ConflictsResolved: 1, CursorToken: "tok-2",
	})
	if err != nil {
		t.Fatal(err)
	}

	if cur.CursorToken != "tok-2" {
		t.Errorf("token = %q, want tok-2", cur.CursorToken)
	}
	if cur.ConflictsResolvedTotal != 3 {
		t.Errorf("conflict total = %d, want 3", cur.ConflictsResolvedTotal)
	}
	if len(cur.History) != 2 {
		t.Errorf("history length = %d, want 2", len(cur.History))
	}
}

func TestHistoryBounded(t *testing.T) {
	s := New(nil, nil)
	key := Key{AccountID: "a1", Category: unified.CategorySent}

	for i := 0; i < HistoryCap*2; i++ {
		tok := fmt.Sprintf("tok-%d", i)
		if _, err := s.Commit(context.Background(), key, tok, PassSummary{CursorToken: tok}); err != nil {
			t.Fatal(err)
		}
	}

	cur, _ := s.Get(context.Background(), key)
	if len(cur.History) != HistoryCap {
		t.Fatalf("history length = %d, want %d", len(cur.History), HistoryCap)
	}
	if newest := cur.History[len(cur.History)-1].CursorToken; newest != fmt.Sprintf("tok-%d", HistoryCap*2-1) {
		t.Errorf("newest history entry = %q", newest)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	cp := newMemCheckpointer()
	key := Key{AccountID: "a1", Category: unified.CategoryInbox}

	first := New(cp, nil)
	if _, err := first.Commit(context.Background(), key, "tok-9", PassSummary{EmailCount: 4, ConflictsResolved: 1}); err != nil {
		t.Fatal(err)
	}

	// Fresh store, same checkpointer: state survives the "restart"
	second := New(cp, nil)
	cur, err := second.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if cur.CursorToken != "tok-9" {
		t.Errorf("token after restart = %q, want tok-9", cur.CursorToken)
	}
	if cur.ConflictsResolvedTotal != 1 {
		t.Errorf("conflict total after restart = %d, want 1", cur.ConflictsResolvedTotal)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	s := New(nil, nil)
	inbox := Key{AccountID: "a1", Category: unified.CategoryInbox}
	sent := Key{AccountID: "a1", Category: unified.CategorySent}

	if _, err := s.Commit(context.Background(), inbox, "tok-inbox", PassSummary{}); err != nil {
		t.Fatal(err)
	}

	cur, _ := s.Get(context.Background(), sent)
	if cur.CursorToken != "" {
		t.Errorf("sent cursor = %q, leaked from inbox", cur.CursorToken)
	}
}

func TestConcurrentCommitsSerialize(t *testing.T) {
	s := New(nil, nil)
	key := Key{AccountID: "a1", Category: unified.CategoryInbox}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Commit(context.Background(), key, fmt.Sprintf("tok-%d", i), PassSummary{ConflictsResolved: 1})
		}(i)
	}
	wg.Wait()

	cur, _ := s.Get(context.Background(), key)
	if cur.ConflictsResolvedTotal != 20 {
		t.Errorf("conflict total = %d, want 20", cur.ConflictsResolvedTotal)
	}
}
