// Package inbound buffers webhook-delivered messages so the inbound
// channel can be drained through the same page-oriented client
// interface as the polling providers.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"

	"github.com/bavit-uk/mailcore/internal/provider"
	"github.com/bavit-uk/mailcore/internal/unified"
)

// DefaultCapacity bounds the per-account queue. Webhook senders retry
// on their side, so overflow drops the oldest entries rather than
// blocking ingestion.
const DefaultCapacity = 4096

type entry struct {
	seq     uint64
	payload json.RawMessage
}

type queue struct {
	entries []entry
	nextSeq uint64
}

// Buffer holds webhook payloads per account until a sync pass drains
// them. It implements provider.Client.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	accounts map[string]*queue
}

// NewBuffer creates a Buffer with the given per-account capacity;
// capacity <= 0 uses DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		accounts: make(map[string]*queue),
	}
}

// Enqueue appends a webhook payload for an account. When the queue is
// full the oldest entry is evicted; delivery gaps surface later as the
// provider re-sending, not as a stuck queue.
func (b *Buffer) Enqueue(accountID string, payload json.RawMessage) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.accounts[accountID]
	if q == nil {
		q = &queue{nextSeq: 1}
		b.accounts[accountID] = q
	}

	seq := q.nextSeq
	q.nextSeq++
	q.entries = append(q.entries, entry{seq: seq, payload: payload})
	if len(q.entries) > b.capacity {
		q.entries = q.entries[1:]
	}
	return seq
}

// Pending reports how many payloads are queued for an account.
func (b *Buffer) Pending(accountID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q := b.accounts[accountID]; q != nil {
		return len(q.entries)
	}
	return 0
}

// Provider implements provider.Client.
func (b *Buffer) Provider() unified.Provider {
	return unified.ProviderInbound
}

// FetchPage implements provider.Client. The cursor is the decimal
// sequence number of the last consumed entry; entries are only removed
// once a later pass passes a cursor at or beyond them, so a failed
// pass re-reads the same page.
func (b *Buffer) FetchPage(ctx context.Context, accountID string, cat unified.Category, cursor string, pageSize int) (*provider.Page, error) {
	var after uint64
	if cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, errors.New("inbound: invalid cursor")
		}
		after = parsed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.accounts[accountID]
	if q == nil {
		return &provider.Page{NextCursor: cursor}, nil
	}

	// Drop entries the committed cursor has moved past
	trim := 0
	for trim < len(q.entries) && q.entries[trim].seq <= after {
		trim++
	}
	q.entries = q.entries[trim:]

	n := len(q.entries)
	if n > pageSize {
		n = pageSize
	}

	items := make([]json.RawMessage, 0, n)
	last := after
	for _, e := range q.entries[:n] {
		items = append(items, e.payload)
		last = e.seq
	}

	return &provider.Page{
		Items:      items,
		NextCursor: strconv.FormatUint(last, 10),
		HasMore:    len(q.entries) > n,
	}, nil
}
