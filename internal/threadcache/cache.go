// Package threadcache holds recently resolved threads and
// subject-lookup hints in a bounded in-process LRU, saving redundant
// storage round-trips during reconciliation.
package threadcache

import (
	"container/list"
	"sync"

	"github.com/bavit-uk/mailcore/internal/unified"
)

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 512

// Cache is safe for concurrent use by multiple sync runs.
type Cache struct {
	mu    sync.Mutex
	cap   int
	order *list.List               // front = most recent
	items map[string]*list.Element // key -> element holding *entry
}

type entry struct {
	key    string
	thread *unified.UnifiedThread
	hint   string
}

// New creates a cache bounded to capacity entries; capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// Thread returns the cached thread view for threadID.
func (c *Cache) Thread(threadID string) (*unified.UnifiedThread, bool) {
	e := c.touch("thr:" + threadID)
	if e == nil || e.thread == nil {
		return nil, false
	}
	return e.thread, true
}

// PutThread caches a thread view keyed by its id.
func (c *Cache) PutThread(t *unified.UnifiedThread) {
	if t == nil {
		return
	}
	c.put("thr:"+t.ThreadID, entry{thread: t})
}

// Invalidate drops the cached view for threadID, typically after an
// upsert changed its member set.
func (c *Cache) Invalidate(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items["thr:"+threadID]; ok {
		c.order.Remove(el)
		delete(c.items, "thr:"+threadID)
	}
}

// SubjectHint returns the thread id previously resolved for a clean
// subject + sender pair.
func (c *Cache) SubjectHint(cleanSubject, senderEmail string) (string, bool) {
	e := c.touch("hint:" + cleanSubject + "|" + senderEmail)
	if e == nil || e.hint == "" {
		return "", false
	}
	return e.hint, true
}

// PutSubjectHint remembers a clean subject + sender resolution.
func (c *Cache) PutSubjectHint(cleanSubject, senderEmail, threadID string) {
	c.put("hint:"+cleanSubject+"|"+senderEmail, entry{hint: threadID})
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) touch(key string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil
	}
	c.order.MoveToFront(el)
	e := el.Value.(*entry)
	return e
}

func (c *Cache) put(key string, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e.key = key
	if el, ok := c.items[key]; ok {
		el.Value = &e
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&e)
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}
}
