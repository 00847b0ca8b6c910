package threadcache

import (
	"fmt"
	"testing"

	"github.com/bavit-uk/mailcore/internal/unified"
)

func TestThreadRoundTrip(t *testing.T) {
	c := New(4)
	c.PutThread(&unified.UnifiedThread{ThreadID: "t1", MessageCount: 3})

	got, ok := c.Thread("t1")
	if !ok || got.MessageCount != 3 {
		t.Fatalf("Thread(t1) = %v, %v", got, ok)
	}
	if _, ok := c.Thread("missing"); ok {
		t.Error("unexpected hit for missing key")
	}
}

func TestInvalidate(t *testing.T) {
	c := New(4)
	c.PutThread(&unified.UnifiedThread{ThreadID: "t1"})
	c.Invalidate("t1")
	if _, ok := c.Thread("t1"); ok {
		t.Error("thread survived invalidation")
	}
}

func TestSubjectHints(t *testing.T) {
	c := New(4)
	c.PutSubjectHint("budget", "a@x.com", "t9")

	if id, ok := c.SubjectHint("budget", "a@x.com"); !ok || id != "t9" {
		t.Errorf("SubjectHint = %q, %v", id, ok)
	}
	if _, ok := c.SubjectHint("budget", "b@x.com"); ok {
		t.Error("hint leaked across senders")
	}
}

func TestBoundedEviction(t *testing.T) {
	c := New(3)
	for i := 0; i < 10; i++ {
		c.PutThread(&unified.UnifiedThread{ThreadID: fmt.Sprintf("t%d", i)})
	}
	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}
	if _, ok := c.Thread("t0"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := c.Thread("t9"); !ok {
		t.Error("newest entry evicted")
	}
}

func TestRecentUseProtectsFromEviction(t *testing.T) {
	c := New(2)
	c.PutThread(&unified.UnifiedThread{ThreadID: "a"})
	c.PutThread(&unified.UnifiedThread{ThreadID: "b"})
	c.Thread("a") // refresh
	c.PutThread(&unified.UnifiedThread{ThreadID: "c"})

	if _, ok := c.Thread("a"); !ok {
		t.Error("recently used entry evicted")
	}
	if _, ok := c.Thread("b"); ok {
		t.Error("least recently used entry survived")
	}
}
