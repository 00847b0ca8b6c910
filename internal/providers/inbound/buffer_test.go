package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/bavit-uk/mailcore/internal/unified"
)

func payload(i int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"messageId":"m%d"}`, i))
}

func TestFetchPagePagination(t *testing.T) {
	b := NewBuffer(0)
	for i := 1; i <= 5; i++ {
		b.Enqueue("acct", payload(i))
	}

	page, err := b.FetchPage(context.Background(), "acct", unified.CategoryInbox, "", 2)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Items) != 2 || !page.HasMore {
		t.Fatalf("got %d items, hasMore=%v, want 2 items with more", len(page.Items), page.HasMore)
	}
	if page.NextCursor != "2" {
		t.Fatalf("cursor = %q, want 2", page.NextCursor)
	}

	page, err = b.FetchPage(context.Background(), "acct", unified.CategoryInbox, page.NextCursor, 10)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Items) != 3 || page.HasMore {
		t.Fatalf("got %d items, hasMore=%v, want remaining 3", len(page.Items), page.HasMore)
	}
	if page.NextCursor != "5" {
		t.Fatalf("cursor = %q, want 5", page.NextCursor)
	}
}

func TestFetchPageRereadsUncommitted(t *testing.T) {
	b := NewBuffer(0)
	b.Enqueue("acct", payload(1))
	b.Enqueue("acct", payload(2))

	first, err := b.FetchPage(context.Background(), "acct", unified.CategoryInbox, "", 2)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	// Same cursor again, as after a failed pass
	again, err := b.FetchPage(context.Background(), "acct", unified.CategoryInbox, "", 2)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(again.Items) != len(first.Items) {
		t.Fatalf("re-read returned %d items, want %d", len(again.Items), len(first.Items))
	}
}

func TestEnqueueEvictsOldestAtCapacity(t *testing.T) {
	b := NewBuffer(3)
	for i := 1; i <= 5; i++ {
		b.Enqueue("acct", payload(i))
	}
	if got := b.Pending("acct"); got != 3 {
		t.Fatalf("pending = %d, want 3", got)
	}

	page, err := b.FetchPage(context.Background(), "acct", unified.CategoryInbox, "", 10)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	var first struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(page.Items[0], &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.MessageID != "m3" {
		t.Fatalf("oldest surviving payload = %q, want m3", first.MessageID)
	}
}

func TestAccountsAreIsolated(t *testing.T) {
	b := NewBuffer(0)
	b.Enqueue("a", payload(1))
	b.Enqueue("b", payload(2))

	page, err := b.FetchPage(context.Background(), "a", unified.CategoryInbox, "", 10)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("account a has %d items, want 1", len(page.Items))
	}
	if got := b.Pending("b"); got != 1 {
		t.Fatalf("account b pending = %d, want 1", got)
	}
}

func TestEmptyAccountKeepsCursor(t *testing.T) {
	b := NewBuffer(0)
	page, err := b.FetchPage(context.Background(), "nobody", unified.CategoryInbox, "7", 10)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Items) != 0 || page.HasMore || page.NextCursor != "7" {
		t.Fatalf("got %+v, want empty page keeping cursor 7", page)
	}
}
