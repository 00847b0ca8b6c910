package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/bavit-uk/mailcore/internal/syncstate"
	"github.com/bavit-uk/mailcore/internal/unified"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/mailcore.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEmail(id, threadID string) *unified.UnifiedEmail {
	return &unified.UnifiedEmail{
		ID:           id,
		AccountID:    "acct-1",
		MessageID:    "<" + id + "@example.com>",
		ThreadID:     threadID,
		Subject:      "Budget review",
		From:         []unified.EmailAddress{{Email: "alice@example.com"}},
		ReceivedDate: time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC),
		Category:     unified.CategoryInbox,
		Labels:       []string{"INBOX"},
		SyncMeta:     unified.SyncMeta{Provider: unified.ProviderGmail},
	}
}

func TestUpsertAndFindCanonicalEmail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	email := testEmail("m1", "t1")
	if err := s.UpsertCanonicalEmail(ctx, email); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindCanonicalEmail(ctx, unified.ProviderGmail, "acct-1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("stored email not found")
	}
	if got.Subject != "Budget review" || got.ThreadID != "t1" {
		t.Errorf("roundtrip mismatch: %+v", got)
	}

	missing, err := s.FindCanonicalEmail(ctx, unified.ProviderGmail, "acct-1", "nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil for unknown id")
	}
}

func TestUpsertNeverDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	email := testEmail("m1", "t1")
	for i := 0; i < 3; i++ {
		email.Subject = "pass"
		if err := s.UpsertCanonicalEmail(ctx, email); err != nil {
			t.Fatal(err)
		}
	}

	members, err := s.FindThreadMembers(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 {
		t.Errorf("got %d rows for one identity tuple", len(members))
	}
}

func TestThreadMembersOrderedByDate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	later := testEmail("m2", "t1")
	later.ReceivedDate = later.ReceivedDate.Add(time.Hour)
	if err := s.UpsertCanonicalEmail(ctx, later); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertCanonicalEmail(ctx, testEmail("m1", "t1")); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertCanonicalEmail(ctx, testEmail("m3", "t2")); err != nil {
		t.Fatal(err)
	}

	members, err := s.FindThreadMembers(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}
	if members[0].ID != "m1" || members[1].ID != "m2" {
		t.Errorf("order = %s, %s", members[0].ID, members[1].ID)
	}
}

func TestFindThreadByCleanSubjectAndSender(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertCanonicalEmail(ctx, testEmail("m1", "t1")); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertThread(ctx, &unified.UnifiedThread{ThreadID: "t1", Subject: "Budget review", MessageCount: 1}); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindThreadByCleanSubjectAndSender(ctx, "budget review", "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ThreadID != "t1" {
		t.Fatalf("lookup = %+v, want t1", got)
	}

	// The subject column is the cleaned, case-folded form: a reply
	// subject matches its root
	reply := testEmail("m2", "t1")
	reply.Subject = "Re: Budget review"
	if err := s.UpsertCanonicalEmail(ctx, reply); err != nil {
		t.Fatal(err)
	}
	got, err = s.FindThreadByCleanSubjectAndSender(ctx, "budget review", "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ThreadID != "t1" {
		t.Errorf("lookup after reply = %+v", got)
	}

	none, err := s.FindThreadByCleanSubjectAndSender(ctx, "budget review", "stranger@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Error("lookup matched wrong sender")
	}
}

func TestFindThreadByCleanSubjectDerivesMissingView(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Members stored but the thread view never materialized
	if err := s.UpsertCanonicalEmail(ctx, testEmail("m1", "t9")); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindThreadByCleanSubjectAndSender(ctx, "budget review", "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ThreadID != "t9" || got.MessageCount != 1 {
		t.Errorf("derived view = %+v", got)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	email := testEmail("m1", "t1")
	err := s.UpsertEmailWithEvent(ctx, email, "account.acct-1.email.synced", "email.synced", []byte(`{}`), "email.synced|GMAIL|m1")
	if err != nil {
		t.Fatal(err)
	}
	// Same msg id again: record updates, outbox stays deduplicated
	err = s.UpsertEmailWithEvent(ctx, email, "account.acct-1.email.synced", "email.synced", []byte(`{}`), "email.synced|GMAIL|m1")
	if err != nil {
		t.Fatal(err)
	}

	msgs, err := s.DequeueOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("outbox rows = %d, want 1", len(msgs))
	}

	if err := s.MarkPublished(ctx, msgs[0].ID); err != nil {
		t.Fatal(err)
	}
	msgs, err = s.DequeueOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("published row still dequeued")
	}
}

func TestOutboxRetryBackoff(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.UpsertEmailWithEvent(ctx, testEmail("m1", "t1"), "subj", "email.synced", []byte(`{}`), "id-1")
	if err != nil {
		t.Fatal(err)
	}
	msgs, _ := s.DequeueOutbox(ctx, 10)
	if len(msgs) != 1 {
		t.Fatal("expected one outbox row")
	}

	if err := s.MarkOutboxRetry(ctx, msgs[0].ID, time.Hour); err != nil {
		t.Fatal(err)
	}
	msgs, _ = s.DequeueOutbox(ctx, 10)
	if len(msgs) != 0 {
		t.Error("row due for retry in an hour was dequeued now")
	}
}

func TestCursorCheckpointRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	missing, err := s.LoadCursor(ctx, "acct-1", unified.CategoryInbox)
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil cursor before first save")
	}

	saved := syncstate.Cursor{
		Key:                    syncstate.Key{AccountID: "acct-1", Category: unified.CategoryInbox},
		LastSyncedAt:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		CursorToken:            "tok-77",
		ConflictsResolvedTotal: 4,
		History: []syncstate.PassSummary{
			{EmailCount: 9, ConflictsResolved: 4, CursorToken: "tok-77"},
		},
	}
	if err := s.SaveCursor(ctx, saved); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadCursor(ctx, "acct-1", unified.CategoryInbox)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("saved cursor not found")
	}
	if got.CursorToken != "tok-77" || got.ConflictsResolvedTotal != 4 {
		t.Errorf("cursor = %+v", got)
	}
	if len(got.History) != 1 || got.History[0].EmailCount != 9 {
		t.Errorf("history = %+v", got.History)
	}
	if !got.LastSyncedAt.Equal(saved.LastSyncedAt) {
		t.Errorf("lastSyncedAt = %v", got.LastSyncedAt)
	}
}
