package unified

import (
	"reflect"
	"testing"
	"time"
)

func email(id string, received time.Time, opts func(*UnifiedEmail)) *UnifiedEmail {
	e := &UnifiedEmail{
		ID:           id,
		AccountID:    "acct",
		Subject:      "Budget",
		ReceivedDate: received,
		IsRead:       true,
	}
	if opts != nil {
		opts(e)
	}
	return e
}

func TestBuildThreadAggregates(t *testing.T) {
	t0 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	members := []*UnifiedEmail{
		email("m2", t0.Add(time.Hour), func(e *UnifiedEmail) {
			e.Subject = "Re: Budget"
			e.IsRead = false
			e.From = []EmailAddress{{Email: "bo@x.test"}}
			e.To = []EmailAddress{{Email: "ana@x.test"}}
		}),
		email("m1", t0, func(e *UnifiedEmail) {
			e.From = []EmailAddress{{Email: "ana@x.test"}}
			e.To = []EmailAddress{{Email: "bo@x.test"}}
			e.IsFlagged = true
		}),
	}

	got := BuildThread("t1", members)
	if got == nil {
		t.Fatal("BuildThread returned nil for non-empty members")
	}
	if got.Subject != "Budget" {
		t.Errorf("subject = %q, want the earliest member's", got.Subject)
	}
	if got.MessageCount != 2 {
		t.Errorf("messageCount = %d, want 2", got.MessageCount)
	}
	if !got.HasUnread || !got.IsFlagged {
		t.Errorf("hasUnread=%v isFlagged=%v, want both true", got.HasUnread, got.IsFlagged)
	}
	if !got.FirstMessageDate.Equal(t0) || !got.LastActivity.Equal(t0.Add(time.Hour)) {
		t.Errorf("date range = [%v, %v]", got.FirstMessageDate, got.LastActivity)
	}

	want := []EmailAddress{{Email: "ana@x.test"}, {Email: "bo@x.test"}}
	if !reflect.DeepEqual(got.Participants, want) {
		t.Errorf("participants = %v, want deduped and sorted %v", got.Participants, want)
	}
}

func TestBuildThreadEmptyMembers(t *testing.T) {
	if got := BuildThread("t1", nil); got != nil {
		t.Fatalf("BuildThread(nil) = %+v, want nil", got)
	}
}

func TestMergeLabels(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want []string
	}{
		{"disjoint", []string{"INBOX"}, []string{"Work"}, []string{"INBOX", "Work"}},
		{"overlap", []string{"INBOX", "Work"}, []string{"Work", "UNREAD"}, []string{"INBOX", "UNREAD", "Work"}},
		{"one empty", []string{"INBOX"}, nil, []string{"INBOX"}},
		{"both empty", nil, nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeLabels(tt.a, tt.b)
			if len(got) != len(tt.want) {
				t.Fatalf("MergeLabels = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("MergeLabels = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSameLabels(t *testing.T) {
	if !SameLabels([]string{"a", "b"}, []string{"b", "a"}) {
		t.Error("order should not matter")
	}
	if SameLabels([]string{"a"}, []string{"a", "b"}) {
		t.Error("different lengths are never equal")
	}
	if !SameLabels(nil, nil) {
		t.Error("two empty sets are equal")
	}
}
