package unified

import (
	"sort"
	"time"
)

// Provider identifies an external mailbox system
type Provider string

const (
	ProviderGmail   Provider = "GMAIL"
	ProviderOutlook Provider = "OUTLOOK"
	ProviderInbound Provider = "INBOUND"
)

// NoSubject is the sentinel used when a payload carries no subject
const NoSubject = "(no subject)"

// EmailAddress is a parsed mailbox address; Name may be empty
type EmailAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Attachment describes a single attachment without its content
type Attachment struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Resolution describes how a field conflict was settled
type Resolution string

const (
	ResolutionNewerWins Resolution = "newer_wins"
	ResolutionMerge     Resolution = "merge"
)

// Conflict records one detected divergence between a stored field value
// and the value just fetched from the provider
type Conflict struct {
	Field      string     `json:"field"`
	OldValue   string     `json:"oldValue"`
	NewValue   string     `json:"newValue"`
	Resolution Resolution `json:"resolution"`
	DetectedAt time.Time  `json:"detectedAt"`
}

// SyncMeta carries bookkeeping attached to every canonical record
type SyncMeta struct {
	LastSynced time.Time  `json:"lastSynced"`
	Provider   Provider   `json:"provider"`
	Version    string     `json:"version,omitempty"`
	Conflicts  []Conflict `json:"conflicts,omitempty"`
}

// UnifiedEmail is the provider-agnostic canonical message record.
// At most one exists per (provider, accountId, id); re-ingestion of the
// same tuple updates in place.
type UnifiedEmail struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`

	Subject  string `json:"subject"`
	BodyText string `json:"bodyText,omitempty"`
	BodyHTML string `json:"bodyHtml,omitempty"`
	Snippet  string `json:"snippet,omitempty"`

	From    []EmailAddress `json:"from,omitempty"`
	To      []EmailAddress `json:"to,omitempty"`
	Cc      []EmailAddress `json:"cc,omitempty"`
	Bcc     []EmailAddress `json:"bcc,omitempty"`
	ReplyTo []EmailAddress `json:"replyTo,omitempty"`

	ReceivedDate time.Time `json:"receivedDate"`
	SentDate     time.Time `json:"sentDate"`

	IsRead      bool `json:"isRead"`
	IsDraft     bool `json:"isDraft"`
	IsSent      bool `json:"isSent"`
	IsImportant bool `json:"isImportant"`
	IsFlagged   bool `json:"isFlagged"`

	HasAttachments bool         `json:"hasAttachments"`
	Attachments    []Attachment `json:"attachments,omitempty"`

	Category Category `json:"category"`
	Labels   []string `json:"labels,omitempty"`

	// Threading signals preserved from the wire so identity resolution
	// stays replayable from the stored record
	NativeThreadID string   `json:"nativeThreadId,omitempty"`
	InReplyTo      string   `json:"inReplyTo,omitempty"`
	References     []string `json:"references,omitempty"`

	SyncMeta SyncMeta `json:"syncMeta"`
}

// Key returns the identity tuple of this record
func (e *UnifiedEmail) Key() EmailKey {
	return EmailKey{Provider: e.SyncMeta.Provider, AccountID: e.AccountID, ID: e.ID}
}

// SenderEmail returns the first From address, or ""
func (e *UnifiedEmail) SenderEmail() string {
	if len(e.From) == 0 {
		return ""
	}
	return e.From[0].Email
}

// EmailKey is the unique identity tuple for a canonical email
type EmailKey struct {
	Provider  Provider
	AccountID string
	ID        string
}

// UnifiedThread is the materialized conversation view. It carries no
// independent lifecycle: every field is re-derived from the member set.
type UnifiedThread struct {
	ThreadID         string         `json:"threadId"`
	Subject          string         `json:"subject"`
	Participants     []EmailAddress `json:"participants,omitempty"`
	MessageCount     int            `json:"messageCount"`
	HasUnread        bool           `json:"hasUnread"`
	IsImportant      bool           `json:"isImportant"`
	IsFlagged        bool           `json:"isFlagged"`
	FirstMessageDate time.Time      `json:"firstMessageDate"`
	LastActivity     time.Time      `json:"lastActivity"`
}

// BuildThread derives the thread view for threadID from its current
// member set. Returns nil when members is empty.
func BuildThread(threadID string, members []*UnifiedEmail) *UnifiedThread {
	if len(members) == 0 {
		return nil
	}

	t := &UnifiedThread{
		ThreadID:     threadID,
		MessageCount: len(members),
	}

	seen := make(map[string]bool)
	for _, m := range members {
		if t.FirstMessageDate.IsZero() || m.ReceivedDate.Before(t.FirstMessageDate) {
			t.FirstMessageDate = m.ReceivedDate
			t.Subject = m.Subject
		}
		if m.ReceivedDate.After(t.LastActivity) {
			t.LastActivity = m.ReceivedDate
		}
		if !m.IsRead {
			t.HasUnread = true
		}
		t.IsImportant = t.IsImportant || m.IsImportant
		t.IsFlagged = t.IsFlagged || m.IsFlagged

		for _, addr := range collectParticipants(m) {
			if addr.Email == "" || seen[addr.Email] {
				continue
			}
			seen[addr.Email] = true
			t.Participants = append(t.Participants, addr)
		}
	}

	sort.Slice(t.Participants, func(i, j int) bool {
		return t.Participants[i].Email < t.Participants[j].Email
	})

	return t
}

func collectParticipants(m *UnifiedEmail) []EmailAddress {
	out := make([]EmailAddress, 0, len(m.From)+len(m.To)+len(m.Cc))
	out = append(out, m.From...)
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	return out
}

// MergeLabels returns the sorted union of two label sets
func MergeLabels(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// SameLabels reports whether two label sets hold the same members,
// ignoring order
func SameLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if !set[s] {
			return false
		}
	}
	return true
}
