// Package threadid assigns the canonical conversation identity for a
// message. Resolution is two-stage: a pure structural pass over the
// provider thread id and reference headers, then a stored-thread lookup
// by clean subject and sender as a correction step for reply-marked
// messages that carried no structural linkage.
package threadid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"

	"github.com/bavit-uk/mailcore/internal/unified"
)

// Lookup locates a previously stored thread by its clean subject and
// the sender of one of its members. Implemented by the storage layer.
type Lookup interface {
	FindThreadByCleanSubjectAndSender(ctx context.Context, cleanSubject, senderEmail string) (*unified.UnifiedThread, error)
}

// HintCache remembers recent clean-subject+sender resolutions so the
// correction step can skip the storage round-trip.
type HintCache interface {
	SubjectHint(cleanSubject, senderEmail string) (string, bool)
	PutSubjectHint(cleanSubject, senderEmail, threadID string)
}

// Resolver resolves thread identity. Lookup and Hints may be nil, in
// which case only the structural stage runs.
type Resolver struct {
	lookup Lookup
	hints  HintCache
	log    *zap.Logger
}

// New creates a resolver backed by the given stored-thread lookup.
func New(lookup Lookup, hints HintCache, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{lookup: lookup, hints: hints, log: log}
}

// Resolve returns the canonical thread id for msg. It is total: every
// message resolves to exactly one non-empty id, deterministically
// across restarts and processing order.
func (r *Resolver) Resolve(ctx context.Context, msg *unified.UnifiedEmail) string {
	id, structural := StructuralID(msg)
	if structural {
		return id
	}

	// Correction step: a reply-marked subject with no structural
	// linkage may belong to a thread we already stored.
	if !HasReplyMarker(msg.Subject) {
		return id
	}

	clean := CleanSubject(msg.Subject)
	sender := msg.SenderEmail()
	if clean == "" || sender == "" {
		return id
	}

	if r.hints != nil {
		if hinted, ok := r.hints.SubjectHint(clean, sender); ok {
			return hinted
		}
	}

	if r.lookup == nil {
		return id
	}

	existing, err := r.lookup.FindThreadByCleanSubjectAndSender(ctx, clean, sender)
	if err != nil {
		// Correction is best effort; the structural fallback id is
		// still valid on its own.
		r.log.Warn("subject lookup failed, keeping fallback thread id",
			zap.String("cleanSubject", clean), zap.Error(err))
		return id
	}
	if existing == nil {
		return id
	}

	if r.hints != nil {
		r.hints.PutSubjectHint(clean, sender, existing.ThreadID)
	}
	return existing.ThreadID
}

// StructuralID runs the pure priority rules. structural is false when
// the id came from the last-resort self fallback, which is the only
// case eligible for the subject+sender correction.
func StructuralID(msg *unified.UnifiedEmail) (id string, structural bool) {
	// 1. Provider-native conversation identity, verbatim.
	if msg.NativeThreadID != "" {
		return msg.NativeThreadID, true
	}

	// 2. Direct reply linkage.
	if ref := normalizeRef(msg.InReplyTo); ref != "" {
		return hashRef(ref), true
	}

	// 3. Earliest ancestor in the References chain. The FIRST entry,
	// not the last: every later reply appends new references but the
	// root stays in front, so the whole chain shares one identity.
	for _, raw := range msg.References {
		if ref := normalizeRef(raw); ref != "" {
			return hashRef(ref), true
		}
	}

	// 4. No cross-message linkage: the message roots its own thread.
	// Hash its message-id with the reference scheme so a later reply
	// citing that id (rule 2) derives the same value.
	if ref := normalizeRef(msg.MessageID); ref != "" {
		return hashRef(ref), false
	}

	// Degenerate payload with no message-id at all; the mapper
	// normally backfills MessageID from the native id.
	return hashSubjectSelf(CleanSubject(msg.Subject), msg.ID), false
}

var replyMarkers = []string{"re:", "fwd:", "fw:"}

// HasReplyMarker reports whether the subject starts with a reply or
// forward token.
func HasReplyMarker(subject string) bool {
	s := strings.ToLower(strings.TrimSpace(subject))
	for _, m := range replyMarkers {
		if strings.HasPrefix(s, m) {
			return true
		}
	}
	return false
}

// CleanSubject strips leading reply/forward markers and surrounding
// whitespace and case-folds, yielding the grouping key used for the
// correction lookup.
func CleanSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		stripped := false
		for _, m := range replyMarkers {
			if strings.HasPrefix(lower, m) {
				s = strings.TrimSpace(s[len(m):])
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	return strings.ToLower(s)
}

func normalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "<")
	ref = strings.TrimSuffix(ref, ">")
	return strings.TrimSpace(ref)
}

func hashRef(ref string) string {
	return stableID("ref:" + ref)
}

func hashSubjectSelf(cleanSubject, nativeID string) string {
	return stableID("subj:" + cleanSubject + "|" + nativeID)
}

// stableID derives a deterministic identity from input, independent of
// process state.
func stableID(input string) string {
	sum := sha256.Sum256([]byte(input))
	return "t_" + hex.EncodeToString(sum[:])[:32]
}
