// Package reconcile merges a freshly fetched canonical email with the
// previously stored record for the same identity, recording field
// conflicts as it goes.
package reconcile

import (
	"strconv"
	"time"

	"github.com/bavit-uk/mailcore/internal/unified"
)

// ConflictCap bounds the per-record conflict history. Oldest entries
// drop first so a hot-looping message cannot grow its record forever.
const ConflictCap = 20

// Result is the outcome of one reconciliation.
type Result struct {
	Merged    *unified.UnifiedEmail
	Conflicts []unified.Conflict
}

// Reconcile compares incoming against existing and produces the merged
// record. existing == nil means first sight: incoming is taken
// verbatim with no conflicts. It never errors.
//
// The mutable field set is fixed: subject, isRead, isImportant,
// isFlagged resolve newer-wins (incoming was just fetched, so it is
// newer); labels resolve by set union so a sync pass never drops a
// label. Everything else (bodies, attachments, addresses) providers do
// not retroactively edit, so incoming simply overwrites without
// bookkeeping.
func Reconcile(incoming, existing *unified.UnifiedEmail) Result {
	if existing == nil {
		return Result{Merged: incoming}
	}

	now := incoming.SyncMeta.LastSynced
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var conflicts []unified.Conflict
	newerWins := func(field, oldVal, newVal string) {
		conflicts = append(conflicts, unified.Conflict{
			Field:      field,
			OldValue:   oldVal,
			NewValue:   newVal,
			Resolution: unified.ResolutionNewerWins,
			DetectedAt: now,
		})
	}

	merged := *incoming

	if existing.Subject != incoming.Subject {
		newerWins("subject", existing.Subject, incoming.Subject)
	}
	if existing.IsRead != incoming.IsRead {
		newerWins("isRead", strconv.FormatBool(existing.IsRead), strconv.FormatBool(incoming.IsRead))
	}
	if existing.IsImportant != incoming.IsImportant {
		newerWins("isImportant", strconv.FormatBool(existing.IsImportant), strconv.FormatBool(incoming.IsImportant))
	}
	if existing.IsFlagged != incoming.IsFlagged {
		newerWins("isFlagged", strconv.FormatBool(existing.IsFlagged), strconv.FormatBool(incoming.IsFlagged))
	}

	if !unified.SameLabels(existing.Labels, incoming.Labels) {
		merged.Labels = unified.MergeLabels(existing.Labels, incoming.Labels)
		conflicts = append(conflicts, unified.Conflict{
			Field:      "labels",
			OldValue:   joinLabels(existing.Labels),
			NewValue:   joinLabels(incoming.Labels),
			Resolution: unified.ResolutionMerge,
			DetectedAt: now,
		})
	}

	// History accumulates across passes on the stored record.
	merged.SyncMeta.Conflicts = capConflicts(append(existing.SyncMeta.Conflicts, conflicts...))

	return Result{Merged: &merged, Conflicts: conflicts}
}

// capConflicts keeps the most recent ConflictCap entries.
func capConflicts(cs []unified.Conflict) []unified.Conflict {
	if len(cs) <= ConflictCap {
		return cs
	}
	trimmed := make([]unified.Conflict, ConflictCap)
	copy(trimmed, cs[len(cs)-ConflictCap:])
	return trimmed
}

func joinLabels(labels []string) string {
	out := ""
	for i, l := range labels {
		if i > 0 {
			out += ","
		}
		out += l
	}
	return out
}
