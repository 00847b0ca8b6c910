// Package sync drives reconciliation passes: it pages raw payloads out
// of a provider client, maps them to canonical records, resolves thread
// identity, reconciles against stored state, and commits the cursor
// only after each page has fully persisted.
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bavit-uk/mailcore/internal/events"
	"github.com/bavit-uk/mailcore/internal/mapper"
	"github.com/bavit-uk/mailcore/internal/provider"
	"github.com/bavit-uk/mailcore/internal/reconcile"
	"github.com/bavit-uk/mailcore/internal/storage"
	"github.com/bavit-uk/mailcore/internal/syncstate"
	"github.com/bavit-uk/mailcore/internal/threadcache"
	"github.com/bavit-uk/mailcore/internal/threadid"
	"github.com/bavit-uk/mailcore/internal/unified"
)

// State is the coarse phase a pass is in, for status reporting.
type State string

const (
	StateIdle        State = "IDLE"
	StateFetching    State = "FETCHING"
	StateReconciling State = "RECONCILING"
	StatePersisting  State = "PERSISTING"
	StateFailed      State = "FAILED"
)

// Mode selects where a pass starts from.
type Mode string

const (
	// ModeFull ignores the stored cursor and re-reads the mailbox from
	// the beginning. Safe to run at any time: reconciliation makes it
	// converge instead of duplicate.
	ModeFull Mode = "full"
	// ModeIncremental resumes from the committed cursor.
	ModeIncremental Mode = "incremental"
)

const (
	// DefaultPageSize is items requested per provider fetch.
	DefaultPageSize = 100
	// DefaultMaxPages caps pages consumed in one pass; a pass that hits
	// the cap reports HasMore so the caller schedules a follow-up.
	DefaultMaxPages = 50
)

// Storage is what the orchestrator needs from persistence: the
// canonical store plus transactional event writes.
type Storage interface {
	storage.Store
	UpsertEmailWithEvent(ctx context.Context, email *unified.UnifiedEmail, natsSubject, eventType string, payload []byte, msgID string) error
	EnqueueEvent(ctx context.Context, natsSubject, eventType string, payload []byte, msgID string) error
}

// Summary reports what one pass did.
type Summary struct {
	EmailCount        int    `json:"emailCount"`
	Pages             int    `json:"pages"`
	ConflictsResolved int    `json:"conflictsResolved"`
	SkippedMalformed  int    `json:"skippedMalformed"`
	HasMore           bool   `json:"hasMore"`
	CursorToken       string `json:"cursorToken"`
}

// Orchestrator runs reconciliation passes for one (account, category)
// against one provider client. It is not safe for concurrent Run calls
// on the same value; the Manager serializes per key.
type Orchestrator struct {
	client   provider.Client
	store    Storage
	cursors  *syncstate.Store
	resolver *threadid.Resolver
	cache    *threadcache.Cache
	log      *zap.Logger

	PageSize int
	MaxPages int

	stateMu gosync.Mutex
	state   State
}

// NewOrchestrator wires a pass runner. cache may be nil.
func NewOrchestrator(client provider.Client, store Storage, cursors *syncstate.Store, resolver *threadid.Resolver, cache *threadcache.Cache, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		client:   client,
		store:    store,
		cursors:  cursors,
		resolver: resolver,
		cache:    cache,
		log:      log,
		PageSize: DefaultPageSize,
		MaxPages: DefaultMaxPages,
		state:    StateIdle,
	}
}

// State reports the current phase.
func (o *Orchestrator) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.stateMu.Lock()
	o.state = s
	o.stateMu.Unlock()
}

// Run executes one pass. The returned Summary is valid even on error:
// it reflects the pages committed before the failure. Cancellation is
// honored between pages, never inside one, so a canceled pass leaves
// the cursor at the last fully persisted page.
func (o *Orchestrator) Run(ctx context.Context, mode Mode, key syncstate.Key) (Summary, error) {
	var total Summary

	cursor, err := o.cursors.Get(ctx, key)
	if err != nil {
		o.setState(StateFailed)
		return total, fmt.Errorf("load cursor %s: %w", key, err)
	}

	token := cursor.CursorToken
	if mode == ModeFull {
		token = ""
	}

	started := time.Now()
	provName := o.client.Provider()
	o.log.Info("sync pass starting",
		zap.String("key", key.String()),
		zap.String("provider", string(provName)),
		zap.String("mode", string(mode)))

	for page := 1; page <= o.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			o.setState(StateIdle)
			return total, err
		}

		o.setState(StateFetching)
		fetched, err := o.client.FetchPage(ctx, key.AccountID, key.Category, token, o.PageSize)
		if err != nil {
			o.setState(StateFailed)
			return total, fmt.Errorf("fetch page %d: %w", page, err)
		}

		pageSummary, err := o.processPage(ctx, key, fetched.Items)
		if err != nil {
			o.setState(StateFailed)
			return total, fmt.Errorf("process page %d: %w", page, err)
		}

		pageSummary.Pages = page
		pageSummary.HasMore = fetched.HasMore
		pageSummary.CursorToken = fetched.NextCursor

		// The cursor only moves once everything on the page persisted
		if _, err := o.cursors.Commit(ctx, key, fetched.NextCursor, syncstate.PassSummary{
			CompletedAt:       time.Now(),
			EmailCount:        pageSummary.EmailCount,
			ConflictsResolved: pageSummary.ConflictsResolved,
			SkippedMalformed:  pageSummary.SkippedMalformed,
			Pages:             page,
			CursorToken:       fetched.NextCursor,
		}); err != nil {
			o.setState(StateFailed)
			return total, fmt.Errorf("commit cursor after page %d: %w", page, err)
		}

		token = fetched.NextCursor
		total.EmailCount += pageSummary.EmailCount
		total.ConflictsResolved += pageSummary.ConflictsResolved
		total.SkippedMalformed += pageSummary.SkippedMalformed
		total.Pages = page
		total.HasMore = fetched.HasMore
		total.CursorToken = fetched.NextCursor

		if !fetched.HasMore {
			break
		}
	}

	o.setState(StateIdle)
	o.emitSyncCompleted(ctx, key, total)
	o.log.Info("sync pass complete",
		zap.String("key", key.String()),
		zap.Int("emails", total.EmailCount),
		zap.Int("pages", total.Pages),
		zap.Int("conflicts", total.ConflictsResolved),
		zap.Int("skipped", total.SkippedMalformed),
		zap.Bool("hasMore", total.HasMore),
		zap.Duration("elapsed", time.Since(started)))
	return total, nil
}

// processPage maps, resolves, reconciles, and persists one page, then
// recomputes every thread the page touched. Malformed payloads are
// skipped; storage failures abort the page.
func (o *Orchestrator) processPage(ctx context.Context, key syncstate.Key, items []json.RawMessage) (Summary, error) {
	var sum Summary
	provName := o.client.Provider()

	folderCtx := string(key.Category)
	if key.Category.IsCustom() {
		folderCtx = key.Category.CustomName()
	}

	o.setState(StateReconciling)
	merged := make([]*unified.UnifiedEmail, 0, len(items))
	for _, raw := range items {
		email, err := mapper.ToUnifiedEmail(raw, provName, key.AccountID, folderCtx)
		if err != nil {
			if errors.Is(err, mapper.ErrMalformedPayload) {
				sum.SkippedMalformed++
				o.log.Warn("skipping malformed payload",
					zap.String("key", key.String()), zap.Error(err))
				continue
			}
			return sum, err
		}

		email.ThreadID = o.resolver.Resolve(ctx, email)

		existing, err := o.store.FindCanonicalEmail(ctx, provName, key.AccountID, email.ID)
		if err != nil {
			return sum, err
		}

		result := reconcile.Reconcile(email, existing)
		sum.ConflictsResolved += len(result.Conflicts)
		merged = append(merged, result.Merged)
	}

	o.setState(StatePersisting)
	touched := make(map[string]bool)
	for _, email := range merged {
		payload, msgID, err := o.emailEvent(key.AccountID, email)
		if err != nil {
			return sum, err
		}
		subject := events.Subject(key.AccountID, events.KindEmailUpserted)
		if err := o.store.UpsertEmailWithEvent(ctx, email, subject, events.KindEmailUpserted, payload, msgID); err != nil {
			return sum, err
		}
		sum.EmailCount++
		touched[email.ThreadID] = true
	}

	if err := o.recomputeThreads(ctx, key.AccountID, touched); err != nil {
		return sum, err
	}
	return sum, nil
}

// recomputeThreads re-derives the materialized view of every touched
// thread from its full member set.
func (o *Orchestrator) recomputeThreads(ctx context.Context, accountID string, touched map[string]bool) error {
	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, threadID := range ids {
		members, err := o.store.FindThreadMembers(ctx, threadID)
		if err != nil {
			return err
		}
		thread := unified.BuildThread(threadID, members)
		if thread == nil {
			// No members left; drop any stale cached view
			if o.cache != nil {
				o.cache.Invalidate(threadID)
			}
			continue
		}
		if err := o.store.UpsertThread(ctx, thread); err != nil {
			return err
		}
		if o.cache != nil {
			o.cache.PutThread(thread)
		}

		payload, msgID, err := o.threadEvent(accountID, thread)
		if err != nil {
			return err
		}
		subject := events.Subject(accountID, events.KindThreadUpdated)
		if err := o.store.EnqueueEvent(ctx, subject, events.KindThreadUpdated, payload, msgID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) emailEvent(accountID string, email *unified.UnifiedEmail) (payload []byte, msgID string, err error) {
	doc, err := json.Marshal(email)
	if err != nil {
		return nil, "", fmt.Errorf("encode email event: %w", err)
	}
	env := events.Envelope{
		EventID:   uuid.NewString(),
		Kind:      events.KindEmailUpserted,
		Provider:  email.SyncMeta.Provider,
		AccountID: accountID,
		EmittedAt: time.Now().UTC(),
		Payload:   doc,
	}
	payload, err = json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("encode event envelope: %w", err)
	}

	// Stable per state of the record: re-syncing an unchanged message
	// dedups in the outbox, a real change produces a fresh event
	msgID = fmt.Sprintf("%s|%s|%s|%s|%s",
		events.KindEmailUpserted, email.SyncMeta.Provider, accountID, email.ID, emailDigest(email))
	return payload, msgID, nil
}

// emailDigest hashes the record with its sync timestamp zeroed, so the
// digest only moves when the record's content does.
func emailDigest(email *unified.UnifiedEmail) string {
	clone := *email
	clone.SyncMeta.LastSynced = time.Time{}
	doc, err := json.Marshal(&clone)
	if err != nil {
		return uuid.NewString()
	}
	return contentDigest(doc)
}

func (o *Orchestrator) threadEvent(accountID string, thread *unified.UnifiedThread) (payload []byte, msgID string, err error) {
	doc, err := json.Marshal(thread)
	if err != nil {
		return nil, "", fmt.Errorf("encode thread event: %w", err)
	}
	env := events.Envelope{
		EventID:   uuid.NewString(),
		Kind:      events.KindThreadUpdated,
		Provider:  o.client.Provider(),
		AccountID: accountID,
		EmittedAt: time.Now().UTC(),
		Payload:   doc,
	}
	payload, err = json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("encode event envelope: %w", err)
	}
	msgID = fmt.Sprintf("%s|%s|%s|%s",
		events.KindThreadUpdated, accountID, thread.ThreadID, contentDigest(doc))
	return payload, msgID, nil
}

func (o *Orchestrator) emitSyncCompleted(ctx context.Context, key syncstate.Key, sum Summary) {
	doc, err := json.Marshal(sum)
	if err != nil {
		return
	}
	env := events.Envelope{
		EventID:   uuid.NewString(),
		Kind:      events.KindSyncCompleted,
		Provider:  o.client.Provider(),
		AccountID: key.AccountID,
		EmittedAt: time.Now().UTC(),
		Payload:   doc,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	msgID := fmt.Sprintf("%s|%s|%s", events.KindSyncCompleted, key.String(), env.EventID)
	subject := events.Subject(key.AccountID, events.KindSyncCompleted)
	if err := o.store.EnqueueEvent(ctx, subject, events.KindSyncCompleted, payload, msgID); err != nil {
		o.log.Warn("enqueue sync completed event",
			zap.String("key", key.String()), zap.Error(err))
	}
}

func contentDigest(doc []byte) string {
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:8])
}
