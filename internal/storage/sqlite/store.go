// Package sqlite persists canonical records, sync cursors and the
// event outbox in one embedded database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bavit-uk/mailcore/internal/syncstate"
	"github.com/bavit-uk/mailcore/internal/threadid"
	"github.com/bavit-uk/mailcore/internal/unified"
)

//go:embed schema.sql
var schemaSQL string

// Store implements the storage boundary plus cursor checkpointing and
// the transactional outbox.
type Store struct {
	DB *sql.DB
}

// OutboxMessage is one undelivered event row.
type OutboxMessage struct {
	ID      int64
	Subject string
	Payload []byte
	MsgID   string
}

// Open opens or creates the database at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{DB: db}, nil
}

// OpenMemory opens a throwaway in-memory database, used by tests. The
// pool is pinned to one connection so the database survives for the
// store's lifetime and stays isolated from other open stores.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

// FindCanonicalEmail returns the stored record for the identity tuple,
// or (nil, nil) when none exists.
func (s *Store) FindCanonicalEmail(ctx context.Context, provider unified.Provider, accountID, nativeID string) (*unified.UnifiedEmail, error) {
	var doc string
	err := s.DB.QueryRowContext(ctx, `
		SELECT doc FROM canonical_emails
		WHERE provider = ? AND account_id = ? AND native_id = ?
	`, string(provider), accountID, nativeID).Scan(&doc)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query canonical email: %w", err)
	}
	return decodeEmail(doc)
}

// UpsertCanonicalEmail inserts or replaces the record for its identity
// tuple; re-ingestion of the same tuple never duplicates.
func (s *Store) UpsertCanonicalEmail(ctx context.Context, email *unified.UnifiedEmail) error {
	return s.upsertEmail(ctx, s.DB, email)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsertEmail(ctx context.Context, db execer, email *unified.UnifiedEmail) error {
	doc, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("encode canonical email: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO canonical_emails
			(provider, account_id, native_id, thread_id, clean_subject, from_email, received_at, doc, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, account_id, native_id) DO UPDATE SET
			thread_id = excluded.thread_id,
			clean_subject = excluded.clean_subject,
			from_email = excluded.from_email,
			received_at = excluded.received_at,
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`, string(email.SyncMeta.Provider), email.AccountID, email.ID,
		email.ThreadID, threadid.CleanSubject(email.Subject), email.SenderEmail(),
		email.ReceivedDate.Unix(), string(doc), time.Now().Unix())

	if err != nil {
		return fmt.Errorf("upsert canonical email: %w", err)
	}
	return nil
}

// FindThreadMembers returns every canonical email sharing threadID,
// ordered by received date.
func (s *Store) FindThreadMembers(ctx context.Context, threadID string) ([]*unified.UnifiedEmail, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT doc FROM canonical_emails
		WHERE thread_id = ?
		ORDER BY received_at, native_id
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query thread members: %w", err)
	}
	defer rows.Close()

	var members []*unified.UnifiedEmail
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan thread member: %w", err)
		}
		email, err := decodeEmail(doc)
		if err != nil {
			return nil, err
		}
		members = append(members, email)
	}
	return members, rows.Err()
}

// UpsertThread inserts or replaces the materialized thread view.
func (s *Store) UpsertThread(ctx context.Context, thread *unified.UnifiedThread) error {
	doc, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("encode thread: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO canonical_threads (thread_id, subject, doc, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			subject = excluded.subject,
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`, thread.ThreadID, thread.Subject, string(doc), time.Now().Unix())

	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}
	return nil
}

// FindThreadByCleanSubjectAndSender locates the thread of the earliest
// stored email matching the clean subject + sender pair, or (nil, nil).
func (s *Store) FindThreadByCleanSubjectAndSender(ctx context.Context, cleanSubject, senderEmail string) (*unified.UnifiedThread, error) {
	var threadID string
	err := s.DB.QueryRowContext(ctx, `
		SELECT thread_id FROM canonical_emails
		WHERE clean_subject = ? AND from_email = ?
		ORDER BY received_at, native_id
		LIMIT 1
	`, cleanSubject, senderEmail).Scan(&threadID)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query thread by subject and sender: %w", err)
	}

	thread, err := s.findThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread != nil {
		return thread, nil
	}

	// The members exist but the view was never materialized; derive it.
	members, err := s.FindThreadMembers(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return unified.BuildThread(threadID, members), nil
}

// FindThread returns the materialized thread view, or (nil, nil).
func (s *Store) FindThread(ctx context.Context, threadID string) (*unified.UnifiedThread, error) {
	return s.findThread(ctx, threadID)
}

func (s *Store) findThread(ctx context.Context, threadID string) (*unified.UnifiedThread, error) {
	var doc string
	err := s.DB.QueryRowContext(ctx, `
		SELECT doc FROM canonical_threads WHERE thread_id = ?
	`, threadID).Scan(&doc)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query thread: %w", err)
	}

	var thread unified.UnifiedThread
	if err := json.Unmarshal([]byte(doc), &thread); err != nil {
		return nil, fmt.Errorf("decode thread: %w", err)
	}
	return &thread, nil
}

// UpsertEmailWithEvent writes the canonical record and its outbox event
// in one transaction, so the event exists exactly when the record does.
// A duplicate msgID leaves the outbox untouched.
func (s *Store) UpsertEmailWithEvent(ctx context.Context, email *unified.UnifiedEmail, natsSubject, eventType string, payload []byte, msgID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := s.upsertEmail(ctx, tx, email); err != nil {
		_ = tx.Rollback()
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, time.Now().Unix(), natsSubject, eventType, payload, msgID, time.Now().Unix())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert outbox entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// EnqueueEvent appends a standalone outbox event, for events not tied
// to a single canonical record write. A duplicate msgID is a no-op.
func (s *Store) EnqueueEvent(ctx context.Context, natsSubject, eventType string, payload []byte, msgID string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, time.Now().Unix(), natsSubject, eventType, payload, msgID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// DequeueOutbox fetches undelivered events whose next attempt is due.
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, subject, payload, msg_id
		FROM outbox
		WHERE published_at IS NULL
		  AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`, time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.Subject, &msg.Payload, &msg.MsgID); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkPublished records successful delivery of an outbox event.
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE outbox SET published_at = ? WHERE id = ?
	`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// MarkOutboxRetry schedules another delivery attempt after backoff.
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE outbox
		SET retries = retries + 1,
		    next_attempt_at = ?
		WHERE id = ?
	`, time.Now().Add(backoff).Unix(), id)
	if err != nil {
		return fmt.Errorf("mark outbox retry: %w", err)
	}
	return nil
}

// LoadCursor implements syncstate.Checkpointer.
func (s *Store) LoadCursor(ctx context.Context, accountID string, category unified.Category) (*syncstate.Cursor, error) {
	var (
		cursor       string
		lastSyncedAt int64
		total        int64
		historyJSON  string
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT cursor, last_synced_at, conflicts_total, history_json
		FROM sync_cursors
		WHERE account_id = ? AND category = ?
	`, accountID, string(category)).Scan(&cursor, &lastSyncedAt, &total, &historyJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}

	out := &syncstate.Cursor{
		Key:                    syncstate.Key{AccountID: accountID, Category: category},
		CursorToken:            cursor,
		ConflictsResolvedTotal: total,
	}
	if lastSyncedAt > 0 {
		out.LastSyncedAt = time.Unix(lastSyncedAt, 0).UTC()
	}
	if err := json.Unmarshal([]byte(historyJSON), &out.History); err != nil {
		return nil, fmt.Errorf("decode cursor history: %w", err)
	}
	return out, nil
}

// SaveCursor implements syncstate.Checkpointer.
func (s *Store) SaveCursor(ctx context.Context, cursor syncstate.Cursor) error {
	historyJSON, err := json.Marshal(cursor.History)
	if err != nil {
		return fmt.Errorf("encode cursor history: %w", err)
	}
	if cursor.History == nil {
		historyJSON = []byte("[]")
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO sync_cursors (account_id, category, cursor, last_synced_at, conflicts_total, history_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, category) DO UPDATE SET
			cursor = excluded.cursor,
			last_synced_at = excluded.last_synced_at,
			conflicts_total = excluded.conflicts_total,
			history_json = excluded.history_json,
			updated_at = excluded.updated_at
	`, cursor.Key.AccountID, string(cursor.Key.Category), cursor.CursorToken,
		cursor.LastSyncedAt.Unix(), cursor.ConflictsResolvedTotal, string(historyJSON), time.Now().Unix())

	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func decodeEmail(doc string) (*unified.UnifiedEmail, error) {
	var email unified.UnifiedEmail
	if err := json.Unmarshal([]byte(doc), &email); err != nil {
		return nil, fmt.Errorf("decode canonical email: %w", err)
	}
	return &email, nil
}
