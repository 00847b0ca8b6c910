// Package storage defines the persistence boundary consumed by the
// sync engine. Lookups return (nil, nil) when nothing matches.
package storage

import (
	"context"
	"errors"

	"github.com/bavit-uk/mailcore/internal/unified"
)

// ErrUnavailable wraps persistence-layer failures. A failure during a
// page's persist step aborts that page wholesale; the cursor stays at
// its pre-page value so the page retries.
var ErrUnavailable = errors.New("storage unavailable")

// Store is the canonical-record persistence boundary.
type Store interface {
	FindCanonicalEmail(ctx context.Context, provider unified.Provider, accountID, nativeID string) (*unified.UnifiedEmail, error)
	UpsertCanonicalEmail(ctx context.Context, email *unified.UnifiedEmail) error
	FindThreadMembers(ctx context.Context, threadID string) ([]*unified.UnifiedEmail, error)
	UpsertThread(ctx context.Context, thread *unified.UnifiedThread) error

	// FindThreadByCleanSubjectAndSender backs the reply-subject
	// correction step of thread identity resolution.
	FindThreadByCleanSubjectAndSender(ctx context.Context, cleanSubject, senderEmail string) (*unified.UnifiedThread, error)
}
