// Package provider defines the transport boundary to external mailbox
// systems. Clients return provider-native JSON payloads; only the
// mapper may interpret their shape.
package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bavit-uk/mailcore/internal/unified"
)

// ErrUnavailable wraps transport-level failures reaching a provider.
// The scheduler retries these with backoff.
var ErrUnavailable = errors.New("provider unavailable")

// Page is one fetched page of native payloads. NextCursor is an opaque
// token a later fetch passes back to resume where this one left off.
type Page struct {
	Items      []json.RawMessage
	NextCursor string
	HasMore    bool
}

// Client fetches pages of native message payloads for one provider.
// An empty cursor requests a full sync from the beginning.
type Client interface {
	Provider() unified.Provider
	FetchPage(ctx context.Context, accountID string, category unified.Category, cursor string, pageSize int) (*Page, error)
}
