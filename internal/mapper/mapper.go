// Package mapper converts provider-native message and thread payloads
// into the canonical unified shape. Conversion is pure: identical
// input yields an identical record except for syncMeta.lastSynced, and
// nothing here touches storage or provider transports.
//
// Provider differences are isolated behind providerAdapter, one
// implementation per provider, selected once per payload. No other
// package inspects native payload shape.
package mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bavit-uk/mailcore/internal/unified"
)

// ErrMalformedPayload marks a native payload missing even the minimum
// structure (a provider id). The message is skipped, the page
// continues.
var ErrMalformedPayload = errors.New("malformed provider payload")

// providerAdapter extracts canonical fields from one provider's native
// JSON shape.
type providerAdapter interface {
	parseEmail(raw json.RawMessage, accountID, folderCtx string) (*unified.UnifiedEmail, error)
	parseThread(raw json.RawMessage) (*unified.UnifiedThread, error)
}

func adapterFor(provider unified.Provider) providerAdapter {
	switch provider {
	case unified.ProviderGmail:
		return gmailAdapter{}
	case unified.ProviderOutlook:
		return outlookAdapter{}
	default:
		return inboundAdapter{}
	}
}

// ToUnifiedEmail converts one native message payload. folderCtx is the
// provider folder the page was fetched from, "" when not applicable.
// The only error is ErrMalformedPayload; every other missing field is
// defaulted.
func ToUnifiedEmail(raw json.RawMessage, provider unified.Provider, accountID, folderCtx string) (*unified.UnifiedEmail, error) {
	email, err := adapterFor(provider).parseEmail(raw, accountID, folderCtx)
	if err != nil {
		return nil, err
	}

	if email.MessageID == "" {
		email.MessageID = email.ID
	}
	if email.Subject == "" {
		email.Subject = unified.NoSubject
	}
	if email.SentDate.IsZero() {
		email.SentDate = email.ReceivedDate
	}
	email.HasAttachments = email.HasAttachments || len(email.Attachments) > 0

	email.SyncMeta.Provider = provider
	email.SyncMeta.LastSynced = time.Now().UTC()
	return email, nil
}

// ToUnifiedThread converts a native thread/conversation payload. When
// members are supplied the aggregates are derived from them, keeping
// the native conversation identity; otherwise only the identity and
// subject survive.
func ToUnifiedThread(raw json.RawMessage, provider unified.Provider, members []*unified.UnifiedEmail) (*unified.UnifiedThread, error) {
	thread, err := adapterFor(provider).parseThread(raw)
	if err != nil {
		return nil, err
	}

	if len(members) > 0 {
		derived := unified.BuildThread(thread.ThreadID, members)
		if thread.Subject != "" {
			derived.Subject = thread.Subject
		}
		return derived, nil
	}
	return thread, nil
}

// headerList is the {name, value} header array shape Gmail and Graph
// share.
type headerList []struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (h headerList) get(name string) string {
	for _, kv := range h {
		if strings.EqualFold(kv.Name, name) {
			return kv.Value
		}
	}
	return ""
}

func malformed(provider unified.Provider, detail string) error {
	return fmt.Errorf("%w: %s payload %s", ErrMalformedPayload, provider, detail)
}
