// Package gmail implements the provider client for Gmail over the
// official API. Messages are re-encoded to their wire JSON before
// leaving this package so the core only ever sees native payloads.
package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/bavit-uk/mailcore/internal/auth"
	"github.com/bavit-uk/mailcore/internal/provider"
	"github.com/bavit-uk/mailcore/internal/unified"
)

const (
	listPrefix    = "page:"
	historyPrefix = "hist:"
)

// Client fetches message pages from one Gmail mailbox.
type Client struct {
	svc *gmailapi.Service
}

// New creates a Gmail client from an OAuth token.
func New(ctx context.Context, tok *auth.Token) (*Client, error) {
	oauth2Token := &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	config := &oauth2.Config{
		Scopes: []string{gmailapi.GmailReadonlyScope},
	}
	httpClient := config.Client(ctx, oauth2Token)

	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create Gmail service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// Provider implements provider.Client.
func (c *Client) Provider() unified.Provider {
	return unified.ProviderGmail
}

// FetchPage implements provider.Client. Cursor forms:
//
//	""        full sync from the first list page
//	page:<t>  continue the full listing at page token t
//	hist:<id> incremental sync from history id
//
// The full listing ends by handing out a hist: cursor, so the next
// pass flips to incremental automatically.
func (c *Client) FetchPage(ctx context.Context, accountID string, cat unified.Category, cursor string, pageSize int) (*provider.Page, error) {
	switch {
	case strings.HasPrefix(cursor, historyPrefix):
		page, err := c.fetchHistory(ctx, cat, strings.TrimPrefix(cursor, historyPrefix), pageSize)
		if err != nil && isHistoryExpired(err) {
			// History too old for the API to replay; restart full
			return c.fetchList(ctx, cat, "", pageSize)
		}
		return page, err
	case strings.HasPrefix(cursor, listPrefix):
		return c.fetchList(ctx, cat, strings.TrimPrefix(cursor, listPrefix), pageSize)
	default:
		return c.fetchList(ctx, cat, "", pageSize)
	}
}

func (c *Client) fetchList(ctx context.Context, cat unified.Category, pageToken string, pageSize int) (*provider.Page, error) {
	call := c.svc.Users.Messages.List("me").
		IncludeSpamTrash(false).
		MaxResults(int64(pageSize)).
		Context(ctx)
	if label := labelFor(cat); label != "" {
		call = call.LabelIds(label)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	listed, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", provider.ErrUnavailable, err)
	}

	items := make([]json.RawMessage, 0, len(listed.Messages))
	for _, m := range listed.Messages {
		full, err := c.svc.Users.Messages.Get("me", m.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("%w: get message %s: %v", provider.ErrUnavailable, m.Id, err)
		}
		raw, err := json.Marshal(full)
		if err != nil {
			return nil, fmt.Errorf("encode message %s: %w", m.Id, err)
		}
		items = append(items, raw)
	}

	if listed.NextPageToken != "" {
		return &provider.Page{
			Items:      items,
			NextCursor: listPrefix + listed.NextPageToken,
			HasMore:    true,
		}, nil
	}

	// Listing exhausted; anchor the next pass on the current history id
	next := ""
	if profile, err := c.svc.Users.GetProfile("me").Context(ctx).Do(); err == nil && profile.HistoryId != 0 {
		next = historyPrefix + strconv.FormatUint(profile.HistoryId, 10)
	}
	return &provider.Page{Items: items, NextCursor: next, HasMore: false}, nil
}

func (c *Client) fetchHistory(ctx context.Context, cat unified.Category, cursor string, pageSize int) (*provider.Page, error) {
	startHistoryID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid history id in cursor: %w", err)
	}

	call := c.svc.Users.History.List("me").
		StartHistoryId(startHistoryID).
		MaxResults(int64(pageSize)).
		Context(ctx)
	if label := labelFor(cat); label != "" {
		call = call.LabelId(label)
	}

	listed, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("%w: list history: %v", provider.ErrUnavailable, err)
	}

	latest := startHistoryID
	seen := make(map[string]bool)
	var items []json.RawMessage

	for _, history := range listed.History {
		if history.Id > latest {
			latest = history.Id
		}
		for _, record := range history.MessagesAdded {
			msgID := record.Message.Id
			if seen[msgID] {
				continue
			}
			seen[msgID] = true

			full, err := c.svc.Users.Messages.Get("me", msgID).Format("full").Context(ctx).Do()
			if err != nil {
				return nil, fmt.Errorf("%w: get message %s: %v", provider.ErrUnavailable, msgID, err)
			}
			raw, err := json.Marshal(full)
			if err != nil {
				return nil, fmt.Errorf("encode message %s: %w", msgID, err)
			}
			items = append(items, raw)
		}
	}

	// The response HistoryId is the mailbox's current id, ahead of every
	// record on pages still to come. Fold it in only once the listing is
	// exhausted; while pages remain the cursor stays at the per-record
	// max so the next fetch re-covers the tail.
	if listed.NextPageToken == "" && listed.HistoryId > latest {
		latest = listed.HistoryId
	}

	return &provider.Page{
		Items:      items,
		NextCursor: historyPrefix + strconv.FormatUint(latest, 10),
		HasMore:    listed.NextPageToken != "",
	}, nil
}

// labelFor maps a universal category to the Gmail label id used to
// scope list calls; "" means no label filter.
func labelFor(cat unified.Category) string {
	switch cat {
	case unified.CategoryInbox:
		return "INBOX"
	case unified.CategorySent:
		return "SENT"
	case unified.CategoryDraft:
		return "DRAFT"
	case unified.CategoryTrash:
		return "TRASH"
	case unified.CategorySpam:
		return "SPAM"
	case unified.CategoryImportant:
		return "IMPORTANT"
	case unified.CategoryStarred:
		return "STARRED"
	case unified.CategorySocial:
		return "CATEGORY_SOCIAL"
	case unified.CategoryPromotions:
		return "CATEGORY_PROMOTIONS"
	case unified.CategoryUpdates:
		return "CATEGORY_UPDATES"
	case unified.CategoryForums:
		return "CATEGORY_FORUMS"
	case unified.CategoryPersonal:
		return "CATEGORY_PERSONAL"
	default:
		if cat.IsCustom() {
			return cat.CustomName()
		}
		return ""
	}
}

func isHistoryExpired(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "404") || strings.Contains(msg, "historyId")
}
