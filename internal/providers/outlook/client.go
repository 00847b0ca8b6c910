// Package outlook implements the provider client for Outlook mailboxes
// via Microsoft Graph. The SDK's typed models are flattened back into
// the Graph REST wire shape before leaving this package.
package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/bavit-uk/mailcore/internal/auth"
	"github.com/bavit-uk/mailcore/internal/provider"
	"github.com/bavit-uk/mailcore/internal/unified"
)

const (
	skipPrefix  = "skip:"
	sincePrefix = "since:"
)

var selectFields = []string{
	"id", "conversationId", "internetMessageId", "changeKey", "subject",
	"bodyPreview", "body", "from", "sender", "toRecipients", "ccRecipients",
	"bccRecipients", "replyTo", "receivedDateTime", "sentDateTime", "isRead",
	"isDraft", "importance", "flag", "hasAttachments", "categories",
	"parentFolderId", "internetMessageHeaders",
}

// Client fetches message pages from one Outlook mailbox.
type Client struct {
	client *msgraphsdk.GraphServiceClient
	userID string
}

// New creates an Outlook client from an OAuth token. userID is the
// Graph user principal the mailbox belongs to.
func New(tok *auth.Token, userID string) (*Client, error) {
	cred := &staticTokenCredential{token: tok.AccessToken}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{})
	if err != nil {
		return nil, fmt.Errorf("create Graph client: %w", err)
	}
	return &Client{client: client, userID: userID}, nil
}

// Provider implements provider.Client.
func (c *Client) Provider() unified.Provider {
	return unified.ProviderOutlook
}

// FetchPage implements provider.Client. Cursor forms:
//
//	""        full sync from the first page
//	skip:<n>  continue the full listing at offset n
//	since:<t> incremental sync of messages received at or after t
//
// The full listing finishes by handing out a since: cursor anchored on
// the newest message seen, flipping the next pass to incremental.
func (c *Client) FetchPage(ctx context.Context, accountID string, cat unified.Category, cursor string, pageSize int) (*provider.Page, error) {
	switch {
	case strings.HasPrefix(cursor, sincePrefix):
		return c.fetchSince(ctx, strings.TrimPrefix(cursor, sincePrefix), pageSize)
	case strings.HasPrefix(cursor, skipPrefix):
		skip, err := strconv.Atoi(strings.TrimPrefix(cursor, skipPrefix))
		if err != nil {
			return nil, fmt.Errorf("invalid offset in cursor: %w", err)
		}
		return c.fetchList(ctx, skip, pageSize)
	default:
		return c.fetchList(ctx, 0, pageSize)
	}
}

func (c *Client) fetchList(ctx context.Context, skip, pageSize int) (*provider.Page, error) {
	requestConfig := &users.ItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
			Top:     int32Ptr(int32(pageSize)),
			Skip:    int32Ptr(int32(skip)),
			Select:  selectFields,
			Orderby: []string{"receivedDateTime desc"},
		},
	}

	result, err := c.client.Users().ByUserId(c.userID).Messages().Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", provider.ErrUnavailable, err)
	}

	messages := result.GetValue()
	items, newest, err := encodeMessages(messages)
	if err != nil {
		return nil, err
	}

	if len(messages) == pageSize {
		return &provider.Page{
			Items:      items,
			NextCursor: skipPrefix + strconv.Itoa(skip+pageSize),
			HasMore:    true,
		}, nil
	}

	// Listing exhausted; anchor incremental passes on the newest
	// message seen, or on now for an empty mailbox
	anchor := time.Now().UTC()
	if !newest.IsZero() {
		anchor = newest
	}
	return &provider.Page{
		Items:      items,
		NextCursor: sincePrefix + anchor.Format(time.RFC3339),
		HasMore:    false,
	}, nil
}

func (c *Client) fetchSince(ctx context.Context, since string, pageSize int) (*provider.Page, error) {
	if _, err := time.Parse(time.RFC3339, since); err != nil {
		return nil, fmt.Errorf("invalid timestamp in cursor: %w", err)
	}

	requestConfig := &users.ItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
			Top:     int32Ptr(int32(pageSize)),
			Select:  selectFields,
			Filter:  stringPtr(fmt.Sprintf("receivedDateTime ge %s", since)),
			Orderby: []string{"receivedDateTime asc"},
		},
	}

	result, err := c.client.Users().ByUserId(c.userID).Messages().Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: sync messages: %v", provider.ErrUnavailable, err)
	}

	messages := result.GetValue()
	items, newest, err := encodeMessages(messages)
	if err != nil {
		return nil, err
	}

	// ge is inclusive, so the anchor message is re-fetched on the next
	// pass; reconciliation makes that a no-op
	next := sincePrefix + since
	if !newest.IsZero() {
		next = sincePrefix + newest.Format(time.RFC3339)
	}
	return &provider.Page{
		Items:      items,
		NextCursor: next,
		HasMore:    len(messages) == pageSize,
	}, nil
}

func encodeMessages(messages []models.Messageable) ([]json.RawMessage, time.Time, error) {
	var newest time.Time
	items := make([]json.RawMessage, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		if rcvd := m.GetReceivedDateTime(); rcvd != nil && rcvd.After(newest) {
			newest = rcvd.UTC()
		}
		raw, err := json.Marshal(graphToJSON(m))
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("encode message: %w", err)
		}
		items = append(items, raw)
	}
	return items, newest, nil
}

// graphToJSON flattens a typed SDK message back into the Graph REST
// shape so downstream parsing is provider-payload shaped, not SDK
// shaped.
func graphToJSON(m models.Messageable) map[string]any {
	out := map[string]any{}

	putStr := func(key string, v *string) {
		if v != nil {
			out[key] = *v
		}
	}
	putStr("id", m.GetId())
	putStr("conversationId", m.GetConversationId())
	putStr("internetMessageId", m.GetInternetMessageId())
	putStr("changeKey", m.GetChangeKey())
	putStr("subject", m.GetSubject())
	putStr("bodyPreview", m.GetBodyPreview())
	putStr("parentFolderId", m.GetParentFolderId())

	if v := m.GetIsRead(); v != nil {
		out["isRead"] = *v
	}
	if v := m.GetIsDraft(); v != nil {
		out["isDraft"] = *v
	}
	if v := m.GetHasAttachments(); v != nil {
		out["hasAttachments"] = *v
	}
	if v := m.GetImportance(); v != nil {
		out["importance"] = v.String()
	}
	if cats := m.GetCategories(); len(cats) > 0 {
		out["categories"] = cats
	}

	if body := m.GetBody(); body != nil {
		b := map[string]any{}
		if ct := body.GetContentType(); ct != nil {
			b["contentType"] = ct.String()
		}
		if content := body.GetContent(); content != nil {
			b["content"] = *content
		}
		out["body"] = b
	}

	if flag := m.GetFlag(); flag != nil {
		if status := flag.GetFlagStatus(); status != nil {
			out["flag"] = map[string]any{"flagStatus": status.String()}
		}
	}

	if from := recipientJSON(m.GetFrom()); from != nil {
		out["from"] = from
	}
	if sender := recipientJSON(m.GetSender()); sender != nil {
		out["sender"] = sender
	}
	out["toRecipients"] = recipientsJSON(m.GetToRecipients())
	out["ccRecipients"] = recipientsJSON(m.GetCcRecipients())
	out["bccRecipients"] = recipientsJSON(m.GetBccRecipients())
	out["replyTo"] = recipientsJSON(m.GetReplyTo())

	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		out["receivedDateTime"] = rcvd.UTC().Format(time.RFC3339)
	}
	if sent := m.GetSentDateTime(); sent != nil {
		out["sentDateTime"] = sent.UTC().Format(time.RFC3339)
	}

	var headers []map[string]string
	for _, h := range m.GetInternetMessageHeaders() {
		name, value := h.GetName(), h.GetValue()
		if name == nil || value == nil {
			continue
		}
		headers = append(headers, map[string]string{"name": *name, "value": *value})
	}
	if headers != nil {
		out["internetMessageHeaders"] = headers
	}

	return out
}

func recipientJSON(r models.Recipientable) map[string]any {
	if r == nil {
		return nil
	}
	addr := r.GetEmailAddress()
	if addr == nil || addr.GetAddress() == nil {
		return nil
	}
	email := map[string]any{"address": *addr.GetAddress()}
	if name := addr.GetName(); name != nil {
		email["name"] = *name
	}
	return map[string]any{"emailAddress": email}
}

func recipientsJSON(rs []models.Recipientable) []map[string]any {
	out := make([]map[string]any, 0, len(rs))
	for _, r := range rs {
		if j := recipientJSON(r); j != nil {
			out = append(out, j)
		}
	}
	return out
}

// staticTokenCredential adapts a bearer token to the Azure credential
// interface the Graph SDK expects.
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(1 * time.Hour),
	}, nil
}

func int32Ptr(i int32) *int32 { return &i }

func stringPtr(s string) *string { return &s }
