package mapper

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bavit-uk/mailcore/internal/category"
	"github.com/bavit-uk/mailcore/internal/unified"
)

// graphMessage mirrors the Microsoft Graph message resource.
type graphMessage struct {
	ID                     string           `json:"id"`
	ConversationID         string           `json:"conversationId"`
	InternetMessageID      string           `json:"internetMessageId"`
	ChangeKey              string           `json:"changeKey"`
	Subject                string           `json:"subject"`
	BodyPreview            string           `json:"bodyPreview"`
	Body                   *graphBody       `json:"body"`
	From                   *graphRecipient  `json:"from"`
	Sender                 *graphRecipient  `json:"sender"`
	ToRecipients           []graphRecipient `json:"toRecipients"`
	CcRecipients           []graphRecipient `json:"ccRecipients"`
	BccRecipients          []graphRecipient `json:"bccRecipients"`
	ReplyTo                []graphRecipient `json:"replyTo"`
	ReceivedDateTime       string           `json:"receivedDateTime"`
	SentDateTime           string           `json:"sentDateTime"`
	IsRead                 *bool            `json:"isRead"`
	IsDraft                bool             `json:"isDraft"`
	Importance             string           `json:"importance"`
	Flag                   *graphFlag       `json:"flag"`
	HasAttachments         bool             `json:"hasAttachments"`
	Attachments            []graphAttach    `json:"attachments"`
	Categories             []string         `json:"categories"`
	ParentFolderID         string           `json:"parentFolderId"`
	InternetMessageHeaders headerList       `json:"internetMessageHeaders"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphFlag struct {
	FlagStatus string `json:"flagStatus"`
}

type graphAttach struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type graphConversation struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
}

type outlookAdapter struct{}

func (outlookAdapter) parseEmail(raw json.RawMessage, accountID, folderCtx string) (*unified.UnifiedEmail, error) {
	var m graphMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, malformed(unified.ProviderOutlook, "not valid JSON")
	}
	if m.ID == "" {
		return nil, malformed(unified.ProviderOutlook, "missing id")
	}

	folder := folderCtx
	if folder == "" {
		folder = m.ParentFolderID
	}

	email := &unified.UnifiedEmail{
		ID:             m.ID,
		AccountID:      accountID,
		MessageID:      m.InternetMessageID,
		NativeThreadID: m.ConversationID,
		Subject:        m.Subject,
		Snippet:        m.BodyPreview,
		From:           fromRecipient(m.From, m.Sender),
		To:             toAddresses(m.ToRecipients),
		Cc:             toAddresses(m.CcRecipients),
		Bcc:            toAddresses(m.BccRecipients),
		ReplyTo:        toAddresses(m.ReplyTo),
		InReplyTo:      m.InternetMessageHeaders.get("In-Reply-To"),
		References:     splitReferences(m.InternetMessageHeaders.get("References")),
		Labels:         m.Categories,
		Category:       category.Classify(m.Categories, unified.ProviderOutlook, folder),
		IsDraft:        m.IsDraft,
		IsImportant:    strings.EqualFold(m.Importance, "high"),
		HasAttachments: m.HasAttachments,
	}

	// Graph omits isRead on some drafts; absent means read
	email.IsRead = m.IsRead == nil || *m.IsRead

	if m.Flag != nil && strings.EqualFold(m.Flag.FlagStatus, "flagged") {
		email.IsFlagged = true
	}
	email.IsSent = strings.EqualFold(folder, "sentitems") || email.Category == unified.CategorySent

	if ts, err := time.Parse(time.RFC3339, m.ReceivedDateTime); err == nil {
		email.ReceivedDate = ts.UTC()
	}
	if ts, err := time.Parse(time.RFC3339, m.SentDateTime); err == nil {
		email.SentDate = ts.UTC()
	}

	if m.Body != nil {
		if strings.EqualFold(m.Body.ContentType, "html") {
			email.BodyHTML = m.Body.Content
		} else {
			email.BodyText = m.Body.Content
		}
	}

	for _, a := range m.Attachments {
		email.Attachments = append(email.Attachments, unified.Attachment{
			ID:        a.ID,
			Filename:  a.Name,
			MimeType:  a.ContentType,
			SizeBytes: a.Size,
		})
	}
	email.SyncMeta.Version = m.ChangeKey

	return email, nil
}

func (outlookAdapter) parseThread(raw json.RawMessage) (*unified.UnifiedThread, error) {
	var c graphConversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, malformed(unified.ProviderOutlook, "conversation not valid JSON")
	}
	if c.ID == "" {
		return nil, malformed(unified.ProviderOutlook, "conversation missing id")
	}
	return &unified.UnifiedThread{
		ThreadID: c.ID,
		Subject:  c.Topic,
	}, nil
}

func fromRecipient(rs ...*graphRecipient) []unified.EmailAddress {
	for _, r := range rs {
		if r == nil || r.EmailAddress.Address == "" {
			continue
		}
		return []unified.EmailAddress{{
			Name:  r.EmailAddress.Name,
			Email: strings.ToLower(r.EmailAddress.Address),
		}}
	}
	return nil
}

func toAddresses(rs []graphRecipient) []unified.EmailAddress {
	var out []unified.EmailAddress
	for _, r := range rs {
		if r.EmailAddress.Address == "" {
			continue
		}
		out = append(out, unified.EmailAddress{
			Name:  r.EmailAddress.Name,
			Email: strings.ToLower(r.EmailAddress.Address),
		})
	}
	return out
}
