package mapper

import (
	"encoding/json"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/bavit-uk/mailcore/internal/address"
	"github.com/bavit-uk/mailcore/internal/category"
	"github.com/bavit-uk/mailcore/internal/unified"
)

// inboundMessage is the webhook notification payload for the inbound
// channel. Address fields are free-form header strings; timestamp is
// either unix seconds or RFC 3339.
type inboundMessage struct {
	MessageID   string            `json:"messageId"`
	ThreadID    string            `json:"threadId"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Cc          string            `json:"cc"`
	Bcc         string            `json:"bcc"`
	ReplyTo     string            `json:"replyTo"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text"`
	HTML        string            `json:"html"`
	Snippet     string            `json:"snippet"`
	Headers     map[string]string `json:"headers"`
	Folder      string            `json:"folder"`
	Timestamp   json.RawMessage   `json:"timestamp"`
	Attachments []struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
		Type     string `json:"type"`
		Size     int64  `json:"size"`
	} `json:"attachments"`
}

type inboundAdapter struct{}

func (inboundAdapter) parseEmail(raw json.RawMessage, accountID, folderCtx string) (*unified.UnifiedEmail, error) {
	var m inboundMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, malformed(unified.ProviderInbound, "not valid JSON")
	}
	if m.MessageID == "" {
		return nil, malformed(unified.ProviderInbound, "missing messageId")
	}

	folder := folderCtx
	if folder == "" {
		folder = m.Folder
	}

	email := &unified.UnifiedEmail{
		ID:             m.MessageID,
		AccountID:      accountID,
		MessageID:      headerOr(m.Headers, "Message-ID", m.MessageID),
		NativeThreadID: m.ThreadID,
		Subject:        m.Subject,
		BodyText:       m.Text,
		BodyHTML:       m.HTML,
		Snippet:        m.Snippet,
		From:           address.ParseList(m.From),
		To:             address.ParseList(m.To),
		Cc:             address.ParseList(m.Cc),
		Bcc:            address.ParseList(m.Bcc),
		ReplyTo:        address.ParseList(m.ReplyTo),
		InReplyTo:      headerOr(m.Headers, "In-Reply-To", ""),
		References:     splitReferences(headerOr(m.Headers, "References", "")),
		Category:       category.Classify(nil, unified.ProviderInbound, folder),
		ReceivedDate:   parseInboundTimestamp(m.Timestamp),
	}

	if sent, err := mail.ParseDate(headerOr(m.Headers, "Date", "")); err == nil {
		email.SentDate = sent.UTC()
	}

	for _, a := range m.Attachments {
		email.Attachments = append(email.Attachments, unified.Attachment{
			ID:        a.ID,
			Filename:  a.Filename,
			MimeType:  a.Type,
			SizeBytes: a.Size,
		})
	}

	return email, nil
}

func (inboundAdapter) parseThread(raw json.RawMessage) (*unified.UnifiedThread, error) {
	var t struct {
		ThreadID string `json:"threadId"`
		Subject  string `json:"subject"`
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, malformed(unified.ProviderInbound, "thread not valid JSON")
	}
	if t.ThreadID == "" {
		return nil, malformed(unified.ProviderInbound, "thread missing threadId")
	}
	return &unified.UnifiedThread{ThreadID: t.ThreadID, Subject: t.Subject}, nil
}

func headerOr(headers map[string]string, name, fallback string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	// header names on the wire vary in case
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return fallback
}

func parseInboundTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if ts, err := time.Parse(time.RFC3339, asString); err == nil {
			return ts.UTC()
		}
		if secs, err := strconv.ParseInt(asString, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC()
		}
		return time.Time{}
	}

	var asNumber int64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return time.Unix(asNumber, 0).UTC()
	}
	return time.Time{}
}
