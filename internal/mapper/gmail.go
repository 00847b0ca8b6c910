package mapper

import (
	"encoding/base64"
	"encoding/json"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/bavit-uk/mailcore/internal/address"
	"github.com/bavit-uk/mailcore/internal/category"
	"github.com/bavit-uk/mailcore/internal/unified"
)

// gmailMessage mirrors the Gmail API message resource as served on the
// wire; int64 values arrive as strings.
type gmailMessage struct {
	ID           string        `json:"id"`
	ThreadID     string        `json:"threadId"`
	LabelIDs     []string      `json:"labelIds"`
	Snippet      string        `json:"snippet"`
	HistoryID    string        `json:"historyId"`
	InternalDate string        `json:"internalDate"`
	Payload      *gmailPart    `json:"payload"`
	SizeEstimate int64         `json:"sizeEstimate"`
}

type gmailPart struct {
	PartID   string      `json:"partId"`
	MimeType string      `json:"mimeType"`
	Filename string      `json:"filename"`
	Headers  headerList  `json:"headers"`
	Body     *gmailBody  `json:"body"`
	Parts    []gmailPart `json:"parts"`
}

type gmailBody struct {
	AttachmentID string `json:"attachmentId"`
	Size         int64  `json:"size"`
	Data         string `json:"data"`
}

type gmailThread struct {
	ID       string            `json:"id"`
	Snippet  string            `json:"snippet"`
	Messages []json.RawMessage `json:"messages"`
}

type gmailAdapter struct{}

func (gmailAdapter) parseEmail(raw json.RawMessage, accountID, folderCtx string) (*unified.UnifiedEmail, error) {
	var m gmailMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, malformed(unified.ProviderGmail, "not valid JSON")
	}
	if m.ID == "" {
		return nil, malformed(unified.ProviderGmail, "missing id")
	}

	var headers headerList
	if m.Payload != nil {
		headers = m.Payload.Headers
	}

	email := &unified.UnifiedEmail{
		ID:             m.ID,
		AccountID:      accountID,
		MessageID:      headers.get("Message-ID"),
		NativeThreadID: m.ThreadID,
		Subject:        headers.get("Subject"),
		Snippet:        m.Snippet,
		From:           address.ParseList(headers.get("From")),
		To:             address.ParseList(headers.get("To")),
		Cc:             address.ParseList(headers.get("Cc")),
		Bcc:            address.ParseList(headers.get("Bcc")),
		ReplyTo:        address.ParseList(headers.get("Reply-To")),
		InReplyTo:      headers.get("In-Reply-To"),
		References:     splitReferences(headers.get("References")),
		Labels:         m.LabelIDs,
		Category:       category.Classify(m.LabelIDs, unified.ProviderGmail, folderCtx),
	}

	if ms, err := strconv.ParseInt(m.InternalDate, 10, 64); err == nil && ms > 0 {
		email.ReceivedDate = time.UnixMilli(ms).UTC()
	}
	if sent, err := mail.ParseDate(headers.get("Date")); err == nil {
		email.SentDate = sent.UTC()
	}

	for _, l := range m.LabelIDs {
		switch strings.ToUpper(l) {
		case "UNREAD":
			// read state is the absence of UNREAD
		case "DRAFT":
			email.IsDraft = true
		case "SENT":
			email.IsSent = true
		case "IMPORTANT":
			email.IsImportant = true
		case "STARRED":
			email.IsFlagged = true
		}
	}
	email.IsRead = !hasLabel(m.LabelIDs, "UNREAD")

	if m.Payload != nil {
		text, html := gmailBodies(m.Payload)
		email.BodyText = text
		email.BodyHTML = html
		email.Attachments = gmailAttachments(m.Payload)
	}
	email.SyncMeta.Version = m.HistoryID

	return email, nil
}

func (gmailAdapter) parseThread(raw json.RawMessage) (*unified.UnifiedThread, error) {
	var t gmailThread
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, malformed(unified.ProviderGmail, "thread not valid JSON")
	}
	if t.ID == "" {
		return nil, malformed(unified.ProviderGmail, "thread missing id")
	}
	return &unified.UnifiedThread{
		ThreadID:     t.ID,
		MessageCount: len(t.Messages),
	}, nil
}

// gmailBodies walks the MIME tree collecting the first text/plain and
// text/html leaves.
func gmailBodies(p *gmailPart) (text, html string) {
	var walk func(part *gmailPart)
	walk = func(part *gmailPart) {
		if part == nil {
			return
		}
		if part.Filename == "" && part.Body != nil && part.Body.Data != "" {
			decoded := decodeBase64URL(part.Body.Data)
			switch {
			case strings.HasPrefix(part.MimeType, "text/plain") && text == "":
				text = decoded
			case strings.HasPrefix(part.MimeType, "text/html") && html == "":
				html = decoded
			}
		}
		for i := range part.Parts {
			walk(&part.Parts[i])
		}
	}
	walk(p)
	return text, html
}

func gmailAttachments(p *gmailPart) []unified.Attachment {
	var out []unified.Attachment
	var walk func(part *gmailPart)
	walk = func(part *gmailPart) {
		if part == nil {
			return
		}
		if part.Filename != "" && part.Body != nil {
			out = append(out, unified.Attachment{
				ID:        part.Body.AttachmentID,
				Filename:  part.Filename,
				MimeType:  part.MimeType,
				SizeBytes: part.Body.Size,
			})
		}
		for i := range part.Parts {
			walk(&part.Parts[i])
		}
	}
	walk(p)
	return out
}

func decodeBase64URL(data string) string {
	if b, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(data, "=")); err == nil {
		return string(b)
	}
	return ""
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, want) {
			return true
		}
	}
	return false
}

// splitReferences splits a References header into its message-id
// entries; entries are whitespace separated.
func splitReferences(refs string) []string {
	fields := strings.Fields(refs)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
