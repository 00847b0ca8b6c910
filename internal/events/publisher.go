// Package events publishes mail change events to NATS JetStream.
// Events originate from the transactional outbox, so the stream's
// MsgId-based deduplication is what makes redelivery after a crash
// harmless.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bavit-uk/mailcore/internal/unified"
)

// StreamName is the JetStream stream carrying mail events.
const StreamName = "MAIL_EVENTS"

// Event kinds carried on the stream.
const (
	KindEmailUpserted = "email.upserted"
	KindThreadUpdated = "thread.updated"
	KindSyncCompleted = "sync.completed"
)

// Envelope is the wire form of every published event.
type Envelope struct {
	EventID   string           `json:"eventId"`
	Kind      string           `json:"kind"`
	Provider  unified.Provider `json:"provider"`
	AccountID string           `json:"accountId"`
	EmittedAt time.Time        `json:"emittedAt"`
	Payload   json.RawMessage  `json:"payload"`
}

// Publisher wraps NATS JetStream for publishing mail events.
type Publisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewPublisher connects to NATS and prepares a JetStream context.
func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}

	return &Publisher{nc: nc, js: js}, nil
}

// EnsureStream creates the mail events stream if it does not exist.
// The duplicates window must stay longer than the outbox retry backoff
// or redelivered events would double-publish.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	streamInfo, err := p.js.StreamInfo(StreamName)
	if err == nil && streamInfo != nil {
		return nil
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{"mail.*.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     30 * 24 * time.Hour,
	})
	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse || err.Error() == "stream name already in use" {
			return nil
		}
		return fmt.Errorf("create stream: %w", err)
	}

	return nil
}

// Subject builds the stream subject for an event, e.g.
// mail.acct-1.email.upserted.
func Subject(accountID, kind string) string {
	return fmt.Sprintf("mail.%s.%s", accountID, kind)
}

// Publish publishes an event payload with MsgId deduplication. msgID
// must be stable across retries of the same logical event.
func (p *Publisher) Publish(subject string, payload []byte, msgID string) error {
	_, err := p.js.Publish(subject, payload, nats.MsgId(msgID))
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
