package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MikeSquared-Agency/scribe/internal/dialogue"
)

const (
	// SubjectTranscriptSubmitted carries diarized transcripts to be formatted.
	SubjectTranscriptSubmitted = "swarm.scribe.transcript.submitted"
	// SubjectConversationFormatted announces a formatted conversation record.
	SubjectConversationFormatted = "swarm.scribe.conversation.formatted"
	// SubjectRegistered is published once on startup.
	SubjectRegistered = "swarm.agent.scribe.registered"
)

// TranscriptEvent is the payload of SubjectTranscriptSubmitted.
type TranscriptEvent struct {
	TranscriptID     string `json:"transcript_id"`
	SourceRef        string `json:"source_ref"`
	Text             string `json:"text"`
	AssistantSpeaker string `json:"assistant_speaker"`
	SystemContext    string `json:"system_context,omitempty"`
}

// FormattedEvent is the payload of SubjectConversationFormatted.
// ConversationID is empty when the record was not persisted.
type FormattedEvent struct {
	TranscriptID   string             `json:"transcript_id"`
	ConversationID string             `json:"conversation_id,omitempty"`
	SourceRef      string             `json:"source_ref"`
	Speakers       []string           `json:"speakers"`
	Messages       []dialogue.Message `json:"messages"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("scribe"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Close unsubscribes everything and closes the connection.
func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
