package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/dedupe"
	"github.com/MikeSquared-Agency/scribe/internal/dialogue"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

const handleTimeout = 30 * time.Second

// Persister stores formatted conversations.
type Persister interface {
	WriteConversation(ctx context.Context, in store.ConversationInput) (uuid.UUID, error)
}

// Publisher sends events to the bus.
type Publisher interface {
	Publish(subject string, data any) error
}

// Processor turns submitted transcripts into conversation records.
type Processor struct {
	store  Persister
	pub    Publisher
	guard  dedupe.Guard
	logger *slog.Logger
}

// New creates a Processor. store and guard may be nil.
func New(s Persister, pub Publisher, guard dedupe.Guard, logger *slog.Logger) *Processor {
	return &Processor{
		store:  s,
		pub:    pub,
		guard:  guard,
		logger: logger,
	}
}

// HandleTranscriptSubmitted is the NATS handler for swarm.scribe.transcript.submitted.
func (p *Processor) HandleTranscriptSubmitted(subject string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	var evt hermes.TranscriptEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse transcript event", "error", err)
		return
	}
	if evt.AssistantSpeaker == "" {
		p.logger.Warn("transcript event without assistant speaker, skipping",
			"transcript_id", evt.TranscriptID,
			"source_ref", evt.SourceRef,
		)
		return
	}

	claimed := false
	if p.guard != nil && evt.TranscriptID != "" {
		fresh, err := p.guard.Claim(ctx, evt.TranscriptID)
		if err != nil {
			// Proceed unguarded.
			p.logger.Warn("dedupe claim failed", "transcript_id", evt.TranscriptID, "error", err)
		} else if !fresh {
			p.logger.Info("duplicate transcript, skipping", "transcript_id", evt.TranscriptID)
			return
		}
		claimed = err == nil
	}
	// A failed attempt must not block a redelivery of the same transcript.
	release := func() {
		if !claimed {
			return
		}
		if err := p.guard.Release(ctx, evt.TranscriptID); err != nil {
			p.logger.Warn("dedupe release failed", "transcript_id", evt.TranscriptID, "error", err)
		}
	}

	p.logger.Info("processing transcript",
		"transcript_id", evt.TranscriptID,
		"source_ref", evt.SourceRef,
		"assistant_speaker", evt.AssistantSpeaker,
	)

	conv := dialogue.Process(evt.Text, evt.AssistantSpeaker, evt.SystemContext)

	out := hermes.FormattedEvent{
		TranscriptID: evt.TranscriptID,
		SourceRef:    evt.SourceRef,
		Speakers:     conv.Speakers(),
		Messages:     conv.Messages,
	}

	if p.store != nil {
		id, err := p.store.WriteConversation(ctx, store.ConversationInput{
			SourceRef:        evt.SourceRef,
			AssistantSpeaker: evt.AssistantSpeaker,
			Conversation:     conv,
		})
		if err != nil {
			p.logger.Error("persistence failed", "transcript_id", evt.TranscriptID, "error", err)
			release()
			return
		}
		out.ConversationID = id.String()
	}

	if err := p.pub.Publish(hermes.SubjectConversationFormatted, out); err != nil {
		p.logger.Error("failed to publish formatted conversation", "transcript_id", evt.TranscriptID, "error", err)
		release()
		return
	}

	p.logger.Info("transcript processed",
		"transcript_id", evt.TranscriptID,
		"conversation_id", out.ConversationID,
		"messages", len(conv.Messages),
		"speakers", len(out.Speakers),
	)
}
