package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/scribe/internal/dialogue"
)

// ConversationInput is a formatted conversation plus where it came from.
type ConversationInput struct {
	SourceRef        string
	AssistantSpeaker string
	Conversation     dialogue.Conversation
}

// ConversationRow is a stored conversation with its messages in order.
type ConversationRow struct {
	ID               uuid.UUID          `json:"id"`
	SourceRef        string             `json:"source_ref"`
	AssistantSpeaker string             `json:"assistant_speaker"`
	Speakers         []string           `json:"speakers"`
	CreatedAt        time.Time          `json:"created_at"`
	Messages         []dialogue.Message `json:"messages"`
}

// WriteConversation stores a conversation and its messages in one transaction.
func (s *Store) WriteConversation(ctx context.Context, in ConversationInput) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	id := uuid.New()
	speakers := in.Conversation.Speakers()
	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, source_ref, assistant_speaker, speakers, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		id, in.SourceRef, in.AssistantSpeaker, speakers,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert conversation: %w", err)
	}

	batch := &pgx.Batch{}
	for i, m := range in.Conversation.Messages {
		batch.Queue(`
			INSERT INTO conversation_messages (id, conversation_id, position, role, content)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), id, i, string(m.Role), m.Content,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return uuid.Nil, fmt.Errorf("insert messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// GetConversation fetches a conversation by ID. It returns ErrNotFound when
// no such conversation exists.
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*ConversationRow, error) {
	var c ConversationRow
	err := s.pool.QueryRow(ctx, `
		SELECT id, source_ref, assistant_speaker, speakers, created_at
		FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.SourceRef, &c.AssistantSpeaker, &c.Speakers, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT role, content FROM conversation_messages
		WHERE conversation_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		c.Messages = append(c.Messages, dialogue.Message{Role: dialogue.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return &c, nil
}
