package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crm-res/outreach-api/internal/model"
)

type conversationRepository struct {
	BaseRepository
}

func NewConversationRepository(base BaseRepository) *conversationRepository {
	return &conversationRepository{BaseRepository: base}
}

const conversationColumns = `
	id, customer_id, restaurant_id, campaign_id, status, type, ai_confidence,
	started_at, last_activity_at, escalated_at, resolved_at,
	created_at, updated_at, deleted_at
`

func (r *conversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	query := `
		INSERT INTO conversations (
			id, customer_id, restaurant_id, campaign_id, status, type,
			ai_confidence, started_at, last_activity_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	conv.ID = uuid.New()
	conv.CreatedAt = time.Now()
	conv.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		conv.ID,
		conv.CustomerID,
		conv.RestaurantID,
		conv.CampaignID,
		conv.Status,
		conv.Type,
		conv.AIConfidence,
		conv.StartedAt,
		conv.LastActivityAt,
		conv.CreatedAt,
		conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (r *conversationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

func (r *conversationRepository) Update(ctx context.Context, conv *model.Conversation) error {
	query := `
		UPDATE conversations
		SET status = $1, ai_confidence = $2, last_activity_at = $3,
			escalated_at = $4, resolved_at = $5, updated_at = $6
		WHERE id = $7
	`
	conv.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		conv.Status,
		conv.AIConfidence,
		conv.LastActivityAt,
		conv.EscalatedAt,
		conv.ResolvedAt,
		conv.UpdatedAt,
		conv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("conversation not found")
	}

	return nil
}

func (r *conversationRepository) AddMessage(ctx context.Context, msg *model.ConversationMessage) error {
	query := `
		INSERT INTO conversation_messages (
			id, conversation_id, sender, content, sentiment_label,
			sentiment_score, confidence, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Sender,
		msg.Content,
		msg.SentimentLabel,
		msg.SentimentScore,
		msg.Confidence,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add conversation message: %w", err)
	}
	return nil
}

func (r *conversationRepository) GetActiveByCustomer(ctx context.Context, restaurantID, customerID uuid.UUID) (*model.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE restaurant_id = $1 AND customer_id = $2
		AND status IN ('active', 'escalated')
		ORDER BY started_at DESC
		LIMIT 1
	`
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, query, restaurantID, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active conversation: %w", err)
	}
	return &conv, nil
}

func (r *conversationRepository) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]*model.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE status IN ('active', 'escalated')
		AND last_activity_at < $1
		ORDER BY last_activity_at ASC
	`
	var convs []*model.Conversation
	if err := r.db.SelectContext(ctx, &convs, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to list inactive conversations: %w", err)
	}
	return convs, nil
}
