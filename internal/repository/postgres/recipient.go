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

type recipientRepository struct {
	BaseRepository
}

func NewRecipientRepository(base BaseRepository) *recipientRepository {
	return &recipientRepository{BaseRepository: base}
}

func (r *recipientRepository) CreateBatch(ctx context.Context, recipients []*model.Recipient) error {
	if len(recipients) == 0 {
		return nil
	}

	query := `
		INSERT INTO campaign_recipients (
			id, campaign_id, phone_number, visit_timestamp,
			scheduled_send_time, status, conversation_id, metadata,
			created_at, updated_at
		) VALUES (:id, :campaign_id, :phone_number, :visit_timestamp,
			:scheduled_send_time, :status, :conversation_id, :metadata,
			:created_at, :updated_at)
	`
	now := time.Now()
	for _, recipient := range recipients {
		recipient.ID = uuid.New()
		recipient.CreatedAt = now
		recipient.UpdatedAt = now
	}

	if _, err := r.db.NamedExecContext(ctx, query, recipients); err != nil {
		return fmt.Errorf("failed to create recipients: %w", err)
	}
	return nil
}

func (r *recipientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Recipient, error) {
	query := `
		SELECT id, campaign_id, phone_number, visit_timestamp,
			   scheduled_send_time, status, conversation_id, metadata,
			   created_at, updated_at, deleted_at
		FROM campaign_recipients
		WHERE id = $1
	`
	var recipient model.Recipient
	err := r.db.GetContext(ctx, &recipient, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recipient not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	return &recipient, nil
}

func (r *recipientRepository) Update(ctx context.Context, recipient *model.Recipient) error {
	query := `
		UPDATE campaign_recipients
		SET scheduled_send_time = $1, status = $2, conversation_id = $3,
			metadata = $4, updated_at = $5
		WHERE id = $6
	`
	recipient.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		recipient.ScheduledSendTime,
		recipient.Status,
		recipient.ConversationID,
		recipient.Metadata,
		recipient.UpdatedAt,
		recipient.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update recipient: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("recipient not found")
	}

	return nil
}

func (r *recipientRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*model.Recipient, error) {
	query := `
		SELECT id, campaign_id, phone_number, visit_timestamp,
			   scheduled_send_time, status, conversation_id, metadata,
			   created_at, updated_at, deleted_at
		FROM campaign_recipients
		WHERE campaign_id = $1
		ORDER BY visit_timestamp ASC
	`
	var recipients []*model.Recipient
	err := r.db.SelectContext(ctx, &recipients, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return recipients, nil
}

func (r *recipientRepository) ListUnscheduled(ctx context.Context, campaignID uuid.UUID) ([]*model.Recipient, error) {
	query := `
		SELECT id, campaign_id, phone_number, visit_timestamp,
			   scheduled_send_time, status, conversation_id, metadata,
			   created_at, updated_at, deleted_at
		FROM campaign_recipients
		WHERE campaign_id = $1
		AND scheduled_send_time IS NULL
		AND status = 'pending'
		ORDER BY visit_timestamp ASC
	`
	var recipients []*model.Recipient
	err := r.db.SelectContext(ctx, &recipients, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unscheduled recipients: %w", err)
	}
	return recipients, nil
}

func (r *recipientRepository) ActivePhones(ctx context.Context, campaignID uuid.UUID) (map[string]bool, error) {
	query := `
		SELECT phone_number
		FROM campaign_recipients
		WHERE campaign_id = $1
	`
	var phones []string
	if err := r.db.SelectContext(ctx, &phones, query, campaignID); err != nil {
		return nil, fmt.Errorf("failed to list recipient phones: %w", err)
	}

	set := make(map[string]bool, len(phones))
	for _, p := range phones {
		set[p] = true
	}
	return set, nil
}

func (r *recipientRepository) SetConversation(ctx context.Context, id, conversationID uuid.UUID) error {
	query := `
		UPDATE campaign_recipients
		SET conversation_id = $1, status = 'responded', updated_at = $2
		WHERE id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, conversationID, time.Now(), id); err != nil {
		return fmt.Errorf("failed to link conversation: %w", err)
	}
	return nil
}
