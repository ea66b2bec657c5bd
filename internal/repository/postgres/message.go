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

type messageRepository struct {
	BaseRepository
}

func NewMessageRepository(base BaseRepository) *messageRepository {
	return &messageRepository{BaseRepository: base}
}

const messageColumns = `
	id, campaign_id, recipient_id, step, template_id, variant_id, external_id,
	scheduled_send_time, status, attempts, last_error,
	queued_at, sent_at, delivered_at, read_at, responded_at,
	created_at, updated_at, deleted_at
`

func (r *messageRepository) Create(ctx context.Context, msg *model.CampaignMessage) error {
	query := `
		INSERT INTO campaign_messages (
			id, campaign_id, recipient_id, step, template_id, variant_id,
			scheduled_send_time, status, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now()
	msg.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.CampaignID,
		msg.RecipientID,
		msg.Step,
		msg.TemplateID,
		msg.VariantID,
		msg.ScheduledSendTime,
		msg.Status,
		msg.Attempts,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign message: %w", err)
	}
	return nil
}

func (r *messageRepository) Get(ctx context.Context, id uuid.UUID) (*model.CampaignMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM campaign_messages WHERE id = $1`

	var msg model.CampaignMessage
	err := r.db.GetContext(ctx, &msg, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign message: %w", err)
	}
	return &msg, nil
}

func (r *messageRepository) GetByExternalID(ctx context.Context, externalID string) (*model.CampaignMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM campaign_messages WHERE external_id = $1`

	var msg model.CampaignMessage
	err := r.db.GetContext(ctx, &msg, query, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign message by external id: %w", err)
	}
	return &msg, nil
}

func (r *messageRepository) Update(ctx context.Context, msg *model.CampaignMessage) error {
	query := `
		UPDATE campaign_messages
		SET variant_id = $1, external_id = $2, scheduled_send_time = $3,
			status = $4, attempts = $5, last_error = $6,
			queued_at = $7, sent_at = $8, delivered_at = $9,
			read_at = $10, responded_at = $11, updated_at = $12
		WHERE id = $13
	`
	msg.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		msg.VariantID,
		msg.ExternalID,
		msg.ScheduledSendTime,
		msg.Status,
		msg.Attempts,
		msg.LastError,
		msg.QueuedAt,
		msg.SentAt,
		msg.DeliveredAt,
		msg.ReadAt,
		msg.RespondedAt,
		msg.UpdatedAt,
		msg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("campaign message not found")
	}

	return nil
}

// ClaimDue relies on FOR UPDATE SKIP LOCKED so a pool of workers can poll the
// same table without handing the same message to two workers.
func (r *messageRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.CampaignMessage, error) {
	query := `
		UPDATE campaign_messages
		SET status = 'queued', queued_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM campaign_messages
			WHERE status = 'scheduled' AND scheduled_send_time <= $1
			ORDER BY scheduled_send_time ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + messageColumns

	var msgs []*model.CampaignMessage
	err := r.db.SelectContext(ctx, &msgs, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due messages: %w", err)
	}
	return msgs, nil
}

// RequeueStale recovers messages a dead worker claimed but never finished:
// anything still queued past the cutoff goes back to scheduled for the next
// poll.
func (r *messageRepository) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE campaign_messages
		SET status = 'scheduled', queued_at = NULL, updated_at = NOW()
		WHERE status = 'queued' AND queued_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale messages: %w", err)
	}
	return res.RowsAffected()
}

func (r *messageRepository) PriorStepStatus(ctx context.Context, recipientID uuid.UUID, step int) (*model.MessageStatus, error) {
	if step <= 1 {
		return nil, nil
	}

	query := `
		SELECT status FROM campaign_messages
		WHERE recipient_id = $1 AND step = $2
	`
	var status model.MessageStatus
	err := r.db.GetContext(ctx, &status, query, recipientID, step-1)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prior step status: %w", err)
	}
	return &status, nil
}

func (r *messageRepository) CancelOpenByCampaign(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	query := `
		UPDATE campaign_messages
		SET status = 'cancelled', updated_at = $1
		WHERE campaign_id = $2
		AND status IN ('scheduled', 'queued')
	`
	result, err := r.db.ExecContext(ctx, query, time.Now(), campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel campaign messages: %w", err)
	}
	return result.RowsAffected()
}

func (r *messageRepository) CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[model.MessageStatus]int, error) {
	query := `
		SELECT status, COUNT(*) AS count
		FROM campaign_messages
		WHERE campaign_id = $1
		GROUP BY status
	`
	rows, err := r.db.QueryxContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.MessageStatus]int)
	for rows.Next() {
		var status model.MessageStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan message count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *messageRepository) CountOpen(ctx context.Context, campaignID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM campaign_messages
		WHERE campaign_id = $1
		AND status NOT IN ('responded', 'failed', 'cancelled')
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, campaignID); err != nil {
		return 0, fmt.Errorf("failed to count open messages: %w", err)
	}
	return count, nil
}
