package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crm-res/outreach-api/internal/model"
)

type alertRepository struct {
	BaseRepository
}

func NewAlertRepository(base BaseRepository) *alertRepository {
	return &alertRepository{BaseRepository: base}
}

const alertColumns = `
	id, restaurant_id, campaign_id, conversation_id, feedback_id, rule_id,
	priority, title, message, details, status,
	acknowledged_by, acknowledged_at, ack_notes, resolved_at, dismissed_at,
	created_at, updated_at, deleted_at
`

func (r *alertRepository) Create(ctx context.Context, alert *model.Alert) error {
	query := `
		INSERT INTO alerts (
			id, restaurant_id, campaign_id, conversation_id, feedback_id,
			rule_id, priority, title, message, details, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	alert.ID = uuid.New()
	alert.CreatedAt = time.Now()
	alert.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		alert.ID,
		alert.RestaurantID,
		alert.CampaignID,
		alert.ConversationID,
		alert.FeedbackID,
		alert.RuleID,
		alert.Priority,
		alert.Title,
		alert.Message,
		alert.Details,
		alert.Status,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

func (r *alertRepository) Get(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`

	var alert model.Alert
	err := r.db.GetContext(ctx, &alert, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return &alert, nil
}

func (r *alertRepository) Update(ctx context.Context, alert *model.Alert) error {
	query := `
		UPDATE alerts
		SET priority = $1, details = $2, status = $3,
			acknowledged_by = $4, acknowledged_at = $5, ack_notes = $6,
			resolved_at = $7, dismissed_at = $8, updated_at = $9
		WHERE id = $10
	`
	alert.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		alert.Priority,
		alert.Details,
		alert.Status,
		alert.AcknowledgedBy,
		alert.AcknowledgedAt,
		alert.AckNotes,
		alert.ResolvedAt,
		alert.DismissedAt,
		alert.UpdatedAt,
		alert.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("alert not found")
	}

	return nil
}

func (r *alertRepository) List(ctx context.Context, restaurantID uuid.UUID, status model.AlertStatus) ([]*model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE restaurant_id = $1`
	args := []interface{}{restaurantID}

	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	var alerts []*model.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

func (r *alertRepository) FindOpen(ctx context.Context, ruleID string, conversationID *uuid.UUID, since time.Time) (*model.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE rule_id = $1
		AND status IN ('pending', 'acknowledged')
		AND created_at >= $2
	`
	args := []interface{}{ruleID, since}

	if conversationID != nil {
		query += " AND conversation_id = $3"
		args = append(args, *conversationID)
	} else {
		query += " AND conversation_id IS NULL"
	}
	query += " ORDER BY created_at DESC LIMIT 1"

	var alert model.Alert
	err := r.db.GetContext(ctx, &alert, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open alert: %w", err)
	}
	return &alert, nil
}

func (r *alertRepository) AppendDetail(ctx context.Context, id uuid.UUID, detail model.JSONMap) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to marshal alert detail: %w", err)
	}

	query := `
		UPDATE alerts
		SET details = details || jsonb_build_array($1::jsonb), updated_at = $2
		WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, payload, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to append alert detail: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("alert not found")
	}

	return nil
}

func (r *alertRepository) CountByCategorySince(ctx context.Context, restaurantID uuid.UUID, category string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM alerts
		WHERE restaurant_id = $1
		AND created_at >= $2
		AND details @> $3::jsonb
	`
	match, err := json.Marshal([]map[string]interface{}{{"category": category}})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal category match: %w", err)
	}

	var count int
	if err := r.db.GetContext(ctx, &count, query, restaurantID, since, match); err != nil {
		return 0, fmt.Errorf("failed to count alerts by category: %w", err)
	}
	return count, nil
}

func (r *alertRepository) ListBetween(ctx context.Context, restaurantID uuid.UUID, from, to time.Time) ([]*model.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE restaurant_id = $1
		AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC
	`
	var alerts []*model.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, restaurantID, from, to); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}
