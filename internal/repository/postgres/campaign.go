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

type campaignRepository struct {
	BaseRepository
}

func NewCampaignRepository(base BaseRepository) *campaignRepository {
	return &campaignRepository{BaseRepository: base}
}

func (r *campaignRepository) Create(ctx context.Context, campaign *model.Campaign) error {
	query := `
		INSERT INTO campaigns (
			id, restaurant_id, name, status, locality,
			scheduled_start, scheduled_end, template_steps, experiment_id,
			send_offset, settings, metrics, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	campaign.ID = uuid.New()
	campaign.CreatedAt = time.Now()
	campaign.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		campaign.ID,
		campaign.RestaurantID,
		campaign.Name,
		campaign.Status,
		campaign.Locality,
		campaign.ScheduledStart,
		campaign.ScheduledEnd,
		campaign.TemplateSteps,
		campaign.ExperimentID,
		campaign.SendOffset,
		campaign.Settings,
		campaign.Metrics,
		campaign.CreatedAt,
		campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

func (r *campaignRepository) Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	query := `
		SELECT id, restaurant_id, name, status, locality,
			   scheduled_start, scheduled_end, template_steps, experiment_id,
			   send_offset, settings, metrics, created_at, updated_at, deleted_at
		FROM campaigns
		WHERE id = $1 AND deleted_at IS NULL
	`
	var campaign model.Campaign
	err := r.db.GetContext(ctx, &campaign, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return &campaign, nil
}

func (r *campaignRepository) Update(ctx context.Context, campaign *model.Campaign) error {
	query := `
		UPDATE campaigns
		SET name = $1, status = $2, scheduled_start = $3, scheduled_end = $4,
			template_steps = $5, experiment_id = $6, send_offset = $7,
			settings = $8, metrics = $9, updated_at = $10
		WHERE id = $11 AND deleted_at IS NULL
	`
	campaign.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		campaign.Name,
		campaign.Status,
		campaign.ScheduledStart,
		campaign.ScheduledEnd,
		campaign.TemplateSteps,
		campaign.ExperimentID,
		campaign.SendOffset,
		campaign.Settings,
		campaign.Metrics,
		campaign.UpdatedAt,
		campaign.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("campaign not found")
	}

	return nil
}

func (r *campaignRepository) List(ctx context.Context, filters *model.CampaignFilters) ([]*model.Campaign, error) {
	query := `
		SELECT id, restaurant_id, name, status, locality,
			   scheduled_start, scheduled_end, template_steps, experiment_id,
			   send_offset, settings, metrics, created_at, updated_at, deleted_at
		FROM campaigns
		WHERE deleted_at IS NULL
	`
	args := []interface{}{}
	argCount := 1

	if filters != nil && filters.RestaurantID != uuid.Nil {
		query += fmt.Sprintf(" AND restaurant_id = $%d", argCount)
		args = append(args, filters.RestaurantID)
		argCount++
	}

	if filters != nil && filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filters.Status)
		argCount++
	}

	query += " ORDER BY created_at DESC"

	var campaigns []*model.Campaign
	err := r.db.SelectContext(ctx, &campaigns, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

func (r *campaignRepository) ListActivatable(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	query := `
		SELECT id, restaurant_id, name, status, locality,
			   scheduled_start, scheduled_end, template_steps, experiment_id,
			   send_offset, settings, metrics, created_at, updated_at, deleted_at
		FROM campaigns
		WHERE deleted_at IS NULL
		AND status IN ('scheduled', 'active')
		AND scheduled_start <= $1
	`
	var campaigns []*model.Campaign
	err := r.db.SelectContext(ctx, &campaigns, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list activatable campaigns: %w", err)
	}
	return campaigns, nil
}

func (r *campaignRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE campaigns
		SET status = $1, deleted_at = $2, updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, model.CampaignStatusDeleted, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("campaign not found")
	}

	return nil
}
