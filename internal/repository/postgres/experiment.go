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

type experimentRepository struct {
	BaseRepository
}

func NewExperimentRepository(base BaseRepository) *experimentRepository {
	return &experimentRepository{BaseRepository: base}
}

func (r *experimentRepository) Create(ctx context.Context, exp *model.Experiment) error {
	query := `
		INSERT INTO experiments (
			id, campaign_id, name, description, variants, status, strategy,
			min_sample_size, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	exp.ID = uuid.New()
	exp.CreatedAt = time.Now()
	exp.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		exp.ID,
		exp.CampaignID,
		exp.Name,
		exp.Description,
		exp.Variants,
		exp.Status,
		exp.Strategy,
		exp.MinSampleSize,
		exp.CreatedAt,
		exp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}
	return nil
}

func (r *experimentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Experiment, error) {
	query := `
		SELECT id, campaign_id, name, description, variants, status, strategy,
			   min_sample_size, started_at, ended_at, winning_variant,
			   created_at, updated_at, deleted_at
		FROM experiments
		WHERE id = $1
	`
	var exp model.Experiment
	err := r.db.GetContext(ctx, &exp, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experiment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return &exp, nil
}

func (r *experimentRepository) Update(ctx context.Context, exp *model.Experiment) error {
	query := `
		UPDATE experiments
		SET name = $1, description = $2, variants = $3, status = $4,
			strategy = $5, min_sample_size = $6, started_at = $7,
			ended_at = $8, winning_variant = $9, updated_at = $10
		WHERE id = $11
	`
	exp.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		exp.Name,
		exp.Description,
		exp.Variants,
		exp.Status,
		exp.Strategy,
		exp.MinSampleSize,
		exp.StartedAt,
		exp.EndedAt,
		exp.WinningVariant,
		exp.UpdatedAt,
		exp.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("experiment not found")
	}

	return nil
}

func (r *experimentRepository) GetAssignment(ctx context.Context, experimentID uuid.UUID, customerPhone string) (*model.VariantAssignment, error) {
	query := `
		SELECT id, experiment_id, customer_phone, variant_id, assigned_at
		FROM variant_assignments
		WHERE experiment_id = $1 AND customer_phone = $2
	`
	var assignment model.VariantAssignment
	err := r.db.GetContext(ctx, &assignment, query, experimentID, customerPhone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variant assignment: %w", err)
	}
	return &assignment, nil
}

// InsertAssignment races are resolved by the unique index on
// (experiment_id, customer_phone): the loser's insert is a no-op and the
// winner's row is read back, so every caller sees the same variant.
func (r *experimentRepository) InsertAssignment(ctx context.Context, assignment *model.VariantAssignment) (*model.VariantAssignment, error) {
	query := `
		INSERT INTO variant_assignments (
			id, experiment_id, customer_phone, variant_id, assigned_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (experiment_id, customer_phone) DO NOTHING
		RETURNING id, experiment_id, customer_phone, variant_id, assigned_at
	`
	assignment.ID = uuid.New()
	assignment.AssignedAt = time.Now()

	var winner model.VariantAssignment
	err := r.db.GetContext(ctx, &winner, query,
		assignment.ID,
		assignment.ExperimentID,
		assignment.CustomerPhone,
		assignment.VariantID,
		assignment.AssignedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race; read the winning row.
		existing, getErr := r.GetAssignment(ctx, assignment.ExperimentID, assignment.CustomerPhone)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, fmt.Errorf("variant assignment vanished after conflict for experiment %s", assignment.ExperimentID)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert variant assignment: %w", err)
	}
	return &winner, nil
}

// VariantStats aggregates one row per assignment: each participant is matched
// to their own recipient row by phone and counts as responded when any of
// their messages for the assigned variant got a response.
func (r *experimentRepository) VariantStats(ctx context.Context, experimentID uuid.UUID) ([]model.VariantStats, error) {
	query := `
		WITH responded AS (
			SELECT recipient_id, variant_id
			FROM campaign_messages
			WHERE responded_at IS NOT NULL
			GROUP BY recipient_id, variant_id
		)
		SELECT va.variant_id,
			   COUNT(*) AS participants,
			   COUNT(rs.recipient_id) AS responses,
			   COALESCE(AVG(NULLIF((r.metadata->>'rating')::numeric, 0)), 0) AS average_rating
		FROM variant_assignments va
		JOIN experiments e ON e.id = va.experiment_id
		LEFT JOIN campaign_recipients r
			ON r.campaign_id = e.campaign_id AND r.phone_number = va.customer_phone
		LEFT JOIN responded rs
			ON rs.recipient_id = r.id AND rs.variant_id = va.variant_id
		WHERE va.experiment_id = $1
		GROUP BY va.variant_id
		ORDER BY va.variant_id
	`
	var stats []model.VariantStats
	if err := r.db.SelectContext(ctx, &stats, query, experimentID); err != nil {
		return nil, fmt.Errorf("failed to get variant stats: %w", err)
	}

	for i := range stats {
		if stats[i].Participants > 0 {
			stats[i].ResponseRate = float64(stats[i].Responses) / float64(stats[i].Participants)
		}
	}
	return stats, nil
}
