package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ExperimentStatus string

const (
	ExperimentStatusDraft     ExperimentStatus = "draft"
	ExperimentStatusRunning   ExperimentStatus = "running"
	ExperimentStatusPaused    ExperimentStatus = "paused"
	ExperimentStatusCompleted ExperimentStatus = "completed"
	ExperimentStatusArchived  ExperimentStatus = "archived"
)

type AssignmentStrategy string

const (
	StrategyRandom    AssignmentStrategy = "random"
	StrategyWeighted  AssignmentStrategy = "weighted"
	StrategyHashBased AssignmentStrategy = "hash_based"
)

// Variant is one configuration arm of an experiment. Weights are normalized to
// sum to 1.0 when the experiment is created.
type Variant struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Weight     float64 `json:"weight"`
	TemplateID string  `json:"template_id"`
	Parameters JSONMap `json:"parameters,omitempty"`
}

type Variants []Variant

func (v Variants) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (v *Variants) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Variants", src)
	}
	return json.Unmarshal(b, v)
}

type Experiment struct {
	Base
	CampaignID     uuid.UUID          `db:"campaign_id" json:"campaign_id"`
	Name           string             `db:"name" json:"name"`
	Description    string             `db:"description" json:"description,omitempty"`
	Variants       Variants           `db:"variants" json:"variants"`
	Status         ExperimentStatus   `db:"status" json:"status"`
	Strategy       AssignmentStrategy `db:"strategy" json:"strategy"`
	MinSampleSize  int                `db:"min_sample_size" json:"min_sample_size"`
	StartedAt      *time.Time         `db:"started_at" json:"started_at,omitempty"`
	EndedAt        *time.Time         `db:"ended_at" json:"ended_at,omitempty"`
	WinningVariant *string            `db:"winning_variant" json:"winning_variant,omitempty"`
}

// VariantAssignment binds one customer phone to one variant within one
// experiment. The (experiment_id, customer_phone) pair is unique; once written
// it is never changed, or the experiment's statistics would be corrupted.
type VariantAssignment struct {
	ID            uuid.UUID `db:"id" json:"id"`
	ExperimentID  uuid.UUID `db:"experiment_id" json:"experiment_id"`
	CustomerPhone string    `db:"customer_phone" json:"customer_phone"`
	VariantID     string    `db:"variant_id" json:"variant_id"`
	AssignedAt    time.Time `db:"assigned_at" json:"assigned_at"`
}

// VariantStats is the per-variant rollup used for experiment results.
type VariantStats struct {
	VariantID     string  `db:"variant_id" json:"variant_id"`
	Participants  int     `db:"participants" json:"participants"`
	Responses     int     `db:"responses" json:"responses"`
	ResponseRate  float64 `json:"response_rate"`
	AverageRating float64 `db:"average_rating" json:"average_rating"`
}

type ExperimentResults struct {
	ExperimentID      uuid.UUID      `json:"experiment_id"`
	Status            ExperimentStatus `json:"status"`
	TotalParticipants int            `json:"total_participants"`
	TotalResponses    int            `json:"total_responses"`
	WinningVariant    *string        `json:"winning_variant,omitempty"`
	Variants          []VariantStats `json:"variants"`
}

type CreateExperimentRequest struct {
	Name          string    `json:"name" binding:"required"`
	Description   string    `json:"description"`
	Variants      []Variant `json:"variants" binding:"required,min=2"`
	Strategy      AssignmentStrategy `json:"strategy" binding:"required,oneof=random weighted hash_based"`
	MinSampleSize int       `json:"min_sample_size"`
}
