package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
	CampaignStatusDeleted   CampaignStatus = "deleted"
)

// IsTerminal reports whether no further lifecycle transitions are allowed.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCancelled || s == CampaignStatusDeleted
}

// TemplateStep is one outbound message step of a campaign, dispatched in order.
type TemplateStep struct {
	Step       int    `json:"step"`
	TemplateID string `json:"template_id"`
}

type TemplateSteps []TemplateStep

func (t TemplateSteps) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	return json.Marshal(t)
}

func (t *TemplateSteps) Scan(src interface{}) error {
	if src == nil {
		*t = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into TemplateSteps", src)
	}
	return json.Unmarshal(b, t)
}

// CampaignMetrics is the aggregated snapshot rendered by the dashboard layer.
type CampaignMetrics struct {
	TotalRecipients int        `json:"total_recipients"`
	Scheduled       int        `json:"scheduled"`
	Sent            int        `json:"sent"`
	Delivered       int        `json:"delivered"`
	Responded       int        `json:"responded"`
	Failed          int        `json:"failed"`
	Cancelled       int        `json:"cancelled"`
	ResponseRate    float64    `json:"response_rate"`
	FailureRate     float64    `json:"failure_rate"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

func (m CampaignMetrics) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *CampaignMetrics) Scan(src interface{}) error {
	if src == nil {
		*m = CampaignMetrics{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into CampaignMetrics", src)
	}
	return json.Unmarshal(b, m)
}

type Campaign struct {
	Base
	RestaurantID   uuid.UUID       `db:"restaurant_id" json:"restaurant_id"`
	Name           string          `db:"name" json:"name"`
	Status         CampaignStatus  `db:"status" json:"status"`
	Locality       string          `db:"locality" json:"locality"`
	ScheduledStart *time.Time      `db:"scheduled_start" json:"scheduled_start,omitempty"`
	ScheduledEnd   *time.Time      `db:"scheduled_end" json:"scheduled_end,omitempty"`
	TemplateSteps  TemplateSteps   `db:"template_steps" json:"template_steps"`
	ExperimentID   *uuid.UUID      `db:"experiment_id" json:"experiment_id,omitempty"`
	SendOffset     time.Duration   `db:"send_offset" json:"send_offset"`
	Settings       JSONMap         `db:"settings" json:"settings,omitempty"`
	Metrics        CampaignMetrics `db:"metrics" json:"metrics"`
}

type RecipientStatus string

const (
	RecipientStatusPending   RecipientStatus = "pending"
	RecipientStatusSent      RecipientStatus = "sent"
	RecipientStatusResponded RecipientStatus = "responded"
	RecipientStatusFailed    RecipientStatus = "failed"
)

// Recipient is one customer entry within a campaign. At most one active
// recipient exists per (campaign_id, phone_number).
type Recipient struct {
	Base
	CampaignID        uuid.UUID       `db:"campaign_id" json:"campaign_id"`
	PhoneNumber       string          `db:"phone_number" json:"phone_number"`
	VisitTimestamp    time.Time       `db:"visit_timestamp" json:"visit_timestamp"`
	ScheduledSendTime *time.Time      `db:"scheduled_send_time" json:"scheduled_send_time,omitempty"`
	Status            RecipientStatus `db:"status" json:"status"`
	ConversationID    *uuid.UUID      `db:"conversation_id" json:"conversation_id,omitempty"`
	Metadata          JSONMap         `db:"metadata" json:"metadata,omitempty"`
}

// ImportEntry is one validated row handed over by the recipient import boundary.
type ImportEntry struct {
	PhoneNumber    string    `json:"phone_number" validate:"required,e164"`
	VisitTimestamp time.Time `json:"visit_timestamp" validate:"required"`
	Metadata       JSONMap   `json:"metadata,omitempty"`
}

type ImportResult struct {
	Imported          int `json:"imported"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	InvalidSkipped    int `json:"invalid_skipped"`
}

type CreateCampaignRequest struct {
	RestaurantID   uuid.UUID      `json:"restaurant_id" binding:"required"`
	Name           string         `json:"name" binding:"required"`
	Locality       string         `json:"locality" binding:"required"`
	ScheduledStart *time.Time     `json:"scheduled_start"`
	ScheduledEnd   *time.Time     `json:"scheduled_end"`
	TemplateSteps  []TemplateStep `json:"template_steps" binding:"required,min=1"`
	SendOffsetMins int            `json:"send_offset_minutes"`
	Settings       JSONMap        `json:"settings"`
}

type CampaignFilters struct {
	RestaurantID uuid.UUID
	Status       CampaignStatus
}
