package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AlertPriority string

const (
	AlertPriorityLow       AlertPriority = "low"
	AlertPriorityMedium    AlertPriority = "medium"
	AlertPriorityHigh      AlertPriority = "high"
	AlertPriorityImmediate AlertPriority = "immediate"
)

type AlertStatus string

const (
	AlertStatusPending      AlertStatus = "pending"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusDismissed    AlertStatus = "dismissed"
)

func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusResolved || s == AlertStatusDismissed
}

// AlertDetails accumulates one payload per rule firing. Deduplicated firings
// append here instead of creating a second alert.
type AlertDetails []JSONMap

func (d AlertDetails) Value() (driver.Value, error) {
	if d == nil {
		return json.Marshal(AlertDetails{})
	}
	return json.Marshal(d)
}

func (d *AlertDetails) Scan(src interface{}) error {
	if src == nil {
		*d = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into AlertDetails", src)
	}
	return json.Unmarshal(b, d)
}

// Alert is never deleted; resolved and dismissed alerts stay as audit trail.
type Alert struct {
	Base
	RestaurantID   uuid.UUID    `db:"restaurant_id" json:"restaurant_id"`
	CampaignID     *uuid.UUID   `db:"campaign_id" json:"campaign_id,omitempty"`
	ConversationID *uuid.UUID   `db:"conversation_id" json:"conversation_id,omitempty"`
	FeedbackID     *uuid.UUID   `db:"feedback_id" json:"feedback_id,omitempty"`
	RuleID         string       `db:"rule_id" json:"rule_id"`
	Priority       AlertPriority `db:"priority" json:"priority"`
	Title          string       `db:"title" json:"title"`
	Message        string       `db:"message" json:"message"`
	Details        AlertDetails `db:"details" json:"details"`
	Status         AlertStatus  `db:"status" json:"status"`
	AcknowledgedBy *uuid.UUID   `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time   `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AckNotes       *string      `db:"ack_notes" json:"ack_notes,omitempty"`
	ResolvedAt     *time.Time   `db:"resolved_at" json:"resolved_at,omitempty"`
	DismissedAt    *time.Time   `db:"dismissed_at" json:"dismissed_at,omitempty"`
}

type PredicateKind string

const (
	PredicateRatingThreshold    PredicateKind = "rating_threshold"
	PredicateSentimentThreshold PredicateKind = "sentiment_threshold"
	PredicateFrequency          PredicateKind = "frequency_within_window"
	PredicateComposite          PredicateKind = "composite"
)

type CompositeOp string

const (
	CompositeAnd CompositeOp = "and"
	CompositeOr  CompositeOp = "or"
)

// Predicate is a tagged union: exactly the fields for its Kind are set. A
// closed set keeps rule evaluation auditable; there is no expression
// interpreter behind rules.
type Predicate struct {
	Kind PredicateKind `json:"kind"`

	// rating_threshold: fires when MinRating <= rating <= MaxRating.
	MinRating int `json:"min_rating,omitempty"`
	MaxRating int `json:"max_rating,omitempty"`

	// sentiment_threshold: fires when sentiment score < SentimentBelow,
	// optionally only for events carrying Category.
	SentimentBelow float64 `json:"sentiment_below,omitempty"`
	Category       string  `json:"category,omitempty"`

	// frequency_within_window: fires when events matching Category have been
	// observed at least MinCount times within Window.
	MinCount int           `json:"min_count,omitempty"`
	Window   time.Duration `json:"window,omitempty"`

	// composite: Op over Children.
	Op       CompositeOp `json:"op,omitempty"`
	Children []Predicate `json:"children,omitempty"`
}

// AlertRule associates a predicate with a priority and message template.
// Rules are evaluated in lexical rule-id order.
type AlertRule struct {
	ID       string        `json:"id"`
	Predicate Predicate    `json:"predicate"`
	Priority AlertPriority `json:"priority"`
	Title    string        `json:"title"`
	Message  string        `json:"message"`
}

type AcknowledgeAlertRequest struct {
	ActorID uuid.UUID `json:"actor_id" binding:"required"`
	Notes   string    `json:"notes" binding:"required"`
}

// AlertStatistics is the per-restaurant rollup surfaced to the dashboard.
type AlertStatistics struct {
	TotalAlerts    int                   `json:"total_alerts"`
	ByPriority     map[AlertPriority]int `json:"by_priority"`
	ByStatus       map[AlertStatus]int   `json:"by_status"`
	AvgAckSeconds  *float64              `json:"avg_ack_seconds,omitempty"`
	TopRules       []RuleCount           `json:"top_rules"`
}

type RuleCount struct {
	RuleID string `json:"rule_id"`
	Count  int    `json:"count"`
}
