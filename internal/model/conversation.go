package model

import (
	"time"

	"github.com/google/uuid"
)

type ConversationStatus string

const (
	ConversationStatusActive    ConversationStatus = "active"
	ConversationStatusEscalated ConversationStatus = "escalated"
	ConversationStatusResolved  ConversationStatus = "resolved"
	ConversationStatusAbandoned ConversationStatus = "abandoned"
)

// IsTerminal reports whether the conversation is immutable to further
// automated state changes.
func (s ConversationStatus) IsTerminal() bool {
	return s == ConversationStatusResolved || s == ConversationStatusAbandoned
}

type ConversationType string

const (
	ConversationTypeFeedback ConversationType = "feedback"
	ConversationTypeOrder    ConversationType = "order"
	ConversationTypeSupport  ConversationType = "support"
	ConversationTypeGeneral  ConversationType = "general"
)

// SenderType is a closed enumeration; every switch over it must handle all
// three values.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAI       SenderType = "ai"
	SenderStaff    SenderType = "staff"
)

type Conversation struct {
	Base
	CustomerID     uuid.UUID          `db:"customer_id" json:"customer_id"`
	RestaurantID   uuid.UUID          `db:"restaurant_id" json:"restaurant_id"`
	CampaignID     *uuid.UUID         `db:"campaign_id" json:"campaign_id,omitempty"`
	Status         ConversationStatus `db:"status" json:"status"`
	Type           ConversationType   `db:"type" json:"type"`
	// AIConfidence is the confidence of the most recent AI turn, not an
	// average. Recency gates escalation: one bad turn after many good ones
	// must still escalate.
	AIConfidence   float64    `db:"ai_confidence" json:"ai_confidence"`
	StartedAt      time.Time  `db:"started_at" json:"started_at"`
	LastActivityAt time.Time  `db:"last_activity_at" json:"last_activity_at"`
	EscalatedAt    *time.Time `db:"escalated_at" json:"escalated_at,omitempty"`
	ResolvedAt     *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

type ConversationMessage struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ConversationID uuid.UUID  `db:"conversation_id" json:"conversation_id"`
	Sender         SenderType `db:"sender" json:"sender"`
	Content        string     `db:"content" json:"content"`
	SentimentLabel *string    `db:"sentiment_label" json:"sentiment_label,omitempty"`
	SentimentScore *float64   `db:"sentiment_score" json:"sentiment_score,omitempty"`
	Confidence     *float64   `db:"confidence" json:"confidence,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

type ConversationEventType string

const (
	EventConversationStarted   ConversationEventType = "conversation.started"
	EventConversationEscalated ConversationEventType = "conversation.escalated"
	EventConversationResolved  ConversationEventType = "conversation.resolved"
	EventConversationAbandoned ConversationEventType = "conversation.abandoned"
	EventFeedbackReceived      ConversationEventType = "conversation.feedback"
)

// ConversationEvent is a domain event returned from a state transition. The
// caller consumes these synchronously, so alert evaluation order follows
// transition order.
type ConversationEvent struct {
	Type           ConversationEventType `json:"type"`
	ConversationID uuid.UUID             `json:"conversation_id"`
	RestaurantID   uuid.UUID             `json:"restaurant_id"`
	CampaignID     *uuid.UUID            `json:"campaign_id,omitempty"`
	From           ConversationStatus    `json:"from,omitempty"`
	To             ConversationStatus    `json:"to,omitempty"`
	Reason         string                `json:"reason,omitempty"`
	Rating         *int                  `json:"rating,omitempty"`
	SentimentScore *float64              `json:"sentiment_score,omitempty"`
	Categories     []string              `json:"categories,omitempty"`
	OccurredAt     time.Time             `json:"occurred_at"`
}
