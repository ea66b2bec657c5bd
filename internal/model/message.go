package model

import (
	"time"

	"github.com/google/uuid"
)

type MessageStatus string

const (
	MessageStatusScheduled MessageStatus = "scheduled"
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusResponded MessageStatus = "responded"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusCancelled MessageStatus = "cancelled"
)

// messageStatusRank orders the forward progression of a message. failed and
// cancelled sit outside the order: reachable from any non-terminal status,
// terminal once reached.
var messageStatusRank = map[MessageStatus]int{
	MessageStatusScheduled: 0,
	MessageStatusQueued:    1,
	MessageStatusSent:      2,
	MessageStatusDelivered: 3,
	MessageStatusRead:      4,
	MessageStatusResponded: 5,
}

// IsTerminal reports whether no further status transitions are allowed.
func (s MessageStatus) IsTerminal() bool {
	return s == MessageStatusFailed || s == MessageStatusCancelled || s == MessageStatusResponded
}

// CanTransitionTo reports whether moving from s to next respects the status
// order. Transitions never move backwards and never leave a terminal status;
// a responded message can no longer fail or be cancelled.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == MessageStatusFailed || next == MessageStatusCancelled {
		return true
	}
	cur, ok := messageStatusRank[s]
	if !ok {
		return false
	}
	nxt, ok := messageStatusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// CampaignMessage is one tracked outbound message tied to a recipient. The
// message ID doubles as the idempotency key for the external send call.
type CampaignMessage struct {
	Base
	CampaignID        uuid.UUID     `db:"campaign_id" json:"campaign_id"`
	RecipientID       uuid.UUID     `db:"recipient_id" json:"recipient_id"`
	Step              int           `db:"step" json:"step"`
	TemplateID        string        `db:"template_id" json:"template_id"`
	VariantID         *string       `db:"variant_id" json:"variant_id,omitempty"`
	ExternalID        *string       `db:"external_id" json:"external_id,omitempty"`
	ScheduledSendTime time.Time     `db:"scheduled_send_time" json:"scheduled_send_time"`
	Status            MessageStatus `db:"status" json:"status"`
	Attempts          int           `db:"attempts" json:"attempts"`
	LastError         *string       `db:"last_error" json:"last_error,omitempty"`
	QueuedAt          *time.Time    `db:"queued_at" json:"queued_at,omitempty"`
	SentAt            *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt            *time.Time    `db:"read_at" json:"read_at,omitempty"`
	RespondedAt       *time.Time    `db:"responded_at" json:"responded_at,omitempty"`
}
