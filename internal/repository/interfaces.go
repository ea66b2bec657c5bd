package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/crm-res/outreach-api/internal/model"
)

// All repository interfaces in one file
type (
	CampaignRepository interface {
		Create(ctx context.Context, campaign *model.Campaign) error
		Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
		Update(ctx context.Context, campaign *model.Campaign) error
		List(ctx context.Context, filters *model.CampaignFilters) ([]*model.Campaign, error)
		ListActivatable(ctx context.Context, now time.Time) ([]*model.Campaign, error)
		SoftDelete(ctx context.Context, id uuid.UUID) error
	}

	RecipientRepository interface {
		CreateBatch(ctx context.Context, recipients []*model.Recipient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Recipient, error)
		Update(ctx context.Context, recipient *model.Recipient) error
		ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*model.Recipient, error)
		ListUnscheduled(ctx context.Context, campaignID uuid.UUID) ([]*model.Recipient, error)
		ActivePhones(ctx context.Context, campaignID uuid.UUID) (map[string]bool, error)
		SetConversation(ctx context.Context, id, conversationID uuid.UUID) error
	}

	MessageRepository interface {
		Create(ctx context.Context, msg *model.CampaignMessage) error
		Get(ctx context.Context, id uuid.UUID) (*model.CampaignMessage, error)
		GetByExternalID(ctx context.Context, externalID string) (*model.CampaignMessage, error)
		Update(ctx context.Context, msg *model.CampaignMessage) error
		// ClaimDue atomically moves due scheduled messages to queued and
		// returns them; concurrent workers never claim the same row.
		ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.CampaignMessage, error)
		// RequeueStale returns messages queued before the cutoff to scheduled,
		// recovering claims abandoned by a crashed worker.
		RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
		// PriorStepStatus returns the status of the previous template step for
		// the same recipient, or nil when step is the first.
		PriorStepStatus(ctx context.Context, recipientID uuid.UUID, step int) (*model.MessageStatus, error)
		CancelOpenByCampaign(ctx context.Context, campaignID uuid.UUID) (int64, error)
		CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[model.MessageStatus]int, error)
		CountOpen(ctx context.Context, campaignID uuid.UUID) (int, error)
	}

	ExperimentRepository interface {
		Create(ctx context.Context, exp *model.Experiment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Experiment, error)
		Update(ctx context.Context, exp *model.Experiment) error
		GetAssignment(ctx context.Context, experimentID uuid.UUID, customerPhone string) (*model.VariantAssignment, error)
		// InsertAssignment persists the assignment unless one already exists
		// for (experiment_id, customer_phone); it always returns the winning
		// row, whether ours or a concurrent writer's.
		InsertAssignment(ctx context.Context, assignment *model.VariantAssignment) (*model.VariantAssignment, error)
		VariantStats(ctx context.Context, experimentID uuid.UUID) ([]model.VariantStats, error)
	}

	ConversationRepository interface {
		Create(ctx context.Context, conv *model.Conversation) error
		Get(ctx context.Context, id uuid.UUID) (*model.Conversation, error)
		Update(ctx context.Context, conv *model.Conversation) error
		AddMessage(ctx context.Context, msg *model.ConversationMessage) error
		GetActiveByCustomer(ctx context.Context, restaurantID, customerID uuid.UUID) (*model.Conversation, error)
		ListInactiveSince(ctx context.Context, cutoff time.Time) ([]*model.Conversation, error)
	}

	AlertRepository interface {
		Create(ctx context.Context, alert *model.Alert) error
		Get(ctx context.Context, id uuid.UUID) (*model.Alert, error)
		Update(ctx context.Context, alert *model.Alert) error
		List(ctx context.Context, restaurantID uuid.UUID, status model.AlertStatus) ([]*model.Alert, error)
		// FindOpen returns the pending or acknowledged alert for (rule id,
		// conversation id) created after since, or nil.
		FindOpen(ctx context.Context, ruleID string, conversationID *uuid.UUID, since time.Time) (*model.Alert, error)
		AppendDetail(ctx context.Context, id uuid.UUID, detail model.JSONMap) error
		CountByCategorySince(ctx context.Context, restaurantID uuid.UUID, category string, since time.Time) (int, error)
		ListBetween(ctx context.Context, restaurantID uuid.UUID, from, to time.Time) ([]*model.Alert, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status string, errorMessage *string, processedAt *time.Time) error
		BeginTx(ctx context.Context) (*sqlx.Tx, error)
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
