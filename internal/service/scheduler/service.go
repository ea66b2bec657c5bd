package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crm-res/outreach-api/internal/config"
	"github.com/crm-res/outreach-api/internal/model"
	"github.com/crm-res/outreach-api/internal/repository"
	apperr "github.com/crm-res/outreach-api/pkg/errors"
	"github.com/crm-res/outreach-api/pkg/logger"
	"github.com/crm-res/outreach-api/pkg/metrics"
)

// maxBlackoutHops bounds the window-resolution loop; merged daily tables make
// more than a couple of hops impossible in practice.
const maxBlackoutHops = 10

// Spacing between consecutive template steps for one recipient.
const stepSpacing = 24 * time.Hour

// BlackoutProvider answers whether an instant is inside a prohibited send
// window and, if so, when the window ends.
type BlackoutProvider interface {
	IsBlackout(ctx context.Context, locality string, instant time.Time) (bool, time.Time)
}

// VariantAssigner binds a customer to an experiment variant.
type VariantAssigner interface {
	AssignOrGet(ctx context.Context, experimentID uuid.UUID, customerKey string) (string, error)
}

// Service computes send times for campaign recipients and persists the
// resulting campaign messages.
type Service struct {
	campaigns  repository.CampaignRepository
	recipients repository.RecipientRepository
	messages   repository.MessageRepository
	blackout   BlackoutProvider
	assigner   VariantAssigner
	metrics    *metrics.Metrics
	logger     *logger.Logger
	cfg        config.SchedulerConfig

	now func() time.Time
}

func NewService(
	campaigns repository.CampaignRepository,
	recipients repository.RecipientRepository,
	messages repository.MessageRepository,
	blackout BlackoutProvider,
	assigner VariantAssigner,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg config.SchedulerConfig,
) *Service {
	return &Service{
		campaigns:  campaigns,
		recipients: recipients,
		messages:   messages,
		blackout:   blackout,
		assigner:   assigner,
		metrics:    m,
		logger:     log,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Schedule computes send times for one recipient and persists one message per
// campaign template step. Steps whose resolved time falls after the campaign
// end are created directly in cancelled status and never enqueued.
func (s *Service) Schedule(ctx context.Context, campaign *model.Campaign, recipient *model.Recipient) ([]*model.CampaignMessage, error) {
	if campaign.Status.IsTerminal() {
		return nil, apperr.NewBusinessRule("campaign_not_schedulable",
			fmt.Sprintf("cannot schedule messages for campaign in status %s", campaign.Status))
	}
	if len(campaign.TemplateSteps) == 0 {
		return nil, apperr.NewBusinessRule("campaign_without_templates",
			"campaign has no template steps")
	}

	variantID, err := s.resolveVariant(ctx, campaign, recipient)
	if err != nil {
		return nil, err
	}

	base := s.resolveSendTime(ctx, campaign.Locality, recipient.VisitTimestamp.Add(s.offset(campaign)))

	messages := make([]*model.CampaignMessage, 0, len(campaign.TemplateSteps))
	for i, step := range campaign.TemplateSteps {
		target := base
		if i > 0 {
			target = s.resolveSendTime(ctx, campaign.Locality, base.Add(time.Duration(i)*stepSpacing))
		}

		msg := &model.CampaignMessage{
			CampaignID:        campaign.ID,
			RecipientID:       recipient.ID,
			Step:              step.Step,
			TemplateID:        step.TemplateID,
			VariantID:         variantID,
			ScheduledSendTime: target,
			Status:            model.MessageStatusScheduled,
		}
		if campaign.ScheduledEnd != nil && target.After(*campaign.ScheduledEnd) {
			msg.Status = model.MessageStatusCancelled
		}

		if err := s.messages.Create(ctx, msg); err != nil {
			return nil, err
		}
		if msg.Status == model.MessageStatusScheduled {
			s.metrics.MessagesScheduled.Inc()
		}
		messages = append(messages, msg)
	}

	recipient.ScheduledSendTime = &base
	if err := s.recipients.Update(ctx, recipient); err != nil {
		return nil, err
	}

	return messages, nil
}

// Sweep schedules every pending unscheduled recipient of active campaigns.
// Runs periodically; failures for one recipient never block the rest.
func (s *Service) Sweep(ctx context.Context) error {
	campaigns, err := s.campaigns.List(ctx, &model.CampaignFilters{Status: model.CampaignStatusActive})
	if err != nil {
		return fmt.Errorf("failed to list active campaigns: %w", err)
	}

	for _, campaign := range campaigns {
		pending, err := s.recipients.ListUnscheduled(ctx, campaign.ID)
		if err != nil {
			s.logger.Error(err, "failed to list unscheduled recipients",
				map[string]interface{}{"campaign_id": campaign.ID})
			continue
		}
		for _, recipient := range pending {
			if _, err := s.Schedule(ctx, campaign, recipient); err != nil {
				s.logger.Error(err, "failed to schedule recipient",
					map[string]interface{}{
						"campaign_id":  campaign.ID,
						"recipient_id": recipient.ID,
					})
			}
		}
	}
	return nil
}

// resolveSendTime moves a naive target out of blackout windows and clamps
// times already in the past to now.
func (s *Service) resolveSendTime(ctx context.Context, locality string, target time.Time) time.Time {
	if now := s.now(); target.Before(now) {
		target = now
	}

	for i := 0; i < maxBlackoutHops; i++ {
		blocked, next := s.blackout.IsBlackout(ctx, locality, target)
		if !blocked {
			return target
		}
		s.metrics.BlackoutShifts.Inc()
		target = next
	}
	return target
}

func (s *Service) resolveVariant(ctx context.Context, campaign *model.Campaign, recipient *model.Recipient) (*string, error) {
	if campaign.ExperimentID == nil {
		return nil, nil
	}

	variantID, err := s.assigner.AssignOrGet(ctx, *campaign.ExperimentID, recipient.PhoneNumber)
	if err != nil {
		if apperr.IsInvariantViolation(err) {
			return nil, err
		}
		// A paused or completed experiment must not block sends; the
		// recipient simply gets the campaign's default template.
		s.logger.Warn("variant assignment unavailable, scheduling without variant",
			map[string]interface{}{
				"campaign_id":   campaign.ID,
				"experiment_id": *campaign.ExperimentID,
				"error":         err.Error(),
			})
		return nil, nil
	}
	return &variantID, nil
}

func (s *Service) offset(campaign *model.Campaign) time.Duration {
	offset := campaign.SendOffset
	if offset == 0 {
		offset = s.cfg.SendOffset
	}
	if offset < s.cfg.MinOffset {
		offset = s.cfg.MinOffset
	}
	if offset > s.cfg.MaxOffset {
		offset = s.cfg.MaxOffset
	}
	return offset
}
