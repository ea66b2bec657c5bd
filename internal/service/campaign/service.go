package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/crm-res/outreach-api/internal/model"
	"github.com/crm-res/outreach-api/internal/repository"
	apperr "github.com/crm-res/outreach-api/pkg/errors"
	"github.com/crm-res/outreach-api/pkg/logger"
)

// Service orchestrates campaign lifecycle, recipient import and metrics
// aggregation.
type Service struct {
	campaigns  repository.CampaignRepository
	recipients repository.RecipientRepository
	messages   repository.MessageRepository
	validate   *validator.Validate
	logger     *logger.Logger

	now func() time.Time
}

func NewService(
	campaigns repository.CampaignRepository,
	recipients repository.RecipientRepository,
	messages repository.MessageRepository,
	log *logger.Logger,
) *Service {
	return &Service{
		campaigns:  campaigns,
		recipients: recipients,
		messages:   messages,
		validate:   validator.New(),
		logger:     log,
		now:        time.Now,
	}
}

func (s *Service) Create(ctx context.Context, req *model.CreateCampaignRequest) (*model.Campaign, error) {
	campaign := &model.Campaign{
		RestaurantID:   req.RestaurantID,
		Name:           req.Name,
		Status:         model.CampaignStatusDraft,
		Locality:       req.Locality,
		ScheduledStart: req.ScheduledStart,
		ScheduledEnd:   req.ScheduledEnd,
		TemplateSteps:  req.TemplateSteps,
		SendOffset:     time.Duration(req.SendOffsetMins) * time.Minute,
		Settings:       req.Settings,
	}
	if req.ScheduledStart != nil && req.ScheduledEnd != nil {
		if !req.ScheduledEnd.After(*req.ScheduledStart) {
			return nil, apperr.NewBadRequest("scheduled_end must be after scheduled_start", nil)
		}
		campaign.Status = model.CampaignStatusScheduled
	}

	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	return s.campaigns.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filters *model.CampaignFilters) ([]*model.Campaign, error) {
	return s.campaigns.List(ctx, filters)
}

// SetWindow moves a draft campaign to scheduled with the given send window.
func (s *Service) SetWindow(ctx context.Context, id uuid.UUID, start, end time.Time) (*model.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignStatusDraft && campaign.Status != model.CampaignStatusScheduled {
		return nil, apperr.NewBusinessRule("campaign_not_schedulable",
			fmt.Sprintf("cannot set window on campaign in status %s", campaign.Status))
	}
	if !end.After(start) {
		return nil, apperr.NewBadRequest("scheduled_end must be after scheduled_start", nil)
	}

	campaign.ScheduledStart = &start
	campaign.ScheduledEnd = &end
	campaign.Status = model.CampaignStatusScheduled
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// AttachExperiment binds an experiment to a non-terminal campaign.
func (s *Service) AttachExperiment(ctx context.Context, id, experimentID uuid.UUID) (*model.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status.IsTerminal() {
		return nil, apperr.NewBusinessRule("campaign_terminal",
			fmt.Sprintf("cannot attach experiment to campaign in status %s", campaign.Status))
	}

	campaign.ExperimentID = &experimentID
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// ImportRecipients takes validated import tuples, drops duplicates inside the
// batch and against recipients already in the campaign, skips invalid entries
// and reports all three counts.
func (s *Service) ImportRecipients(ctx context.Context, campaignID uuid.UUID, entries []model.ImportEntry) (*model.ImportResult, error) {
	campaign, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status.IsTerminal() {
		return nil, apperr.NewBusinessRule("campaign_terminal",
			fmt.Sprintf("cannot import recipients into campaign in status %s", campaign.Status))
	}

	existing, err := s.recipients.ActivePhones(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	result := &model.ImportResult{}
	seen := make(map[string]bool)
	batch := make([]*model.Recipient, 0, len(entries))
	for _, entry := range entries {
		if err := s.validate.Struct(entry); err != nil {
			result.InvalidSkipped++
			continue
		}
		if seen[entry.PhoneNumber] || existing[entry.PhoneNumber] {
			result.DuplicatesRemoved++
			continue
		}
		seen[entry.PhoneNumber] = true
		batch = append(batch, &model.Recipient{
			CampaignID:     campaignID,
			PhoneNumber:    entry.PhoneNumber,
			VisitTimestamp: entry.VisitTimestamp,
			Status:         model.RecipientStatusPending,
			Metadata:       entry.Metadata,
		})
	}

	if err := s.recipients.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}
	result.Imported = len(batch)

	s.logger.Info("recipients imported", map[string]interface{}{
		"campaign_id": campaignID,
		"imported":    result.Imported,
		"duplicates":  result.DuplicatesRemoved,
		"invalid":     result.InvalidSkipped,
	})
	return result, nil
}

// AdvanceDue is the lifecycle sweep: scheduled campaigns whose window has
// opened and that have at least one recipient become active; active campaigns
// whose window has closed or whose messages have all reached a terminal
// status become completed.
func (s *Service) AdvanceDue(ctx context.Context) error {
	now := s.now()
	due, err := s.campaigns.ListActivatable(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list due campaigns: %w", err)
	}

	for _, campaign := range due {
		switch campaign.Status {
		case model.CampaignStatusScheduled:
			if err := s.activate(ctx, campaign); err != nil {
				s.logger.Error(err, "failed to activate campaign",
					map[string]interface{}{"campaign_id": campaign.ID})
			}
		case model.CampaignStatusActive:
			if err := s.maybeComplete(ctx, campaign, now); err != nil {
				s.logger.Error(err, "failed to complete campaign",
					map[string]interface{}{"campaign_id": campaign.ID})
			}
		}
	}
	return nil
}

func (s *Service) activate(ctx context.Context, campaign *model.Campaign) error {
	recipients, err := s.recipients.ListByCampaign(ctx, campaign.ID)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}
	campaign.Status = model.CampaignStatusActive
	return s.campaigns.Update(ctx, campaign)
}

func (s *Service) maybeComplete(ctx context.Context, campaign *model.Campaign, now time.Time) error {
	ended := campaign.ScheduledEnd != nil && campaign.ScheduledEnd.Before(now)
	if !ended {
		open, err := s.messages.CountOpen(ctx, campaign.ID)
		if err != nil {
			return err
		}
		total, err := s.messages.CountByStatus(ctx, campaign.ID)
		if err != nil {
			return err
		}
		if open > 0 || len(total) == 0 {
			return nil
		}
	}

	if ended {
		if _, err := s.messages.CancelOpenByCampaign(ctx, campaign.ID); err != nil {
			return err
		}
	}

	campaign.Status = model.CampaignStatusCompleted
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return err
	}
	return s.refreshMetrics(ctx, campaign)
}

// Cancel stops a campaign. Open messages become cancelled; messages already
// sent or delivered keep their status, because a cancelled label must never
// mask a message a customer actually received.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status.IsTerminal() {
		return nil, apperr.NewBusinessRule("campaign_terminal",
			fmt.Sprintf("cannot cancel campaign in status %s", campaign.Status))
	}

	cancelled, err := s.messages.CancelOpenByCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	campaign.Status = model.CampaignStatusCancelled
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return nil, err
	}

	s.logger.Info("campaign cancelled", map[string]interface{}{
		"campaign_id":        id,
		"messages_cancelled": cancelled,
	})
	if err := s.refreshMetrics(ctx, campaign); err != nil {
		s.logger.Error(err, "failed to refresh metrics after cancel",
			map[string]interface{}{"campaign_id": id})
	}
	return campaign, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.campaigns.SoftDelete(ctx, id)
}

// Metrics recomputes and returns the campaign's aggregated snapshot.
func (s *Service) Metrics(ctx context.Context, id uuid.UUID) (*model.CampaignMetrics, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.refreshMetrics(ctx, campaign); err != nil {
		return nil, err
	}
	return &campaign.Metrics, nil
}

func (s *Service) refreshMetrics(ctx context.Context, campaign *model.Campaign) error {
	counts, err := s.messages.CountByStatus(ctx, campaign.ID)
	if err != nil {
		return err
	}
	recipients, err := s.recipients.ListByCampaign(ctx, campaign.ID)
	if err != nil {
		return err
	}

	now := s.now()
	m := model.CampaignMetrics{
		TotalRecipients: len(recipients),
		Scheduled:       counts[model.MessageStatusScheduled] + counts[model.MessageStatusQueued],
		Sent:            counts[model.MessageStatusSent] + counts[model.MessageStatusDelivered] + counts[model.MessageStatusRead] + counts[model.MessageStatusResponded],
		Delivered:       counts[model.MessageStatusDelivered] + counts[model.MessageStatusRead] + counts[model.MessageStatusResponded],
		Responded:       counts[model.MessageStatusResponded],
		Failed:          counts[model.MessageStatusFailed],
		Cancelled:       counts[model.MessageStatusCancelled],
		UpdatedAt:       &now,
	}
	if m.Sent > 0 {
		m.ResponseRate = float64(m.Responded) / float64(m.Sent)
	}
	attempted := m.Sent + m.Failed
	if attempted > 0 {
		m.FailureRate = float64(m.Failed) / float64(attempted)
	}

	campaign.Metrics = m
	return s.campaigns.Update(ctx, campaign)
}
