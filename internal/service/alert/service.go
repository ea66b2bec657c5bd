package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crm-res/outreach-api/internal/model"
	"github.com/crm-res/outreach-api/internal/repository"
	apperr "github.com/crm-res/outreach-api/pkg/errors"
	"github.com/crm-res/outreach-api/pkg/logger"
	"github.com/crm-res/outreach-api/pkg/messaging"
	"github.com/crm-res/outreach-api/pkg/metrics"
)

// Fallback dedup cool-down when the owning campaign has no defined duration.
const defaultCoolDown = 24 * time.Hour

// Notifier pushes high-urgency alerts out-of-band (email today). Implemented
// by internal/notifier.
type Notifier interface {
	NotifyAlert(ctx context.Context, alert *model.Alert) error
}

// Service evaluates alert rules against conversation events, deduplicates
// against open alerts and owns the acknowledge/resolve/dismiss workflow.
type Service struct {
	alerts    repository.AlertRepository
	campaigns repository.CampaignRepository
	outbox    repository.OutboxRepository
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *logger.Logger
	rules     []model.AlertRule

	now func() time.Time
}

func NewService(
	alerts repository.AlertRepository,
	campaigns repository.CampaignRepository,
	outbox repository.OutboxRepository,
	notifier Notifier,
	m *metrics.Metrics,
	log *logger.Logger,
	rules []model.AlertRule,
) *Service {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Service{
		alerts:    alerts,
		campaigns: campaigns,
		outbox:    outbox,
		notifier:  notifier,
		metrics:   m,
		logger:    log,
		rules:     sortRules(rules),
		now:       time.Now,
	}
}

// Evaluate runs every rule against the event in lexical rule-id order. One
// event may fire several rules; each firing either creates a new alert or
// folds into an open duplicate within the cool-down window.
func (s *Service) Evaluate(ctx context.Context, event *model.ConversationEvent) ([]*model.Alert, error) {
	now := s.now()
	coolDown := s.coolDownFor(ctx, event)

	var fired []*model.Alert
	for _, rule := range s.rules {
		matched, err := s.evaluate(ctx, rule.Predicate, event, now)
		if err != nil {
			s.logger.Error(err, "rule evaluation failed",
				map[string]interface{}{"rule_id": rule.ID})
			continue
		}
		if !matched {
			continue
		}

		alert, err := s.fire(ctx, rule, event, now.Add(-coolDown))
		if err != nil {
			return fired, err
		}
		if alert != nil {
			fired = append(fired, alert)
		}
	}
	return fired, nil
}

// fire creates the alert for one matched rule, unless an open alert for the
// same (rule, conversation) already exists inside the cool-down window. In
// that case the new occurrence is appended to the existing alert's details.
func (s *Service) fire(ctx context.Context, rule model.AlertRule, event *model.ConversationEvent, since time.Time) (*model.Alert, error) {
	var convID *uuid.UUID
	if event.ConversationID != uuid.Nil {
		id := event.ConversationID
		convID = &id
	}

	detail := detailFrom(event)

	existing, err := s.alerts.FindOpen(ctx, rule.ID, convID, since)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.alerts.AppendDetail(ctx, existing.ID, detail); err != nil {
			return nil, err
		}
		s.metrics.AlertsDeduplicated.Inc()
		return nil, nil
	}

	alert := &model.Alert{
		RestaurantID:   event.RestaurantID,
		CampaignID:     event.CampaignID,
		ConversationID: convID,
		RuleID:         rule.ID,
		Priority:       rule.Priority,
		Title:          rule.Title,
		Message:        rule.Message,
		Details:        model.AlertDetails{detail},
		Status:         model.AlertStatusPending,
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		return nil, err
	}
	s.metrics.AlertsCreated.WithLabelValues(rule.ID, string(rule.Priority)).Inc()
	s.publish(ctx, alert)

	if alert.Priority == model.AlertPriorityImmediate || alert.Priority == model.AlertPriorityHigh {
		if err := s.notifier.NotifyAlert(ctx, alert); err != nil {
			s.logger.Error(err, "failed to notify alert",
				map[string]interface{}{"alert_id": alert.ID})
		}
	}
	return alert, nil
}

// RaiseOperational records a delivery failure as a low-priority alert. No
// dedup: each exhausted message produces exactly one alert.
func (s *Service) RaiseOperational(ctx context.Context, campaignID, messageID uuid.UUID, reason string) {
	alert := &model.Alert{
		RestaurantID: s.restaurantFor(ctx, campaignID),
		CampaignID:   &campaignID,
		RuleID:       "operational_delivery_failure",
		Priority:     model.AlertPriorityLow,
		Title:        "Message delivery failed",
		Message:      "A campaign message could not be delivered.",
		Details: model.AlertDetails{{
			"message_id": messageID.String(),
			"reason":     reason,
		}},
		Status: model.AlertStatusPending,
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		s.logger.Error(err, "failed to raise operational alert",
			map[string]interface{}{"message_id": messageID})
		return
	}
	s.metrics.AlertsCreated.WithLabelValues(alert.RuleID, string(alert.Priority)).Inc()
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	return s.alerts.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, restaurantID uuid.UUID, status model.AlertStatus) ([]*model.Alert, error) {
	return s.alerts.List(ctx, restaurantID, status)
}

// Acknowledge moves a pending alert to acknowledged. Notes are part of the
// contract, not a UI nicety: an empty acknowledgment is rejected.
func (s *Service) Acknowledge(ctx context.Context, id uuid.UUID, actorID uuid.UUID, notes string) (*model.Alert, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, apperr.NewBusinessRule("notes_required",
			"acknowledging an alert requires non-empty notes")
	}

	alert, err := s.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status != model.AlertStatusPending {
		return nil, apperr.NewBusinessRule("invalid_alert_transition",
			fmt.Sprintf("cannot acknowledge alert in status %s", alert.Status))
	}

	now := s.now()
	alert.Status = model.AlertStatusAcknowledged
	alert.AcknowledgedBy = &actorID
	alert.AcknowledgedAt = &now
	alert.AckNotes = &notes
	if err := s.alerts.Update(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	alert, err := s.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status != model.AlertStatusAcknowledged {
		return nil, apperr.NewBusinessRule("invalid_alert_transition",
			fmt.Sprintf("cannot resolve alert in status %s", alert.Status))
	}

	now := s.now()
	alert.Status = model.AlertStatusResolved
	alert.ResolvedAt = &now
	if err := s.alerts.Update(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

func (s *Service) Dismiss(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	alert, err := s.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status != model.AlertStatusPending {
		return nil, apperr.NewBusinessRule("invalid_alert_transition",
			fmt.Sprintf("cannot dismiss alert in status %s", alert.Status))
	}

	now := s.now()
	alert.Status = model.AlertStatusDismissed
	alert.DismissedAt = &now
	if err := s.alerts.Update(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// Statistics aggregates the restaurant's alerts over a period for the
// dashboard rollup.
func (s *Service) Statistics(ctx context.Context, restaurantID uuid.UUID, from, to time.Time) (*model.AlertStatistics, error) {
	alerts, err := s.alerts.ListBetween(ctx, restaurantID, from, to)
	if err != nil {
		return nil, err
	}

	stats := &model.AlertStatistics{
		TotalAlerts: len(alerts),
		ByPriority:  make(map[model.AlertPriority]int),
		ByStatus:    make(map[model.AlertStatus]int),
	}

	ruleCounts := make(map[string]int)
	var ackTotal float64
	var ackCount int
	for _, a := range alerts {
		stats.ByPriority[a.Priority]++
		stats.ByStatus[a.Status]++
		ruleCounts[a.RuleID]++
		if a.AcknowledgedAt != nil {
			ackTotal += a.AcknowledgedAt.Sub(a.CreatedAt).Seconds()
			ackCount++
		}
	}
	if ackCount > 0 {
		avg := ackTotal / float64(ackCount)
		stats.AvgAckSeconds = &avg
	}
	stats.TopRules = topRules(ruleCounts, 5)
	return stats, nil
}

// coolDownFor is the owning campaign's duration when defined, otherwise the
// 24h default.
func (s *Service) coolDownFor(ctx context.Context, event *model.ConversationEvent) time.Duration {
	if event.CampaignID == nil {
		return defaultCoolDown
	}
	campaign, err := s.campaigns.Get(ctx, *event.CampaignID)
	if err != nil || campaign.ScheduledStart == nil || campaign.ScheduledEnd == nil {
		return defaultCoolDown
	}
	if d := campaign.ScheduledEnd.Sub(*campaign.ScheduledStart); d > 0 {
		return d
	}
	return defaultCoolDown
}

func (s *Service) restaurantFor(ctx context.Context, campaignID uuid.UUID) uuid.UUID {
	campaign, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return uuid.Nil
	}
	return campaign.RestaurantID
}

func (s *Service) publish(ctx context.Context, alert *model.Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		s.logger.Error(err, "failed to marshal alert",
			map[string]interface{}{"alert_id": alert.ID})
		return
	}
	if err := s.outbox.Create(ctx, &model.OutboxEvent{
		EventType: messaging.ChannelAlerts,
		Payload:   payload,
	}); err != nil {
		s.logger.Error(err, "failed to stage alert event",
			map[string]interface{}{"alert_id": alert.ID})
	}
}

func detailFrom(event *model.ConversationEvent) model.JSONMap {
	detail := model.JSONMap{
		"event_type":  string(event.Type),
		"occurred_at": event.OccurredAt,
	}
	if event.Rating != nil {
		detail["rating"] = *event.Rating
	}
	if event.SentimentScore != nil {
		detail["sentiment_score"] = *event.SentimentScore
	}
	if len(event.Categories) > 0 {
		cats := make([]interface{}, len(event.Categories))
		for i, c := range event.Categories {
			cats[i] = c
		}
		detail["category"] = event.Categories[0]
		detail["categories"] = cats
	}
	if event.Reason != "" {
		detail["reason"] = event.Reason
	}
	return detail
}

func topRules(counts map[string]int, limit int) []model.RuleCount {
	out := make([]model.RuleCount, 0, len(counts))
	for id, count := range counts {
		out = append(out, model.RuleCount{RuleID: id, Count: count})
	}
	// Highest count first, rule id as tiebreaker.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].RuleID < out[j].RuleID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
