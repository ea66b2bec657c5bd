package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crm-res/outreach-api/internal/config"
	"github.com/crm-res/outreach-api/internal/model"
	"github.com/crm-res/outreach-api/internal/repository"
	apperr "github.com/crm-res/outreach-api/pkg/errors"
	"github.com/crm-res/outreach-api/pkg/logger"
	"github.com/crm-res/outreach-api/pkg/messaging"
	"github.com/crm-res/outreach-api/pkg/metrics"
)

// Sentiment at or below this score counts as a strongly negative signal.
const strongNegativeSentiment = -0.5

// InboundMessage is one customer message handed over by the reply webhook.
type InboundMessage struct {
	RestaurantID uuid.UUID
	CustomerID   uuid.UUID
	CampaignID   *uuid.UUID
	Type         model.ConversationType
	Text         string
	Rating       *int
	Categories   []string
}

// Service owns conversation state transitions. Every transition returns the
// domain events it produced; the caller feeds them to the alert engine
// synchronously so evaluation order follows transition order.
type Service struct {
	conversations repository.ConversationRepository
	outbox        repository.OutboxRepository
	scorer        Scorer
	metrics       *metrics.Metrics
	logger        *logger.Logger
	cfg           config.ConversationConfig

	now func() time.Time
}

func NewService(
	conversations repository.ConversationRepository,
	outbox repository.OutboxRepository,
	scorer Scorer,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg config.ConversationConfig,
) *Service {
	return &Service{
		conversations: conversations,
		outbox:        outbox,
		scorer:        scorer,
		metrics:       m,
		logger:        log,
		cfg:           cfg,
		now:           time.Now,
	}
}

// legalTransitions is the closed set of valid status moves. Resolved and
// abandoned have no outgoing edges; an escalated conversation is closed only
// by explicit operator action.
var legalTransitions = map[model.ConversationStatus][]model.ConversationStatus{
	model.ConversationStatusActive: {
		model.ConversationStatusEscalated,
		model.ConversationStatusResolved,
		model.ConversationStatusAbandoned,
	},
	model.ConversationStatusEscalated: {
		model.ConversationStatusResolved,
	},
}

func canTransition(from, to model.ConversationStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	return s.conversations.Get(ctx, id)
}

// HandleInbound records a customer message, creating a new conversation when
// none is active. A message arriving after the previous conversation resolved
// always starts a new one; resolved conversations are never reopened.
func (s *Service) HandleInbound(ctx context.Context, in *InboundMessage) (*model.Conversation, []model.ConversationEvent, error) {
	var events []model.ConversationEvent
	now := s.now()

	conv, err := s.conversations.GetActiveByCustomer(ctx, in.RestaurantID, in.CustomerID)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		conv = &model.Conversation{
			CustomerID:     in.CustomerID,
			RestaurantID:   in.RestaurantID,
			CampaignID:     in.CampaignID,
			Status:         model.ConversationStatusActive,
			Type:           in.Type,
			StartedAt:      now,
			LastActivityAt: now,
		}
		if conv.Type == "" {
			conv.Type = model.ConversationTypeGeneral
		}
		if err := s.conversations.Create(ctx, conv); err != nil {
			return nil, nil, err
		}
		events = append(events, s.event(conv, model.EventConversationStarted, "", ""))
	}

	label, score, _, err := s.scorer.Score(ctx, in.Text)
	if err != nil {
		// Scoring is advisory; an unavailable scorer must not drop the
		// customer's message.
		s.logger.Warn("sentiment scoring unavailable",
			map[string]interface{}{"conversation_id": conv.ID, "error": err.Error()})
		label, score = "neutral", 0
	}

	msg := &model.ConversationMessage{
		ConversationID: conv.ID,
		Sender:         model.SenderCustomer,
		Content:        in.Text,
		SentimentLabel: &label,
		SentimentScore: &score,
	}
	if err := s.conversations.AddMessage(ctx, msg); err != nil {
		return nil, nil, err
	}

	conv.LastActivityAt = now
	if err := s.conversations.Update(ctx, conv); err != nil {
		return nil, nil, err
	}

	feedback := s.event(conv, model.EventFeedbackReceived, "", "")
	feedback.Rating = in.Rating
	feedback.SentimentScore = &score
	feedback.Categories = in.Categories
	events = append(events, feedback)

	if score <= strongNegativeSentiment && conv.Status == model.ConversationStatusActive {
		escalated, err := s.transition(ctx, conv, model.ConversationStatusEscalated, "negative_sentiment", false)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, escalated...)
	}

	return conv, events, nil
}

// RecordAITurn records an AI reply and updates the rolling confidence, which
// is the confidence of this most recent turn, not an average: one bad turn
// after many good ones must still escalate.
func (s *Service) RecordAITurn(ctx context.Context, conversationID uuid.UUID, content string, confidence float64) ([]model.ConversationEvent, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status.IsTerminal() {
		return nil, apperr.NewBusinessRule("conversation_closed",
			fmt.Sprintf("conversation %s is %s", conv.ID, conv.Status))
	}

	msg := &model.ConversationMessage{
		ConversationID: conversationID,
		Sender:         model.SenderAI,
		Content:        content,
		Confidence:     &confidence,
	}
	if err := s.conversations.AddMessage(ctx, msg); err != nil {
		return nil, err
	}

	conv.AIConfidence = confidence
	conv.LastActivityAt = s.now()
	if err := s.conversations.Update(ctx, conv); err != nil {
		return nil, err
	}

	if confidence < s.cfg.EscalationThreshold && conv.Status == model.ConversationStatusActive {
		return s.transition(ctx, conv, model.ConversationStatusEscalated, "low_ai_confidence", false)
	}
	return nil, nil
}

// RecordStaffTurn appends a staff message without any state change.
func (s *Service) RecordStaffTurn(ctx context.Context, conversationID uuid.UUID, content string) error {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Status.IsTerminal() {
		return apperr.NewBusinessRule("conversation_closed",
			fmt.Sprintf("conversation %s is %s", conv.ID, conv.Status))
	}

	if err := s.conversations.AddMessage(ctx, &model.ConversationMessage{
		ConversationID: conversationID,
		Sender:         model.SenderStaff,
		Content:        content,
	}); err != nil {
		return err
	}

	conv.LastActivityAt = s.now()
	return s.conversations.Update(ctx, conv)
}

// Escalate moves a conversation to escalated on explicit operator action.
func (s *Service) Escalate(ctx context.Context, id uuid.UUID, reason string) ([]model.ConversationEvent, error) {
	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, conv, model.ConversationStatusEscalated, reason, true)
}

// Resolve closes a conversation. An escalated conversation accepts resolution
// only from staff; AI-confidence recovery alone never closes the loop.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, actor model.SenderType, reason string) ([]model.ConversationEvent, error) {
	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Status == model.ConversationStatusEscalated && actor != model.SenderStaff {
		return nil, apperr.NewBusinessRule("operator_required",
			"an escalated conversation can only be resolved by staff")
	}
	return s.transition(ctx, conv, model.ConversationStatusResolved, reason, actor == model.SenderStaff)
}

// SweepAbandoned abandons active conversations with no activity inside the
// configured window. Escalated conversations are exempt: they are waiting on
// a human, not the customer.
func (s *Service) SweepAbandoned(ctx context.Context) ([]model.ConversationEvent, error) {
	cutoff := s.now().Add(-s.cfg.AbandonAfter)
	stale, err := s.conversations.ListInactiveSince(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	var events []model.ConversationEvent
	for _, conv := range stale {
		if conv.Status != model.ConversationStatusActive {
			continue
		}
		abandoned, err := s.transition(ctx, conv, model.ConversationStatusAbandoned, "inactivity_timeout", false)
		if err != nil {
			s.logger.Error(err, "failed to abandon conversation",
				map[string]interface{}{"conversation_id": conv.ID})
			continue
		}
		events = append(events, abandoned...)
	}
	return events, nil
}

// transition applies a validated status change. An illegal move requested by
// an operator is a business rejection; an illegal move reached from internal
// code is an integrity error, surfaced loudly.
func (s *Service) transition(ctx context.Context, conv *model.Conversation, to model.ConversationStatus, reason string, operator bool) ([]model.ConversationEvent, error) {
	from := conv.Status
	if !canTransition(from, to) {
		if operator {
			return nil, apperr.NewBusinessRule("invalid_transition",
				fmt.Sprintf("cannot move conversation from %s to %s", from, to))
		}
		return nil, apperr.NewInvariantViolation(
			fmt.Sprintf("illegal conversation transition %s -> %s for %s", from, to, conv.ID), nil)
	}

	now := s.now()
	conv.Status = to
	conv.LastActivityAt = now
	switch to {
	case model.ConversationStatusEscalated:
		conv.EscalatedAt = &now
	case model.ConversationStatusResolved:
		conv.ResolvedAt = &now
	}

	if err := s.conversations.Update(ctx, conv); err != nil {
		conv.Status = from
		return nil, err
	}
	s.metrics.ConversationTransitions.WithLabelValues(string(from), string(to)).Inc()

	event := s.event(conv, eventTypeFor(to), from, reason)
	s.publish(ctx, event)
	return []model.ConversationEvent{event}, nil
}

func eventTypeFor(to model.ConversationStatus) model.ConversationEventType {
	switch to {
	case model.ConversationStatusEscalated:
		return model.EventConversationEscalated
	case model.ConversationStatusResolved:
		return model.EventConversationResolved
	case model.ConversationStatusAbandoned:
		return model.EventConversationAbandoned
	default:
		return model.EventConversationStarted
	}
}

func (s *Service) event(conv *model.Conversation, typ model.ConversationEventType, from model.ConversationStatus, reason string) model.ConversationEvent {
	return model.ConversationEvent{
		Type:           typ,
		ConversationID: conv.ID,
		RestaurantID:   conv.RestaurantID,
		CampaignID:     conv.CampaignID,
		From:           from,
		To:             conv.Status,
		Reason:         reason,
		OccurredAt:     s.now(),
	}
}

// publish stages the event in the outbox; the outbox processor forwards it to
// the broker's conversation channel for the dashboard layer.
func (s *Service) publish(ctx context.Context, event model.ConversationEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error(err, "failed to marshal conversation event",
			map[string]interface{}{"conversation_id": event.ConversationID})
		return
	}
	if err := s.outbox.Create(ctx, &model.OutboxEvent{
		EventType: messaging.ChannelConversationEvents,
		Payload:   payload,
	}); err != nil {
		s.logger.Error(err, "failed to stage conversation event",
			map[string]interface{}{"conversation_id": event.ConversationID})
	}
}
