package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crm-res/outreach-api/internal/config"
	"github.com/crm-res/outreach-api/internal/model"
	apperr "github.com/crm-res/outreach-api/pkg/errors"
	"github.com/crm-res/outreach-api/pkg/logger"
	"github.com/crm-res/outreach-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("test", "conversation")

type fakeConversationRepo struct {
	conversations map[uuid.UUID]*model.Conversation
	messages      []*model.ConversationMessage
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{conversations: make(map[uuid.UUID]*model.Conversation)}
}

func (f *fakeConversationRepo) Create(ctx context.Context, conv *model.Conversation) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	f.conversations[conv.ID] = conv
	return nil
}

func (f *fakeConversationRepo) Get(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	conv, ok := f.conversations[id]
	if !ok {
		return nil, apperr.NewNotFound("conversation not found", nil)
	}
	return conv, nil
}

func (f *fakeConversationRepo) Update(ctx context.Context, conv *model.Conversation) error {
	f.conversations[conv.ID] = conv
	return nil
}

func (f *fakeConversationRepo) AddMessage(ctx context.Context, msg *model.ConversationMessage) error {
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeConversationRepo) GetActiveByCustomer(ctx context.Context, restaurantID, customerID uuid.UUID) (*model.Conversation, error) {
	for _, conv := range f.conversations {
		if conv.RestaurantID == restaurantID && conv.CustomerID == customerID &&
			(conv.Status == model.ConversationStatusActive || conv.Status == model.ConversationStatusEscalated) {
			return conv, nil
		}
	}
	return nil, nil
}

func (f *fakeConversationRepo) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]*model.Conversation, error) {
	var out []*model.Conversation
	for _, conv := range f.conversations {
		if conv.Status.IsTerminal() {
			continue
		}
		if conv.LastActivityAt.Before(cutoff) {
			out = append(out, conv)
		}
	}
	return out, nil
}

type fakeOutboxRepo struct {
	events []*model.OutboxEvent
}

func (f *fakeOutboxRepo) Create(ctx context.Context, event *model.OutboxEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutboxRepo) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutboxRepo) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status string, errorMessage *string, processedAt *time.Time) error {
	return nil
}

func (f *fakeOutboxRepo) BeginTx(ctx context.Context) (*sqlx.Tx, error) { return nil, nil }

func (f *fakeOutboxRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakeScorer struct {
	score float64
	err   error
}

func (f *fakeScorer) Score(ctx context.Context, text string) (string, float64, float64, error) {
	if f.err != nil {
		return "", 0, 0, f.err
	}
	label := "neutral"
	if f.score <= -0.05 {
		label = "negative"
	} else if f.score >= 0.05 {
		label = "positive"
	}
	return label, f.score, 0.9, nil
}

type conversationFixture struct {
	svc    *Service
	repo   *fakeConversationRepo
	outbox *fakeOutboxRepo
	scorer *fakeScorer
	now    time.Time
}

func newFixture(t *testing.T) *conversationFixture {
	t.Helper()
	f := &conversationFixture{
		repo:   newFakeConversationRepo(),
		outbox: &fakeOutboxRepo{},
		scorer: &fakeScorer{},
		now:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, f.outbox, f.scorer, testMetrics, logger.NewLogger(nil),
		config.ConversationConfig{
			EscalationThreshold: 0.5,
			AbandonAfter:        24 * time.Hour,
		})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *conversationFixture) inbound() *InboundMessage {
	return &InboundMessage{
		RestaurantID: uuid.New(),
		CustomerID:   uuid.New(),
		Type:         model.ConversationTypeFeedback,
		Text:         "the food was fine",
	}
}

func TestTransitionLegality(t *testing.T) {
	tests := []struct {
		from model.ConversationStatus
		to   model.ConversationStatus
		want bool
	}{
		{model.ConversationStatusActive, model.ConversationStatusEscalated, true},
		{model.ConversationStatusActive, model.ConversationStatusResolved, true},
		{model.ConversationStatusActive, model.ConversationStatusAbandoned, true},
		{model.ConversationStatusEscalated, model.ConversationStatusResolved, true},
		{model.ConversationStatusEscalated, model.ConversationStatusAbandoned, false},
		{model.ConversationStatusEscalated, model.ConversationStatusActive, false},
		{model.ConversationStatusResolved, model.ConversationStatusActive, false},
		{model.ConversationStatusResolved, model.ConversationStatusEscalated, false},
		{model.ConversationStatusAbandoned, model.ConversationStatusResolved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, canTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestHandleInboundCreatesConversation(t *testing.T) {
	f := newFixture(t)

	conv, events, err := f.svc.HandleInbound(context.Background(), f.inbound())
	require.NoError(t, err)
	assert.Equal(t, model.ConversationStatusActive, conv.Status)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventConversationStarted, events[0].Type)
	assert.Equal(t, model.EventFeedbackReceived, events[1].Type)
	require.Len(t, f.repo.messages, 1)
	assert.Equal(t, model.SenderCustomer, f.repo.messages[0].Sender)
}

func TestHandleInboundReusesActiveConversation(t *testing.T) {
	f := newFixture(t)
	in := f.inbound()

	first, _, err := f.svc.HandleInbound(context.Background(), in)
	require.NoError(t, err)
	second, events, err := f.svc.HandleInbound(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	// No started event the second time.
	require.Len(t, events, 1)
	assert.Equal(t, model.EventFeedbackReceived, events[0].Type)
}

func TestHandleInboundAfterResolvedStartsNewConversation(t *testing.T) {
	f := newFixture(t)
	in := f.inbound()

	first, _, err := f.svc.HandleInbound(context.Background(), in)
	require.NoError(t, err)
	_, err = f.svc.Resolve(context.Background(), first.ID, model.SenderCustomer, "done")
	require.NoError(t, err)

	second, _, err := f.svc.HandleInbound(context.Background(), in)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, model.ConversationStatusResolved, first.Status)
	assert.Equal(t, model.ConversationStatusActive, second.Status)
}

func TestHandleInboundEscalatesOnStrongNegativeSentiment(t *testing.T) {
	f := newFixture(t)
	f.scorer.score = -0.7

	conv, events, err := f.svc.HandleInbound(context.Background(), f.inbound())
	require.NoError(t, err)
	assert.Equal(t, model.ConversationStatusEscalated, conv.Status)
	assert.Equal(t, model.EventConversationEscalated, events[len(events)-1].Type)
	assert.Equal(t, "negative_sentiment", events[len(events)-1].Reason)
}

func TestHandleInboundScorerFailureIsAdvisory(t *testing.T) {
	f := newFixture(t)
	f.scorer.err = assert.AnError

	conv, _, err := f.svc.HandleInbound(context.Background(), f.inbound())
	require.NoError(t, err)
	assert.Equal(t, model.ConversationStatusActive, conv.Status)
	require.Len(t, f.repo.messages, 1)
}

func TestRecordAITurnEscalatesOnRecentConfidence(t *testing.T) {
	f := newFixture(t)
	conv, _, err := f.svc.HandleInbound(context.Background(), f.inbound())
	require.NoError(t, err)

	// Confidence is the latest turn, not an average: 0.9 and 0.85 keep the
	// conversation active, 0.3 escalates even though the mean is above 0.5.
	events, err := f.svc.RecordAITurn(context.Background(), conv.ID, "reply one", 0.9)
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = f.svc.RecordAITurn(context.Background(), conv.ID, "reply two", 0.85)
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = f.svc.RecordAITurn(context.Background(), conv.ID, "reply three", 0.3)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventConversationEscalated, events[0].Type)
	assert.Equal(t, model.ConversationStatusEscalated, conv.Status)
	assert.Equal(t, 0.3, conv.AIConfidence)
}

func TestRecordAITurnOnEscalatedDoesNotReEscalate(t *testing.T) {
	f := newFixture(t)
	conv, _, err := f.svc.HandleInbound(context.Background(), f.inbound())
	require.NoError(t, err)
	_, err = f.svc.Escalate(context.Background(), conv.ID, "operator_request")
	require.NoError(t, err)

	events, err := f.svc.RecordAITurn(context.Background(), conv.ID, "reply", 0.1)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, model.ConversationStatusEscalated, conv.Status)
}

func TestResolveEscalatedRequiresStaff(t *testing.T) {
	f := newFixture(t)
	conv, _, err := f.svc.HandleInbound(context.Background(), f.inbound())
	require.NoError(t, err)
	_, err = f.svc.Escalate(context.Background(), conv.ID, "operator_request")
	require.NoError(t, err)

	_, err = f.svc.Resolve(context.Background(), conv.ID, model.SenderAI, "confidence recovered")
	assert.True(t, apperr.IsBusinessRule(err))
	assert.Equal(t, model.ConversationStatusEscalated, conv.Status)

	events, err := f.svc.Resolve(context.Background(), conv.ID, model.SenderStaff, "handled")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ConversationStatusResolved, conv.Status)
	assert.NotNil(t, conv.ResolvedAt)
}

func TestEscalateResolvedIsRejected(t *testing.T) {
	f := newFixture(t)
	conv, _, err := f.svc.HandleInbound(context.Background(), f.inbound())
	require.NoError(t, err)
	_, err = f.svc.Resolve(context.Background(), conv.ID, model.SenderStaff, "done")
	require.NoError(t, err)

	_, err = f.svc.Escalate(context.Background(), conv.ID, "too late")
	assert.True(t, apperr.IsBusinessRule(err))
}

func TestSweepAbandonedOnlyTouchesActive(t *testing.T) {
	f := newFixture(t)

	stale, _, err := f.svc.HandleInbound(context.Background(), f.inbound())
	require.NoError(t, err)
	escalated, _, err := f.svc.HandleInbound(context.Background(), f.inbound())
	require.NoError(t, err)
	_, err = f.svc.Escalate(context.Background(), escalated.ID, "operator_request")
	require.NoError(t, err)

	// Both conversations go quiet past the abandonment window.
	f.now = f.now.Add(25 * time.Hour)

	events, err := f.svc.SweepAbandoned(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stale.ID, events[0].ConversationID)
	assert.Equal(t, model.ConversationStatusAbandoned, stale.Status)
	// Escalated conversations wait on a human, not the customer.
	assert.Equal(t, model.ConversationStatusEscalated, escalated.Status)
}

func TestTransitionsStageOutboxEvents(t *testing.T) {
	f := newFixture(t)
	conv, _, err := f.svc.HandleInbound(context.Background(), f.inbound())
	require.NoError(t, err)
	_, err = f.svc.Escalate(context.Background(), conv.ID, "operator_request")
	require.NoError(t, err)

	require.NotEmpty(t, f.outbox.events)
	last := f.outbox.events[len(f.outbox.events)-1]
	assert.Equal(t, "conversation_events", last.EventType)
}
