package alert

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crm-res/outreach-api/internal/model"
	apperr "github.com/crm-res/outreach-api/pkg/errors"
	"github.com/crm-res/outreach-api/pkg/logger"
	"github.com/crm-res/outreach-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("test", "alert")

type fakeAlertRepo struct {
	alerts        map[uuid.UUID]*model.Alert
	created       []*model.Alert
	categoryCount int
	clock         func() time.Time
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{
		alerts: make(map[uuid.UUID]*model.Alert),
		clock:  time.Now,
	}
}

func (f *fakeAlertRepo) Create(ctx context.Context, alert *model.Alert) error {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = f.clock()
	}
	f.alerts[alert.ID] = alert
	f.created = append(f.created, alert)
	return nil
}

func (f *fakeAlertRepo) Get(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	alert, ok := f.alerts[id]
	if !ok {
		return nil, apperr.NewNotFound("alert not found", nil)
	}
	return alert, nil
}

func (f *fakeAlertRepo) Update(ctx context.Context, alert *model.Alert) error {
	f.alerts[alert.ID] = alert
	return nil
}

func (f *fakeAlertRepo) List(ctx context.Context, restaurantID uuid.UUID, status model.AlertStatus) ([]*model.Alert, error) {
	var out []*model.Alert
	for _, a := range f.alerts {
		if a.RestaurantID != restaurantID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAlertRepo) FindOpen(ctx context.Context, ruleID string, conversationID *uuid.UUID, since time.Time) (*model.Alert, error) {
	for _, a := range f.alerts {
		if a.RuleID != ruleID {
			continue
		}
		if a.Status != model.AlertStatusPending && a.Status != model.AlertStatusAcknowledged {
			continue
		}
		if a.CreatedAt.Before(since) {
			continue
		}
		if conversationID == nil {
			if a.ConversationID == nil {
				return a, nil
			}
			continue
		}
		if a.ConversationID != nil && *a.ConversationID == *conversationID {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAlertRepo) AppendDetail(ctx context.Context, id uuid.UUID, detail model.JSONMap) error {
	alert, ok := f.alerts[id]
	if !ok {
		return apperr.NewNotFound("alert not found", nil)
	}
	alert.Details = append(alert.Details, detail)
	return nil
}

func (f *fakeAlertRepo) CountByCategorySince(ctx context.Context, restaurantID uuid.UUID, category string, since time.Time) (int, error) {
	return f.categoryCount, nil
}

func (f *fakeAlertRepo) ListBetween(ctx context.Context, restaurantID uuid.UUID, from, to time.Time) ([]*model.Alert, error) {
	var out []*model.Alert
	for _, a := range f.alerts {
		if a.RestaurantID == restaurantID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeCampaignRepo struct {
	campaigns map[uuid.UUID]*model.Campaign
}

func (f *fakeCampaignRepo) Create(ctx context.Context, c *model.Campaign) error { return nil }

func (f *fakeCampaignRepo) Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, apperr.NewNotFound("campaign not found", nil)
	}
	return c, nil
}

func (f *fakeCampaignRepo) Update(ctx context.Context, c *model.Campaign) error { return nil }

func (f *fakeCampaignRepo) List(ctx context.Context, filters *model.CampaignFilters) ([]*model.Campaign, error) {
	return nil, nil
}

func (f *fakeCampaignRepo) ListActivatable(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	return nil, nil
}

func (f *fakeCampaignRepo) SoftDelete(ctx context.Context, id uuid.UUID) error { return nil }

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

type fakeNotifier struct {
	notified []*model.Alert
}

func (f *fakeNotifier) NotifyAlert(ctx context.Context, alert *model.Alert) error {
	f.notified = append(f.notified, alert)
	return nil
}

type alertFixture struct {
	svc      *Service
	alerts   *fakeAlertRepo
	outbox   *fakeOutboxRepo
	notifier *fakeNotifier
	now      time.Time
}

func newFixture(t *testing.T, rules []model.AlertRule) *alertFixture {
	t.Helper()
	f := &alertFixture{
		alerts:   newFakeAlertRepo(),
		outbox:   &fakeOutboxRepo{},
		notifier: &fakeNotifier{},
		now:      time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	f.alerts.clock = func() time.Time { return f.now }
	campaigns := &fakeCampaignRepo{campaigns: make(map[uuid.UUID]*model.Campaign)}
	f.svc = NewService(f.alerts, campaigns, f.outbox, f.notifier, testMetrics,
		logger.NewLogger(nil), rules)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func feedbackEvent(rating *int, sentiment *float64, categories ...string) *model.ConversationEvent {
	return &model.ConversationEvent{
		Type:           model.EventFeedbackReceived,
		ConversationID: uuid.New(),
		RestaurantID:   uuid.New(),
		Rating:         rating,
		SentimentScore: sentiment,
		Categories:     categories,
		OccurredAt:     time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func intPtr(v int) *int             { return &v }
func floatPtr(v float64) *float64   { return &v }

func TestEvaluateFiresLowRatingRule(t *testing.T) {
	f := newFixture(t, nil)

	fired, err := f.svc.Evaluate(context.Background(), feedbackEvent(intPtr(1), nil))
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, "low_rating_immediate", fired[0].RuleID)
	assert.Equal(t, model.AlertPriorityImmediate, fired[0].Priority)
	// Immediate alerts also go out-of-band.
	require.Len(t, f.notifier.notified, 1)
}

func TestEvaluateFiresMultipleRulesInLexicalOrder(t *testing.T) {
	f := newFixture(t, nil)

	// Rating 1 with strongly negative food quality feedback matches three
	// rules; firing order follows rule id.
	fired, err := f.svc.Evaluate(context.Background(),
		feedbackEvent(intPtr(1), floatPtr(-0.8), "food_quality"))
	require.NoError(t, err)
	require.Len(t, fired, 3)
	assert.Equal(t, "food_quality_issue", fired[0].RuleID)
	assert.Equal(t, "low_rating_immediate", fired[1].RuleID)
	assert.Equal(t, "negative_sentiment", fired[2].RuleID)
}

func TestEvaluateDeduplicatesWithinCoolDown(t *testing.T) {
	f := newFixture(t, nil)
	event := feedbackEvent(intPtr(1), nil)

	fired, err := f.svc.Evaluate(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	first := fired[0]

	// Same conversation again inside the cool-down folds into the open alert.
	f.now = f.now.Add(time.Hour)
	fired, err = f.svc.Evaluate(context.Background(), event)
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Len(t, f.alerts.created, 1)
	assert.Len(t, first.Details, 2)
}

func TestEvaluateCreatesNewAlertAfterCoolDown(t *testing.T) {
	f := newFixture(t, nil)
	event := feedbackEvent(intPtr(1), nil)

	_, err := f.svc.Evaluate(context.Background(), event)
	require.NoError(t, err)

	f.now = f.now.Add(25 * time.Hour)
	fired, err := f.svc.Evaluate(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Len(t, f.alerts.created, 2)
}

func TestEvaluateDistinctConversationsGetDistinctAlerts(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Evaluate(context.Background(), feedbackEvent(intPtr(1), nil))
	require.NoError(t, err)
	fired, err := f.svc.Evaluate(context.Background(), feedbackEvent(intPtr(0), nil))
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Len(t, f.alerts.created, 2)
}

func TestEvaluateFrequencyRule(t *testing.T) {
	f := newFixture(t, nil)
	f.alerts.categoryCount = 2

	// Two prior food quality complaints this week plus this one meets the
	// threshold; a sentiment of -0.4 also fires the category rule.
	fired, err := f.svc.Evaluate(context.Background(),
		feedbackEvent(nil, floatPtr(-0.4), "food_quality"))
	require.NoError(t, err)
	require.Len(t, fired, 2)
	assert.Equal(t, "food_quality_issue", fired[0].RuleID)
	assert.Equal(t, "repeated_issue", fired[1].RuleID)
}

func TestRaiseOperationalNeverDeduplicates(t *testing.T) {
	f := newFixture(t, nil)
	campaignID := uuid.New()

	f.svc.RaiseOperational(context.Background(), campaignID, uuid.New(), "retries exhausted")
	f.svc.RaiseOperational(context.Background(), campaignID, uuid.New(), "retries exhausted")

	assert.Len(t, f.alerts.created, 2)
	for _, a := range f.alerts.created {
		assert.Equal(t, "operational_delivery_failure", a.RuleID)
		assert.Equal(t, model.AlertPriorityLow, a.Priority)
	}
}

func TestAcknowledgeRequiresNotes(t *testing.T) {
	f := newFixture(t, nil)
	fired, err := f.svc.Evaluate(context.Background(), feedbackEvent(intPtr(1), nil))
	require.NoError(t, err)
	alert := fired[0]

	_, err = f.svc.Acknowledge(context.Background(), alert.ID, uuid.New(), "   ")
	assert.True(t, apperr.IsBusinessRule(err))
	assert.Equal(t, model.AlertStatusPending, alert.Status)

	actor := uuid.New()
	acked, err := f.svc.Acknowledge(context.Background(), alert.ID, actor, "calling the customer")
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusAcknowledged, acked.Status)
	assert.Equal(t, actor, *acked.AcknowledgedBy)
}

func TestAlertWorkflowTransitions(t *testing.T) {
	f := newFixture(t, nil)
	fired, err := f.svc.Evaluate(context.Background(), feedbackEvent(intPtr(1), nil))
	require.NoError(t, err)
	alert := fired[0]

	// Resolve requires acknowledged first.
	_, err = f.svc.Resolve(context.Background(), alert.ID)
	assert.True(t, apperr.IsBusinessRule(err))

	_, err = f.svc.Acknowledge(context.Background(), alert.ID, uuid.New(), "on it")
	require.NoError(t, err)

	// Dismiss only applies to pending alerts.
	_, err = f.svc.Dismiss(context.Background(), alert.ID)
	assert.True(t, apperr.IsBusinessRule(err))

	resolved, err := f.svc.Resolve(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)
}

func TestStatistics(t *testing.T) {
	f := newFixture(t, nil)
	restaurantID := uuid.New()

	event := feedbackEvent(intPtr(1), nil)
	event.RestaurantID = restaurantID
	fired, err := f.svc.Evaluate(context.Background(), event)
	require.NoError(t, err)

	f.now = f.now.Add(10 * time.Minute)
	_, err = f.svc.Acknowledge(context.Background(), fired[0].ID, uuid.New(), "handled")
	require.NoError(t, err)

	other := feedbackEvent(nil, floatPtr(-0.8))
	other.RestaurantID = restaurantID
	_, err = f.svc.Evaluate(context.Background(), other)
	require.NoError(t, err)

	stats, err := f.svc.Statistics(context.Background(), restaurantID, f.now.Add(-time.Hour), f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalAlerts)
	assert.Equal(t, 1, stats.ByPriority[model.AlertPriorityImmediate])
	assert.Equal(t, 1, stats.ByPriority[model.AlertPriorityHigh])
	assert.Equal(t, 1, stats.ByStatus[model.AlertStatusAcknowledged])
	require.NotNil(t, stats.AvgAckSeconds)
	assert.InDelta(t, 600, *stats.AvgAckSeconds, 1)
	assert.NotEmpty(t, stats.TopRules)
}
