package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crm-res/outreach-api/internal/config"
	"github.com/crm-res/outreach-api/internal/model"
	apperr "github.com/crm-res/outreach-api/pkg/errors"
	"github.com/crm-res/outreach-api/pkg/logger"
	"github.com/crm-res/outreach-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("test", "scheduler")

type fakeCampaignRepo struct {
	campaigns map[uuid.UUID]*model.Campaign
}

func (f *fakeCampaignRepo) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	f.campaigns[c.ID] = c
	return nil
}

func (f *fakeCampaignRepo) Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, apperr.NewNotFound("campaign not found", nil)
	}
	return c, nil
}

func (f *fakeCampaignRepo) Update(ctx context.Context, c *model.Campaign) error {
	f.campaigns[c.ID] = c
	return nil
}

func (f *fakeCampaignRepo) List(ctx context.Context, filters *model.CampaignFilters) ([]*model.Campaign, error) {
	var out []*model.Campaign
	for _, c := range f.campaigns {
		if filters.Status != "" && c.Status != filters.Status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCampaignRepo) ListActivatable(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	return nil, nil
}

func (f *fakeCampaignRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	delete(f.campaigns, id)
	return nil
}

type fakeRecipientRepo struct {
	recipients map[uuid.UUID]*model.Recipient
}

func (f *fakeRecipientRepo) CreateBatch(ctx context.Context, recipients []*model.Recipient) error {
	for _, r := range recipients {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		f.recipients[r.ID] = r
	}
	return nil
}

func (f *fakeRecipientRepo) Get(ctx context.Context, id uuid.UUID) (*model.Recipient, error) {
	r, ok := f.recipients[id]
	if !ok {
		return nil, apperr.NewNotFound("recipient not found", nil)
	}
	return r, nil
}

func (f *fakeRecipientRepo) Update(ctx context.Context, r *model.Recipient) error {
	f.recipients[r.ID] = r
	return nil
}

func (f *fakeRecipientRepo) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*model.Recipient, error) {
	var out []*model.Recipient
	for _, r := range f.recipients {
		if r.CampaignID == campaignID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecipientRepo) ListUnscheduled(ctx context.Context, campaignID uuid.UUID) ([]*model.Recipient, error) {
	var out []*model.Recipient
	for _, r := range f.recipients {
		if r.CampaignID == campaignID && r.ScheduledSendTime == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecipientRepo) ActivePhones(ctx context.Context, campaignID uuid.UUID) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, r := range f.recipients {
		if r.CampaignID == campaignID {
			out[r.PhoneNumber] = true
		}
	}
	return out, nil
}

func (f *fakeRecipientRepo) SetConversation(ctx context.Context, id, conversationID uuid.UUID) error {
	return nil
}

type fakeMessageRepo struct {
	created []*model.CampaignMessage
}

func (f *fakeMessageRepo) Create(ctx context.Context, msg *model.CampaignMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	f.created = append(f.created, msg)
	return nil
}

func (f *fakeMessageRepo) Get(ctx context.Context, id uuid.UUID) (*model.CampaignMessage, error) {
	return nil, apperr.NewNotFound("message not found", nil)
}

func (f *fakeMessageRepo) GetByExternalID(ctx context.Context, externalID string) (*model.CampaignMessage, error) {
	return nil, apperr.NewNotFound("message not found", nil)
}

func (f *fakeMessageRepo) Update(ctx context.Context, msg *model.CampaignMessage) error { return nil }

func (f *fakeMessageRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.CampaignMessage, error) {
	return nil, nil
}

func (f *fakeMessageRepo) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeMessageRepo) PriorStepStatus(ctx context.Context, recipientID uuid.UUID, step int) (*model.MessageStatus, error) {
	return nil, nil
}

func (f *fakeMessageRepo) CancelOpenByCampaign(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	return 0, nil
}

func (f *fakeMessageRepo) CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[model.MessageStatus]int, error) {
	return nil, nil
}

func (f *fakeMessageRepo) CountOpen(ctx context.Context, campaignID uuid.UUID) (int, error) {
	return 0, nil
}

// fakeBlackout blocks every instant inside [start, end).
type fakeBlackout struct {
	start, end time.Time
}

func (f *fakeBlackout) IsBlackout(ctx context.Context, locality string, instant time.Time) (bool, time.Time) {
	if f.start.IsZero() {
		return false, time.Time{}
	}
	if !instant.Before(f.start) && instant.Before(f.end) {
		return true, f.end
	}
	return false, time.Time{}
}

type fakeAssigner struct {
	variant string
	err     error
	calls   int
}

func (f *fakeAssigner) AssignOrGet(ctx context.Context, experimentID uuid.UUID, customerKey string) (string, error) {
	f.calls++
	return f.variant, f.err
}

type schedulerFixture struct {
	svc        *Service
	campaigns  *fakeCampaignRepo
	recipients *fakeRecipientRepo
	messages   *fakeMessageRepo
	blackout   *fakeBlackout
	assigner   *fakeAssigner
	now        time.Time
}

func newFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{
		campaigns:  &fakeCampaignRepo{campaigns: make(map[uuid.UUID]*model.Campaign)},
		recipients: &fakeRecipientRepo{recipients: make(map[uuid.UUID]*model.Recipient)},
		messages:   &fakeMessageRepo{},
		blackout:   &fakeBlackout{},
		assigner:   &fakeAssigner{},
		now:        time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.campaigns, f.recipients, f.messages, f.blackout, f.assigner,
		testMetrics, logger.NewLogger(nil), config.SchedulerConfig{
			SendOffset: 2 * time.Hour,
			MinOffset:  30 * time.Minute,
			MaxOffset:  48 * time.Hour,
		})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *schedulerFixture) campaign(steps int) *model.Campaign {
	c := &model.Campaign{
		RestaurantID: uuid.New(),
		Status:       model.CampaignStatusActive,
		Locality:     "riyadh",
	}
	for i := 1; i <= steps; i++ {
		c.TemplateSteps = append(c.TemplateSteps, model.TemplateStep{Step: i, TemplateID: "tpl"})
	}
	_ = f.campaigns.Create(context.Background(), c)
	return c
}

func (f *schedulerFixture) recipient(c *model.Campaign, visit time.Time) *model.Recipient {
	r := &model.Recipient{
		CampaignID:     c.ID,
		PhoneNumber:    "+15551230001",
		VisitTimestamp: visit,
		Status:         model.RecipientStatusPending,
	}
	_ = f.recipients.CreateBatch(context.Background(), []*model.Recipient{r})
	return r
}

func TestScheduleVisitOffsetOutsideBlackout(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(1)
	r := f.recipient(c, f.now.Add(time.Hour))

	msgs, err := f.svc.Schedule(context.Background(), c, r)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, f.now.Add(3*time.Hour), msgs[0].ScheduledSendTime)
	assert.Equal(t, model.MessageStatusScheduled, msgs[0].Status)
	require.NotNil(t, r.ScheduledSendTime)
	assert.Equal(t, msgs[0].ScheduledSendTime, *r.ScheduledSendTime)
}

func TestScheduleShiftsOutOfBlackoutWindow(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(1)
	r := f.recipient(c, f.now)

	// visit + 2h lands squarely inside the window; the send moves to its end.
	f.blackout.start = f.now.Add(90 * time.Minute)
	f.blackout.end = f.now.Add(150 * time.Minute)

	msgs, err := f.svc.Schedule(context.Background(), c, r)
	require.NoError(t, err)
	assert.Equal(t, f.blackout.end, msgs[0].ScheduledSendTime)
}

func TestScheduleClampsPastVisits(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(1)
	r := f.recipient(c, f.now.Add(-24*time.Hour))

	msgs, err := f.svc.Schedule(context.Background(), c, r)
	require.NoError(t, err)
	assert.Equal(t, f.now, msgs[0].ScheduledSendTime)
}

func TestScheduleMultiStepSpacing(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(3)
	r := f.recipient(c, f.now.Add(time.Hour))

	msgs, err := f.svc.Schedule(context.Background(), c, r)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	base := f.now.Add(3 * time.Hour)
	assert.Equal(t, base, msgs[0].ScheduledSendTime)
	assert.Equal(t, base.Add(24*time.Hour), msgs[1].ScheduledSendTime)
	assert.Equal(t, base.Add(48*time.Hour), msgs[2].ScheduledSendTime)
}

func TestScheduleCancelsStepsPastCampaignEnd(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(2)
	end := f.now.Add(12 * time.Hour)
	c.ScheduledEnd = &end
	r := f.recipient(c, f.now.Add(time.Hour))

	msgs, err := f.svc.Schedule(context.Background(), c, r)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.MessageStatusScheduled, msgs[0].Status)
	assert.Equal(t, model.MessageStatusCancelled, msgs[1].Status)
}

func TestScheduleRejectsTerminalCampaign(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(1)
	c.Status = model.CampaignStatusCancelled
	r := f.recipient(c, f.now)

	_, err := f.svc.Schedule(context.Background(), c, r)
	assert.True(t, apperr.IsBusinessRule(err))
}

func TestScheduleRejectsCampaignWithoutSteps(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(0)
	r := f.recipient(c, f.now)

	_, err := f.svc.Schedule(context.Background(), c, r)
	assert.True(t, apperr.IsBusinessRule(err))
}

func TestScheduleAssignsVariant(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(1)
	expID := uuid.New()
	c.ExperimentID = &expID
	f.assigner.variant = "b"
	r := f.recipient(c, f.now.Add(time.Hour))

	msgs, err := f.svc.Schedule(context.Background(), c, r)
	require.NoError(t, err)
	require.NotNil(t, msgs[0].VariantID)
	assert.Equal(t, "b", *msgs[0].VariantID)
}

func TestScheduleContinuesWithoutVariantWhenExperimentStopped(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(1)
	expID := uuid.New()
	c.ExperimentID = &expID
	f.assigner.err = apperr.NewBusinessRule("experiment_not_running", "paused")
	r := f.recipient(c, f.now.Add(time.Hour))

	msgs, err := f.svc.Schedule(context.Background(), c, r)
	require.NoError(t, err)
	assert.Nil(t, msgs[0].VariantID)
}

func TestSchedulePropagatesInvariantViolations(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(1)
	expID := uuid.New()
	c.ExperimentID = &expID
	f.assigner.err = apperr.NewInvariantViolation("unknown variant", nil)
	r := f.recipient(c, f.now.Add(time.Hour))

	_, err := f.svc.Schedule(context.Background(), c, r)
	assert.True(t, apperr.IsInvariantViolation(err))
}

func TestSweepSchedulesUnscheduledRecipients(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(1)
	f.recipient(c, f.now.Add(time.Hour))
	scheduled := f.recipient(c, f.now.Add(time.Hour))
	at := f.now
	scheduled.ScheduledSendTime = &at

	require.NoError(t, f.svc.Sweep(context.Background()))
	assert.Len(t, f.messages.created, 1)
}
