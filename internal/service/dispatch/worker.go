package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/crm-res/outreach-api/internal/config"
	"github.com/crm-res/outreach-api/internal/model"
	"github.com/crm-res/outreach-api/internal/repository"
	"github.com/crm-res/outreach-api/internal/transport"
	apperr "github.com/crm-res/outreach-api/pkg/errors"
	"github.com/crm-res/outreach-api/pkg/logger"
	"github.com/crm-res/outreach-api/pkg/metrics"
)

const (
	// Delay before re-checking a message whose prior step has not reached sent.
	stepHoldback = 15 * time.Minute

	// A message claimed longer ago than this without reaching sent belongs to
	// a worker that died; it is returned to the schedule.
	staleQueuedAfter = 10 * time.Minute
)

// OperationalAlerter surfaces delivery failures to operators. Implemented by
// the alert service; declared here so dispatch does not depend on it.
type OperationalAlerter interface {
	RaiseOperational(ctx context.Context, campaignID, messageID uuid.UUID, reason string)
}

// BlackoutProvider answers whether an instant falls in a prohibited send
// window. Implemented by the blackout provider; declared here so dispatch
// does not depend on it.
type BlackoutProvider interface {
	IsBlackout(ctx context.Context, locality string, instant time.Time) (bool, time.Time)
}

// Worker pulls due messages from storage and pushes them through the
// transport. A pool of workers shares one global rate limiter; when the send
// budget is exhausted jobs wait rather than fail.
type Worker struct {
	messages   repository.MessageRepository
	recipients repository.RecipientRepository
	campaigns  repository.CampaignRepository
	sender     transport.Sender
	renderer   Renderer
	limiter    *rate.Limiter
	blackout   BlackoutProvider
	alerter    OperationalAlerter
	metrics    *metrics.Metrics
	logger     *logger.Logger
	cfg        config.DispatchConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewWorker(
	messages repository.MessageRepository,
	recipients repository.RecipientRepository,
	campaigns repository.CampaignRepository,
	sender transport.Sender,
	renderer Renderer,
	blackout BlackoutProvider,
	alerter OperationalAlerter,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg config.DispatchConfig,
) *Worker {
	return &Worker{
		messages:   messages,
		recipients: recipients,
		campaigns:  campaigns,
		sender:     sender,
		renderer:   renderer,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
		blackout:   blackout,
		alerter:    alerter,
		metrics:    m,
		logger:     log,
		cfg:        cfg,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Run polls for due messages and fans them out to a worker pool until the
// context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	jobs := make(chan *model.CampaignMessage)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				w.Dispatch(ctx, msg)
			}
		}()
	}

	// Messages stranded in queued by a previous crash or shutdown go back to
	// the schedule before normal polling starts.
	w.requeueStale(ctx)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case <-ticker.C:
			w.requeueStale(ctx)
			due, err := w.messages.ClaimDue(ctx, w.now(), w.cfg.BatchSize)
			if err != nil {
				w.logger.Error(err, "failed to claim due messages")
				continue
			}
			w.metrics.DispatchQueueSize.Set(float64(len(due)))
			for _, msg := range due {
				select {
				case jobs <- msg:
				case <-ctx.Done():
					close(jobs)
					wg.Wait()
					return
				}
			}
		}
	}
}

// Dispatch pushes one claimed message through the transport, retrying
// transient failures with backoff up to the attempt budget.
func (w *Worker) Dispatch(ctx context.Context, msg *model.CampaignMessage) {
	campaign, err := w.campaigns.Get(ctx, msg.CampaignID)
	if err != nil {
		w.logger.Error(err, "failed to load campaign for dispatch",
			map[string]interface{}{"message_id": msg.ID})
		return
	}
	recipient, err := w.recipients.Get(ctx, msg.RecipientID)
	if err != nil {
		w.logger.Error(err, "failed to load recipient for dispatch",
			map[string]interface{}{"message_id": msg.ID})
		return
	}

	// A cancel that raced the claim wins: the message goes back to
	// cancelled instead of being sent.
	if campaign.Status.IsTerminal() {
		w.transition(ctx, msg, model.MessageStatusCancelled)
		return
	}

	if hold, cancel := w.checkStepOrder(ctx, msg); cancel {
		w.transition(ctx, msg, model.MessageStatusCancelled)
		return
	} else if hold {
		w.holdBack(ctx, campaign, msg)
		return
	}

	content, err := w.renderer.Render(ctx, campaign, msg, recipient)
	if err != nil {
		w.fail(ctx, msg, err)
		return
	}

	for {
		waitStart := w.now()
		if err := w.limiter.Wait(ctx); err != nil {
			// Shutdown mid-wait; hand the message back to the schedule.
			w.release(msg)
			return
		}
		w.metrics.RateLimiterWait.Observe(w.now().Sub(waitStart).Seconds())

		sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
		sendStart := w.now()
		externalID, err := w.sender.Send(sendCtx, recipient.PhoneNumber, content, msg.ID.String())
		cancel()
		w.metrics.SendLatency.Observe(w.now().Sub(sendStart).Seconds())

		if err == nil {
			w.recordSent(ctx, msg, recipient, externalID)
			return
		}

		msg.Attempts++
		errText := err.Error()
		msg.LastError = &errText

		if !apperr.IsTransient(err) {
			w.fail(ctx, msg, err)
			return
		}

		w.metrics.SendRetries.WithLabelValues(msg.CampaignID.String()).Inc()
		if msg.Attempts >= w.cfg.MaxAttempts {
			w.fail(ctx, msg, fmt.Errorf("retries exhausted after %d attempts: %w", msg.Attempts, err))
			return
		}

		if err := w.sleep(ctx, backoffDelay(msg.Attempts-1)); err != nil {
			// Shutdown mid-backoff; hand the message back to the schedule
			// with its attempt count so the retry budget survives a restart.
			w.release(msg)
			return
		}
	}
}

// checkStepOrder enforces per-recipient template-step ordering: step N+1 is
// dispatched only after step N has reached at least sent. A failed or
// cancelled prior step cancels the chain.
func (w *Worker) checkStepOrder(ctx context.Context, msg *model.CampaignMessage) (hold, cancel bool) {
	prior, err := w.messages.PriorStepStatus(ctx, msg.RecipientID, msg.Step)
	if err != nil {
		w.logger.Error(err, "failed to check prior step",
			map[string]interface{}{"message_id": msg.ID})
		return true, false
	}
	if prior == nil {
		return false, false
	}
	switch *prior {
	case model.MessageStatusFailed, model.MessageStatusCancelled:
		return false, true
	case model.MessageStatusScheduled, model.MessageStatusQueued:
		return true, false
	default:
		return false, false
	}
}

// holdBack returns a message to scheduled with a pushed-out send time. The
// retry instant is moved past any blackout window it would land in; merged
// window tables guarantee the window end is permissible.
func (w *Worker) holdBack(ctx context.Context, campaign *model.Campaign, msg *model.CampaignMessage) {
	target := w.now().Add(stepHoldback)
	if w.blackout != nil {
		if blocked, until := w.blackout.IsBlackout(ctx, campaign.Locality, target); blocked {
			target = until
		}
	}
	msg.Status = model.MessageStatusScheduled
	msg.QueuedAt = nil
	msg.ScheduledSendTime = target
	if err := w.messages.Update(ctx, msg); err != nil {
		w.logger.Error(err, "failed to hold back message",
			map[string]interface{}{"message_id": msg.ID})
	}
}

// release hands a claimed message back to the schedule during shutdown,
// keeping its attempt count. Persisted on a detached context because the
// worker's own context is already cancelled.
func (w *Worker) release(msg *model.CampaignMessage) {
	msg.Status = model.MessageStatusScheduled
	msg.QueuedAt = nil
	msg.ScheduledSendTime = w.now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.messages.Update(ctx, msg); err != nil {
		w.logger.Error(err, "failed to release message on shutdown",
			map[string]interface{}{"message_id": msg.ID})
	}
}

// requeueStale returns messages claimed by a dead worker to the schedule.
func (w *Worker) requeueStale(ctx context.Context) {
	n, err := w.messages.RequeueStale(ctx, w.now().Add(-staleQueuedAfter))
	if err != nil {
		w.logger.Error(err, "failed to requeue stale messages")
		return
	}
	if n > 0 {
		w.logger.Warn("requeued messages abandoned by a previous worker",
			map[string]interface{}{"count": n})
	}
}

func (w *Worker) recordSent(ctx context.Context, msg *model.CampaignMessage, recipient *model.Recipient, externalID string) {
	now := w.now()
	msg.Status = model.MessageStatusSent
	msg.SentAt = &now
	msg.ExternalID = &externalID
	msg.LastError = nil
	if err := w.messages.Update(ctx, msg); err != nil {
		w.logger.Error(err, "failed to record sent message",
			map[string]interface{}{"message_id": msg.ID})
		return
	}
	w.metrics.MessagesDispatched.Inc()

	if recipient.Status == model.RecipientStatusPending {
		recipient.Status = model.RecipientStatusSent
		if err := w.recipients.Update(ctx, recipient); err != nil {
			w.logger.Error(err, "failed to update recipient status",
				map[string]interface{}{"recipient_id": recipient.ID})
		}
	}
}

// fail marks the message failed and raises exactly one operational alert.
func (w *Worker) fail(ctx context.Context, msg *model.CampaignMessage, cause error) {
	errText := cause.Error()
	msg.Status = model.MessageStatusFailed
	msg.LastError = &errText
	if err := w.messages.Update(ctx, msg); err != nil {
		w.logger.Error(err, "failed to record message failure",
			map[string]interface{}{"message_id": msg.ID})
		return
	}
	w.metrics.MessagesFailed.Inc()
	w.logger.Error(cause, "message delivery failed",
		map[string]interface{}{"message_id": msg.ID, "attempts": msg.Attempts})
	w.markRecipient(ctx, msg.RecipientID, model.RecipientStatusFailed)

	w.alerter.RaiseOperational(ctx, msg.CampaignID, msg.ID, errText)
}

// markRecipient records the recipient's final delivery outcome. A recipient
// who already responded is never downgraded.
func (w *Worker) markRecipient(ctx context.Context, recipientID uuid.UUID, status model.RecipientStatus) {
	recipient, err := w.recipients.Get(ctx, recipientID)
	if err != nil {
		w.logger.Error(err, "failed to load recipient for status update",
			map[string]interface{}{"recipient_id": recipientID})
		return
	}
	if recipient.Status == status || recipient.Status == model.RecipientStatusResponded {
		return
	}
	recipient.Status = status
	if err := w.recipients.Update(ctx, recipient); err != nil {
		w.logger.Error(err, "failed to update recipient status",
			map[string]interface{}{"recipient_id": recipient.ID})
	}
}

func (w *Worker) transition(ctx context.Context, msg *model.CampaignMessage, next model.MessageStatus) {
	if !msg.Status.CanTransitionTo(next) {
		return
	}
	msg.Status = next
	if err := w.messages.Update(ctx, msg); err != nil {
		w.logger.Error(err, "failed to transition message",
			map[string]interface{}{"message_id": msg.ID, "status": next})
	}
}

// ApplyStatusCallback records an asynchronous delivery-status update from the
// transport. Out-of-order callbacks are rejected: status only moves forward.
func (w *Worker) ApplyStatusCallback(ctx context.Context, externalID string, status model.MessageStatus, at time.Time) error {
	msg, err := w.messages.GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}

	if !msg.Status.CanTransitionTo(status) {
		return apperr.NewBusinessRule("stale_status_callback",
			fmt.Sprintf("cannot move message %s from %s to %s", msg.ID, msg.Status, status))
	}

	msg.Status = status
	switch status {
	case model.MessageStatusDelivered:
		msg.DeliveredAt = &at
	case model.MessageStatusRead:
		msg.ReadAt = &at
	case model.MessageStatusResponded:
		msg.RespondedAt = &at
	case model.MessageStatusFailed:
		reason := "reported failed by transport"
		msg.LastError = &reason
	}
	if err := w.messages.Update(ctx, msg); err != nil {
		return err
	}

	switch status {
	case model.MessageStatusResponded:
		w.markRecipient(ctx, msg.RecipientID, model.RecipientStatusResponded)
	case model.MessageStatusFailed:
		w.markRecipient(ctx, msg.RecipientID, model.RecipientStatusFailed)
		w.metrics.MessagesFailed.Inc()
		w.alerter.RaiseOperational(ctx, msg.CampaignID, msg.ID, "transport reported delivery failure")
	}
	return nil
}

// LinkResponse marks the message responded and ties its recipient to the
// conversation the response opened.
func (w *Worker) LinkResponse(ctx context.Context, externalID string, conversationID uuid.UUID, at time.Time) error {
	if err := w.ApplyStatusCallback(ctx, externalID, model.MessageStatusResponded, at); err != nil {
		return err
	}
	msg, err := w.messages.GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	return w.recipients.SetConversation(ctx, msg.RecipientID, conversationID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
