package notifier

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/crm-res/outreach-api/internal/config"
	"github.com/crm-res/outreach-api/internal/model"
	"github.com/crm-res/outreach-api/pkg/logger"
)

// EmailNotifier mails urgent alerts to the restaurant's operators.
type EmailNotifier struct {
	dialer     *gomail.Dialer
	from       string
	recipients []string
	logger     *logger.Logger
}

func NewEmailNotifier(cfg config.SMTPConfig, log *logger.Logger) *EmailNotifier {
	return &EmailNotifier{
		dialer:     gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:       cfg.From,
		recipients: cfg.Recipients,
		logger:     log,
	}
}

func (n *EmailNotifier) NotifyAlert(_ context.Context, alert *model.Alert) error {
	if len(n.recipients) == 0 {
		n.logger.Warn("no alert recipients configured, skipping email",
			map[string]interface{}{"alert_id": alert.ID})
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.recipients...)
	m.SetHeader("Subject", fmt.Sprintf("[%s] %s", alert.Priority, alert.Title))
	m.SetBody("text/plain", fmt.Sprintf(
		"%s\n\nRule: %s\nRestaurant: %s\nAlert: %s\n",
		alert.Message, alert.RuleID, alert.RestaurantID, alert.ID,
	))

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}
