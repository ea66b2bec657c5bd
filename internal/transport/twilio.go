package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/crm-res/outreach-api/internal/config"
	apperr "github.com/crm-res/outreach-api/pkg/errors"
)

const idempotencyHeader = "I-Twilio-Idempotency-Token"

// TwilioSender sends WhatsApp messages through the Twilio REST API. Every
// send carries the caller's idempotency key so a retried request cannot
// produce a duplicate message.
type TwilioSender struct {
	base twilioclient.BaseClient
	from string
}

func NewTwilioSender(cfg config.TwilioConfig) *TwilioSender {
	base := &twilioclient.Client{
		Credentials: twilioclient.NewCredentials(cfg.AccountSID, cfg.AuthToken),
	}
	base.SetAccountSid(cfg.AccountSID)
	return &TwilioSender{
		base: base,
		from: cfg.FromNumber,
	}
}

func (s *TwilioSender) Send(ctx context.Context, recipientAddress, content, idempotencyKey string) (string, error) {
	params := &openapi.CreateMessageParams{}
	params.SetTo("whatsapp:" + recipientAddress)
	params.SetFrom("whatsapp:" + s.from)
	params.SetBody(content)

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Client: &idempotentClient{BaseClient: s.base, token: idempotencyKey},
	})
	resp, err := client.Api.CreateMessage(params)
	if err != nil {
		return "", classify(err)
	}
	if resp.Sid == nil {
		return "", apperr.NewTransientTransport(fmt.Errorf("send accepted without a message sid"))
	}
	return *resp.Sid, nil
}

// idempotentClient stamps the Twilio idempotency header on every request it
// carries.
type idempotentClient struct {
	twilioclient.BaseClient
	token string
}

func (c *idempotentClient) SendRequest(method, rawURL string, data url.Values, headers map[string]interface{}, body ...byte) (*http.Response, error) {
	if headers == nil {
		headers = make(map[string]interface{})
	}
	headers[idempotencyHeader] = c.token
	return c.BaseClient.SendRequest(method, rawURL, data, headers, body...)
}

// classify maps transport errors onto the retryable/permanent taxonomy.
// Invalid recipients and policy rejections must not be retried; everything
// else, including rate limiting and server errors, is worth another attempt.
func classify(err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		if restErr.Status == http.StatusTooManyRequests || restErr.Status >= 500 {
			return apperr.NewTransientTransport(err)
		}
		return apperr.NewPermanentTransport(fmt.Sprintf("rejected by transport (code %d)", restErr.Code), err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.NewTransientTransport(err)
	}
	// Network level failures surface as plain errors.
	return apperr.NewTransientTransport(err)
}
