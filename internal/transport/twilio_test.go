package transport

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/crm-res/outreach-api/pkg/errors"
)

type recordingClient struct {
	headers map[string]interface{}
	data    url.Values
}

func (r *recordingClient) AccountSid() string          { return "AC123" }
func (r *recordingClient) SetTimeout(time.Duration)    {}
func (r *recordingClient) SetOauth(twilioclient.OAuth) {}
func (r *recordingClient) OAuth() twilioclient.OAuth   { return nil }

func (r *recordingClient) SendRequest(method, rawURL string, data url.Values, headers map[string]interface{}, body ...byte) (*http.Response, error) {
	r.headers = headers
	r.data = data
	return &http.Response{
		StatusCode: http.StatusCreated,
		Body:       io.NopCloser(strings.NewReader(`{"sid": "SM123"}`)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func TestSendCarriesIdempotencyToken(t *testing.T) {
	base := &recordingClient{}
	sender := &TwilioSender{base: base, from: "15550001111"}

	sid, err := sender.Send(context.Background(), "+966512345678", "hello", "msg-42")
	require.NoError(t, err)
	assert.Equal(t, "SM123", sid)

	require.NotNil(t, base.headers)
	assert.Equal(t, "msg-42", base.headers[idempotencyHeader])
	assert.Equal(t, "whatsapp:+966512345678", base.data.Get("To"))
	assert.Equal(t, "whatsapp:15550001111", base.data.Get("From"))
}

func TestClassify(t *testing.T) {
	tooMany := &twilioclient.TwilioRestError{Status: http.StatusTooManyRequests}
	assert.True(t, apperr.IsTransient(classify(tooMany)))

	serverErr := &twilioclient.TwilioRestError{Status: http.StatusBadGateway}
	assert.True(t, apperr.IsTransient(classify(serverErr)))

	rejected := &twilioclient.TwilioRestError{Status: http.StatusBadRequest, Code: 21211}
	assert.False(t, apperr.IsTransient(classify(rejected)))

	assert.True(t, apperr.IsTransient(classify(context.DeadlineExceeded)))
}
