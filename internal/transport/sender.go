package transport

import "context"

// Sender is the outbound send capability. The idempotency key is carried on
// every attempt so a retried call that already succeeded upstream does not
// produce a duplicate customer-visible message.
type Sender interface {
	Send(ctx context.Context, recipientAddress, content, idempotencyKey string) (externalID string, err error)
}
