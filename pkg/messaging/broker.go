package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Channels carried over the broker. The dashboard layer subscribes to these;
// this core only publishes.
const (
	ChannelConversationEvents = "conversation_events"
	ChannelAlerts             = "alerts"
	ChannelCampaignMetrics    = "campaign_metrics"
)

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
