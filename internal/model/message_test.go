package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from MessageStatus
		to   MessageStatus
		want bool
	}{
		{"scheduled to queued", MessageStatusScheduled, MessageStatusQueued, true},
		{"queued to sent", MessageStatusQueued, MessageStatusSent, true},
		{"sent to delivered", MessageStatusSent, MessageStatusDelivered, true},
		{"delivered to read", MessageStatusDelivered, MessageStatusRead, true},
		{"read to responded", MessageStatusRead, MessageStatusResponded, true},
		{"sent to responded skips ranks", MessageStatusSent, MessageStatusResponded, true},
		{"delivered back to sent", MessageStatusDelivered, MessageStatusSent, false},
		{"responded back to read", MessageStatusResponded, MessageStatusRead, false},
		{"sent to sent", MessageStatusSent, MessageStatusSent, false},
		{"queued to failed", MessageStatusQueued, MessageStatusFailed, true},
		{"delivered to cancelled", MessageStatusDelivered, MessageStatusCancelled, true},
		{"failed to sent", MessageStatusFailed, MessageStatusSent, false},
		{"failed to cancelled", MessageStatusFailed, MessageStatusCancelled, false},
		{"cancelled to queued", MessageStatusCancelled, MessageStatusQueued, false},
		{"responded to failed", MessageStatusResponded, MessageStatusFailed, false},
		{"responded to cancelled", MessageStatusResponded, MessageStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestMessageStatusIsTerminal(t *testing.T) {
	assert.True(t, MessageStatusFailed.IsTerminal())
	assert.True(t, MessageStatusCancelled.IsTerminal())
	assert.True(t, MessageStatusResponded.IsTerminal())
	assert.False(t, MessageStatusScheduled.IsTerminal())
	assert.False(t, MessageStatusDelivered.IsTerminal())
}

func TestCampaignStatusIsTerminal(t *testing.T) {
	assert.True(t, CampaignStatusCompleted.IsTerminal())
	assert.True(t, CampaignStatusCancelled.IsTerminal())
	assert.True(t, CampaignStatusDeleted.IsTerminal())
	assert.False(t, CampaignStatusDraft.IsTerminal())
	assert.False(t, CampaignStatusActive.IsTerminal())
}
