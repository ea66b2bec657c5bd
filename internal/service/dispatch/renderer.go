package dispatch

import (
	"context"
	"fmt"

	"github.com/crm-res/outreach-api/internal/model"
)

// Renderer resolves a campaign message into the content handed to the
// transport.
type Renderer interface {
	Render(ctx context.Context, campaign *model.Campaign, msg *model.CampaignMessage, recipient *model.Recipient) (string, error)
}

// settingsRenderer reads template bodies from the campaign settings map under
// the "templates" key, falling back to the template id when no body is
// configured. Variant-specific bodies are keyed "<template_id>:<variant_id>".
type settingsRenderer struct{}

func NewSettingsRenderer() Renderer {
	return settingsRenderer{}
}

func (settingsRenderer) Render(_ context.Context, campaign *model.Campaign, msg *model.CampaignMessage, _ *model.Recipient) (string, error) {
	templates, ok := campaign.Settings["templates"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("campaign %s has no templates configured", campaign.ID)
	}

	if msg.VariantID != nil {
		if body, ok := templates[msg.TemplateID+":"+*msg.VariantID].(string); ok {
			return body, nil
		}
	}
	if body, ok := templates[msg.TemplateID].(string); ok {
		return body, nil
	}
	return "", fmt.Errorf("campaign %s has no body for template %s", campaign.ID, msg.TemplateID)
}
