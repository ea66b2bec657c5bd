package message

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crm-res/outreach-api/internal/handler"
	"github.com/crm-res/outreach-api/internal/model"
	"github.com/crm-res/outreach-api/internal/service/conversation"
	apperr "github.com/crm-res/outreach-api/pkg/errors"
	"github.com/crm-res/outreach-api/pkg/logger"
)

// ConversationService ingests customer replies.
type ConversationService interface {
	HandleInbound(ctx context.Context, in *conversation.InboundMessage) (*model.Conversation, []model.ConversationEvent, error)
}

// Evaluator runs alert rules over conversation events.
type Evaluator interface {
	Evaluate(ctx context.Context, event *model.ConversationEvent) ([]*model.Alert, error)
}

// StatusSink applies asynchronous delivery-status callbacks from the
// transport. Implemented by the dispatch worker.
type StatusSink interface {
	ApplyStatusCallback(ctx context.Context, externalID string, status model.MessageStatus, at time.Time) error
	LinkResponse(ctx context.Context, externalID string, conversationID uuid.UUID, at time.Time) error
}

// Handler is the webhook boundary: customer replies and transport status
// callbacks enter the system here.
type Handler struct {
	conversations ConversationService
	evaluator     Evaluator
	statuses      StatusSink
	logger        *logger.Logger
}

func NewHandler(conversations ConversationService, evaluator Evaluator, statuses StatusSink, log *logger.Logger) *Handler {
	return &Handler{
		conversations: conversations,
		evaluator:     evaluator,
		statuses:      statuses,
		logger:        log,
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	messages := rg.Group("/messages")
	{
		messages.POST("/inbound", h.Inbound)
		messages.POST("/status", h.StatusCallback)
	}
}

type inboundRequest struct {
	RestaurantID      uuid.UUID              `json:"restaurant_id" binding:"required"`
	CustomerID        uuid.UUID              `json:"customer_id" binding:"required"`
	CampaignID        *uuid.UUID             `json:"campaign_id"`
	Type              model.ConversationType `json:"type"`
	Text              string                 `json:"text" binding:"required"`
	Rating            *int                   `json:"rating"`
	Categories        []string               `json:"categories"`
	ExternalMessageID *string                `json:"external_message_id"`
}

type inboundResponse struct {
	Conversation *model.Conversation `json:"conversation"`
	AlertsFired  int                 `json:"alerts_fired"`
}

// Inbound records a customer reply, runs the alert rules over the events the
// reply produced and, when the reply answers a tracked campaign message,
// advances that message to responded.
func (h *Handler) Inbound(c *gin.Context) {
	var req inboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	ctx := c.Request.Context()
	conv, events, err := h.conversations.HandleInbound(ctx, &conversation.InboundMessage{
		RestaurantID: req.RestaurantID,
		CustomerID:   req.CustomerID,
		CampaignID:   req.CampaignID,
		Type:         req.Type,
		Text:         req.Text,
		Rating:       req.Rating,
		Categories:   req.Categories,
	})
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	fired := 0
	for i := range events {
		alerts, err := h.evaluator.Evaluate(ctx, &events[i])
		if err != nil {
			h.logger.Error(err, "alert evaluation failed",
				map[string]interface{}{"conversation_id": conv.ID})
			continue
		}
		fired += len(alerts)
	}

	if req.ExternalMessageID != nil {
		h.markResponded(ctx, *req.ExternalMessageID, conv.ID)
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(inboundResponse{
		Conversation: conv,
		AlertsFired:  fired,
	}))
}

// markResponded advances the answered message to responded and ties its
// recipient to the conversation. Best effort: a reply to an already-responded
// or unknown message must not reject the customer's text.
func (h *Handler) markResponded(ctx context.Context, externalID string, conversationID uuid.UUID) {
	err := h.statuses.LinkResponse(ctx, externalID, conversationID, time.Now())
	if err == nil || apperr.IsBusinessRule(err) || apperr.CodeOf(err) == apperr.ErrNotFound {
		return
	}
	h.logger.Error(err, "failed to mark message responded",
		map[string]interface{}{"external_id": externalID})
}

type statusRequest struct {
	ExternalID string              `json:"external_id" binding:"required"`
	Status     model.MessageStatus `json:"status" binding:"required,oneof=delivered read responded failed"`
	OccurredAt *time.Time          `json:"occurred_at"`
}

// StatusCallback applies a transport delivery-status update. Stale callbacks
// are rejected with a business-rule error; status never moves backwards.
func (h *Handler) StatusCallback(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	at := time.Now()
	if req.OccurredAt != nil {
		at = *req.OccurredAt
	}

	if err := h.statuses.ApplyStatusCallback(c.Request.Context(), req.ExternalID, req.Status, at); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}
