package conversation

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crm-res/outreach-api/internal/handler"
	"github.com/crm-res/outreach-api/internal/model"
	"github.com/crm-res/outreach-api/pkg/logger"
)

// Service is the conversation surface the HTTP layer depends on.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Conversation, error)
	Escalate(ctx context.Context, id uuid.UUID, reason string) ([]model.ConversationEvent, error)
	Resolve(ctx context.Context, id uuid.UUID, actor model.SenderType, reason string) ([]model.ConversationEvent, error)
	RecordAITurn(ctx context.Context, conversationID uuid.UUID, content string, confidence float64) ([]model.ConversationEvent, error)
	RecordStaffTurn(ctx context.Context, conversationID uuid.UUID, content string) error
}

// Evaluator runs alert rules over the events a transition produced.
type Evaluator interface {
	Evaluate(ctx context.Context, event *model.ConversationEvent) ([]*model.Alert, error)
}

type Handler struct {
	service   Service
	evaluator Evaluator
	logger    *logger.Logger
}

func NewHandler(service Service, evaluator Evaluator, log *logger.Logger) *Handler {
	return &Handler{service: service, evaluator: evaluator, logger: log}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	conversations := rg.Group("/conversations")
	{
		conversations.GET("/:id", h.Get)
		conversations.POST("/:id/escalate", h.Escalate)
		conversations.POST("/:id/resolve", h.Resolve)
		conversations.POST("/:id/turns/ai", h.RecordAITurn)
		conversations.POST("/:id/turns/staff", h.RecordStaffTurn)
	}
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid conversation id"))
		return
	}

	conv, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(conv))
}

type escalateRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) Escalate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid conversation id"))
		return
	}

	var req escalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	events, err := h.service.Escalate(c.Request.Context(), id, req.Reason)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	h.evaluateAll(c, events)
	c.JSON(http.StatusOK, handler.NewSuccessResponse(events))
}

type resolveRequest struct {
	Actor  model.SenderType `json:"actor" binding:"required,oneof=customer ai staff"`
	Reason string           `json:"reason"`
}

func (h *Handler) Resolve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid conversation id"))
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	events, err := h.service.Resolve(c.Request.Context(), id, req.Actor, req.Reason)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	h.evaluateAll(c, events)
	c.JSON(http.StatusOK, handler.NewSuccessResponse(events))
}

type aiTurnRequest struct {
	Content    string   `json:"content" binding:"required"`
	Confidence *float64 `json:"confidence" binding:"required"`
}

func (h *Handler) RecordAITurn(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid conversation id"))
		return
	}

	var req aiTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	events, err := h.service.RecordAITurn(c.Request.Context(), id, req.Content, *req.Confidence)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	h.evaluateAll(c, events)
	c.JSON(http.StatusOK, handler.NewSuccessResponse(events))
}

type staffTurnRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) RecordStaffTurn(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid conversation id"))
		return
	}

	var req staffTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	if err := h.service.RecordStaffTurn(c.Request.Context(), id, req.Content); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

// evaluateAll feeds transition events to the rule engine in order. Rule
// failures never fail the operator's request.
func (h *Handler) evaluateAll(c *gin.Context, events []model.ConversationEvent) {
	for i := range events {
		if _, err := h.evaluator.Evaluate(c.Request.Context(), &events[i]); err != nil {
			h.logger.Error(err, "alert evaluation failed",
				map[string]interface{}{"conversation_id": events[i].ConversationID})
		}
	}
}
