package alert

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crm-res/outreach-api/internal/handler"
	"github.com/crm-res/outreach-api/internal/model"
)

// Service is the alert surface the HTTP layer depends on.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Alert, error)
	List(ctx context.Context, restaurantID uuid.UUID, status model.AlertStatus) ([]*model.Alert, error)
	Acknowledge(ctx context.Context, id, actorID uuid.UUID, notes string) (*model.Alert, error)
	Resolve(ctx context.Context, id uuid.UUID) (*model.Alert, error)
	Dismiss(ctx context.Context, id uuid.UUID) (*model.Alert, error)
	Statistics(ctx context.Context, restaurantID uuid.UUID, from, to time.Time) (*model.AlertStatistics, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	alerts := rg.Group("/alerts")
	{
		alerts.GET("", h.List)
		alerts.GET("/statistics", h.Statistics)
		alerts.GET("/:id", h.Get)
		alerts.POST("/:id/acknowledge", h.Acknowledge)
		alerts.POST("/:id/resolve", h.Resolve)
		alerts.POST("/:id/dismiss", h.Dismiss)
	}
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid alert id"))
		return
	}

	alert, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(alert))
}

func (h *Handler) List(c *gin.Context) {
	restaurantID, err := uuid.Parse(c.Query("restaurant_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid restaurant_id"))
		return
	}

	alerts, err := h.service.List(c.Request.Context(), restaurantID, model.AlertStatus(c.Query("status")))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(alerts))
}

func (h *Handler) Acknowledge(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid alert id"))
		return
	}

	var req model.AcknowledgeAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	alert, err := h.service.Acknowledge(c.Request.Context(), id, req.ActorID, req.Notes)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(alert))
}

func (h *Handler) Resolve(c *gin.Context) {
	h.workflow(c, h.service.Resolve)
}

func (h *Handler) Dismiss(c *gin.Context) {
	h.workflow(c, h.service.Dismiss)
}

func (h *Handler) workflow(c *gin.Context, op func(context.Context, uuid.UUID) (*model.Alert, error)) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid alert id"))
		return
	}

	alert, err := op(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(alert))
}

func (h *Handler) Statistics(c *gin.Context) {
	restaurantID, err := uuid.Parse(c.Query("restaurant_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid restaurant_id"))
		return
	}

	to := time.Now()
	from := to.AddDate(0, 0, -30)
	if raw := c.Query("from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid from timestamp"))
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid to timestamp"))
			return
		}
	}

	stats, err := h.service.Statistics(c.Request.Context(), restaurantID, from, to)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}
