package campaign

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crm-res/outreach-api/internal/handler"
	"github.com/crm-res/outreach-api/internal/model"
)

// Service is the campaign surface the HTTP layer depends on.
type Service interface {
	Create(ctx context.Context, req *model.CreateCampaignRequest) (*model.Campaign, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	List(ctx context.Context, filters *model.CampaignFilters) ([]*model.Campaign, error)
	SetWindow(ctx context.Context, id uuid.UUID, start, end time.Time) (*model.Campaign, error)
	AttachExperiment(ctx context.Context, id, experimentID uuid.UUID) (*model.Campaign, error)
	ImportRecipients(ctx context.Context, campaignID uuid.UUID, entries []model.ImportEntry) (*model.ImportResult, error)
	Cancel(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Metrics(ctx context.Context, id uuid.UUID) (*model.CampaignMetrics, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	campaigns := rg.Group("/campaigns")
	{
		campaigns.POST("", h.Create)
		campaigns.GET("", h.List)
		campaigns.GET("/:id", h.Get)
		campaigns.PUT("/:id/window", h.SetWindow)
		campaigns.PUT("/:id/experiment", h.AttachExperiment)
		campaigns.POST("/:id/recipients/import", h.ImportRecipients)
		campaigns.POST("/:id/cancel", h.Cancel)
		campaigns.DELETE("/:id", h.Delete)
		campaigns.GET("/:id/metrics", h.Metrics)
	}
}

func (h *Handler) Create(c *gin.Context) {
	var req model.CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	campaign, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(campaign))
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid campaign id"))
		return
	}

	campaign, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(campaign))
}

func (h *Handler) List(c *gin.Context) {
	filters := &model.CampaignFilters{
		Status: model.CampaignStatus(c.Query("status")),
	}
	if raw := c.Query("restaurant_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid restaurant_id"))
			return
		}
		filters.RestaurantID = id
	}

	campaigns, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(campaigns))
}

type setWindowRequest struct {
	ScheduledStart time.Time `json:"scheduled_start" binding:"required"`
	ScheduledEnd   time.Time `json:"scheduled_end" binding:"required"`
}

func (h *Handler) SetWindow(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid campaign id"))
		return
	}

	var req setWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	campaign, err := h.service.SetWindow(c.Request.Context(), id, req.ScheduledStart, req.ScheduledEnd)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(campaign))
}

type attachExperimentRequest struct {
	ExperimentID uuid.UUID `json:"experiment_id" binding:"required"`
}

func (h *Handler) AttachExperiment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid campaign id"))
		return
	}

	var req attachExperimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	campaign, err := h.service.AttachExperiment(c.Request.Context(), id, req.ExperimentID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(campaign))
}

type importRequest struct {
	Recipients []model.ImportEntry `json:"recipients" binding:"required,min=1"`
}

func (h *Handler) ImportRecipients(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid campaign id"))
		return
	}

	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	result, err := h.service.ImportRecipients(c.Request.Context(), id, req.Recipients)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid campaign id"))
		return
	}

	campaign, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(campaign))
}

func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid campaign id"))
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

func (h *Handler) Metrics(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid campaign id"))
		return
	}

	m, err := h.service.Metrics(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(m))
}
