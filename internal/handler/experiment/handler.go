package experiment

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crm-res/outreach-api/internal/handler"
	"github.com/crm-res/outreach-api/internal/model"
)

// Service is the experiment surface the HTTP layer depends on.
type Service interface {
	Create(ctx context.Context, campaignID uuid.UUID, req *model.CreateExperimentRequest) (*model.Experiment, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Experiment, error)
	Start(ctx context.Context, id uuid.UUID) (*model.Experiment, error)
	Pause(ctx context.Context, id uuid.UUID) (*model.Experiment, error)
	Complete(ctx context.Context, id uuid.UUID) (*model.Experiment, error)
	Archive(ctx context.Context, id uuid.UUID) (*model.Experiment, error)
	Results(ctx context.Context, id uuid.UUID) (*model.ExperimentResults, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/campaigns/:id/experiments", h.Create)

	experiments := rg.Group("/experiments")
	{
		experiments.GET("/:id", h.Get)
		experiments.POST("/:id/start", h.Start)
		experiments.POST("/:id/pause", h.Pause)
		experiments.POST("/:id/complete", h.Complete)
		experiments.POST("/:id/archive", h.Archive)
		experiments.GET("/:id/results", h.Results)
	}
}

func (h *Handler) Create(c *gin.Context) {
	campaignID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid campaign id"))
		return
	}

	var req model.CreateExperimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	exp, err := h.service.Create(c.Request.Context(), campaignID, &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(exp))
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid experiment id"))
		return
	}

	exp, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(exp))
}

func (h *Handler) Start(c *gin.Context) {
	h.lifecycle(c, h.service.Start)
}

func (h *Handler) Pause(c *gin.Context) {
	h.lifecycle(c, h.service.Pause)
}

func (h *Handler) Complete(c *gin.Context) {
	h.lifecycle(c, h.service.Complete)
}

func (h *Handler) Archive(c *gin.Context) {
	h.lifecycle(c, h.service.Archive)
}

func (h *Handler) lifecycle(c *gin.Context, op func(context.Context, uuid.UUID) (*model.Experiment, error)) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid experiment id"))
		return
	}

	exp, err := op(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(exp))
}

func (h *Handler) Results(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid experiment id"))
		return
	}

	results, err := h.service.Results(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(results))
}
