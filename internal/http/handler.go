package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"plate-node/internal/service"
)

type StatusProvider interface {
	Status() service.Status
}

type Handler struct {
	worker     StatusProvider
	detections *service.DetectionService
	metrics    http.Handler
	log        zerolog.Logger
}

func NewHandler(
	worker StatusProvider,
	detections *service.DetectionService,
	metrics http.Handler,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		worker:     worker,
		detections: detections,
		metrics:    metrics,
		log:        log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/healthz", h.health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.GET("/status", h.status)
	}

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/detections", h.listDetections)
		protected.GET("/outbox/pending", h.pendingCount)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.worker.Status()))
}

func (h *Handler) listDetections(c *gin.Context) {
	var plateQuery *string
	if plate := strings.TrimSpace(c.Query("plate")); plate != "" {
		plateQuery = &plate
	}

	limit := 0
	if l := c.Query("limit"); l != "" {
		parsed, err := parseInt(l)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, errorResponse("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	detections, err := h.detections.FindDetections(c.Request.Context(), plateQuery, limit)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(detections))
}

func (h *Handler) pendingCount(c *gin.Context) {
	n, err := h.detections.PendingCount(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"pending": n}))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
