package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"asset-intake/internal/domain/asset"
	"asset-intake/internal/geo"
	"asset-intake/internal/intake"
	"asset-intake/internal/service"
)

type Handler struct {
	intakeService *service.IntakeService
	log           zerolog.Logger
}

func NewHandler(intakeService *service.IntakeService, log zerolog.Logger) *Handler {
	return &Handler{
		intakeService: intakeService,
		log:           log,
	}
}

// Register mounts the API. Endpoints that change state run behind
// authMiddleware, which also resolves the operator.
func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	public := r.Group("/api/v1")
	{
		public.GET("/workflow", h.getWorkflow)
		public.GET("/queue", h.getQueue)
		public.GET("/vins/:vin", h.reasonVIN)
		public.GET("/assets", h.listAssets)
		public.GET("/assets/:id", h.getAsset)
		public.GET("/plates", h.listPlates)
		public.GET("/interactions", h.listInteractions)
	}

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/captures", h.createCapture)
		protected.POST("/captures/batch", h.createCaptureBatch)
		protected.DELETE("/captures", h.clearQueue)
		protected.POST("/workflow/actions", h.applyAction)
		protected.PUT("/workflow/vin", h.editVIN)
	}
}

type captureRequest struct {
	// Image is base64 in JSON.
	Image       []byte                   `json:"image"`
	ContentType string                   `json:"content_type"`
	Recognition *asset.RecognitionResult `json:"recognition"`
	Photos      []string                 `json:"photos" binding:"max=20"`
	Coordinates *geo.Coordinates         `json:"coordinates"`
}

func (r captureRequest) input() service.CaptureInput {
	return service.CaptureInput{
		Image:       r.Image,
		ContentType: r.ContentType,
		Recognition: r.Recognition,
		PhotoRefs:   r.Photos,
		Coordinates: r.Coordinates,
	}
}

type batchRequest struct {
	Captures []captureRequest `json:"captures" binding:"required,min=1,dive"`
}

type actionRequest struct {
	Action string `json:"action" binding:"required"`
}

type vinRequest struct {
	VIN string `json:"vin" binding:"required"`
}

func (h *Handler) createCapture(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	capture, err := h.intakeService.Submit(c.Request.Context(), req.input())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":       "queued",
		"capture":      capture,
		"queue_length": h.intakeService.QueueLength(),
	})
}

func (h *Handler) createCaptureBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	inputs := make([]service.CaptureInput, 0, len(req.Captures))
	for _, r := range req.Captures {
		inputs = append(inputs, r.input())
	}

	captures, err := h.intakeService.SubmitBatch(c.Request.Context(), inputs)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":       "queued",
		"captures":     captures,
		"queue_length": h.intakeService.QueueLength(),
	})
}

func (h *Handler) clearQueue(c *gin.Context) {
	cleared := h.intakeService.ClearQueue()
	h.log.Info().Str("operator", operatorFrom(c)).Int("cleared", cleared).Msg("queue cleared by operator")
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

func (h *Handler) getQueue(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(gin.H{"length": h.intakeService.QueueLength()}))
}

func (h *Handler) getWorkflow(c *gin.Context) {
	view, err := h.intakeService.Active()
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) applyAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	action := intake.Action(strings.ToLower(strings.TrimSpace(req.Action)))
	result, err := h.intakeService.Act(c.Request.Context(), action, operatorFrom(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) editVIN(c *gin.Context) {
	var req vinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	view, err := h.intakeService.EditVIN(c.Request.Context(), req.VIN)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) reasonVIN(c *gin.Context) {
	report, err := h.intakeService.ReasonVIN(c.Request.Context(), c.Param("vin"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(report))
}

func (h *Handler) listAssets(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.intakeService.Assets()))
}

func (h *Handler) getAsset(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid asset id"))
		return
	}

	record, err := h.intakeService.Asset(id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(record))
}

func (h *Handler) listPlates(c *gin.Context) {
	plateQuery := strings.TrimSpace(c.Query("plate"))
	if plateQuery == "" {
		c.JSON(http.StatusBadRequest, errorResponse("plate parameter is required"))
		return
	}

	plates, err := h.intakeService.FindPlates(plateQuery)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(plates))
}

func (h *Handler) listInteractions(c *gin.Context) {
	var filter service.InteractionFilter
	if plate := strings.TrimSpace(c.Query("plate")); plate != "" {
		filter.Plate = &plate
	}
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		filter.From = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		filter.To = &t
	}

	filter.Limit = 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}

	interactions, err := h.intakeService.Interactions(filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(interactions))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, intake.ErrInvalidAction):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNoActiveWorkflow):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
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
