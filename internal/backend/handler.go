package backend

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/menta2k/image-marker/pkg/processing"
	"github.com/menta2k/image-marker/pkg/submit"
	"github.com/menta2k/image-marker/pkg/types"
)

// NotFoundMessage is the error reported for an unknown target.
const NotFoundMessage = "Node session not found"

// Endpoints served only by the backend.
const (
	RequestPath = "/image_marker/request"
	PendingPath = "/image_marker/pending"
)

// Handler exposes a Registry over HTTP.
type Handler struct {
	registry *Registry
	proc     *processing.Processor
	logger   *zap.Logger
}

// NewHandler creates a handler. proc encodes request results; nil selects
// png.
func NewHandler(registry *Registry, proc *processing.Processor, logger *zap.Logger) *Handler {
	if proc == nil {
		proc = processing.NewProcessor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, proc: proc, logger: logger}
}

// NewRouter builds the gin engine for the backend.
func NewRouter(h *Handler, mode string) *gin.Engine {
	gin.SetMode(mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(h.logger))

	r.GET("/health", h.Health)
	r.POST(submit.ApplyPath, h.Apply)
	r.POST(submit.CancelPath, h.Cancel)
	r.POST(RequestPath, h.Request)
	r.GET(PendingPath, h.Pending)
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Apply handles {node_id, image_data}.
func (h *Handler) Apply(c *gin.Context) {
	var req types.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.Reply{Error: err.Error()})
		return
	}
	h.reply(c, h.registry.Apply(c.Request.Context(), req.TargetID, req.ImageData))
}

// Cancel handles {node_id}.
func (h *Handler) Cancel(c *gin.Context) {
	var req types.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.Reply{Error: err.Error()})
		return
	}
	h.reply(c, h.registry.Cancel(c.Request.Context(), req.TargetID))
}

// Request opens a marking request for {node_id, image_data} and answers
// once the operator is done or the wait times out.
func (h *Handler) Request(c *gin.Context) {
	var req types.Trigger
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.Reply{Error: err.Error()})
		return
	}
	base, err := h.proc.DecodeDataURL(req.ImageData)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.Reply{Error: err.Error()})
		return
	}

	out, err := h.registry.Mark(c.Request.Context(), req.TargetID, base)
	if err != nil {
		h.reply(c, err)
		return
	}
	data, err := h.proc.EncodeDataURL(out.Image)
	if err != nil {
		h.logger.Error("failed to encode result", zap.String("target", req.TargetID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.Reply{Error: err.Error()})
		return
	}

	res := types.MarkResult{TargetID: req.TargetID, ImageData: data, Applied: out.Applied}
	if out.Description != nil {
		res.Description = out.Description.Summary
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Pending(c *gin.Context) {
	pending, err := h.registry.Pending(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list pending requests", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.Reply{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, pending)
}

// reply answers 200 with {success, error}; domain failures are not HTTP
// errors.
func (h *Handler) reply(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, types.Reply{Success: true})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusOK, types.Reply{Error: NotFoundMessage})
	default:
		h.logger.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusOK, types.Reply{Error: err.Error()})
	}
}
