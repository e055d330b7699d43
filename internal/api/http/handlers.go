package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/domain/canvas"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/domain/catalog"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/utils"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	manager *canvas.Manager
	loader  *catalog.Loader
	metrics *HandlerMetrics
	tracer  *tracing.Tracer
	logger  *zap.Logger
}

// NewHandlers creates a new handler set. loader may be nil, in which case
// manifest reloading is unavailable.
func NewHandlers(manager *canvas.Manager, loader *catalog.Loader, metrics *HandlerMetrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		manager: manager,
		loader:  loader,
		metrics: metrics,
		logger:  logger.Named("api"),
	}
}

// WithTracer enables trace lookups
func (h *Handlers) WithTracer(tracer *tracing.Tracer) *Handlers {
	h.tracer = tracer
	return h
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "widgethost",
		"manifests": h.manager.Catalog().Len(),
		"canvases":  len(h.manager.List()),
	})
}

// ListManifests lists every registered manifest
func (h *Handlers) ListManifests(c *gin.Context) {
	manifests := h.manager.Catalog().List()
	c.JSON(http.StatusOK, gin.H{
		"manifests": manifests,
		"count":     len(manifests),
	})
}

// GetManifest returns one manifest
func (h *Handlers) GetManifest(c *gin.Context) {
	manifestID := c.Param("id")
	if err := utils.ValidateID(manifestID, "manifest_id", true); err != nil {
		badRequest(c, err)
		return
	}

	w, err := h.manager.Catalog().Get(manifestID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w.Manifest)
}

// ReloadManifests rescans the widgets directory
func (h *Handlers) ReloadManifests(c *gin.Context) {
	if h.loader == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "manifest loading is not configured"})
		return
	}

	done := h.metrics.TrackCatalogOperation("reload")
	loaded, failed, err := h.loader.Load()
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"loaded": loaded,
		"failed": failed,
		"total":  h.manager.Catalog().Len(),
	})
}

// ListCanvases lists every open canvas
func (h *Handlers) ListCanvases(c *gin.Context) {
	canvases := h.manager.List()
	c.JSON(http.StatusOK, gin.H{
		"canvases": canvases,
		"count":    len(canvases),
	})
}

// CreateCanvas opens a new canvas
func (h *Handlers) CreateCanvas(c *gin.Context) {
	var req types.CreateCanvasRequest
	// An empty body is a canvas without a name
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if err := utils.ValidateString(req.Name, "name", 0, utils.MaxIDLength, false); err != nil {
		badRequest(c, err)
		return
	}

	done := h.metrics.TrackCanvasOperation("create")
	cv, err := h.manager.Create(req.Name)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cv.Info())
}

// GetCanvas returns a canvas summary with its instances and edges
func (h *Handlers) GetCanvas(c *gin.Context) {
	cv, ok := h.canvas(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"canvas":    cv.Info(),
		"instances": cv.Instances(),
		"edges":     cv.Edges(),
	})
}

// DeleteCanvas closes a canvas, flushing its instances' state
func (h *Handlers) DeleteCanvas(c *gin.Context) {
	canvasID := c.Param("id")
	if err := utils.ValidateID(canvasID, "canvas_id", true); err != nil {
		badRequest(c, err)
		return
	}

	done := h.metrics.TrackCanvasOperation("delete")
	err := h.manager.Delete(c.Request.Context(), canvasID)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"canvas_id": canvasID,
	})
}

// ListInstances lists the instances of a canvas in placement order
func (h *Handlers) ListInstances(c *gin.Context) {
	cv, ok := h.canvas(c)
	if !ok {
		return
	}
	instances := cv.Instances()
	c.JSON(http.StatusOK, gin.H{
		"instances": instances,
		"count":     len(instances),
	})
}

// AddInstance places a manifest on a canvas and waits for it to mount
func (h *Handlers) AddInstance(c *gin.Context) {
	cv, ok := h.canvas(c)
	if !ok {
		return
	}

	var req types.AddWidgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := utils.ValidateID(req.ManifestID, "manifest_id", true); err != nil {
		badRequest(c, err)
		return
	}
	if err := utils.ValidateID(req.InstanceID, "instance_id", false); err != nil {
		badRequest(c, err)
		return
	}

	done := h.metrics.TrackCanvasOperation("add_widget")
	inst, err := cv.AddWidget(c.Request.Context(), req.ManifestID, req.InstanceID)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

// GetInstance returns one instance
func (h *Handlers) GetInstance(c *gin.Context) {
	cv, instanceID, ok := h.instance(c)
	if !ok {
		return
	}
	inst, err := cv.Instance(instanceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

// RemoveInstance unmounts an instance. With ?purge=true its saved state is
// deleted instead of flushed.
func (h *Handlers) RemoveInstance(c *gin.Context) {
	cv, instanceID, ok := h.instance(c)
	if !ok {
		return
	}

	purge := false
	if raw := c.Query("purge"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, fmt.Errorf("purge must be a boolean"))
			return
		}
		purge = v
	}

	done := h.metrics.TrackCanvasOperation("remove_widget")
	removed := cv.RemoveWidget(c.Request.Context(), instanceID, purge)
	if !removed {
		err := fmt.Errorf("%w: %s", canvas.ErrNoInstance, instanceID)
		done(err)
		respondError(c, err)
		return
	}
	done(nil)
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"instance_id": instanceID,
		"purged":      purge,
	})
}

// ActivateInstance hints that an instance became visible
func (h *Handlers) ActivateInstance(c *gin.Context) {
	h.visibility(c, "activate", (*canvas.Canvas).Activate)
}

// DeactivateInstance hints that an instance is no longer visible
func (h *Handlers) DeactivateInstance(c *gin.Context) {
	h.visibility(c, "deactivate", (*canvas.Canvas).Deactivate)
}

func (h *Handlers) visibility(c *gin.Context, op string, fn func(*canvas.Canvas, string) error) {
	cv, instanceID, ok := h.instance(c)
	if !ok {
		return
	}

	done := h.metrics.TrackCanvasOperation(op)
	err := fn(cv, instanceID)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	inst, err := cv.Instance(instanceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

// ListEdges returns the edge list in registration order
func (h *Handlers) ListEdges(c *gin.Context) {
	cv, ok := h.canvas(c)
	if !ok {
		return
	}
	edges := cv.Edges()
	c.JSON(http.StatusOK, gin.H{
		"edges": edges,
		"count": len(edges),
	})
}

// ReplaceEdges replaces the edge list with the editor's ordered list. Invalid
// edges are skipped and reported; the valid ones are kept.
func (h *Handlers) ReplaceEdges(c *gin.Context) {
	cv, ok := h.canvas(c)
	if !ok {
		return
	}

	var req types.EdgeListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	done := h.metrics.TrackCanvasOperation("set_edges")
	rejected := cv.SetEdges(req.Edges)
	done(nil)

	for i := range rejected {
		if rejected[i].Err != nil && rejected[i].Reason == "" {
			rejected[i].Reason = rejected[i].Err.Error()
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"edges":    cv.Edges(),
		"rejected": rejected,
	})
}

// AddEdge connects two ports
func (h *Handlers) AddEdge(c *gin.Context) {
	cv, ok := h.canvas(c)
	if !ok {
		return
	}

	var edge types.Edge
	if err := c.ShouldBindJSON(&edge); err != nil {
		badRequest(c, err)
		return
	}

	done := h.metrics.TrackCanvasOperation("add_edge")
	err := cv.AddEdge(edge)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, edge)
}

// RemoveEdge disconnects two ports
func (h *Handlers) RemoveEdge(c *gin.Context) {
	cv, ok := h.canvas(c)
	if !ok {
		return
	}

	var edge types.Edge
	if err := c.ShouldBindJSON(&edge); err != nil {
		badRequest(c, err)
		return
	}

	done := h.metrics.TrackCanvasOperation("remove_edge")
	err := cv.RemoveEdge(edge)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// EmitEvent publishes a host-originated event on a canvas bus
func (h *Handlers) EmitEvent(c *gin.Context) {
	cv, ok := h.canvas(c)
	if !ok {
		return
	}

	var req types.EmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := utils.ValidateEventName(req.Event); err != nil {
		badRequest(c, err)
		return
	}

	kind, valid := types.ParseScopeKind(req.Scope)
	if !valid {
		badRequest(c, fmt.Errorf("unknown scope %q", req.Scope))
		return
	}
	scope := types.Scope{Kind: kind}
	if kind == types.ScopeInstance {
		if !cv.Has(req.Target) {
			respondError(c, fmt.Errorf("%w: %s", canvas.ErrNoInstance, req.Target))
			return
		}
		scope.InstanceID = req.Target
	}

	done := h.metrics.TrackCanvasOperation("emit")
	delivered, err := cv.Publish(req.Event, req.Payload, scope)
	done(err)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"event":     req.Event,
		"scope":     kind,
		"delivered": delivered,
	})
}

// canvas resolves the :id parameter, writing the error response itself
func (h *Handlers) canvas(c *gin.Context) (*canvas.Canvas, bool) {
	canvasID := c.Param("id")
	if err := utils.ValidateID(canvasID, "canvas_id", true); err != nil {
		badRequest(c, err)
		return nil, false
	}
	cv, err := h.manager.Get(canvasID)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return cv, true
}

func (h *Handlers) instance(c *gin.Context) (*canvas.Canvas, string, bool) {
	cv, ok := h.canvas(c)
	if !ok {
		return nil, "", false
	}
	instanceID := c.Param("iid")
	if err := utils.ValidateID(instanceID, "instance_id", true); err != nil {
		badRequest(c, err)
		return nil, "", false
	}
	if !cv.Has(instanceID) {
		respondError(c, fmt.Errorf("%w: %s", canvas.ErrNoInstance, instanceID))
		return nil, "", false
	}
	return cv, instanceID, true
}

// GetTrace returns the retained spans of a recent trace, such as the one
// named by a response's X-Trace-ID header
func (h *Handlers) GetTrace(c *gin.Context) {
	if h.tracer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "tracing is not configured"})
		return
	}

	traceID := tracing.TraceID(c.Param("id"))
	spans, ok := h.tracer.Trace(traceID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("trace %q not retained", traceID)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trace_id": traceID,
		"spans":    spans,
		"count":    len(spans),
	})
}
