package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/domain/canvas"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/domain/catalog"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/pipeline"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/sandbox"
)

// statusFor maps a domain error to an HTTP status
func statusFor(err error) int {
	var (
		loadErr *sandbox.LoadError
		miss    *pipeline.RoutingMiss
		invalid *catalog.ValidationError
	)
	switch {
	case errors.Is(err, canvas.ErrNotFound),
		errors.Is(err, canvas.ErrNoInstance),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, sandbox.ErrNotFound),
		errors.Is(err, pipeline.ErrEdgeNotFound):
		return http.StatusNotFound
	case errors.Is(err, canvas.ErrInstanceExists),
		errors.Is(err, catalog.ErrAlreadyExists),
		errors.Is(err, pipeline.ErrDuplicateEdge),
		errors.Is(err, sandbox.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, canvas.ErrClosed):
		return http.StatusGone
	case errors.As(err, &loadErr),
		errors.As(err, &miss),
		errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
