package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/proculyze/analyzer/pkg/exporter"
	"github.com/proculyze/analyzer/pkg/pipeline"
	"github.com/proculyze/analyzer/pkg/store"
)

// validationError is an Input-taxonomy failure (spec §7): rejected at the
// API boundary before an analysis is ever created.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

// writeError maps err to the appropriate status code and writes a uniform
// ErrorResponse body.
func writeError(c *gin.Context, err error) {
	var verr *validationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: verr.Error()})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "analysis not found"})
		return
	}
	if errors.Is(err, pipeline.ErrAnalysisNotCompleted) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "analysis is not completed"})
		return
	}
	if errors.Is(err, exporter.ErrUnsupportedFormat) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "format must be pdf or docx"})
		return
	}

	slog.Error("api: unexpected error", "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}
