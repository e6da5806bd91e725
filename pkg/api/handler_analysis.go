package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/proculyze/analyzer/pkg/exporter"
	"github.com/proculyze/analyzer/pkg/models"
	"github.com/proculyze/analyzer/pkg/pipeline"
)

// createAnalysisHandler handles POST /api/v1/analyses: a multipart upload
// of one or more document/archive files plus an optional "model" field.
// Validation (file count, per-file size, extension whitelist) happens
// synchronously here, before an Analysis Record is ever created — spec
// §7's Input-taxonomy failures never enter the pipeline. On success the
// pipeline is launched in the background and the handler returns
// immediately with the new analysis id.
func (s *Server) createAnalysisHandler(c *gin.Context) {
	model := c.PostForm("model")
	if model == "" {
		model = s.Config.DefaultModel
	}
	if _, err := s.Config.GetProvider(model); err != nil {
		writeError(c, &validationError{msg: fmt.Sprintf("unknown model %q", model)})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		writeError(c, &validationError{msg: "expected multipart/form-data with at least one file"})
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		writeError(c, &validationError{msg: "at least one file is required"})
		return
	}
	if len(headers) > s.Config.MaxFiles {
		writeError(c, &validationError{msg: fmt.Sprintf("at most %d files are allowed per analysis", s.Config.MaxFiles)})
		return
	}

	maxBytes := int64(s.Config.MaxFileSizeMB) * 1024 * 1024
	for _, fh := range headers {
		if fh.Size > maxBytes {
			writeError(c, &validationError{msg: fmt.Sprintf("%s exceeds the %d MB per-file limit", fh.Filename, s.Config.MaxFileSizeMB)})
			return
		}
		if !acceptableUploadExtensions(fh.Filename) {
			writeError(c, &validationError{msg: fmt.Sprintf("%s has an unsupported file type", fh.Filename)})
			return
		}
	}

	select {
	case s.analysisSlots <- struct{}{}:
	default:
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many analyses are already running"})
		return
	}

	uploadPaths, err := saveUploads(headers)
	if err != nil {
		<-s.analysisSlots
		writeError(c, fmt.Errorf("api: saving uploads: %w", err))
		return
	}

	analysisID := uuid.New().String()
	analysis := &models.Analysis{
		ID:        analysisID,
		CreatedAt: time.Now(),
		Status:    models.StatusPending,
		Model:     model,
	}
	if err := s.Store.CreateAnalysis(c.Request.Context(), analysis); err != nil {
		<-s.analysisSlots
		writeError(c, fmt.Errorf("api: creating analysis: %w", err))
		return
	}

	orchestrator, err := s.Factory.New(model)
	if err != nil {
		<-s.analysisSlots
		writeError(c, fmt.Errorf("api: building orchestrator: %w", err))
		return
	}

	go func() {
		defer func() { <-s.analysisSlots }()
		orchestrator.Run(context.Background(), analysisID, uploadPaths)
	}()

	c.JSON(http.StatusAccepted, CreateAnalysisResponse{AnalysisID: analysisID})
}

// saveUploads copies each multipart file to a fresh temp file and returns
// their paths, in the order submitted — the Archive Unpacker (pkg/unpack)
// takes plain filesystem paths, not multipart handles.
func saveUploads(headers []*multipart.FileHeader) ([]string, error) {
	paths := make([]string, 0, len(headers))
	for _, fh := range headers {
		src, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", fh.Filename, err)
		}
		dst, err := os.CreateTemp("", "analyzer-upload-*-"+fh.Filename)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("creating temp file for %s: %w", fh.Filename, err)
		}
		_, copyErr := io.Copy(dst, src)
		src.Close()
		dst.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("writing %s: %w", fh.Filename, copyErr)
		}
		paths = append(paths, dst.Name())
	}
	return paths, nil
}

// getAnalysisHandler handles GET /api/v1/analyses/:id.
func (s *Server) getAnalysisHandler(c *gin.Context) {
	analysis, err := s.Store.GetAnalysis(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAnalysisResponse(analysis))
}

// listAnalysesHandler handles GET /api/v1/analyses?limit=&offset=.
func (s *Server) listAnalysesHandler(c *gin.Context) {
	limit := 25
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	analyses, err := s.Store.ListAnalyses(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]*AnalysisResponse, len(analyses))
	for i, a := range analyses {
		resp[i] = newAnalysisResponse(a)
	}
	c.JSON(http.StatusOK, AnalysisListResponse{Analyses: resp})
}

// cancelAnalysisHandler handles POST /api/v1/analyses/:id/cancel. It only
// ever writes status=canceled to the store (spec §5's cooperative
// cancellation contract) — it never reaches into the goroutine actually
// running the pipeline, which notices on its next between-stage poll.
func (s *Server) cancelAnalysisHandler(c *gin.Context) {
	analysisID := c.Param("id")
	if err := pipeline.Cancel(c.Request.Context(), s.Store, analysisID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CancelResponse{AnalysisID: analysisID, Status: "cancel requested"})
}

// streamAnalysisHandler handles GET /api/v1/analyses/:id/stream, the SSE
// endpoint, delegating directly to the Event Bus's handler.
func (s *Server) streamAnalysisHandler(c *gin.Context) {
	s.Bus.StreamHandler(c)
}

// exportReportHandler handles GET /api/v1/analyses/:id/export?format=pdf|docx.
func (s *Server) exportReportHandler(c *gin.Context) {
	format := c.Query("format")

	analysis, err := s.Store.GetAnalysis(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if analysis.Status != models.StatusCompleted {
		writeError(c, &validationError{msg: "export is only available once the analysis has completed"})
		return
	}

	binary, err := s.Exporter.Export(c.Request.Context(), analysis, exporter.Format(format))
	if err != nil {
		writeError(c, err)
		return
	}

	contentType := "application/pdf"
	if format == "docx" {
		contentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", analysis.ID+"."+format))
	c.Data(http.StatusOK, contentType, binary)
}
