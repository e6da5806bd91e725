package api

import (
	"time"

	"github.com/proculyze/analyzer/pkg/models"
)

// CreateAnalysisResponse is returned by POST /api/v1/analyses.
type CreateAnalysisResponse struct {
	AnalysisID string `json:"analysis_id"`
}

// AnalysisResponse is returned by GET /api/v1/analyses/:id, per spec §6's
// `getAnalysis(id) → {status, progress, report?, qa?, documents[]}`.
type AnalysisResponse struct {
	ID          string                  `json:"id"`
	Status      models.Status           `json:"status"`
	Progress    int                     `json:"progress_percent"`
	Model       string                  `json:"model"`
	CreatedAt   time.Time               `json:"created_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	Documents   []models.Document       `json:"documents"`
	Report      *models.ExtractionFacts `json:"report,omitempty"`
	QA          *models.QAScore         `json:"qa,omitempty"`
	Metrics     models.Metrics          `json:"metrics"`
	Error       *string                 `json:"error,omitempty"`
}

// newAnalysisResponse derives the progress percentage from the analysis's
// documents (completed extractions / total) rather than storing it, since
// it is always recomputable from state already on the record.
func newAnalysisResponse(a *models.Analysis) *AnalysisResponse {
	completed := 0
	for _, d := range a.Documents {
		if d.Extraction != nil {
			completed++
		}
	}
	return &AnalysisResponse{
		ID:          a.ID,
		Status:      a.Status,
		Progress:    models.ProgressPercent(a.Status, completed, len(a.Documents)),
		Model:       a.Model,
		CreatedAt:   a.CreatedAt,
		CompletedAt: a.CompletedAt,
		Documents:   a.Documents,
		Report:      a.Report,
		QA:          a.QA,
		Metrics:     a.Metrics,
		Error:       a.Error,
	}
}

// AnalysisListResponse is returned by GET /api/v1/analyses.
type AnalysisListResponse struct {
	Analyses []*AnalysisResponse `json:"analyses"`
}

// CancelResponse is returned by POST /api/v1/analyses/:id/cancel.
type CancelResponse struct {
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
}

// ChatAnswerResponse is carried inside the chat SSE stream's terminal
// "done" event.
type ChatAnswerResponse struct {
	Answer       string `json:"answer"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is the uniform JSON error body for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
