package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/proculyze/analyzer/pkg/models"
)

// HTTPExporter calls the external report-rendering service spec §6
// treats as a boundary the core relies on but never implements itself.
// One instance is constructed at process start and shared across
// exportReport requests.
type HTTPExporter struct {
	baseURL string
	http    *http.Client
}

// NewHTTPExporter builds an exporter client against baseURL, the
// external service's POST /render endpoint.
func NewHTTPExporter(baseURL string) *HTTPExporter {
	return &HTTPExporter{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type renderRequest struct {
	Format   Format           `json:"format"`
	Analysis *models.Analysis `json:"analysis"`
}

// Export posts the completed analysis to the rendering service and
// returns the rendered binary.
func (e *HTTPExporter) Export(ctx context.Context, analysis *models.Analysis, format Format) ([]byte, error) {
	if format != FormatPDF && format != FormatDOCX {
		return nil, ErrUnsupportedFormat
	}

	payload, err := json.Marshal(renderRequest{Format: format, Analysis: analysis})
	if err != nil {
		return nil, fmt.Errorf("exporter: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("exporter: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exporter: calling service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("exporter: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exporter: service returned %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}
