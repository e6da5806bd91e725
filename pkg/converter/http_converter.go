package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// HTTPConverter calls the external document-to-text converter service
// spec §6 treats as a boundary the core relies on but never implements
// itself. One instance is constructed at process start and shared by
// every parse-stage worker, the same process-wide-client shape
// pkg/llm.Gateway uses for its provider calls.
type HTTPConverter struct {
	baseURL string
	http    *http.Client
}

// NewHTTPConverter builds a converter client against baseURL, the
// external service's POST /convert endpoint.
func NewHTTPConverter(baseURL string) *HTTPConverter {
	return &HTTPConverter{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

type convertResponse struct {
	Markdown  string `json:"markdown"`
	PageCount int    `json:"page_count"`
	Error     string `json:"error"`
}

// Convert posts the raw document bytes to the converter service and
// returns its markdown and page count. The caller (pkg/stage.ParseStage)
// applies its own deadline to ctx; this does not impose one of its own
// beyond the client's overall timeout.
func (c *HTTPConverter) Convert(ctx context.Context, filename string, data []byte) (Result, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return Result{}, fmt.Errorf("converter: building request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Result{}, fmt.Errorf("converter: building request: %w", err)
	}
	if err := w.Close(); err != nil {
		return Result{}, fmt.Errorf("converter: building request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", body)
	if err != nil {
		return Result{}, fmt.Errorf("converter: building request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("converter: calling service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("converter: reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, &ConversionError{Reason: fmt.Sprintf("converter: service returned %d: %s", resp.StatusCode, string(raw))}
	}

	var parsed convertResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("converter: decoding response: %w", err)
	}
	if parsed.Error != "" {
		return Result{}, &ConversionError{Reason: parsed.Error}
	}

	pageCount := parsed.PageCount
	if pageCount <= 0 {
		pageCount = EstimatePageCount(parsed.Markdown, false)
	}
	return Result{Markdown: parsed.Markdown, PageCount: pageCount}, nil
}
