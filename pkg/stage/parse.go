package stage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/proculyze/analyzer/pkg/converter"
	"github.com/proculyze/analyzer/pkg/models"
	"github.com/proculyze/analyzer/pkg/unpack"
)

// spreadsheetExtensions marks formats whose page count is estimated by
// "## "-section count rather than character length.
var spreadsheetExtensions = map[string]bool{
	".xlsx": true,
	".pptx": true,
}

// ParseStage runs document conversion across unpacked files on a bounded
// worker pool (spec §4.5's parse stage). Each conversion executes on a
// background worker since conversion is CPU-bound and must not block the
// goroutine scheduling the stage.
type ParseStage struct {
	Converter   converter.Converter
	Concurrency int
	Deadline    time.Duration
}

// Run converts every unpacked file to a Document Record. An individual
// conversion failure never aborts the stage: it yields a Document whose
// Content begins with the [ERROR] sentinel (spec §4.5's per-item failure
// semantics), and OnError fires instead of OnCompleted.
func (s *ParseStage) Run(ctx context.Context, files []unpack.File, cb ItemCallbacks) ([]models.Document, error) {
	return runPool(ctx, files, s.Concurrency, func(ctx context.Context, i int, f unpack.File) (models.Document, error) {
		cb.started(i, f.OriginalFilename)

		deadline := s.Deadline
		if deadline <= 0 {
			deadline = 120 * time.Second
		}
		parseCtx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()

		doc, usage, err := s.parseOne(parseCtx, f)
		if err != nil {
			cb.errored(i, f.OriginalFilename, err.Error())
			return doc, nil
		}
		cb.completed(i, f.OriginalFilename, usage)
		return doc, nil
	})
}

func (s *ParseStage) parseOne(ctx context.Context, f unpack.File) (models.Document, any, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return errorDocument(f.OriginalFilename, fmt.Sprintf("failed to read uploaded file: %v", err)), nil, err
	}

	result, err := s.Converter.Convert(ctx, f.OriginalFilename, data)
	if err != nil {
		return errorDocument(f.OriginalFilename, err.Error()), nil, err
	}

	pageCount := result.PageCount
	if pageCount <= 0 {
		ext := strings.ToLower(extOf(f.OriginalFilename))
		pageCount = converter.EstimatePageCount(result.Markdown, spreadsheetExtensions[ext])
	}

	doc := models.Document{
		Filename:  f.OriginalFilename,
		Type:      Classify(f.OriginalFilename, result.Markdown),
		PageCount: pageCount,
		Content:   result.Markdown,
	}
	return doc, nil, nil
}

func errorDocument(filename, reason string) models.Document {
	return models.Document{
		Filename: filename,
		Type:     models.DocumentTypeOther,
		Content:  fmt.Sprintf("%s %s", models.ErrorSentinel, reason),
	}
}

func extOf(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 {
		return ""
	}
	return filename[idx:]
}
