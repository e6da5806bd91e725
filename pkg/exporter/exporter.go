// Package exporter declares the report-rendering boundary (spec §6):
// a completed analysis's merged report rendered to a binary format for
// download. Out of scope per spec.md's Non-goals ("the report-rendering
// exporters... described in §6 only as boundaries the core relies on");
// this package is the contract pkg/api's exportReport handler depends on.
package exporter

import (
	"context"
	"fmt"

	"github.com/proculyze/analyzer/pkg/models"
)

// Format is a supported export target.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ErrUnsupportedFormat is returned for any format outside {pdf, docx}.
var ErrUnsupportedFormat = fmt.Errorf("exporter: unsupported format")

// Exporter renders a completed analysis's report to the requested
// binary format, per spec §6's single exportReport collaborator.
type Exporter interface {
	Export(ctx context.Context, analysis *models.Analysis, format Format) ([]byte, error)
}
