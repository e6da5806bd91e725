package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/proculyze/analyzer/pkg/chunk"
	"github.com/proculyze/analyzer/pkg/config"
	"github.com/proculyze/analyzer/pkg/llm"
	"github.com/proculyze/analyzer/pkg/models"
)

// extractionGateway is the subset of pkg/llm.Gateway the extract stage
// depends on, kept narrow so this package's tests can stub it without
// standing up a real Gateway.
type extractionGateway interface {
	CompleteExtraction(ctx context.Context, providerName, systemPrompt, userContent string, budget config.ThinkingBudget) (*models.ExtractionFacts, llm.Usage, error)
	CompleteExtractionStreaming(ctx context.Context, providerName, systemPrompt, userContent string, budget config.ThinkingBudget, onThinking func(string)) (*models.ExtractionFacts, llm.Usage, error)
}

// streamingRetryPause is the fixed delay before the single disabled-
// streaming retry spec §4.5 specifies for a streaming-mode extraction
// failure.
const streamingRetryPause = 2 * time.Second

// ExtractStage runs per-document structured extraction across a bounded
// worker pool, fanning multi-chunk documents out under an inner
// concurrency cap and merging their results (spec §4.5's extract stage).
type ExtractStage struct {
	Gateway          extractionGateway
	Model            string
	ContextWindow    int
	Concurrency      int
	InnerConcurrency int
	SystemPromptFor  func(docType models.DocumentType) string
	Budget           config.ThinkingBudget
}

// Run extracts structured facts from every parsed document. A document
// whose content begins with the [ERROR] sentinel skips the LLM call
// entirely and yields an empty Extraction Facts record carrying the
// sentinel reason (spec §4.5's per-item failure semantics); OnError
// fires for both sentinel skips and LLM failures.
func (s *ExtractStage) Run(ctx context.Context, docs []models.Document, cb ItemCallbacks) ([]*models.ExtractionFacts, error) {
	return runPool(ctx, docs, s.Concurrency, func(ctx context.Context, i int, doc models.Document) (*models.ExtractionFacts, error) {
		cb.started(i, doc.Filename)

		if doc.Failed() {
			reason := strings.TrimSpace(strings.TrimPrefix(doc.Content, models.ErrorSentinel))
			cb.errored(i, doc.Filename, reason)
			return models.WithFailureNote(reason), nil
		}

		facts, usage, err := s.extractDocument(ctx, doc, cb.thinking)
		if err != nil {
			cb.errored(i, doc.Filename, err.Error())
			return models.WithFailureNote(err.Error()), nil
		}
		cb.completed(i, doc.Filename, usage)
		return facts, nil
	})
}

func (s *ExtractStage) extractDocument(ctx context.Context, doc models.Document, onThinking func(string)) (*models.ExtractionFacts, llm.Usage, error) {
	maxChars := chunk.MaxChars(s.ContextWindow)
	windows := chunk.Partition(doc.Content, maxChars)

	systemPrompt := s.systemPrompt(doc.Type)

	if len(windows) == 1 {
		return s.extractWithFallback(ctx, systemPrompt, windows[0].Text, onThinking)
	}

	type chunkResult struct {
		facts *models.ExtractionFacts
		usage llm.Usage
	}
	results, err := runPool(ctx, windows, s.InnerConcurrency, func(ctx context.Context, _ int, w chunk.Window) (chunkResult, error) {
		facts, usage, err := s.extractWithFallback(ctx, systemPrompt, w.Text, onThinking)
		if err != nil {
			return chunkResult{facts: models.WithFailureNote(err.Error())}, nil
		}
		return chunkResult{facts: facts, usage: usage}, nil
	})
	if err != nil {
		return nil, llm.Usage{}, err
	}

	chunks := make([]*models.ExtractionFacts, len(results))
	var total llm.Usage
	for i, r := range results {
		chunks[i] = r.facts
		total.InputTokens += r.usage.InputTokens
		total.OutputTokens += r.usage.OutputTokens
	}
	return chunk.Merge(chunks), total, nil
}

// extractWithFallback calls the Gateway's streaming path (forwarding
// reasoning tokens to onThinking) and, on failure, retries once after a
// fixed pause with streaming disabled — the Gateway itself already falls
// back from streaming to non-streaming internally, so a failure reaching
// here means that fallback also failed; spec §4.5 calls for exactly one
// more attempt.
func (s *ExtractStage) extractWithFallback(ctx context.Context, systemPrompt, content string, onThinking func(string)) (*models.ExtractionFacts, llm.Usage, error) {
	facts, usage, err := s.Gateway.CompleteExtractionStreaming(ctx, s.Model, systemPrompt, content, s.Budget, onThinking)
	if err == nil {
		return facts, usage, nil
	}

	select {
	case <-ctx.Done():
		return nil, llm.Usage{}, ctx.Err()
	case <-time.After(streamingRetryPause):
	}

	facts, usage, err2 := s.Gateway.CompleteExtraction(ctx, s.Model, systemPrompt, content, config.ThinkingOff)
	if err2 != nil {
		return nil, llm.Usage{}, fmt.Errorf("extraction failed after retry: %w", err2)
	}
	return facts, usage, nil
}

func (s *ExtractStage) systemPrompt(docType models.DocumentType) string {
	if s.SystemPromptFor != nil {
		return s.SystemPromptFor(docType)
	}
	return defaultSystemPrompt(docType)
}

func defaultSystemPrompt(docType models.DocumentType) string {
	return fmt.Sprintf("Extract structured procurement facts from this %s document. Respond with JSON only matching the required schema.", docType)
}
