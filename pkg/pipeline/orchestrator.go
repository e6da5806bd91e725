// Package pipeline implements the Pipeline Orchestrator (spec §4.6): the
// five-stage state machine that drives one analysis from pending through
// unpacking, parsing, extracting, aggregating and evaluating to a
// terminal status, checking for cancellation between stages, emitting
// the durable event table, routing thinking-phase markers onto the
// ephemeral lane, and accumulating the final cost metrics. Grounded on
// pkg/queue/executor.go's RealSessionExecutor.Execute sequential chain
// loop, adapted from a multi-agent chain to a fixed five-stage pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/proculyze/analyzer/pkg/config"
	"github.com/proculyze/analyzer/pkg/converter"
	"github.com/proculyze/analyzer/pkg/events"
	"github.com/proculyze/analyzer/pkg/llm"
	"github.com/proculyze/analyzer/pkg/models"
	"github.com/proculyze/analyzer/pkg/notify"
	"github.com/proculyze/analyzer/pkg/stage"
	"github.com/proculyze/analyzer/pkg/store"
	"github.com/proculyze/analyzer/pkg/unpack"
)

// costPerMillionInputUSD and costPerMillionOutputUSD are the fixed
// reference rates spec §4.6's cost model multiplies token totals by.
const (
	costPerMillionInputUSD  = 3.0
	costPerMillionOutputUSD = 15.0
)

// ErrNoSupportedFiles is a StageFatal condition: unpacking produced zero
// files the parse stage can act on.
var ErrNoSupportedFiles = errors.New("pipeline: no supported files after unpack")

// errCanceled is the internal sentinel a between-stage check returns;
// Run translates it into a canceled terminal write rather than a failed
// one, matching spec §4.6's "no error event on cancellation" rule.
var errCanceled = errors.New("pipeline: canceled")

// reportGateway is the subset of pkg/llm.Gateway the orchestrator calls
// directly for the aggregating and evaluating stages — both run as a
// single structured completion over the whole analysis, not a per-item
// fan-out, so they are driven here rather than inside pkg/stage.
type reportGateway interface {
	CompleteExtractionStreaming(ctx context.Context, providerName, systemPrompt, userContent string, budget config.ThinkingBudget, onThinking func(string)) (*models.ExtractionFacts, llm.Usage, error)
	CompleteEvaluationStreaming(ctx context.Context, providerName, systemPrompt, userContent string, budget config.ThinkingBudget, onThinking func(string)) (*models.QAScore, llm.Usage, error)
}

// unpacker is the subset of pkg/unpack.Unpacker the orchestrator depends on.
type unpacker interface {
	Unpack(uploadPaths []string) ([]unpack.File, error)
}

// parseRunner is the subset of pkg/stage.ParseStage the orchestrator
// depends on.
type parseRunner interface {
	Run(ctx context.Context, files []unpack.File, cb stage.ItemCallbacks) ([]models.Document, error)
}

// extractRunner is the subset of pkg/stage.ExtractStage the orchestrator
// depends on.
type extractRunner interface {
	Run(ctx context.Context, docs []models.Document, cb stage.ItemCallbacks) ([]*models.ExtractionFacts, error)
}

// Orchestrator drives one analysis through the five-stage pipeline. It is
// built fresh per run by Factory.New, wired to the analysis's chosen
// model — the stage executors' concurrency caps and the report gateway
// itself are process-wide singletons, but context window and provider
// name are per-analysis.
type Orchestrator struct {
	Store   store.Store
	Bus     *events.Bus
	Unpack  unpacker
	Parse   parseRunner
	Extract extractRunner
	Gateway reportGateway
	Notify  *notify.Service

	Model  string
	Budget config.ThinkingBudget
}

// Factory constructs a fresh Orchestrator for each analysis run, wiring
// its stage executors to the analysis's chosen model — per SPEC_FULL's
// module-singleton design note, the Store/Bus/Gateway/Converter
// collaborators are constructed once at process start and shared by
// reference; only the per-model stage configuration is rebuilt per run.
type Factory struct {
	Store     store.Store
	Bus       *events.Bus
	Gateway   *llm.Gateway
	Config    *config.Config
	Converter converter.Converter
	Notify    *notify.Service
}

// New builds an Orchestrator for providerName, the model the client
// selected when the analysis was created.
func (f *Factory) New(providerName string) (*Orchestrator, error) {
	provider, err := f.Config.GetProvider(providerName)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolving model: %w", err)
	}

	return &Orchestrator{
		Store:  f.Store,
		Bus:    f.Bus,
		Unpack: unpack.New(),
		Parse: &stage.ParseStage{
			Converter:   f.Converter,
			Concurrency: f.Config.Concurrency.ParseWorkers,
			Deadline:    f.Config.ParseDeadline,
		},
		Extract: &stage.ExtractStage{
			Gateway:          f.Gateway,
			Model:            providerName,
			ContextWindow:    provider.ContextWindow,
			Concurrency:      f.Config.Concurrency.ExtractWorkers,
			InnerConcurrency: f.Config.Concurrency.ChunkExtractWorkers,
			Budget:           config.ThinkingLow,
		},
		Gateway: f.Gateway,
		Notify:  f.Notify,
		Model:   providerName,
		Budget:  config.ThinkingMedium,
	}, nil
}

// Run drives analysisID through the pipeline. uploadPaths is the flat
// list of uploaded file paths the Archive Unpacker expands. Run never
// returns an error to its caller — every failure mode is recorded on the
// Analysis Record itself, per spec §4.6's "exactly one terminal status
// write" invariant; it is meant to be launched as a background task by
// the caller (the createAnalysis API handler).
func (o *Orchestrator) Run(ctx context.Context, analysisID string, uploadPaths []string) {
	started := time.Now()
	logger := slog.With("analysis_id", analysisID, "model", o.Model)
	defer o.Bus.DestroyEphemeral(analysisID)

	metrics := models.Metrics{StageCosts: map[string]models.CostLine{}}

	run := func(status models.Status, fn func() error) error {
		if err := o.checkCanceled(ctx, analysisID); err != nil {
			return err
		}
		if err := o.setStatus(ctx, analysisID, status); err != nil {
			return err
		}
		return fn()
	}

	var files []unpack.File
	var docs []models.Document
	var facts []*models.ExtractionFacts
	var report *models.ExtractionFacts
	var qa *models.QAScore

	err := run(models.StatusUnpacking, func() error {
		var err error
		files, err = o.Unpack.Unpack(uploadPaths)
		if err != nil {
			return fmt.Errorf("unpacking failed: %w", err)
		}
		if len(files) == 0 {
			return ErrNoSupportedFiles
		}
		metrics.FileCount = len(files)
		return nil
	})

	if err == nil {
		err = run(models.StatusParsing, func() error {
			var err error
			docs, err = o.Parse.Run(ctx, files, stage.ItemCallbacks{
				OnCompleted: func(_ int, filename string, _ any) {
					o.publish(ctx, analysisID, models.EventFileParsed, map[string]any{"filename": filename})
				},
				OnError: func(_ int, filename string, message string) {
					o.publish(ctx, analysisID, models.EventFileParsed, map[string]any{"filename": filename, "error": message})
				},
			})
			if err != nil {
				return fmt.Errorf("parsing failed: %w", err)
			}
			for _, d := range docs {
				metrics.PageCount += d.PageCount
			}
			return nil
		})
	}

	if err == nil {
		err = run(models.StatusExtracting, func() error {
			var extractErr error
			facts, extractErr = o.Extract.Run(ctx, docs, stage.ItemCallbacks{
				OnStarted: func(_ int, filename string) {
					o.publish(ctx, analysisID, models.EventExtractionStarted, map[string]any{"filename": filename})
				},
				OnCompleted: func(_ int, filename string, usage any) {
					o.publishUsage(ctx, analysisID, models.EventExtractionCompleted, &metrics, "extracting", filename, usage)
				},
				OnError: func(_ int, filename string, message string) {
					o.publish(ctx, analysisID, models.EventError, map[string]any{"filename": filename, "error": message})
				},
				OnThinking: o.onThinking(analysisID, models.PhaseExtraction),
			})
			if extractErr != nil {
				return fmt.Errorf("extracting failed: %w", extractErr)
			}
			for i := range docs {
				if i < len(facts) {
					docs[i].Extraction = facts[i]
				}
			}
			o.thinkingDone(analysisID, models.PhaseExtraction)
			return nil
		})
	}

	if err == nil {
		err = run(models.StatusAggregating, func() error {
			o.publish(ctx, analysisID, models.EventAggregationStarted, nil)
			var usage llm.Usage
			var aggErr error
			report, usage, aggErr = o.aggregate(ctx, analysisID, facts)
			if aggErr != nil {
				return fmt.Errorf("aggregating failed: %w", aggErr)
			}
			o.accumulate(&metrics, "aggregating", usage)
			o.publish(ctx, analysisID, models.EventAggregationCompleted, usageData(usage))
			o.thinkingDone(analysisID, models.PhaseAggregation)
			return nil
		})
	}

	if err == nil {
		err = run(models.StatusEvaluating, func() error {
			o.publish(ctx, analysisID, models.EventEvaluationStarted, nil)
			names := documentNames(docs)
			var usage llm.Usage
			var evalErr error
			qa, usage, evalErr = o.evaluate(ctx, analysisID, report, names)
			if evalErr != nil {
				return fmt.Errorf("evaluating failed: %w", evalErr)
			}
			o.accumulate(&metrics, "evaluating", usage)
			o.publish(ctx, analysisID, models.EventEvaluationCompleted, usageData(usage))
			o.thinkingDone(analysisID, models.PhaseEvaluation)
			return nil
		})
	}

	metrics.ElapsedMillis = time.Since(started).Milliseconds()
	metrics.EstimatedCostUSD = estimateCost(metrics.InputTokensTotal, metrics.OutputTokensTotal)

	// The terminal write and its bookkeeping must land even if ctx was
	// canceled by whatever launched this run (e.g. a server shutdown
	// context) — an analysis that reaches a terminal stage always gets
	// its one terminal write and its ephemeral lane torn down.
	term := context.Background()

	switch {
	case errors.Is(err, errCanceled):
		logger.Info("analysis canceled")
		o.finish(term, analysisID, models.StatusCanceled, nil, docs, report, qa, metrics)
		o.Notify.NotifyCompleted(term, notify.CompletedInput{AnalysisID: analysisID, Status: models.StatusCanceled})
	case err != nil:
		logger.Error("analysis failed", "error", err)
		o.publish(term, analysisID, models.EventError, map[string]any{"error": err.Error()})
		o.finish(term, analysisID, models.StatusFailed, err, docs, report, qa, metrics)
		o.Notify.NotifyCompleted(term, notify.CompletedInput{AnalysisID: analysisID, Status: models.StatusFailed, ErrorMessage: err.Error()})
	default:
		logger.Info("analysis completed", "elapsed_ms", metrics.ElapsedMillis, "estimated_cost_usd", metrics.EstimatedCostUSD)
		o.finish(term, analysisID, models.StatusCompleted, nil, docs, report, qa, metrics)
		o.publish(term, analysisID, models.EventMetricsUpdate, metricsData(metrics))
		var findings []string
		if qa != nil {
			findings = qa.Findings
		}
		o.Notify.NotifyCompleted(term, notify.CompletedInput{AnalysisID: analysisID, Status: models.StatusCompleted, Findings: findings})
	}
}

// Cancel writes status=canceled on analysisID if it is not already
// terminal (spec §4.6/§5's cancellation contract). It never touches a
// terminal analysis, and takes only a Store rather than an Orchestrator
// since the in-flight run that owns the analysis is a separate
// goroutine — cancellation is a signal the next checkCanceled poll picks
// up, not a call into the running Orchestrator itself.
func Cancel(ctx context.Context, s store.Store, analysisID string) error {
	a, err := s.GetAnalysis(ctx, analysisID)
	if err != nil {
		return err
	}
	if a.Status.Terminal() {
		return nil
	}
	a.Status = models.StatusCanceled
	now := time.Now()
	a.CompletedAt = &now
	return s.UpdateAnalysis(ctx, a)
}

// checkCanceled re-reads analysisID's stored status and returns
// errCanceled if it has been set to canceled out from under the
// in-flight run (spec §5's polling cancellation model).
func (o *Orchestrator) checkCanceled(ctx context.Context, analysisID string) error {
	a, err := o.Store.GetAnalysis(ctx, analysisID)
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}
	if a.Status == models.StatusCanceled {
		return errCanceled
	}
	return nil
}

// setStatus persists the new non-terminal status before the stage it
// names begins running, per spec §4.6's "transitions are persisted
// before work begins" rule.
func (o *Orchestrator) setStatus(ctx context.Context, analysisID string, status models.Status) error {
	a, err := o.Store.GetAnalysis(ctx, analysisID)
	if err != nil {
		return fmt.Errorf("reading analysis: %w", err)
	}
	a.Status = status
	if err := o.Store.UpdateAnalysis(ctx, a); err != nil {
		return fmt.Errorf("writing status %s: %w", status, err)
	}
	return nil
}

// finish writes the terminal status plus whatever results are available,
// satisfying spec §4.6's exactly-one-terminal-write invariant regardless
// of which stage stopped the run.
func (o *Orchestrator) finish(ctx context.Context, analysisID string, status models.Status, runErr error, docs []models.Document, report *models.ExtractionFacts, qa *models.QAScore, metrics models.Metrics) {
	a, err := o.Store.GetAnalysis(ctx, analysisID)
	if err != nil {
		slog.Error("pipeline: failed to load analysis for terminal write", "analysis_id", analysisID, "error", err)
		return
	}
	if a.Status.Terminal() {
		// A concurrent cancel already wrote a terminal status; do not
		// overwrite it (cancel always wins a race with a late failure).
		return
	}
	a.Status = status
	now := time.Now()
	a.CompletedAt = &now
	if docs != nil {
		a.Documents = docs
	}
	if status == models.StatusCompleted {
		a.Report = report
		a.QA = qa
	}
	if runErr != nil {
		msg := runErr.Error()
		a.Error = &msg
	}
	a.Metrics = metrics
	if err := o.Store.UpdateAnalysis(ctx, a); err != nil {
		slog.Error("pipeline: failed to write terminal status", "analysis_id", analysisID, "error", err)
	}
}

// aggregate merges every document's per-document Extraction Facts into
// one report via the LLM Gateway — the merged report is the same shape
// as a per-document extraction, so this reuses CompleteExtractionStreaming
// with an aggregation-specific prompt (spec §2's data-flow line), routing
// reasoning tokens onto the ephemeral lane tagged as the aggregation phase.
func (o *Orchestrator) aggregate(ctx context.Context, analysisID string, facts []*models.ExtractionFacts) (*models.ExtractionFacts, llm.Usage, error) {
	return o.Gateway.CompleteExtractionStreaming(ctx, o.Model, aggregationSystemPrompt, aggregationUserPrompt(facts), o.Budget, o.onThinking(analysisID, models.PhaseAggregation))
}

// evaluate scores the merged report's completeness via the LLM Gateway,
// routing reasoning tokens onto the ephemeral lane as the evaluation phase.
func (o *Orchestrator) evaluate(ctx context.Context, analysisID string, report *models.ExtractionFacts, documentNames []string) (*models.QAScore, llm.Usage, error) {
	return o.Gateway.CompleteEvaluationStreaming(ctx, o.Model, evaluationSystemPrompt, evaluationUserPrompt(report, documentNames), o.Budget, o.onThinking(analysisID, models.PhaseEvaluation))
}

// onThinking returns a callback that tags each reasoning-token fragment
// with phase and pushes it onto analysisID's ephemeral lane as it streams
// in (spec §4.2 streaming, §4.6 thinking-token routing).
func (o *Orchestrator) onThinking(analysisID string, phase models.ThinkingPhase) func(string) {
	return func(text string) {
		o.Bus.PublishThinking(analysisID, models.ThinkingChunk{Type: models.ThinkingChunkDelta, Phase: phase, Text: text})
	}
}

// publish stamps evt with the current time and sends it through the Bus.
// A publish failure is logged, not propagated — losing one durable event
// must not abort an otherwise-successful stage.
func (o *Orchestrator) publish(ctx context.Context, analysisID string, eventType models.EventType, data map[string]any) {
	evt := models.Event{Timestamp: time.Now(), Type: eventType, Data: data}
	if _, err := o.Bus.Publish(ctx, analysisID, evt); err != nil {
		slog.Warn("pipeline: failed to publish event", "analysis_id", analysisID, "event_type", eventType, "error", err)
	}
}

// publishUsage accumulates usage into metrics under stageName and
// publishes eventType carrying the item's filename and usage.
func (o *Orchestrator) publishUsage(ctx context.Context, analysisID string, eventType models.EventType, metrics *models.Metrics, stageName, filename string, usage any) {
	if u, ok := usage.(llm.Usage); ok {
		o.accumulate(metrics, stageName, u)
		o.publish(ctx, analysisID, eventType, map[string]any{"filename": filename, "input_tokens": u.InputTokens, "output_tokens": u.OutputTokens})
		return
	}
	o.publish(ctx, analysisID, eventType, map[string]any{"filename": filename})
}

// accumulate folds usage's token counts into metrics' running totals and
// per-stage cost line.
func (o *Orchestrator) accumulate(metrics *models.Metrics, stageName string, usage llm.Usage) {
	metrics.InputTokensTotal += usage.InputTokens
	metrics.OutputTokensTotal += usage.OutputTokens

	line := metrics.StageCosts[stageName]
	line.InputTokens += usage.InputTokens
	line.OutputTokens += usage.OutputTokens
	line.CostUSD = estimateCost(line.InputTokens, line.OutputTokens)
	metrics.StageCosts[stageName] = line
}

// thinkingDone pushes the phase-boundary marker spec §4.6 requires
// between LLM phases onto the ephemeral lane.
func (o *Orchestrator) thinkingDone(analysisID string, phase models.ThinkingPhase) {
	o.Bus.PublishThinking(analysisID, models.ThinkingChunk{Type: models.ThinkingChunkDone, Phase: phase})
}

// estimateCost applies spec §4.6's fixed reference rate.
func estimateCost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1e6*costPerMillionInputUSD + float64(outputTokens)/1e6*costPerMillionOutputUSD
}

func documentNames(docs []models.Document) []string {
	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = d.Filename
	}
	return names
}

func usageData(u llm.Usage) map[string]any {
	return map[string]any{"input_tokens": u.InputTokens, "output_tokens": u.OutputTokens}
}

func metricsData(m models.Metrics) map[string]any {
	return map[string]any{
		"input_tokens_total":  m.InputTokensTotal,
		"output_tokens_total": m.OutputTokensTotal,
		"file_count":          m.FileCount,
		"page_count":          m.PageCount,
		"elapsed_ms":          m.ElapsedMillis,
		"estimated_cost_usd":  m.EstimatedCostUSD,
	}
}
