package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proculyze/analyzer/pkg/config"
	"github.com/proculyze/analyzer/pkg/events"
	"github.com/proculyze/analyzer/pkg/llm"
	"github.com/proculyze/analyzer/pkg/models"
	"github.com/proculyze/analyzer/pkg/stage"
	"github.com/proculyze/analyzer/pkg/store"
	"github.com/proculyze/analyzer/pkg/unpack"
)

type stubUnpacker struct {
	files []unpack.File
	err   error
}

func (u *stubUnpacker) Unpack(_ []string) ([]unpack.File, error) { return u.files, u.err }

type stubParse struct {
	docs []models.Document
	err  error
}

func (s *stubParse) Run(_ context.Context, files []unpack.File, cb stage.ItemCallbacks) ([]models.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	for i, f := range files {
		cb.OnCompleted(i, f.OriginalFilename, nil)
	}
	return s.docs, s.err
}

type stubExtract struct {
	facts []*models.ExtractionFacts
	err   error
}

func (s *stubExtract) Run(_ context.Context, docs []models.Document, cb stage.ItemCallbacks) ([]*models.ExtractionFacts, error) {
	if s.err != nil {
		return nil, s.err
	}
	if cb.OnThinking != nil {
		cb.OnThinking("extracting facts")
	}
	for i, d := range docs {
		cb.OnStarted(i, d.Filename)
		cb.OnCompleted(i, d.Filename, llm.Usage{InputTokens: 10, OutputTokens: 5})
	}
	return s.facts, s.err
}

type stubReportGateway struct {
	report  *models.ExtractionFacts
	qa      *models.QAScore
	aggErr  error
	evalErr error

	thinkingChunks []string
}

func (g *stubReportGateway) CompleteExtractionStreaming(_ context.Context, _, _, _ string, _ config.ThinkingBudget, onThinking func(string)) (*models.ExtractionFacts, llm.Usage, error) {
	if onThinking != nil {
		onThinking("aggregating facts")
		g.thinkingChunks = append(g.thinkingChunks, "aggregating facts")
	}
	if g.aggErr != nil {
		return nil, llm.Usage{}, g.aggErr
	}
	return g.report, llm.Usage{InputTokens: 100, OutputTokens: 50}, nil
}

func (g *stubReportGateway) CompleteEvaluationStreaming(_ context.Context, _, _, _ string, _ config.ThinkingBudget, onThinking func(string)) (*models.QAScore, llm.Usage, error) {
	if onThinking != nil {
		onThinking("scoring completeness")
		g.thinkingChunks = append(g.thinkingChunks, "scoring completeness")
	}
	if g.evalErr != nil {
		return nil, llm.Usage{}, g.evalErr
	}
	return g.qa, llm.Usage{InputTokens: 20, OutputTokens: 10}, nil
}

func newTestOrchestrator(t *testing.T, s store.Store) (*Orchestrator, *events.Bus) {
	t.Helper()
	bus := events.NewBus(s)
	o := &Orchestrator{
		Store:   s,
		Bus:     bus,
		Unpack:  &stubUnpacker{files: []unpack.File{{Path: "/tmp/a.pdf", OriginalFilename: "a.pdf"}}},
		Parse:   &stubParse{docs: []models.Document{{Filename: "a.pdf", Content: "content", PageCount: 1}}},
		Extract: &stubExtract{facts: []*models.ExtractionFacts{models.NewExtractionFacts()}},
		Gateway: &stubReportGateway{report: models.NewExtractionFacts(), qa: &models.QAScore{CompletenessScore: 0.9}},
		Model:   "test-model",
		Budget:  config.ThinkingMedium,
	}
	return o, bus
}

func createTestAnalysis(t *testing.T, s store.Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateAnalysis(context.Background(), &models.Analysis{ID: id, Status: models.StatusPending}))
}

func TestOrchestratorRunHappyPathReachesCompleted(t *testing.T) {
	s := store.NewMemoryStore()
	o, bus := newTestOrchestrator(t, s)
	createTestAnalysis(t, s, "a1")

	ch, unsub := bus.Subscribe("a1")
	defer unsub()

	o.Run(context.Background(), "a1", []string{"/tmp/upload.zip"})

	a, err := s.GetAnalysis(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, a.Status)
	require.NotNil(t, a.Report)
	require.NotNil(t, a.QA)
	assert.Equal(t, 0.9, a.QA.CompletenessScore)
	assert.Nil(t, a.Error)
	assert.EqualValues(t, 130, a.Metrics.InputTokensTotal)
	assert.EqualValues(t, 65, a.Metrics.OutputTokensTotal)

	types := drainEventTypes(ch)
	assert.Contains(t, types, models.EventFileParsed)
	assert.Contains(t, types, models.EventExtractionStarted)
	assert.Contains(t, types, models.EventExtractionCompleted)
	assert.Contains(t, types, models.EventAggregationStarted)
	assert.Contains(t, types, models.EventAggregationCompleted)
	assert.Contains(t, types, models.EventEvaluationStarted)
	assert.Contains(t, types, models.EventEvaluationCompleted)
	assert.Contains(t, types, models.EventMetricsUpdate)
	assert.NotContains(t, types, models.EventError)
}

// drainEventTypes reads every event already buffered on ch without
// blocking — Run's pipeline is fully synchronous, so by the time it
// returns every durable event it published is already sitting in the
// subscriber channel's buffer.
func drainEventTypes(ch <-chan models.Event) []models.EventType {
	var types []models.EventType
	for {
		select {
		case e := <-ch:
			types = append(types, e.Type)
		default:
			return types
		}
	}
}

func TestOrchestratorRunStageFatalExtractionFailureWritesFailedStatus(t *testing.T) {
	s := store.NewMemoryStore()
	o, _ := newTestOrchestrator(t, s)
	o.Extract = &stubExtract{err: errors.New("extraction stage aborted")}
	createTestAnalysis(t, s, "a2")

	o.Run(context.Background(), "a2", []string{"/tmp/upload.zip"})

	a, err := s.GetAnalysis(context.Background(), "a2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, a.Status)
	require.NotNil(t, a.Error)
	assert.Nil(t, a.Report)
}

func TestOrchestratorRunNoSupportedFilesFailsAtUnpack(t *testing.T) {
	s := store.NewMemoryStore()
	o, _ := newTestOrchestrator(t, s)
	o.Unpack = &stubUnpacker{files: nil}
	createTestAnalysis(t, s, "a3")

	o.Run(context.Background(), "a3", []string{"/tmp/empty.zip"})

	a, err := s.GetAnalysis(context.Background(), "a3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, a.Status)
	require.NotNil(t, a.Error)
}

func TestOrchestratorRunCanceledBeforeRunStopsWithoutError(t *testing.T) {
	s := store.NewMemoryStore()
	o, bus := newTestOrchestrator(t, s)
	createTestAnalysis(t, s, "a4")

	// Mark the analysis canceled before Run starts, mirroring a client's
	// cancelAnalysis call landing before the run's first between-stage
	// poll; checkCanceled must catch it before the unpacking stage ever
	// runs, so no stage output and no durable error event are produced.
	require.NoError(t, Cancel(context.Background(), s, "a4"))

	ch, unsub := bus.Subscribe("a4")
	defer unsub()

	o.Run(context.Background(), "a4", []string{"/tmp/upload.zip"})

	a, err := s.GetAnalysis(context.Background(), "a4")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, a.Status)
	assert.Nil(t, a.Error)
	assert.Nil(t, a.Report)

	for _, typ := range drainEventTypes(ch) {
		assert.NotEqual(t, models.EventError, typ)
		assert.NotEqual(t, models.EventAggregationStarted, typ)
	}
}

func TestCancelIsNoOpOnTerminalAnalysis(t *testing.T) {
	s := store.NewMemoryStore()
	createTestAnalysis(t, s, "a5")
	a, err := s.GetAnalysis(context.Background(), "a5")
	require.NoError(t, err)
	a.Status = models.StatusCompleted
	require.NoError(t, s.UpdateAnalysis(context.Background(), a))

	require.NoError(t, Cancel(context.Background(), s, "a5"))

	got, err := s.GetAnalysis(context.Background(), "a5")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestOrchestratorRunStreamsThinkingDeltasAndDoneMarkersPerPhase(t *testing.T) {
	s := store.NewMemoryStore()
	o, bus := newTestOrchestrator(t, s)
	createTestAnalysis(t, s, "a6")

	thinkingCh, unsub := bus.SubscribeThinking("a6")
	defer unsub()

	o.Run(context.Background(), "a6", []string{"/tmp/upload.zip"})

	var deltas, dones []models.ThinkingPhase
drain:
	for {
		select {
		case c, ok := <-thinkingCh:
			if !ok {
				break drain
			}
			if c.Type == models.ThinkingChunkDelta {
				deltas = append(deltas, c.Phase)
			} else {
				dones = append(dones, c.Phase)
			}
		default:
			break drain
		}
	}

	assert.Contains(t, deltas, models.PhaseExtraction)
	assert.Contains(t, deltas, models.PhaseAggregation)
	assert.Contains(t, deltas, models.PhaseEvaluation)
	assert.Contains(t, dones, models.PhaseExtraction)
	assert.Contains(t, dones, models.PhaseAggregation)
	assert.Contains(t, dones, models.PhaseEvaluation)
}

func TestFactoryNewResolvesUnknownProvider(t *testing.T) {
	f := &Factory{Config: &config.Config{Providers: config.NewLLMProviderRegistry(nil)}}
	_, err := f.New("does-not-exist")
	assert.Error(t, err)
}
