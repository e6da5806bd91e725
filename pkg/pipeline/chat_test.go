package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proculyze/analyzer/pkg/llm"
	"github.com/proculyze/analyzer/pkg/models"
	"github.com/proculyze/analyzer/pkg/store"
)

type stubTextGateway struct {
	answer   string
	messages []llm.ChatMessage
	err      error
}

func (g *stubTextGateway) CompleteTextStreaming(_ context.Context, _ string, messages []llm.ChatMessage, onDelta func(string)) (llm.Usage, error) {
	g.messages = messages
	if g.err != nil {
		return llm.Usage{}, g.err
	}
	onDelta(g.answer)
	return llm.Usage{InputTokens: 50, OutputTokens: 20}, nil
}

func TestChatAnswerQuestionRejectsIncompleteAnalysis(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateAnalysis(context.Background(), &models.Analysis{ID: "a1", Status: models.StatusExtracting}))

	c := &Chat{Store: s, Gateway: &stubTextGateway{}, Model: "test-model"}
	_, err := c.AnswerQuestion(context.Background(), "a1", "what is the deadline?", func(string) {})
	assert.ErrorIs(t, err, ErrAnalysisNotCompleted)
}

func TestChatAnswerQuestionStreamsAnswerAndPersistsHistory(t *testing.T) {
	s := store.NewMemoryStore()
	title := "Tender notice"
	report := models.NewExtractionFacts()
	report.Title = &title
	require.NoError(t, s.CreateAnalysis(context.Background(), &models.Analysis{
		ID:     "a1",
		Status: models.StatusCompleted,
		Documents: []models.Document{
			{Filename: "a.pdf", PageCount: 2, Content: "document body"},
		},
		Report: report,
	}))

	gw := &stubTextGateway{answer: "The deadline is 2026-08-15."}
	c := &Chat{Store: s, Gateway: gw, Model: "test-model"}

	var streamed string
	usage, err := c.AnswerQuestion(context.Background(), "a1", "what is the deadline?", func(delta string) {
		streamed += delta
	})
	require.NoError(t, err)
	assert.Equal(t, "The deadline is 2026-08-15.", streamed)
	assert.EqualValues(t, 50, usage.InputTokens)

	require.Len(t, gw.messages, 2)
	assert.Equal(t, "system", gw.messages[0].Role)
	assert.Equal(t, "user", gw.messages[1].Role)
	assert.Equal(t, "what is the deadline?", gw.messages[1].Content)

	history, err := s.ListChatMessages(context.Background(), "a1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)
	assert.Equal(t, "The deadline is 2026-08-15.", history[1].Content)
}

func TestChatAnswerQuestionReplaysBoundedHistory(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateAnalysis(context.Background(), &models.Analysis{ID: "a1", Status: models.StatusCompleted}))

	for i := 0; i < 25; i++ {
		require.NoError(t, s.AppendChatMessage(context.Background(), "a1", store.ChatMessage{Role: "user", Content: "q"}))
	}

	gw := &stubTextGateway{answer: "ok"}
	c := &Chat{Store: s, Gateway: gw, Model: "test-model"}
	_, err := c.AnswerQuestion(context.Background(), "a1", "one more?", func(string) {})
	require.NoError(t, err)

	// The system prompt, maxHistoryMessages prior turns, and the new question.
	assert.Len(t, gw.messages, maxHistoryMessages+2)
	assert.Equal(t, "one more?", gw.messages[len(gw.messages)-1].Content)
}

func TestChatAnswerQuestionPropagatesGatewayError(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateAnalysis(context.Background(), &models.Analysis{ID: "a1", Status: models.StatusCompleted}))

	c := &Chat{Store: s, Gateway: &stubTextGateway{err: assertError{"provider unavailable"}}, Model: "test-model"}
	_, err := c.AnswerQuestion(context.Background(), "a1", "hello?", func(string) {})
	require.Error(t, err)

	history, err := s.ListChatMessages(context.Background(), "a1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1, "the question is recorded even if the answer fails")
	assert.Equal(t, "user", history[0].Role)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
