package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proculyze/analyzer/pkg/models"
)

func TestMemoryStoreAnalysisRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := &models.Analysis{ID: "a1", CreatedAt: time.Now(), Status: models.StatusPending, Model: "gpt-4.1-mini"}
	require.NoError(t, s.CreateAnalysis(ctx, a))

	got, err := s.GetAnalysis(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	got.Status = models.StatusCompleted
	require.NoError(t, s.UpdateAnalysis(ctx, got))

	got2, err := s.GetAnalysis(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got2.Status)
}

func TestMemoryStoreGetAnalysisNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetAnalysis(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreEventSequencingAndReplay(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 5; i++ {
		evt, err := s.AppendEvent(ctx, "a1", models.Event{Type: models.EventMetricsUpdate, Timestamp: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, uint32(i), evt.Index)
	}

	replay, err := s.ReadEventsFrom(ctx, "a1", 2)
	require.NoError(t, err)
	require.Len(t, replay, 3)
	assert.Equal(t, uint32(2), replay[0].Index)
}

func TestMemoryStoreChatHistoryTruncation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 25; i++ {
		require.NoError(t, s.AppendChatMessage(ctx, "a1", ChatMessage{Role: "user", Content: "q", CreatedAt: time.Now()}))
	}

	last20, err := s.ListChatMessages(ctx, "a1", 20)
	require.NoError(t, err)
	assert.Len(t, last20, 20)
}
