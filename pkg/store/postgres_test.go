package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proculyze/analyzer/pkg/models"
	"github.com/proculyze/analyzer/pkg/store"
	testutil "github.com/proculyze/analyzer/test/util"
)

func newTestPostgresStore(t *testing.T) *store.PostgresStore {
	t.Helper()
	dsn := testutil.SetupTestSchema(t)
	s, err := store.NewPostgresStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStoreAnalysisRoundTrip(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	a := &models.Analysis{
		ID:        "a1",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Status:    models.StatusPending,
		Model:     "gpt-4o",
	}
	require.NoError(t, s.CreateAnalysis(ctx, a))

	got, err := s.GetAnalysis(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, a.Model, got.Model)
	assert.Equal(t, models.StatusPending, got.Status)

	now := time.Now().UTC().Truncate(time.Second)
	got.Status = models.StatusCompleted
	got.CompletedAt = &now
	require.NoError(t, s.UpdateAnalysis(ctx, got))

	updated, err := s.GetAnalysis(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
}

func TestPostgresStoreGetAnalysisNotFound(t *testing.T) {
	s := newTestPostgresStore(t)
	_, err := s.GetAnalysis(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresStoreListAnalysesOrdersByCreatedAtDesc(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	older := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	newer := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.CreateAnalysis(ctx, &models.Analysis{ID: "old", CreatedAt: older, Status: models.StatusCompleted, Model: "m"}))
	require.NoError(t, s.CreateAnalysis(ctx, &models.Analysis{ID: "new", CreatedAt: newer, Status: models.StatusCompleted, Model: "m"}))

	list, err := s.ListAnalyses(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)
}

func TestPostgresStoreEventSequencingAndReplay(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateAnalysis(ctx, &models.Analysis{ID: "a1", CreatedAt: time.Now(), Status: models.StatusPending, Model: "m"}))

	first, err := s.AppendEvent(ctx, "a1", models.Event{Type: models.EventMetricsUpdate, Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), first.Index)

	second, err := s.AppendEvent(ctx, "a1", models.Event{Type: models.EventMetricsUpdate, Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), second.Index)

	replay, err := s.ReadEventsFrom(ctx, "a1", 1)
	require.NoError(t, err)
	require.Len(t, replay, 1)
	assert.Equal(t, uint32(1), replay[0].Index)
}

func TestPostgresStoreChatHistoryRoundTrip(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateAnalysis(ctx, &models.Analysis{ID: "a1", CreatedAt: time.Now(), Status: models.StatusCompleted, Model: "m"}))

	require.NoError(t, s.AppendChatMessage(ctx, "a1", store.ChatMessage{Role: "user", Content: "what is the deadline?", CreatedAt: time.Now()}))
	require.NoError(t, s.AppendChatMessage(ctx, "a1", store.ChatMessage{Role: "assistant", Content: "2026-09-01", CreatedAt: time.Now()}))

	history, err := s.ListChatMessages(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)
}
