// Package store provides durable persistence for analyses and their
// durable event stream: an Analysis Record (spec §3.1), the append-only
// durable event log that backs replay (spec §4.1), and post-analysis chat
// history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/proculyze/analyzer/pkg/models"
)

// ErrNotFound is returned when an analysis or event range does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the durable persistence boundary. Both the in-memory and
// Postgres implementations satisfy it, so the pipeline orchestrator and
// API layer never depend on a concrete backend (spec §6's StoreURL switch).
type Store interface {
	CreateAnalysis(ctx context.Context, a *models.Analysis) error
	GetAnalysis(ctx context.Context, id string) (*models.Analysis, error)
	UpdateAnalysis(ctx context.Context, a *models.Analysis) error
	ListAnalyses(ctx context.Context, limit, offset int) ([]*models.Analysis, error)
	// DeleteAnalysis removes id's record along with its durable event log
	// and chat history, for the retention sweep (pkg/retention).
	DeleteAnalysis(ctx context.Context, id string) error

	// AppendEvent appends a durable event to analysis id's log, assigning
	// it the next sequential index, and returns the assigned event.
	AppendEvent(ctx context.Context, analysisID string, evt models.Event) (models.Event, error)
	// ReadEventsFrom returns every durable event for analysisID with index
	// >= sinceIndex, in order, for SSE reconnect replay.
	ReadEventsFrom(ctx context.Context, analysisID string, sinceIndex uint32) ([]models.Event, error)

	AppendChatMessage(ctx context.Context, analysisID string, msg ChatMessage) error
	ListChatMessages(ctx context.Context, analysisID string, limit int) ([]ChatMessage, error)

	Close() error
}

// ChatMessage is one turn of the post-analysis chat (spec_full's
// supplemented chat feature).
type ChatMessage struct {
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}
