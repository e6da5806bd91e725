// Package retention periodically prunes old, terminal analyses from the
// store, adapted from the teacher's session-retention sweep to this
// engine's single Analysis Record shape.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/proculyze/analyzer/pkg/store"
)

// sweepPageSize bounds how many analyses a single sweep inspects. Large
// enough for any realistic single-node deployment without requiring the
// store to support a dedicated "older than" query.
const sweepPageSize = 500

// Config controls how aggressively the sweep runs.
type Config struct {
	// MaxAge is how long a terminal analysis is kept before deletion.
	MaxAge time.Duration
	// Interval is how often the sweep runs.
	Interval time.Duration
}

// Service periodically deletes analyses that reached a terminal status
// more than Config.MaxAge ago. All operations are idempotent and safe to
// run from multiple processes against the same store.
type Service struct {
	config *Config
	store  store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService constructs a retention Service over store.
func NewService(cfg *Config, s store.Store) *Service {
	return &Service{config: cfg, store: s}
}

// Start launches the background sweep loop. A no-op if already running.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	slog.Info("retention: started", "max_age", s.config.MaxAge, "interval", s.config.Interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention: stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.MaxAge)
	deleted := 0

	for offset := 0; ; offset += sweepPageSize {
		page, err := s.store.ListAnalyses(ctx, sweepPageSize, offset)
		if err != nil {
			slog.Error("retention: listing analyses failed", "error", err)
			return
		}
		if len(page) == 0 {
			break
		}
		for _, a := range page {
			if !a.Status.Terminal() || a.CompletedAt == nil || a.CompletedAt.After(cutoff) {
				continue
			}
			if err := s.store.DeleteAnalysis(ctx, a.ID); err != nil {
				slog.Error("retention: delete failed", "analysis_id", a.ID, "error", err)
				continue
			}
			deleted++
		}
		if len(page) < sweepPageSize {
			break
		}
	}

	if deleted > 0 {
		slog.Info("retention: swept old analyses", "deleted", deleted)
	}
}
