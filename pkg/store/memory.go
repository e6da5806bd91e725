package store

import (
	"context"
	"sync"

	"github.com/proculyze/analyzer/pkg/models"
)

// MemoryStore is an in-process Store used in tests and in single-node
// deployments with no StoreURL configured (spec §6).
type MemoryStore struct {
	mu        sync.RWMutex
	analyses  map[string]*models.Analysis
	events    map[string][]models.Event
	chat      map[string][]ChatMessage
	nextIndex map[string]uint32
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		analyses:  make(map[string]*models.Analysis),
		events:    make(map[string][]models.Event),
		chat:      make(map[string][]ChatMessage),
		nextIndex: make(map[string]uint32),
	}
}

func (s *MemoryStore) CreateAnalysis(ctx context.Context, a *models.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.analyses[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAnalysis(ctx context.Context, id string) (*models.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analyses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) UpdateAnalysis(ctx context.Context, a *models.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.analyses[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	s.analyses[a.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteAnalysis(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.analyses[id]; !ok {
		return ErrNotFound
	}
	delete(s.analyses, id)
	delete(s.events, id)
	delete(s.chat, id)
	delete(s.nextIndex, id)
	return nil
}

func (s *MemoryStore) ListAnalyses(ctx context.Context, limit, offset int) ([]*models.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Analysis, 0, len(s.analyses))
	for _, a := range s.analyses {
		cp := *a
		out = append(out, &cp)
	}
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, analysisID string, evt models.Event) (models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt.Index = s.nextIndex[analysisID]
	s.nextIndex[analysisID]++
	s.events[analysisID] = append(s.events[analysisID], evt)
	return evt, nil
}

func (s *MemoryStore) ReadEventsFrom(ctx context.Context, analysisID string, sinceIndex uint32) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[analysisID]
	out := make([]models.Event, 0, len(all))
	for _, e := range all {
		if e.Index >= sinceIndex {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendChatMessage(ctx context.Context, analysisID string, msg ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat[analysisID] = append(s.chat[analysisID], msg)
	return nil
}

func (s *MemoryStore) ListChatMessages(ctx context.Context, analysisID string, limit int) ([]ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.chat[analysisID]
	if limit <= 0 || limit >= len(all) {
		out := make([]ChatMessage, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]ChatMessage, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
