package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// HistoryStore implements domain.HistoryStore.
type HistoryStore struct {
	mu      sync.RWMutex
	records []domain.ProbabilityRecord
}

// NewHistoryStore creates an empty HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

// Append adds all records at once.
func (s *HistoryStore) Append(_ context.Context, records []domain.ProbabilityRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := make([]domain.ProbabilityRecord, len(records))
	copy(batch, records)
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.NewString()
		}
		if batch[i].RecordedAt.IsZero() {
			batch[i].RecordedAt = time.Now().UTC()
		}
	}
	s.mu.Lock()
	s.records = append(s.records, batch...)
	s.mu.Unlock()
	return nil
}

// Query returns a market's records in ascending recorded_at order.
func (s *HistoryStore) Query(_ context.Context, q domain.HistoryQuery) ([]domain.ProbabilityRecord, error) {
	s.mu.RLock()
	var out []domain.ProbabilityRecord
	for _, r := range s.records {
		if r.MarketID != q.MarketID {
			continue
		}
		if q.Since != nil && r.RecordedAt.Before(*q.Since) {
			continue
		}
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

// ListBefore returns up to limit records older than before, oldest first.
func (s *HistoryStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.ProbabilityRecord, error) {
	s.mu.RLock()
	var out []domain.ProbabilityRecord
	for _, r := range s.records {
		if r.RecordedAt.Before(before) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// DeleteBefore removes records older than before.
func (s *HistoryStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var n int64
	for _, r := range s.records {
		if r.RecordedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return n, nil
}
