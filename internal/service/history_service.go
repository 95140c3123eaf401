package service

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// Chart query bounds.
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// HistoryService builds probability charts from the history log.
type HistoryService struct {
	catalog domain.CatalogStore
	history domain.HistoryStore
	now     func() time.Time
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(catalog domain.CatalogStore, history domain.HistoryStore) *HistoryService {
	return &HistoryService{
		catalog: catalog,
		history: history,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Chart returns the market's history grouped into points by recording time,
// keyed by option title. A market with no history yet gets one synthetic
// point holding the current probabilities; it is not persisted.
func (s *HistoryService) Chart(ctx context.Context, marketID string, since *time.Time, limit int) ([]domain.ChartPoint, error) {
	if _, err := s.catalog.GetMarket(ctx, marketID); err != nil {
		return nil, fmt.Errorf("history_service: market %q: %w", marketID, err)
	}
	opts, err := s.catalog.GetOptionsForMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("history_service: options for %q: %w", marketID, err)
	}

	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	records, err := s.history.Query(ctx, domain.HistoryQuery{MarketID: marketID, Since: since, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("history_service: query %q: %w", marketID, err)
	}

	if len(records) == 0 {
		values := make(map[string]float64, len(opts))
		for _, o := range opts {
			values[o.Title] = o.CurrentProbability
		}
		return []domain.ChartPoint{{RecordedAt: s.now(), Values: values, Synthetic: true}}, nil
	}

	titles := make(map[string]string, len(opts))
	for _, o := range opts {
		titles[o.ID] = o.Title
	}

	var points []domain.ChartPoint
	for _, r := range records {
		title, ok := titles[r.OptionID]
		if !ok {
			title = r.OptionID
		}
		if n := len(points); n > 0 && points[n-1].RecordedAt.Equal(r.RecordedAt) {
			points[n-1].Values[title] = r.Probability
			continue
		}
		points = append(points, domain.ChartPoint{
			RecordedAt: r.RecordedAt,
			Values:     map[string]float64{title: r.Probability},
		})
	}
	return points, nil
}
