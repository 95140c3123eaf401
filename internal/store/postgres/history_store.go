package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// HistoryStore implements domain.HistoryStore using PostgreSQL.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a new HistoryStore backed by the given connection pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

const historyColumns = `id, market_id, option_id, probability::float8, recorded_at`

// Append inserts all records in one transaction using a batch.
func (s *HistoryStore) Append(ctx context.Context, records []domain.ProbabilityRecord) error {
	if len(records) == 0 {
		return nil
	}

	const query = `
		INSERT INTO probability_history (id, market_id, option_id, probability, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		at := r.RecordedAt
		if at.IsZero() {
			at = now
		}
		batch.Queue(query, id, r.MarketID, r.OptionID, domain.RoundProbability(r.Probability), at)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin history append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: append history item %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close history batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit history append: %w", err)
	}
	return nil
}

// Query returns a market's history in ascending recorded_at order.
func (s *HistoryStore) Query(ctx context.Context, q domain.HistoryQuery) ([]domain.ProbabilityRecord, error) {
	query := `SELECT ` + historyColumns + ` FROM probability_history WHERE market_id = $1`
	args := []any{q.MarketID}
	query, args = appendTimeRange(query, args, "recorded_at", domain.ListOpts{Since: q.Since})
	query += " ORDER BY recorded_at ASC, id"
	query, args = appendPaging(query, args, q.Limit, 0)

	return s.collect(ctx, "query history", query, args...)
}

// ListBefore returns up to limit records older than before, oldest first.
func (s *HistoryStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ProbabilityRecord, error) {
	query := `SELECT ` + historyColumns + ` FROM probability_history WHERE recorded_at < $1 ORDER BY recorded_at ASC, id`
	query, args := appendPaging(query, []any{before}, limit, 0)
	return s.collect(ctx, "list history before", query, args...)
}

// DeleteBefore removes records older than before.
func (s *HistoryStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM probability_history WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete history before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *HistoryStore) collect(ctx context.Context, op, query string, args ...any) ([]domain.ProbabilityRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.ProbabilityRecord
	for rows.Next() {
		var r domain.ProbabilityRecord
		if err := rows.Scan(&r.ID, &r.MarketID, &r.OptionID, &r.Probability, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("postgres: %s scan: %w", op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}
