package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// CatalogStore implements domain.CatalogStore using PostgreSQL.
type CatalogStore struct {
	pool *pgxpool.Pool
}

// NewCatalogStore creates a new CatalogStore backed by the given connection pool.
func NewCatalogStore(pool *pgxpool.Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

const marketColumns = `id, external_id, source, title, description, category, icon, status, created_at, updated_at`

const optionColumns = `id, market_id, title, COALESCE(external_id, ''), current_probability::float8, created_at, updated_at`

// UpsertMarket inserts or updates a market keyed on external_id.
func (s *CatalogStore) UpsertMarket(ctx context.Context, u domain.MarketUpsert) (domain.Market, error) {
	const query = `
		INSERT INTO markets (
			id, external_id, source, title, description, category, icon, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_id) DO UPDATE SET
			source      = EXCLUDED.source,
			title       = EXCLUDED.title,
			description = EXCLUDED.description,
			category    = EXCLUDED.category,
			icon        = EXCLUDED.icon,
			status      = EXCLUDED.status,
			updated_at  = NOW()
		RETURNING ` + marketColumns

	row := s.pool.QueryRow(ctx, query,
		uuid.NewString(), u.ExternalID, u.Source, u.Title,
		u.Description, u.Category, u.Icon, string(u.Status),
	)
	m, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: upsert market %s: %w", u.ExternalID, err)
	}
	return m, nil
}

// UpsertOption inserts or updates an option. The existing row is locked so
// the created/changed decision and the write happen in one transaction.
func (s *CatalogStore) UpsertOption(ctx context.Context, u domain.OptionUpsert) (domain.OptionWrite, error) {
	p := domain.RoundProbability(u.Probability)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.OptionWrite{}, fmt.Errorf("postgres: begin option upsert: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)`, u.MarketID).Scan(&exists); err != nil {
		return domain.OptionWrite{}, fmt.Errorf("postgres: check market %s: %w", u.MarketID, err)
	}
	if !exists {
		return domain.OptionWrite{}, fmt.Errorf("postgres: upsert option for market %s: %w", u.MarketID, domain.ErrNotFound)
	}

	existing, err := lockOption(ctx, tx, u)
	var out domain.OptionWrite
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		row := tx.QueryRow(ctx, `
			INSERT INTO market_options (id, market_id, title, external_id, current_probability)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5)
			RETURNING `+optionColumns,
			uuid.NewString(), u.MarketID, u.Title, u.ExternalID, p,
		)
		o, err := scanOption(row)
		if err != nil {
			return domain.OptionWrite{}, fmt.Errorf("postgres: insert option %s/%s: %w", u.MarketID, u.Title, err)
		}
		out = domain.OptionWrite{Option: o, Created: true}
	case err != nil:
		return domain.OptionWrite{}, fmt.Errorf("postgres: lock option %s/%s: %w", u.MarketID, u.Title, err)
	case u.InsertOnly || !domain.ProbabilityChanged(existing.CurrentProbability, p):
		if existing.ExternalID == "" && u.ExternalID != "" {
			if _, err := tx.Exec(ctx,
				`UPDATE market_options SET external_id = $2, updated_at = NOW() WHERE id = $1`,
				existing.ID, u.ExternalID,
			); err != nil {
				return domain.OptionWrite{}, fmt.Errorf("postgres: key option %s: %w", existing.ID, err)
			}
			existing.ExternalID = u.ExternalID
		}
		out = domain.OptionWrite{Option: existing, Previous: existing.CurrentProbability}
	default:
		row := tx.QueryRow(ctx, `
			UPDATE market_options
			SET current_probability = $2,
			    external_id = COALESCE(external_id, NULLIF($3, '')),
			    updated_at = NOW()
			WHERE id = $1
			RETURNING `+optionColumns,
			existing.ID, p, u.ExternalID,
		)
		o, err := scanOption(row)
		if err != nil {
			return domain.OptionWrite{}, fmt.Errorf("postgres: update option %s: %w", existing.ID, err)
		}
		out = domain.OptionWrite{Option: o, Changed: true, Previous: existing.CurrentProbability}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.OptionWrite{}, fmt.Errorf("postgres: commit option upsert: %w", err)
	}
	committed = true
	return out, nil
}

// lockOption finds the option an upsert targets, by external id first and
// then by (market_id, title), and locks the row.
func lockOption(ctx context.Context, tx pgx.Tx, u domain.OptionUpsert) (domain.MarketOption, error) {
	if u.ExternalID != "" {
		o, err := scanOption(tx.QueryRow(ctx,
			`SELECT `+optionColumns+` FROM market_options WHERE external_id = $1 FOR UPDATE`,
			u.ExternalID,
		))
		if err == nil || !errors.Is(err, pgx.ErrNoRows) {
			return o, err
		}
	}
	query, args := optionByTitle(u)
	return scanOption(tx.QueryRow(ctx, query, args...))
}

// optionByTitle builds the (market_id, title) fallback lookup. A row keyed on
// a different external id is never matched; only unkeyed rows, or any row
// when the upsert itself is unkeyed, qualify.
func optionByTitle(u domain.OptionUpsert) (string, []any) {
	return `SELECT ` + optionColumns + ` FROM market_options
		WHERE market_id = $1 AND title = $2
		  AND (external_id IS NULL OR $3 = '' OR external_id = $3)
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE`, []any{u.MarketID, u.Title, u.ExternalID}
}

// GetMarket returns a market by its local id.
func (s *CatalogStore) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, notFound(err))
	}
	return m, nil
}

// GetMarketByExternalID returns a market by its provider key.
func (s *CatalogStore) GetMarketByExternalID(ctx context.Context, externalID string) (domain.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE external_id = $1`, externalID))
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market external %s: %w", externalID, notFound(err))
	}
	return m, nil
}

// GetOptionsForMarket returns a market's options in display order.
func (s *CatalogStore) GetOptionsForMarket(ctx context.Context, marketID string) ([]domain.MarketOption, error) {
	if _, err := s.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+optionColumns+` FROM market_options WHERE market_id = $1 ORDER BY created_at, id`,
		marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list options for %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.MarketOption
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan option: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list options rows: %w", err)
	}
	domain.SortOptions(out)
	return out, nil
}

// GetOption returns a single option by id.
func (s *CatalogStore) GetOption(ctx context.Context, id string) (domain.MarketOption, error) {
	o, err := scanOption(s.pool.QueryRow(ctx, `SELECT `+optionColumns+` FROM market_options WHERE id = $1`, id))
	if err != nil {
		return domain.MarketOption{}, fmt.Errorf("postgres: get option %s: %w", id, notFound(err))
	}
	return o, nil
}

// ListMarkets returns markets matching f, most recently created first.
func (s *CatalogStore) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	where, args := marketWhere(f)
	query := `SELECT ` + marketColumns + ` FROM markets` + where + ` ORDER BY created_at DESC, id`
	query, args = appendPaging(query, args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

// CountMarkets returns the number of markets matching f.
func (s *CatalogStore) CountMarkets(ctx context.Context, f domain.MarketFilter) (int64, error) {
	where, args := marketWhere(f)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

// ListExternalIDs returns the provider keys of markets from source.
func (s *CatalogStore) ListExternalIDs(ctx context.Context, source string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT external_id FROM markets WHERE ($1 = '' OR source = $1) ORDER BY external_id`,
		source,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list external ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: collect external ids: %w", err)
	}
	return ids, nil
}

func marketWhere(f domain.MarketFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Category != "" {
		add("LOWER(category) = LOWER($%d)", f.Category)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	err := row.Scan(
		&m.ID, &m.ExternalID, &m.Source, &m.Title, &m.Description,
		&m.Category, &m.Icon, &status, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

func scanOption(row pgx.Row) (domain.MarketOption, error) {
	var o domain.MarketOption
	err := row.Scan(
		&o.ID, &o.MarketID, &o.Title, &o.ExternalID,
		&o.CurrentProbability, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}
