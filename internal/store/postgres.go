package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/etrendo/marketsync/internal/db"
	"github.com/etrendo/marketsync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const (
	bronzeTable = "bronze.raw_observations"
	silverTable = "silver.listings"
	runLogTable = "ops.reconcile_log"
)

// listingColumns is the full silver column set in insert order.
var listingColumns = []string{
	"source", "category_label", "entity_key",
	"first_seen_at", "last_seen_at", "is_active", "updated_at",
	"node", "asin", "page_number", "position", "title", "link",
	"rating", "reviews", "bought_last_month", "price_raw", "currency",
	"price", "delivery", "sponsored",
}

// listingAttrColumns are the columns governed by the merge policy.
var listingAttrColumns = listingColumns[7:]

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) AppendObservations(ctx context.Context, rows []model.RawRow) (int64, error) {
	batch := make([][]any, 0, len(rows))
	for _, r := range rows {
		batch = append(batch, []any{r.Source, r.CategoryLabel, r.ObservedAt, r.Payload})
	}
	return db.CopyFrom(ctx, s.pool, bronzeTable,
		[]string{"source", "category_label", "observed_at", "payload"}, batch)
}

func (s *PostgresStore) FetchObservations(ctx context.Context, source string, since *time.Time) ([]model.RawRow, error) {
	// Ordered by (observed_at, id) so downstream stable tie-breaks follow
	// bronze insertion order.
	query := `SELECT id, source, category_label, observed_at, payload
	          FROM bronze.raw_observations WHERE source = $1`
	args := []any{source}
	if since != nil {
		query += ` AND observed_at > $2`
		args = append(args, *since)
	}
	query += ` ORDER BY observed_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch observations")
	}
	defer rows.Close()

	var result []model.RawRow
	for rows.Next() {
		var r model.RawRow
		if err := rows.Scan(&r.ID, &r.Source, &r.CategoryLabel, &r.ObservedAt, &r.Payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan observation")
		}
		result = append(result, r)
	}
	return result, eris.Wrap(rows.Err(), "postgres: fetch observations iterate")
}

// MergeCandidates applies the pre-reduced candidate batch with a guarded
// ON CONFLICT upsert. The guard makes a stale candidate a no-op; the per-key
// update is atomic, so readers never observe a partially-merged entity.
func (s *PostgresStore) MergeCandidates(ctx context.Context, policy model.MergePolicy, candidates []model.Listing) (int64, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	batch := make([][]any, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		batch = append(batch, []any{
			c.Source, c.CategoryLabel, c.EntityKey,
			c.FirstSeenAt, c.LastSeenAt, true, now,
			c.Node, c.ASIN, c.PageNumber, c.Position, c.Title, c.Link,
			c.Rating, c.Reviews, c.BoughtLastMonth, c.PriceRaw, c.Currency,
			c.Price, c.Delivery, c.Sponsored,
		})
	}

	exprs := map[string]string{
		"is_active":  "TRUE",
		"updated_at": "now()",
	}
	if policy == model.MergeCoalesce {
		for _, col := range listingAttrColumns {
			exprs[col] = fmt.Sprintf(`COALESCE(EXCLUDED.%q, t.%q)`, col, col)
		}
	}

	return db.ConditionalUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        silverTable,
		Columns:      listingColumns,
		ConflictKeys: []string{"source", "category_label", "entity_key"},
		NoUpdate:     []string{"first_seen_at"},
		UpdateExprs:  exprs,
		Guard:        `t."last_seen_at" < EXCLUDED."last_seen_at"`,
	}, batch)
}

// FlagStale recomputes is_active for every listing of a source from the
// cutoff. Runs after every merge pass: the upsert can only ever activate rows
// it saw, never demote rows that stopped appearing.
func (s *PostgresStore) FlagStale(ctx context.Context, source string, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE silver.listings
		 SET is_active = (last_seen_at >= $2), updated_at = now()
		 WHERE source = $1 AND is_active IS DISTINCT FROM (last_seen_at >= $2)`,
		source, cutoff,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: flag stale for %s", source)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) GetListing(ctx context.Context, key model.Key) (*model.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingSelectList+`
		 FROM silver.listings
		 WHERE source = $1 AND category_label = $2 AND entity_key = $3`,
		key.Source, key.CategoryLabel, key.EntityKey,
	)

	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get listing")
	}
	return l, nil
}

func (s *PostgresStore) ListListings(ctx context.Context, filter ListingFilter) ([]model.Listing, error) {
	query := `SELECT ` + listingSelectList + ` FROM silver.listings WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	if filter.CategoryLabel != "" {
		query += fmt.Sprintf(` AND category_label = $%d`, argIdx)
		args = append(args, filter.CategoryLabel)
		argIdx++
	}
	if filter.ActiveOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY source, category_label, entity_key`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list listings")
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan listing")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "postgres: list listings iterate")
}

func (s *PostgresStore) CountListings(ctx context.Context, source string) (*SourceCounts, error) {
	c := SourceCounts{Source: source}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active)
		 FROM silver.listings WHERE source = $1`,
		source,
	).Scan(&c.Total, &c.Active)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: count listings for %s", source)
	}
	return &c, nil
}

func (s *PostgresStore) StartRun(ctx context.Context, source string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ops.reconcile_log (source, status, started_at)
		 VALUES ($1, 'running', now()) RETURNING id`,
		source,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: start run for %s", source)
	}
	return id, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID int64, result RunResult) error {
	var metaJSON []byte
	if result.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(result.Metadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal run metadata")
		}
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE ops.reconcile_log
		 SET status = 'complete', completed_at = now(),
		     rows_read = $1, rows_merged = $2, rows_rejected = $3,
		     watermark = $4, metadata = $5
		 WHERE id = $6`,
		result.RowsRead, result.RowsMerged, result.RowsRejected,
		result.Watermark, metaJSON, runID,
	)
	return eris.Wrapf(err, "postgres: complete run %d", runID)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID int64, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ops.reconcile_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, runID,
	)
	return eris.Wrapf(err, "postgres: fail run %d", runID)
}

func (s *PostgresStore) LastSuccessfulRun(ctx context.Context, source string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runSelectList+`
		 FROM ops.reconcile_log
		 WHERE source = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		source,
	)

	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: last successful run for %s", source)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runSelectList+`
		 FROM ops.reconcile_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// helpers

const listingSelectList = `source, category_label, entity_key,
	first_seen_at, last_seen_at, is_active, updated_at,
	node, asin, page_number, position, title, link,
	rating, reviews, bought_last_month, price_raw, currency,
	price, delivery, sponsored`

const runSelectList = `id, source, status, started_at, completed_at,
	rows_read, rows_merged, rows_rejected, watermark, error, metadata`

type scannable interface {
	Scan(dest ...any) error
}

func scanListing(row scannable) (*model.Listing, error) {
	var l model.Listing
	err := row.Scan(
		&l.Source, &l.CategoryLabel, &l.EntityKey,
		&l.FirstSeenAt, &l.LastSeenAt, &l.IsActive, &l.UpdatedAt,
		&l.Node, &l.ASIN, &l.PageNumber, &l.Position, &l.Title, &l.Link,
		&l.Rating, &l.Reviews, &l.BoughtLastMonth, &l.PriceRaw, &l.Currency,
		&l.Price, &l.Delivery, &l.Sponsored,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var errStr *string
	var metaJSON []byte
	err := row.Scan(
		&r.ID, &r.Source, &r.Status, &r.StartedAt, &r.CompletedAt,
		&r.RowsRead, &r.RowsMerged, &r.RowsRejected, &r.Watermark,
		&errStr, &metaJSON,
	)
	if err != nil {
		return nil, err
	}
	if errStr != nil {
		r.Error = *errStr
	}
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &r.Metadata)
	}
	return &r, nil
}
