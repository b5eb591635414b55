package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/etrendo/marketsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the local and
// development backend; the upsert guard mirrors the Postgres semantics.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_observations (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	source         TEXT NOT NULL,
	category_label TEXT NOT NULL,
	observed_at    DATETIME NOT NULL,
	payload        TEXT NOT NULL,
	ingested_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_raw_observations_source_observed
	ON raw_observations(source, observed_at, id);

CREATE TABLE IF NOT EXISTS listings (
	source            TEXT NOT NULL,
	category_label    TEXT NOT NULL,
	entity_key        TEXT NOT NULL,
	first_seen_at     DATETIME NOT NULL,
	last_seen_at      DATETIME NOT NULL,
	is_active         BOOLEAN NOT NULL DEFAULT 1,
	updated_at        DATETIME NOT NULL,
	node              TEXT,
	asin              TEXT,
	page_number       INTEGER,
	position          INTEGER,
	title             TEXT,
	link              TEXT,
	rating            REAL,
	reviews           INTEGER,
	bought_last_month TEXT,
	price_raw         TEXT,
	currency          TEXT,
	price             REAL,
	delivery          TEXT,
	sponsored         BOOLEAN,
	PRIMARY KEY (source, category_label, entity_key)
);

CREATE INDEX IF NOT EXISTS idx_listings_source_active ON listings(source, is_active);

CREATE TABLE IF NOT EXISTS reconcile_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	source        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME,
	rows_read     INTEGER NOT NULL DEFAULT 0,
	rows_merged   INTEGER NOT NULL DEFAULT 0,
	rows_rejected INTEGER NOT NULL DEFAULT 0,
	watermark     DATETIME,
	error         TEXT,
	metadata      TEXT
);

CREATE INDEX IF NOT EXISTS idx_reconcile_log_source_status
	ON reconcile_log(source, status, started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendObservations(ctx context.Context, rows []model.RawRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: append: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_observations (source, category_label, observed_at, payload, ingested_at)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: append: prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Source, r.CategoryLabel, r.ObservedAt.UTC(), string(r.Payload), now); err != nil {
			return 0, eris.Wrap(err, "sqlite: append observation")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: append: commit tx")
	}
	return int64(len(rows)), nil
}

func (s *SQLiteStore) FetchObservations(ctx context.Context, source string, since *time.Time) ([]model.RawRow, error) {
	query := `SELECT id, source, category_label, observed_at, payload
	          FROM raw_observations WHERE source = ?`
	args := []any{source}
	if since != nil {
		query += ` AND observed_at > ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY observed_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch observations")
	}
	defer rows.Close()

	var result []model.RawRow
	for rows.Next() {
		var r model.RawRow
		var payload string
		if err := rows.Scan(&r.ID, &r.Source, &r.CategoryLabel, &r.ObservedAt, &payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan observation")
		}
		r.Payload = []byte(payload)
		result = append(result, r)
	}
	return result, eris.Wrap(rows.Err(), "sqlite: fetch observations iterate")
}

func (s *SQLiteStore) MergeCandidates(ctx context.Context, policy model.MergePolicy, candidates []model.Listing) (int64, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	var setClauses []string
	for _, col := range listingAttrColumns {
		if policy == model.MergeCoalesce {
			setClauses = append(setClauses, fmt.Sprintf("%s = COALESCE(excluded.%s, %s)", col, col, col))
		} else {
			setClauses = append(setClauses, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}
	setClauses = append(setClauses,
		"last_seen_at = excluded.last_seen_at",
		"is_active = 1",
		"updated_at = excluded.updated_at",
	)

	query := `INSERT INTO listings (` + strings.Join(listingColumns, ", ") + `)
		 VALUES (` + strings.TrimSuffix(strings.Repeat("?, ", len(listingColumns)), ", ") + `)
		 ON CONFLICT (source, category_label, entity_key) DO UPDATE SET ` +
		strings.Join(setClauses, ", ") +
		` WHERE excluded.last_seen_at > listings.last_seen_at`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: merge: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: merge: prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var merged int64
	for i := range candidates {
		c := &candidates[i]
		res, err := stmt.ExecContext(ctx,
			c.Source, c.CategoryLabel, c.EntityKey,
			c.FirstSeenAt.UTC(), c.LastSeenAt.UTC(), true, now,
			c.Node, c.ASIN, c.PageNumber, c.Position, c.Title, c.Link,
			c.Rating, c.Reviews, c.BoughtLastMonth, c.PriceRaw, c.Currency,
			c.Price, c.Delivery, c.Sponsored,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: merge candidate %s", c.EntityKey)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: merge: rows affected")
		}
		merged += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: merge: commit tx")
	}
	return merged, nil
}

func (s *SQLiteStore) FlagStale(ctx context.Context, source string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings
		 SET is_active = (last_seen_at >= ?), updated_at = ?
		 WHERE source = ? AND is_active != (last_seen_at >= ?)`,
		cutoff.UTC(), time.Now().UTC(), source, cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: flag stale for %s", source)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: flag stale: rows affected")
}

func (s *SQLiteStore) GetListing(ctx context.Context, key model.Key) (*model.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+strings.Join(listingColumns, ", ")+`
		 FROM listings WHERE source = ? AND category_label = ? AND entity_key = ?`,
		key.Source, key.CategoryLabel, key.EntityKey,
	)

	l, err := scanSQLiteListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get listing")
	}
	return l, nil
}

func (s *SQLiteStore) ListListings(ctx context.Context, filter ListingFilter) ([]model.Listing, error) {
	query := `SELECT ` + strings.Join(listingColumns, ", ") + ` FROM listings WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.CategoryLabel != "" {
		query += ` AND category_label = ?`
		args = append(args, filter.CategoryLabel)
	}
	if filter.ActiveOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY source, category_label, entity_key`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list listings")
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanSQLiteListing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan listing")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "sqlite: list listings iterate")
}

func (s *SQLiteStore) CountListings(ctx context.Context, source string) (*SourceCounts, error) {
	c := SourceCounts{Source: source}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0)
		 FROM listings WHERE source = ?`,
		source,
	).Scan(&c.Total, &c.Active)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: count listings for %s", source)
	}
	return &c, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, source string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reconcile_log (source, status, started_at) VALUES (?, 'running', ?)`,
		source, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start run for %s", source)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: start run: last insert id")
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID int64, result RunResult) error {
	var metaJSON *string
	if result.Metadata != nil {
		b, err := json.Marshal(result.Metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal run metadata")
		}
		str := string(b)
		metaJSON = &str
	}

	var watermark *time.Time
	if result.Watermark != nil {
		w := result.Watermark.UTC()
		watermark = &w
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE reconcile_log
		 SET status = 'complete', completed_at = ?,
		     rows_read = ?, rows_merged = ?, rows_rejected = ?,
		     watermark = ?, metadata = ?
		 WHERE id = ?`,
		time.Now().UTC(), result.RowsRead, result.RowsMerged, result.RowsRejected,
		watermark, metaJSON, runID,
	)
	return eris.Wrapf(err, "sqlite: complete run %d", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reconcile_log
		 SET status = 'failed', completed_at = ?, error = ?
		 WHERE id = ?`,
		time.Now().UTC(), errMsg, runID,
	)
	return eris.Wrapf(err, "sqlite: fail run %d", runID)
}

func (s *SQLiteStore) LastSuccessfulRun(ctx context.Context, source string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, status, started_at, completed_at,
		        rows_read, rows_merged, rows_rejected, watermark, error, metadata
		 FROM reconcile_log
		 WHERE source = ? AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		source,
	)

	r, err := scanSQLiteRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: last successful run for %s", source)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, started_at, completed_at,
		        rows_read, rows_merged, rows_rejected, watermark, error, metadata
		 FROM reconcile_log ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func scanSQLiteListing(row scannable) (*model.Listing, error) {
	var l model.Listing
	var node, asin, title, link, bought, priceRaw, currency, delivery sql.NullString
	var pageNumber, position, reviews sql.NullInt64
	var rating, price sql.NullFloat64
	var sponsored sql.NullBool

	err := row.Scan(
		&l.Source, &l.CategoryLabel, &l.EntityKey,
		&l.FirstSeenAt, &l.LastSeenAt, &l.IsActive, &l.UpdatedAt,
		&node, &asin, &pageNumber, &position, &title, &link,
		&rating, &reviews, &bought, &priceRaw, &currency,
		&price, &delivery, &sponsored,
	)
	if err != nil {
		return nil, err
	}

	l.Node = nullStr(node)
	l.ASIN = nullStr(asin)
	l.PageNumber = nullInt(pageNumber)
	l.Position = nullInt(position)
	l.Title = nullStr(title)
	l.Link = nullStr(link)
	l.Rating = nullFloat(rating)
	l.Reviews = nullInt(reviews)
	l.BoughtLastMonth = nullStr(bought)
	l.PriceRaw = nullStr(priceRaw)
	l.Currency = nullStr(currency)
	l.Price = nullFloat(price)
	l.Delivery = nullStr(delivery)
	l.Sponsored = nullBool(sponsored)
	return &l, nil
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var r model.Run
	var completedAt, watermark sql.NullTime
	var errStr, metaJSON sql.NullString

	err := row.Scan(
		&r.ID, &r.Source, &r.Status, &r.StartedAt, &completedAt,
		&r.RowsRead, &r.RowsMerged, &r.RowsRejected, &watermark,
		&errStr, &metaJSON,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	if watermark.Valid {
		t := watermark.Time
		r.Watermark = &t
	}
	if errStr.Valid {
		r.Error = errStr.String
	}
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &r.Metadata)
	}
	return &r, nil
}

func nullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}
