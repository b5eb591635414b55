package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines a conditional bulk upsert. The update only fires when
// Guard evaluates true for the conflicting row, so a batch of candidates can
// be applied atomically per key without regressing newer state.
type UpsertConfig struct {
	Table        string            // target table (e.g., "silver.listings")
	Columns      []string          // all columns being inserted
	ConflictKeys []string          // columns forming the unique constraint
	NoUpdate     []string          // columns set on insert but never updated (e.g., first_seen_at)
	UpdateExprs  map[string]string // per-column SET expression; default "EXCLUDED.<col>". "t" aliases the existing row.
	Guard        string            // DO UPDATE ... WHERE condition; empty means unconditional
}

// ConditionalUpsert performs a bulk upsert via a temp table and
// INSERT ... ON CONFLICT ... DO UPDATE ... WHERE:
//  1. Creates a temp table mirroring the target
//  2. COPYs the batch into it
//  3. Applies the batch with a guarded ON CONFLICT update
//  4. The temp table drops on commit
//
// The caller must pre-reduce the batch to at most one row per conflict key;
// Postgres rejects multiple conflicting rows within a single INSERT.
func ConditionalUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx)

	tempTable := fmt.Sprintf("_tmp_upsert_%s", strings.ReplaceAll(cfg.Table, ".", "_"))

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	upsertSQL := BuildUpsertSQL(cfg, pgx.Identifier{tempTable}.Sanitize())

	tag, err := tx.Exec(ctx, upsertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}

	return tag.RowsAffected(), nil
}

// BuildUpsertSQL renders the guarded INSERT ... ON CONFLICT statement selecting
// from the given (already sanitized) staging relation.
func BuildUpsertSQL(cfg UpsertConfig, from string) string {
	skip := make(map[string]bool, len(cfg.ConflictKeys)+len(cfg.NoUpdate))
	for _, k := range cfg.ConflictKeys {
		skip[k] = true
	}
	for _, k := range cfg.NoUpdate {
		skip[k] = true
	}

	var setClauses []string
	for _, col := range cfg.Columns {
		if skip[col] {
			continue
		}
		expr, ok := cfg.UpdateExprs[col]
		if !ok {
			expr = "EXCLUDED." + pgx.Identifier{col}.Sanitize()
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", pgx.Identifier{col}.Sanitize(), expr))
	}

	colList := quoteAndJoin(cfg.Columns)
	sql := fmt.Sprintf(
		"INSERT INTO %s AS t (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		from,
		quoteAndJoin(cfg.ConflictKeys),
		strings.Join(setClauses, ", "),
	)
	if cfg.Guard != "" {
		sql += " WHERE " + cfg.Guard
	}
	return sql
}

// sanitizeTable handles schema-qualified table names like "silver.listings".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
