package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// DefaultInsertBatchSize is the number of rows written per transaction by BulkInsert.
const DefaultInsertBatchSize = 1000

// InsertConfig defines the parameters for a duplicate-skipping bulk insert.
type InsertConfig struct {
	Table        string   // target table (e.g., "public.geo_events")
	Columns      []string // columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	BatchSize    int      // rows per transaction; 0 = DefaultInsertBatchSize
}

// BulkInsert inserts rows in fixed-size batches, silently skipping rows that
// collide with an existing unique key. Each batch:
// 1. Creates a temp table shaped like the target
// 2. COPYs the batch into the temp table
// 3. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO NOTHING
// Batches commit independently, so a failure keeps earlier batches.
// Returns the number of rows actually created.
func BulkInsert(ctx context.Context, pool Pool, cfg InsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: insert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: insert: no conflict keys specified")
	}

	size := cfg.BatchSize
	if size <= 0 {
		size = DefaultInsertBatchSize
	}

	var created int64
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		n, err := insertBatch(ctx, pool, cfg, rows[start:end])
		if err != nil {
			return created, eris.Wrapf(err, "db: insert: batch at offset %d", start)
		}
		created += n
	}
	return created, nil
}

func insertBatch(ctx context.Context, pool Pool, cfg InsertConfig, rows [][]any) (int64, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: insert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable := fmt.Sprintf("_tmp_insert_%s", strings.ReplaceAll(cfg.Table, ".", "_"))

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: insert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: insert: COPY into temp table for %s", cfg.Table)
	}

	colList := quoteAndJoin(cfg.Columns)
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT DISTINCT ON (%s) %s FROM %s ON CONFLICT (%s) DO NOTHING",
		sanitizeTable(cfg.Table),
		colList,
		quoteAndJoin(cfg.ConflictKeys),
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
	)

	tag, err := tx.Exec(ctx, insertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: insert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: insert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// sanitizeTable handles schema-qualified table names like "public.geo_events".
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
