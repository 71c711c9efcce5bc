package sink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/calllog/internal/ingest"
)

// PostgresSink stores calls in PostgreSQL through a pgx pool. The pool is
// shared by all concurrent batches; each batch runs in its own transaction.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// OpenPostgres builds a pool from opts. It does not ping; the import
// pipeline probes connectivity itself.
func OpenPostgres(ctx context.Context, opts Options) (*PostgresSink, error) {
	if opts.DatabaseURL == "" {
		return nil, errors.New("postgres sink: database URL is required")
	}

	poolConfig, err := pgxpool.ParseConfig(opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return NewPostgres(pool), nil
}

// DatabaseName extracts the database name from a connection URL for logs.
func DatabaseName(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

func (p *PostgresSink) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *PostgresSink) Close() error {
	p.pool.Close()
	return nil
}

// Migrate creates call_records and its indexes.
func (p *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const upsertCallSQL = `
INSERT INTO call_records (call_time, caller_id, fields)
VALUES ($1, $2, $3)
ON CONFLICT (call_time, caller_id) DO UPDATE
SET fields = EXCLUDED.fields, updated_at = now()
RETURNING (xmax = 0) AS inserted`

const createStageSQL = `
CREATE TEMP TABLE call_records_stage (
	seq       INT,
	call_time TIMESTAMPTZ,
	caller_id TEXT,
	fields    JSONB
) ON COMMIT DROP`

// The last occurrence of a key within a batch wins, matching the order a
// row-by-row upsert would apply them in.
const mergeStageSQL = `
INSERT INTO call_records (call_time, caller_id, fields)
SELECT DISTINCT ON (call_time, caller_id) call_time, caller_id, fields
FROM call_records_stage
ORDER BY call_time, caller_id, seq DESC
ON CONFLICT (call_time, caller_id) DO UPDATE
SET fields = EXCLUDED.fields, updated_at = now()
RETURNING (xmax = 0) AS inserted`

// UpsertBatch writes records in one transaction.
//
// Aggressive mode COPYs the batch into a temporary stage table and merges it
// with a single statement; any error fails the whole batch. Conservative mode
// upserts row by row behind a savepoint each, so a bad row is rolled back and
// reported without losing the rest of the batch.
func (p *PostgresSink) UpsertBatch(ctx context.Context, records []ingest.Record, aggressive bool) (ingest.BatchOutcome, error) {
	var out ingest.BatchOutcome
	rows := prepareRows(records, &out)
	if len(rows) == 0 {
		return out, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return ingest.BatchOutcome{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if aggressive {
		created, err := p.copyMerge(ctx, tx, rows)
		if err != nil {
			return ingest.BatchOutcome{}, err
		}
		out.Created += created
		out.Updated += len(rows) - created
	} else {
		p.upsertEach(ctx, tx, rows, &out)
	}

	if err := tx.Commit(ctx); err != nil {
		return ingest.BatchOutcome{}, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func (p *PostgresSink) copyMerge(ctx context.Context, tx pgx.Tx, rows []row) (int, error) {
	if _, err := tx.Exec(ctx, createStageSQL); err != nil {
		return 0, fmt.Errorf("create stage table: %w", err)
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"call_records_stage"},
		[]string{"seq", "call_time", "caller_id", "fields"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{int32(i), r.callTime, r.callerID, string(r.fields)}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy to stage: %w", err)
	}

	res, err := tx.Query(ctx, mergeStageSQL)
	if err != nil {
		return 0, fmt.Errorf("merge stage: %w", err)
	}
	defer res.Close()

	created := 0
	for res.Next() {
		var inserted bool
		if err := res.Scan(&inserted); err != nil {
			return 0, fmt.Errorf("scan merge result: %w", err)
		}
		if inserted {
			created++
		}
	}
	if err := res.Err(); err != nil {
		return 0, fmt.Errorf("merge stage: %w", err)
	}
	return created, nil
}

func (p *PostgresSink) upsertEach(ctx context.Context, tx pgx.Tx, rows []row, out *ingest.BatchOutcome) {
	for i, r := range rows {
		savepoint := fmt.Sprintf("sp_%d", i)
		if _, err := tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, rowError(r, err))
			continue
		}

		var inserted bool
		err := tx.QueryRow(ctx, upsertCallSQL, r.callTime, r.callerID, string(r.fields)).Scan(&inserted)
		if err != nil {
			_, _ = tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint)
			out.Failed++
			out.Errors = append(out.Errors, rowError(r, describePgError(err)))
			continue
		}
		_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint)

		countWrite(out, inserted)
	}
}

// describePgError keeps the server message and code, dropping pgx's
// connection details.
func describePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s (SQLSTATE %s)", pgErr.Message, pgErr.Code)
	}
	return err
}

// CountCalls returns the number of stored calls.
func (p *PostgresSink) CountCalls(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM call_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count calls: %w", err)
	}
	return n, nil
}

// Reset truncates call_records.
func (p *PostgresSink) Reset(ctx context.Context) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	var n int64
	if err := tx.QueryRow(ctx, "SELECT count(*) FROM call_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("reset: %w", err)
	}
	if _, err := tx.Exec(ctx, "TRUNCATE call_records"); err != nil {
		return 0, fmt.Errorf("reset: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("reset: %w", err)
	}
	return n, nil
}

// ListCalls returns one page of calls matching q.
func (p *PostgresSink) ListCalls(ctx context.Context, q CallQuery) (*CallPage, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}

	wb := NewWhereBuilder(Postgres)
	wb.AddFilters(q.Filters)
	wb.AddSearch(q.Search)
	wb.AddTimeRange(q.From, q.To, func(t time.Time) any { return t })
	where, args := wb.Build()

	var total int64
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM call_records"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count calls: %w", err)
	}

	n := wb.NextArgIndex()
	args = append(args, q.PageSize, q.Offset())
	sql := "SELECT call_time, caller_id, fields, created_at, updated_at FROM call_records" +
		where + Postgres.OrderBy(q.Sort, q.Desc) +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", n, n+1)

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	calls, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Call, error) {
		var c Call
		err := row.Scan(&c.CallTime, &c.CallerID, &c.Fields, &c.CreatedAt, &c.UpdatedAt)
		c.CallTime = c.CallTime.UTC()
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}

	return newPage(q, total, calls), nil
}
