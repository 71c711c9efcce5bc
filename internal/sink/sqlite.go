package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/JonMunkholm/calllog/internal/ingest"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so lexical order matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// SQLiteSink stores calls in an embedded SQLite database. SQLite allows a
// single writer, so the pool is capped at one connection and concurrent
// batches queue on it.
type SQLiteSink struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	if path == "" {
		return nil, errors.New("sqlite sink: path is required")
	}

	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &SQLiteSink{db: db, now: time.Now}, nil
}

func (s *SQLiteSink) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteSink) Close() error { return s.db.Close() }

// Migrate creates call_records and its indexes.
func (s *SQLiteSink) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const (
	sqliteExistsSQL = `SELECT 1 FROM call_records WHERE call_time = ? AND caller_id = ?`
	sqliteUpsertSQL = `
INSERT INTO call_records (call_time, caller_id, fields, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (call_time, caller_id) DO UPDATE
SET fields = excluded.fields, updated_at = excluded.updated_at`
)

// UpsertBatch writes records in one transaction. In aggressive mode the first
// row error aborts the batch; in conservative mode each row runs behind a
// savepoint and failures are counted per row.
func (s *SQLiteSink) UpsertBatch(ctx context.Context, records []ingest.Record, aggressive bool) (ingest.BatchOutcome, error) {
	var out ingest.BatchOutcome
	rows := prepareRows(records, &out)
	if len(rows) == 0 {
		return out, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ingest.BatchOutcome{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	exists, err := tx.PrepareContext(ctx, sqliteExistsSQL)
	if err != nil {
		return ingest.BatchOutcome{}, fmt.Errorf("prepare probe: %w", err)
	}
	defer exists.Close()

	upsert, err := tx.PrepareContext(ctx, sqliteUpsertSQL)
	if err != nil {
		return ingest.BatchOutcome{}, fmt.Errorf("prepare upsert: %w", err)
	}
	defer upsert.Close()

	now := sqliteTime(s.now())
	write := func(r row) (bool, error) {
		ct := sqliteTime(r.callTime)
		var one int
		err := exists.QueryRowContext(ctx, ct, r.callerID).Scan(&one)
		found := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return false, err
		}
		if _, err := upsert.ExecContext(ctx, ct, r.callerID, string(r.fields), now, now); err != nil {
			return false, err
		}
		return !found, nil
	}

	for i, r := range rows {
		if aggressive {
			created, err := write(r)
			if err != nil {
				return ingest.BatchOutcome{}, fmt.Errorf("upsert %s @ %s: %w", r.callerID, r.callTime.Format(time.RFC3339), err)
			}
			countWrite(&out, created)
			continue
		}

		savepoint := fmt.Sprintf("sp_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, rowError(r, err))
			continue
		}
		created, err := write(r)
		if err != nil {
			_, _ = tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint)
			out.Failed++
			out.Errors = append(out.Errors, rowError(r, err))
			continue
		}
		_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint)
		countWrite(&out, created)
	}

	if err := tx.Commit(); err != nil {
		return ingest.BatchOutcome{}, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// CountCalls returns the number of stored calls.
func (s *SQLiteSink) CountCalls(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM call_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count calls: %w", err)
	}
	return n, nil
}

// Reset deletes every row of call_records.
func (s *SQLiteSink) Reset(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM call_records")
	if err != nil {
		return 0, fmt.Errorf("reset: %w", err)
	}
	return res.RowsAffected()
}

// ListCalls returns one page of calls matching q.
func (s *SQLiteSink) ListCalls(ctx context.Context, q CallQuery) (*CallPage, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}

	wb := NewWhereBuilder(SQLite)
	wb.AddFilters(q.Filters)
	wb.AddSearch(q.Search)
	wb.AddTimeRange(q.From, q.To, func(t time.Time) any { return sqliteTime(t) })
	where, args := wb.Build()

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM call_records"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count calls: %w", err)
	}

	args = append(args, q.PageSize, q.Offset())
	query := "SELECT call_time, caller_id, fields, created_at, updated_at FROM call_records" +
		where + SQLite.OrderBy(q.Sort, q.Desc) + " LIMIT ? OFFSET ?"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var (
			c                    Call
			callTime, fields     string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&callTime, &c.CallerID, &fields, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		if c.CallTime, err = time.Parse(sqliteTimeLayout, callTime); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		c.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdAt)
		c.UpdatedAt, _ = time.Parse(sqliteTimeLayout, updatedAt)
		if err := json.Unmarshal([]byte(fields), &c.Fields); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}

	return newPage(q, total, calls), nil
}
