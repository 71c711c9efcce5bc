// Package sink provides the call-record stores the import pipeline writes
// to: PostgreSQL for production, an embedded SQLite file for single-node
// use, and an in-memory map for tests and dry runs.
//
// Every store upserts on the natural key (call_time, caller_id), so
// replaying an import never grows the table.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JonMunkholm/calllog/internal/ingest"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// CallReader is the read side of a store.
type CallReader interface {
	ListCalls(ctx context.Context, q CallQuery) (*CallPage, error)
	CountCalls(ctx context.Context) (int64, error)
}

// Store is a complete call-record store.
type Store interface {
	ingest.Sink
	CallReader

	// Migrate creates the schema if it does not exist.
	Migrate(ctx context.Context) error

	// Reset deletes every stored call and reports how many were removed.
	Reset(ctx context.Context) (int64, error)

	Close() error
}

var (
	_ Store = (*PostgresSink)(nil)
	_ Store = (*SQLiteSink)(nil)
	_ Store = (*Memory)(nil)
)

// Options selects and configures a store.
type Options struct {
	Driver string

	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL     string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// SQLitePath is the database file; ":memory:" is allowed.
	SQLitePath string

	// AutoMigrate runs Migrate after connecting.
	AutoMigrate bool
}

// Open connects to the store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		st  Store
		err error
	)
	switch opts.Driver {
	case DriverPostgres, "":
		st, err = OpenPostgres(ctx, opts)
	case DriverSQLite:
		st, err = OpenSQLite(ctx, opts.SQLitePath)
	case DriverMemory:
		st = NewMemory()
	default:
		return nil, fmt.Errorf("unknown sink driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if opts.AutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return st, nil
}

// row is a record prepared for storage.
type row struct {
	rec      ingest.Record
	callTime time.Time
	callerID string
	fields   []byte
}

// prepareRows converts records into rows. Records that cannot be encoded
// are reported as failures in out rather than failing the batch.
func prepareRows(records []ingest.Record, out *ingest.BatchOutcome) []row {
	rows := make([]row, 0, len(records))
	for _, rec := range records {
		ts, err := time.Parse(time.RFC3339Nano, rec.CallTime())
		if err != nil {
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("%s: invalid call_time %q", rec.CallerID(), rec.CallTime()))
			continue
		}
		fields, err := json.Marshal(rec)
		if err != nil {
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("%s @ %s: %v", rec.CallerID(), rec.CallTime(), err))
			continue
		}
		rows = append(rows, row{rec: rec, callTime: ts.UTC(), callerID: rec.CallerID(), fields: fields})
	}
	return rows
}

func rowError(r row, err error) string {
	return fmt.Sprintf("%s @ %s: %v", r.callerID, r.callTime.Format(time.RFC3339), err)
}

func countWrite(out *ingest.BatchOutcome, created bool) {
	if created {
		out.Created++
	} else {
		out.Updated++
	}
}
