package sink

// Table layouts. fields holds the whole normalized record, including the
// two key fields, so pass-through columns survive without schema changes.

const postgresSchema = `
CREATE TABLE IF NOT EXISTS call_records (
	call_time  TIMESTAMPTZ NOT NULL,
	caller_id  TEXT        NOT NULL,
	fields     JSONB       NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (call_time, caller_id)
);
CREATE INDEX IF NOT EXISTS call_records_caller_id_idx ON call_records (caller_id);
CREATE INDEX IF NOT EXISTS call_records_fields_idx ON call_records USING GIN (fields jsonb_path_ops);
`

// call_time is stored as fixed-width UTC text (sqliteTimeLayout) so that
// string order is time order.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS call_records (
	call_time  TEXT NOT NULL,
	caller_id  TEXT NOT NULL,
	fields     TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (call_time, caller_id)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS call_records_caller_id_idx ON call_records (caller_id);
`
