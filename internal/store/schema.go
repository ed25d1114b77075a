package store

// schemaVersionV1 is the first released schema.
const schemaVersionV1 = 1

// schemaVersionV2 records failed diagnostic runs.
const schemaVersionV2 = 2

// schemaV1 is the DDL for a fresh install.
var schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS reports (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	filename      TEXT NOT NULL,
	file_path     TEXT NOT NULL,
	file_size     INTEGER NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending'
	              CHECK (status IN ('pending', 'parsing', 'parsed', 'failed')),
	upload_time   TEXT NOT NULL,
	parse_time    TEXT,
	error_message TEXT,
	db_name       TEXT,
	db_version    TEXT,
	instance_name TEXT,
	host_name     TEXT,
	begin_snap_id INTEGER,
	end_snap_id   INTEGER,
	begin_time    TEXT,
	end_time      TEXT,
	last_run_id   INTEGER NOT NULL DEFAULT 0,
	diag_run_id   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_reports_upload_time ON reports(upload_time);
CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);

CREATE TABLE IF NOT EXISTS performance_metrics (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	report_id INTEGER NOT NULL REFERENCES reports(id),
	category  TEXT NOT NULL,
	data      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_report ON performance_metrics(report_id, category);

CREATE TABLE IF NOT EXISTS diagnostic_results (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	report_id         INTEGER NOT NULL REFERENCES reports(id),
	run_id            INTEGER NOT NULL,
	rule_id           TEXT,
	severity          TEXT NOT NULL
	                  CHECK (severity IN ('critical', 'high', 'medium', 'low', 'info')),
	category          TEXT NOT NULL,
	issue_title       TEXT NOT NULL,
	issue_description TEXT,
	recommendation    TEXT,
	related_metrics   TEXT
);
CREATE INDEX IF NOT EXISTS idx_diagnostics_report ON diagnostic_results(report_id);
`

// migrationV1ToV2 adds the newest failed run to reports.
var migrationV1ToV2 = `
ALTER TABLE reports ADD COLUMN failed_run_id INTEGER NOT NULL DEFAULT 0;
ALTER TABLE reports ADD COLUMN failed_run_error TEXT;
`
