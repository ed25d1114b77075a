package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"awrlens/internal/awr"

	_ "modernc.org/sqlite"
)

// nullStr converts a sql.NullString to a *string (nil if null).
func nullStr(ns sql.NullString) *string {
	if ns.Valid {
		s := ns.String
		return &s
	}
	return nil
}

// nullInt converts a sql.NullInt64 to a *int64 (nil if null).
func nullInt(ni sql.NullInt64) *int64 {
	if ni.Valid {
		v := ni.Int64
		return &v
	}
	return nil
}

func nullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// currentSchemaVersion is the target schema version for this build.
const currentSchemaVersion = schemaVersionV2

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory (e.g. .awrlens) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Parse workers and request handlers share a single connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableCount == 0 {
		return s.freshInstall()
	}

	var v int
	err = s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("schema_version table is empty")
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch v {
	case currentSchemaVersion:
		return nil
	case schemaVersionV1:
		return s.migrateV1ToV2()
	}
	return fmt.Errorf("unknown schema version %d", v)
}

// migrateV1ToV2 adds failed-run tracking to an existing database.
func (s *SqlStore) migrateV1ToV2() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migrationV1ToV2); err != nil {
		return fmt.Errorf("migrate v1 to v2: %w", err)
	}
	if _, err := tx.Exec("UPDATE schema_version SET version = ?", schemaVersionV2); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

// freshInstall creates the schema from scratch inside one transaction.
func (s *SqlStore) freshInstall() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin install tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.Exec(migrationV1ToV2); err != nil {
		return fmt.Errorf("create schema v2: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version(version) VALUES(?)", currentSchemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SqlStore) Close() error { return s.db.Close() }

const reportColumns = `id, filename, file_size, status, upload_time, parse_time, error_message,
	db_name, db_version, instance_name, host_name, begin_snap_id, end_snap_id, begin_time, end_time`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*awr.Report, error) {
	var (
		r                                 awr.Report
		status, uploadTime                string
		parseT, errMsg                    sql.NullString
		dbName, dbVersion, instance, host sql.NullString
		beginSnap, endSnap                sql.NullInt64
		beginT, endT                      sql.NullString
	)
	err := row.Scan(&r.ID, &r.Filename, &r.FileSize, &status, &uploadTime, &parseT, &errMsg,
		&dbName, &dbVersion, &instance, &host, &beginSnap, &endSnap, &beginT, &endT)
	if err != nil {
		return nil, err
	}
	r.Status = awr.Status(status)
	if r.UploadTime, err = parseTime(uploadTime); err != nil {
		return nil, fmt.Errorf("report %d upload_time: %w", r.ID, err)
	}
	if r.ParseTime, err = nullTime(parseT); err != nil {
		return nil, fmt.Errorf("report %d parse_time: %w", r.ID, err)
	}
	if r.BeginTime, err = nullTime(beginT); err != nil {
		return nil, fmt.Errorf("report %d begin_time: %w", r.ID, err)
	}
	if r.EndTime, err = nullTime(endT); err != nil {
		return nil, fmt.Errorf("report %d end_time: %w", r.ID, err)
	}
	r.ErrorMessage = nullStr(errMsg)
	r.DBName, r.DBVersion = nullStr(dbName), nullStr(dbVersion)
	r.InstanceName, r.HostName = nullStr(instance), nullStr(host)
	r.BeginSnapID, r.EndSnapID = nullInt(beginSnap), nullInt(endSnap)
	return &r, nil
}

// --- Reports ---

func (s *SqlStore) CreateReport(filename, filePath string, fileSize int64) (*awr.Report, error) {
	uploaded := now()
	res, err := s.db.Exec(
		`INSERT INTO reports(filename, file_path, file_size, status, upload_time) VALUES(?, ?, ?, ?, ?)`,
		filename, filePath, fileSize, string(awr.StatusPending), formatTime(uploaded),
	)
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("report id: %w", err)
	}
	return &awr.Report{
		ID:         id,
		Filename:   filename,
		FileSize:   fileSize,
		Status:     awr.StatusPending,
		UploadTime: uploaded,
	}, nil
}

func (s *SqlStore) GetReport(id int64) (*awr.Report, error) {
	r, err := scanReport(s.db.QueryRow("SELECT "+reportColumns+" FROM reports WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report %d: %w", id, err)
	}
	return r, nil
}

func (s *SqlStore) ReportFile(id int64) (string, error) {
	var path string
	err := s.db.QueryRow("SELECT file_path FROM reports WHERE id = ?", id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("report %d file: %w", id, err)
	}
	return path, nil
}

func (s *SqlStore) ListReports(f ReportFilter) ([]awr.Report, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.DBName != "" {
		where = append(where, "LOWER(db_name) LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(strings.ToLower(f.DBName))+"%")
	}
	if !f.DateFrom.IsZero() {
		where = append(where, "upload_time >= ?")
		args = append(args, formatTime(startOfDay(f.DateFrom)))
	}
	if !f.DateTo.IsZero() {
		where = append(where, "upload_time < ?")
		args = append(args, formatTime(startOfDay(f.DateTo).AddDate(0, 0, 1)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM reports"+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	page, size := normalizePage(f)
	q := "SELECT " + reportColumns + " FROM reports" + cond +
		" ORDER BY upload_time DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := s.db.Query(q, append(args, size, (page-1)*size)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	items := []awr.Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan report: %w", err)
		}
		items = append(items, *r)
	}
	return items, total, rows.Err()
}

func (s *SqlStore) ListByStatus(status awr.Status) ([]awr.Report, error) {
	rows, err := s.db.Query("SELECT "+reportColumns+" FROM reports WHERE status = ? ORDER BY id", string(status))
	if err != nil {
		return nil, fmt.Errorf("list %s reports: %w", status, err)
	}
	defer rows.Close()
	var out []awr.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// DeleteReport removes a report together with its metrics and diagnostics.
func (s *SqlStore) DeleteReport(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM performance_metrics WHERE report_id = ?", id); err != nil {
		return fmt.Errorf("delete metrics: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM diagnostic_results WHERE report_id = ?", id); err != nil {
		return fmt.Errorf("delete diagnostics: %w", err)
	}
	res, err := tx.Exec("DELETE FROM reports WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// --- Lifecycle ---

func (s *SqlStore) MarkParsing(id int64) error {
	res, err := s.db.Exec("UPDATE reports SET status = ? WHERE id = ? AND status = ?",
		string(awr.StatusParsing), id, string(awr.StatusPending))
	if err != nil {
		return fmt.Errorf("mark parsing: %w", err)
	}
	return s.checkTransition(s.db, res, id, awr.StatusParsing)
}

// CompleteParse sets status, parse time, descriptive fields and metrics in
// one transaction.
func (s *SqlStore) CompleteParse(id int64, d awr.Descriptive, metrics []MetricInput) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin parse tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`UPDATE reports SET status = ?, parse_time = ?,
		db_name = ?, db_version = ?, instance_name = ?, host_name = ?,
		begin_snap_id = ?, end_snap_id = ?, begin_time = ?, end_time = ?
		WHERE id = ? AND status = ?`,
		string(awr.StatusParsed), formatTime(now()),
		d.DBName, d.DBVersion, d.InstanceName, d.HostName,
		d.BeginSnapID, d.EndSnapID, formatTime(d.BeginTime), formatTime(d.EndTime),
		id, string(awr.StatusParsing))
	if err != nil {
		return fmt.Errorf("complete parse: %w", err)
	}
	if err := s.checkTransition(tx, res, id, awr.StatusParsed); err != nil {
		return err
	}
	for _, m := range metrics {
		if _, err := tx.Exec("INSERT INTO performance_metrics(report_id, category, data) VALUES(?, ?, ?)",
			id, m.Category, string(m.Data)); err != nil {
			return fmt.Errorf("insert metric %s: %w", m.Category, err)
		}
	}
	return tx.Commit()
}

func (s *SqlStore) FailParse(id int64, message string) error {
	res, err := s.db.Exec("UPDATE reports SET status = ?, parse_time = ?, error_message = ? WHERE id = ? AND status = ?",
		string(awr.StatusFailed), formatTime(now()), message, id, string(awr.StatusParsing))
	if err != nil {
		return fmt.Errorf("fail parse: %w", err)
	}
	return s.checkTransition(s.db, res, id, awr.StatusFailed)
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

// checkTransition turns a zero-row guarded UPDATE into ErrNotFound or
// ErrInvalidTransition.
func (s *SqlStore) checkTransition(q queryer, res sql.Result, id int64, to awr.Status) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var current string
	err := q.QueryRow("SELECT status FROM reports WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	return fmt.Errorf("%w: report %d %s -> %s", ErrInvalidTransition, id, current, to)
}

// --- Metrics ---

func (s *SqlStore) ListMetrics(id int64, category string) ([]awr.PerformanceMetric, error) {
	if _, err := s.GetReport(id); err != nil {
		return nil, err
	}
	q := "SELECT id, report_id, category, data FROM performance_metrics WHERE report_id = ?"
	args := []any{id}
	if category != "" {
		q += " AND category = ?"
		args = append(args, category)
	}
	rows, err := s.db.Query(q+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()
	out := []awr.PerformanceMetric{}
	for rows.Next() {
		var (
			m    awr.PerformanceMetric
			data string
		)
		if err := rows.Scan(&m.ID, &m.ReportID, &m.Category, &data); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Data = []byte(data)
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Diagnostics ---

func (s *SqlStore) BeginRun(id int64) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin run tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status string
		last   int64
	)
	err = tx.QueryRow("SELECT status, last_run_id FROM reports WHERE id = ?", id).Scan(&status, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read report: %w", err)
	}
	if awr.Status(status) != awr.StatusParsed {
		return 0, fmt.Errorf("%w: report %d is %s", ErrNotParsed, id, status)
	}
	if _, err := tx.Exec("UPDATE reports SET last_run_id = ? WHERE id = ?", last+1, id); err != nil {
		return 0, fmt.Errorf("allocate run: %w", err)
	}
	return last + 1, tx.Commit()
}

// ReplaceDiagnostics deletes the previous batch and inserts results as run
// runID, unless a run numbered runID or later is already stored.
func (s *SqlStore) ReplaceDiagnostics(id, runID int64, results []awr.DiagnosticResult) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin diagnostics tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRow("SELECT diag_run_id FROM reports WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read run: %w", err)
	}
	if runID <= current {
		return false, nil
	}

	if _, err := tx.Exec("DELETE FROM diagnostic_results WHERE report_id = ?", id); err != nil {
		return false, fmt.Errorf("clear diagnostics: %w", err)
	}
	for _, d := range results {
		var related any
		if len(d.RelatedMetrics) > 0 {
			related = string(d.RelatedMetrics)
		}
		_, err := tx.Exec(`INSERT INTO diagnostic_results(report_id, run_id, rule_id, severity, category,
			issue_title, issue_description, recommendation, related_metrics) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, runID, d.RuleID, string(d.Severity), d.Category,
			d.IssueTitle, d.IssueDescription, d.Recommendation, related)
		if err != nil {
			return false, fmt.Errorf("insert diagnostic %q: %w", d.IssueTitle, err)
		}
	}
	if _, err := tx.Exec("UPDATE reports SET diag_run_id = ? WHERE id = ?", runID, id); err != nil {
		return false, fmt.Errorf("record run: %w", err)
	}
	return true, tx.Commit()
}

func (s *SqlStore) GetDiagnostics(id int64) (int64, []awr.DiagnosticResult, error) {
	var runID int64
	err := s.db.QueryRow("SELECT diag_run_id FROM reports WHERE id = ?", id).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("read run: %w", err)
	}
	if runID == 0 {
		return 0, nil, nil
	}

	rows, err := s.db.Query(`SELECT id, report_id, rule_id, severity, category, issue_title,
		issue_description, recommendation, related_metrics
		FROM diagnostic_results WHERE report_id = ? ORDER BY id`, id)
	if err != nil {
		return 0, nil, fmt.Errorf("list diagnostics: %w", err)
	}
	defer rows.Close()
	out := []awr.DiagnosticResult{}
	for rows.Next() {
		var d awr.DiagnosticResult
		var severity string
		var ruleID, desc, rec, related sql.NullString
		if err := rows.Scan(&d.ID, &d.ReportID, &ruleID, &severity, &d.Category, &d.IssueTitle,
			&desc, &rec, &related); err != nil {
			return 0, nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		d.Severity = awr.Severity(severity)
		d.RuleID, d.IssueDescription, d.Recommendation = ruleID.String, desc.String, rec.String
		if related.Valid {
			d.RelatedMetrics = []byte(related.String)
		}
		out = append(out, d)
	}
	return runID, out, rows.Err()
}

func (s *SqlStore) FailRun(id, runID int64, message string) error {
	res, err := s.db.Exec(`UPDATE reports SET failed_run_id = ?, failed_run_error = ?
		WHERE id = ? AND failed_run_id < ?`, runID, message, id, runID)
	if err != nil {
		return fmt.Errorf("record failed run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetReport(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SqlStore) RunFailure(id int64) (int64, string, error) {
	var (
		diagRun, failRun int64
		msg              sql.NullString
	)
	err := s.db.QueryRow("SELECT diag_run_id, failed_run_id, failed_run_error FROM reports WHERE id = ?", id).
		Scan(&diagRun, &failRun, &msg)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", ErrNotFound
	}
	if err != nil {
		return 0, "", fmt.Errorf("read failed run: %w", err)
	}
	if failRun <= diagRun {
		return 0, "", nil
	}
	return failRun, msg.String, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
