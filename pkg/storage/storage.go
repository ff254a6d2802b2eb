package storage

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
	now func() time.Time
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS users (
  id          INTEGER PRIMARY KEY,
  email       TEXT NOT NULL UNIQUE,
  first_name  TEXT,
  last_name   TEXT,
  phone       TEXT,
  created_at  TEXT NOT NULL,
  updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS businesses (
  id                 INTEGER PRIMARY KEY,
  user_id            INTEGER REFERENCES users(id),
  legal_name         TEXT NOT NULL,
  business_number    TEXT,
  incorporation_date TEXT,
  jurisdiction       TEXT,
  website            TEXT,
  industry           TEXT,
  verified           INTEGER NOT NULL DEFAULT 0 CHECK (verified IN (0,1)),
  created_at         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS applications (
  id                     INTEGER PRIMARY KEY,
  status                 TEXT NOT NULL,
  session_id             TEXT,
  user_id                INTEGER REFERENCES users(id),
  business_id            INTEGER REFERENCES businesses(id),
  loan_type              TEXT NOT NULL,
  requested_amount       TEXT,
  loan_purpose           TEXT,
  funding_timeline       TEXT,
  first_name             TEXT NOT NULL,
  last_name              TEXT NOT NULL,
  email                  TEXT NOT NULL,
  phone                  TEXT,
  street_address         TEXT,
  city                   TEXT,
  province               TEXT,
  postal_code            TEXT,
  business_name          TEXT,
  operating_name         TEXT,
  business_structure     TEXT,
  business_number        TEXT,
  incorporation_date     TEXT,
  jurisdiction           TEXT,
  business_confirmed     INTEGER NOT NULL DEFAULT 0 CHECK (business_confirmed IN (0,1)),
  monthly_sales          TEXT,
  industry               TEXT,
  time_in_business       TEXT,
  website_url            TEXT,
  employee_count         TEXT,
  business_address       TEXT,
  has_existing_loans     INTEGER NOT NULL DEFAULT 0 CHECK (has_existing_loans IN (0,1)),
  existing_loans         TEXT,
  bank_connection_method TEXT,
  bank_login_id          TEXT,
  bank_institution       TEXT,
  consent_accepted       INTEGER NOT NULL DEFAULT 0 CHECK (consent_accepted IN (0,1)),
  additional_data        TEXT,
  created_at             TEXT NOT NULL,
  updated_at             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status);
CREATE INDEX IF NOT EXISTS idx_applications_session ON applications(session_id);
CREATE TABLE IF NOT EXISTS compliance_checks (
  id             TEXT PRIMARY KEY,
  application_id INTEGER REFERENCES applications(id),
  session_id     TEXT,
  check_type     TEXT NOT NULL CHECK (check_type IN ('website','adverse-media','ai-categorization','comprehensive')),
  status         TEXT NOT NULL CHECK (status IN ('pending','completed','failed')),
  subject        TEXT,
  risk_score     REAL,
  result         TEXT,
  error_message  TEXT,
  created_at     TEXT NOT NULL,
  updated_at     TEXT NOT NULL,
  completed_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_checks_application ON compliance_checks(application_id);
CREATE INDEX IF NOT EXISTS idx_checks_session ON compliance_checks(session_id);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// GetStats counts applications and compliance checks by status.
func (d *DB) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	var err error
	if stats.Applications, err = d.countByStatus(ctx, "applications"); err != nil {
		return nil, err
	}
	if stats.ComplianceChecks, err = d.countByStatus(ctx, "compliance_checks"); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	if err := d.sql.QueryRowContext(ctx, "SELECT AVG(risk_score) FROM compliance_checks WHERE status = 'completed' AND risk_score IS NOT NULL").Scan(&avg); err != nil {
		return nil, err
	}
	if avg.Valid {
		stats.AverageRiskScore = &avg.Float64
	}
	return stats, nil
}

func (d *DB) countByStatus(ctx context.Context, table string) ([]StatusCount, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT status, COUNT(*) FROM "+table+" GROUP BY status ORDER BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var s StatusCount
		if err := rows.Scan(&s.Status, &s.Count); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts our RFC3339 timestamps and SQLite's CURRENT_TIMESTAMP format.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
