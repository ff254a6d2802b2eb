package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const checkColumns = "id, application_id, session_id, check_type, status, subject, risk_score, result, error_message, created_at, updated_at, completed_at"

// CreateComplianceCheck records a new check in the pending state.
func (d *DB) CreateComplianceCheck(ctx context.Context, c ComplianceCheck) (*ComplianceCheck, error) {
	if !IsCheckType(c.CheckType) {
		return nil, fmt.Errorf("unknown compliance check type %q", c.CheckType)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := d.now()
	_, err := d.sql.ExecContext(ctx, `INSERT INTO compliance_checks(id, application_id, session_id, check_type, status, subject, created_at, updated_at) VALUES(?,?,?,?,?,?,?,?)`,
		c.ID, nullInt64(c.ApplicationID), nullIfEmpty(c.SessionID), c.CheckType, CheckPending, nullIfEmpty(c.Subject), formatTime(now), formatTime(now))
	if err != nil {
		return nil, err
	}
	return d.GetComplianceCheck(ctx, c.ID)
}

// UpdateComplianceCheck moves a pending check to completed or failed.
// Finalized checks are never changed again.
func (d *DB) UpdateComplianceCheck(ctx context.Context, id string, u ComplianceUpdate) (*ComplianceCheck, error) {
	if u.Status != CheckCompleted && u.Status != CheckFailed {
		return nil, fmt.Errorf("%w: %q (allowed: %s, %s)", ErrInvalidStatus, u.Status, CheckCompleted, CheckFailed)
	}
	now := formatTime(d.now())
	res, err := d.sql.ExecContext(ctx, `UPDATE compliance_checks SET status = ?, risk_score = ?, result = ?, error_message = ?, updated_at = ?, completed_at = ? WHERE id = ? AND status = 'pending'`,
		u.Status, nullFloat(u.RiskScore), nullIfEmpty(string(u.Result)), nullIfEmpty(u.ErrorMessage), now, now, id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		existing, err := d.GetComplianceCheck(ctx, id)
		if err != nil {
			return nil, err
		}
		return existing, fmt.Errorf("check %s is %s: %w", id, existing.Status, ErrCheckFinalized)
	}
	return d.GetComplianceCheck(ctx, id)
}

// GetComplianceCheck returns one check or ErrNotFound.
func (d *DB) GetComplianceCheck(ctx context.Context, id string) (*ComplianceCheck, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT "+checkColumns+" FROM compliance_checks WHERE id = ?", id)
	c, err := scanCheck(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("compliance check %s: %w", id, ErrNotFound)
	}
	return c, err
}

// ListComplianceChecks returns the checks attached to an application, oldest first.
func (d *DB) ListComplianceChecks(ctx context.Context, applicationID int64) ([]ComplianceCheck, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT "+checkColumns+" FROM compliance_checks WHERE application_id = ? ORDER BY created_at", applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ComplianceCheck{}
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanCheck(r rowScanner) (*ComplianceCheck, error) {
	var (
		c                                  ComplianceCheck
		appID                              sql.NullInt64
		sessionID, subject, result, errMsg sql.NullString
		score                              sql.NullFloat64
		createdAt, updatedAt               string
		completedAt                        sql.NullString
	)
	if err := r.Scan(&c.ID, &appID, &sessionID, &c.CheckType, &c.Status, &subject, &score, &result, &errMsg, &createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}
	if appID.Valid {
		c.ApplicationID = &appID.Int64
	}
	c.SessionID = sessionID.String
	c.Subject = subject.String
	if score.Valid {
		c.RiskScore = &score.Float64
	}
	if result.Valid {
		c.Result = []byte(result.String)
	}
	c.ErrorMessage = errMsg.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		c.CompletedAt = &t
	}
	return &c, nil
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
