package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const applicationColumns = `id, status, session_id, user_id, business_id,
  loan_type, requested_amount, loan_purpose, funding_timeline,
  first_name, last_name, email, phone, street_address, city, province, postal_code,
  business_name, operating_name, business_structure, business_number, incorporation_date, jurisdiction,
  business_confirmed, monthly_sales, industry, time_in_business, website_url, employee_count, business_address,
  has_existing_loans, existing_loans, bank_connection_method, bank_login_id, bank_institution,
  consent_accepted, additional_data, created_at, updated_at`

// CreateApplication stores a submitted application. In the same transaction
// it upserts the applicant by email, records the business and attaches any
// compliance checks that were started earlier in the same session.
func (d *DB) CreateApplication(ctx context.Context, a *Application) (*Application, error) {
	if strings.TrimSpace(a.Email) == "" {
		return nil, ErrMissingEmail
	}
	now := d.now()

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var userID int64
	userID, err = upsertUserTx(ctx, tx, User{Email: a.Email, FirstName: a.FirstName, LastName: a.LastName, Phone: a.Phone}, now)
	if err != nil {
		return nil, err
	}

	var businessID *int64
	if a.BusinessName != "" {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `INSERT INTO businesses(user_id, legal_name, business_number, incorporation_date, jurisdiction, website, industry, verified, created_at) VALUES(?,?,?,?,?,?,?,?,?)`,
			userID, a.BusinessName, nullIfEmpty(a.BusinessNumber), nullIfEmpty(a.IncorporationDate), nullIfEmpty(a.Jurisdiction), nullIfEmpty(a.WebsiteURL), nullIfEmpty(a.Industry), boolToInt(a.BusinessConfirmed), formatTime(now))
		if err != nil {
			return nil, err
		}
		var id int64
		if id, err = res.LastInsertId(); err != nil {
			return nil, err
		}
		businessID = &id
	}

	var res sql.Result
	res, err = tx.ExecContext(ctx, `INSERT INTO applications(
  status, session_id, user_id, business_id,
  loan_type, requested_amount, loan_purpose, funding_timeline,
  first_name, last_name, email, phone, street_address, city, province, postal_code,
  business_name, operating_name, business_structure, business_number, incorporation_date, jurisdiction,
  business_confirmed, monthly_sales, industry, time_in_business, website_url, employee_count, business_address,
  has_existing_loans, existing_loans, bank_connection_method, bank_login_id, bank_institution,
  consent_accepted, additional_data, created_at, updated_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		StatusSubmitted, nullIfEmpty(a.SessionID), userID, nullInt64(businessID),
		a.LoanType, nullDecimal(a.RequestedAmount), nullIfEmpty(a.LoanPurpose), nullIfEmpty(a.FundingTimeline),
		a.FirstName, a.LastName, a.Email, nullIfEmpty(a.Phone), nullIfEmpty(a.StreetAddress), nullIfEmpty(a.City), nullIfEmpty(a.Province), nullIfEmpty(a.PostalCode),
		nullIfEmpty(a.BusinessName), nullIfEmpty(a.OperatingName), nullIfEmpty(a.BusinessStructure), nullIfEmpty(a.BusinessNumber), nullIfEmpty(a.IncorporationDate), nullIfEmpty(a.Jurisdiction),
		boolToInt(a.BusinessConfirmed), nullDecimal(a.MonthlySales), nullIfEmpty(a.Industry), nullIfEmpty(a.TimeInBusiness), nullIfEmpty(a.WebsiteURL), nullIfEmpty(a.EmployeeCount), nullIfEmpty(a.BusinessAddress),
		boolToInt(a.HasExistingLoans), nullIfEmpty(string(a.ExistingLoans)), nullIfEmpty(a.BankConnectionMethod), nullIfEmpty(a.BankLoginID), nullIfEmpty(a.BankInstitution),
		boolToInt(a.ConsentAccepted), nullIfEmpty(string(a.AdditionalData)), formatTime(now), formatTime(now))
	if err != nil {
		return nil, err
	}
	var appID int64
	if appID, err = res.LastInsertId(); err != nil {
		return nil, err
	}

	if a.SessionID != "" {
		_, err = tx.ExecContext(ctx, `UPDATE compliance_checks SET application_id = ?, updated_at = ? WHERE session_id = ? AND application_id IS NULL`, appID, formatTime(now), a.SessionID)
		if err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return d.GetApplication(ctx, appID)
}

// GetApplication returns a single application or ErrNotFound.
func (d *DB) GetApplication(ctx context.Context, id int64) (*Application, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT "+applicationColumns+" FROM applications WHERE id = ?", id)
	a, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("application %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListApplications returns one page of applications, newest first. Pages
// start at 1.
func (d *DB) ListApplications(ctx context.Context, page, limit int) (*ApplicationPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	out := &ApplicationPage{Page: page, Limit: limit, Items: []Application{}}
	if err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM applications").Scan(&out.Total); err != nil {
		return nil, err
	}

	rows, err := d.sql.QueryContext(ctx, "SELECT "+applicationColumns+" FROM applications ORDER BY id DESC LIMIT ? OFFSET ?", limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateApplicationStatus moves an application to one of ReviewStatuses.
func (d *DB) UpdateApplicationStatus(ctx context.Context, id int64, status string) (*Application, error) {
	if !IsReviewStatus(status) {
		return nil, fmt.Errorf("%w: %q (allowed: %s)", ErrInvalidStatus, status, strings.Join(ReviewStatuses, ", "))
	}
	res, err := d.sql.ExecContext(ctx, "UPDATE applications SET status = ?, updated_at = ? WHERE id = ?", status, formatTime(d.now()), id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("application %d: %w", id, ErrNotFound)
	}
	return d.GetApplication(ctx, id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(r rowScanner) (*Application, error) {
	var (
		a                                                                          Application
		sessionID, requested, purpose, timeline, phone, street, city, prov, postal sql.NullString
		bizName, opName, structure, bn, incDate, juris, sales, industry, tib       sql.NullString
		website, employees, bizAddr, loans, bankMethod, bankLogin, bankInst        sql.NullString
		additional                                                                 sql.NullString
		userID, businessID                                                         sql.NullInt64
		confirmed, hasLoans, consent                                               int
		createdAt, updatedAt                                                       string
	)
	if err := r.Scan(&a.ID, &a.Status, &sessionID, &userID, &businessID,
		&a.LoanType, &requested, &purpose, &timeline,
		&a.FirstName, &a.LastName, &a.Email, &phone, &street, &city, &prov, &postal,
		&bizName, &opName, &structure, &bn, &incDate, &juris,
		&confirmed, &sales, &industry, &tib, &website, &employees, &bizAddr,
		&hasLoans, &loans, &bankMethod, &bankLogin, &bankInst,
		&consent, &additional, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	a.SessionID = sessionID.String
	if userID.Valid {
		a.UserID = &userID.Int64
	}
	if businessID.Valid {
		a.BusinessID = &businessID.Int64
	}
	a.RequestedAmount = parseNullDecimal(requested)
	a.LoanPurpose = purpose.String
	a.FundingTimeline = timeline.String
	a.Phone = phone.String
	a.StreetAddress = street.String
	a.City = city.String
	a.Province = prov.String
	a.PostalCode = postal.String
	a.BusinessName = bizName.String
	a.OperatingName = opName.String
	a.BusinessStructure = structure.String
	a.BusinessNumber = bn.String
	a.IncorporationDate = incDate.String
	a.Jurisdiction = juris.String
	a.BusinessConfirmed = confirmed == 1
	a.MonthlySales = parseNullDecimal(sales)
	a.Industry = industry.String
	a.TimeInBusiness = tib.String
	a.WebsiteURL = website.String
	a.EmployeeCount = employees.String
	a.BusinessAddress = bizAddr.String
	a.HasExistingLoans = hasLoans == 1
	if loans.Valid {
		a.ExistingLoans = []byte(loans.String)
	}
	a.BankConnectionMethod = bankMethod.String
	a.BankLoginID = bankLogin.String
	a.BankInstitution = bankInst.String
	a.ConsentAccepted = consent == 1
	if additional.Valid {
		a.AdditionalData = []byte(additional.String)
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func nullDecimal(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func parseNullDecimal(s sql.NullString) decimal.NullDecimal {
	if !s.Valid || s.String == "" {
		return decimal.NullDecimal{}
	}
	v, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(v)
}
