package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidStatus  = errors.New("invalid status")
	ErrCheckFinalized = errors.New("compliance check is already finalized")
	ErrMissingEmail   = errors.New("email is required")
)

// Application statuses. Submitted is assigned on creation; the rest are
// reachable through UpdateApplicationStatus.
const (
	StatusSubmitted      = "submitted"
	StatusPending        = "pending"
	StatusReviewing      = "reviewing"
	StatusApproved       = "approved"
	StatusRejected       = "rejected"
	StatusMoreInfoNeeded = "more-info-needed"
)

// ReviewStatuses lists the values accepted by a status update.
var ReviewStatuses = []string{StatusPending, StatusReviewing, StatusApproved, StatusRejected, StatusMoreInfoNeeded}

// IsReviewStatus reports whether s is accepted by a status update.
func IsReviewStatus(s string) bool {
	for _, v := range ReviewStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Application is the persisted, schema-mapped loan application.
type Application struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	SessionID  string `json:"session_id,omitempty"`
	UserID     *int64 `json:"user_id,omitempty"`
	BusinessID *int64 `json:"business_id,omitempty"`

	// Loan
	LoanType        string              `json:"loan_type"`
	RequestedAmount decimal.NullDecimal `json:"requested_amount"`
	LoanPurpose     string              `json:"loan_purpose,omitempty"`
	FundingTimeline string              `json:"funding_timeline,omitempty"`

	// Applicant
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
	StreetAddress string `json:"street_address,omitempty"`
	City          string `json:"city,omitempty"`
	Province      string `json:"province,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`

	// Business
	BusinessName      string              `json:"business_name,omitempty"`
	OperatingName     string              `json:"operating_name,omitempty"`
	BusinessStructure string              `json:"business_structure,omitempty"`
	BusinessNumber    string              `json:"business_number,omitempty"`
	IncorporationDate string              `json:"incorporation_date,omitempty"`
	Jurisdiction      string              `json:"jurisdiction,omitempty"`
	BusinessConfirmed bool                `json:"business_confirmed"`
	MonthlySales      decimal.NullDecimal `json:"monthly_sales"`
	Industry          string              `json:"industry,omitempty"`
	TimeInBusiness    string              `json:"time_in_business,omitempty"`
	WebsiteURL        string              `json:"website_url,omitempty"`
	EmployeeCount     string              `json:"employee_count,omitempty"`
	BusinessAddress   string              `json:"business_address,omitempty"`

	// Financials
	HasExistingLoans     bool            `json:"has_existing_loans"`
	ExistingLoans        json.RawMessage `json:"existing_loans,omitempty"`
	BankConnectionMethod string          `json:"bank_connection_method,omitempty"`
	BankLoginID          string          `json:"bank_login_id,omitempty"`
	BankInstitution      string          `json:"bank_institution,omitempty"`

	ConsentAccepted bool            `json:"consent_accepted"`
	AdditionalData  json.RawMessage `json:"additional_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApplicationPage is one page of ListApplications.
type ApplicationPage struct {
	Items []Application `json:"items"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int           `json:"total"`
}

// User is an applicant, unique by email.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Business is the legal entity behind an application.
type Business struct {
	ID                int64  `json:"id"`
	UserID            *int64 `json:"user_id,omitempty"`
	LegalName         string `json:"legal_name"`
	BusinessNumber    string `json:"business_number,omitempty"`
	IncorporationDate string `json:"incorporation_date,omitempty"`
	Jurisdiction      string `json:"jurisdiction,omitempty"`
	Website           string `json:"website,omitempty"`
	Industry          string `json:"industry,omitempty"`
	Verified          bool   `json:"verified"`
}

// Compliance check types.
const (
	CheckWebsite          = "website"
	CheckAdverseMedia     = "adverse-media"
	CheckAICategorization = "ai-categorization"
	CheckComprehensive    = "comprehensive"
)

// Compliance check statuses. Completed and failed are terminal.
const (
	CheckPending   = "pending"
	CheckCompleted = "completed"
	CheckFailed    = "failed"
)

// IsCheckType reports whether t is a known compliance check type.
func IsCheckType(t string) bool {
	switch t {
	case CheckWebsite, CheckAdverseMedia, CheckAICategorization, CheckComprehensive:
		return true
	}
	return false
}

// ComplianceCheck is the status ledger entry of one background check.
type ComplianceCheck struct {
	ID            string          `json:"id"`
	ApplicationID *int64          `json:"application_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	CheckType     string          `json:"check_type"`
	Status        string          `json:"status"`
	Subject       string          `json:"subject,omitempty"`
	RiskScore     *float64        `json:"risk_score,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// ComplianceUpdate moves a pending check to a terminal status.
type ComplianceUpdate struct {
	Status       string          `json:"status"`
	RiskScore    *float64        `json:"risk_score,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// StatusCount is one row of GetStats.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// Stats summarizes the database for dashboards and the stats command.
type Stats struct {
	Applications     []StatusCount `json:"applications"`
	ComplianceChecks []StatusCount `json:"compliance_checks"`
	AverageRiskScore *float64      `json:"average_risk_score,omitempty"`
}
