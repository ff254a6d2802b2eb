// Package compliance runs the background risk checks fired while an
// applicant is still filling in the wizard.
package compliance

import (
	"context"
	"errors"

	"github.com/lendpath/funnel/pkg/storage"
)

var ErrMissingWebsite = errors.New("compliance check needs a business website")

// Request is the payload of a comprehensive check. ApplicationID is usually
// nil because the application only exists after final submission; checks are
// then associated through SessionID.
type Request struct {
	BusinessWebsite string `json:"businessWebsite"`
	BusinessName    string `json:"businessName,omitempty"`
	ApplicationID   *int64 `json:"applicationId"`
	SessionID       string `json:"sessionId,omitempty"`
}

// Trigger starts a check without blocking the caller. Implementations never
// report failures back; they log them and record them in the ledger.
type Trigger interface {
	Trigger(ctx context.Context, req Request)
}

// Policy is the execution policy of background checks.
type Policy struct {
	Name        string
	MaxAttempts int
}

// NoRetry runs a check once. A failed check stays failed.
var NoRetry = Policy{Name: "no-retry", MaxAttempts: 1}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Ledger is the status record of checks. *storage.DB implements it.
type Ledger interface {
	CreateComplianceCheck(ctx context.Context, c storage.ComplianceCheck) (*storage.ComplianceCheck, error)
	UpdateComplianceCheck(ctx context.Context, id string, u storage.ComplianceUpdate) (*storage.ComplianceCheck, error)
}

// Checker performs the actual work of a check.
type Checker interface {
	Check(ctx context.Context, req Request) (*Report, error)
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, req Request) (*Report, error)

func (f CheckerFunc) Check(ctx context.Context, req Request) (*Report, error) { return f(ctx, req) }
