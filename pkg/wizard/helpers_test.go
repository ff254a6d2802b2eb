package wizard

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func newTestController(t *testing.T, store Store, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithLogger(quietLog())}, opts...)
	c, err := NewController(store, opts...)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

// stepData holds valid answers per step for the registry-confirmed path.
var stepData = map[StepID]map[string]any{
	StepLoanType:   {"loanType": "business-loan"},
	StepLoanAmount: {"requestedAmount": "$50,000", "loanPurpose": "expansion"},
	StepPersonalInfo: {
		"firstName":  "Jane",
		"lastName":   "Doe",
		"email":      "jane@example.com",
		"phone":      "(416) 555-0199",
		"postalCode": "M5V 3A8",
	},
	StepBusinessSearch: {
		"businessConfirmed": "true",
		"businessName":      "Acme Widgets Inc.",
		"businessNumber":    "123456789",
	},
	StepBusinessManual:  {"businessName": "Acme Widgets Inc."},
	StepMonthlySales:    {"monthlySales": "25000"},
	StepBusinessDetails: {"industry": "manufacturing", "timeInBusiness": "2-5-years"},
	StepExistingLoans:   {"hasExistingLoans": "false"},
	StepBankConnection:  {"bankConnectionMethod": "statements"},
	StepReview:          {},
	StepSubmit:          {"consentAccepted": "true"},
}
