package wizard

import (
	"errors"
	"testing"
)

func TestRules(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		data FormData
		ok   bool
	}{
		{"required present", Required("f"), FormData{"f": "x"}, true},
		{"required blank", Required("f"), FormData{"f": "   "}, false},
		{"required missing", Required("f"), FormData{}, false},
		{"required list", Required("f"), FormData{"f": []any{1}}, true},
		{"required empty list", Required("f"), FormData{"f": []any{}}, false},
		{"required bool false", Required("f"), FormData{"f": false}, true},
		{"email ok", Email("e"), FormData{"e": "jane@example.com"}, true},
		{"email bad", Email("e"), FormData{"e": "jane@example"}, false},
		{"email blank passes", Email("e"), FormData{}, true},
		{"postal with space", PostalCode("p"), FormData{"p": "M5V 3A8"}, true},
		{"postal without space", PostalCode("p"), FormData{"p": "m5v3a8"}, true},
		{"postal bad letter", PostalCode("p"), FormData{"p": "D5V 3A8"}, false},
		{"postal us zip", PostalCode("p"), FormData{"p": "90210"}, false},
		{"phone ok", Phone("p"), FormData{"p": "+1 (416) 555-0199"}, true},
		{"phone short", Phone("p"), FormData{"p": "555-0199"}, false},
		{"one of ok", OneOf("l", LoanTypes...), FormData{"l": "line-of-credit"}, true},
		{"one of bad", OneOf("l", LoanTypes...), FormData{"l": "mortgage"}, false},
		{"amount ok", PositiveAmount("a"), FormData{"a": "$25,000.50"}, true},
		{"amount zero", PositiveAmount("a"), FormData{"a": "0"}, false},
		{"amount text", PositiveAmount("a"), FormData{"a": "lots"}, false},
		{"accepted string", Accepted("c"), FormData{"c": "true"}, true},
		{"accepted bool", Accepted("c"), FormData{"c": true}, true},
		{"not accepted", Accepted("c"), FormData{"c": "false"}, false},
		{"when skipped", When(func(FormData) bool { return false }, Required("x")), FormData{}, true},
		{"when applied", When(func(FormData) bool { return true }, Required("x")), FormData{}, false},
		{
			"loans ok", ExistingLoans("l"),
			FormData{"l": []any{map[string]any{"lender": "BDC", "balance": "12000"}}}, true,
		},
		{
			"loans missing lender", ExistingLoans("l"),
			FormData{"l": []any{map[string]any{"balance": "12000"}}}, false,
		},
		{
			"loans numeric balance", ExistingLoans("l"),
			FormData{"l": []any{map[string]any{"lender": "BDC", "balance": float64(500)}}}, true,
		},
		{"loans empty", ExistingLoans("l"), FormData{"l": []any{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := tt.rule(tt.data)
			if (fe == nil) != tt.ok {
				t.Fatalf("rule result = %+v, want ok=%v", fe, tt.ok)
			}
		})
	}
}

func TestStepValidateCollectsFields(t *testing.T) {
	step, _ := DefaultTable().Step(StepPersonalInfo)
	err := step.Validate(FormData{"firstName": "Jane", "email": "bad", "phone": "123"})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate error = %v", err)
	}
	got := map[string]bool{}
	for _, f := range verr.Fields {
		got[f.Field] = true
	}
	for _, f := range []string{"lastName", "email", "phone", "postalCode"} {
		if !got[f] {
			t.Errorf("missing field error for %s in %v", f, verr)
		}
	}
	if got["firstName"] {
		t.Error("firstName should pass")
	}
}

func TestConditionalRules(t *testing.T) {
	loans, _ := DefaultTable().Step(StepExistingLoans)
	if err := loans.Validate(FormData{"hasExistingLoans": "false"}); err != nil {
		t.Fatalf("no loans: %v", err)
	}
	if err := loans.Validate(FormData{"hasExistingLoans": "true"}); err == nil {
		t.Fatal("loans flagged but none listed")
	}

	bank, _ := DefaultTable().Step(StepBankConnection)
	if err := bank.Validate(FormData{"bankConnectionMethod": "aggregator"}); err == nil {
		t.Fatal("aggregator without login id accepted")
	}
	if err := bank.Validate(FormData{"bankConnectionMethod": "aggregator", "bankLoginId": "abc-123"}); err != nil {
		t.Fatalf("aggregator with login id: %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount(" $1,250.75 ")
	if err != nil {
		t.Fatal(err)
	}
	if d.String() != "1250.75" {
		t.Fatalf("ParseAmount = %s", d)
	}
}
