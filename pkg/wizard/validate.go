package wizard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	emailPattern      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	postalCodePattern = regexp.MustCompile(`(?i)^[ABCEGHJ-NPRSTVXY]\d[ABCEGHJ-NPRSTV-Z] ?\d[ABCEGHJ-NPRSTV-Z]\d$`)
	nonDigit          = regexp.MustCompile(`\D`)
)

// FieldError describes one failed rule.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError is returned when a step's rules reject the submitted data.
type ValidationError struct {
	Step   StepID
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("step %s: %s", e.Step, strings.Join(parts, "; "))
}

// Rule checks one aspect of the form data and returns nil when it passes.
type Rule func(data FormData) *FieldError

// Required rejects absent or blank values.
func Required(field string) Rule {
	return func(data FormData) *FieldError {
		var present bool
		switch v := data[field].(type) {
		case []any:
			present = len(v) > 0
		case map[string]any:
			present = len(v) > 0
		default:
			present = data.String(field) != ""
		}
		if !present {
			return &FieldError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// Email checks field against a loose address pattern. Blank values pass;
// combine with Required when the field is mandatory.
func Email(field string) Rule {
	return func(data FormData) *FieldError {
		v := data.String(field)
		if v != "" && !emailPattern.MatchString(v) {
			return &FieldError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// PostalCode checks field against the Canadian postal code format (A1A 1A1).
func PostalCode(field string) Rule {
	return func(data FormData) *FieldError {
		v := data.String(field)
		if v != "" && !postalCodePattern.MatchString(v) {
			return &FieldError{Field: field, Message: "must be a valid Canadian postal code"}
		}
		return nil
	}
}

// Phone requires at least ten digits once formatting is stripped.
func Phone(field string) Rule {
	return func(data FormData) *FieldError {
		v := data.String(field)
		if v != "" && len(nonDigit.ReplaceAllString(v, "")) < 10 {
			return &FieldError{Field: field, Message: "must contain at least 10 digits"}
		}
		return nil
	}
}

// OneOf restricts field to a fixed set of values.
func OneOf(field string, allowed ...string) Rule {
	return func(data FormData) *FieldError {
		v := data.String(field)
		if v == "" {
			return nil
		}
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		return &FieldError{Field: field, Message: "must be one of " + strings.Join(allowed, ", ")}
	}
}

// PositiveAmount requires a money amount greater than zero. Currency symbols
// and thousands separators are tolerated.
func PositiveAmount(field string) Rule {
	return func(data FormData) *FieldError {
		v := data.String(field)
		if v == "" {
			return nil
		}
		amount, err := ParseAmount(v)
		if err != nil || !amount.IsPositive() {
			return &FieldError{Field: field, Message: "must be a positive amount"}
		}
		return nil
	}
}

// Accepted requires field to be the flag value "true".
func Accepted(field string) Rule {
	return func(data FormData) *FieldError {
		if !data.Flag(field) {
			return &FieldError{Field: field, Message: "must be accepted"}
		}
		return nil
	}
}

// When applies rules only if cond holds for the current data.
func When(cond func(FormData) bool, rules ...Rule) Rule {
	return func(data FormData) *FieldError {
		if !cond(data) {
			return nil
		}
		for _, r := range rules {
			if fe := r(data); fe != nil {
				return fe
			}
		}
		return nil
	}
}

// ExistingLoans validates the structured existingLoans list: every entry needs
// a lender and a positive balance.
func ExistingLoans(field string) Rule {
	return func(data FormData) *FieldError {
		loans, ok := data[field].([]any)
		if !ok || len(loans) == 0 {
			return &FieldError{Field: field, Message: "add at least one existing loan"}
		}
		for i, l := range loans {
			entry, ok := l.(map[string]any)
			if !ok {
				return &FieldError{Field: field, Message: fmt.Sprintf("entry %d is malformed", i+1)}
			}
			sub := FormData(entry)
			if sub.String("lender") == "" {
				return &FieldError{Field: field, Message: fmt.Sprintf("entry %d needs a lender", i+1)}
			}
			if amt, err := ParseAmount(sub.String("balance")); err != nil || !amt.IsPositive() {
				return &FieldError{Field: field, Message: fmt.Sprintf("entry %d needs a positive balance", i+1)}
			}
		}
		return nil
	}
}

// ParseAmount parses user-entered money such as "$25,000.50".
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(s))
	return decimal.NewFromString(cleaned)
}

func runRules(step StepID, data FormData, rules []Rule) error {
	var fields []FieldError
	seen := make(map[string]bool)
	for _, r := range rules {
		fe := r(data)
		if fe == nil || seen[fe.Field] {
			continue
		}
		seen[fe.Field] = true
		fields = append(fields, *fe)
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Step: step, Fields: fields}
}
