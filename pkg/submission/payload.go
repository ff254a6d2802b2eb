package submission

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/lendpath/funnel/pkg/storage"
	"github.com/lendpath/funnel/pkg/wizard"
)

// Payload is the snake_case application body sent to persistence.
type Payload map[string]any

type columnKind int

const (
	textColumn columnKind = iota
	boolColumn
	moneyColumn
	rawColumn
)

type column struct {
	name string
	kind columnKind
}

// columns maps wizard fields to application columns. Fields missing here end
// up in additional_data.
var columns = map[string]column{
	"loanType":             {"loan_type", textColumn},
	"requestedAmount":      {"requested_amount", moneyColumn},
	"loanPurpose":          {"loan_purpose", textColumn},
	"fundingTimeline":      {"funding_timeline", textColumn},
	"firstName":            {"first_name", textColumn},
	"lastName":             {"last_name", textColumn},
	"email":                {"email", textColumn},
	"phone":                {"phone", textColumn},
	"streetAddress":        {"street_address", textColumn},
	"city":                 {"city", textColumn},
	"province":             {"province", textColumn},
	"postalCode":           {"postal_code", textColumn},
	"businessName":         {"business_name", textColumn},
	"operatingName":        {"operating_name", textColumn},
	"businessStructure":    {"business_structure", textColumn},
	"businessNumber":       {"business_number", textColumn},
	"incorporationDate":    {"incorporation_date", textColumn},
	"jurisdiction":         {"jurisdiction", textColumn},
	"businessConfirmed":    {"business_confirmed", boolColumn},
	"monthlySales":         {"monthly_sales", moneyColumn},
	"industry":             {"industry", textColumn},
	"timeInBusiness":       {"time_in_business", textColumn},
	"websiteUrl":           {"website_url", textColumn},
	"employeeCount":        {"employee_count", textColumn},
	"businessAddress":      {"business_address", textColumn},
	"hasExistingLoans":     {"has_existing_loans", boolColumn},
	"existingLoans":        {"existing_loans", rawColumn},
	"bankConnectionMethod": {"bank_connection_method", textColumn},
	"bankLoginId":          {"bank_login_id", textColumn},
	"bankInstitution":      {"bank_institution", textColumn},
	"consentAccepted":      {"consent_accepted", boolColumn},
}

// BuildPayload maps form data to the persistence schema. String "true" and
// "false" become booleans on boolean columns and money is normalized to a
// decimal string.
func BuildPayload(data wizard.FormData, sessionID string) (Payload, error) {
	p := Payload{}
	extra := map[string]any{}

	for key, v := range data {
		col, ok := columns[key]
		if !ok {
			if v != nil && v != "" {
				extra[snakeCase(key)] = v
			}
			continue
		}
		switch col.kind {
		case boolColumn:
			p[col.name] = data.Flag(key)
		case moneyColumn:
			s := data.String(key)
			if s == "" {
				continue
			}
			amount, err := wizard.ParseAmount(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			p[col.name] = amount.String()
		case rawColumn:
			if raw, ok := v.(string); ok {
				if strings.TrimSpace(raw) == "" {
					continue
				}
				if !json.Valid([]byte(raw)) {
					return nil, fmt.Errorf("%s: not valid JSON", key)
				}
				p[col.name] = json.RawMessage(raw)
				continue
			}
			if v != nil {
				p[col.name] = v
			}
		default:
			if s := data.String(key); s != "" {
				p[col.name] = s
			}
		}
	}

	if len(extra) > 0 {
		p["additional_data"] = extra
	}
	if sessionID != "" {
		p["session_id"] = sessionID
	}
	return p, nil
}

// Application decodes the payload the same way the API decodes a request body.
func (p Payload) Application() (*storage.Application, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var a storage.Application
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// snakeCase converts camelCase field names, e.g. "complianceRequestedFor" to
// "compliance_requested_for".
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
