package wizard

import (
	"errors"
	"fmt"
)

// StepID identifies one screen of the wizard.
type StepID string

const (
	StepLoanType        StepID = "loan-type"
	StepLoanAmount      StepID = "loan-amount"
	StepPersonalInfo    StepID = "personal-info"
	StepBusinessSearch  StepID = "business-search"
	StepBusinessManual  StepID = "business-manual"
	StepMonthlySales    StepID = "monthly-sales"
	StepBusinessDetails StepID = "business-details"
	StepExistingLoans   StepID = "existing-loans"
	StepBankConnection  StepID = "bank-connection"
	StepReview          StepID = "review"
	StepSubmit          StepID = "submit"
)

// LoanTypes lists the accepted values of the loanType field.
var LoanTypes = []string{"business-loan", "line-of-credit", "equipment-financing", "merchant-cash-advance"}

// PromptKind tells a front end which input to render for a field.
type PromptKind string

const (
	PromptText    PromptKind = "text"
	PromptChoice  PromptKind = "choice"
	PromptAddress PromptKind = "address"
	PromptFlag    PromptKind = "flag"
	PromptList    PromptKind = "list"
)

// Prompt is the render descriptor of a single field.
type Prompt struct {
	Field   string
	Label   string
	Kind    PromptKind
	Options []string
}

// StepDefinition is one static entry of the step table.
type StepDefinition struct {
	ID          StepID
	Label       string
	Description string
	// Fields lists every field the step can collect.
	Fields []string
	// Required is the presence list used by IsStepCompleted.
	Required []string
	Rules    []Rule
	Prompts  []Prompt
	// Next overrides the linear successor. It must return a step of the table.
	Next func(data FormData) StepID
	// TriggersCompliance marks the step that captures the business website.
	TriggersCompliance bool
	// Terminal steps end in submission rather than MoveForward.
	Terminal bool
}

// Validate runs the required-field checks followed by the step's own rules.
func (s *StepDefinition) Validate(data FormData) error {
	rules := make([]Rule, 0, len(s.Required)+len(s.Rules))
	for _, f := range s.Required {
		rules = append(rules, Required(f))
	}
	rules = append(rules, s.Rules...)
	return runRules(s.ID, data, rules)
}

// StepGroup clusters steps for progress display.
type StepGroup struct {
	ID    string
	Label string
	Steps []StepID
}

// Table is the validated, immutable step table.
type Table struct {
	groups []StepGroup
	steps  map[StepID]*StepDefinition
	order  []StepID
	index  map[StepID]int
	group  map[StepID]string
}

var (
	ErrDuplicateStep   = errors.New("duplicate step id")
	ErrUngroupedStep   = errors.New("step is not in exactly one group")
	ErrRequiredOutside = errors.New("required field is not collectible by this step or an earlier one")
	ErrBadTransition   = errors.New("transition targets an unknown step")
)

// NewTable validates groups and steps and builds a table. Every step must
// appear in exactly one group, and every required field must be collectible
// by the step itself or an earlier step of the flattened order.
func NewTable(groups []StepGroup, steps []StepDefinition) (*Table, error) {
	t := &Table{
		groups: groups,
		steps:  make(map[StepID]*StepDefinition, len(steps)),
		index:  make(map[StepID]int, len(steps)),
		group:  make(map[StepID]string, len(steps)),
	}
	for i := range steps {
		s := steps[i]
		if _, dup := t.steps[s.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, s.ID)
		}
		t.steps[s.ID] = &s
	}

	for _, g := range groups {
		for _, id := range g.Steps {
			if _, ok := t.steps[id]; !ok {
				return nil, fmt.Errorf("group %s references unknown step %s", g.ID, id)
			}
			if _, seen := t.group[id]; seen {
				return nil, fmt.Errorf("%w: %s", ErrUngroupedStep, id)
			}
			t.group[id] = g.ID
			t.index[id] = len(t.order)
			t.order = append(t.order, id)
		}
	}
	if len(t.order) != len(t.steps) {
		for id := range t.steps {
			if _, ok := t.group[id]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrUngroupedStep, id)
			}
		}
	}

	collectible := make(map[string]bool)
	for _, id := range t.order {
		s := t.steps[id]
		for _, f := range s.Fields {
			collectible[f] = true
		}
		for _, f := range s.Required {
			if !collectible[f] {
				return nil, fmt.Errorf("%w: %s on %s", ErrRequiredOutside, f, id)
			}
		}
	}
	return t, nil
}

// StepIDs returns the canonical linear step sequence.
func (t *Table) StepIDs() []StepID {
	return append([]StepID(nil), t.order...)
}

// Groups returns the step groups in display order.
func (t *Table) Groups() []StepGroup {
	return append([]StepGroup(nil), t.groups...)
}

// First returns the initial step.
func (t *Table) First() StepID {
	return t.order[0]
}

// Step looks up a step definition.
func (t *Table) Step(id StepID) (*StepDefinition, bool) {
	s, ok := t.steps[id]
	return s, ok
}

// GroupOf returns the id of the group holding id.
func (t *Table) GroupOf(id StepID) string {
	return t.group[id]
}

// Index returns the position of id in the linear sequence, or -1.
func (t *Table) Index(id StepID) int {
	i, ok := t.index[id]
	if !ok {
		return -1
	}
	return i
}

// Next resolves the successor of id for the given data. It returns false when
// id is the last step.
func (t *Table) Next(id StepID, data FormData) (StepID, bool, error) {
	s, ok := t.steps[id]
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	if s.Next != nil {
		next := s.Next(data)
		if _, ok := t.steps[next]; !ok {
			return "", false, fmt.Errorf("%w: %s -> %s", ErrBadTransition, id, next)
		}
		return next, true, nil
	}
	i := t.index[id]
	if i+1 >= len(t.order) {
		return "", false, nil
	}
	return t.order[i+1], true, nil
}

// Prev returns the step preceding id in the linear sequence.
func (t *Table) Prev(id StepID) (StepID, bool) {
	i, ok := t.index[id]
	if !ok || i == 0 {
		return "", false
	}
	return t.order[i-1], true
}

// DefaultGroups is the production grouping of the wizard.
var DefaultGroups = []StepGroup{
	{ID: "loan", Label: "Loan Details", Steps: []StepID{StepLoanType, StepLoanAmount}},
	{ID: "applicant", Label: "Applicant Info", Steps: []StepID{StepPersonalInfo}},
	{ID: "business", Label: "Business Info", Steps: []StepID{StepBusinessSearch, StepBusinessManual, StepMonthlySales, StepBusinessDetails}},
	{ID: "financials", Label: "Financials", Steps: []StepID{StepExistingLoans, StepBankConnection}},
	{ID: "review", Label: "Review & Submit", Steps: []StepID{StepReview, StepSubmit}},
}

func hasExistingLoans(data FormData) bool { return data.Flag("hasExistingLoans") }

// DefaultSteps is the production step table.
var DefaultSteps = []StepDefinition{
	{
		ID:          StepLoanType,
		Label:       "Loan type",
		Description: "What kind of financing are you looking for?",
		Fields:      []string{"loanType"},
		Required:    []string{"loanType"},
		Rules:       []Rule{OneOf("loanType", LoanTypes...)},
		Prompts:     []Prompt{{Field: "loanType", Label: "Loan type", Kind: PromptChoice, Options: LoanTypes}},
	},
	{
		ID:          StepLoanAmount,
		Label:       "Loan amount",
		Description: "How much do you need and what is it for?",
		Fields:      []string{"requestedAmount", "loanPurpose", "fundingTimeline"},
		Required:    []string{"requestedAmount", "loanPurpose"},
		Rules:       []Rule{PositiveAmount("requestedAmount")},
		Prompts: []Prompt{
			{Field: "requestedAmount", Label: "Amount requested", Kind: PromptText},
			{Field: "loanPurpose", Label: "Purpose", Kind: PromptChoice, Options: []string{"working-capital", "expansion", "equipment", "inventory", "refinancing", "other"}},
			{Field: "fundingTimeline", Label: "When do you need the funds?", Kind: PromptChoice, Options: []string{"immediately", "within-a-month", "exploring"}},
		},
	},
	{
		ID:          StepPersonalInfo,
		Label:       "Personal information",
		Description: "Tell us about yourself.",
		Fields:      []string{"firstName", "lastName", "email", "phone", "streetAddress", "city", "province", "postalCode"},
		Required:    []string{"firstName", "lastName", "email", "phone", "postalCode"},
		Rules:       []Rule{Email("email"), Phone("phone"), PostalCode("postalCode")},
		Prompts: []Prompt{
			{Field: "firstName", Label: "First name", Kind: PromptText},
			{Field: "lastName", Label: "Last name", Kind: PromptText},
			{Field: "email", Label: "Email", Kind: PromptText},
			{Field: "phone", Label: "Phone", Kind: PromptText},
			{Field: "streetAddress", Label: "Street address", Kind: PromptAddress},
			{Field: "city", Label: "City", Kind: PromptText},
			{Field: "province", Label: "Province", Kind: PromptText},
			{Field: "postalCode", Label: "Postal code", Kind: PromptText},
		},
	},
	{
		ID:          StepBusinessSearch,
		Label:       "Find your business",
		Description: "Search the business registry to pre-fill your company details.",
		Fields:      []string{"businessSearchQuery", "businessConfirmed", "businessName", "businessNumber", "incorporationDate", "jurisdiction"},
		Required:    []string{"businessConfirmed"},
		Rules: []Rule{
			OneOf("businessConfirmed", "true", "false"),
			When(func(d FormData) bool { return d.Flag("businessConfirmed") }, Required("businessName")),
		},
		Prompts: []Prompt{
			{Field: "businessSearchQuery", Label: "Business name", Kind: PromptText},
		},
		Next: func(data FormData) StepID {
			if data.String("businessConfirmed") == "true" {
				return StepMonthlySales
			}
			return StepBusinessManual
		},
	},
	{
		ID:          StepBusinessManual,
		Label:       "Business name",
		Description: "Enter your business's legal name.",
		Fields:      []string{"businessName", "operatingName", "businessStructure"},
		Required:    []string{"businessName"},
		Prompts: []Prompt{
			{Field: "businessName", Label: "Legal business name", Kind: PromptText},
			{Field: "operatingName", Label: "Operating name", Kind: PromptText},
			{Field: "businessStructure", Label: "Structure", Kind: PromptChoice, Options: []string{"sole-proprietorship", "partnership", "corporation"}},
		},
		Next: func(FormData) StepID { return StepMonthlySales },
	},
	{
		ID:          StepMonthlySales,
		Label:       "Monthly sales",
		Description: "What are your average monthly sales?",
		Fields:      []string{"monthlySales"},
		Required:    []string{"monthlySales"},
		Rules:       []Rule{PositiveAmount("monthlySales")},
		Prompts:     []Prompt{{Field: "monthlySales", Label: "Average monthly sales", Kind: PromptText}},
	},
	{
		ID:          StepBusinessDetails,
		Label:       "Business details",
		Description: "A few more details about your business.",
		Fields:      []string{"industry", "timeInBusiness", "websiteUrl", "employeeCount", "businessAddress"},
		Required:    []string{"industry", "timeInBusiness"},
		Prompts: []Prompt{
			{Field: "industry", Label: "Industry", Kind: PromptText},
			{Field: "timeInBusiness", Label: "Time in business", Kind: PromptChoice, Options: []string{"less-than-6-months", "6-12-months", "1-2-years", "2-5-years", "5-plus-years"}},
			{Field: "websiteUrl", Label: "Website", Kind: PromptText},
			{Field: "employeeCount", Label: "Employees", Kind: PromptText},
			{Field: "businessAddress", Label: "Business address", Kind: PromptAddress},
		},
		TriggersCompliance: true,
	},
	{
		ID:          StepExistingLoans,
		Label:       "Existing loans",
		Description: "Do you have any outstanding business debt?",
		Fields:      []string{"hasExistingLoans", "existingLoans"},
		Required:    []string{"hasExistingLoans"},
		Rules: []Rule{
			OneOf("hasExistingLoans", "true", "false"),
			When(hasExistingLoans, ExistingLoans("existingLoans")),
		},
		Prompts: []Prompt{
			{Field: "hasExistingLoans", Label: "Any existing loans?", Kind: PromptFlag},
			{Field: "existingLoans", Label: "Loans (lender, balance, monthlyPayment)", Kind: PromptList},
		},
	},
	{
		ID:          StepBankConnection,
		Label:       "Bank connection",
		Description: "Connect your business bank account or upload statements.",
		Fields:      []string{"bankConnectionMethod", "bankLoginId", "bankInstitution"},
		Required:    []string{"bankConnectionMethod"},
		Rules: []Rule{
			OneOf("bankConnectionMethod", "aggregator", "statements"),
			When(func(d FormData) bool { return d.String("bankConnectionMethod") == "aggregator" }, Required("bankLoginId")),
		},
		Prompts: []Prompt{
			{Field: "bankConnectionMethod", Label: "Connection method", Kind: PromptChoice, Options: []string{"aggregator", "statements"}},
			{Field: "bankLoginId", Label: "Aggregator login id", Kind: PromptText},
			{Field: "bankInstitution", Label: "Institution", Kind: PromptText},
		},
	},
	{
		ID:          StepReview,
		Label:       "Review",
		Description: "Check your answers before submitting.",
	},
	{
		ID:          StepSubmit,
		Label:       "Submit",
		Description: "Confirm and submit your application.",
		Fields:      []string{"consentAccepted"},
		Required:    []string{"consentAccepted"},
		Rules:       []Rule{Accepted("consentAccepted")},
		Prompts:     []Prompt{{Field: "consentAccepted", Label: "I consent to a credit and compliance review", Kind: PromptFlag}},
		Terminal:    true,
	},
}

var defaultTable *Table

func init() {
	t, err := NewTable(DefaultGroups, DefaultSteps)
	if err != nil {
		panic(err)
	}
	defaultTable = t
}

// DefaultTable returns the production step table.
func DefaultTable() *Table {
	return defaultTable
}

// Path walks the table from the first step, following branch transitions
// for data, and returns the steps a user actually visits.
func (t *Table) Path(data FormData) []StepID {
	var path []StepID
	seen := make(map[StepID]bool, len(t.order))
	id := t.First()
	for !seen[id] {
		seen[id] = true
		path = append(path, id)
		next, ok, err := t.Next(id, data)
		if err != nil || !ok {
			break
		}
		id = next
	}
	return path
}

// ValidatePath runs every step's rules along Path(data) and returns the first
// failure.
func (t *Table) ValidatePath(data FormData) error {
	for _, id := range t.Path(data) {
		if err := t.steps[id].Validate(data); err != nil {
			return err
		}
	}
	return nil
}
