package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lendpath/funnel/internal/utils"
	"github.com/lendpath/funnel/pkg/compliance"
)

// ErrTerminalStep is returned when Next is used on the submission step.
var ErrTerminalStep = errors.New("the final step is completed by submitting the application")

// ErrWrongStep is returned by step-specific actions used on another step.
var ErrWrongStep = errors.New("action is not available on the current step")

// ErrEmptyMatch is returned when a registry match carries no legal name.
var ErrEmptyMatch = errors.New("registry match has no legal name")

// complianceMarker records the website a compliance check was last requested for.
const complianceMarker = "complianceRequestedFor"

// Alerter shows blocking messages to the user.
type Alerter interface {
	Alert(message string)
}

// AlertFunc adapts a function to the Alerter interface.
type AlertFunc func(message string)

func (f AlertFunc) Alert(message string) { f(message) }

// RegistryMatch is the subset of a registry candidate the wizard records.
type RegistryMatch struct {
	LegalName         string
	BusinessNumber    string
	IncorporationDate string
	Jurisdiction      string
}

// Runner is the generic step runner: it validates the current step against
// the table, drives the controller and fires compliance checks.
type Runner struct {
	ctrl    *Controller
	trigger compliance.Trigger
	alert   Alerter
	log     logrus.FieldLogger
}

// NewRunner builds a runner. trigger may be nil when no compliance backend is
// configured.
func NewRunner(ctrl *Controller, trigger compliance.Trigger, alert Alerter) *Runner {
	if alert == nil {
		alert = AlertFunc(func(msg string) { utils.Log.Warn(msg) })
	}
	return &Runner{ctrl: ctrl, trigger: trigger, alert: alert, log: ctrl.log}
}

// Controller returns the underlying controller.
func (r *Runner) Controller() *Controller { return r.ctrl }

// Update records a single field edit immediately so nothing is lost on an
// abrupt exit.
func (r *Runner) Update(field string, value any) error {
	return r.ctrl.SaveFormData(map[string]any{field: value})
}

// Next validates draft merged over the saved data and advances. Validation
// failures raise an alert and leave the form data untouched. Navigation
// failures are logged and leave the step unchanged.
func (r *Runner) Next(ctx context.Context, draft map[string]any) (StepID, error) {
	current := r.ctrl.CurrentStep()
	step, ok := r.ctrl.table.Step(current)
	if !ok {
		return current, fmt.Errorf("%w: %s", ErrUnknownStep, current)
	}
	if step.Terminal {
		return current, ErrTerminalStep
	}

	merged := r.ctrl.FormData()
	merged.Merge(draft)
	if err := step.Validate(merged); err != nil {
		r.alert.Alert(err.Error())
		return current, err
	}

	if err := r.ctrl.MoveForward(draft); err != nil {
		r.log.Warnf("Could not move forward from %s: %v", current, err)
		return r.ctrl.CurrentStep(), nil
	}

	if step.TriggersCompliance {
		r.fireCompliance(ctx)
	}
	return r.ctrl.CurrentStep(), nil
}

// Back returns to the previous step, keeping draft values.
func (r *Runner) Back(draft map[string]any) StepID {
	if err := r.ctrl.MoveBackward(draft); err != nil {
		r.log.Warnf("Could not move backward: %v", err)
	}
	return r.ctrl.CurrentStep()
}

// Goto jumps to target, as the progress sidebar does.
func (r *Runner) Goto(target StepID) StepID {
	if err := r.ctrl.MoveToStep(target, nil); err != nil {
		r.log.Warnf("Could not jump to %s: %v", target, err)
	}
	return r.ctrl.CurrentStep()
}

// SelectRegistryMatch confirms a registry candidate on the business-search
// step, which skips manual business entry.
func (r *Runner) SelectRegistryMatch(ctx context.Context, query string, m RegistryMatch) (StepID, error) {
	if r.ctrl.CurrentStep() != StepBusinessSearch {
		return r.ctrl.CurrentStep(), ErrWrongStep
	}
	if strings.TrimSpace(m.LegalName) == "" {
		return r.ctrl.CurrentStep(), ErrEmptyMatch
	}
	return r.Next(ctx, map[string]any{
		"businessSearchQuery": query,
		"businessConfirmed":   "true",
		"businessName":        m.LegalName,
		"businessNumber":      m.BusinessNumber,
		"incorporationDate":   m.IncorporationDate,
		"jurisdiction":        m.Jurisdiction,
	})
}

// SkipRegistry declines registry verification; the manual entry step follows.
func (r *Runner) SkipRegistry(ctx context.Context, query string) (StepID, error) {
	if r.ctrl.CurrentStep() != StepBusinessSearch {
		return r.ctrl.CurrentStep(), ErrWrongStep
	}
	return r.Next(ctx, map[string]any{
		"businessSearchQuery": query,
		"businessConfirmed":   "false",
	})
}

func (r *Runner) fireCompliance(ctx context.Context) {
	if r.trigger == nil {
		return
	}
	data := r.ctrl.FormData()
	website := data.String("websiteUrl")
	if website == "" || data.String(complianceMarker) == website {
		return
	}

	req := compliance.Request{
		BusinessWebsite: website,
		BusinessName:    data.String("businessName"),
		SessionID:       r.ctrl.SessionID(),
	}
	if id, ok := applicationID(data); ok {
		req.ApplicationID = &id
	}
	r.trigger.Trigger(ctx, req)

	if err := r.ctrl.SaveFormData(map[string]any{complianceMarker: website}); err != nil {
		r.log.Warnf("Could not record compliance request: %v", err)
	}
}

func applicationID(data FormData) (int64, bool) {
	switch v := data["applicationId"].(type) {
	case float64:
		return int64(v), v > 0
	case int64:
		return v, v > 0
	case int:
		return int64(v), v > 0
	}
	return 0, false
}
