// Package submission turns a finished wizard session into a persisted
// application.
package submission

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lendpath/funnel/internal/utils"
	"github.com/lendpath/funnel/pkg/metrics"
	"github.com/lendpath/funnel/pkg/storage"
	"github.com/lendpath/funnel/pkg/wizard"
)

var ErrNotOnSubmitStep = errors.New("the application can only be submitted from the final step")

// Persistence creates application records. *pkg/client.Client implements it
// over HTTP and StorePersistence over a local database.
type Persistence interface {
	CreateApplication(ctx context.Context, p Payload) (*storage.Application, error)
}

// StorePersistence writes applications straight into a storage.DB.
type StorePersistence struct {
	DB *storage.DB
}

func (s StorePersistence) CreateApplication(ctx context.Context, p Payload) (*storage.Application, error) {
	a, err := p.Application()
	if err != nil {
		return nil, err
	}
	return s.DB.CreateApplication(ctx, a)
}

type Submitter struct {
	ctrl    *wizard.Controller
	persist Persistence
	alert   wizard.Alerter
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

func NewSubmitter(ctrl *wizard.Controller, persist Persistence, alert wizard.Alerter, m *metrics.Metrics) *Submitter {
	if alert == nil {
		alert = wizard.AlertFunc(func(msg string) { utils.Log.Warn(msg) })
	}
	return &Submitter{ctrl: ctrl, persist: persist, alert: alert, metrics: m, log: utils.Log}
}

// Submit re-validates every visited step, creates the application and clears
// the session. On any failure the user is alerted and the wizard is left as
// it was so the same action can be retried.
func (s *Submitter) Submit(ctx context.Context) (*storage.Application, error) {
	table := s.ctrl.Table()
	step, ok := table.Step(s.ctrl.CurrentStep())
	if !ok || !step.Terminal {
		return nil, ErrNotOnSubmitStep
	}

	data := s.ctrl.FormData()
	if err := table.ValidatePath(data); err != nil {
		s.alert.Alert(err.Error())
		return nil, err
	}

	payload, err := BuildPayload(data, s.ctrl.SessionID())
	if err != nil {
		s.alert.Alert(fmt.Sprintf("Your application could not be prepared: %v", err))
		return nil, err
	}

	app, err := s.persist.CreateApplication(ctx, payload)
	if err != nil {
		s.metrics.IncSubmission("error")
		s.alert.Alert(fmt.Sprintf("Your application could not be submitted, please try again: %v", err))
		return nil, fmt.Errorf("submit application: %w", err)
	}
	s.metrics.IncSubmission("created")

	if err := s.ctrl.ClearFormData(); err != nil {
		s.log.Warnf("Application %d submitted but the session could not be cleared: %v", app.ID, err)
	}
	s.log.Infof("Application %d submitted for %s", app.ID, app.Email)
	return app, nil
}
