package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lendpath/funnel/internal/utils"
	"github.com/lendpath/funnel/pkg/metrics"
	"github.com/lendpath/funnel/pkg/storage"
)

// Dispatcher records a pending check, then runs it detached from the caller.
// The outcome is written to the ledger and never returned.
type Dispatcher struct {
	ledger  Ledger
	checker Checker
	policy  Policy
	metrics *metrics.Metrics
	log     logrus.FieldLogger

	wg sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithPolicy(p Policy) DispatcherOption {
	return func(d *Dispatcher) { d.policy = p }
}

func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(l logrus.FieldLogger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

func NewDispatcher(ledger Ledger, checker Checker, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ledger:  ledger,
		checker: checker,
		policy:  NoRetry,
		log:     utils.Log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch creates the pending ledger entry and starts the check in the
// background. Cancelling ctx after Dispatch returns does not stop the check.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*storage.ComplianceCheck, error) {
	req.BusinessWebsite = strings.TrimSpace(req.BusinessWebsite)
	if req.BusinessWebsite == "" {
		return nil, ErrMissingWebsite
	}

	check, err := d.ledger.CreateComplianceCheck(ctx, storage.ComplianceCheck{
		ApplicationID: req.ApplicationID,
		SessionID:     req.SessionID,
		CheckType:     storage.CheckComprehensive,
		Subject:       req.BusinessWebsite,
	})
	if err != nil {
		return nil, fmt.Errorf("could not record compliance check: %w", err)
	}

	d.wg.Add(1)
	go func(ctx context.Context) {
		defer d.wg.Done()
		d.run(ctx, check.ID, req)
	}(context.WithoutCancel(ctx))

	return check, nil
}

// Trigger implements Trigger on the server side.
func (d *Dispatcher) Trigger(ctx context.Context, req Request) {
	if _, err := d.Dispatch(ctx, req); err != nil {
		d.log.Warnf("Compliance check for %s not started: %v", req.BusinessWebsite, err)
	}
}

// Wait blocks until every dispatched check has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, id string, req Request) {
	log := d.log.WithFields(logrus.Fields{"check": id, "website": req.BusinessWebsite, "policy": d.policy.Name})
	start := time.Now()

	var (
		report *Report
		err    error
	)
	for attempt := 1; attempt <= d.policy.attempts(); attempt++ {
		report, err = d.checker.Check(ctx, req)
		if err == nil && report == nil {
			err = ErrNoData
		}
		if err == nil {
			break
		}
		log.Debugf("Attempt %d/%d failed: %v", attempt, d.policy.attempts(), err)
	}

	update := storage.ComplianceUpdate{Status: storage.CheckCompleted}
	if err == nil {
		update.RiskScore = &report.RiskScore
		update.Result, err = json.Marshal(report)
	}
	if err != nil {
		update = storage.ComplianceUpdate{Status: storage.CheckFailed, ErrorMessage: err.Error()}
	}

	if _, uerr := d.ledger.UpdateComplianceCheck(ctx, id, update); uerr != nil {
		log.Errorf("Could not record compliance result: %v", uerr)
	}
	d.metrics.ObserveCheck(storage.CheckComprehensive, update.Status, time.Since(start), update.RiskScore)

	if update.Status == storage.CheckFailed {
		log.Warnf("Compliance check failed: %s", update.ErrorMessage)
		return
	}
	log.Infof("Compliance check completed with risk score %.1f", report.RiskScore)
}
