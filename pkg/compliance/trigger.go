package compliance

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/lendpath/funnel/internal/utils"
)

// Starter asks a remote API to start a comprehensive check and returns the
// id of the pending record.
type Starter interface {
	StartComprehensiveCheck(ctx context.Context, req Request) (string, error)
}

// HTTPTrigger is the client side Trigger: it calls the API from a goroutine
// so the wizard never waits on it.
type HTTPTrigger struct {
	starter Starter
	log     logrus.FieldLogger
	wg      sync.WaitGroup
}

func NewHTTPTrigger(starter Starter, log logrus.FieldLogger) *HTTPTrigger {
	if log == nil {
		log = utils.Log
	}
	return &HTTPTrigger{starter: starter, log: log}
}

func (t *HTTPTrigger) Trigger(ctx context.Context, req Request) {
	t.wg.Add(1)
	go func(ctx context.Context) {
		defer t.wg.Done()
		id, err := t.starter.StartComprehensiveCheck(ctx, req)
		if err != nil {
			t.log.Warnf("Compliance check for %s failed to start: %v", req.BusinessWebsite, err)
			return
		}
		t.log.Debugf("Compliance check %s started for %s", id, req.BusinessWebsite)
	}(context.WithoutCancel(ctx))
}

// Wait blocks until every request has been sent. The CLI calls it before
// exiting so a fired check is not lost with the process.
func (t *HTTPTrigger) Wait() {
	t.wg.Wait()
}
