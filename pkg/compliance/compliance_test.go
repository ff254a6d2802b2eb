package compliance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lendpath/funnel/pkg/ai"
	"github.com/lendpath/funnel/pkg/enrich/news"
	"github.com/lendpath/funnel/pkg/enrich/website"
	"github.com/lendpath/funnel/pkg/metrics"
	"github.com/lendpath/funnel/pkg/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memLedger struct {
	mu     sync.Mutex
	checks map[string]*storage.ComplianceCheck
	next   int
}

func newMemLedger() *memLedger {
	return &memLedger{checks: map[string]*storage.ComplianceCheck{}}
}

func (l *memLedger) CreateComplianceCheck(_ context.Context, c storage.ComplianceCheck) (*storage.ComplianceCheck, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	c.ID = string(rune('a' + l.next))
	c.Status = storage.CheckPending
	l.checks[c.ID] = &c
	cp := c
	return &cp, nil
}

func (l *memLedger) UpdateComplianceCheck(_ context.Context, id string, u storage.ComplianceUpdate) (*storage.ComplianceCheck, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.checks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if c.Status != storage.CheckPending {
		return nil, storage.ErrCheckFinalized
	}
	c.Status = u.Status
	c.RiskScore = u.RiskScore
	c.Result = u.Result
	c.ErrorMessage = u.ErrorMessage
	cp := *c
	return &cp, nil
}

func (l *memLedger) get(id string) storage.ComplianceCheck {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.checks[id]
}

func quietLogger() logrus.FieldLogger {
	l, _ := logtest.NewNullLogger()
	return l
}

func TestDispatcherCompletesCheck(t *testing.T) {
	ledger := newMemLedger()
	checker := CheckerFunc(func(ctx context.Context, req Request) (*Report, error) {
		return &Report{Domain: "example.com", RiskScore: 12.5, RiskFactors: []string{}}, nil
	})
	d := NewDispatcher(ledger, checker, WithLogger(quietLogger()), WithMetrics(metrics.New()))

	check, err := d.Dispatch(context.Background(), Request{BusinessWebsite: " example.com ", SessionID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, storage.CheckPending, check.Status)
	assert.Equal(t, "example.com", check.Subject)
	assert.Equal(t, "s-1", check.SessionID)

	d.Wait()
	got := ledger.get(check.ID)
	assert.Equal(t, storage.CheckCompleted, got.Status)
	require.NotNil(t, got.RiskScore)
	assert.Equal(t, 12.5, *got.RiskScore)
	assert.Contains(t, string(got.Result), `"domain":"example.com"`)
}

func TestDispatcherNoRetryRecordsFailure(t *testing.T) {
	ledger := newMemLedger()
	var calls int32
	checker := CheckerFunc(func(ctx context.Context, req Request) (*Report, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("dial tcp: connection refused")
	})
	logger, hook := logtest.NewNullLogger()
	d := NewDispatcher(ledger, checker, WithLogger(logger))

	check, err := d.Dispatch(context.Background(), Request{BusinessWebsite: "example.com"})
	require.NoError(t, err)
	d.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	got := ledger.get(check.ID)
	assert.Equal(t, storage.CheckFailed, got.Status)
	assert.Equal(t, "dial tcp: connection refused", got.ErrorMessage)
	assert.Nil(t, got.RiskScore)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestDispatcherPolicyAttempts(t *testing.T) {
	ledger := newMemLedger()
	var calls int32
	checker := CheckerFunc(func(ctx context.Context, req Request) (*Report, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("flaky")
		}
		return &Report{Domain: "example.com"}, nil
	})
	d := NewDispatcher(ledger, checker, WithLogger(quietLogger()), WithPolicy(Policy{Name: "three", MaxAttempts: 3}))

	check, err := d.Dispatch(context.Background(), Request{BusinessWebsite: "example.com"})
	require.NoError(t, err)
	d.Wait()
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, storage.CheckCompleted, ledger.get(check.ID).Status)
}

func TestDispatchOutlivesCallerContext(t *testing.T) {
	ledger := newMemLedger()
	release := make(chan struct{})
	checker := CheckerFunc(func(ctx context.Context, req Request) (*Report, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &Report{Domain: "example.com"}, nil
	})
	d := NewDispatcher(ledger, checker, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	check, err := d.Dispatch(ctx, Request{BusinessWebsite: "example.com"})
	require.NoError(t, err)
	cancel()
	close(release)
	d.Wait()

	assert.Equal(t, storage.CheckCompleted, ledger.get(check.ID).Status)
}

func TestDispatchRequiresWebsite(t *testing.T) {
	d := NewDispatcher(newMemLedger(), CheckerFunc(nil), WithLogger(quietLogger()))
	_, err := d.Dispatch(context.Background(), Request{BusinessWebsite: "  "})
	assert.ErrorIs(t, err, ErrMissingWebsite)
}

type failingStarter struct{ calls int32 }

func (s *failingStarter) StartComprehensiveCheck(ctx context.Context, req Request) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	return "", errors.New("network unreachable")
}

func TestHTTPTriggerSwallowsFailures(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	starter := &failingStarter{}
	tr := NewHTTPTrigger(starter, logger)

	assert.NotPanics(t, func() {
		tr.Trigger(context.Background(), Request{BusinessWebsite: "example.com", BusinessName: "Acme"})
	})
	tr.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&starter.calls))
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "network unreachable")
}

type fakeScraper struct {
	md  *website.Metadata
	err error
}

func (f fakeScraper) Scrape(ctx context.Context, raw string) (*website.Metadata, error) {
	return f.md, f.err
}

type fakeNews struct {
	articles []news.Article
	err      error
}

func (f fakeNews) Search(ctx context.Context, name, domain string) ([]news.Article, error) {
	return f.articles, f.err
}

type fakeAnalyzer struct {
	cat    *ai.Categorization
	scores []float64
}

func (f fakeAnalyzer) Categorize(ctx context.Context, name, text string) (*ai.Categorization, error) {
	return f.cat, nil
}

func (f fakeAnalyzer) Sentiment(ctx context.Context, text string) (float64, error) {
	return f.scores[0], nil
}

func (f fakeAnalyzer) SentimentBatch(ctx context.Context, texts []string) ([]float64, error) {
	return f.scores[:len(texts)], nil
}

type recordingSources struct {
	mu      sync.Mutex
	scraped string
	domain  string
}

func (r *recordingSources) Scrape(ctx context.Context, raw string) (*website.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scraped = raw
	return &website.Metadata{Domain: "acme.wordpress.com", Success: true}, nil
}

func (r *recordingSources) Search(ctx context.Context, name, domain string) ([]news.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domain = domain
	return []news.Article{}, nil
}

func TestComprehensiveCheckKeepsSubdomainSites(t *testing.T) {
	src := &recordingSources{}
	c := &Comprehensive{Website: src, News: src, Log: quietLogger()}

	report, err := c.Check(context.Background(), Request{BusinessWebsite: "https://www.acme.wordpress.com/shop", BusinessName: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "acme.wordpress.com", report.Domain)
	assert.Equal(t, "acme.wordpress.com", src.domain)
	assert.Equal(t, "https://www.acme.wordpress.com/shop", src.scraped)
}

func TestComprehensiveCheck(t *testing.T) {
	c := &Comprehensive{
		Website: fakeScraper{md: &website.Metadata{Domain: "acme.ca", Success: true, Title: "Acme Slots"}},
		News:    fakeNews{articles: []news.Article{{Title: "Acme fined"}, {Title: "Acme sued"}}},
		AI: fakeAnalyzer{
			cat:    &ai.Categorization{Category: "gambling", Confidence: 1, HighRisk: true},
			scores: []float64{0.0, 0.2},
		},
		Log: quietLogger(),
	}

	report, err := c.Check(context.Background(), Request{BusinessWebsite: "https://www.acme.ca/home", BusinessName: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "acme.ca", report.Domain)
	require.NotNil(t, report.Sentiment)
	assert.InDelta(t, 0.1, *report.Sentiment, 1e-9)
	// no contact info 10 + gambling 35 + adverse media 30*(0.3/0.4)
	assert.Equal(t, 67.5, report.RiskScore)
	assert.Len(t, report.RiskFactors, 3)
}

func TestComprehensiveNewsFailureIsNotFatal(t *testing.T) {
	c := &Comprehensive{
		Website: fakeScraper{md: &website.Metadata{Domain: "acme.ca", Success: false, Error: "timeout"}},
		News:    fakeNews{err: errors.New("rate limited")},
		Log:     quietLogger(),
	}
	report, err := c.Check(context.Background(), Request{BusinessWebsite: "acme.ca"})
	require.NoError(t, err)
	assert.Equal(t, 25.0, report.RiskScore)
	assert.Equal(t, "rate limited", report.SourceErrors["news"])
	assert.Equal(t, "timeout", report.SourceErrors["website"])
}

func TestComprehensiveRejectsBadWebsite(t *testing.T) {
	c := &Comprehensive{Log: quietLogger()}
	_, err := c.Check(context.Background(), Request{BusinessWebsite: "localhost"})
	assert.ErrorIs(t, err, website.ErrInvalidDomain)
}

func TestComprehensiveWithoutSources(t *testing.T) {
	c := &Comprehensive{Log: quietLogger()}
	_, err := c.Check(context.Background(), Request{BusinessWebsite: "acme.ca"})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestScore(t *testing.T) {
	neutral := 0.5
	tests := []struct {
		name   string
		report Report
		want   float64
	}{
		{"empty", Report{}, 0},
		{"contact info present", Report{Website: &website.Metadata{Success: true, Emails: []string{"a@b.ca"}}}, 0},
		{"unreachable", Report{Website: &website.Metadata{Success: false}}, 25},
		{"neutral press", Report{Sentiment: &neutral}, 0},
		{"low confidence high risk", Report{Categorization: &ai.Categorization{Category: "cannabis", Confidence: 0.5, HighRisk: true}}, 17.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Score(&tt.report)
			assert.Equal(t, tt.want, got)
		})
	}
}
