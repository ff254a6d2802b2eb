package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lendpath/funnel/internal/utils"
	"github.com/lendpath/funnel/pkg/ai"
	"github.com/lendpath/funnel/pkg/enrich/news"
	"github.com/lendpath/funnel/pkg/enrich/website"
)

// ErrNoData is returned when none of the sources produced anything to score.
var ErrNoData = errors.New("no compliance source returned data")

// WebsiteScraper is satisfied by *website.Scraper.
type WebsiteScraper interface {
	Scrape(ctx context.Context, raw string) (*website.Metadata, error)
}

// NewsSearcher is satisfied by *news.Client.
type NewsSearcher interface {
	Search(ctx context.Context, businessName, domain string) ([]news.Article, error)
}

// Report is the result payload stored on a completed check.
type Report struct {
	Domain         string             `json:"domain"`
	Website        *website.Metadata  `json:"website,omitempty"`
	Articles       []news.Article     `json:"articles,omitempty"`
	Categorization *ai.Categorization `json:"categorization,omitempty"`
	Sentiment      *float64           `json:"average_sentiment,omitempty"`
	RiskScore      float64            `json:"risk_score"`
	RiskFactors    []string           `json:"risk_factors"`
	SourceErrors   map[string]string  `json:"source_errors,omitempty"`
}

func (r *Report) sourceError(source string, err error) {
	if r.SourceErrors == nil {
		r.SourceErrors = map[string]string{}
	}
	r.SourceErrors[source] = err.Error()
}

// Comprehensive combines a website scrape, a news search and LLM analysis.
// Any collaborator may be nil when it is not configured.
type Comprehensive struct {
	Website WebsiteScraper
	News    NewsSearcher
	AI      ai.Analyzer
	Log     logrus.FieldLogger
}

func (c *Comprehensive) logger() logrus.FieldLogger {
	if c.Log == nil {
		return utils.Log
	}
	return c.Log
}

// Check scrapes and searches concurrently, then runs the LLM steps on what
// came back. Individual source failures only add risk; the check fails when
// no source produced data at all.
func (c *Comprehensive) Check(ctx context.Context, req Request) (*Report, error) {
	domain, err := website.NormalizeDomain(req.BusinessWebsite)
	if err != nil {
		return nil, err
	}
	report := &Report{Domain: domain}
	log := c.logger().WithField("domain", domain)

	g, gctx := errgroup.WithContext(ctx)
	if c.Website != nil {
		g.Go(func() error {
			md, err := c.Website.Scrape(gctx, req.BusinessWebsite)
			if err != nil {
				return fmt.Errorf("website: %w", err)
			}
			report.Website = md
			return nil
		})
	}
	if c.News != nil {
		g.Go(func() error {
			articles, err := c.News.Search(gctx, req.BusinessName, domain)
			if err != nil {
				// News is best effort; the scrape keeps running.
				log.Debugf("News search failed: %v", err)
				report.sourceError("news", err)
				return nil
			}
			report.Articles = articles
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if report.Website != nil && !report.Website.Success {
		report.sourceError("website", errors.New(report.Website.Error))
	}

	if c.AI != nil {
		c.analyze(ctx, log, req, report)
	}

	if report.Website == nil && report.Articles == nil {
		return nil, ErrNoData
	}
	report.RiskScore, report.RiskFactors = Score(report)
	return report, nil
}

func (c *Comprehensive) analyze(ctx context.Context, log logrus.FieldLogger, req Request, report *Report) {
	if md := report.Website; md != nil && md.Success {
		text := strings.TrimSpace(strings.Join([]string{md.Title, md.Description, strings.Join(md.Keywords, ", "), md.Text}, "\n"))
		cat, err := c.AI.Categorize(ctx, req.BusinessName, text)
		if err != nil {
			log.Debugf("Categorization failed: %v", err)
			report.sourceError("categorization", err)
		} else {
			report.Categorization = cat
		}
	}

	if len(report.Articles) == 0 {
		return
	}
	texts := make([]string, 0, len(report.Articles))
	for _, a := range report.Articles {
		texts = append(texts, a.Text())
	}
	scores, err := c.AI.SentimentBatch(ctx, texts)
	if err != nil {
		log.Debugf("Sentiment scoring failed: %v", err)
		report.sourceError("sentiment", err)
		return
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	avg := sum / float64(len(scores))
	report.Sentiment = &avg
}
