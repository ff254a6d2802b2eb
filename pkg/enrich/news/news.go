// Package news searches recent press coverage of a business.
package news

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/lendpath/funnel/pkg/whttp"
)

const (
	DefaultEndpoint = "https://newsapi.org/v2/everything"
	defaultPageSize = 10
)

var ErrMissingAPIKey = errors.New("news search requires an API key (set newsapi.key in config or FUNNEL_NEWSAPI_KEY)")

type Article struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Text is the snippet handed to sentiment analysis.
func (a Article) Text() string {
	if a.Description == "" {
		return a.Title
	}
	return a.Title + ". " + a.Description
}

type Config struct {
	APIKey   string
	Endpoint string
	PageSize int
	Client   *retryablehttp.Client
}

type Client struct {
	apiKey   string
	endpoint string
	pageSize int
	client   *retryablehttp.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		endpoint: cfg.Endpoint,
		pageSize: cfg.PageSize,
		client:   cfg.Client,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.pageSize <= 0 || c.pageSize > 100 {
		c.pageSize = defaultPageSize
	}
	return c, nil
}

// Search returns at most the configured page size of articles mentioning
// businessName, or domain when given.
func (c *Client) Search(ctx context.Context, businessName, domain string) ([]Article, error) {
	businessName = strings.TrimSpace(businessName)
	domain = strings.TrimSpace(domain)
	if businessName == "" && domain == "" {
		return nil, errors.New("news search needs a business name or domain")
	}

	var terms []string
	if businessName != "" {
		terms = append(terms, strconv.Quote(businessName))
	}
	if domain != "" {
		terms = append(terms, strconv.Quote(domain))
	}

	q := url.Values{}
	q.Set("q", strings.Join(terms, " OR "))
	q.Set("language", "en")
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", strconv.Itoa(c.pageSize))

	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:  "GET",
		URL:     c.endpoint + "?" + q.Encode(),
		Headers: []whttp.WHTTPHeader{{Name: "X-Api-Key", Value: c.apiKey}},
	}, c.client)
	if err != nil {
		return nil, fmt.Errorf("news search: %w", err)
	}

	if status := gjson.Get(res.BodyString, "status").Str; res.StatusCode >= 300 || status == "error" {
		if msg := gjson.Get(res.BodyString, "message").Str; msg != "" {
			return nil, fmt.Errorf("news search: %s", msg)
		}
		return nil, fmt.Errorf("news search failed with HTTP %d", res.StatusCode)
	}

	return parseArticles(res.BodyString, c.pageSize), nil
}

func parseArticles(body string, limit int) []Article {
	var out []Article
	for _, a := range gjson.Get(body, "articles").Array() {
		if len(out) >= limit {
			break
		}
		title := strings.TrimSpace(a.Get("title").Str)
		if title == "" || title == "[Removed]" {
			continue
		}
		art := Article{
			Title:       title,
			Description: strings.TrimSpace(a.Get("description").Str),
			URL:         a.Get("url").Str,
			Source:      a.Get("source.name").Str,
		}
		if t, err := time.Parse(time.RFC3339, a.Get("publishedAt").Str); err == nil {
			art.PublishedAt = t
		}
		out = append(out, art)
	}
	return out
}
