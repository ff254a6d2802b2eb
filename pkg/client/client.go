// Package client talks to the funnel API started by "funnel serve".
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/lendpath/funnel/pkg/compliance"
	"github.com/lendpath/funnel/pkg/enrich/address"
	"github.com/lendpath/funnel/pkg/enrich/registry"
	"github.com/lendpath/funnel/pkg/storage"
	"github.com/lendpath/funnel/pkg/submission"
	"github.com/lendpath/funnel/pkg/whttp"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets callers match 404s with errors.Is(err, storage.ErrNotFound).
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return storage.ErrNotFound
	}
	return nil
}

type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

type Client struct {
	baseURL string
	auth    string
	// reads retries transient failures; writes are sent once.
	reads  *retryablehttp.Client
	writes *retryablehttp.Client
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("api base url is empty (set api.base_url in config or FUNNEL_API_BASE_URL)")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: base,
		reads:   whttp.NewClient(2, timeout),
		writes:  whttp.NewClient(0, timeout),
	}
	if cfg.Username != "" {
		c.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Username+":"+cfg.Password))
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	req := &whttp.WHTTPReq{
		Method:  method,
		URL:     c.baseURL + path,
		Headers: []whttp.WHTTPHeader{{Name: "Accept", Value: "application/json"}},
	}
	if c.auth != "" {
		req.Headers = append(req.Headers, whttp.WHTTPHeader{Name: "Authorization", Value: c.auth})
	}
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		req.Body = b
	}

	hc := c.reads
	if method != http.MethodGet {
		hc = c.writes
	}
	res, err := whttp.SendHTTPRequest(ctx, req, hc)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{StatusCode: res.StatusCode, Message: gjson.Get(res.BodyString, "error").String()}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(res.BodyString), out); err != nil {
		return fmt.Errorf("could not decode API response: %w", err)
	}
	return nil
}

func (c *Client) CreateApplication(ctx context.Context, p submission.Payload) (*storage.Application, error) {
	var a storage.Application
	if err := c.do(ctx, http.MethodPost, "/api/applications", p, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) GetApplication(ctx context.Context, id int64) (*storage.Application, error) {
	var a storage.Application
	if err := c.do(ctx, http.MethodGet, "/api/applications/"+strconv.FormatInt(id, 10), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) ListApplications(ctx context.Context, page, limit int) (*storage.ApplicationPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	var p storage.ApplicationPage
	if err := c.do(ctx, http.MethodGet, "/api/applications?"+q.Encode(), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) UpdateApplicationStatus(ctx context.Context, id int64, status string) (*storage.Application, error) {
	var a storage.Application
	body := map[string]string{"status": status}
	if err := c.do(ctx, http.MethodPatch, "/api/applications/"+strconv.FormatInt(id, 10)+"/status", body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) ListComplianceChecks(ctx context.Context, applicationID int64) ([]storage.ComplianceCheck, error) {
	var out []storage.ComplianceCheck
	path := "/api/applications/" + strconv.FormatInt(applicationID, 10) + "/compliance-checks"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetComplianceCheck(ctx context.Context, id string) (*storage.ComplianceCheck, error) {
	var out storage.ComplianceCheck
	if err := c.do(ctx, http.MethodGet, "/api/compliance-checks/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpsertUser(ctx context.Context, u storage.User) (*storage.User, error) {
	var out storage.User
	if err := c.do(ctx, http.MethodPost, "/api/users/upsert", u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Stats(ctx context.Context) (*storage.Stats, error) {
	var out storage.Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SearchRegistry(ctx context.Context, query string) ([]registry.Match, error) {
	var out []registry.Match
	if err := c.do(ctx, http.MethodGet, "/api/registry/search?q="+url.QueryEscape(query), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Autocomplete(ctx context.Context, text string) ([]address.Suggestion, error) {
	var out []address.Suggestion
	if err := c.do(ctx, http.MethodGet, "/api/address/autocomplete?text="+url.QueryEscape(text), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartComprehensiveCheck asks the API to run a comprehensive compliance
// check and returns the pending check id. It implements compliance.Starter.
func (c *Client) StartComprehensiveCheck(ctx context.Context, req compliance.Request) (string, error) {
	var out storage.ComplianceCheck
	if err := c.do(ctx, http.MethodPost, "/api/compliance/comprehensive", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}
