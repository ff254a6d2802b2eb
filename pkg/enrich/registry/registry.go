// Package registry looks up legal entities in the Canadian business registry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/lendpath/funnel/pkg/whttp"
)

const (
	DefaultEndpoint = "https://ised-isde.canada.ca/cbr/srch/api/v1/search"
	maxResults      = 10
)

var ErrEmptyQuery = errors.New("registry search needs a business name")

// Match is one candidate legal entity.
type Match struct {
	LegalName         string  `json:"legal_name"`
	BusinessNumber    string  `json:"business_number,omitempty"`
	IncorporationDate string  `json:"incorporation_date,omitempty"`
	Jurisdiction      string  `json:"jurisdiction,omitempty"`
	Status            string  `json:"status,omitempty"`
	City              string  `json:"city,omitempty"`
	Score             float64 `json:"score"`
}

type Client struct {
	endpoint string
	client   *retryablehttp.Client
}

func NewClient(endpoint string, client *retryablehttp.Client) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{endpoint: endpoint, client: client}
}

// Search returns registry candidates for a free-text business name, best
// match first.
func (c *Client) Search(ctx context.Context, query string) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	q := url.Values{}
	q.Set("fq", "keyword:{"+query+"}")
	q.Set("lang", "en")
	q.Set("queryaction", "fieldquery")
	q.Set("sortfield", "score")
	q.Set("sortorder", "desc")

	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:  "GET",
		URL:     c.endpoint + "?" + q.Encode(),
		Headers: []whttp.WHTTPHeader{{Name: "Accept", Value: "application/json"}},
	}, c.client)
	if err != nil {
		return nil, fmt.Errorf("registry search: %w", err)
	}
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("registry search failed with HTTP %d", res.StatusCode)
	}

	return rankMatches(query, parseMatches(res.BodyString)), nil
}

func parseMatches(body string) []Match {
	var out []Match
	for _, d := range gjson.Get(body, "docs").Array() {
		name := strings.TrimSpace(firstString(d, "Company_Name", "company_name"))
		if name == "" {
			continue
		}
		out = append(out, Match{
			LegalName:         name,
			BusinessNumber:    firstString(d, "BN", "business_number"),
			IncorporationDate: firstString(d, "Date_Incorporated", "incorporation_date"),
			Jurisdiction:      firstString(d, "Jurisdiction", "jurisdiction"),
			Status:            firstString(d, "Status_State", "status"),
			City:              firstString(d, "Reg_office_city", "city"),
		})
	}
	return out
}

// firstString reads the first non-empty of keys; the registry returns
// single-valued fields either as strings or one-element arrays.
func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		v := r.Get(k)
		if v.IsArray() {
			v = v.Get("0")
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}

func rankMatches(query string, matches []Match) []Match {
	q := normalizeName(query)
	for i := range matches {
		matches[i].Score = similarity(q, normalizeName(matches[i].LegalName))
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches
}

var legalSuffixes = []string{" incorporated", " inc", " ltd", " limited", " corp", " corporation", " ltee", " llc", " co"}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(".", "", ",", "", "'", "").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	for _, suf := range legalSuffixes {
		s = strings.TrimSuffix(s, suf)
	}
	return s
}

func similarity(q, name string) float64 {
	switch {
	case q == name:
		return 1.0
	case strings.HasPrefix(name, q):
		return 0.8
	case strings.Contains(name, q):
		return 0.6
	}
	qWords := strings.Fields(q)
	if len(qWords) == 0 {
		return 0
	}
	hits := 0
	for _, w := range qWords {
		if strings.Contains(name, w) {
			hits++
		}
	}
	return 0.5 * float64(hits) / float64(len(qWords))
}
