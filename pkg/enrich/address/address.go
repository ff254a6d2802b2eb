// Package address wraps the Geoapify autocomplete API.
package address

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/lendpath/funnel/pkg/whttp"
)

const DefaultEndpoint = "https://api.geoapify.com/v1/geocode/autocomplete"

var ErrMissingAPIKey = errors.New("address autocomplete requires an API key (set geoapify.key in config or FUNNEL_GEOAPIFY_KEY)")

// minQueryLength mirrors the point at which suggestions become useful.
const minQueryLength = 3

type Suggestion struct {
	Formatted    string  `json:"formatted"`
	AddressLine1 string  `json:"address_line1,omitempty"`
	City         string  `json:"city,omitempty"`
	Province     string  `json:"province,omitempty"`
	PostalCode   string  `json:"postal_code,omitempty"`
	Country      string  `json:"country,omitempty"`
	Lat          float64 `json:"lat,omitempty"`
	Lon          float64 `json:"lon,omitempty"`
}

type Client struct {
	apiKey   string
	endpoint string
	limit    int
	client   *retryablehttp.Client
}

func NewClient(apiKey, endpoint string, client *retryablehttp.Client) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{apiKey: apiKey, endpoint: endpoint, limit: 5, client: client}, nil
}

// Autocomplete returns ranked Canadian address suggestions for partial text.
// Inputs shorter than three characters yield no suggestions.
func (c *Client) Autocomplete(ctx context.Context, text string) ([]Suggestion, error) {
	text = strings.TrimSpace(text)
	if len(text) < minQueryLength {
		return nil, nil
	}

	q := url.Values{}
	q.Set("text", text)
	q.Set("filter", "countrycode:ca")
	q.Set("format", "json")
	q.Set("limit", strconv.Itoa(c.limit))
	q.Set("apiKey", c.apiKey)

	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{Method: "GET", URL: c.endpoint + "?" + q.Encode()}, c.client)
	if err != nil {
		return nil, fmt.Errorf("address autocomplete: %w", err)
	}
	if res.StatusCode >= 300 {
		if msg := gjson.Get(res.BodyString, "message").Str; msg != "" {
			return nil, fmt.Errorf("address autocomplete: %s", msg)
		}
		return nil, fmt.Errorf("address autocomplete failed with HTTP %d", res.StatusCode)
	}

	var out []Suggestion
	for _, r := range gjson.Get(res.BodyString, "results").Array() {
		out = append(out, Suggestion{
			Formatted:    r.Get("formatted").Str,
			AddressLine1: r.Get("address_line1").Str,
			City:         r.Get("city").Str,
			Province:     r.Get("state_code").Str,
			PostalCode:   r.Get("postcode").Str,
			Country:      r.Get("country_code").Str,
			Lat:          r.Get("lat").Float(),
			Lon:          r.Get("lon").Float(),
		})
	}
	return out, nil
}
