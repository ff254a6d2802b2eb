// Package website scrapes public metadata from a business website.
package website

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/weppos/publicsuffix-go/publicsuffix"

	"github.com/lendpath/funnel/pkg/whttp"
)

// maxTextBytes caps the page text handed to the categorizer.
const maxTextBytes = 4000

var (
	ErrInvalidDomain = errors.New("invalid website domain")

	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)

	socialHosts = map[string]string{
		"facebook.com":  "facebook",
		"twitter.com":   "twitter",
		"x.com":         "twitter",
		"linkedin.com":  "linkedin",
		"instagram.com": "instagram",
		"youtube.com":   "youtube",
		"tiktok.com":    "tiktok",
	}
)

// Metadata is what a scrape returns. Success is false when the site could
// not be fetched; Error then holds the reason.
type Metadata struct {
	Domain      string            `json:"domain"`
	URL         string            `json:"url"`
	StatusCode  int               `json:"status_code,omitempty"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Keywords    []string          `json:"keywords,omitempty"`
	Emails      []string          `json:"emails,omitempty"`
	Phones      []string          `json:"phones,omitempty"`
	SocialLinks map[string]string `json:"social_links,omitempty"`
	Text        string            `json:"-"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
}

// HasContactInfo reports whether any email or phone number was found.
func (m *Metadata) HasContactInfo() bool {
	return len(m.Emails) > 0 || len(m.Phones) > 0
}

// Scraper fetches and parses home pages.
type Scraper struct {
	client *retryablehttp.Client
}

func NewScraper(client *retryablehttp.Client) *Scraper {
	return &Scraper{client: client}
}

// NormalizeDomain turns user input such as "https://www.Example.com/about"
// into the site's host ("example.com"). Only a leading "www." is dropped, so
// sites hosted on a subdomain ("acme.wordpress.com", "shop.acme.ca") keep it.
// The host must sit under a registrable domain.
func NormalizeDomain(raw string) (string, error) {
	u, err := parseSite(raw)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

// SiteURL is the page a scrape starts from: the normalized host plus any
// path the user gave, as for "sites.google.com/view/acme".
func SiteURL(raw string) (string, error) {
	u, err := parseSite(raw)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func parseSite(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidDomain
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	host = strings.TrimPrefix(host, "www.")
	if !strings.Contains(host, ".") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, host)
	}
	if _, err := publicsuffix.Domain(host); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}
	return &url.URL{Scheme: "https", Host: host, Path: strings.TrimSuffix(u.Path, "/")}, nil
}

// Scrape fetches the home page of a site. Network and HTTP failures are
// reported through Metadata.Success rather than an error; an error is only
// returned for unusable input.
func (s *Scraper) Scrape(ctx context.Context, raw string) (*Metadata, error) {
	u, err := parseSite(raw)
	if err != nil {
		return nil, err
	}
	return s.scrapeURL(ctx, u.Host, u.String())
}

func (s *Scraper) scrapeURL(ctx context.Context, domain, target string) (*Metadata, error) {
	md := &Metadata{Domain: domain, URL: target}

	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:  "GET",
		URL:     target,
		Headers: []whttp.WHTTPHeader{{Name: "Accept", Value: "text/html"}},
	}, s.client)
	if err != nil {
		md.Error = err.Error()
		return md, nil
	}
	md.StatusCode = res.StatusCode
	if res.FinalURL != "" {
		md.URL = res.FinalURL
	}
	if res.StatusCode >= 400 {
		md.Error = fmt.Sprintf("website returned HTTP %d", res.StatusCode)
		return md, nil
	}

	if err := parseDocument(md, res.BodyString); err != nil {
		md.Error = err.Error()
		return md, nil
	}
	if md.Title == "" {
		md.Title = res.HTTPTitle
	}
	md.Success = true
	return md, nil
}

func parseDocument(md *Metadata, body string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return err
	}

	md.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if md.Title == "" {
		md.Title = metaContent(doc, `meta[property="og:title"]`)
	}
	md.Description = metaContent(doc, `meta[name="description"]`)
	if md.Description == "" {
		md.Description = metaContent(doc, `meta[property="og:description"]`)
	}
	if kw := metaContent(doc, `meta[name="keywords"]`); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				md.Keywords = append(md.Keywords, k)
			}
		}
	}

	emails := make(map[string]bool)
	phones := make(map[string]bool)
	md.SocialLinks = make(map[string]string)

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		switch {
		case strings.HasPrefix(strings.ToLower(href), "mailto:"):
			addr := strings.SplitN(href[len("mailto:"):], "?", 2)[0]
			if addr != "" {
				emails[strings.ToLower(addr)] = true
			}
		case strings.HasPrefix(strings.ToLower(href), "tel:"):
			if num := strings.TrimSpace(href[len("tel:"):]); num != "" {
				phones[num] = true
			}
		default:
			if network, ok := socialNetwork(href); ok {
				if _, exists := md.SocialLinks[network]; !exists {
					md.SocialLinks[network] = href
				}
			}
		}
	})

	doc.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	for _, e := range emailPattern.FindAllString(text, -1) {
		emails[strings.ToLower(e)] = true
	}
	for _, p := range phonePattern.FindAllString(text, 5) {
		phones[strings.TrimSpace(p)] = true
	}
	md.Text = truncateRunes(text, maxTextBytes)

	md.Emails = sortedKeys(emails)
	md.Phones = sortedKeys(phones)
	if len(md.SocialLinks) == 0 {
		md.SocialLinks = nil
	}
	return nil
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

func socialNetwork(href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	network, ok := socialHosts[host]
	return network, ok
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
