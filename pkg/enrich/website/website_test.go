package website

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/lendpath/funnel/pkg/whttp"
)

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"https://www.Example.com/about", "example.com"},
		{"  shop.acme.co.uk  ", "shop.acme.co.uk"},
		{"http://acme.ca:8080", "acme.ca"},
		{"www.acme.ca.", "acme.ca"},
		{"shop.acme.ca", "shop.acme.ca"},
		{"https://acme.wordpress.com", "acme.wordpress.com"},
		{"acme.business.site", "acme.business.site"},
		{"https://sites.google.com/view/acme", "sites.google.com"},
	}
	for _, tt := range tests {
		got, err := NormalizeDomain(tt.in)
		if err != nil {
			t.Errorf("NormalizeDomain(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	for _, in := range []string{"", "   ", "localhost", "http://", "co.uk"} {
		if _, err := NormalizeDomain(in); !errors.Is(err, ErrInvalidDomain) {
			t.Errorf("NormalizeDomain(%q) = %v, want ErrInvalidDomain", in, err)
		}
	}
}

func TestSiteURLKeepsPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"acme.ca", "https://acme.ca"},
		{"http://www.acme.ca/", "https://acme.ca"},
		{"sites.google.com/view/Acme/", "https://sites.google.com/view/Acme"},
		{"https://acme.wordpress.com/?ref=ad", "https://acme.wordpress.com"},
	}
	for _, tt := range tests {
		got, err := SiteURL(tt.in)
		if err != nil {
			t.Errorf("SiteURL(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SiteURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	s := strings.Repeat("é", 3000)
	got := truncateRunes(s, maxTextBytes)
	if !utf8.ValidString(got) || len(got) > maxTextBytes || len(got) < maxTextBytes-3 {
		t.Fatalf("truncated to %d bytes, valid = %v", len(got), utf8.ValidString(got))
	}
	if truncateRunes("short", maxTextBytes) != "short" {
		t.Fatal("short text changed")
	}

	md := &Metadata{}
	if err := parseDocument(md, "<html><body><p>"+strings.Repeat("日本", 1000)+"</p></body></html>"); err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(md.Text) || len(md.Text) > maxTextBytes {
		t.Fatalf("page text is %d bytes, valid = %v", len(md.Text), utf8.ValidString(md.Text))
	}
}

const homePage = `<html><head>
<title> Acme Widgets </title>
<meta name="description" content="Industrial widgets since 1990">
<meta name="keywords" content="widgets, gears, ,sprockets">
</head><body>
<a href="mailto:Info@Acme.ca?subject=hi">Email</a>
<a href="tel:+1-416-555-0100">Call</a>
<a href="https://www.facebook.com/acme">Facebook</a>
<a href="https://facebook.com/other">Other</a>
<a href="https://linkedin.com/company/acme">LinkedIn</a>
<script>var x = "hidden@tracker.io";</script>
<p>Write to sales@acme.ca or call (905) 555-0199.</p>
</body></html>`

func TestParseDocument(t *testing.T) {
	md := &Metadata{}
	if err := parseDocument(md, homePage); err != nil {
		t.Fatalf("parseDocument: %v", err)
	}
	if md.Title != "Acme Widgets" || md.Description != "Industrial widgets since 1990" {
		t.Fatalf("title/description: %q / %q", md.Title, md.Description)
	}
	if want := []string{"widgets", "gears", "sprockets"}; !reflect.DeepEqual(md.Keywords, want) {
		t.Errorf("keywords = %v", md.Keywords)
	}
	if want := []string{"info@acme.ca", "sales@acme.ca"}; !reflect.DeepEqual(md.Emails, want) {
		t.Errorf("emails = %v", md.Emails)
	}
	if want := []string{"(905) 555-0199", "+1-416-555-0100"}; !reflect.DeepEqual(md.Phones, want) {
		t.Errorf("phones = %v", md.Phones)
	}
	if md.SocialLinks["facebook"] != "https://www.facebook.com/acme" || md.SocialLinks["linkedin"] == "" {
		t.Errorf("social links = %v", md.SocialLinks)
	}
	if !md.HasContactInfo() {
		t.Error("expected contact info")
	}
}

func TestParseDocumentOGFallback(t *testing.T) {
	md := &Metadata{}
	body := `<html><head><meta property="og:title" content="OG Title"><meta property="og:description" content="OG desc"></head><body>nothing here</body></html>`
	if err := parseDocument(md, body); err != nil {
		t.Fatal(err)
	}
	if md.Title != "OG Title" || md.Description != "OG desc" {
		t.Fatalf("got %q / %q", md.Title, md.Description)
	}
	if md.HasContactInfo() || md.SocialLinks != nil {
		t.Fatalf("unexpected contact info: %+v", md)
	}
}

func TestScrapeURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(homePage))
	}))
	defer srv.Close()

	s := NewScraper(whttp.NewClient(0, 0))

	md, err := s.scrapeURL(context.Background(), "acme.ca", srv.URL)
	if err != nil {
		t.Fatalf("scrapeURL: %v", err)
	}
	if !md.Success || md.StatusCode != 200 || md.Domain != "acme.ca" || md.Text == "" {
		t.Fatalf("unexpected metadata: %+v", md)
	}

	md, err = s.scrapeURL(context.Background(), "acme.ca", srv.URL+"/missing")
	if err != nil {
		t.Fatalf("scrapeURL: %v", err)
	}
	if md.Success || md.Error != "website returned HTTP 404" {
		t.Fatalf("expected failed scrape, got %+v", md)
	}

	srv.Close()
	md, err = s.scrapeURL(context.Background(), "acme.ca", srv.URL)
	if err != nil {
		t.Fatalf("unreachable site must not be an error: %v", err)
	}
	if md.Success || md.Error == "" {
		t.Fatalf("expected unreachable result, got %+v", md)
	}
}

func TestScrapeRejectsBadDomain(t *testing.T) {
	s := NewScraper(nil)
	if _, err := s.Scrape(context.Background(), "not a domain"); !errors.Is(err, ErrInvalidDomain) {
		t.Fatalf("expected ErrInvalidDomain, got %v", err)
	}
}
