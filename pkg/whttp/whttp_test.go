package whttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendHTTPRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><head><title>\n Acme \r\n</title></head><body>hi</body></html>"))
		case "/echo":
			if r.Header.Get("Content-Type") != "application/json" || r.Header.Get("X-Test") != "1" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			b, _ := io.ReadAll(r.Body)
			_, _ = w.Write(b)
		case "/old":
			http.Redirect(w, r, "/page", http.StatusMovedPermanently)
		}
	}))
	defer srv.Close()

	c := NewClient(0, 0)

	res, err := SendHTTPRequest(context.Background(), &WHTTPReq{URL: srv.URL + "/page"}, c)
	if err != nil {
		t.Fatalf("SendHTTPRequest: %v", err)
	}
	if res.StatusCode != 200 || res.HTTPTitle != "Acme" {
		t.Fatalf("got status %d title %q", res.StatusCode, res.HTTPTitle)
	}

	res, err = SendHTTPRequest(context.Background(), &WHTTPReq{
		Method:  http.MethodPost,
		URL:     srv.URL + "/echo",
		Headers: []WHTTPHeader{{Name: "X-Test", Value: "1"}},
		Body:    []byte(`{"a":1}`),
	}, c)
	if err != nil {
		t.Fatalf("SendHTTPRequest: %v", err)
	}
	if res.StatusCode != 200 || res.BodyString != `{"a":1}` || res.HTTPTitle != "" {
		t.Fatalf("unexpected echo response: %+v", res)
	}

	res, err = SendHTTPRequest(context.Background(), &WHTTPReq{URL: srv.URL + "/old"}, c)
	if err != nil {
		t.Fatalf("SendHTTPRequest: %v", err)
	}
	if res.FinalURL != srv.URL+"/page" {
		t.Fatalf("FinalURL = %q", res.FinalURL)
	}
}

func TestSendHTTPRequestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := SendHTTPRequest(ctx, &WHTTPReq{URL: "http://127.0.0.1:1/"}, nil); err == nil {
		t.Fatal("expected error")
	}
}
