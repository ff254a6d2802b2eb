package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

// fakeChat answers every chat completion with reply(userMessage).
func fakeChat(t *testing.T, reply func(user string) (int, string)) *openAIAnalyzer {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req openAIChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.ResponseFormat.Type != "json_object" {
			t.Errorf("unexpected request shape: %+v", req)
		}
		code, content := reply(req.Messages[len(req.Messages)-1].Content)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if code >= 300 {
			_, _ = w.Write([]byte(content))
			return
		}
		resp := map[string]any{"choices": []any{map[string]any{"message": map[string]string{"content": content}}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	a, err := newOpenAIAnalyzer(Config{APIKey: "test-key", Endpoint: srv.URL, MaxConcurrency: 2})
	if err != nil {
		t.Fatalf("newOpenAIAnalyzer: %v", err)
	}
	return a
}

func TestNewAnalyzer(t *testing.T) {
	if _, err := NewAnalyzer(Config{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if _, err := NewAnalyzer(Config{Provider: "anthropic", APIKey: "k"}); err == nil {
		t.Fatal("expected unsupported provider error")
	}
	a, err := NewAnalyzer(Config{Provider: " OpenAI ", APIKey: "k"})
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	oa := a.(*openAIAnalyzer)
	if oa.model != defaultModel || oa.endpoint != defaultEndpoint || oa.maxConcurrency != defaultMaxConcurrency {
		t.Fatalf("defaults not applied: %+v", oa)
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		category string
		conf     float64
		highRisk bool
	}{
		{"plain", `{"category":"Restaurant","confidence":0.9,"high_risk":false}`, "restaurant", 0.9, false},
		{"listed high risk", `{"category":"cannabis","confidence":0.7,"high_risk":false}`, "cannabis", 0.7, true},
		{"model flagged", `{"category":"pawn-shop","confidence":0.6,"high_risk":true}`, "pawn-shop", 0.6, true},
		{"confidence clamped", `{"category":"retail","confidence":1.8}`, "retail", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := fakeChat(t, func(string) (int, string) { return http.StatusOK, tt.content })
			got, err := a.Categorize(context.Background(), "Acme", "We sell things")
			if err != nil {
				t.Fatalf("Categorize: %v", err)
			}
			if got.Category != tt.category || got.Confidence != tt.conf || got.HighRisk != tt.highRisk {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestCategorizeNeedsInput(t *testing.T) {
	a := fakeChat(t, func(string) (int, string) {
		t.Error("no request expected")
		return http.StatusOK, "{}"
	})
	if _, err := a.Categorize(context.Background(), " ", "  "); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestSentiment(t *testing.T) {
	tests := []struct {
		content string
		want    float64
		wantErr bool
	}{
		{`{"score":0.25}`, 0.25, false},
		{`{"score":-3}`, 0, false},
		{`{"score":7}`, 1, false},
		{`{}`, 0, true},
		{`not json`, 0, true},
	}
	for _, tt := range tests {
		a := fakeChat(t, func(string) (int, string) { return http.StatusOK, tt.content })
		got, err := a.Sentiment(context.Background(), "Acme fined by regulator")
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.content)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%s: got %v, %v; want %v", tt.content, got, err, tt.want)
		}
	}
}

func TestSentimentBatchKeepsOrder(t *testing.T) {
	scores := map[string]string{
		"good news":    `{"score":0.9}`,
		"bad news":     `{"score":0.1}`,
		"neutral news": `{"score":0.5}`,
	}
	a := fakeChat(t, func(user string) (int, string) { return http.StatusOK, scores[user] })

	got, err := a.SentimentBatch(context.Background(), []string{"bad news", "good news", "neutral news"})
	if err != nil {
		t.Fatalf("SentimentBatch: %v", err)
	}
	want := []float64{0.1, 0.9, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	if out, err := a.SentimentBatch(context.Background(), nil); out != nil || err != nil {
		t.Fatalf("empty batch: %v, %v", out, err)
	}
}

func TestSentimentBatchFailsOnAnyError(t *testing.T) {
	a := fakeChat(t, func(user string) (int, string) {
		if user == "broken" {
			return http.StatusOK, `{}`
		}
		return http.StatusOK, `{"score":0.5}`
	})
	if _, err := a.SentimentBatch(context.Background(), []string{"fine", "broken", "fine"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestChatAPIError(t *testing.T) {
	a := fakeChat(t, func(string) (int, string) {
		return http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached"}}`
	})
	_, err := a.Sentiment(context.Background(), "text")
	if err == nil || !strings.Contains(err.Error(), "Rate limit reached") {
		t.Fatalf("expected API message, got %v", err)
	}

	a = fakeChat(t, func(string) (int, string) { return http.StatusBadGateway, "" })
	_, err = a.Sentiment(context.Background(), "text")
	if err == nil || !strings.Contains(err.Error(), "HTTP 502") {
		t.Fatalf("expected status error, got %v", err)
	}

	a = fakeChat(t, func(string) (int, string) { return http.StatusOK, "  " })
	if _, err = a.Sentiment(context.Background(), "text"); err == nil {
		t.Fatal("expected empty response error")
	}
}

func TestIsHighRisk(t *testing.T) {
	for _, c := range []string{"gambling", " Cannabis ", "MONEY-SERVICES"} {
		if !IsHighRisk(c) {
			t.Errorf("IsHighRisk(%q) = false", c)
		}
	}
	if IsHighRisk("bakery") {
		t.Error("bakery should not be high risk")
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("€", 3000)
	got := truncate(s, 4000)
	if !utf8.ValidString(got) || len(got) != 3999 {
		t.Fatalf("truncate gave %d bytes, valid = %v", len(got), utf8.ValidString(got))
	}
	if truncate("abc", 10) != "abc" {
		t.Fatal("short input changed")
	}
}
