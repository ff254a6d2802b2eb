package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/lendpath/funnel/internal/utils"
)

// Config controls how the AI analyzer behaves.
type Config struct {
	Provider       string
	APIKey         string
	Model          string
	Endpoint       string
	MaxConcurrency int
	HTTPClient     *http.Client
}

// Categorization is the LLM's verdict on what a business does.
type Categorization struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	HighRisk   bool    `json:"high_risk"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Analyzer defines the LLM-backed operations used by compliance checks.
type Analyzer interface {
	// Categorize classifies business text into an industry category.
	Categorize(ctx context.Context, businessName, text string) (*Categorization, error)
	// Sentiment scores text from 0.0 (very negative) to 1.0 (very positive).
	Sentiment(ctx context.Context, text string) (float64, error)
	// SentimentBatch scores several texts, preserving order.
	SentimentBatch(ctx context.Context, texts []string) ([]float64, error)
}

const (
	defaultProvider       = "openai"
	defaultModel          = "gpt-4.1-mini"
	defaultEndpoint       = "https://api.openai.com/v1/chat/completions"
	defaultMaxConcurrency = 4
)

var ErrMissingAPIKey = errors.New("ai analysis requires an API key (set openai.api_key in config or FUNNEL_OPENAI_API_KEY)")

// HighRiskCategories are industries that raise the compliance risk score.
var HighRiskCategories = []string{
	"gambling",
	"cannabis",
	"cryptocurrency",
	"adult-entertainment",
	"firearms",
	"payday-lending",
	"money-services",
}

// NewAnalyzer builds a concrete Analyzer implementation based on the provided config.
func NewAnalyzer(cfg Config) (Analyzer, error) {
	cfg.Provider = strings.TrimSpace(strings.ToLower(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = defaultProvider
	}

	switch cfg.Provider {
	case "openai":
		return newOpenAIAnalyzer(cfg)
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
	}
}

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type openAIAnalyzer struct {
	apiKey         string
	model          string
	endpoint       string
	maxConcurrency int
	client         httpClient
}

func newOpenAIAnalyzer(cfg Config) (*openAIAnalyzer, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 45 * time.Second}
	}

	return &openAIAnalyzer{
		apiKey:         apiKey,
		model:          model,
		endpoint:       endpoint,
		maxConcurrency: maxConcurrency,
		client:         httpClient,
	}, nil
}

func (a *openAIAnalyzer) Categorize(ctx context.Context, businessName, text string) (*Categorization, error) {
	text = strings.TrimSpace(text)
	if text == "" && strings.TrimSpace(businessName) == "" {
		return nil, errors.New("nothing to categorize")
	}

	payload, err := json.Marshal(categorizeInput{BusinessName: businessName, Text: truncate(text, 6000)})
	if err != nil {
		return nil, err
	}

	content, err := a.chat(ctx, categorizePrompt, string(payload))
	if err != nil {
		return nil, err
	}

	var parsed Categorization
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("unable to parse AI response: %w", err)
	}
	parsed.Category = strings.TrimSpace(strings.ToLower(parsed.Category))
	parsed.Confidence = clamp01(parsed.Confidence)
	parsed.HighRisk = parsed.HighRisk || IsHighRisk(parsed.Category)
	return &parsed, nil
}

func (a *openAIAnalyzer) Sentiment(ctx context.Context, text string) (float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, errors.New("nothing to score")
	}

	content, err := a.chat(ctx, sentimentPrompt, truncate(text, 4000))
	if err != nil {
		return 0, err
	}

	var parsed struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return 0, fmt.Errorf("unable to parse AI response: %w", err)
	}
	if parsed.Score == nil {
		return 0, errors.New("ai sentiment response has no score")
	}
	return clamp01(*parsed.Score), nil
}

func (a *openAIAnalyzer) SentimentBatch(ctx context.Context, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	utils.Log.Debugf("[ai] scoring sentiment for %d texts", len(texts))

	results := make([]float64, len(texts))
	sem := make(chan struct{}, a.maxConcurrency)

	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

	for i, text := range texts {
		wg.Add(1)
		go func(idx int, t string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			score, err := a.Sentiment(ctx, t)
			if err != nil {
				utils.Log.Debugf("[ai] sentiment %d failed: %v", idx, err)
				errOnce.Do(func() { firstErr = err })
				return
			}
			results[idx] = score
		}(i, text)
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func (a *openAIAnalyzer) chat(ctx context.Context, system, user string) (string, error) {
	reqBody := openAIChatRequest{
		Model: a.model,
		Messages: []openAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0.1,
		ResponseFormat: openAIResponseFormat{Type: "json_object"},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErrResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErrResp)
		if apiErrResp.Error.Message != "" {
			return "", fmt.Errorf("ai analysis: %s", apiErrResp.Error.Message)
		}
		return "", fmt.Errorf("ai analysis failed with HTTP %d", resp.StatusCode)
	}

	var apiResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", err
	}

	if len(apiResp.Choices) == 0 || strings.TrimSpace(apiResp.Choices[0].Message.Content) == "" {
		return "", errors.New("ai analysis returned an empty response")
	}

	return strings.TrimSpace(apiResp.Choices[0].Message.Content), nil
}

// IsHighRisk reports whether category is one of HighRiskCategories.
func IsHighRisk(category string) bool {
	category = strings.TrimSpace(strings.ToLower(category))
	for _, c := range HighRiskCategories {
		if c == category {
			return true
		}
	}
	return false
}

const categorizePrompt = `You classify small businesses for a lender's compliance review.

You receive JSON with "business_name" and "text" scraped from the business website.
Pick the single best industry category, lowercase and hyphenated (for example
"restaurant", "construction", "retail", "software", "gambling", "cannabis",
"cryptocurrency", "adult-entertainment", "firearms", "payday-lending", "money-services").

Return ONLY JSON following this schema:
{"category": "string", "confidence": 0.0, "high_risk": false, "reasoning": "one sentence"}

confidence is between 0 and 1. Set high_risk to true for regulated or restricted industries.`

const sentimentPrompt = `You score news coverage about a business for a lender's adverse-media review.

Read the article text and rate how favourable it is to the business:
0.0 means very negative (fraud, lawsuits, bankruptcy, regulatory action),
0.5 is neutral, 1.0 is very positive.

Return ONLY JSON following this schema:
{"score": 0.5}`

type openAIChatRequest struct {
	Model          string               `json:"model"`
	Messages       []openAIMessage      `json:"messages"`
	Temperature    float64              `json:"temperature"`
	ResponseFormat openAIResponseFormat `json:"response_format"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type categorizeInput struct {
	BusinessName string `json:"business_name"`
	Text         string `json:"text"`
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
