package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const defaultSearchLimit = 5

// SearXNGSearcher queries a SearXNG instance's JSON API.
type SearXNGSearcher struct {
	baseURL   string
	userAgent string
	apiKey    string
	client    *http.Client
}

// NewSearXNGSearcher leaves request deadlines to the caller's context.
func NewSearXNGSearcher(baseURL, apiKey string) *SearXNGSearcher {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &SearXNGSearcher{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "mneme/0.1",
		apiKey:    strings.TrimSpace(apiKey),
		client:    &http.Client{},
	}
}

func (s *SearXNGSearcher) Name() string {
	return "searxng"
}

type searxngResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type searxngResponse struct {
	Query   string          `json:"query"`
	Results []searxngResult `json:"results"`
}

func (s *SearXNGSearcher) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	endpoint, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + "/search"

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("categories", "general")
	params.Set("safesearch", "1")
	params.Set("count", strconv.Itoa(limit))
	if s.apiKey != "" {
		params.Set("apikey", s.apiKey)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search request failed with status %d", resp.StatusCode)
	}

	var payload searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	hits := make([]Hit, 0, limit)
	for _, res := range payload.Results {
		if len(hits) >= limit {
			break
		}
		hits = append(hits, Hit{
			Title:   strings.TrimSpace(res.Title),
			URL:     strings.TrimSpace(res.URL),
			Snippet: strings.TrimSpace(res.Content),
			Source:  s.Name(),
			Score:   res.Score,
		})
	}
	return hits, nil
}
