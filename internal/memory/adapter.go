package memory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/felixgeelhaar/mneme/internal/provider"
)

const (
	AdapterName    = "retrieval"
	MethodRemember = "remember"

	defaultRecallLimit = 5
)

// AsAdapter exposes s as the retrieval provider. search takes Query (or
// Prompt) and Limit; remember stores Prompt, reading sentiment, category and
// pinned from Options, and returns the new id as Text.
func AsAdapter(s *Store) provider.Adapter {
	return provider.NewAdapter(AdapterName, map[string]provider.Method{
		provider.MethodSearch: func(ctx context.Context, req provider.Request, _ func(string)) (*provider.Result, error) {
			query := req.Query
			if query == "" {
				query = req.Prompt
			}
			limit := req.Limit
			if limit <= 0 {
				limit = defaultRecallLimit
			}
			matches, err := s.FindSimilar(ctx, query, limit)
			if err != nil {
				return nil, err
			}
			hits := make([]provider.Hit, len(matches))
			for i, m := range matches {
				hits[i] = provider.Hit{
					ID:      m.Record.ID,
					Snippet: m.Record.Text,
					Source:  string(m.Record.Tier),
					Score:   m.Score,
				}
			}
			return &provider.Result{Hits: hits}, nil
		},
		MethodRemember: func(ctx context.Context, req provider.Request, _ func(string)) (*provider.Result, error) {
			meta := Meta{
				Category:   Category(req.Options["category"]),
				Pinned:     req.Options["pinned"] == "true",
				Attributes: req.Options,
			}
			if raw, ok := req.Options["sentiment"]; ok {
				v, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid sentiment %q: %w", raw, err)
				}
				meta.Sentiment = v
			}
			r, err := s.Remember(ctx, req.Prompt, meta)
			if err != nil {
				return nil, err
			}
			return &provider.Result{Text: r.ID}, nil
		},
	})
}
