package provider

import (
	"context"
	"fmt"
	"strings"
)

// Method names understood by the core.
const (
	MethodGenerate = "generate"
	MethodSearch   = "search"
	MethodEmbed    = "embed"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response represents the output from the model.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider defines the interface for AI model interactions.
type Provider interface {
	// Chat sends a list of messages to the model and returns a response.
	Chat(ctx context.Context, messages []Message) (*Response, error)

	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider identifier (e.g., "stub", "openai").
	Name() string
}

// Streamer is implemented by providers that can deliver a response piece by piece.
type Streamer interface {
	Stream(ctx context.Context, messages []Message, onPiece func(string)) (*Response, error)
}

// Searcher performs retrieval over an external index.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
}

// Request is the payload of a single adapter call. It is JSON-encoded when an
// operation is parked in the outbox, so it must stay plain data.
type Request struct {
	Prompt   string            `json:"prompt,omitempty"`
	Messages []Message         `json:"messages,omitempty"`
	Query    string            `json:"query,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

// Conversation returns the request as chat messages.
func (r Request) Conversation() []Message {
	msgs := append([]Message(nil), r.Messages...)
	if r.Prompt != "" {
		msgs = append(msgs, Message{Role: "user", Content: r.Prompt})
	}
	return msgs
}

// Hit is one retrieval or search result.
type Hit struct {
	ID      string  `json:"id,omitempty"`
	Title   string  `json:"title,omitempty"`
	URL     string  `json:"url,omitempty"`
	Snippet string  `json:"snippet"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// Result is the outcome of a single adapter call.
type Result struct {
	Text   string    `json:"text,omitempty"`
	Hits   []Hit     `json:"hits,omitempty"`
	Vector []float32 `json:"vector,omitempty"`
	Usage  Usage     `json:"usage"`
}

// Method is one callable capability of an adapter. onPiece may be nil.
type Method func(ctx context.Context, req Request, onPiece func(string)) (*Result, error)

// Adapter is a named capability registered with the Registry.
type Adapter interface {
	Name() string
	Method(name string) (Method, bool)
}

// Methods is a map-backed Adapter.
type Methods struct {
	name    string
	methods map[string]Method
}

// NewAdapter builds an adapter from a fixed method table.
func NewAdapter(name string, methods map[string]Method) *Methods {
	table := make(map[string]Method, len(methods))
	for k, m := range methods {
		if m != nil {
			table[k] = m
		}
	}
	return &Methods{name: name, methods: table}
}

func (m *Methods) Name() string { return m.name }

func (m *Methods) Method(name string) (Method, bool) {
	fn, ok := m.methods[name]
	return fn, ok
}

// NewChatAdapter exposes a Provider as generate and embed methods.
// Generation streams when onPiece is set and the provider implements Streamer.
func NewChatAdapter(name string, p Provider) *Methods {
	return NewAdapter(name, map[string]Method{
		MethodGenerate: func(ctx context.Context, req Request, onPiece func(string)) (*Result, error) {
			msgs := req.Conversation()
			if len(msgs) == 0 {
				return nil, fmt.Errorf("%s: empty prompt", p.Name())
			}

			var resp *Response
			var err error
			if s, ok := p.(Streamer); ok && onPiece != nil {
				resp, err = s.Stream(ctx, msgs, onPiece)
			} else {
				resp, err = p.Chat(ctx, msgs)
				if err == nil && onPiece != nil && resp != nil {
					onPiece(resp.Content)
				}
			}
			if err != nil {
				return nil, err
			}
			return &Result{Text: strings.TrimSpace(resp.Content), Usage: resp.Usage}, nil
		},
		MethodEmbed: func(ctx context.Context, req Request, _ func(string)) (*Result, error) {
			text := req.Prompt
			if text == "" {
				text = req.Query
			}
			vec, err := p.Embed(ctx, text)
			if err != nil {
				return nil, err
			}
			return &Result{Vector: vec}, nil
		},
	})
}

// NewSearchAdapter exposes a Searcher as the search method.
func NewSearchAdapter(name string, s Searcher) *Methods {
	return NewAdapter(name, map[string]Method{
		MethodSearch: func(ctx context.Context, req Request, _ func(string)) (*Result, error) {
			query := req.Query
			if query == "" {
				query = req.Prompt
			}
			hits, err := s.Search(ctx, query, req.Limit)
			if err != nil {
				return nil, err
			}
			return &Result{Hits: hits}, nil
		},
	})
}
