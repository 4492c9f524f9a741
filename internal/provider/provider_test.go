package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func TestOpenAIProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"content": "hello", "role": "assistant"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	p, _ := NewOpenAIProvider("test-key", server.URL, "gpt-4")
	if p.Name() != "openai" {
		t.Errorf("Expected 'openai', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Expected 'hello', got '%s'", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestOpenAIProvider_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p, _ := NewOpenAIProvider("test-key", server.URL, "gpt-4")

	var pieces []string
	resp, err := p.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}}, func(s string) {
		pieces = append(pieces, s)
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Expected 'hello', got '%s'", resp.Content)
	}
	if strings.Join(pieces, "|") != "hel|lo" {
		t.Errorf("Expected pieces 'hel|lo', got '%s'", strings.Join(pieces, "|"))
	}
}

func TestOpenAIProvider_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}]}`))
	}))
	defer server.Close()

	p, _ := NewOpenAIProvider("test-key", server.URL, "")
	vec, err := p.Embed(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("Expected [0.5 0.25], got %v", vec)
	}
}

func TestOpenAIProvider_Init(t *testing.T) {
	_, err := NewOpenAIProvider("", "", "")
	if err == nil {
		t.Error("Expected error for empty key")
	}
}

func TestOllamaProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message": {"role": "assistant", "content": "hi from ollama"}, "done": true, "eval_count": 10, "prompt_eval_count": 5}`))
	}))
	defer server.Close()

	p, err := NewOllamaProvider(server.URL, "llama3")
	if err != nil {
		t.Fatalf("NewOllamaProvider failed: %v", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("Expected 'ollama', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hi from ollama" {
		t.Errorf("Expected 'hi from ollama', got '%s'", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestOllamaProvider_HostFromEnv(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message": {"role": "assistant", "content": "env host"}, "done": true}`))
	}))
	defer server.Close()

	os.Setenv("OLLAMA_HOST", server.URL)
	defer os.Unsetenv("OLLAMA_HOST")

	p, err := NewOllamaProvider("", "")
	if err != nil {
		t.Fatalf("NewOllamaProvider failed: %v", err)
	}
	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "env host" {
		t.Errorf("Expected 'env host', got '%s'", resp.Content)
	}
}

func TestAnthropicProvider(t *testing.T) {
	var got anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected api key header, got '%s'", r.Header.Get("x-api-key"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_123",
			"content": [{"type": "text", "text": "hello from claude"}],
			"usage": {"input_tokens": 5, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	p, _ := NewAnthropicProvider("test-key", "claude-3")
	p.SetBaseURL(server.URL)
	if p.Name() != "anthropic" {
		t.Errorf("Expected 'anthropic', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hello from claude" {
		t.Errorf("Expected 'hello from claude', got '%s'", resp.Content)
	}
	if got.System != "be brief" || len(got.Messages) != 1 {
		t.Errorf("Expected system prompt out of band, got %+v", got)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("Expected 10 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestAnthropicProvider_Stream(t *testing.T) {
	var got anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range []string{
			`{"type":"message_start","message":{"usage":{"input_tokens":3}}}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"hel"}}`,
			`{"type":"ping"}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`,
			`{"type":"message_delta","usage":{"output_tokens":2}}`,
			`{"type":"message_stop"}`,
		} {
			fmt.Fprintf(w, "event: x\ndata: %s\n\n", ev)
		}
	}))
	defer server.Close()

	p, _ := NewAnthropicProvider("test-key", "")
	p.SetBaseURL(server.URL)
	var pieces []string
	resp, err := p.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}}, func(s string) {
		pieces = append(pieces, s)
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if !got.Stream {
		t.Error("Expected a streaming request")
	}
	if resp.Content != "hello" || len(pieces) != 2 {
		t.Errorf("Expected 'hello' in two pieces, got '%s' (%q)", resp.Content, pieces)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("Expected 5 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestAnthropicProvider_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "slow down"}}`))
	}))
	defer server.Close()

	p, _ := NewAnthropicProvider("test-key", "")
	p.SetBaseURL(server.URL)
	if _, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Error("Expected error on non-200 status")
	}
	if _, err := p.Embed(context.Background(), "hi"); err == nil {
		t.Error("Expected embed to be unsupported")
	}
}

func TestGeminiProvider_Name(t *testing.T) {
	p, err := NewGeminiProvider("fake-key", "gemini-pro")
	if err != nil {
		t.Logf("Skipping Gemini Name test due to client init error: %v", err)
		return
	}
	defer p.Close()
	if p.Name() != "gemini" {
		t.Errorf("Expected 'gemini', got '%s'", p.Name())
	}
}

func TestGeminiProvider_Init(t *testing.T) {
	if _, err := NewGeminiProvider("", ""); err == nil {
		t.Error("Expected error for empty key")
	}
}

func TestCLIProvider(t *testing.T) {
	if _, err := NewCLIProvider("", nil); err == nil {
		t.Error("Expected error for empty binary path")
	}

	p, err := NewCLIProvider("echo", []string{"-n"})
	if err != nil {
		t.Fatalf("NewCLIProvider failed: %v", err)
	}
	if p.Name() != "cli-echo" {
		t.Errorf("Expected 'cli-echo', got '%s'", p.Name())
	}
	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi there"}})
	if err != nil {
		t.Skipf("echo not available: %v", err)
	}
	if resp.Content != "hi there" {
		t.Errorf("Expected 'hi there', got '%s'", resp.Content)
	}

	t.Run("stream", func(t *testing.T) {
		p, _ := NewCLIProvider("printf", nil)
		var pieces []string
		resp, err := p.Stream(context.Background(), []Message{{Role: "user", Content: "a\nb\n"}}, func(s string) {
			pieces = append(pieces, s)
		})
		if err != nil {
			t.Skipf("printf not available: %v", err)
		}
		if len(pieces) != 2 || resp.Content != "a\nb\n" {
			t.Errorf("Expected two streamed lines, got %q (%q)", pieces, resp.Content)
		}
	})

	t.Run("failure", func(t *testing.T) {
		p, _ := NewCLIProvider("false", nil)
		if _, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "x"}}); err == nil {
			t.Error("Expected error from a failing agent")
		}
	})
}

func TestCLIPrompt(t *testing.T) {
	got := cliPrompt([]Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "again"},
	})
	want := "user: hi\nassistant: hello\nagain"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestSearXNGSearcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("Expected /search, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("format") != "json" {
			t.Errorf("Expected json format, got %s", r.URL.Query().Get("format"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"query": "go", "results": [
			{"title": " Go ", "url": "https://go.dev", "content": "The Go language"},
			{"title": "Tour", "url": "https://go.dev/tour", "content": "A tour"},
			{"title": "Blog", "url": "https://go.dev/blog", "content": "News"}
		]}`))
	}))
	defer server.Close()

	s := NewSearXNGSearcher(server.URL+"/", "")
	hits, err := s.Search(context.Background(), "go", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("Expected 2 hits, got %d", len(hits))
	}
	if hits[0].Title != "Go" || hits[0].Source != "searxng" {
		t.Errorf("Expected trimmed title and source, got %+v", hits[0])
	}

	if _, err := s.Search(context.Background(), "  ", 2); err == nil {
		t.Error("Expected error for empty query")
	}
}

func TestStubProvider(t *testing.T) {
	p := NewStubProvider("first")
	if p.Name() != "stub" {
		t.Errorf("Expected 'stub', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "first" {
		t.Errorf("Expected 'first', got '%s'", resp.Content)
	}

	resp, _ = p.Chat(context.Background(), []Message{{Role: "user", Content: "again"}})
	if resp.Content != "stub: again" {
		t.Errorf("Expected echo once script is exhausted, got '%s'", resp.Content)
	}
	if p.Calls() != 2 {
		t.Errorf("Expected 2 calls, got %d", p.Calls())
	}
}

func TestStubProvider_FailNext(t *testing.T) {
	p := NewStubProvider().FailNext(1)
	if _, err := p.Chat(context.Background(), []Message{{Content: "hi"}}); !errors.Is(err, ErrStubFailure) {
		t.Errorf("Expected ErrStubFailure, got %v", err)
	}
	if _, err := p.Chat(context.Background(), []Message{{Content: "hi"}}); err != nil {
		t.Errorf("Expected success after scripted failure, got %v", err)
	}
}

func TestStubProvider_Timeout(t *testing.T) {
	p := NewStubProvider().WithDelay(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Chat(ctx, []Message{{Content: "hi"}})
	if err == nil {
		t.Error("Expected error on canceled context")
	}
}

func TestChatAdapter(t *testing.T) {
	a := NewChatAdapter("generation", NewStubProvider("  padded answer  "))
	if a.Name() != "generation" {
		t.Errorf("Expected 'generation', got '%s'", a.Name())
	}

	generate, ok := a.Method(MethodGenerate)
	if !ok {
		t.Fatal("Expected generate method")
	}
	var streamed string
	res, err := generate(context.Background(), Request{Prompt: "hi"}, func(s string) { streamed += s })
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if res.Text != "padded answer" {
		t.Errorf("Expected trimmed text, got '%s'", res.Text)
	}
	if streamed != "  padded answer  " {
		t.Errorf("Expected whole response delivered as one piece, got '%s'", streamed)
	}

	if _, err := generate(context.Background(), Request{}, nil); err == nil {
		t.Error("Expected error for empty prompt")
	}

	embed, _ := a.Method(MethodEmbed)
	res, err = embed(context.Background(), Request{Query: "vector me"}, nil)
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(res.Vector) != 3 {
		t.Errorf("Expected 3 dimensions, got %d", len(res.Vector))
	}

	if _, ok := a.Method(MethodSearch); ok {
		t.Error("Expected no search method on a chat adapter")
	}
}

func TestRequest_Conversation(t *testing.T) {
	req := Request{
		Messages: []Message{{Role: "system", Content: "sys"}},
		Prompt:   "question",
	}
	msgs := req.Conversation()
	if len(msgs) != 2 || msgs[1].Content != "question" || msgs[1].Role != "user" {
		t.Errorf("Expected system then user message, got %+v", msgs)
	}
	if len(req.Messages) != 1 {
		t.Error("Conversation must not mutate the request")
	}
}
