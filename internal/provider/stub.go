package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrStubFailure is returned by a StubProvider while it is scripted to fail.
var ErrStubFailure = errors.New("stub failure")

// StubProvider replays scripted responses. When the script runs out it echoes
// the last message, so it never needs a network.
type StubProvider struct {
	mu        sync.Mutex
	responses []string
	delay     time.Duration
	failNext  int
	calls     int
}

func NewStubProvider(responses ...string) *StubProvider {
	return &StubProvider{responses: append([]string(nil), responses...)}
}

// WithDelay makes every call take d, or until the context ends.
func (m *StubProvider) WithDelay(d time.Duration) *StubProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// FailNext makes the next n calls fail with ErrStubFailure.
func (m *StubProvider) FailNext(n int) *StubProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	return m
}

// Calls reports how many times Chat was invoked.
func (m *StubProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *StubProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	m.mu.Lock()
	m.calls++
	delay := m.delay
	fail := m.failNext > 0
	if fail {
		m.failNext--
	}
	var content string
	if !fail {
		if len(m.responses) > 0 {
			content = m.responses[0]
			m.responses = m.responses[1:]
		} else if len(messages) > 0 {
			content = fmt.Sprintf("stub: %s", messages[len(messages)-1].Content)
		}
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	if fail {
		return nil, ErrStubFailure
	}
	tokens := len(content) / 4
	return &Response{
		Content: content,
		Usage:   Usage{CompletionTokens: tokens, TotalTokens: tokens},
	}, nil
}

func (m *StubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *StubProvider) Name() string {
	return "stub"
}
