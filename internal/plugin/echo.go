package plugin

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/mneme/internal/provider"
)

// EchoRemote is a minimal plugin used to check the plugin wiring end to end.
type EchoRemote struct{}

func (EchoRemote) Methods(context.Context) ([]string, error) {
	return []string{provider.MethodGenerate, provider.MethodSearch}, nil
}

func (EchoRemote) Call(_ context.Context, method string, req provider.Request) (*provider.Result, error) {
	switch method {
	case provider.MethodGenerate:
		msgs := req.Conversation()
		if len(msgs) == 0 {
			return nil, fmt.Errorf("echo: empty request")
		}
		return &provider.Result{Text: "echo: " + msgs[len(msgs)-1].Content}, nil
	case provider.MethodSearch:
		q := strings.TrimSpace(req.Query)
		return &provider.Result{Hits: []provider.Hit{{Title: q, Snippet: "echo result for " + q}}}, nil
	default:
		return nil, fmt.Errorf("echo: unknown method %q", method)
	}
}
