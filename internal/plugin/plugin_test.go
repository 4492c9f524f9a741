package plugin

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/mneme/internal/provider"
)

func pipeClient(t *testing.T, impl Remote) *RPCClient {
	t.Helper()
	server := rpc.NewServer()
	if err := server.RegisterName("Plugin", &RPCServer{Impl: impl}); err != nil {
		t.Fatalf("Failed to register server: %v", err)
	}
	hostConn, pluginConn := net.Pipe()
	go server.ServeConn(pluginConn)

	c := rpc.NewClient(hostConn)
	t.Cleanup(func() { c.Close() })
	return NewRPCClient(c)
}

func TestRPC_Echo(t *testing.T) {
	ctx := context.Background()
	client := pipeClient(t, EchoRemote{})

	names, err := client.Methods(ctx)
	if err != nil {
		t.Fatalf("Methods failed: %v", err)
	}
	if len(names) != 2 || names[0] != provider.MethodGenerate {
		t.Errorf("Expected generate and search, got %v", names)
	}

	res, err := client.Call(ctx, provider.MethodGenerate, provider.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if res.Text != "echo: hi" {
		t.Errorf("Expected 'echo: hi', got '%s'", res.Text)
	}

	_, err = client.Call(ctx, "translate", provider.Request{})
	if err == nil || !strings.Contains(err.Error(), "unknown method") {
		t.Errorf("Expected the plugin error to cross the wire, got %v", err)
	}
}

type slowRemote struct{ EchoRemote }

func (slowRemote) Call(context.Context, string, provider.Request) (*provider.Result, error) {
	time.Sleep(200 * time.Millisecond)
	return &provider.Result{Text: "late"}, nil
}

func TestRPC_ContextCancel(t *testing.T) {
	client := pipeClient(t, slowRemote{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Call(ctx, provider.MethodGenerate, provider.Request{Prompt: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Error("Expected the call to be abandoned on cancel")
	}
}

func TestNewAdapter(t *testing.T) {
	ctx := context.Background()
	a, err := NewAdapter(ctx, "local", pipeClient(t, EchoRemote{}))
	if err != nil {
		t.Fatalf("NewAdapter failed: %v", err)
	}

	reg := provider.NewRegistry()
	if err := reg.Register("local", a); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	inv := provider.NewInvoker(reg)
	res, err := inv.Invoke(ctx, "local", provider.MethodSearch, provider.Request{Query: "tides"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if len(res.Hits) != 1 || res.Hits[0].Title != "tides" {
		t.Errorf("Expected one hit for tides, got %+v", res.Hits)
	}
	if _, ok := a.Method(provider.MethodEmbed); ok {
		t.Error("Expected embed to be absent")
	}
}

type emptyRemote struct{ EchoRemote }

func (emptyRemote) Methods(context.Context) ([]string, error) { return nil, nil }

func TestNewAdapter_NoMethods(t *testing.T) {
	if _, err := NewAdapter(context.Background(), "empty", pipeClient(t, emptyRemote{})); err == nil {
		t.Error("Expected an error for a plugin without methods")
	}
}
