// Package plugin runs provider adapters out of process via hashicorp/go-plugin
// over net/rpc. A plugin binary calls Serve with its Remote implementation;
// the host Launches it and registers the returned adapter like any other.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"net/rpc"
	"os/exec"

	"github.com/felixgeelhaar/mneme/internal/provider"
	"github.com/hashicorp/go-hclog"
	hcplugin "github.com/hashicorp/go-plugin"
)

// Handshake is shared by host and plugin binaries.
var Handshake = hcplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "MNEME_PLUGIN",
	MagicCookieValue: "mneme-adapter",
}

const pluginName = "adapter"

// Remote is what a plugin implements: a named set of adapter methods.
type Remote interface {
	Methods(ctx context.Context) ([]string, error)
	Call(ctx context.Context, method string, req provider.Request) (*provider.Result, error)
}

// CallArgs is the wire form of one Call.
type CallArgs struct {
	Method  string
	Request provider.Request
}

// AdapterPlugin implements hcplugin.Plugin for the net/rpc protocol.
type AdapterPlugin struct {
	Impl Remote
}

func (p *AdapterPlugin) Server(*hcplugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (p *AdapterPlugin) Client(_ *hcplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// RPCServer exposes a Remote over net/rpc.
type RPCServer struct {
	Impl Remote
}

func (s *RPCServer) Methods(_ interface{}, resp *[]string) error {
	names, err := s.Impl.Methods(context.Background())
	if err != nil {
		return err
	}
	*resp = names
	return nil
}

func (s *RPCServer) Call(args CallArgs, resp *provider.Result) error {
	res, err := s.Impl.Call(context.Background(), args.Method, args.Request)
	if err != nil {
		return err
	}
	if res != nil {
		*resp = *res
	}
	return nil
}

// RPCClient is the host side of a Remote. net/rpc has no cancellation, so a
// cancelled context abandons the call and returns immediately.
type RPCClient struct {
	client *rpc.Client
}

// NewRPCClient wraps an established net/rpc client.
func NewRPCClient(c *rpc.Client) *RPCClient {
	return &RPCClient{client: c}
}

func (c *RPCClient) call(ctx context.Context, method string, args, reply any) error {
	pending := c.client.Go("Plugin."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-pending.Done:
		return done.Error
	}
}

func (c *RPCClient) Methods(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.call(ctx, "Methods", new(interface{}), &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *RPCClient) Call(ctx context.Context, method string, req provider.Request) (*provider.Result, error) {
	var res provider.Result
	if err := c.call(ctx, "Call", CallArgs{Method: method, Request: req}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// NewAdapter asks r for its methods and exposes them as a provider.Adapter.
func NewAdapter(ctx context.Context, name string, r Remote) (provider.Adapter, error) {
	names, err := r.Methods(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plugin methods: %w", err)
	}
	if len(names) == 0 {
		return nil, errors.New("plugin exposes no methods")
	}
	methods := make(map[string]provider.Method, len(names))
	for _, m := range names {
		method := m
		methods[method] = func(ctx context.Context, req provider.Request, _ func(string)) (*provider.Result, error) {
			return r.Call(ctx, method, req)
		}
	}
	return provider.NewAdapter(name, methods), nil
}

// Host is a running plugin process.
type Host struct {
	client *hcplugin.Client
	Remote Remote
}

// Launch starts the plugin binary at path and dispenses its Remote.
func Launch(path string, args ...string) (*Host, error) {
	client := hcplugin.NewClient(&hcplugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          map[string]hcplugin.Plugin{pluginName: &AdapterPlugin{}},
		Cmd:              exec.Command(path, args...), // #nosec G204
		AllowedProtocols: []hcplugin.Protocol{hcplugin.ProtocolNetRPC},
		Logger:           hclog.NewNullLogger(),
	})
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("start plugin %s: %w", path, err)
	}
	raw, err := rpcClient.Dispense(pluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("dispense plugin %s: %w", path, err)
	}
	remote, ok := raw.(Remote)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin %s returned %T", path, raw)
	}
	return &Host{client: client, Remote: remote}, nil
}

// Close stops the plugin process.
func (h *Host) Close() {
	h.client.Kill()
}

// Serve runs impl as a plugin. It blocks until the host disconnects.
func Serve(impl Remote) {
	hcplugin.Serve(&hcplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         map[string]hcplugin.Plugin{pluginName: &AdapterPlugin{Impl: impl}},
	})
}
