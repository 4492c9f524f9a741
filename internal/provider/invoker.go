package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/mneme/internal/events"
	"github.com/felixgeelhaar/mneme/internal/observe"
	"github.com/felixgeelhaar/mneme/internal/retry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultRetries     = 2
	DefaultBackoffBase = 200 * time.Millisecond
)

// Invoker calls registry adapters under a per-attempt timeout and retries
// failures with exponential backoff and jitter.
type Invoker struct {
	registry *Registry
	bus      events.Publisher
	obs      *observe.Observer
	timeout  time.Duration
	retries  int
	backoff  retry.Policy
	coalesce bool
	group    singleflight.Group
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithDefaults sets the timeout, retry count and backoff base used when a call
// does not override them.
func WithDefaults(timeout time.Duration, retries int, base time.Duration) InvokerOption {
	return func(inv *Invoker) {
		if timeout > 0 {
			inv.timeout = timeout
		}
		if retries >= 0 {
			inv.retries = retries
		}
		if base >= 0 {
			inv.backoff.Base = base
		}
	}
}

// WithBackoff replaces the backoff policy. Attempts is ignored; retries decide it.
func WithBackoff(p retry.Policy) InvokerOption {
	return func(inv *Invoker) { inv.backoff = p }
}

// WithPublisher routes provider:failed events to p.
func WithPublisher(p events.Publisher) InvokerOption {
	return func(inv *Invoker) { inv.bus = events.OrDiscard(p) }
}

func WithObserver(o *observe.Observer) InvokerOption {
	return func(inv *Invoker) { inv.obs = observe.Or(o) }
}

// WithCoalescing makes concurrent identical non-streaming calls share one
// in-flight invocation.
func WithCoalescing(enabled bool) InvokerOption {
	return func(inv *Invoker) { inv.coalesce = enabled }
}

func NewInvoker(r *Registry, opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		registry: r,
		bus:      events.Discard{},
		obs:      observe.Nop(),
		timeout:  DefaultTimeout,
		retries:  DefaultRetries,
		backoff:  retry.Policy{Base: DefaultBackoffBase, Max: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// CallOption overrides invoker defaults for one call.
type CallOption func(*callConfig)

type callConfig struct {
	timeout time.Duration
	retries int
	onPiece func(string)
}

// Timeout sets the per-attempt timeout.
func Timeout(d time.Duration) CallOption {
	return func(c *callConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Retries sets how many times a failed attempt is retried.
func Retries(n int) CallOption {
	return func(c *callConfig) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// OnPiece receives streamed output. Pieces from an abandoned attempt are dropped.
func OnPiece(fn func(string)) CallOption {
	return func(c *callConfig) { c.onPiece = fn }
}

// Invoke calls providerName.methodName with req.
//
// A missing adapter or method fails immediately with KindUnavailable. Every
// other failure is retried up to the configured count; after the last attempt
// the final error is returned and provider:failed is emitted.
func (inv *Invoker) Invoke(ctx context.Context, providerName, methodName string, req Request, opts ...CallOption) (*Result, error) {
	cfg := callConfig{timeout: inv.timeout, retries: inv.retries}
	for _, opt := range opts {
		opt(&cfg)
	}

	if !inv.coalesce || cfg.onPiece != nil {
		return inv.invoke(ctx, providerName, methodName, req, cfg)
	}

	key, err := coalesceKey(providerName, methodName, req)
	if err != nil {
		return inv.invoke(ctx, providerName, methodName, req, cfg)
	}
	v, err, _ := inv.group.Do(key, func() (any, error) {
		return inv.invoke(ctx, providerName, methodName, req, cfg)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	return &res, nil
}

func (inv *Invoker) invoke(ctx context.Context, providerName, methodName string, req Request, cfg callConfig) (*Result, error) {
	ctx, span := inv.obs.StartSpan(ctx, "provider.Invoke",
		attribute.String("provider", providerName),
		attribute.String("method", methodName),
	)

	fn, err := inv.resolve(providerName, methodName)
	if err != nil {
		inv.fail(providerName, methodName, 0, err)
		observe.EndSpan(span, err)
		return nil, err
	}

	policy := inv.backoff
	policy.Attempts = cfg.retries + 1
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		inv.obs.Log().Warn().
			Str("provider", providerName).
			Str("method", methodName).
			Int("attempt", attempt).
			Str("wait", wait.String()).
			Err(err).
			Msg("retrying provider call")
	}

	attempts := 0
	var res *Result
	err = retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		attempts++
		r, err := inv.attempt(ctx, fn, req, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Stop(err)
			}
			return err
		}
		res = r
		return nil
	})
	span.SetAttributes(attribute.Int("attempts", attempts))

	if err != nil {
		perr := &Error{Kind: kindFor(err), Provider: providerName, Method: methodName, Attempts: attempts, Err: err}
		inv.fail(providerName, methodName, attempts, perr)
		observe.EndSpan(span, perr)
		return nil, perr
	}
	observe.EndSpan(span, nil)
	return res, nil
}

func (inv *Invoker) resolve(providerName, methodName string) (Method, error) {
	a, ok := inv.registry.Get(providerName)
	if !ok {
		return nil, &Error{Kind: KindUnavailable, Provider: providerName, Method: methodName,
			Err: fmt.Errorf("no adapter registered as %q", providerName)}
	}
	fn, ok := a.Method(methodName)
	if !ok {
		return nil, &Error{Kind: KindUnavailable, Provider: providerName, Method: methodName,
			Err: fmt.Errorf("adapter %q has no method %q", providerName, methodName)}
	}
	return fn, nil
}

// attempt runs fn once, racing it against the per-attempt timeout. On timeout
// the attempt context is cancelled but fn is not waited for; its late result is discarded.
func (inv *Invoker) attempt(ctx context.Context, fn Method, req Request, cfg callConfig) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	var abandoned atomic.Bool
	var onPiece func(string)
	if cfg.onPiece != nil {
		onPiece = func(piece string) {
			if !abandoned.Load() && attemptCtx.Err() == nil {
				cfg.onPiece(piece)
			}
		}
	}

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("adapter panicked: %v", r)}
			}
		}()
		res, err := fn(attemptCtx, req, onPiece)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, timeoutError(cfg.timeout)
			}
			return nil, out.err
		}
		if out.res == nil {
			return &Result{}, nil
		}
		return out.res, nil
	case <-attemptCtx.Done():
		abandoned.Store(true)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, timeoutError(cfg.timeout)
	}
}

type timeoutErr struct{ after time.Duration }

func (e timeoutErr) Error() string { return fmt.Sprintf("no response within %s", e.after) }

func timeoutError(d time.Duration) error { return timeoutErr{after: d} }

func kindFor(err error) Kind {
	var t timeoutErr
	if errors.As(err, &t) {
		return KindTimeout
	}
	return KindProvider
}

func (inv *Invoker) fail(providerName, methodName string, attempts int, err error) {
	inv.obs.Log().Error().
		Str("provider", providerName).
		Str("method", methodName).
		Int("attempts", attempts).
		Err(err).
		Msg("provider call failed")

	inv.bus.Emit(events.ProviderFailed, events.ProviderFailedPayload{
		Provider: providerName,
		Method:   methodName,
		Attempts: attempts,
		Kind:     KindOf(err).String(),
		Reason:   err.Error(),
	})
}

func coalesceKey(providerName, methodName string, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(providerName+"\x00"+methodName+"\x00"), body...))
	return hex.EncodeToString(sum[:]), nil
}
