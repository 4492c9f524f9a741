package provider

import (
	"errors"
	"fmt"
)

// Kind classifies failures across the core.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnavailable
	KindTimeout
	KindProvider
	KindStorage
	KindEmbedding
)

var (
	ErrUnavailable = errors.New("provider unavailable")
	ErrTimeout     = errors.New("provider timeout")
	ErrProvider    = errors.New("provider error")
	ErrStorage     = errors.New("storage error")
	ErrEmbedding   = errors.New("embedding error")
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindProvider:
		return "provider"
	case KindStorage:
		return "storage"
	case KindEmbedding:
		return "embedding"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindUnavailable:
		return ErrUnavailable
	case KindTimeout:
		return ErrTimeout
	case KindProvider:
		return ErrProvider
	case KindStorage:
		return ErrStorage
	case KindEmbedding:
		return ErrEmbedding
	default:
		return nil
	}
}

// Error is the typed failure returned by the invoker, the memory store and the outbox.
// errors.Is matches it against the sentinel of its Kind.
type Error struct {
	Kind     Kind
	Provider string
	Method   string
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel()
	prefix := "error"
	if msg != nil {
		prefix = msg.Error()
	}

	target := e.Op
	if e.Provider != "" {
		target = e.Provider
		if e.Method != "" {
			target += "." + e.Method
		}
	}
	if target != "" {
		prefix += " (" + target + ")"
	}
	if e.Attempts > 1 {
		prefix += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err == nil {
		return prefix
	}
	return prefix + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether a failure may succeed on another attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindProvider, KindStorage:
		return true
	default:
		return false
	}
}

// StorageError wraps a durable read/write failure.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// EmbeddingError wraps an embedding function failure.
func EmbeddingError(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindEmbedding, Op: "embed", Err: err}
}
