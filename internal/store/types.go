package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
)

// Document is one stored value within a collection.
type Document struct {
	Collection string
	Key        string
	Body       []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Documents is the durable backend used by the memory store's episodic tier
// and by the offline outbox. List returns documents in insertion order.
type Documents interface {
	// Append inserts a new document and fails with ErrExists if the key is taken.
	Append(ctx context.Context, collection, key string, body []byte) error
	// Get returns the body, or ErrNotFound.
	Get(ctx context.Context, collection, key string) ([]byte, error)
	// Update replaces the body, inserting the document if it does not exist.
	Update(ctx context.Context, collection, key string, body []byte) error
	// Delete removes the document. Deleting a missing key is not an error.
	Delete(ctx context.Context, collection, key string) error
	List(ctx context.Context, collection string) ([]Document, error)
}

// Storage defines the interface for persistence
type Storage interface {
	Documents

	// Configuration Management
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)
	ListConfig() (map[string]string, error)

	Close() error
}
