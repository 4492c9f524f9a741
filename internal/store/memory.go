package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Storage. It backs ephemeral runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	seq    uint64
	docs   map[string]map[string]*memoryDoc
	config map[string]string
}

type memoryDoc struct {
	seq uint64
	doc Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]map[string]*memoryDoc),
		config: make(map[string]string),
	}
}

func (m *MemoryStore) Append(ctx context.Context, collection, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collection(collection)
	if _, ok := coll[key]; ok {
		return fmt.Errorf("append %s/%s: %w", collection, key, ErrExists)
	}
	m.put(coll, collection, key, body)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.docs[collection][key]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, ErrNotFound)
	}
	return append([]byte(nil), d.doc.Body...), nil
}

func (m *MemoryStore) Update(ctx context.Context, collection, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collection(collection)
	if d, ok := coll[key]; ok {
		d.doc.Body = append([]byte(nil), body...)
		d.doc.UpdatedAt = time.Now()
		return nil
	}
	m.put(coll, collection, key, body)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[collection], key)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, collection string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*memoryDoc, 0, len(m.docs[collection]))
	for _, d := range m.docs[collection] {
		entries = append(entries, d)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]Document, len(entries))
	for i, d := range entries {
		out[i] = d.doc
		out[i].Body = append([]byte(nil), d.doc.Body...)
	}
	return out, nil
}

func (m *MemoryStore) collection(name string) map[string]*memoryDoc {
	coll, ok := m.docs[name]
	if !ok {
		coll = make(map[string]*memoryDoc)
		m.docs[name] = coll
	}
	return coll
}

func (m *MemoryStore) put(coll map[string]*memoryDoc, collection, key string, body []byte) {
	m.seq++
	now := time.Now()
	coll[key] = &memoryDoc{
		seq: m.seq,
		doc: Document{
			Collection: collection,
			Key:        key,
			Body:       append([]byte(nil), body...),
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
}

func (m *MemoryStore) SetConfig(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
	return nil
}

func (m *MemoryStore) GetConfig(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config[key], nil
}

func (m *MemoryStore) ListConfig() (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.config))
	for k, v := range m.config {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
