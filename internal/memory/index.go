package memory

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

const indexCollection = "mneme_episodic"

// Candidate is one index hit.
type Candidate struct {
	ID         string
	Similarity float64
}

// Index is a rebuildable nearest-neighbour accelerator over the episodic tier.
// It is derived data; the store stays correct without it.
type Index interface {
	// Rebuild replaces the indexed set with records.
	Rebuild(ctx context.Context, records []*Record) error
	// Query returns up to n candidates by descending cosine similarity.
	Query(ctx context.Context, vector []float32, n int) ([]Candidate, error)
	Has(id string) bool
	Len() int
}

// ChromemIndex keeps the episodic vectors in an in-process chromem-go collection.
type ChromemIndex struct {
	mu         sync.RWMutex
	collection *chromem.Collection
	ids        map[string]struct{}
}

func NewChromemIndex() *ChromemIndex {
	return &ChromemIndex{ids: make(map[string]struct{})}
}

func (x *ChromemIndex) Rebuild(ctx context.Context, records []*Record) error {
	db := chromem.NewDB()
	// Vectors are always supplied, so the embedding func is never called.
	col, err := db.CreateCollection(indexCollection, nil, func(context.Context, string) ([]float32, error) {
		return nil, fmt.Errorf("index embeds nothing")
	})
	if err != nil {
		return fmt.Errorf("create index collection: %w", err)
	}

	docs := make([]chromem.Document, 0, len(records))
	ids := make(map[string]struct{}, len(records))
	for _, r := range records {
		if len(r.Vector) == 0 || isZero(r.Vector) {
			continue
		}
		content := r.Text
		if content == "" {
			content = r.ID
		}
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Content:   content,
			Embedding: append([]float32(nil), r.Vector...),
		})
		ids[r.ID] = struct{}{}
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("index documents: %w", err)
		}
	}

	x.mu.Lock()
	x.collection = col
	x.ids = ids
	x.mu.Unlock()
	return nil
}

func (x *ChromemIndex) Query(ctx context.Context, vector []float32, n int) ([]Candidate, error) {
	x.mu.RLock()
	col := x.collection
	x.mu.RUnlock()

	if col == nil || n <= 0 || isZero(vector) {
		return nil, nil
	}
	if count := col.Count(); n > count {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, append([]float32(nil), vector...), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("index query: %w", err)
	}
	out := make([]Candidate, len(results))
	for i, r := range results {
		out[i] = Candidate{ID: r.ID, Similarity: float64(r.Similarity)}
	}
	return out, nil
}

func (x *ChromemIndex) Has(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.ids[id]
	return ok
}

func (x *ChromemIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

func isZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}
