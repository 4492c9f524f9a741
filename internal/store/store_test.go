package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openStores(t *testing.T) map[string]Storage {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "mneme.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return map[string]Storage{
		"sqlite": s,
		"memory": NewMemoryStore(),
	}
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("AppendGet", func(t *testing.T) {
				if err := s.Append(ctx, "memories", "m1", []byte(`{"text":"hi"}`)); err != nil {
					t.Fatalf("Append failed: %v", err)
				}
				got, err := s.Get(ctx, "memories", "m1")
				if err != nil {
					t.Fatalf("Get failed: %v", err)
				}
				if string(got) != `{"text":"hi"}` {
					t.Errorf("Expected stored body, got '%s'", got)
				}
			})

			t.Run("AppendDuplicate", func(t *testing.T) {
				err := s.Append(ctx, "memories", "m1", []byte(`{}`))
				if !errors.Is(err, ErrExists) {
					t.Errorf("Expected ErrExists, got %v", err)
				}
			})

			t.Run("GetMissing", func(t *testing.T) {
				_, err := s.Get(ctx, "memories", "nope")
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("Expected ErrNotFound, got %v", err)
				}
				_, err = s.Get(ctx, "outbox", "m1")
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("Expected collections to be isolated, got %v", err)
				}
			})

			t.Run("UpdateUpserts", func(t *testing.T) {
				if err := s.Update(ctx, "memories", "m1", []byte(`v2`)); err != nil {
					t.Fatalf("Update failed: %v", err)
				}
				if err := s.Update(ctx, "memories", "m2", []byte(`new`)); err != nil {
					t.Fatalf("Update insert failed: %v", err)
				}
				got, _ := s.Get(ctx, "memories", "m1")
				if string(got) != "v2" {
					t.Errorf("Expected 'v2', got '%s'", got)
				}
			})

			t.Run("ListInsertionOrder", func(t *testing.T) {
				for _, key := range []string{"c", "a", "b"} {
					if err := s.Append(ctx, "outbox", key, []byte(key)); err != nil {
						t.Fatalf("Append failed: %v", err)
					}
				}
				// Updating must not move a document to the back.
				if err := s.Update(ctx, "outbox", "c", []byte("c2")); err != nil {
					t.Fatalf("Update failed: %v", err)
				}

				docs, err := s.List(ctx, "outbox")
				if err != nil {
					t.Fatalf("List failed: %v", err)
				}
				if len(docs) != 3 {
					t.Fatalf("Expected 3 docs, got %d", len(docs))
				}
				want := []string{"c", "a", "b"}
				for i, d := range docs {
					if d.Key != want[i] {
						t.Errorf("Expected key %s at %d, got %s", want[i], i, d.Key)
					}
					if d.Collection != "outbox" {
						t.Errorf("Expected collection 'outbox', got '%s'", d.Collection)
					}
				}
				if string(docs[0].Body) != "c2" {
					t.Errorf("Expected updated body 'c2', got '%s'", docs[0].Body)
				}
			})

			t.Run("Delete", func(t *testing.T) {
				if err := s.Delete(ctx, "outbox", "a"); err != nil {
					t.Fatalf("Delete failed: %v", err)
				}
				if err := s.Delete(ctx, "outbox", "a"); err != nil {
					t.Errorf("Expected deleting a missing key to succeed, got %v", err)
				}
				docs, _ := s.List(ctx, "outbox")
				if len(docs) != 2 {
					t.Errorf("Expected 2 docs after delete, got %d", len(docs))
				}
			})

			t.Run("Configuration", func(t *testing.T) {
				if err := s.SetConfig("openai.model", "gpt-4o"); err != nil {
					t.Fatalf("SetConfig failed: %v", err)
				}
				if err := s.SetConfig("openai.model", "gpt-4o-mini"); err != nil {
					t.Fatalf("SetConfig overwrite failed: %v", err)
				}
				val, err := s.GetConfig("openai.model")
				if err != nil {
					t.Fatalf("GetConfig failed: %v", err)
				}
				if val != "gpt-4o-mini" {
					t.Errorf("Expected 'gpt-4o-mini', got '%s'", val)
				}

				missing, err := s.GetConfig("missing")
				if err != nil || missing != "" {
					t.Errorf("Expected empty value for missing key, got '%s' (%v)", missing, err)
				}

				all, err := s.ListConfig()
				if err != nil {
					t.Fatalf("ListConfig failed: %v", err)
				}
				if all["openai.model"] != "gpt-4o-mini" {
					t.Errorf("Expected listed config value, got %v", all)
				}
			})
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mneme.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := s.Append(ctx, "outbox", "o1", []byte("pending")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer s.Close()

	docs, err := s.List(ctx, "outbox")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 1 || string(docs[0].Body) != "pending" {
		t.Errorf("Expected durable document after reopen, got %v", docs)
	}
}
