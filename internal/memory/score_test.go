package memory

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"
)

func TestScorer_Importance(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sc := DefaultScorer()

	r := &Record{
		Text:      strings.Repeat("a", 250),
		Sentiment: -0.5,
		Category:  CategoryTechnical,
		Timestamp: now,
	}
	// 0.5*0.3 + 1*0.4 + 0.5*0.2 + 0.8*0.1
	want := 0.73
	if got := sc.Importance(r, now); math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected importance %.4f, got %.4f", want, got)
	}

	t.Run("terms are clamped", func(t *testing.T) {
		extreme := &Record{Text: strings.Repeat("x", 5000), Sentiment: 9, Category: CategoryPersonal, Timestamp: now.Add(time.Hour)}
		got := sc.Importance(extreme, now)
		if got < 0 || got > 1 {
			t.Errorf("Expected importance in [0,1], got %f", got)
		}

		heavy := sc
		heavy.Weights = Weights{Sentiment: 2, Recency: 2, Length: 2, Category: 2}
		if got := heavy.Importance(extreme, now); got != 1 {
			t.Errorf("Expected clamped importance 1, got %f", got)
		}
	})

	t.Run("unknown category uses general weight", func(t *testing.T) {
		a := &Record{Text: "x", Category: "bogus", Timestamp: now}
		b := &Record{Text: "x", Category: CategoryGeneral, Timestamp: now}
		if sc.Importance(a, now) != sc.Importance(b, now) {
			t.Error("Expected unknown category to score like general")
		}
	})
}

func TestScorer_Recency(t *testing.T) {
	sc := DefaultScorer()
	now := time.Now()

	if got := sc.Recency(now, now); got != 1 {
		t.Errorf("Expected 1 at creation, got %f", got)
	}
	if got := sc.Recency(now.Add(-72*time.Hour), now); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Expected 0.5 after one half-life, got %f", got)
	}
	if got := sc.Recency(now.Add(-144*time.Hour), now); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("Expected 0.25 after two half-lives, got %f", got)
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		text string
		want Category
	}{
		{"hello", CategoryGeneral},
		{"The server returns an API error after deploy", CategoryTechnical},
		{"My family visited for my birthday", CategoryPersonal},
		{"Write a poem about the sea", CategoryCreative},
		{"Explain how does photosynthesis work", CategoryEducational},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := Categorize(tt.text); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("Expected 1 for identical vectors, got %f", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("Expected 0 for orthogonal vectors, got %f", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("Expected 0 for mismatched dimensions, got %f", got)
	}
	if got := cosineSimilarity([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("Expected 0 for a zero vector, got %f", got)
	}
}

func TestHashEmbedder(t *testing.T) {
	h := HashEmbedder{Dim: 64}
	a, _ := h.Embed(context.Background(), "Hello, world")
	b, _ := h.Embed(context.Background(), "hello world")
	if len(a) != 64 {
		t.Fatalf("Expected 64 dimensions, got %d", len(a))
	}
	if got := cosineSimilarity(a, b); math.Abs(got-1) > 1e-6 {
		t.Errorf("Expected case and punctuation to be ignored, got similarity %f", got)
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("Expected unit vector, got squared norm %f", norm)
	}

	empty, _ := h.Embed(context.Background(), "   ")
	if !isZero(empty) {
		t.Error("Expected zero vector for empty text")
	}
}
