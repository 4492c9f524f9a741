package memory

import (
	"math"
	"strings"
	"time"
)

// Weights are the importance term weights. They are tuning values.
type Weights struct {
	Sentiment float64 `json:"sentiment" yaml:"sentiment"`
	Recency   float64 `json:"recency" yaml:"recency"`
	Length    float64 `json:"length" yaml:"length"`
	Category  float64 `json:"category" yaml:"category"`
}

var DefaultWeights = Weights{Sentiment: 0.3, Recency: 0.4, Length: 0.2, Category: 0.1}

var DefaultCategoryWeights = map[Category]float64{
	CategoryGeneral:     0.5,
	CategoryTechnical:   0.8,
	CategoryPersonal:    0.9,
	CategoryCreative:    0.7,
	CategoryEducational: 0.8,
}

const (
	DefaultHalfLife   = 72 * time.Hour
	DefaultLengthNorm = 500

	similarityWeight = 0.6
	recencyWeight    = 0.2
	importanceWeight = 0.2
)

// Scorer computes importance and retrieval scores.
type Scorer struct {
	Weights         Weights
	CategoryWeights map[Category]float64
	HalfLife        time.Duration
	LengthNorm      int
}

func DefaultScorer() Scorer {
	return Scorer{
		Weights:         DefaultWeights,
		CategoryWeights: DefaultCategoryWeights,
		HalfLife:        DefaultHalfLife,
		LengthNorm:      DefaultLengthNorm,
	}
}

// Importance is |sentiment|*w1 + recency*w2 + min(1, len/norm)*w3 + category*w4,
// with every term clamped to [0,1] and the sum clamped again.
func (s Scorer) Importance(r *Record, now time.Time) float64 {
	norm := s.LengthNorm
	if norm <= 0 {
		norm = DefaultLengthNorm
	}
	sentiment := clamp01(math.Abs(r.Sentiment))
	recency := s.Recency(r.Timestamp, now)
	length := clamp01(float64(len([]rune(r.Text))) / float64(norm))
	category := clamp01(s.categoryWeight(r.Category))

	return clamp01(sentiment*s.Weights.Sentiment +
		recency*s.Weights.Recency +
		length*s.Weights.Length +
		category*s.Weights.Category)
}

// Recency decays from 1 at creation, halving every HalfLife.
func (s Scorer) Recency(created, now time.Time) float64 {
	age := now.Sub(created)
	if age <= 0 {
		return 1
	}
	half := s.HalfLife
	if half <= 0 {
		half = DefaultHalfLife
	}
	return clamp01(math.Pow(0.5, float64(age)/float64(half)))
}

// Retrieval combines cosine similarity, recency and importance for FindSimilar.
// Negative similarity counts as zero.
func (s Scorer) Retrieval(similarity float64, r *Record, now time.Time) float64 {
	return similarityWeight*clamp01(similarity) +
		recencyWeight*s.Recency(r.Timestamp, now) +
		importanceWeight*clamp01(r.Importance)
}

func (s Scorer) categoryWeight(c Category) float64 {
	if w, ok := s.CategoryWeights[c]; ok {
		return w
	}
	return DefaultCategoryWeights[CategoryGeneral]
}

var categoryKeywords = []struct {
	category Category
	words    []string
}{
	{CategoryTechnical, []string{"code", "bug", "error", "api", "function", "server", "database", "deploy", "compile", "algorithm", "golang", "python", "network", "config"}},
	{CategoryPersonal, []string{"i feel", "my family", "my friend", "i am", "i'm", "birthday", "remember me", "favorite", "my name", "love"}},
	{CategoryCreative, []string{"story", "poem", "imagine", "design", "draw", "song", "write a", "idea", "creative", "paint"}},
	{CategoryEducational, []string{"explain", "learn", "teach", "what is", "how does", "why does", "history", "lesson", "study", "define"}},
}

// Categorize assigns a category from keyword hits. The category with the most
// hits wins, earlier categories win ties, and no hits means general.
func Categorize(text string) Category {
	lower := strings.ToLower(text)
	best, bestHits := CategoryGeneral, 0
	for _, ck := range categoryKeywords {
		hits := 0
		for _, w := range ck.words {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = ck.category, hits
		}
	}
	return best
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
