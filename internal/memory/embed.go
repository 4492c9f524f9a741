package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/felixgeelhaar/mneme/internal/provider"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

const DefaultHashDim = 256

// HashEmbedder is a deterministic bag-of-words placeholder: each lowercased
// token is hashed into one of Dim buckets and the counts are L2-normalized.
type HashEmbedder struct {
	Dim int
}

func (h HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := h.Dim
	if dim <= 0 {
		dim = DefaultHashDim
	}
	vec := make([]float32, dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		f := fnv.New32a()
		f.Write([]byte(tok))
		vec[f.Sum32()%uint32(dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// Invoker is the slice of provider.Invoker the memory package needs.
type Invoker interface {
	Invoke(ctx context.Context, providerName, methodName string, req provider.Request, opts ...provider.CallOption) (*provider.Result, error)
}

// ProviderEmbedder embeds through a registered adapter's embed method, so
// embedding calls get the invoker's timeout and retry.
type ProviderEmbedder struct {
	Invoker  Invoker
	Provider string
}

func (p ProviderEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := p.Invoker.Invoke(ctx, p.Provider, provider.MethodEmbed, provider.Request{Prompt: text})
	if err != nil {
		return nil, err
	}
	if len(res.Vector) == 0 {
		return nil, errors.New("embedding provider returned an empty vector")
	}
	return res.Vector, nil
}
