package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/felixgeelhaar/mneme/internal/memory"
	"github.com/felixgeelhaar/mneme/internal/outbox"
	"github.com/felixgeelhaar/mneme/internal/provider"
)

const (
	DefaultGenerationProvider = "generation"
	DefaultSearchProvider     = "websearch"

	optRemember  = "remember"
	optSentiment = "sentiment"
)

// ErrOffline is returned by operations that cannot be parked for later.
var ErrOffline = errors.New("offline")

// AskRequest is one conversational turn.
type AskRequest struct {
	// Provider defaults to "generation".
	Provider string
	Prompt   string
	// Messages are earlier turns sent before Prompt.
	Messages []provider.Message
	// Remember stores the turn in memory once answered.
	Remember  bool
	Sentiment float64
	// OnPiece receives streamed pieces of the answer.
	OnPiece func(string)
}

// Answer is the outcome of Ask. Exactly one of Cached, Degraded and Pending
// may be set; none means a fresh answer.
type Answer struct {
	Text     string
	Provider string
	Usage    provider.Usage
	Cached   bool
	// Degraded answers come from memory because the provider failed.
	Degraded bool
	// Pending means the turn was parked in the outbox as ItemID.
	Pending bool
	ItemID  string
}

// Ask answers a prompt through the generation provider. Guard violations and
// unknown providers are returned as errors; other provider failures fall back
// to the closest remembered turn, or park the turn in the outbox.
func (c *Core) Ask(ctx context.Context, ar AskRequest) (*Answer, error) {
	name := ar.Provider
	if name == "" {
		name = DefaultGenerationProvider
	}
	if v := c.guard.CheckOperation(name, provider.MethodGenerate); v != nil {
		return nil, v
	}
	if v := c.guard.CheckPrompt(ar.Prompt); v != nil {
		return nil, v
	}

	req := provider.Request{Prompt: ar.Prompt, Messages: ar.Messages}
	if ar.Remember {
		req.Options = map[string]string{
			optRemember:  "true",
			optSentiment: strconv.FormatFloat(ar.Sentiment, 'f', -1, 64),
		}
	}

	if !c.connectivity.Online() {
		return c.park(ctx, name, req, nil)
	}

	key := answerKey(name, req)
	if text, ok := c.answers.Get(key); ok {
		return &Answer{Text: text, Provider: name, Cached: true}, nil
	}

	res, err := c.invoker.Invoke(ctx, name, provider.MethodGenerate, req, provider.OnPiece(ar.OnPiece))
	if err != nil {
		if provider.KindOf(err) == provider.KindUnavailable || ctx.Err() != nil {
			return nil, err
		}
		if ans := c.degraded(ctx, name, ar.Prompt); ans != nil {
			c.obs.Log().Warn().Str("provider", name).Err(err).Msg("answering from memory")
			return ans, nil
		}
		return c.park(ctx, name, req, err)
	}

	c.answers.Set(key, res.Text)
	if ar.Remember {
		c.rememberTurn(ctx, name, ar.Prompt, res.Text, ar.Sentiment)
	}
	return &Answer{Text: res.Text, Provider: name, Usage: res.Usage}, nil
}

func (c *Core) park(ctx context.Context, name string, req provider.Request, cause error) (*Answer, error) {
	it, err := c.outbox.Enqueue(ctx, name+"."+provider.MethodGenerate, req)
	if it == nil {
		return nil, errors.Join(cause, err)
	}
	if err != nil {
		c.obs.Log().Warn().Str("item", it.ID).Err(err).Msg("queued turn held in memory only")
	}
	return &Answer{Provider: name, Pending: true, ItemID: it.ID}, nil
}

func (c *Core) degraded(ctx context.Context, name, prompt string) *Answer {
	matches, err := c.memory.FindSimilar(ctx, prompt, 1)
	if err != nil || len(matches) == 0 || matches[0].Similarity <= 0 {
		return nil
	}
	r := matches[0].Record
	text := r.Text
	if answer, ok := r.Meta["answer"]; ok {
		text = answer
	}
	return &Answer{Text: text, Provider: name, Degraded: true, ItemID: r.ID}
}

// rememberTurn stores the prompt with its answer in the background.
func (c *Core) rememberTurn(ctx context.Context, name, prompt, answer string, sentiment float64) {
	task := func(ctx context.Context) error {
		_, err := c.memory.Remember(ctx, prompt, memory.Meta{
			Sentiment: sentiment,
			Attributes: map[string]string{
				"role":     "turn",
				"answer":   answer,
				"provider": name,
			},
		})
		return err
	}
	if c.dispatcher.Submit("memory.remember", task) {
		return
	}
	if err := task(ctx); err != nil {
		c.obs.Log().Error().Err(err).Msg("failed to remember turn")
	}
}

// resolved handles an outbox item that finally replayed.
func (c *Core) resolved(it outbox.Item, res *provider.Result) {
	name, method, err := it.Target()
	if err != nil || method != provider.MethodGenerate || res == nil {
		return
	}
	req, err := it.Request()
	if err != nil {
		return
	}
	c.answers.Set(answerKey(name, req), res.Text)
	if req.Options[optRemember] == "true" {
		sentiment, _ := strconv.ParseFloat(req.Options[optSentiment], 64)
		c.rememberTurn(context.Background(), name, req.Prompt, res.Text, sentiment)
	}
}

// answerKey identifies a conversation regardless of its options.
func answerKey(name string, req provider.Request) string {
	body, _ := json.Marshal(req.Conversation())
	sum := sha256.Sum256(append([]byte(name+"\x00"), body...))
	return hex.EncodeToString(sum[:])
}

// Search queries the websearch provider. It is not parked while offline.
func (c *Core) Search(ctx context.Context, query string, limit int) ([]provider.Hit, error) {
	if v := c.guard.CheckOperation(DefaultSearchProvider, provider.MethodSearch); v != nil {
		return nil, v
	}
	if v := c.guard.CheckPrompt(query); v != nil {
		return nil, v
	}
	if !c.connectivity.Online() {
		return nil, ErrOffline
	}
	res, err := c.invoker.Invoke(ctx, DefaultSearchProvider, provider.MethodSearch, provider.Request{Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}
	return res.Hits, nil
}

// Recall returns the k remembered records closest to query.
func (c *Core) Recall(ctx context.Context, query string, k int) ([]memory.Match, error) {
	if v := c.guard.CheckPrompt(query); v != nil {
		return nil, v
	}
	return c.memory.FindSimilar(ctx, query, k)
}
