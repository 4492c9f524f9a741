package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/mneme/internal/cache"
	"github.com/felixgeelhaar/mneme/internal/events"
	"github.com/felixgeelhaar/mneme/internal/observe"
	"github.com/felixgeelhaar/mneme/internal/provider"
	"github.com/felixgeelhaar/mneme/internal/retry"
	"github.com/felixgeelhaar/mneme/internal/store"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrNotFound              = errors.New("memory record not found")
	ErrConsolidationInFlight = errors.New("consolidation already in progress")
	ErrEmptyText             = errors.New("memory text is empty")
)

const (
	DefaultWorkingThreshold     = 20
	DefaultPromoteThreshold     = 0.5
	DefaultSyncPersistThreshold = 0.7
	DefaultMaxEpisodic          = 1000
	DefaultPersistQueueSize     = 64
	DefaultPersistDebounce      = 2 * time.Second
	DefaultQueryCacheTTL        = 30 * time.Second
	DefaultQuerySweepInterval   = time.Minute
)

// Config holds the store's thresholds.
type Config struct {
	// WorkingThreshold triggers consolidation once the working tier is larger.
	WorkingThreshold int
	// PromoteThreshold is the importance a record must exceed to reach the episodic tier.
	PromoteThreshold float64
	// SyncPersistThreshold is the importance at which promotion writes synchronously.
	SyncPersistThreshold float64
	// MaxEpisodic is the soft cap enforced after consolidation. Zero disables it.
	MaxEpisodic      int
	PersistQueueSize int
	PersistDebounce  time.Duration
	QueryCacheTTL    time.Duration
	// QuerySweepInterval is how often expired query results are dropped.
	QuerySweepInterval time.Duration
	Retry              retry.Policy
}

func DefaultConfig() Config {
	return Config{
		WorkingThreshold:     DefaultWorkingThreshold,
		PromoteThreshold:     DefaultPromoteThreshold,
		SyncPersistThreshold: DefaultSyncPersistThreshold,
		MaxEpisodic:          DefaultMaxEpisodic,
		PersistQueueSize:     DefaultPersistQueueSize,
		PersistDebounce:      DefaultPersistDebounce,
		QueryCacheTTL:        DefaultQueryCacheTTL,
		QuerySweepInterval:   DefaultQuerySweepInterval,
		Retry:                retry.Default,
	}
}

type Option func(*Store)

// WithConfig replaces the default thresholds.
func WithConfig(cfg Config) Option {
	return func(s *Store) { s.cfg = cfg }
}

func WithScorer(sc Scorer) Option {
	return func(s *Store) { s.scorer = sc }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Store) { s.bus = events.OrDiscard(p) }
}

func WithObserver(o *observe.Observer) Option {
	return func(s *Store) { s.obs = observe.Or(o) }
}

// WithIndex enables similarity search through idx.
func WithIndex(idx Index) Option {
	return func(s *Store) {
		s.index = idx
		s.indexOn = idx != nil
	}
}

// WithClock overrides the time source used for timestamps and decay.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type cachedMatch struct {
	id         string
	similarity float64
	score      float64
}

// Store is the two-tier memory store. All methods are safe for concurrent use.
type Store struct {
	backend  store.Documents
	embedder Embedder
	scorer   Scorer
	cfg      Config
	bus      events.Publisher
	obs      *observe.Observer
	now      func() time.Time

	mu       sync.Mutex
	working  []*Record
	episodic map[string]*Record
	index    Index
	indexOn  bool

	queries       *cache.Cache[[]cachedMatch]
	persist       *persister
	consolidating atomic.Bool
}

// New creates a store over backend. A nil backend keeps the episodic tier in process.
func New(backend store.Documents, embedder Embedder, opts ...Option) *Store {
	if backend == nil {
		backend = store.NewMemoryStore()
	}
	s := &Store{
		backend:  backend,
		embedder: embedder,
		scorer:   DefaultScorer(),
		cfg:      DefaultConfig(),
		bus:      events.Discard{},
		obs:      observe.Nop(),
		now:      time.Now,
		episodic: make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.embedder == nil {
		s.embedder = HashEmbedder{}
	}

	s.queries = cache.New[[]cachedMatch](
		cache.WithDefaultTTL(s.cfg.QueryCacheTTL),
		cache.WithSweepInterval(s.cfg.QuerySweepInterval),
		cache.WithClock(s.now),
	)
	s.queries.Start()
	s.persist = newPersister(backend, s.cfg.Retry, s.cfg.PersistQueueSize, s.cfg.PersistDebounce, s.bus, s.obs)
	return s
}

// Load hydrates the episodic tier from the backend.
func (s *Store) Load(ctx context.Context) error {
	var docs []store.Document
	err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context, _ int) error {
		var err error
		docs, err = s.backend.List(ctx, collectionRecords)
		return err
	})
	if err != nil {
		return provider.StorageError("load memory", err)
	}

	loaded := make(map[string]*Record, len(docs))
	for _, doc := range docs {
		r, err := decodeRecord(doc.Body)
		if err != nil {
			s.obs.Log().Warn().Str("record", doc.Key).Err(err).Msg("skipping unreadable memory record")
			continue
		}
		r.Tier = TierEpisodic
		loaded[r.ID] = r
	}

	s.mu.Lock()
	for id, r := range loaded {
		s.episodic[id] = r
	}
	indexOn := s.indexOn
	s.queries.Clear()
	s.mu.Unlock()

	if indexOn {
		return s.RebuildIndex(ctx)
	}
	return nil
}

// Remember embeds, categorizes and scores text and adds it to the working tier.
// Embedding failures are returned as KindEmbedding errors and nothing is stored.
func (s *Store) Remember(ctx context.Context, text string, meta Meta) (*Record, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, provider.EmbeddingError(err)
	}

	now := s.now()
	category := meta.Category
	if !category.Valid() {
		category = Categorize(text)
	}
	r := &Record{
		ID:        ulid.Make().String(),
		Text:      text,
		Vector:    append([]float32(nil), vec...),
		Timestamp: now,
		Category:  category,
		Sentiment: clampSentiment(meta.Sentiment),
		Pinned:    meta.Pinned,
		Tier:      TierWorking,
	}
	if len(meta.Attributes) > 0 {
		r.Meta = make(map[string]string, len(meta.Attributes))
		for k, v := range meta.Attributes {
			r.Meta[k] = v
		}
	}
	r.Importance = s.scorer.Importance(r, now)

	s.mu.Lock()
	s.working = append(s.working, r)
	size := len(s.working)
	out := r.clone()
	s.queries.Clear()
	s.mu.Unlock()

	s.bus.Emit(events.MemoryStored, events.MemoryStoredPayload{
		ID:         r.ID,
		Tier:       string(TierWorking),
		Category:   string(r.Category),
		Importance: r.Importance,
	})

	if s.cfg.WorkingThreshold > 0 && size > s.cfg.WorkingThreshold {
		if _, err := s.Consolidate(ctx); err != nil && !errors.Is(err, ErrConsolidationInFlight) {
			s.obs.Log().Warn().Err(err).Msg("automatic consolidation incomplete")
		}
	}
	return out, nil
}

// Consolidation reports what a Consolidate pass did.
type Consolidation struct {
	Promoted  []string
	Discarded []string
	Evicted   []string
}

// Consolidate moves pinned and important working records to the episodic tier
// and discards the rest. Only one consolidation runs at a time; a concurrent
// call returns ErrConsolidationInFlight.
func (s *Store) Consolidate(ctx context.Context) (Consolidation, error) {
	var out Consolidation
	if !s.consolidating.CompareAndSwap(false, true) {
		return out, ErrConsolidationInFlight
	}
	defer s.consolidating.Store(false)

	ctx, span := s.obs.StartSpan(ctx, "memory.Consolidate")

	var syncWrites, asyncWrites []*Record
	var discarded []*Record

	s.mu.Lock()
	batch := s.working
	s.working = nil
	for _, r := range batch {
		if !r.Pinned && r.Importance <= s.cfg.PromoteThreshold {
			discarded = append(discarded, r)
			out.Discarded = append(out.Discarded, r.ID)
			continue
		}
		r.Tier = TierEpisodic
		s.episodic[r.ID] = r
		out.Promoted = append(out.Promoted, r.ID)
		if r.Pinned || r.Importance >= s.cfg.SyncPersistThreshold {
			syncWrites = append(syncWrites, r.clone())
		} else {
			asyncWrites = append(asyncWrites, r.clone())
		}
	}
	if len(batch) > 0 {
		s.queries.Clear()
	}
	indexOn := s.indexOn
	s.mu.Unlock()

	for _, r := range discarded {
		s.bus.Emit(events.MemoryEvicted, events.MemoryEvictedPayload{ID: r.ID, Reason: "discarded", Importance: r.Importance})
	}
	for _, r := range append(append([]*Record(nil), syncWrites...), asyncWrites...) {
		s.bus.Emit(events.MemoryStored, events.MemoryStoredPayload{
			ID:         r.ID,
			Tier:       string(TierEpisodic),
			Category:   string(r.Category),
			Importance: r.Importance,
		})
	}

	var errs []error
	for _, r := range syncWrites {
		if err := s.persist.writeNow(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	flush := false
	for _, r := range asyncWrites {
		if s.persist.enqueue(opWrite, r.ID, r) {
			flush = true
		}
	}
	if flush {
		if err := s.persist.flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if s.cfg.MaxEpisodic > 0 {
		evicted, err := s.Cleanup(ctx, s.cfg.MaxEpisodic)
		out.Evicted = evicted
		if err != nil {
			errs = append(errs, err)
		}
	}

	if indexOn && len(out.Promoted) > 0 {
		if err := s.RebuildIndex(ctx); err != nil {
			s.obs.Log().Warn().Err(err).Msg("index rebuild failed, using linear scan")
		}
	}

	span.SetAttributes(
		attribute.Int("promoted", len(out.Promoted)),
		attribute.Int("discarded", len(out.Discarded)),
		attribute.Int("evicted", len(out.Evicted)),
	)
	err := errors.Join(errs...)
	observe.EndSpan(span, err)
	return out, err
}

// FindSimilar returns the topK records across both tiers ranked by
// 0.6*cosine + 0.2*recency + 0.2*importance, highest first. Ties go to the
// newer record, then the smaller id. Returned records have their access
// counters updated.
func (s *Store) FindSimilar(ctx context.Context, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	key := fmt.Sprintf("%d\x00%s", topK, query)

	if hits, ok := s.queries.Get(key); ok {
		if matches, ok := s.resolveCached(ctx, hits); ok {
			return matches, nil
		}
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, provider.EmbeddingError(err)
	}

	s.mu.Lock()
	now := s.now()
	ranked := s.rank(ctx, vec, topK, now)
	hits := make([]cachedMatch, len(ranked))
	for i, m := range ranked {
		hits[i] = cachedMatch{id: m.Record.ID, similarity: m.Similarity, score: m.Score}
	}
	matches, flush := s.touch(ranked, now)
	s.queries.Set(key, hits)
	s.mu.Unlock()

	if flush {
		if err := s.persist.flush(ctx); err != nil {
			s.obs.Log().Warn().Err(err).Msg("access counter persist incomplete")
		}
	}
	return matches, nil
}

func (s *Store) resolveCached(ctx context.Context, hits []cachedMatch) ([]Match, bool) {
	s.mu.Lock()
	ranked := make([]Match, 0, len(hits))
	for _, h := range hits {
		r := s.lookup(h.id)
		if r == nil {
			s.mu.Unlock()
			return nil, false
		}
		ranked = append(ranked, Match{Record: r, Similarity: h.similarity, Score: h.score})
	}
	matches, flush := s.touch(ranked, s.now())
	s.mu.Unlock()

	if flush {
		if err := s.persist.flush(ctx); err != nil {
			s.obs.Log().Warn().Err(err).Msg("access counter persist incomplete")
		}
	}
	return matches, true
}

// touch bumps access counters and returns caller-owned copies. Callers hold s.mu.
func (s *Store) touch(ranked []Match, now time.Time) ([]Match, bool) {
	flush := false
	out := make([]Match, len(ranked))
	for i, m := range ranked {
		m.Record.Access.Count++
		m.Record.Access.LastAccess = now
		if m.Record.Tier == TierEpisodic && s.persist.enqueue(opWrite, m.Record.ID, m.Record) {
			flush = true
		}
		out[i] = Match{Record: m.Record.clone(), Similarity: m.Similarity, Score: m.Score}
	}
	return out, flush
}

// rank scores working and unindexed records linearly and indexed ones
// through the index. Callers hold s.mu.
func (s *Store) rank(ctx context.Context, vec []float32, topK int, now time.Time) []Match {
	var all []Match
	// A zero query has no direction to search by; every record then ranks
	// on recency and importance alone.
	useIndex := s.indexOn && s.index != nil && s.index.Len() > 0 && !isZero(vec)
	if useIndex {
		indexed, err := s.queryIndex(ctx, vec, topK, now)
		switch {
		case err != nil:
			s.obs.Log().Warn().Err(err).Msg("index query failed, using linear scan")
			useIndex = false
		case len(indexed) == 0:
			useIndex = false
		default:
			all = indexed
		}
	}

	score := func(r *Record) {
		sim := cosineSimilarity(vec, r.Vector)
		all = append(all, Match{Record: r, Similarity: sim, Score: s.scorer.Retrieval(sim, r, now)})
	}
	for _, r := range s.working {
		score(r)
	}
	for _, r := range s.episodic {
		if useIndex && s.index.Has(r.ID) {
			continue
		}
		score(r)
	}

	sortMatches(all)
	if len(all) > topK {
		all = all[:topK]
	}
	return all
}

// queryIndex widens the candidate set until no indexed record outside it
// could outscore the current topK. Similarities are recomputed exactly.
func (s *Store) queryIndex(ctx context.Context, vec []float32, topK int, now time.Time) ([]Match, error) {
	size := s.index.Len()
	n := topK * 2
	if n < 8 {
		n = 8
	}
	for {
		cands, err := s.index.Query(ctx, vec, n)
		if err != nil {
			return nil, err
		}
		floor := 1.0
		matches := make([]Match, 0, len(cands))
		for _, c := range cands {
			if c.Similarity < floor {
				floor = c.Similarity
			}
			r, ok := s.episodic[c.ID]
			if !ok {
				continue
			}
			sim := cosineSimilarity(vec, r.Vector)
			matches = append(matches, Match{Record: r, Similarity: sim, Score: s.scorer.Retrieval(sim, r, now)})
		}
		if len(cands) < n || n >= size {
			return matches, nil
		}
		sortMatches(matches)
		best := similarityWeight*clamp01(floor+1e-4) + recencyWeight + importanceWeight
		if len(matches) >= topK && matches[topK-1].Score > best {
			return matches, nil
		}
		n *= 2
	}
}

func sortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		if !ms[i].Record.Timestamp.Equal(ms[j].Record.Timestamp) {
			return ms[i].Record.Timestamp.After(ms[j].Record.Timestamp)
		}
		return ms[i].Record.ID < ms[j].Record.ID
	})
}

// lookup finds a record in either tier. Callers hold s.mu.
func (s *Store) lookup(id string) *Record {
	if r, ok := s.episodic[id]; ok {
		return r
	}
	for _, r := range s.working {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Pin exempts a record from eviction and discard. Pinning an episodic record
// writes it synchronously.
func (s *Store) Pin(ctx context.Context, id string) error {
	return s.setPinned(ctx, id, true)
}

// Unpin makes a record evictable again.
func (s *Store) Unpin(ctx context.Context, id string) error {
	return s.setPinned(ctx, id, false)
}

func (s *Store) setPinned(ctx context.Context, id string, pinned bool) error {
	s.mu.Lock()
	r := s.lookup(id)
	if r == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.Pinned == pinned {
		s.mu.Unlock()
		return nil
	}
	r.Pinned = pinned
	episodic := r.Tier == TierEpisodic
	snapshot := r.clone()
	s.mu.Unlock()

	if !episodic {
		return nil
	}
	if pinned {
		return s.persist.writeNow(ctx, snapshot)
	}
	if s.persist.enqueue(opWrite, id, snapshot) {
		return s.persist.flush(ctx)
	}
	return nil
}

// Cleanup evicts the lowest-importance unpinned episodic records, oldest
// first on ties, until at most max remain or only pinned records are left.
// It returns the evicted ids.
func (s *Store) Cleanup(ctx context.Context, max int) ([]string, error) {
	if max < 0 {
		max = 0
	}

	s.mu.Lock()
	excess := len(s.episodic) - max
	if excess <= 0 {
		s.mu.Unlock()
		return nil, nil
	}
	candidates := make([]*Record, 0, len(s.episodic))
	for _, r := range s.episodic {
		if !r.Pinned {
			candidates = append(candidates, r)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Importance != b.Importance {
			return a.Importance < b.Importance
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
	if excess > len(candidates) {
		excess = len(candidates)
	}
	evicted := candidates[:excess]
	for _, r := range evicted {
		delete(s.episodic, r.ID)
	}
	if len(evicted) > 0 {
		s.queries.Clear()
	}
	s.mu.Unlock()

	ids := make([]string, len(evicted))
	for i, r := range evicted {
		ids[i] = r.ID
		s.persist.enqueue(opDelete, r.ID, nil)
		s.bus.Emit(events.MemoryEvicted, events.MemoryEvictedPayload{ID: r.ID, Reason: "capacity", Importance: r.Importance})
	}
	if len(ids) == 0 {
		return nil, nil
	}
	s.obs.Log().Info().Int("evicted", len(ids)).Int("max", max).Msg("memory cleanup")
	return ids, s.persist.flush(ctx)
}

// Delete removes a record from either tier and from durable storage.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	var removed *Record
	if r, ok := s.episodic[id]; ok {
		removed = r
		delete(s.episodic, id)
	} else {
		for i, r := range s.working {
			if r.ID == id {
				removed = r
				s.working = append(s.working[:i:i], s.working[i+1:]...)
				break
			}
		}
	}
	if removed != nil {
		s.queries.Clear()
	}
	s.mu.Unlock()

	if removed == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.bus.Emit(events.MemoryEvicted, events.MemoryEvictedPayload{ID: id, Reason: "deleted", Importance: removed.Importance})
	if removed.Tier != TierEpisodic {
		return nil
	}
	s.persist.enqueue(opDelete, id, nil)
	return s.persist.flush(ctx)
}

// Rescore recomputes every record's importance at the current time and
// returns how many records changed.
func (s *Store) Rescore(ctx context.Context) (int, error) {
	s.mu.Lock()
	now := s.now()
	changed := 0
	flush := false
	rescore := func(r *Record) {
		imp := s.scorer.Importance(r, now)
		if imp == r.Importance {
			return
		}
		r.Importance = imp
		changed++
		if r.Tier == TierEpisodic && s.persist.enqueue(opWrite, r.ID, r) {
			flush = true
		}
	}
	for _, r := range s.working {
		rescore(r)
	}
	for _, r := range s.episodic {
		rescore(r)
	}
	if changed > 0 {
		s.queries.Clear()
	}
	s.mu.Unlock()

	if flush {
		return changed, s.persist.flush(ctx)
	}
	return changed, nil
}

// PersistAsync queues the stored state of r for a debounced durable write.
func (s *Store) PersistAsync(ctx context.Context, id string) error {
	s.mu.Lock()
	r := s.lookup(id)
	if r == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	full := s.persist.enqueue(opWrite, id, r)
	s.mu.Unlock()

	if full {
		return s.persist.flush(ctx)
	}
	return nil
}

// ForcePersist writes every pending change now.
func (s *Store) ForcePersist(ctx context.Context) error {
	return s.persist.flush(ctx)
}

// DiscardPending drops the queued write for id. It reports whether one was queued.
func (s *Store) DiscardPending(id string) bool {
	return s.persist.discard(id)
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.lookup(id)
	if r == nil {
		return nil, false
	}
	return r.clone(), true
}

// Working returns copies of the working tier in insertion order.
func (s *Store) Working() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, len(s.working))
	for i, r := range s.working {
		out[i] = r.clone()
	}
	return out
}

// Episodic returns copies of the episodic tier, oldest first.
func (s *Store) Episodic() []*Record {
	s.mu.Lock()
	out := make([]*Record, 0, len(s.episodic))
	for _, r := range s.episodic {
		out = append(out, r.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Working:       len(s.working),
		Episodic:      len(s.episodic),
		PendingWrites: s.persist.size(),
		IndexEnabled:  s.indexOn,
	}
	for _, r := range s.working {
		if r.Pinned {
			st.Pinned++
		}
	}
	for _, r := range s.episodic {
		if r.Pinned {
			st.Pinned++
		}
	}
	if s.indexOn && s.index != nil {
		st.IndexedRecords = s.index.Len()
	}
	return st
}

// EnableIndex turns on the similarity index, creating a chromem-go index if
// none was configured, and builds it.
func (s *Store) EnableIndex(ctx context.Context) error {
	s.mu.Lock()
	if s.index == nil {
		s.index = NewChromemIndex()
	}
	s.indexOn = true
	s.mu.Unlock()
	return s.RebuildIndex(ctx)
}

// DisableIndex reverts to linear scans.
func (s *Store) DisableIndex() {
	s.mu.Lock()
	s.indexOn = false
	s.queries.Clear()
	s.mu.Unlock()
}

// RebuildIndex re-indexes the current episodic tier.
func (s *Store) RebuildIndex(ctx context.Context) error {
	s.mu.Lock()
	idx := s.index
	records := make([]*Record, 0, len(s.episodic))
	for _, r := range s.episodic {
		records = append(records, r.clone())
	}
	s.mu.Unlock()

	if idx == nil {
		return nil
	}
	if err := idx.Rebuild(ctx, records); err != nil {
		return err
	}
	s.mu.Lock()
	s.queries.Clear()
	s.mu.Unlock()
	return nil
}

// Close flushes pending writes and stops the debounce timer.
func (s *Store) Close(ctx context.Context) error {
	err := s.persist.flush(ctx)
	s.persist.close()
	s.queries.Close()
	return err
}

func clampSentiment(v float64) float64 {
	switch {
	case v < -1:
		return -1
	case v > 1:
		return 1
	case v != v:
		return 0
	default:
		return v
	}
}
