package tablebase

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/endgametrainer/internal/cache"
	"github.com/freeeve/endgametrainer/internal/fen"
)

// Querier is the oracle query interface; satisfied by *Client.
type Querier interface {
	Query(ctx context.Context, fenStr string) (*Result, error)
}

// EvaluatorConfig configures the cache/dedup/oracle stack.
type EvaluatorConfig struct {
	Client        Querier
	CacheCapacity int           // entries, cache.DefaultCapacity if zero
	CacheTTL      time.Duration // zero disables expiry
	Logger        zerolog.Logger
}

// Evaluator is the front door of the oracle stack: it normalizes the FEN
// into a cache key, serves repeats from the LRU cache and funnels misses
// through the dedup table to the HTTP client.
type Evaluator struct {
	client Querier
	cache  *cache.LRU[*Result]
	dedup  *Dedup
	log    zerolog.Logger

	failures uint64
}

// NewEvaluator creates an evaluator around the given client.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	return &Evaluator{
		client: cfg.Client,
		cache:  cache.New[*Result](cfg.CacheCapacity, cfg.CacheTTL),
		dedup:  NewDedup(),
		log:    cfg.Logger,
	}
}

// Evaluate returns the oracle result for a position, fetching at most once
// per distinct key regardless of how many callers ask concurrently.
// Failed fetches are not cached.
func (e *Evaluator) Evaluate(ctx context.Context, fenStr string) (*Result, error) {
	key, err := fen.Normalize(fenStr)
	if err != nil {
		return nil, err
	}

	if res, ok := e.cache.Get(string(key)); ok {
		return res, nil
	}

	res, err := e.dedup.Do(ctx, key, func(fctx context.Context) (*Result, error) {
		res, err := e.client.Query(fctx, fenStr)
		if err != nil {
			atomic.AddUint64(&e.failures, 1)
			return nil, err
		}
		e.cache.Set(string(key), res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Peek returns the cached result for a position without fetching.
func (e *Evaluator) Peek(fenStr string) (*Result, bool) {
	key, err := fen.Normalize(fenStr)
	if err != nil {
		return nil, false
	}
	return e.cache.Get(string(key))
}

// EvaluatorStats snapshots the stack's counters.
type EvaluatorStats struct {
	CacheHits   uint64 `json:"cache_hits"`
	CacheMisses uint64 `json:"cache_misses"`
	CacheSize   int    `json:"cache_size"`
	Fetches     uint64 `json:"fetches"`
	DedupJoins  uint64 `json:"dedup_joins"`
	Failures    uint64 `json:"failures"`
	Pending     int    `json:"pending"`
}

// Stats returns current cache and dedup counters.
func (e *Evaluator) Stats() EvaluatorStats {
	hits, misses, size := e.cache.Stats()
	fetches, joins := e.dedup.Stats()
	return EvaluatorStats{
		CacheHits:   hits,
		CacheMisses: misses,
		CacheSize:   size,
		Fetches:     fetches,
		DedupJoins:  joins,
		Failures:    atomic.LoadUint64(&e.failures),
		Pending:     e.dedup.Pending(),
	}
}
