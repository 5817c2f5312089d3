package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/contentmesh/embedcache/pkg/embedding"
	"github.com/contentmesh/embedcache/pkg/observability"
)

// Generator produces an embedding for text, preferring the given model
// fingerprint and reporting the one actually used.
type Generator interface {
	Generate(ctx context.Context, text, fingerprint string) (*embedding.GenerateResult, error)
}

// AcquireOptions modify a single Acquire call.
type AcquireOptions struct {
	// Force skips the tier probe and regenerates. The fresh result still
	// writes through to every tier.
	Force bool

	// LookupOnly answers from cache alone: a miss returns ErrNotFound
	// without consulting the breaker or any provider.
	LookupOnly bool
}

// FacadeConfig configures the cache facade.
type FacadeConfig struct {
	// DefaultFingerprint is the model used when no pin is active.
	DefaultFingerprint string

	// DimensionContract rejects cached and generated vectors of any
	// other length (0 = unenforced).
	DimensionContract int

	// EntryTTL expires durable-tier entries (0 = no expiry).
	EntryTTL time.Duration

	// ProbeTimeout bounds the whole tier probe; once exceeded the
	// remaining tiers are skipped and the probe reports a miss
	// (0 = unbounded).
	ProbeTimeout time.Duration

	// DedupeInFlight shares one generation among concurrent requests for
	// the same key instead of letting each pay for its own provider call.
	DedupeInFlight bool
}

// Facade orchestrates the tiered cache, the circuit breaker, and the
// provider router behind one operation. Transient provider and storage
// problems never escape it: every failure path degrades to ErrNotFound
// and the detail goes to the log.
type Facade struct {
	config  FacadeConfig
	keys    *embedding.KeyBuilder
	tiers   []Tier
	breaker *embedding.CircuitBreaker
	router  Generator
	logger  observability.Logger
	metrics observability.MetricsClient

	// modelPin holds the fingerprint of the last fallback winner. It is
	// consumed by the next Acquire and cleared, so exactly one request
	// inherits it.
	mu       sync.Mutex
	modelPin string

	group *singleflight.Group

	hits         atomic.Int64
	misses       atomic.Int64
	generations  atomic.Int64
	fallbackWins atomic.Int64
	breakerSkips atomic.Int64
	tierHits     map[string]*atomic.Int64
}

// Stats is a point-in-time snapshot of facade activity since startup.
type Stats struct {
	Hits          int64                           `json:"hits"`
	Misses        int64                           `json:"misses"`
	Generations   int64                           `json:"generations"`
	FallbackWins  int64                           `json:"fallback_wins"`
	BreakerSkips  int64                           `json:"breaker_skips"`
	TierHits      map[string]int64                `json:"tier_hits"`
	MemoryEntries int                             `json:"memory_entries"`
	Breaker       *embedding.CircuitBreakerStatus `json:"breaker"`
}

// NewFacade builds a facade over the given tiers, probed in the order
// supplied. A nil breaker gets an enabled one with the default cooldown.
func NewFacade(config FacadeConfig, tiers []Tier, generator Generator, breaker *embedding.CircuitBreaker, logger observability.Logger, metrics observability.MetricsClient) (*Facade, error) {
	if config.DefaultFingerprint == "" {
		return nil, errors.New("default fingerprint required")
	}
	if len(tiers) == 0 {
		return nil, errors.New("at least one cache tier required")
	}
	if generator == nil {
		return nil, errors.New("generator required")
	}
	if breaker == nil {
		breaker = embedding.NewCircuitBreaker(embedding.CircuitBreakerConfig{Enabled: true})
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	f := &Facade{
		config:   config,
		keys:     embedding.NewKeyBuilder(nil),
		tiers:    tiers,
		breaker:  breaker,
		router:   generator,
		logger:   logger,
		metrics:  metrics,
		tierHits: make(map[string]*atomic.Int64, len(tiers)),
	}
	for _, tier := range tiers {
		f.tierHits[tier.Name()] = &atomic.Int64{}
	}
	if config.DedupeInFlight {
		f.group = &singleflight.Group{}
	}
	return f, nil
}

// Acquire returns the embedding for text, serving from cache when it
// can and generating when it must. ErrNotFound is the only error it
// returns: lookup-only misses, an open breaker, and exhausted providers
// all collapse to it.
func (f *Facade) Acquire(ctx context.Context, text string, opts AcquireOptions) (embedding.Vector, error) {
	ctx, span := observability.StartSpan(ctx, "cache.acquire")
	defer span.End()

	fingerprint := f.takePin()
	if fingerprint == "" {
		fingerprint = f.config.DefaultFingerprint
	}
	key := f.keys.BuildKey(text, fingerprint)

	span.SetAttribute(string(observability.ModelAttributeKey), fingerprint)
	span.SetAttribute("cache.force", opts.Force)

	if !opts.Force {
		probeStart := time.Now()
		entry, aborted := f.probe(ctx, key)
		if entry != nil {
			f.hits.Add(1)
			f.metrics.RecordCacheOperation("lookup", true, time.Since(probeStart).Seconds())
			return entry.Embedding, nil
		}
		f.metrics.RecordCacheOperation("lookup", false, time.Since(probeStart).Seconds())
		if aborted {
			// The probe deadline elapsed or the caller cancelled; do not
			// start a provider call on top of an already blown budget.
			f.misses.Add(1)
			return nil, ErrNotFound
		}
	}

	if opts.LookupOnly {
		f.misses.Add(1)
		return nil, ErrNotFound
	}

	if !f.breaker.Allow() {
		f.breakerSkips.Add(1)
		f.misses.Add(1)
		f.logger.Debug("generation suppressed by open circuit breaker", map[string]interface{}{
			"key": key.String(),
		})
		f.metrics.IncrementCounter("cache.breaker_skips", 1)
		return nil, ErrNotFound
	}

	vector, err := f.generate(ctx, text, fingerprint, key)
	if err != nil {
		f.misses.Add(1)
		return nil, ErrNotFound
	}
	return vector, nil
}

// probe walks the tiers in order and returns the first entry satisfying
// the dimension contract. A degraded tier and a contract violation both
// count as a miss for that tier; probing continues. Hits from any tier
// past the first are promoted into the first. The second return reports
// whether the walk was cut short by the probe deadline or caller
// cancellation.
func (f *Facade) probe(ctx context.Context, key embedding.Key) (*Entry, bool) {
	if f.config.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.config.ProbeTimeout)
		defer cancel()
	}

	for i, tier := range f.tiers {
		if err := ctx.Err(); err != nil {
			f.logger.Warn("tier probe abandoned", map[string]interface{}{
				"key":   key.String(),
				"tier":  tier.Name(),
				"error": err.Error(),
			})
			return nil, true
		}

		entry, err := tier.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				f.logger.Warn("cache tier degraded, treating as miss", map[string]interface{}{
					"tier":  tier.Name(),
					"key":   key.String(),
					"error": err.Error(),
				})
				f.metrics.IncrementCounterWithLabels("cache.tier_failures", 1, map[string]string{
					"tier": tier.Name(),
				})
			}
			continue
		}

		if f.config.DimensionContract > 0 && len(entry.Embedding) != f.config.DimensionContract {
			f.logger.Debug("cached entry violates dimension contract", map[string]interface{}{
				"tier":     tier.Name(),
				"key":      key.String(),
				"expected": f.config.DimensionContract,
				"actual":   len(entry.Embedding),
			})
			continue
		}

		f.tierHits[tier.Name()].Add(1)
		f.metrics.IncrementCounterWithLabels("cache.tier_hits", 1, map[string]string{
			"tier": tier.Name(),
		})
		if i > 0 {
			f.promote(ctx, entry)
		}
		return entry, false
	}
	return nil, ctx.Err() != nil
}

// generate runs the provider path, optionally deduplicating concurrent
// requests for the same key through a single flight.
func (f *Facade) generate(ctx context.Context, text, fingerprint string, key embedding.Key) (embedding.Vector, error) {
	if f.group != nil {
		v, err, _ := f.group.Do(key.String(), func() (interface{}, error) {
			return f.generateOnce(ctx, text, fingerprint, key)
		})
		if err != nil {
			return nil, err
		}
		return v.(embedding.Vector), nil
	}
	return f.generateOnce(ctx, text, fingerprint, key)
}

func (f *Facade) generateOnce(ctx context.Context, text, fingerprint string, key embedding.Key) (embedding.Vector, error) {
	result, err := f.router.Generate(ctx, text, fingerprint)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The caller walked away mid-chain; that says nothing about
			// provider health, so the breaker stays untouched.
			f.logger.Warn("embedding generation aborted", map[string]interface{}{
				"key":   key.String(),
				"error": err.Error(),
			})
			return nil, ErrNotFound
		}
		f.breaker.RecordFailure()
		f.logger.Warn("embedding generation failed, circuit breaker opened", map[string]interface{}{
			"key":   key.String(),
			"model": fingerprint,
			"error": err.Error(),
		})
		f.metrics.IncrementCounter("cache.generation_failures", 1)
		return nil, ErrNotFound
	}

	if f.config.DimensionContract > 0 && len(result.Vector) != f.config.DimensionContract {
		f.logger.Error("generated embedding violates dimension contract", map[string]interface{}{
			"model":    result.Fingerprint,
			"expected": f.config.DimensionContract,
			"actual":   len(result.Vector),
		})
		return nil, ErrNotFound
	}

	f.generations.Add(1)
	if result.Fallback {
		f.fallbackWins.Add(1)
		f.setPin(result.Fingerprint)
	}

	// The content hash carries no model component, so a fallback win
	// changes only the fingerprint half of the key.
	entry := &Entry{
		Fingerprint: result.Fingerprint,
		Hash:        key.Hash,
		Embedding:   result.Vector,
		Text:        text,
		CreatedAt:   time.Now().UTC(),
		TTL:         f.config.EntryTTL,
	}
	f.writeThrough(ctx, entry)
	return result.Vector, nil
}

// writeThrough stores the entry in every tier. Tiers fail independently;
// a failed write is logged and the remaining tiers still proceed.
func (f *Facade) writeThrough(ctx context.Context, entry *Entry) {
	for _, tier := range f.tiers {
		if err := tier.Put(ctx, entry); err != nil {
			f.logger.Warn("cache write-through failed", map[string]interface{}{
				"tier":  tier.Name(),
				"key":   entry.Key().String(),
				"error": err.Error(),
			})
			f.metrics.IncrementCounterWithLabels("cache.write_failures", 1, map[string]string{
				"tier": tier.Name(),
			})
		}
	}
}

// promote copies a deep-tier hit into the first tier so the next lookup
// stays in process.
func (f *Facade) promote(ctx context.Context, entry *Entry) {
	if err := f.tiers[0].Put(ctx, entry); err != nil {
		f.logger.Warn("cache promotion failed", map[string]interface{}{
			"tier":  f.tiers[0].Name(),
			"key":   entry.Key().String(),
			"error": err.Error(),
		})
	}
}

// takePin consumes the model pin. At most one request inherits a
// fallback winner as its default.
func (f *Facade) takePin() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	pin := f.modelPin
	f.modelPin = ""
	return pin
}

func (f *Facade) setPin(fingerprint string) {
	f.mu.Lock()
	f.modelPin = fingerprint
	f.mu.Unlock()
}

// HealthCheck reports per-tier health keyed by tier name.
func (f *Facade) HealthCheck(ctx context.Context) map[string]error {
	results := make(map[string]error, len(f.tiers))
	for _, tier := range f.tiers {
		results[tier.Name()] = tier.Health(ctx)
	}
	return results
}

// Stats returns a snapshot of cache activity.
func (f *Facade) Stats() Stats {
	tierHits := make(map[string]int64, len(f.tierHits))
	for name, counter := range f.tierHits {
		tierHits[name] = counter.Load()
	}
	stats := Stats{
		Hits:         f.hits.Load(),
		Misses:       f.misses.Load(),
		Generations:  f.generations.Load(),
		FallbackWins: f.fallbackWins.Load(),
		BreakerSkips: f.breakerSkips.Load(),
		TierHits:     tierHits,
		Breaker:      f.breaker.Status(),
	}
	for _, tier := range f.tiers {
		if sized, ok := tier.(interface{ Len() int }); ok {
			stats.MemoryEntries = sized.Len()
		}
	}
	return stats
}
