// Package geo resolves destination addresses to approximate locations
// without ever blocking the packet path. Lookups run on a small worker
// pool behind one process-wide rate limiter; results are cached for the
// life of the process and announced as late updates.
package geo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nshruti113/packet-sentinel/internal/logging"
	"github.com/nshruti113/packet-sentinel/internal/metrics"
	"github.com/nshruti113/packet-sentinel/internal/models"
)

// UpdatePublisher receives late geo results
type UpdatePublisher interface {
	PublishGeoUpdate(u models.GeoUpdate) error
}

// Options tunes the enricher
type Options struct {
	MinInterval    time.Duration
	RequestTimeout time.Duration
	Workers        int
	QueueSize      int
	CacheSize      int
}

func DefaultOptions() Options {
	return Options{
		MinInterval:    1500 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
		Workers:        2,
		QueueSize:      256,
	}
}

// Enricher is the geo enrichment subsystem
type Enricher struct {
	lookup    Lookuper
	publisher UpdatePublisher
	limiter   *rate.Limiter
	opts      Options
	logger    *zap.Logger

	mu       sync.Mutex
	cache    resultCache
	inflight map[string]struct{}

	// issueMu orders actual request starts; lastIssued is the latest one
	issueMu    sync.Mutex
	lastIssued time.Time

	queue   chan string
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewEnricher wires a Lookuper to the cache and worker pool. publisher may be nil.
func NewEnricher(lookup Lookuper, publisher UpdatePublisher, opts Options, logger *zap.Logger) (*Enricher, error) {
	if lookup == nil {
		return nil, fmt.Errorf("geo lookuper is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}

	cache, err := newResultCache(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create geo cache: %w", err)
	}

	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}

	return &Enricher{
		lookup:    lookup,
		publisher: publisher,
		limiter:   rate.NewLimiter(limit, 1),
		opts:      opts,
		logger:    logging.OrNop(logger).Named("geo"),
		cache:     cache,
		inflight:  make(map[string]struct{}),
		queue:     make(chan string, opts.QueueSize),
	}, nil
}

// Start launches the lookup workers.
func (e *Enricher) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.running = true

	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.logger.Info("geo enricher started", zap.Int("workers", e.opts.Workers), zap.Duration("min_interval", e.opts.MinInterval))
}

// Close stops the workers. Queued addresses are abandoned and unmarked.
func (e *Enricher) Close() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		select {
		case addr := <-e.queue:
			delete(e.inflight, addr)
		default:
			return
		}
	}
}

// Resolve returns what is known about addr right now and schedules a
// background lookup when nothing is known yet. It never blocks on I/O.
func (e *Enricher) Resolve(addr string) models.GeoResult {
	if !models.IsPublicAddress(addr) {
		return models.LocalNetwork
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.cache.Get(addr); ok {
		return r
	}
	if _, ok := e.inflight[addr]; ok {
		return models.Unresolved
	}
	if !e.running {
		return models.Unresolved
	}

	select {
	case e.queue <- addr:
		e.inflight[addr] = struct{}{}
	default:
		// queue full: leave unmarked so a later packet can retry
		metrics.ObserveGeoLookup(metrics.GeoDropped)
		e.logger.Debug("geo queue full, lookup deferred", zap.String("ip", addr))
	}
	return models.Unresolved
}

// Pending reports whether a lookup for addr is queued or running
func (e *Enricher) Pending(addr string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[addr]
	return ok
}

// Cached returns the cached result for addr, if any
func (e *Enricher) Cached(addr string) (models.GeoResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Get(addr)
}

func (e *Enricher) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case addr := <-e.queue:
			e.fetch(addr)
		}
	}
}

// fetch performs one rate-limited lookup. The in-flight marker is always
// cleared, including when the lookuper panics.
func (e *Enricher) fetch(addr string) {
	var (
		result models.GeoResult
		done   bool
	)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("geo lookup panicked", zap.String("ip", addr), zap.Any("panic", r))
			result, done = models.FailedGeo, true
		}
		e.finish(addr, result, done)
	}()

	ctx, cancel, err := e.acquire()
	if err != nil {
		// shutting down; leave uncached
		return
	}
	defer cancel()

	r, err := e.lookup.Lookup(ctx, addr)
	if err != nil {
		if e.ctx.Err() != nil {
			return
		}
		e.logger.Warn("geo lookup failed", zap.String("ip", addr), zap.Error(err))
		result, done = models.FailedGeo, true
		return
	}
	if r.Kind != models.GeoResolved {
		r = models.FailedGeo
	}
	result, done = r, true
}

// acquire blocks until this worker may issue a request. Consecutive
// requests start at least MinInterval apart, measured from when the
// previous one was actually issued rather than from its limiter slot.
func (e *Enricher) acquire() (context.Context, context.CancelFunc, error) {
	if err := e.limiter.Wait(e.ctx); err != nil {
		return nil, nil, err
	}

	e.issueMu.Lock()
	defer e.issueMu.Unlock()

	if e.opts.MinInterval > 0 && !e.lastIssued.IsZero() {
		if wait := e.opts.MinInterval - time.Since(e.lastIssued); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-e.ctx.Done():
				timer.Stop()
				return nil, nil, e.ctx.Err()
			}
		}
	}
	ctx, cancel := context.WithTimeout(e.ctx, e.opts.RequestTimeout)
	e.lastIssued = time.Now()
	return ctx, cancel, nil
}

func (e *Enricher) finish(addr string, result models.GeoResult, done bool) {
	e.mu.Lock()
	delete(e.inflight, addr)
	if done {
		e.cache.Add(addr, result)
	}
	entries := e.cache.Len()
	e.mu.Unlock()

	if !done {
		return
	}
	metrics.SetGeoCacheEntries(entries)

	if result.Kind != models.GeoResolved {
		metrics.ObserveGeoLookup(metrics.GeoFailed)
		return
	}
	metrics.ObserveGeoLookup(metrics.GeoResolved)

	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishGeoUpdate(models.GeoUpdate{Address: addr, Result: result}); err != nil {
		metrics.ObservePublishError("geo_update")
		e.logger.Warn("publish geo update failed", zap.String("ip", addr), zap.Error(err))
	}
}
