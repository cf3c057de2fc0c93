package geo

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshruti113/packet-sentinel/internal/models"
)

type recordingLookuper struct {
	calls   atomic.Int32
	mu      sync.Mutex
	times   []time.Time
	release chan struct{}
	result  models.GeoResult
	err     error
}

func (l *recordingLookuper) Lookup(ctx context.Context, addr string) (models.GeoResult, error) {
	l.calls.Add(1)
	l.mu.Lock()
	l.times = append(l.times, time.Now())
	l.mu.Unlock()

	if l.release != nil {
		select {
		case <-l.release:
		case <-ctx.Done():
			return models.FailedGeo, ctx.Err()
		}
	}
	return l.result, l.err
}

func (l *recordingLookuper) callTimes() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]time.Time, len(l.times))
	copy(out, l.times)
	return out
}

type capturePublisher struct {
	mu      sync.Mutex
	updates []models.GeoUpdate
}

func (p *capturePublisher) PublishGeoUpdate(u models.GeoUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return nil
}

func (p *capturePublisher) all() []models.GeoUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.GeoUpdate(nil), p.updates...)
}

var mountainView = models.Resolved("US", "Mountain View", 37.4, -122.1)

func newTestEnricher(t *testing.T, l Lookuper, pub UpdatePublisher, opts Options) *Enricher {
	t.Helper()
	e, err := NewEnricher(l, pub, opts, nil)
	require.NoError(t, err)
	e.Start()
	t.Cleanup(e.Close)
	return e
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.MinInterval = 0
	opts.RequestTimeout = time.Second
	return opts
}

func TestResolve_NonPublicIsLocal(t *testing.T) {
	l := &recordingLookuper{result: mountainView}
	e := newTestEnricher(t, l, nil, fastOptions())

	for _, addr := range []string{"192.168.1.10", "10.0.0.1", "127.0.0.1", "169.254.1.1", "::1", "not-an-ip"} {
		assert.Equal(t, models.LocalNetwork, e.Resolve(addr), addr)
		assert.False(t, e.Pending(addr))
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), l.calls.Load())
}

func TestResolve_SingleLookupPerAddress(t *testing.T) {
	l := &recordingLookuper{result: mountainView, release: make(chan struct{})}
	pub := &capturePublisher{}
	e := newTestEnricher(t, l, pub, fastOptions())

	assert.Equal(t, models.Unresolved, e.Resolve("8.8.8.8"))
	assert.Equal(t, models.Unresolved, e.Resolve("8.8.8.8"))
	assert.True(t, e.Pending("8.8.8.8"))

	require.Eventually(t, func() bool { return l.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(l.release)

	require.Eventually(t, func() bool {
		r, ok := e.Cached("8.8.8.8")
		return ok && r.Kind == models.GeoResolved
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, mountainView, e.Resolve("8.8.8.8"))
	assert.False(t, e.Pending("8.8.8.8"))
	assert.Equal(t, int32(1), l.calls.Load())

	require.Eventually(t, func() bool { return len(pub.all()) == 1 }, time.Second, 5*time.Millisecond)
	u := pub.all()[0]
	assert.Equal(t, "8.8.8.8", u.Address)
	assert.Equal(t, "US Mountain View", u.Result.Location)
}

func TestResolve_RespectsMinInterval(t *testing.T) {
	l := &recordingLookuper{result: mountainView}
	opts := fastOptions()
	opts.MinInterval = 50 * time.Millisecond
	opts.Workers = 4
	e := newTestEnricher(t, l, nil, opts)

	addrs := []string{
		"1.1.1.1", "1.0.0.1", "8.8.8.8", "8.8.4.4",
		"9.9.9.9", "149.112.112.112", "208.67.222.222", "208.67.220.220",
	}

	var wg sync.WaitGroup
	for _, a := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			e.Resolve(addr)
		}(a)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return int(l.calls.Load()) == len(addrs) }, 3*time.Second, 5*time.Millisecond)

	times := l.callTimes()
	require.Len(t, times, len(addrs))
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, opts.MinInterval, "gap %d", i)
	}
}

func TestResolve_FailureIsTerminal(t *testing.T) {
	l := &recordingLookuper{err: errors.New("boom")}
	e := newTestEnricher(t, l, nil, fastOptions())

	assert.Equal(t, models.Unresolved, e.Resolve("203.0.113.9"))
	require.Eventually(t, func() bool {
		_, ok := e.Cached("203.0.113.9")
		return ok
	}, time.Second, 5*time.Millisecond)

	r := e.Resolve("203.0.113.9")
	assert.Equal(t, models.GeoFailed, r.Kind)
	assert.Equal(t, "Unknown", r.Label())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), l.calls.Load())
}

func TestResolve_PanicClearsInflight(t *testing.T) {
	l := LookupFunc(func(context.Context, string) (models.GeoResult, error) {
		panic("lookuper exploded")
	})
	e := newTestEnricher(t, l, nil, fastOptions())

	e.Resolve("198.51.100.7")
	require.Eventually(t, func() bool { return !e.Pending("198.51.100.7") }, time.Second, 5*time.Millisecond)

	r, ok := e.Cached("198.51.100.7")
	require.True(t, ok)
	assert.Equal(t, models.GeoFailed, r.Kind)
}

func TestResolve_QueueFullDrops(t *testing.T) {
	l := &recordingLookuper{result: mountainView, release: make(chan struct{})}
	opts := fastOptions()
	opts.Workers = 1
	opts.QueueSize = 1
	e := newTestEnricher(t, l, nil, opts)
	defer close(l.release)

	e.Resolve("1.1.1.1")
	require.Eventually(t, func() bool { return l.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	e.Resolve("1.0.0.1")
	assert.True(t, e.Pending("1.0.0.1"))

	assert.Equal(t, models.Unresolved, e.Resolve("8.8.8.8"))
	assert.False(t, e.Pending("8.8.8.8"), "dropped lookups stay unmarked")
}

func TestResolve_LRUBound(t *testing.T) {
	l := &recordingLookuper{result: mountainView}
	opts := fastOptions()
	opts.CacheSize = 2
	e := newTestEnricher(t, l, nil, opts)

	for _, a := range []string{"1.1.1.1", "8.8.8.8", "9.9.9.9"} {
		e.Resolve(a)
		addr := a
		require.Eventually(t, func() bool {
			_, ok := e.Cached(addr)
			return ok
		}, time.Second, 5*time.Millisecond)
	}

	_, ok := e.Cached("1.1.1.1")
	assert.False(t, ok, "oldest entry evicted")
	_, ok = e.Cached("9.9.9.9")
	assert.True(t, ok)
}

func TestResolve_NotStarted(t *testing.T) {
	l := &recordingLookuper{result: mountainView}
	e, err := NewEnricher(l, nil, fastOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, models.Unresolved, e.Resolve("8.8.8.8"))
	assert.False(t, e.Pending("8.8.8.8"))
	e.Close()
}

func TestNewEnricher_RequiresLookuper(t *testing.T) {
	_, err := NewEnricher(nil, nil, DefaultOptions(), nil)
	assert.Error(t, err)
}
