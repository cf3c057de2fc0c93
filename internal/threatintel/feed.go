// Package threatintel flags traffic to destinations listed on a public
// blocklist. The list is refreshed in the background and swapped in
// atomically, so Check never waits on a download.
package threatintel

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nshruti113/packet-sentinel/internal/clock"
	"github.com/nshruti113/packet-sentinel/internal/logging"
	"github.com/nshruti113/packet-sentinel/internal/metrics"
	"github.com/nshruti113/packet-sentinel/internal/models"
)

// FeedSource is the alert source for blocklist matches
const FeedSource = "ThreatIntel Feed"

// DefaultSource is the FireHOL level 1 list
const DefaultSource = "https://raw.githubusercontent.com/firehol/blocklist-ipsets/master/firehol_level1.netset"

// maxListSize caps how much of a download is read
const maxListSize = 32 * 1024 * 1024

// ErrEmptyList is returned when a fetched list has no usable entries
var ErrEmptyList = errors.New("blocklist has no valid entries")

// Options configures a Feed
type Options struct {
	Name            string
	Source          string
	RefreshInterval time.Duration
	RequestTimeout  time.Duration
}

func DefaultOptions() Options {
	return Options{
		Name:            "FireHOL L1",
		Source:          DefaultSource,
		RefreshInterval: 24 * time.Hour,
		RequestTimeout:  10 * time.Second,
	}
}

type snapshot struct {
	set     *prefixSet
	updated time.Time
}

// Feed is a refreshable blocklist
type Feed struct {
	opts   Options
	client *http.Client
	clock  clock.Clock
	logger *zap.Logger

	current atomic.Pointer[snapshot]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFeed creates an empty feed. Nothing is flagged until the first
// successful Refresh.
func NewFeed(opts Options, clk clock.Clock, logger *zap.Logger) *Feed {
	def := DefaultOptions()
	if opts.Name == "" {
		opts.Name = def.Name
	}
	if opts.Source == "" {
		opts.Source = def.Source
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = def.RefreshInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}

	return &Feed{
		opts:   opts,
		client: &http.Client{Timeout: opts.RequestTimeout},
		clock:  clock.OrReal(clk),
		logger: logging.OrNop(logger).Named("threatintel").With(zap.String("feed", opts.Name)),
	}
}

// Name returns the feed's display name
func (f *Feed) Name() string { return f.opts.Name }

// Check returns a CRITICAL alert when addr falls inside a listed address or
// prefix. Non-public and unparsable addresses are never flagged.
func (f *Feed) Check(addr string) *models.Alert {
	if !models.IsPublicAddress(addr) {
		return nil
	}
	snap := f.current.Load()
	if snap == nil {
		return nil
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil || !snap.set.contains(ip) {
		return nil
	}

	a := models.NewAlert(models.AlertMaliciousIP, models.SeverityCritical, FeedSource, addr,
		fmt.Sprintf("Destination %s is on a known blocklist (%s).", addr, f.opts.Name), f.clock.Now())
	return &a
}

// Size returns the number of entries in the active list
func (f *Feed) Size() int {
	if snap := f.current.Load(); snap != nil {
		return snap.set.len()
	}
	return 0
}

// LastUpdate returns when the active list was loaded, zero if never
func (f *Feed) LastUpdate() time.Time {
	if snap := f.current.Load(); snap != nil {
		return snap.updated
	}
	return time.Time{}
}

// Refresh fetches and parses the source, then replaces the active list.
// On any error the previous list stays in place.
func (f *Feed) Refresh(ctx context.Context) error {
	err := f.refresh(ctx)
	metrics.ObserveBlocklistRefresh(f.opts.Name, f.Size(), f.LastUpdate(), err)
	if err != nil {
		f.logger.Error("blocklist refresh failed", zap.String("source", f.opts.Source), zap.Error(err))
		return err
	}
	f.logger.Info("blocklist updated", zap.Int("entries", f.Size()))
	return nil
}

func (f *Feed) refresh(ctx context.Context) error {
	body, err := f.open(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	prefixes, skipped, err := ParseList(io.LimitReader(body, maxListSize))
	if err != nil {
		return err
	}
	if skipped > 0 {
		f.logger.Debug("skipped malformed blocklist lines", zap.Int("skipped", skipped))
	}
	if len(prefixes) == 0 {
		return ErrEmptyList
	}

	f.current.Store(&snapshot{set: newPrefixSet(prefixes), updated: f.clock.Now()})
	return nil
}

// open returns a reader over the source, which is either an http(s) URL
// or a local file path.
func (f *Feed) open(ctx context.Context) (io.ReadCloser, error) {
	src := f.opts.Source
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		file, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("failed to open blocklist: %w", err)
		}
		return file, nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.RequestTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to download %s: %w", src, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("failed to download %s: status %d", src, resp.StatusCode)
	}

	// Handle gzip-compressed lists
	if strings.HasSuffix(src, ".gz") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return &readCloser{Reader: gz, closers: []func() error{gz.Close, resp.Body.Close}, cancel: cancel}, nil
	}
	return &readCloser{Reader: resp.Body, closers: []func() error{resp.Body.Close}, cancel: cancel}, nil
}

type readCloser struct {
	io.Reader
	closers []func() error
	cancel  context.CancelFunc
}

func (r *readCloser) Close() error {
	defer r.cancel()
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Start refreshes once immediately and then every RefreshInterval until
// Stop is called. Calling Start on a running feed does nothing.
func (f *Feed) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})

	go f.loop(ctx, f.done)
}

func (f *Feed) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	_ = f.Refresh(ctx)

	ticker := time.NewTicker(f.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = f.Refresh(ctx)
		}
	}
}

// Stop ends the refresh loop and waits for it to exit
func (f *Feed) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
