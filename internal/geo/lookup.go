package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"

	"github.com/nshruti113/packet-sentinel/internal/models"
)

// ErrLookupFailed marks a lookup that completed without a usable location
var ErrLookupFailed = errors.New("geo lookup failed")

// Lookuper resolves one public address to a location. Implementations may
// block on I/O; the enricher only calls them from background workers.
type Lookuper interface {
	Lookup(ctx context.Context, addr string) (models.GeoResult, error)
}

// LookupFunc adapts a function to the Lookuper interface
type LookupFunc func(ctx context.Context, addr string) (models.GeoResult, error)

func (f LookupFunc) Lookup(ctx context.Context, addr string) (models.GeoResult, error) {
	return f(ctx, addr)
}

// HTTPLookuper queries an ip-api.com compatible JSON endpoint
type HTTPLookuper struct {
	endpoint string
	client   *http.Client
}

type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	CountryCode string  `json:"countryCode"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

// NewHTTPLookuper builds a lookuper; the address is appended to endpoint.
func NewHTTPLookuper(endpoint string, timeout time.Duration) *HTTPLookuper {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPLookuper{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (l *HTTPLookuper) Lookup(ctx context.Context, addr string) (models.GeoResult, error) {
	url := l.endpoint
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+addr, nil)
	if err != nil {
		return models.FailedGeo, fmt.Errorf("build request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return models.FailedGeo, fmt.Errorf("http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.FailedGeo, fmt.Errorf("%w: http status %d", ErrLookupFailed, resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.FailedGeo, fmt.Errorf("decode response: %w", err)
	}
	if body.Status != "success" {
		return models.FailedGeo, fmt.Errorf("%w: status %q %s", ErrLookupFailed, body.Status, body.Message)
	}

	return models.Resolved(body.CountryCode, body.City, body.Lat, body.Lon), nil
}

// MaxMindLookuper resolves addresses from a local MaxMind or DB-IP City database
type MaxMindLookuper struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
	path   string
}

// NewMaxMindLookuper opens the MMDB file at dbPath
func NewMaxMindLookuper(dbPath string) (*MaxMindLookuper, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("GeoIP database not found at %s", dbPath)
	}

	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}

	return &MaxMindLookuper{reader: reader, path: dbPath}, nil
}

func (m *MaxMindLookuper) Lookup(_ context.Context, addr string) (models.GeoResult, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return models.FailedGeo, fmt.Errorf("%w: invalid address %q", ErrLookupFailed, addr)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.reader == nil {
		return models.FailedGeo, fmt.Errorf("GeoIP database not loaded")
	}

	record, err := m.reader.City(ip)
	if err != nil {
		return models.FailedGeo, fmt.Errorf("lookup failed for %s: %w", addr, err)
	}
	if record.Country.IsoCode == "" {
		return models.FailedGeo, fmt.Errorf("%w: no country for %s", ErrLookupFailed, addr)
	}

	return models.Resolved(record.Country.IsoCode, record.City.Names["en"],
		record.Location.Latitude, record.Location.Longitude), nil
}

// Close releases the database resources.
func (m *MaxMindLookuper) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reader != nil {
		err := m.reader.Close()
		m.reader = nil
		return err
	}
	return nil
}
