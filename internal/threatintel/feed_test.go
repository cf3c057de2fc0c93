package threatintel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshruti113/packet-sentinel/internal/clock"
	"github.com/nshruti113/packet-sentinel/internal/models"
)

func TestParseList(t *testing.T) {
	input := `
# FireHOL level 1
1.2.3.4
   5.6.7.0/24   # inline comment
; semicolon comment
9.9.9.9 ; trailing
2001:db8::/32
invalid-ip
10.0.0.0/33
`
	prefixes, skipped, err := ParseList(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)

	var got []string
	for _, p := range prefixes {
		got = append(got, p.String())
	}
	assert.Equal(t, []string{"1.2.3.4/32", "5.6.7.0/24", "9.9.9.9/32", "2001:db8::/32"}, got)
}

func TestPrefixSet_Contains(t *testing.T) {
	prefixes, _, err := ParseList(strings.NewReader("1.2.3.4\n5.6.7.0/24\n100.0.0.0/8\n2001:db8::/32\n2a00::/12\n"))
	require.NoError(t, err)
	s := newPrefixSet(prefixes)
	assert.Equal(t, 5, s.len())

	tests := []struct {
		addr string
		want bool
	}{
		{"1.2.3.4", true},
		{"1.2.3.5", false},
		{"5.6.7.200", true},
		{"5.6.8.1", false},
		{"100.64.3.2", true},
		{"101.0.0.1", false},
		{"2001:db8:1::1", true},
		{"2001:db9::1", false},
		{"2a0f::1", true},
		{"::ffff:1.2.3.4", true},
	}
	for _, tc := range tests {
		t.Run(tc.addr, func(t *testing.T) {
			addr := mustAddr(t, tc.addr)
			assert.Equal(t, tc.want, s.contains(addr))
		})
	}
}

type listServer struct {
	mu     sync.Mutex
	body   string
	status int
}

func (s *listServer) set(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

func (s *listServer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.WriteHeader(s.status)
	_, _ = w.Write([]byte(s.body))
}

func newTestFeed(t *testing.T, src *listServer) (*Feed, *clock.MockClock) {
	t.Helper()
	srv := httptest.NewServer(src)
	t.Cleanup(srv.Close)

	clk := clock.NewMockClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	f := NewFeed(Options{Name: "test list", Source: srv.URL + "/level1.netset", RequestTimeout: time.Second}, clk, nil)
	return f, clk
}

func TestFeed_CheckAfterRefresh(t *testing.T) {
	src := &listServer{status: http.StatusOK, body: "8.8.8.8\n45.33.0.0/16\n"}
	f, clk := newTestFeed(t, src)

	assert.Nil(t, f.Check("8.8.8.8"), "empty feed flags nothing")

	require.NoError(t, f.Refresh(context.Background()))
	assert.Equal(t, 2, f.Size())
	assert.Equal(t, clk.Now(), f.LastUpdate())

	a := f.Check("8.8.8.8")
	require.NotNil(t, a)
	assert.Equal(t, models.AlertMaliciousIP, a.Type)
	assert.Equal(t, models.SeverityCritical, a.Severity)
	assert.Equal(t, FeedSource, a.Source)
	assert.Equal(t, "8.8.8.8", a.Address)
	assert.Contains(t, a.Message, "8.8.8.8")
	assert.Contains(t, a.Message, "test list")

	assert.NotNil(t, f.Check("45.33.32.156"))
	assert.Nil(t, f.Check("1.1.1.1"))
}

func TestFeed_RemovedEntryStopsMatching(t *testing.T) {
	src := &listServer{status: http.StatusOK, body: "8.8.8.8\n"}
	f, _ := newTestFeed(t, src)
	require.NoError(t, f.Refresh(context.Background()))
	require.NotNil(t, f.Check("8.8.8.8"))

	src.set(http.StatusOK, "1.1.1.1\n")
	require.NoError(t, f.Refresh(context.Background()))
	assert.Nil(t, f.Check("8.8.8.8"))
	assert.NotNil(t, f.Check("1.1.1.1"))
}

func TestFeed_FailedRefreshKeepsPrevious(t *testing.T) {
	src := &listServer{status: http.StatusOK, body: "8.8.8.8\n"}
	f, clk := newTestFeed(t, src)
	require.NoError(t, f.Refresh(context.Background()))
	loaded := f.LastUpdate()

	clk.Advance(time.Hour)

	src.set(http.StatusInternalServerError, "")
	assert.Error(t, f.Refresh(context.Background()))
	assert.NotNil(t, f.Check("8.8.8.8"))

	src.set(http.StatusOK, "# nothing here\nnot-an-address\n")
	assert.ErrorIs(t, f.Refresh(context.Background()), ErrEmptyList)
	assert.NotNil(t, f.Check("8.8.8.8"))
	assert.Equal(t, loaded, f.LastUpdate())
}

func TestFeed_NeverFlagsPrivate(t *testing.T) {
	src := &listServer{status: http.StatusOK, body: "192.168.0.0/16\n10.0.0.1\n127.0.0.1\n"}
	f, _ := newTestFeed(t, src)
	require.NoError(t, f.Refresh(context.Background()))

	for _, addr := range []string{"192.168.1.1", "10.0.0.1", "127.0.0.1", "garbage"} {
		assert.Nil(t, f.Check(addr), addr)
	}
}

func TestFeed_LocalFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.netset")
	require.NoError(t, os.WriteFile(path, []byte("203.0.113.0/24\n"), 0o644))

	f := NewFeed(Options{Source: path}, nil, nil)
	require.NoError(t, f.Refresh(context.Background()))
	assert.NotNil(t, f.Check("203.0.113.77"))
	assert.Equal(t, "FireHOL L1", f.Name())

	missing := NewFeed(Options{Source: filepath.Join(t.TempDir(), "absent")}, nil, nil)
	assert.ErrorIs(t, missing.Refresh(context.Background()), os.ErrNotExist)
}

func TestFeed_StartStop(t *testing.T) {
	src := &listServer{status: http.StatusOK, body: "8.8.8.8\n"}
	f, _ := newTestFeed(t, src)

	f.Start()
	f.Start()
	require.Eventually(t, func() bool { return f.Size() == 1 }, 2*time.Second, 5*time.Millisecond)

	f.Stop()
	f.Stop()
	assert.NotNil(t, f.Check("8.8.8.8"), "list survives stop")
}

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	require.NoError(t, err)
	return a
}
