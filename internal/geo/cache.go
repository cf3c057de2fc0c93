package geo

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nshruti113/packet-sentinel/internal/models"
)

// resultCache holds finished lookups. Callers serialise access.
type resultCache interface {
	Get(addr string) (models.GeoResult, bool)
	Add(addr string, r models.GeoResult)
	Len() int
}

type mapCache map[string]models.GeoResult

func (m mapCache) Get(addr string) (models.GeoResult, bool) {
	r, ok := m[addr]
	return r, ok
}

func (m mapCache) Add(addr string, r models.GeoResult) { m[addr] = r }

func (m mapCache) Len() int { return len(m) }

type lruCache struct {
	c *lru.Cache[string, models.GeoResult]
}

func (l lruCache) Get(addr string) (models.GeoResult, bool) { return l.c.Get(addr) }

func (l lruCache) Add(addr string, r models.GeoResult) { l.c.Add(addr, r) }

func (l lruCache) Len() int { return l.c.Len() }

// newResultCache returns an unbounded cache for size 0, an LRU otherwise
func newResultCache(size int) (resultCache, error) {
	if size <= 0 {
		return mapCache{}, nil
	}
	c, err := lru.New[string, models.GeoResult](size)
	if err != nil {
		return nil, err
	}
	return lruCache{c: c}, nil
}
