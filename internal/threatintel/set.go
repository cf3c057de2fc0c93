package threatintel

import (
	"encoding/binary"
	"net/netip"
)

// prefixSet answers containment queries over a fixed list of prefixes.
// Host entries live in an exact set; narrower networks are bucketed by
// their leading bits so a lookup scans only a handful of candidates.
type prefixSet struct {
	exact map[netip.Addr]struct{}
	v4    map[uint16][]netip.Prefix
	v6    map[uint32][]netip.Prefix
	wide  []netip.Prefix
	size  int
}

func newPrefixSet(prefixes []netip.Prefix) *prefixSet {
	s := &prefixSet{
		exact: make(map[netip.Addr]struct{}),
		v4:    make(map[uint16][]netip.Prefix),
		v6:    make(map[uint32][]netip.Prefix),
	}
	seen := make(map[netip.Prefix]struct{}, len(prefixes))
	for _, p := range prefixes {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		s.add(p)
	}
	return s
}

func (s *prefixSet) add(p netip.Prefix) {
	addr := p.Addr()
	switch {
	case p.Bits() == addr.BitLen():
		s.exact[addr] = struct{}{}
	case addr.Is4() && p.Bits() >= 16:
		k := v4Key(addr)
		s.v4[k] = append(s.v4[k], p)
	case addr.Is6() && p.Bits() >= 32:
		k := v6Key(addr)
		s.v6[k] = append(s.v6[k], p)
	default:
		s.wide = append(s.wide, p)
	}
	s.size++
}

func (s *prefixSet) contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	if _, ok := s.exact[addr]; ok {
		return true
	}

	var bucket []netip.Prefix
	if addr.Is4() {
		bucket = s.v4[v4Key(addr)]
	} else {
		bucket = s.v6[v6Key(addr)]
	}
	for _, p := range bucket {
		if p.Contains(addr) {
			return true
		}
	}
	for _, p := range s.wide {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (s *prefixSet) len() int { return s.size }

func v4Key(a netip.Addr) uint16 {
	b := a.As4()
	return binary.BigEndian.Uint16(b[:2])
}

func v6Key(a netip.Addr) uint32 {
	b := a.As16()
	return binary.BigEndian.Uint32(b[:4])
}
