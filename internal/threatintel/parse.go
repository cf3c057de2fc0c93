package threatintel

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strings"
)

// ParseList reads a newline-delimited blocklist of addresses and CIDR
// prefixes. Blank lines and '#' or ';' comments are ignored; lines that are
// neither an address nor a prefix are skipped and counted.
func ParseList(r io.Reader) (prefixes []netip.Prefix, skipped int, err error) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		// Handle inline comments
		if idx := strings.IndexAny(line, "#;"); idx != -1 {
			line = strings.TrimSpace(line[:idx])
		}

		p, ok := parseEntry(line)
		if !ok {
			skipped++
			continue
		}
		prefixes = append(prefixes, p)
	}

	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("failed to read blocklist: %w", err)
	}
	return prefixes, skipped, nil
}

// parseEntry accepts "a.b.c.d", "a.b.c.d/n" and their IPv6 forms.
// Bare addresses become single-host prefixes.
func parseEntry(s string) (netip.Prefix, bool) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, false
		}
		if p.Addr().Is4In6() && p.Bits() >= 96 {
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
		}
		return p.Masked(), true
	}

	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, false
	}
	a = a.Unmap()
	return netip.PrefixFrom(a, a.BitLen()), true
}
