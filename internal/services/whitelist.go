package services

import (
	"fmt"
	"net/netip"
	"strings"
)

// parseWhitelistEntry accepts a single address or a CIDR range. A bare address
// becomes a /32 or /128 prefix. IPv4-mapped IPv6 entries are stored as plain
// IPv4 so they compare against unmapped caller addresses.
func parseWhitelistEntry(raw string) (netip.Prefix, error) {
	entry := strings.TrimSpace(raw)
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%q: %w", raw, ErrInvalidIPWhitelist)
		}
		if p.Addr().Is4In6() && p.Bits() >= 96 {
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%q: %w", raw, ErrInvalidIPWhitelist)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// normalizeWhitelist validates every entry and returns them in canonical form.
func normalizeWhitelist(entries []string) ([]string, error) {
	out := make([]string, 0, len(entries))
	for _, raw := range entries {
		p, err := parseWhitelistEntry(raw)
		if err != nil {
			return nil, err
		}
		if p.IsSingleIP() {
			out = append(out, p.Addr().String())
		} else {
			out = append(out, p.String())
		}
	}
	return out, nil
}

// ipAllowed reports whether ip falls inside the whitelist. An empty whitelist
// allows every caller. Entries that do not parse match nothing.
func ipAllowed(whitelist []string, ip string) bool {
	if len(whitelist) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, entry := range whitelist {
		p, err := parseWhitelistEntry(entry)
		if err != nil {
			continue
		}
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
