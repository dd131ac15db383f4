package ingest

import (
	"net/netip"
	"strconv"
	"strings"
)

// CanonicalHost lowercases hostname and rewrites IPv6 literals to their
// compressed form, so "[0:0:0:0:0:0:0:1]" and "0::1" both become "::1".
// Other hosts are returned lowercased and trimmed.
func CanonicalHost(hostname string) string {
	host := strings.ToLower(strings.TrimSpace(hostname))
	inner := strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if addr, err := netip.ParseAddr(inner); err == nil && addr.Is6() {
		return addr.String()
	}
	return host
}

// IsBlockedHostname reports whether a URL host must not be fetched.
//
// The check is string based and runs before DNS resolution, so names that
// resolve to private addresses pass. IPv6 ranges are matched by textual prefix
// ("fc", "fd", "fe80:"), which also catches ordinary names such as "fdic.gov".
// Keep both behaviors as they are; callers rely on them. IPv6 literals are
// compared in their canonical form.
func IsBlockedHostname(hostname string) bool {
	host := CanonicalHost(hostname)
	switch host {
	case "", "localhost", "::1", "::":
		return true
	}
	if hasBlockedIPv6Prefix(host) {
		return true
	}
	if addr, err := netip.ParseAddr(host); err == nil && addr.Is4In6() {
		host = addr.Unmap().String()
	}
	return isPrivateIPv4Literal(host)
}

func hasBlockedIPv6Prefix(host string) bool {
	return strings.HasPrefix(host, "fc") ||
		strings.HasPrefix(host, "fd") ||
		strings.HasPrefix(host, "fe80:")
}

func isPrivateIPv4Literal(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	var octets [4]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return false
		}
		octets[i] = n
	}
	switch {
	case octets[0] == 0, octets[0] == 10, octets[0] == 127:
		return true
	case octets[0] == 169 && octets[1] == 254:
		return true
	case octets[0] == 172 && octets[1] >= 16 && octets[1] <= 31:
		return true
	case octets[0] == 192 && octets[1] == 168:
		return true
	default:
		return false
	}
}
