package model

import "strings"

// NormalizeAddr trims whitespace and an optional "mailto:" prefix.
func NormalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "mailto:") {
		addr = strings.TrimSpace(addr[len("mailto:"):])
	}
	return addr
}

// AddrEqual compares two addresses case-insensitively after normalizing.
func AddrEqual(a, b string) bool {
	return strings.EqualFold(NormalizeAddr(a), NormalizeAddr(b))
}

// MayBeValidAddr is a rough validity check: at least 3 characters with an
// "@" and a ".".
func MayBeValidAddr(addr string) bool {
	return len(addr) >= 3 && strings.Contains(addr, "@") && strings.Contains(addr, ".")
}
