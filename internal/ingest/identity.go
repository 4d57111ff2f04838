package ingest

import (
	"strings"
)

// ResolveIdentity picks the canonical counterparty address: the alternate or
// linked identifier wins over the primary one when the protocol exposes
// both, since some protocols alias one logical contact across addresses.
func ResolveIdentity(primary, alternate string) string {
	if alternate != "" {
		return NormalizeIdentity(alternate)
	}
	return NormalizeIdentity(primary)
}

// NormalizeIdentity canonicalizes a protocol address: trims whitespace,
// lowercases, and strips the per-device suffix from the local part so every
// device of one contact maps to the same chat.
func NormalizeIdentity(identity string) string {
	identity = strings.ToLower(strings.TrimSpace(identity))
	local, domain, found := strings.Cut(identity, "@")
	if !found {
		return identity
	}
	if i := strings.IndexByte(local, ':'); i >= 0 {
		local = local[:i]
	}
	return local + "@" + domain
}

// IsBroadcastIdentity reports whether the address is a broadcast or system
// pseudo-contact, which the pipeline drops.
func IsBroadcastIdentity(identity string) bool {
	return strings.HasSuffix(identity, "@broadcast") || strings.HasSuffix(identity, "@newsletter")
}
