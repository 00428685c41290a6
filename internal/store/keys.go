package store

import "strings"

// Key layout shared by the Redis-backed stores. The tenant connection
// counter lives under the same limit namespace as the rate buckets so the
// session transaction scripts can mutate it alongside the session keys.
// The connection sets get their own top-level prefix: a suffix scheme
// like "sess:{t}:{s}:conns" would let a session id ending in ":conns"
// alias another session's set.
const (
	limitPrefix    = "limit:"
	sessionPrefix  = "sess:"
	connsPrefix    = "conns:"
	expiryIndexKey = "sess:expiry"
)

func limitKey(key string) string {
	return limitPrefix + key
}

func sessionKey(tenantID, sessionID string) string {
	return sessionPrefix + tenantID + ":" + sessionID
}

func sessionConnsKey(tenantID, sessionID string) string {
	return connsPrefix + tenantID + ":" + sessionID
}

// expiryMember encodes a session reference as an expiry-index member.
// Tenant ids must not contain ':'; session ids may.
func expiryMember(tenantID, sessionID string) string {
	return tenantID + ":" + sessionID
}

func parseExpiryMember(member string) (tenantID, sessionID string, ok bool) {
	parts := strings.SplitN(member, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
