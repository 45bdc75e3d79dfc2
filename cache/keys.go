package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Key namespaces. Every cached value lives under exactly one of these so the
// layers can be flushed independently.
const (
	AuthCodeTTLSeconds = 600
)

// HashKey hashes an opaque value before it is used in a cache key. Raw
// tokens and request payloads never appear in key space.
func HashKey(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// AuthCodeKey is the single-use authorization code slot.
func AuthCodeKey(code string) string {
	return fmt.Sprintf("oauth:code:%s", code)
}

// TokenValidationKey caches validated claims by token hash.
func TokenValidationKey(token string) string {
	return fmt.Sprintf("token:validation:%s", HashKey(token))
}

// PolicyEvalKey caches a policy decision by request hash.
func PolicyEvalKey(requestHash string) string {
	return fmt.Sprintf("policy:eval:%s", requestHash)
}

// PermKey caches one (user, resource, action) permission check.
func PermKey(userID, resource, action string) string {
	return fmt.Sprintf("perms:%s:%s:%s", userID, resource, action)
}

// PermPrefix is the invalidation prefix for all of a user's cached checks.
func PermPrefix(userID string) string {
	return fmt.Sprintf("perms:%s:", userID)
}

// PolicyEvalPrefix is the invalidation prefix for a tenant's cached policy
// decisions.
func PolicyEvalPrefix() string {
	return "policy:eval:"
}
