package services

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCE challenge methods (RFC 7636).
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// ValidatePKCEChallenge checks a code verifier against a stored challenge.
// Comparisons run in constant time. Unknown methods always fail.
func ValidatePKCEChallenge(challenge, method, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}

	switch method {
	case PKCEMethodS256, "":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(computed)) == 1
	case PKCEMethodPlain:
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(verifier)) == 1
	default:
		return false
	}
}

// ValidPKCEMethod reports whether the challenge method is one we accept at
// authorization time.
func ValidPKCEMethod(method string) bool {
	return method == "" || method == PKCEMethodS256 || method == PKCEMethodPlain
}
