package domain

import "time"

// AuthCodeTTL is how long an authorization code stays exchangeable.
const AuthCodeTTL = 10 * time.Minute

// AuthCode represents an OAuth 2.0 authorization code. A code is single-use:
// it moves from issued to exchanged or expired and never back. The store must
// remove it atomically on exchange so that at most one concurrent token
// request succeeds.
type AuthCode struct {
	Code        string    `json:"code"`
	ClientID    string    `json:"client_id"`
	UserID      string    `json:"user_id"`
	RedirectURI string    `json:"redirect_uri"`
	Scope       string    `json:"scope"`
	Nonce       string    `json:"nonce,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`

	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}
