package domain

import "time"

// Client represents a registered OAuth2 client application. Clients are
// created by an external admin flow; the core only reads them. The secret is
// stored as a bcrypt hash and is never returned to callers.
type Client struct {
	ClientID       string    `bson:"_id" json:"client_id"`
	Name           string    `bson:"name" json:"name"`
	SecretHash     string    `bson:"secret_hash,omitempty" json:"-"`
	RedirectURIs   []string  `bson:"redirect_uris" json:"redirect_uris"`
	AllowedScopes  []string  `bson:"allowed_scopes,omitempty" json:"allowed_scopes,omitempty"`
	GrantTypes     []string  `bson:"grant_types,omitempty" json:"grant_types,omitempty"`
	IsConfidential bool      `bson:"is_confidential" json:"is_confidential"`
	IsActive       bool      `bson:"is_active" json:"is_active"`
	RequirePKCE    bool      `bson:"require_pkce" json:"require_pkce"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	LastUsedAt     time.Time `bson:"last_used_at,omitempty" json:"last_used_at,omitempty"`
}
