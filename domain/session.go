package domain

import "time"

// SSOSession tracks a federated login session. Sessions are independent: each
// one is invalidated on its own at logout or single logout, and nothing
// enforces one session per device.
type SSOSession struct {
	ID         string    `bson:"_id" json:"session_id"`
	UserID     string    `bson:"user_id" json:"user_id"`
	OrgID      string    `bson:"org_id,omitempty" json:"org_id,omitempty"`
	ProviderID string    `bson:"provider_id" json:"provider_id"`
	IPAddress  string    `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	ExpiresAt  time.Time `bson:"expires_at" json:"expires_at"`
}

// Valid reports whether the session has not yet expired.
func (s *SSOSession) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
