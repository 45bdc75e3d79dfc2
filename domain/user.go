package domain

import "time"

// User represents an authenticated principal. The ID is immutable once
// issued; the core never mutates users, it only reads them.
type User struct {
	ID            string            `bson:"_id,omitempty" json:"id"`
	Email         string            `bson:"email" json:"email"`
	EmailVerified bool              `bson:"email_verified" json:"email_verified"`
	Password      string            `bson:"password,omitempty" json:"-"` // bcrypt hash
	FirstName     string            `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName      string            `bson:"last_name,omitempty" json:"last_name,omitempty"`
	Picture       string            `bson:"picture,omitempty" json:"picture,omitempty"`
	OrgID         string            `bson:"org_id,omitempty" json:"org_id,omitempty"`
	Roles         []string          `bson:"roles,omitempty" json:"roles,omitempty"`
	Attributes    map[string]string `bson:"attributes,omitempty" json:"attributes,omitempty"`
	IsActive      bool              `bson:"is_active" json:"is_active"`
	CreatedAt     time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `bson:"updated_at" json:"updated_at"`
}

// FullName joins the first and last name, skipping empty parts.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// OrgMembership binds a user to an organization with a single role from the
// fixed hierarchy. Permission checks resolve the role through this record.
type OrgMembership struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	OrgID     string    `bson:"org_id" json:"org_id"`
	Role      string    `bson:"role" json:"role"`
	IsActive  bool      `bson:"is_active" json:"is_active"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// FederatedProfile is the mapped, transformed profile produced by the SSO
// orchestrator and handed to the user provisioner for JIT create-or-update.
type FederatedProfile struct {
	ProviderID string            `json:"provider_id"`
	ExternalID string            `json:"external_id"`
	Email      string            `json:"email"`
	FirstName  string            `json:"first_name,omitempty"`
	LastName   string            `json:"last_name,omitempty"`
	Groups     []string          `json:"groups,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
