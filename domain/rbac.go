package domain

import "time"

// Built-in roles ordered by privilege. RoleLevel gives the ordering; unknown
// roles rank below viewer.
const (
	RoleSuperAdmin = "super_admin"
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleMember     = "member"
	RoleViewer     = "viewer"
)

var roleLevels = map[string]int{
	RoleSuperAdmin: 4,
	RoleOwner:      3,
	RoleAdmin:      2,
	RoleMember:     1,
	RoleViewer:     0,
}

// RoleLevel returns the privilege level of a role, or -1 for unknown roles.
func RoleLevel(role string) int {
	if lvl, ok := roleLevels[role]; ok {
		return lvl
	}
	return -1
}

// RBACPolicyConditions gate a dynamic grant. Every set condition must hold.
type RBACPolicyConditions struct {
	UserID     string            `bson:"user_id,omitempty" json:"user_id,omitempty"`
	ResourceID string            `bson:"resource_id,omitempty" json:"resource_id,omitempty"`
	TimeStart  *time.Time        `bson:"time_start,omitempty" json:"time_start,omitempty"`
	TimeEnd    *time.Time        `bson:"time_end,omitempty" json:"time_end,omitempty"`
	Attributes map[string]string `bson:"attributes,omitempty" json:"attributes,omitempty"`
}

// RBACPolicy grants permissions to a role within an organization, optionally
// narrowed by conditions. Permission strings are glob patterns ("org:*").
type RBACPolicy struct {
	ID          string                `bson:"_id,omitempty" json:"id"`
	OrgID       string                `bson:"org_id" json:"org_id"`
	Role        string                `bson:"role" json:"role"`
	Permissions []string              `bson:"permissions" json:"permissions"`
	Conditions  *RBACPolicyConditions `bson:"conditions,omitempty" json:"conditions,omitempty"`
	IsEnabled   bool                  `bson:"is_enabled" json:"is_enabled"`
	CreatedAt   time.Time             `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time             `bson:"updated_at" json:"updated_at"`
}
