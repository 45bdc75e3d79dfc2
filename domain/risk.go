package domain

import "time"

// RiskLevel buckets a composite score for policy matching.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// LevelForScore maps a composite score onto a risk level.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score < 0.25:
		return RiskLow
	case score < 0.5:
		return RiskMedium
	case score < 0.75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// RiskFactors are the per-dimension scores that feed the composite.
type RiskFactors struct {
	Location float64 `json:"location"`
	Device   float64 `json:"device"`
	Network  float64 `json:"network"`
	Behavior float64 `json:"behavior"`
}

// RiskAssessment is the engine's verdict for one authentication attempt.
type RiskAssessment struct {
	UserID    string      `json:"user_id"`
	OrgID     string      `json:"org_id"`
	Score     float64     `json:"score"`
	Level     RiskLevel   `json:"level"`
	Factors   RiskFactors `json:"factors"`
	Anomalies []string    `json:"anomalies,omitempty"`
	Actions   []string    `json:"actions,omitempty"`
	AssessedAt time.Time  `json:"assessed_at"`
}

// RiskContext is what the engine knows about the attempt being scored.
type RiskContext struct {
	UserID      string
	OrgID       string
	IPAddress   string
	DeviceID    string
	UserAgent   string
	Country     string
	City        string
	Latitude    float64
	Longitude   float64
	Timestamp   time.Time
	MFAVerified bool
}

// DeviceProfile tracks a device the platform has seen for a user.
type DeviceProfile struct {
	ID         string    `bson:"_id,omitempty" json:"id"`
	UserID     string    `bson:"user_id" json:"user_id"`
	DeviceID   string    `bson:"device_id" json:"device_id"`
	UserAgent  string    `bson:"user_agent" json:"user_agent"`
	TrustScore float64   `bson:"trust_score" json:"trust_score"`
	FirstSeen  time.Time `bson:"first_seen" json:"first_seen"`
	LastSeen   time.Time `bson:"last_seen" json:"last_seen"`
}

// IPIntel is reputation data for a source address. Reputation runs 0..1
// where 1 is clean.
type IPIntel struct {
	IP           string  `bson:"_id" json:"ip"`
	Reputation   float64 `bson:"reputation" json:"reputation"`
	Blacklisted  bool    `bson:"blacklisted" json:"blacklisted"`
	IsVPN        bool    `bson:"is_vpn" json:"is_vpn"`
	IsTor        bool    `bson:"is_tor" json:"is_tor"`
	IsProxy      bool    `bson:"is_proxy" json:"is_proxy"`
	IsDatacenter bool    `bson:"is_datacenter" json:"is_datacenter"`
	Country      string  `bson:"country,omitempty" json:"country,omitempty"`
}

// LoginRecord is a prior successful login used for travel-feasibility and
// new-location checks.
type LoginRecord struct {
	UserID    string    `bson:"user_id" json:"user_id"`
	IPAddress string    `bson:"ip_address" json:"ip_address"`
	Country   string    `bson:"country" json:"country"`
	City      string    `bson:"city" json:"city"`
	Latitude  float64   `bson:"latitude" json:"latitude"`
	Longitude float64   `bson:"longitude" json:"longitude"`
	LoginAt   time.Time `bson:"login_at" json:"login_at"`
}

// AdaptiveCondition is one leaf test in an adaptive policy tree.
type AdaptiveCondition struct {
	Field    string   `bson:"field" json:"field"`
	Operator string   `bson:"operator" json:"operator"` // eq, in, not_in
	Value    string   `bson:"value,omitempty" json:"value,omitempty"`
	Values   []string `bson:"values,omitempty" json:"values,omitempty"`
}

// AdaptiveConditionGroup combines conditions and nested groups with a
// logical operator ("and" or "or").
type AdaptiveConditionGroup struct {
	Logic      string                   `bson:"logic" json:"logic"`
	Conditions []AdaptiveCondition      `bson:"conditions,omitempty" json:"conditions,omitempty"`
	Groups     []AdaptiveConditionGroup `bson:"groups,omitempty" json:"groups,omitempty"`
}

// AdaptivePolicy maps assessed risk onto required actions (mfa, block,
// notify) when its condition tree matches the attempt.
type AdaptivePolicy struct {
	ID         string                  `bson:"_id,omitempty" json:"id"`
	OrgID      string                  `bson:"org_id" json:"org_id"`
	Name       string                  `bson:"name" json:"name"`
	MinLevel   RiskLevel               `bson:"min_level" json:"min_level"`
	Conditions *AdaptiveConditionGroup `bson:"conditions,omitempty" json:"conditions,omitempty"`
	Actions    []string                `bson:"actions" json:"actions"`
	IsEnabled  bool                    `bson:"is_enabled" json:"is_enabled"`
	CreatedAt  time.Time               `bson:"created_at" json:"created_at"`
}
