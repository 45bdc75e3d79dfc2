package services

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
	"github.com/janua-io/janua/internal/metrics"
)

// Factor weights for the composite score. They sum to 1, and the composite
// is capped at 1.
const (
	weightLocation = 0.30
	weightDevice   = 0.25
	weightNetwork  = 0.25
	weightBehavior = 0.20
)

// Travel faster than this between consecutive logins is flagged impossible.
const maxTravelSpeedKmh = 1000.0

// defaultReputation applies when no intelligence exists for an address.
const defaultReputation = 0.7

// RiskService scores authentication attempts across location, device,
// network and behavior dimensions and matches adaptive policies against the
// result.
type RiskService struct {
	devices  domain.DeviceRepository
	policies domain.AdaptivePolicyRepository
	detector domain.AnomalyDetector
	now      func() time.Time
}

// NewRiskService creates a new RiskService. detector may be nil; the
// behavior factor is then zero.
func NewRiskService(devices domain.DeviceRepository, policies domain.AdaptivePolicyRepository, detector domain.AnomalyDetector) *RiskService {
	return &RiskService{
		devices:  devices,
		policies: policies,
		detector: detector,
		now:      time.Now,
	}
}

// Assess scores one authentication attempt. Intelligence lookups that fail
// degrade to conservative defaults rather than blocking the login.
func (s *RiskService) Assess(ctx context.Context, rc *domain.RiskContext) (*domain.RiskAssessment, error) {
	var anomalies []string

	location, locAnomalies := s.locationScore(ctx, rc)
	anomalies = append(anomalies, locAnomalies...)

	device, devAnomalies := s.deviceScore(ctx, rc)
	anomalies = append(anomalies, devAnomalies...)

	network, netAnomalies := s.networkScore(ctx, rc)
	anomalies = append(anomalies, netAnomalies...)

	behavior := 0.0
	if s.detector != nil {
		score, findings, err := s.detector.Score(ctx, rc)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("anomaly detector failed, behavior factor defaults to zero")
		} else {
			behavior = clamp01(score)
			anomalies = append(anomalies, findings...)
		}
	}

	composite := weightLocation*location +
		weightDevice*device +
		weightNetwork*network +
		weightBehavior*behavior
	composite = clamp01(composite)

	assessment := &domain.RiskAssessment{
		UserID: rc.UserID,
		OrgID:  rc.OrgID,
		Score:  composite,
		Level:  domain.LevelForScore(composite),
		Factors: domain.RiskFactors{
			Location: location,
			Device:   device,
			Network:  network,
			Behavior: behavior,
		},
		Anomalies:  anomalies,
		AssessedAt: s.now(),
	}

	actions, err := s.matchAdaptivePolicies(ctx, rc, assessment)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("adaptive policy lookup failed")
	} else {
		assessment.Actions = actions
	}

	if metrics.RiskAssessmentsTotal != nil {
		metrics.RiskAssessmentsTotal.WithLabelValues(string(assessment.Level)).Inc()
	}

	s.recordLogin(ctx, rc)
	return assessment, nil
}

func (s *RiskService) locationScore(ctx context.Context, rc *domain.RiskContext) (float64, []string) {
	if rc.IPAddress == "" {
		return 0.5, []string{"missing_source_ip"}
	}

	var anomalies []string
	score := 0.0

	intel, err := s.devices.GetIPIntel(ctx, rc.IPAddress)
	if err == nil && intel != nil && (intel.IsVPN || intel.IsTor || intel.IsProxy) {
		score += 0.3
		anomalies = append(anomalies, "anonymized_network")
	}

	last, err := s.devices.LastLogin(ctx, rc.UserID)
	if err != nil || last == nil {
		return clamp01(score), anomalies
	}

	if rc.Country != "" && last.Country != "" && rc.Country != last.Country {
		score += 0.2
		anomalies = append(anomalies, "new_location")
	}

	if impossibleTravel(last, rc) {
		score += 0.4
		anomalies = append(anomalies, "impossible_travel")
	}

	return clamp01(score), anomalies
}

func impossibleTravel(last *domain.LoginRecord, rc *domain.RiskContext) bool {
	if last.Latitude == 0 && last.Longitude == 0 {
		return false
	}
	if rc.Latitude == 0 && rc.Longitude == 0 {
		return false
	}
	elapsed := rc.Timestamp.Sub(last.LoginAt).Hours()
	if elapsed <= 0 {
		elapsed = 1.0 / 3600 // one second floor
	}
	distance := haversineKm(last.Latitude, last.Longitude, rc.Latitude, rc.Longitude)
	return distance/elapsed > maxTravelSpeedKmh
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func (s *RiskService) deviceScore(ctx context.Context, rc *domain.RiskContext) (float64, []string) {
	if rc.DeviceID == "" {
		return 0.6, []string{"missing_device_id"}
	}

	profile, err := s.devices.GetProfile(ctx, rc.UserID, rc.DeviceID)
	if err != nil || profile == nil {
		return 0.5, []string{"first_seen_device"}
	}

	return clamp01(1 - profile.TrustScore), nil
}

func (s *RiskService) networkScore(ctx context.Context, rc *domain.RiskContext) (float64, []string) {
	if rc.IPAddress == "" {
		return 0, nil
	}

	intel, err := s.devices.GetIPIntel(ctx, rc.IPAddress)
	if err != nil || intel == nil {
		return 0, nil
	}

	var anomalies []string
	// Reputation at or above the baseline contributes nothing; only the
	// shortfall below it scores.
	score := math.Max(0, defaultReputation-clamp01(intel.Reputation))

	if intel.Blacklisted {
		if score < 0.5 {
			score = 0.5
		}
		anomalies = append(anomalies, "blacklisted_ip")
	}
	if intel.IsDatacenter {
		score += 0.2
		anomalies = append(anomalies, "datacenter_ip")
	}

	return clamp01(score), anomalies
}

func (s *RiskService) recordLogin(ctx context.Context, rc *domain.RiskContext) {
	rec := &domain.LoginRecord{
		UserID:    rc.UserID,
		IPAddress: rc.IPAddress,
		Country:   rc.Country,
		City:      rc.City,
		Latitude:  rc.Latitude,
		Longitude: rc.Longitude,
		LoginAt:   rc.Timestamp,
	}
	if rec.LoginAt.IsZero() {
		rec.LoginAt = s.now()
	}
	if err := s.devices.RecordLogin(ctx, rec); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to record login for travel analysis")
	}

	if rc.DeviceID == "" {
		return
	}
	profile, err := s.devices.GetProfile(ctx, rc.UserID, rc.DeviceID)
	if err != nil || profile == nil {
		profile = &domain.DeviceProfile{
			UserID:     rc.UserID,
			DeviceID:   rc.DeviceID,
			UserAgent:  rc.UserAgent,
			TrustScore: 0.5,
			FirstSeen:  s.now(),
		}
	}
	profile.LastSeen = s.now()
	if err := s.devices.SaveProfile(ctx, profile); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to save device profile")
	}
}

func (s *RiskService) matchAdaptivePolicies(ctx context.Context, rc *domain.RiskContext, assessment *domain.RiskAssessment) ([]string, error) {
	if s.policies == nil {
		return nil, nil
	}
	policies, err := s.policies.ListByOrg(ctx, rc.OrgID)
	if err != nil {
		if errors.Is(err, janerr.ErrAuthzUnavailable) {
			return nil, err
		}
		return nil, err
	}

	fields := adaptiveFields(rc, assessment)

	var actions []string
	seen := make(map[string]struct{})
	for _, p := range policies {
		if !p.IsEnabled {
			continue
		}
		if levelRank(assessment.Level) < levelRank(p.MinLevel) {
			continue
		}
		if p.Conditions != nil && !groupMatches(p.Conditions, fields) {
			continue
		}
		for _, action := range p.Actions {
			if _, dup := seen[action]; !dup {
				seen[action] = struct{}{}
				actions = append(actions, action)
			}
		}
	}
	return actions, nil
}

func adaptiveFields(rc *domain.RiskContext, assessment *domain.RiskAssessment) map[string]string {
	mfa := "false"
	if rc.MFAVerified {
		mfa = "true"
	}
	return map[string]string{
		"level":        string(assessment.Level),
		"country":      rc.Country,
		"city":         rc.City,
		"ip":           rc.IPAddress,
		"device_id":    rc.DeviceID,
		"user_id":      rc.UserID,
		"mfa_verified": mfa,
	}
}

func levelRank(level domain.RiskLevel) int {
	switch level {
	case domain.RiskLow:
		return 0
	case domain.RiskMedium:
		return 1
	case domain.RiskHigh:
		return 2
	case domain.RiskCritical:
		return 3
	default:
		return 0
	}
}

// groupMatches evaluates a condition tree. An empty group matches.
func groupMatches(group *domain.AdaptiveConditionGroup, fields map[string]string) bool {
	results := make([]bool, 0, len(group.Conditions)+len(group.Groups))
	for i := range group.Conditions {
		results = append(results, conditionMatches(&group.Conditions[i], fields))
	}
	for i := range group.Groups {
		results = append(results, groupMatches(&group.Groups[i], fields))
	}
	if len(results) == 0 {
		return true
	}

	if group.Logic == "or" {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	// "and" is the default logic.
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

func conditionMatches(cond *domain.AdaptiveCondition, fields map[string]string) bool {
	value, ok := fields[cond.Field]
	if !ok {
		return false
	}
	switch cond.Operator {
	case "eq":
		return value == cond.Value
	case "in":
		for _, v := range cond.Values {
			if v == value {
				return true
			}
		}
		return false
	case "not_in":
		for _, v := range cond.Values {
			if v == value {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
