package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janua-io/janua/domain"
)

func newRiskFixture(t *testing.T) (*RiskService, *fakeDeviceRepo, *fakeAdaptivePolicyRepo) {
	t.Helper()
	devices := newFakeDeviceRepo()
	policies := &fakeAdaptivePolicyRepo{}
	return NewRiskService(devices, policies, nil), devices, policies
}

func baseRiskContext() *domain.RiskContext {
	return &domain.RiskContext{
		UserID:    "user-1",
		OrgID:     "org-1",
		IPAddress: "203.0.113.10",
		DeviceID:  "device-1",
		Country:   "DE",
		City:      "Berlin",
		Timestamp: time.Now(),
	}
}

func TestLevelForScoreBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{0.0, domain.RiskLow},
		{0.24, domain.RiskLow},
		{0.25, domain.RiskMedium},
		{0.49, domain.RiskMedium},
		{0.5, domain.RiskHigh},
		{0.74, domain.RiskHigh},
		{0.75, domain.RiskCritical},
		{1.0, domain.RiskCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, domain.LevelForScore(tc.score), "score %v", tc.score)
	}
}

func TestRiskService_KnownTrustedDeviceScoresLow(t *testing.T) {
	svc, devices, _ := newRiskFixture(t)
	ctx := context.Background()
	rc := baseRiskContext()

	require.NoError(t, devices.SaveProfile(ctx, &domain.DeviceProfile{
		UserID:     rc.UserID,
		DeviceID:   rc.DeviceID,
		TrustScore: 1.0,
	}))
	devices.intel[rc.IPAddress] = &domain.IPIntel{IP: rc.IPAddress, Reputation: 1.0}

	a, err := svc.Assess(ctx, rc)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskLow, a.Level)
	assert.Zero(t, a.Factors.Device)
	assert.Zero(t, a.Factors.Network)
	assert.Empty(t, a.Anomalies)
}

func TestRiskService_MissingIPUsesNeutralLocation(t *testing.T) {
	svc, _, _ := newRiskFixture(t)
	rc := baseRiskContext()
	rc.IPAddress = ""

	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, a.Factors.Location, 1e-9)
	assert.Contains(t, a.Anomalies, "missing_source_ip")
}

func TestRiskService_FirstSeenDevice(t *testing.T) {
	svc, _, _ := newRiskFixture(t)
	rc := baseRiskContext()

	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, a.Factors.Device, 1e-9)
	assert.Contains(t, a.Anomalies, "first_seen_device")
}

func TestRiskService_MissingDeviceID(t *testing.T) {
	svc, _, _ := newRiskFixture(t)
	rc := baseRiskContext()
	rc.DeviceID = ""

	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, a.Factors.Device, 1e-9)
	assert.Contains(t, a.Anomalies, "missing_device_id")
}

func TestRiskService_AnonymizedNetworkRaisesLocation(t *testing.T) {
	svc, devices, _ := newRiskFixture(t)
	rc := baseRiskContext()
	devices.intel[rc.IPAddress] = &domain.IPIntel{IP: rc.IPAddress, Reputation: 0.9, IsTor: true}

	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, a.Factors.Location, 1e-9)
	assert.Contains(t, a.Anomalies, "anonymized_network")
}

func TestRiskService_CountryChange(t *testing.T) {
	svc, devices, _ := newRiskFixture(t)
	rc := baseRiskContext()
	devices.last[rc.UserID] = &domain.LoginRecord{
		UserID:  rc.UserID,
		Country: "US",
		LoginAt: rc.Timestamp.Add(-24 * time.Hour),
	}

	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, a.Factors.Location, 1e-9)
	assert.Contains(t, a.Anomalies, "new_location")
}

func TestRiskService_ImpossibleTravel(t *testing.T) {
	svc, devices, _ := newRiskFixture(t)
	rc := baseRiskContext()
	// Berlin now, Sydney half an hour ago.
	rc.Latitude, rc.Longitude = 52.52, 13.405
	devices.last[rc.UserID] = &domain.LoginRecord{
		UserID:    rc.UserID,
		Country:   "AU",
		Latitude:  -33.8688,
		Longitude: 151.2093,
		LoginAt:   rc.Timestamp.Add(-30 * time.Minute),
	}

	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.Contains(t, a.Anomalies, "impossible_travel")
	assert.Contains(t, a.Anomalies, "new_location")
	assert.InDelta(t, 0.6, a.Factors.Location, 1e-9, "country change plus impossible travel")
}

func TestRiskService_FeasibleTravelNotFlagged(t *testing.T) {
	svc, devices, _ := newRiskFixture(t)
	rc := baseRiskContext()
	// Berlin now, Munich five hours ago: ~500 km.
	rc.Latitude, rc.Longitude = 52.52, 13.405
	devices.last[rc.UserID] = &domain.LoginRecord{
		UserID:    rc.UserID,
		Country:   "DE",
		Latitude:  48.1351,
		Longitude: 11.582,
		LoginAt:   rc.Timestamp.Add(-5 * time.Hour),
	}

	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.NotContains(t, a.Anomalies, "impossible_travel")
}

func TestRiskService_BlacklistedIPFloor(t *testing.T) {
	svc, devices, _ := newRiskFixture(t)
	rc := baseRiskContext()
	devices.intel[rc.IPAddress] = &domain.IPIntel{IP: rc.IPAddress, Reputation: 0.95, Blacklisted: true}

	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, a.Factors.Network, 0.5)
	assert.Contains(t, a.Anomalies, "blacklisted_ip")
}

func TestRiskService_DatacenterIPAddsScore(t *testing.T) {
	svc, devices, _ := newRiskFixture(t)
	rc := baseRiskContext()
	devices.intel[rc.IPAddress] = &domain.IPIntel{IP: rc.IPAddress, Reputation: 1.0, IsDatacenter: true}

	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, a.Factors.Network, 1e-9)
	assert.Contains(t, a.Anomalies, "datacenter_ip")
}

func TestRiskService_NormalNetworkScoresZero(t *testing.T) {
	svc, devices, _ := newRiskFixture(t)
	rc := baseRiskContext()

	// No intelligence record at all.
	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.Zero(t, a.Factors.Network)

	// Reputation at the baseline contributes nothing.
	devices.intel[rc.IPAddress] = &domain.IPIntel{IP: rc.IPAddress, Reputation: 0.7}
	a, err = svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.Zero(t, a.Factors.Network)
}

func TestRiskService_LowReputationScoresShortfall(t *testing.T) {
	svc, devices, _ := newRiskFixture(t)
	rc := baseRiskContext()
	devices.intel[rc.IPAddress] = &domain.IPIntel{IP: rc.IPAddress, Reputation: 0.3}

	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, a.Factors.Network, 1e-9)
}

func TestRiskService_CompositeIsClamped(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.2))
	assert.Equal(t, 1.0, clamp01(1.7))
	assert.Equal(t, 0.4, clamp01(0.4))
}

func TestRiskService_AssessRecordsLoginAndDevice(t *testing.T) {
	svc, devices, _ := newRiskFixture(t)
	ctx := context.Background()
	rc := baseRiskContext()

	_, err := svc.Assess(ctx, rc)
	require.NoError(t, err)

	require.Len(t, devices.logins, 1)
	assert.Equal(t, rc.IPAddress, devices.logins[0].IPAddress)

	profile, err := devices.GetProfile(ctx, rc.UserID, rc.DeviceID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.InDelta(t, 0.5, profile.TrustScore, 1e-9)
	assert.False(t, profile.LastSeen.IsZero())
}

type fixedDetector struct {
	score    float64
	findings []string
	err      error
}

func (d fixedDetector) Score(context.Context, *domain.RiskContext) (float64, []string, error) {
	return d.score, d.findings, d.err
}

func TestRiskService_DetectorFeedsBehaviorFactor(t *testing.T) {
	devices := newFakeDeviceRepo()
	svc := NewRiskService(devices, &fakeAdaptivePolicyRepo{}, fixedDetector{score: 1.0, findings: []string{"odd_hours"}})
	rc := baseRiskContext()

	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, a.Factors.Behavior, 1e-9)
	assert.Contains(t, a.Anomalies, "odd_hours")
}

func TestRiskService_DetectorFailureDegradesToZero(t *testing.T) {
	devices := newFakeDeviceRepo()
	svc := NewRiskService(devices, &fakeAdaptivePolicyRepo{}, fixedDetector{err: errStoreDown})
	rc := baseRiskContext()

	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.Zero(t, a.Factors.Behavior)
}

func TestRiskService_AdaptivePolicyMinLevelGate(t *testing.T) {
	svc, devices, policies := newRiskFixture(t)
	ctx := context.Background()
	rc := baseRiskContext()

	// Trusted device and clean IP keep the level low.
	require.NoError(t, devices.SaveProfile(ctx, &domain.DeviceProfile{
		UserID: rc.UserID, DeviceID: rc.DeviceID, TrustScore: 1.0,
	}))
	devices.intel[rc.IPAddress] = &domain.IPIntel{IP: rc.IPAddress, Reputation: 1.0}

	policies.policies = append(policies.policies, &domain.AdaptivePolicy{
		ID:        "mfa-on-medium",
		OrgID:     rc.OrgID,
		MinLevel:  domain.RiskMedium,
		Actions:   []string{"require_mfa"},
		IsEnabled: true,
	})

	a, err := svc.Assess(ctx, rc)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskLow, a.Level)
	assert.Empty(t, a.Actions, "policy gated on a level above the assessment")
}

func TestRiskService_AdaptivePolicyConditionTree(t *testing.T) {
	svc, _, policies := newRiskFixture(t)
	rc := baseRiskContext()

	policies.policies = append(policies.policies,
		&domain.AdaptivePolicy{
			ID:       "geo-or-device",
			OrgID:    rc.OrgID,
			MinLevel: domain.RiskLow,
			Conditions: &domain.AdaptiveConditionGroup{
				Logic: "or",
				Conditions: []domain.AdaptiveCondition{
					{Field: "country", Operator: "in", Values: []string{"KP", "IR"}},
					{Field: "device_id", Operator: "eq", Value: rc.DeviceID},
				},
			},
			Actions:   []string{"notify_admin"},
			IsEnabled: true,
		},
		&domain.AdaptivePolicy{
			ID:       "not-home-country",
			OrgID:    rc.OrgID,
			MinLevel: domain.RiskLow,
			Conditions: &domain.AdaptiveConditionGroup{
				Conditions: []domain.AdaptiveCondition{
					{Field: "country", Operator: "not_in", Values: []string{"DE"}},
				},
			},
			Actions:   []string{"block"},
			IsEnabled: true,
		},
		&domain.AdaptivePolicy{
			ID:        "disabled",
			OrgID:     rc.OrgID,
			MinLevel:  domain.RiskLow,
			Actions:   []string{"unreachable"},
			IsEnabled: false,
		},
	)

	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.Contains(t, a.Actions, "notify_admin", "or-group matches on the device condition")
	assert.NotContains(t, a.Actions, "block", "not_in excludes the current country")
	assert.NotContains(t, a.Actions, "unreachable")
}

func TestRiskService_AdaptiveActionsDeduplicated(t *testing.T) {
	svc, _, policies := newRiskFixture(t)
	rc := baseRiskContext()

	for _, id := range []string{"p1", "p2"} {
		policies.policies = append(policies.policies, &domain.AdaptivePolicy{
			ID:        id,
			OrgID:     rc.OrgID,
			MinLevel:  domain.RiskLow,
			Actions:   []string{"require_mfa"},
			IsEnabled: true,
		})
	}

	a, err := svc.Assess(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, []string{"require_mfa"}, a.Actions)
}

func TestGroupMatches_NestedGroups(t *testing.T) {
	fields := map[string]string{"country": "DE", "mfa_verified": "false", "level": "high"}

	group := &domain.AdaptiveConditionGroup{
		Logic: "and",
		Conditions: []domain.AdaptiveCondition{
			{Field: "level", Operator: "eq", Value: "high"},
		},
		Groups: []domain.AdaptiveConditionGroup{
			{
				Logic: "or",
				Conditions: []domain.AdaptiveCondition{
					{Field: "country", Operator: "eq", Value: "FR"},
					{Field: "mfa_verified", Operator: "eq", Value: "false"},
				},
			},
		},
	}
	assert.True(t, groupMatches(group, fields))

	group.Conditions[0].Value = "low"
	assert.False(t, groupMatches(group, fields))
}

func TestConditionMatches_MissingFieldFails(t *testing.T) {
	cond := &domain.AdaptiveCondition{Field: "nonexistent", Operator: "eq", Value: "x"}
	assert.False(t, conditionMatches(cond, map[string]string{"country": "DE"}))

	cond = &domain.AdaptiveCondition{Field: "country", Operator: "resembles", Value: "DE"}
	assert.False(t, conditionMatches(cond, map[string]string{"country": "DE"}), "unknown operators never match")
}
