package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	TokensIssuedTotal     *prometheus.CounterVec
	TokenValidationsTotal *prometheus.CounterVec
	CodeExchangesTotal    *prometheus.CounterVec
	PolicyDecisionsTotal  *prometheus.CounterVec
	PermissionChecksTotal *prometheus.CounterVec
	RiskAssessmentsTotal  *prometheus.CounterVec
	SSOLoginsTotal        *prometheus.CounterVec
	CacheOpsTotal         *prometheus.CounterVec
	ActiveSessionsGauge   prometheus.Gauge
)

// Init initializes and registers the platform metrics. Call once at startup.
func Init(reg prometheus.Registerer) {
	TokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "janua_tokens_issued_total",
		Help: "Tokens issued, by token type and grant.",
	}, []string{"token_type", "grant_type"})
	TokenValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "janua_token_validations_total",
		Help: "Token validations, by result.",
	}, []string{"result"})
	CodeExchangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "janua_code_exchanges_total",
		Help: "Authorization code exchanges, by result.",
	}, []string{"result"})
	PolicyDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "janua_policy_decisions_total",
		Help: "Policy engine decisions, by effect and cache state.",
	}, []string{"effect", "cached"})
	PermissionChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "janua_permission_checks_total",
		Help: "RBAC permission checks, by result.",
	}, []string{"result"})
	RiskAssessmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "janua_risk_assessments_total",
		Help: "Risk assessments, by level.",
	}, []string{"level"})
	SSOLoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "janua_sso_logins_total",
		Help: "Federated logins, by protocol and result.",
	}, []string{"protocol", "result"})
	CacheOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "janua_cache_ops_total",
		Help: "Cache operations, by namespace and outcome.",
	}, []string{"namespace", "outcome"})
	ActiveSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "janua_active_sessions",
		Help: "Current number of active SSO sessions.",
	})

	if reg == nil {
		log.Error().Msg("prometheus registry is nil, metrics not registered")
		return
	}
	for _, c := range []prometheus.Collector{
		TokensIssuedTotal,
		TokenValidationsTotal,
		CodeExchangesTotal,
		PolicyDecisionsTotal,
		PermissionChecksTotal,
		RiskAssessmentsTotal,
		SSOLoginsTotal,
		CacheOpsTotal,
		ActiveSessionsGauge,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("failed to register metric")
		}
	}
	log.Info().Msg("prometheus metrics registered")
}
