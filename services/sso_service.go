package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/janua-io/janua/cache"
	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
	"github.com/janua-io/janua/internal/audit"
	"github.com/janua-io/janua/internal/federation"
	"github.com/janua-io/janua/internal/metrics"
	"github.com/janua-io/janua/internal/secrets"
)

const (
	ssoStateTTL   = 10 * time.Minute
	ssoSessionTTL = 8 * time.Hour
)

// SSOServiceConfig carries the orchestrator's environment.
type SSOServiceConfig struct {
	BaseURL string
	// MetadataHostAllowlist holds the exact hosts metadata may be fetched
	// from. Matching is whole-host: a suffix-spoofed host never passes.
	MetadataHostAllowlist []string
}

// SSOService orchestrates federated login against configured SAML and OIDC
// providers: provider lifecycle, login initiation, callback handling,
// attribute mapping and just-in-time provisioning.
type SSOService struct {
	idps        domain.IdPRepository
	sessions    domain.SessionRepository
	provisioner domain.Provisioner
	secrets     *secrets.Store
	store       cache.Store
	cfg         SSOServiceConfig
	now         func() time.Time
}

// NewSSOService creates a new SSOService.
func NewSSOService(idps domain.IdPRepository, sessions domain.SessionRepository, provisioner domain.Provisioner, secretStore *secrets.Store, store cache.Store, cfg SSOServiceConfig) *SSOService {
	return &SSOService{
		idps:        idps,
		sessions:    sessions,
		provisioner: provisioner,
		secrets:     secretStore,
		store:       store,
		cfg:         cfg,
		now:         time.Now,
	}
}

// MetadataURLAllowed checks a metadata URL against the exact-host allowlist.
func (s *SSOService) MetadataURLAllowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range s.cfg.MetadataHostAllowlist {
		if host == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// CreateProvider validates, encrypts secret material and stores a provider
// configuration.
func (s *SSOService) CreateProvider(ctx context.Context, idp *domain.IdentityProvider, oidcClientSecret, samlPrivateKey string) error {
	if idp.Type != domain.IdPTypeSAML && idp.Type != domain.IdPTypeOIDC {
		return janerr.NewSSOError(janerr.SSOConfiguration, idp.ID,
			fmt.Sprintf("unsupported protocol %q", idp.Type), nil)
	}
	if idp.OIDCDiscoveryURL != "" && !s.MetadataURLAllowed(idp.OIDCDiscoveryURL) {
		return janerr.NewSSOError(janerr.SSOMetadata, idp.ID,
			"discovery URL host is not on the allowlist", nil)
	}

	if oidcClientSecret != "" {
		cipher, err := s.secrets.Encrypt(oidcClientSecret)
		if err != nil {
			return janerr.NewSSOError(janerr.SSOConfiguration, idp.ID, "secret encryption failed", err)
		}
		idp.OIDCClientSecretCipher = cipher
	}
	if samlPrivateKey != "" {
		cipher, err := s.secrets.Encrypt(samlPrivateKey)
		if err != nil {
			return janerr.NewSSOError(janerr.SSOConfiguration, idp.ID, "private key encryption failed", err)
		}
		idp.SAMLPrivateKeyCipher = cipher
	}

	if idp.ID == "" {
		idp.ID = uuid.NewString()
	}
	now := s.now()
	idp.CreatedAt = now
	idp.UpdatedAt = now

	if err := s.idps.Create(ctx, idp); err != nil {
		return janerr.NewSSOError(janerr.SSOConfiguration, idp.ID, "provider store failed", err)
	}
	audit.Success("sso", "provider_create", "", idp.ID)
	return nil
}

type ssoState struct {
	ProviderID string `json:"provider_id"`
	OrgID      string `json:"org_id"`
	ReturnTo   string `json:"return_to,omitempty"`
}

// InitiateLogin returns the upstream URL the browser should be redirected
// to, with an opaque state bound to the provider.
func (s *SSOService) InitiateLogin(ctx context.Context, providerID, returnTo string) (string, error) {
	idp, err := s.idps.GetByID(ctx, providerID)
	if err != nil {
		return "", janerr.ErrProviderNotFound
	}

	provider, err := federation.New(ctx, idp, s.secrets, s.cfg.BaseURL)
	if err != nil {
		return "", err
	}

	state := uuid.NewString()
	payload, err := json.Marshal(ssoState{ProviderID: providerID, OrgID: idp.OrgID, ReturnTo: returnTo})
	if err != nil {
		return "", janerr.NewSSOError(janerr.SSOConfiguration, providerID, "state serialization failed", err)
	}
	if err := s.store.Set(ctx, "sso:state:"+state, string(payload), ssoStateTTL); err != nil {
		return "", janerr.NewSSOError(janerr.SSOAuthentication, providerID, "state store failed", err)
	}

	authURL, err := provider.AuthURL(ctx, state)
	if err != nil {
		return "", err
	}

	log.Ctx(ctx).Info().Str("provider_id", providerID).Msg("federated login initiated")
	return authURL, nil
}

// CallbackResult is what a completed federated login yields.
type CallbackResult struct {
	User    *domain.User
	Session *domain.SSOSession
	Profile *domain.FederatedProfile
}

// HandleCallback validates the provider response, maps attributes,
// provisions the user and establishes an SSO session. State is single use.
func (s *SSOService) HandleCallback(ctx context.Context, providerID string, in *federation.CallbackInput, ipAddress string) (*CallbackResult, error) {
	state := in.State
	if state == "" {
		state = in.RelayState
	}
	statePayload, err := s.store.GetDel(ctx, "sso:state:"+state)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, janerr.NewSSOError(janerr.SSOValidation, providerID, "unknown or expired state", nil)
		}
		return nil, janerr.NewSSOError(janerr.SSOAuthentication, providerID, "state store unavailable", err)
	}
	var st ssoState
	if err := json.Unmarshal([]byte(statePayload), &st); err != nil || st.ProviderID != providerID {
		return nil, janerr.NewSSOError(janerr.SSOValidation, providerID, "state does not match provider", nil)
	}

	idp, err := s.idps.GetByID(ctx, providerID)
	if err != nil {
		return nil, janerr.ErrProviderNotFound
	}

	provider, err := federation.New(ctx, idp, s.secrets, s.cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	profile, err := provider.HandleCallback(ctx, in)
	if err != nil {
		s.countLogin(idp.Type, "failure")
		audit.Failure("sso", "login", "", providerID, err)
		return nil, err
	}

	ApplyAttributeMappings(idp.AttributeMappings, profile)
	if profile.Email == "" {
		s.countLogin(idp.Type, "failure")
		return nil, janerr.NewSSOError(janerr.SSOValidation, providerID,
			"mapped profile carries no email", nil)
	}

	user, err := s.provisioner.Provision(ctx, idp.OrgID, profile)
	if err != nil {
		s.countLogin(idp.Type, "failure")
		audit.Failure("sso", "provision", profile.Email, providerID, err)
		return nil, janerr.NewSSOError(janerr.SSOProvisioning, providerID, "provisioning failed", err)
	}

	now := s.now()
	session := &domain.SSOSession{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		OrgID:      idp.OrgID,
		ProviderID: providerID,
		IPAddress:  ipAddress,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ssoSessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, janerr.NewSSOError(janerr.SSOAuthentication, providerID, "session store failed", err)
	}

	if metrics.ActiveSessionsGauge != nil {
		metrics.ActiveSessionsGauge.Inc()
	}
	s.countLogin(idp.Type, "success")
	audit.Success("sso", "login", user.ID, providerID)

	return &CallbackResult{User: user, Session: session, Profile: profile}, nil
}

// ValidateSession returns the session when it exists and has not expired.
// Expired sessions are removed on read.
func (s *SSOService) ValidateSession(ctx context.Context, sessionID string) (*domain.SSOSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, janerr.ErrSessionNotFound
	}
	if !session.Valid(s.now()) {
		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("expired session cleanup failed")
		}
		return nil, janerr.ErrSessionExpired
	}
	return session, nil
}

// Logout tears down an SSO session.
func (s *SSOService) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if metrics.ActiveSessionsGauge != nil {
		metrics.ActiveSessionsGauge.Dec()
	}
	return nil
}

func (s *SSOService) countLogin(protocol domain.IdPType, result string) {
	if metrics.SSOLoginsTotal != nil {
		metrics.SSOLoginsTotal.WithLabelValues(string(protocol), result).Inc()
	}
}

// ApplyAttributeMappings writes mapped source attributes onto the profile's
// standard fields. Unmapped standard claims keep any value the protocol
// handler already extracted.
func ApplyAttributeMappings(mappings []domain.AttributeMapping, profile *domain.FederatedProfile) {
	for _, m := range mappings {
		raw, ok := profile.Attributes[m.SourceClaim]
		if !ok {
			continue
		}
		value := applyTransform(m, raw)

		switch m.TargetField {
		case "email":
			profile.Email = value
		case "first_name":
			profile.FirstName = value
		case "last_name":
			profile.LastName = value
		case "external_id":
			profile.ExternalID = value
		default:
			profile.Attributes[m.TargetField] = value
		}
	}
}

func applyTransform(m domain.AttributeMapping, value string) string {
	switch m.Transform {
	case domain.TransformLowercase:
		return strings.ToLower(value)
	case domain.TransformUppercase:
		return strings.ToUpper(value)
	case domain.TransformConcat:
		sep := m.Separator
		if sep == "" {
			sep = " "
		}
		if m.ConcatWith == "" {
			return value
		}
		return value + sep + m.ConcatWith
	case domain.TransformDate:
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t.UTC().Format("2006-01-02")
		}
		if t, err := time.Parse("01/02/2006", value); err == nil {
			return t.Format("2006-01-02")
		}
		return value
	case domain.TransformBoolean:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "y":
			return "true"
		default:
			return "false"
		}
	case domain.TransformJSON:
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			return value
		}
		if s, ok := parsed.(string); ok {
			return s
		}
		if arr, ok := parsed.([]any); ok && len(arr) > 0 {
			if s, ok := arr[0].(string); ok {
				return s
			}
		}
		return value
	default:
		return value
	}
}
