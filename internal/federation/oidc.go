package federation

import (
	"context"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/janua-io/janua/domain"
	ssoerr "github.com/janua-io/janua/errors"
)

var discoveryTimeout = 10 * time.Second

// oidcProvider federates against an upstream OpenID Connect issuer using
// standard discovery.
type oidcProvider struct {
	idp      *domain.IdentityProvider
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth2   *oauth2.Config
}

func newOIDCProvider(ctx context.Context, idp *domain.IdentityProvider, secrets Secrets, baseURL string) (*oidcProvider, error) {
	if idp.OIDCIssuerURL == "" || idp.OIDCClientID == "" {
		return nil, ssoerr.NewSSOError(ssoerr.SSOConfiguration, idp.ID,
			"oidc provider requires issuer_url and client_id", nil)
	}

	clientSecret := ""
	if idp.OIDCClientSecretCipher != "" {
		var err error
		clientSecret, err = secrets.Decrypt(idp.OIDCClientSecretCipher)
		if err != nil {
			return nil, ssoerr.NewSSOError(ssoerr.SSOConfiguration, idp.ID,
				"client secret decrypt failed", err)
		}
	}

	// Discovery hits the issuer over the network; an unresponsive issuer
	// must not hang provider construction.
	dctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	provider, err := oidc.NewProvider(dctx, idp.OIDCIssuerURL)
	if err != nil {
		return nil, ssoerr.NewSSOError(ssoerr.SSOMetadata, idp.ID,
			"issuer discovery failed", err)
	}

	scopes := idp.OIDCScopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &oidcProvider{
		idp:      idp,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: idp.OIDCClientID}),
		oauth2: &oauth2.Config{
			ClientID:     idp.OIDCClientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  callbackURL(baseURL, idp.ID),
			Scopes:       scopes,
		},
	}, nil
}

func (p *oidcProvider) ID() string           { return p.idp.ID }
func (p *oidcProvider) Type() domain.IdPType { return domain.IdPTypeOIDC }

func (p *oidcProvider) AuthURL(_ context.Context, state string) (string, error) {
	return p.oauth2.AuthCodeURL(state), nil
}

func (p *oidcProvider) HandleCallback(ctx context.Context, in *CallbackInput) (*domain.FederatedProfile, error) {
	if in.Code == "" {
		return nil, ssoerr.NewSSOError(ssoerr.SSOValidation, p.idp.ID,
			"missing authorization code", nil)
	}

	token, err := p.oauth2.Exchange(ctx, in.Code)
	if err != nil {
		return nil, ssoerr.NewSSOError(ssoerr.SSOAuthentication, p.idp.ID,
			"code exchange failed", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, ssoerr.NewSSOError(ssoerr.SSOAuthentication, p.idp.ID,
			"token response carries no id_token", nil)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, ssoerr.NewSSOError(ssoerr.SSOAuthentication, p.idp.ID,
			"id_token verification failed", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, ssoerr.NewSSOError(ssoerr.SSOValidation, p.idp.ID,
			"id_token claims parse failed", err)
	}

	profile := &domain.FederatedProfile{
		ProviderID: p.idp.ID,
		ExternalID: idToken.Subject,
		Attributes: make(map[string]string),
	}
	for k, v := range claims {
		switch val := v.(type) {
		case string:
			profile.Attributes[k] = val
		case []any:
			if k == "groups" {
				for _, g := range val {
					if s, ok := g.(string); ok {
						profile.Groups = append(profile.Groups, s)
					}
				}
			}
		}
	}
	if email, ok := claims["email"].(string); ok {
		profile.Email = email
	}

	if profile.ExternalID == "" {
		return nil, ssoerr.NewSSOError(ssoerr.SSOValidation, p.idp.ID,
			"id_token carries no subject", nil)
	}
	return profile, nil
}
