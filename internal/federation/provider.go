package federation

import (
	"context"
	"fmt"
	"net/url"

	"github.com/janua-io/janua/domain"
	ssoerr "github.com/janua-io/janua/errors"
)

// CallbackInput carries the parameters the identity provider posted back.
// SAML uses form values, OIDC uses query values; both arrive here.
type CallbackInput struct {
	Code         string
	State        string
	SAMLResponse string
	RelayState   string
}

// Provider is one configured upstream identity provider. The protocol set is
// closed: New refuses anything that is not SAML or OIDC.
type Provider interface {
	ID() string
	Type() domain.IdPType

	// AuthURL returns the URL the browser is sent to for the upstream login.
	AuthURL(ctx context.Context, state string) (string, error)

	// HandleCallback validates the provider response and returns the
	// federated profile with all raw attributes attached.
	HandleCallback(ctx context.Context, in *CallbackInput) (*domain.FederatedProfile, error)
}

// Secrets decrypts stored provider secret material.
type Secrets interface {
	Decrypt(ciphertext string) (string, error)
}

// New constructs a Provider for the stored configuration. baseURL is this
// service's external URL, used to derive callback endpoints.
func New(ctx context.Context, idp *domain.IdentityProvider, secrets Secrets, baseURL string) (Provider, error) {
	if !idp.IsEnabled {
		return nil, ssoerr.ErrProviderDisabled
	}

	switch idp.Type {
	case domain.IdPTypeSAML:
		return newSAMLProvider(idp, secrets, baseURL)
	case domain.IdPTypeOIDC:
		return newOIDCProvider(ctx, idp, secrets, baseURL)
	default:
		return nil, ssoerr.NewSSOError(ssoerr.SSOConfiguration, idp.ID,
			fmt.Sprintf("unsupported protocol %q", idp.Type), nil)
	}
}

// callbackURL derives the per-provider callback endpoint under baseURL.
func callbackURL(baseURL, providerID string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL + "/sso/callback/" + providerID
	}
	u.Path = "/sso/callback/" + providerID
	return u.String()
}
