package federation

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/janua-io/janua/domain"
	ssoerr "github.com/janua-io/janua/errors"
)

// samlProvider wraps a gosaml2 service provider built from the stored
// configuration.
type samlProvider struct {
	idp *domain.IdentityProvider
	sp  *saml2.SAMLServiceProvider
}

func newSAMLProvider(idp *domain.IdentityProvider, secrets Secrets, baseURL string) (*samlProvider, error) {
	if idp.SAMLEntityID == "" || idp.SAMLSSOURL == "" || idp.SAMLCertificate == "" {
		return nil, ssoerr.NewSSOError(ssoerr.SSOConfiguration, idp.ID,
			"saml provider requires entity_id, sso_url and certificate", nil)
	}

	certBlock, _ := pem.Decode([]byte(idp.SAMLCertificate))
	if certBlock == nil {
		return nil, ssoerr.NewSSOError(ssoerr.SSOCertificate, idp.ID,
			"certificate is not valid PEM", nil)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, ssoerr.NewSSOError(ssoerr.SSOCertificate, idp.ID,
			"certificate parse failed", err)
	}

	certStore := dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	}

	var keyStore dsig.X509KeyStore
	if idp.SAMLPrivateKeyCipher != "" {
		keyPEM, err := secrets.Decrypt(idp.SAMLPrivateKeyCipher)
		if err != nil {
			return nil, ssoerr.NewSSOError(ssoerr.SSOConfiguration, idp.ID,
				"private key decrypt failed", err)
		}
		privateKey, err := parseRSAPrivateKey(keyPEM)
		if err != nil {
			return nil, ssoerr.NewSSOError(ssoerr.SSOCertificate, idp.ID,
				"private key parse failed", err)
		}
		keyStore = &dsig.TLSCertKeyStore{
			PrivateKey:  privateKey,
			Certificate: [][]byte{certBlock.Bytes},
		}
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      idp.SAMLSSOURL,
		IdentityProviderIssuer:      idp.SAMLEntityID,
		ServiceProviderIssuer:       baseURL + "/sso/metadata",
		AssertionConsumerServiceURL: callbackURL(baseURL, idp.ID),
		SignAuthnRequests:           idp.SAMLSignRequests,
		AudienceURI:                 baseURL,
		IDPCertificateStore:         &certStore,
		SPKeyStore:                  keyStore,
	}
	if idp.SAMLNameIDFormat != "" {
		sp.NameIdFormat = idp.SAMLNameIDFormat
	}

	return &samlProvider{idp: idp, sp: sp}, nil
}

func parseRSAPrivateKey(keyPEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, fmt.Errorf("not valid PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

func (p *samlProvider) ID() string           { return p.idp.ID }
func (p *samlProvider) Type() domain.IdPType { return domain.IdPTypeSAML }

func (p *samlProvider) AuthURL(_ context.Context, state string) (string, error) {
	authURL, err := p.sp.BuildAuthURL(state)
	if err != nil {
		return "", ssoerr.NewSSOError(ssoerr.SSOAuthentication, p.idp.ID,
			"build auth request failed", err)
	}
	return authURL, nil
}

func (p *samlProvider) HandleCallback(_ context.Context, in *CallbackInput) (*domain.FederatedProfile, error) {
	if in.SAMLResponse == "" {
		return nil, ssoerr.NewSSOError(ssoerr.SSOValidation, p.idp.ID,
			"missing SAMLResponse", nil)
	}

	raw, err := base64.StdEncoding.DecodeString(in.SAMLResponse)
	if err != nil {
		return nil, ssoerr.NewSSOError(ssoerr.SSOValidation, p.idp.ID,
			"SAMLResponse is not valid base64", err)
	}

	info, err := p.sp.RetrieveAssertionInfo(string(raw))
	if err != nil {
		return nil, ssoerr.NewSSOError(ssoerr.SSOAuthentication, p.idp.ID,
			"assertion validation failed", err)
	}
	if info.WarningInfo != nil {
		if info.WarningInfo.InvalidTime {
			return nil, ssoerr.NewSSOError(ssoerr.SSOValidation, p.idp.ID,
				"assertion outside its validity window", nil)
		}
		if info.WarningInfo.NotInAudience {
			return nil, ssoerr.NewSSOError(ssoerr.SSOValidation, p.idp.ID,
				"assertion audience mismatch", nil)
		}
	}

	profile := &domain.FederatedProfile{
		ProviderID: p.idp.ID,
		ExternalID: info.NameID,
		Attributes: make(map[string]string),
	}
	for _, attr := range info.Values {
		if len(attr.Values) == 0 {
			continue
		}
		profile.Attributes[attr.Name] = attr.Values[0].Value
		if len(attr.Values) > 1 && attr.Name == "groups" {
			for _, v := range attr.Values {
				profile.Groups = append(profile.Groups, v.Value)
			}
		}
	}

	if profile.ExternalID == "" {
		return nil, ssoerr.NewSSOError(ssoerr.SSOValidation, p.idp.ID,
			"assertion carries no NameID", nil)
	}
	return profile, nil
}
