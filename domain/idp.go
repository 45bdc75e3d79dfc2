package domain

import "time"

// IdPType tags the protocol an identity provider speaks. The set is closed:
// provider selection switches on the tag, never on runtime probing.
type IdPType string

const (
	IdPTypeSAML IdPType = "saml"
	IdPTypeOIDC IdPType = "oidc"
)

// AttributeTransform names the functions the attribute mapper can apply to a
// source claim before writing it into the target field.
type AttributeTransform string

const (
	TransformNone      AttributeTransform = ""
	TransformLowercase AttributeTransform = "lowercase"
	TransformUppercase AttributeTransform = "uppercase"
	TransformConcat    AttributeTransform = "concat"
	TransformDate      AttributeTransform = "date"
	TransformBoolean   AttributeTransform = "boolean"
	TransformJSON      AttributeTransform = "json"
)

// AttributeMapping maps one target profile field to a source claim or SAML
// attribute, with an optional transform. Concat joins the source value with
// ConcatWith using Separator.
type AttributeMapping struct {
	TargetField string             `bson:"target_field" json:"target_field"`
	SourceClaim string             `bson:"source_claim" json:"source_claim"`
	Transform   AttributeTransform `bson:"transform,omitempty" json:"transform,omitempty"`
	ConcatWith  string             `bson:"concat_with,omitempty" json:"concat_with,omitempty"`
	Separator   string             `bson:"separator,omitempty" json:"separator,omitempty"`
}

// IdentityProvider is the per-organization federation configuration. Secret
// material (OIDC client secret, SAML private key) is stored encrypted and is
// only decrypted inside the SSO orchestrator.
type IdentityProvider struct {
	ID        string  `bson:"_id,omitempty" json:"id"`
	OrgID     string  `bson:"org_id" json:"org_id"`
	Name      string  `bson:"name" json:"name"`
	Type      IdPType `bson:"type" json:"type"`
	IsEnabled bool    `bson:"is_enabled" json:"is_enabled"`

	// OIDC settings.
	OIDCIssuerURL          string   `bson:"oidc_issuer_url,omitempty" json:"oidc_issuer_url,omitempty"`
	OIDCDiscoveryURL       string   `bson:"oidc_discovery_url,omitempty" json:"oidc_discovery_url,omitempty"`
	OIDCClientID           string   `bson:"oidc_client_id,omitempty" json:"oidc_client_id,omitempty"`
	OIDCClientSecretCipher string   `bson:"oidc_client_secret_cipher,omitempty" json:"-"`
	OIDCScopes             []string `bson:"oidc_scopes,omitempty" json:"oidc_scopes,omitempty"`

	// SAML settings.
	SAMLEntityID         string `bson:"saml_entity_id,omitempty" json:"saml_entity_id,omitempty"`
	SAMLSSOURL           string `bson:"saml_sso_url,omitempty" json:"saml_sso_url,omitempty"`
	SAMLSLOURL           string `bson:"saml_slo_url,omitempty" json:"saml_slo_url,omitempty"`
	SAMLCertificate      string `bson:"saml_certificate,omitempty" json:"saml_certificate,omitempty"`
	SAMLPrivateKeyCipher string `bson:"saml_private_key_cipher,omitempty" json:"-"`
	SAMLNameIDFormat     string `bson:"saml_name_id_format,omitempty" json:"saml_name_id_format,omitempty"`
	SAMLSignRequests     bool   `bson:"saml_sign_requests,omitempty" json:"saml_sign_requests,omitempty"`

	AttributeMappings []AttributeMapping `bson:"attribute_mappings,omitempty" json:"attribute_mappings,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
