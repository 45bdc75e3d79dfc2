package errors

import "fmt"

// SSOErrorKind classifies federation failures so callers can decide between
// operator-facing remediation and end-user messaging.
type SSOErrorKind string

const (
	SSOConfiguration  SSOErrorKind = "configuration"
	SSOMetadata       SSOErrorKind = "metadata"
	SSOCertificate    SSOErrorKind = "certificate"
	SSOProvisioning   SSOErrorKind = "provisioning"
	SSOAuthentication SSOErrorKind = "authentication"
	SSOValidation     SSOErrorKind = "validation"
)

// SSOError wraps a federation failure with its kind and provider.
type SSOError struct {
	Kind       SSOErrorKind
	ProviderID string
	Message    string
	Err        error
}

func (e *SSOError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sso %s error (provider %s): %s: %v", e.Kind, e.ProviderID, e.Message, e.Err)
	}
	return fmt.Sprintf("sso %s error (provider %s): %s", e.Kind, e.ProviderID, e.Message)
}

func (e *SSOError) Unwrap() error { return e.Err }

func NewSSOError(kind SSOErrorKind, providerID, message string, err error) *SSOError {
	return &SSOError{Kind: kind, ProviderID: providerID, Message: message, Err: err}
}
