package errors

import "errors"

// Authorization sentinels shared by the RBAC and policy engines.
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNoMembership      = errors.New("user has no membership in organization")
	ErrMembershipRevoked = errors.New("membership is not active")
	ErrUserNotFound      = errors.New("user not found")
	ErrClientNotFound    = errors.New("client not found")
	ErrProviderNotFound  = errors.New("identity provider not found")
	ErrProviderDisabled  = errors.New("identity provider is disabled")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExpired    = errors.New("session expired")
	ErrAuthzUnavailable  = errors.New("authorization backend unavailable")
)
