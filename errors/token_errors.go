package errors

import "errors"

// Token validation sentinels. Handlers map all of them onto the same opaque
// response so callers cannot distinguish why a token was rejected.
var (
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenRevoked      = errors.New("token revoked")
	ErrTokenMalformed    = errors.New("token malformed")
	ErrTokenSignature    = errors.New("token signature invalid")
	ErrTokenWrongType    = errors.New("unexpected token type")
	ErrTokenNotFound     = errors.New("token not found")
	ErrUnknownSigningKey = errors.New("unknown signing key")
)
