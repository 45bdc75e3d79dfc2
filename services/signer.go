package services

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidKeyID = errors.New("invalid key id")

type TokenSignerFunc func(claims jwt.Claims) (string, error)

// TokenSigner signs JWTs. HS256 with a shared secret is the default; RS256
// keys can be added under a key ID and are published through the JWKS.
type TokenSigner struct {
	keys    map[string]TokenSignerFunc
	rsaKeys map[string]*rsa.PrivateKey
	secrets map[string][]byte
}

// NewTokenSigner creates a new TokenSigner instance.
func NewTokenSigner() *TokenSigner {
	return &TokenSigner{
		keys:    make(map[string]TokenSignerFunc),
		rsaKeys: make(map[string]*rsa.PrivateKey),
		secrets: make(map[string][]byte),
	}
}

// AddKeySigner registers the default HS256 signer.
func (s *TokenSigner) AddKeySigner(secretKey string) {
	s.secrets["default"] = []byte(secretKey)
	s.keys["default"] = func(claims jwt.Claims) (string, error) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		tokenString, err := token.SignedString([]byte(secretKey))
		if err != nil {
			return "", fmt.Errorf("failed to sign token: %w", err)
		}
		return tokenString, nil
	}
}

// AddRSASigner registers an RS256 signer under the given key ID.
func (s *TokenSigner) AddRSASigner(keyID string, key *rsa.PrivateKey) {
	s.rsaKeys[keyID] = key
	s.keys[keyID] = func(claims jwt.Claims) (string, error) {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = keyID
		tokenString, err := token.SignedString(key)
		if err != nil {
			return "", fmt.Errorf("failed to sign token: %w", err)
		}
		return tokenString, nil
	}
}

// Sign signs claims with the named key, or the default signer when keyID is
// empty.
func (s *TokenSigner) Sign(claims jwt.Claims, keyID string) (string, error) {
	if keyID == "" {
		if signer, ok := s.keys["default"]; ok {
			return signer(claims)
		}
		for _, signer := range s.keys {
			if signer != nil {
				return signer(claims)
			}
		}
		return "", ErrInvalidKeyID
	}

	if signer, ok := s.keys[keyID]; ok {
		return signer(claims)
	}
	return "", ErrInvalidKeyID
}

// Keyfunc resolves verification keys for jwt.Parse.
func (s *TokenSigner) Keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)

	switch token.Method.(type) {
	case *jwt.SigningMethodRSA:
		if key, ok := s.rsaKeys[kid]; ok {
			return &key.PublicKey, nil
		}
		return nil, ErrInvalidKeyID
	case *jwt.SigningMethodHMAC:
		if kid == "" {
			kid = "default"
		}
		if secret, ok := s.secrets[kid]; ok {
			return secret, nil
		}
		return nil, ErrInvalidKeyID
	default:
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
}

// PublicKeys returns the RS256 public keys by key ID for the JWKS endpoint.
func (s *TokenSigner) PublicKeys() map[string]*rsa.PublicKey {
	out := make(map[string]*rsa.PublicKey, len(s.rsaKeys))
	for kid, key := range s.rsaKeys {
		out[kid] = &key.PublicKey
	}
	return out
}
