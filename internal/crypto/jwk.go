package crypto

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

var ErrJWK = errors.New("invalid json web key")

// jwtMethods are the signing algorithms accepted on keycloak tokens.
var jwtMethods = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA"}

// KeySet holds the verification keys of a keycloak server.
type KeySet struct {
	keyfunc keyfunc.Keyfunc
}

// ParseJWK parses a single pinned key.
func ParseJWK(raw string) (*KeySet, error) {
	key, err := jwkset.NewJWKFromRawJSON(json.RawMessage(raw), jwkset.JWKMarshalOptions{}, jwkset.JWKValidateOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJWK, err)
	}
	if err = checkSignatureKey(key); err != nil {
		return nil, err
	}
	return newKeySet([]jwkset.JWK{key})
}

// ParseJWKS parses a key set document. Keys not meant for signatures or of
// an unsupported type are skipped.
func ParseJWKS(raw string) (*KeySet, error) {
	var doc jwkset.JWKSMarshal
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJWK, err)
	}

	keys := make([]jwkset.JWK, 0, len(doc.Keys))
	for _, m := range doc.Keys {
		if m.USE != "" && m.USE != jwkset.UseSig {
			continue
		}
		key, err := jwkset.NewJWKFromMarshal(m, jwkset.JWKMarshalOptions{}, jwkset.JWKValidateOptions{})
		if err != nil || checkSignatureKey(key) != nil {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no usable signature key", ErrJWK)
	}
	return newKeySet(keys)
}

func newKeySet(keys []jwkset.JWK) (*KeySet, error) {
	storage := jwkset.NewMemoryStorage()
	if err := storage.KeyReplaceAll(context.Background(), keys); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJWK, err)
	}
	kf, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJWK, err)
	}
	return &KeySet{keyfunc: kf}, nil
}

// checkSignatureKey rejects symmetric and key agreement keys.
func checkSignatureKey(key jwkset.JWK) error {
	switch key.Key().(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return nil
	default:
		return fmt.Errorf("%w: unsupported key type %q", ErrJWK, key.Marshal().KTY)
	}
}

// Keyfunc selects the key named by the kid header. A token without a kid
// is checked against every key of the set.
func (ks *KeySet) Keyfunc(t *jwt.Token) (any, error) {
	key, err := ks.keyfunc.Keyfunc(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJWK, err)
	}
	return key, nil
}

// ParseToken verifies token and decodes its claims into claims.
func (ks *KeySet) ParseToken(token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims, ks.Keyfunc, jwt.WithValidMethods(jwtMethods))
	return err
}
