package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// KeycloakServer is the identity-provider binding of a keycloak-managed owned
// identity.
type KeycloakServer struct {
	OwnedIdentity Identity `json:"-"`
	ServerURL     string   `json:"server_url"`

	// SignatureKey is a pinned JWK. When empty, JWKS is used.
	SignatureKey string `json:"signature_key,omitempty"`
	JWKS         string `json:"jwks,omitempty"`

	ClientID       string   `json:"client_id"`
	ClientSecret   string   `json:"client_secret,omitempty"`
	KeycloakUserID string   `json:"keycloak_user_id,omitempty"`
	PushTopics     []string `json:"push_topics,omitempty"`

	LatestRevocationListTimestamp int64 `json:"latest_revocation_list_timestamp"`
	LatestGroupUpdateTimestamp    int64 `json:"latest_group_update_timestamp"`

	TransferRestricted      bool   `json:"transfer_restricted,omitempty"`
	SelfRevocationTestNonce string `json:"self_revocation_test_nonce,omitempty"`
}

// RevocationType is the reason a keycloak identity was revoked.
type RevocationType int

const (
	RevocationLeftCompany RevocationType = 0
	RevocationCompromised RevocationType = 1
)

func (r RevocationType) String() string {
	switch r {
	case RevocationLeftCompany:
		return "left_company"
	case RevocationCompromised:
		return "compromised"
	default:
		return "unknown"
	}
}

// KeycloakRevokedIdentity is an append-only revocation record.
type KeycloakRevokedIdentity struct {
	OwnedIdentity       Identity       `json:"-"`
	ServerURL           string         `json:"server_url"`
	Identity            Identity       `json:"identity"`
	Type                RevocationType `json:"type"`
	RevocationTimestamp int64          `json:"revocation_timestamp"`
}

// KeycloakUserDetailsClaims are the claims of a signed keycloak user details
// token.
type KeycloakUserDetailsClaims struct {
	Identity  []byte `json:"identity"`
	ID        string `json:"id,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Company   string `json:"company,omitempty"`
	Position  string `json:"position,omitempty"`
	Timestamp int64  `json:"timestamp"`
	jwt.RegisteredClaims
}

// KeycloakRevocationClaims are the claims of a signed revocation token.
type KeycloakRevocationClaims struct {
	Identity  []byte         `json:"identity"`
	Type      RevocationType `json:"type"`
	Timestamp int64          `json:"timestamp"`
	jwt.RegisteredClaims
}

// KeycloakGroupClaims are the claims of a signed group deletion, kick or blob
// token.
type KeycloakGroupClaims struct {
	GroupUID  []byte `json:"group_uid"`
	Blob      []byte `json:"blob,omitempty"`
	Timestamp int64  `json:"timestamp"`
	jwt.RegisteredClaims
}

// KeycloakGroupsUpdate is the batch of signed group tokens returned by the
// keycloak server.
type KeycloakGroupsUpdate struct {
	Deletions   []string `json:"deletions"`
	Kicks       []string `json:"kicks"`
	BlobUpdates []string `json:"blob_updates"`
	// CurrentTimestamp becomes the new group-update high-water mark.
	CurrentTimestamp int64 `json:"current_timestamp"`
}

// KeycloakGroupBlob is the payload of a keycloak group blob token.
type KeycloakGroupBlob struct {
	ServerBlob GroupV2ServerBlob `json:"server_blob"`
	BlobKeys   GroupV2BlobKeys   `json:"blob_keys"`
}
