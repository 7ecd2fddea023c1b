package service

import (
	"errors"

	"github.com/MKhiriev/go-trust-engine/internal/crypto"
)

var (
	ErrContactIsOwnedIdentity     = errors.New("an owned identity cannot be its own contact")
	ErrOwnedIdentityAlreadyExists = errors.New("owned identity already exists")
	ErrUnknownOwnedIdentity       = errors.New("unknown owned identity")
	ErrContactInGroup             = errors.New("contact is still member of a group")

	ErrNotGroupOwner     = errors.New("operation reserved to the group owner")
	ErrMissingPermission = errors.New("missing group permission")
	ErrGroupFrozen       = errors.New("group is frozen")
	ErrKeycloakGroup     = errors.New("operation not allowed on a keycloak group")
	ErrNotInGroupBlob    = errors.New("owned identity is not listed in the group blob")
	ErrBlobGroupMismatch = errors.New("group blob does not belong to this group")

	ErrNotKeycloakManaged = errors.New("owned identity is not managed by a keycloak server")
	ErrKeycloakSignature  = errors.New("invalid keycloak signature")
	ErrRevokedIdentity    = errors.New("identity was revoked by its keycloak server")
	ErrStaleKeycloakToken = errors.New("keycloak token predates the signature validity window")

	ErrNoCurrentDevice     = errors.New("owned identity has no current device")
	ErrRemoveCurrentDevice = errors.New("the current device cannot be removed")
	ErrUnknownContact      = errors.New("identity is not a contact")
	ErrGroupOwnedLocally   = errors.New("group is owned by the local identity")
	ErrBackupNotEmpty      = errors.New("backup can only be restored onto an empty store")
	ErrUnsupportedBackup   = errors.New("unsupported backup format")
	ErrUnknownSyncAtom     = errors.New("unknown sync atom")
)

// Errors of the crypto layer surfaced unchanged by the signing and pre-key
// surface.
var (
	ErrInvalidSignature    = crypto.ErrInvalidSignature
	ErrUnknownPreKey       = crypto.ErrUnknownPreKey
	ErrMalformedCiphertext = crypto.ErrMalformedCiphertext
	ErrAdministratorsChain = crypto.ErrAdministratorsChain
)
