package service

import (
	"context"

	"github.com/MKhiriev/go-trust-engine/internal/crypto"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

// Every operation runs on the caller's [store.Session]. Operations on an
// unknown identity, device, contact or group are no-ops returning nil, zero
// or false. Operations documented as transactional fail with
// store.ErrNotInTransaction on an autocommit session.

// IdentityService manages owned identities, their details and their devices.
type IdentityService interface {
	GenerateOwnedIdentity(ctx context.Context, s *store.Session, server string, details models.Details, deviceName string) (*models.OwnedIdentity, error)
	GetOwnedIdentity(ctx context.Context, s *store.Session, owned models.Identity) (*models.OwnedIdentity, error)
	ListOwnedIdentities(ctx context.Context, s *store.Session) ([]models.OwnedIdentity, error)
	// DeleteOwnedIdentity is transactional. It cascades to devices, contacts,
	// groups, keycloak state and details.
	DeleteOwnedIdentity(ctx context.Context, s *store.Session, owned models.Identity) error
	DeactivateOwnedIdentity(ctx context.Context, s *store.Session, owned models.Identity) error
	ReactivateOwnedIdentity(ctx context.Context, s *store.Session, owned models.Identity) error

	GetOwnedDetails(ctx context.Context, s *store.Session, owned models.Identity) (*models.DetailsTriple, error)
	SetOwnedLatestDetails(ctx context.Context, s *store.Session, owned models.Identity, d models.Details) error
	PublishOwnedDetails(ctx context.Context, s *store.Session, owned models.Identity) (int, error)
	DiscardOwnedLatestDetails(ctx context.Context, s *store.Session, owned models.Identity) error

	ListOwnedDevices(ctx context.Context, s *store.Session, owned models.Identity) ([]models.OwnedDevice, error)
	CurrentDeviceUID(ctx context.Context, s *store.Session, owned models.Identity) (models.UID, bool, error)
	AddOwnedDevice(ctx context.Context, s *store.Session, owned models.Identity, uid models.UID, displayName string) error
	RemoveOwnedDevice(ctx context.Context, s *store.Session, owned models.Identity, uid models.UID) error
	UpdateOwnedDevice(ctx context.Context, s *store.Session, owned models.Identity, uid models.UID, update DeviceUpdate) error
}

// CapabilityService is the capability negotiation surface used by protocol
// orchestration.
type CapabilityService interface {
	// OwnedIdentityCapabilities intersects the capabilities of every owned
	// device that reported some. It returns nil when none did.
	OwnedIdentityCapabilities(ctx context.Context, s *store.Session, owned models.Identity) (models.Capabilities, error)
	CurrentDeviceCapabilities(ctx context.Context, s *store.Session, owned models.Identity) (models.Capabilities, error)
	SetCurrentDeviceCapabilities(ctx context.Context, s *store.Session, owned models.Identity, caps models.Capabilities) error
	SetOwnedDeviceCapabilities(ctx context.Context, s *store.Session, owned models.Identity, uid models.UID, caps models.Capabilities) error
	ContactCapabilities(ctx context.Context, s *store.Session, owned, contact models.Identity) (models.Capabilities, error)
	SetContactDeviceCapabilities(ctx context.Context, s *store.Session, owned, contact models.Identity, uid models.UID, caps models.Capabilities) error
}

// PreKeyService handles the pre-key lifecycle and the pre-key bootstrap of
// message keys.
type PreKeyService interface {
	// GenerateNewPreKey replaces the pre-key of the current device of owned.
	GenerateNewPreKey(ctx context.Context, s *store.Session, owned models.Identity, serverTimestamp int64) (*models.PreKey, error)
	SetOwnedDevicePreKey(ctx context.Context, s *store.Session, owned models.Identity, uid models.UID, pk *models.PreKey) error
	SetContactDevicePreKey(ctx context.Context, s *store.Session, owned, contact models.Identity, uid models.UID, pk *models.PreKey) error
	// ExpireContactAndOwnedPreKeys clears pre-keys expiring before
	// serverTimestamp, only for identities registered on server.
	ExpireContactAndOwnedPreKeys(ctx context.Context, s *store.Session, server string, serverTimestamp int64) error

	WrapWithPreKey(ctx context.Context, s *store.Session, owned models.Identity, messageKey []byte, recipient models.Identity, recipientDevice models.UID) ([]byte, error)
	UnwrapWithPreKey(ctx context.Context, s *store.Session, owned models.Identity, message []byte) (*crypto.PreKeyPayload, error)
}

// SignatureService signs and verifies protocol challenges and encrypts to
// identities.
type SignatureService interface {
	SolveChallenge(ctx context.Context, s *store.Session, owned models.Identity, t crypto.ChallengeType, payload []byte) ([]byte, error)
	SignIdentities(ctx context.Context, s *store.Session, owned models.Identity, identities ...models.Identity) ([]byte, error)
	VerifyIdentitiesSignature(signer models.Identity, signature []byte, identities ...models.Identity) error
	SignChannel(ctx context.Context, s *store.Session, owned, remote models.Identity, remoteDevice models.UID, ephemeralKey []byte) ([]byte, error)
	VerifyChannelSignature(ctx context.Context, s *store.Session, owned, remote models.Identity, remoteDevice models.UID, ephemeralKey, signature []byte) error
	SignBlock(ctx context.Context, s *store.Session, owned models.Identity, block []byte) ([]byte, error)
	SignGroupInvitationNonce(ctx context.Context, s *store.Session, owned models.Identity, group models.GroupV2Identifier, nonce []byte, recipient models.Identity) ([]byte, error)
	VerifyGroupInvitationNonce(signer models.Identity, group models.GroupV2Identifier, nonce []byte, recipient models.Identity, signature []byte) error

	Wrap(recipient models.Identity, plaintext []byte) ([]byte, error)
	Unwrap(ctx context.Context, s *store.Session, owned models.Identity, ciphertext []byte) ([]byte, error)
}

// ContactService manages contacts, their devices and their trust state.
type ContactService interface {
	AddContactIdentity(ctx context.Context, s *store.Session, owned, contact models.Identity, details models.Details, origin models.TrustOrigin, oneToOne bool) (*models.ContactIdentity, error)
	GetContactIdentity(ctx context.Context, s *store.Session, owned, contact models.Identity) (*models.ContactIdentity, error)
	ListContactIdentities(ctx context.Context, s *store.Session, owned models.Identity) ([]models.ContactIdentity, error)
	// DeleteContactIdentity refuses contacts still in a group unless force
	// is set.
	DeleteContactIdentity(ctx context.Context, s *store.Session, owned, contact models.Identity, force bool) error
	AddTrustOrigin(ctx context.Context, s *store.Session, owned, contact models.Identity, origin models.TrustOrigin) error
	TrustLevel(ctx context.Context, s *store.Session, owned, contact models.Identity) (models.TrustLevel, error)

	SetContactActive(ctx context.Context, s *store.Session, owned, contact models.Identity, active bool) error
	SetContactRecentlyOnline(ctx context.Context, s *store.Session, owned, contact models.Identity, online bool) error
	SetContactOneToOne(ctx context.Context, s *store.Session, owned, contact models.Identity, oneToOne bool) error
	ForcefullyUnblockContact(ctx context.Context, s *store.Session, owned, contact models.Identity) error
	ReBlockForcefullyUnblockedContact(ctx context.Context, s *store.Session, owned, contact models.Identity) error

	GetContactDetails(ctx context.Context, s *store.Session, owned, contact models.Identity) (*models.DetailsTriple, error)
	ApplyContactPublishedDetails(ctx context.Context, s *store.Session, owned, contact models.Identity, version int, d models.Details) (bool, error)
	TrustContactPublishedDetails(ctx context.Context, s *store.Session, owned, contact models.Identity) (bool, error)

	ListContactDevices(ctx context.Context, s *store.Session, owned, contact models.Identity) ([]models.ContactDevice, error)
	AddContactDevice(ctx context.Context, s *store.Session, owned, contact models.Identity, uid models.UID) error
	RemoveContactDevice(ctx context.Context, s *store.Session, owned, contact models.Identity, uid models.UID) error
	UpdateContactDevice(ctx context.Context, s *store.Session, owned, contact models.Identity, uid models.UID, update DeviceUpdate) error
}

// GroupV1Service manages owner/member groups. Membership mutations are
// transactional.
type GroupV1Service interface {
	CreateOwnedGroupV1(ctx context.Context, s *store.Session, owned models.Identity, details models.Details, members []models.Identity, pendings []models.IdentityWithDetails) (*models.ContactGroup, error)
	CreateJoinedGroupV1(ctx context.Context, s *store.Session, owned models.Identity, info models.GroupInformation) (*models.ContactGroup, error)
	GetGroupV1(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) (*models.ContactGroup, error)
	ListGroupsV1(ctx context.Context, s *store.Session, owned models.Identity) ([]models.ContactGroup, error)
	ListGroupV1Members(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) ([]models.Identity, error)
	ListGroupV1Pendings(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) ([]models.PendingMember, error)
	DeleteGroupV1(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) error

	AddPendingMembersToGroup(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key, pendings []models.IdentityWithDetails) error
	AddGroupMemberFromPendingMember(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key, identity models.Identity) error
	RemoveMembersAndPendingFromGroup(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key, identities []models.Identity) error
	SetPendingMemberDeclined(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key, identity models.Identity, declined bool) error

	UpdateGroupMembersAndDetails(ctx context.Context, s *store.Session, owned models.Identity, info models.GroupInformation, update models.GroupMembersUpdate) (bool, error)
	ResetGroupMembersAndPublishedDetailsVersions(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key, detailsVersion int) error

	GetGroupV1Details(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) (*models.DetailsTriple, error)
	SetGroupV1LatestDetails(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key, d models.Details) error
	PublishGroupV1Details(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) (int, error)
	DiscardGroupV1LatestDetails(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) error
	TrustGroupV1PublishedDetails(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) (bool, error)
}

// GroupV2Service manages admin-chain groups.
type GroupV2Service interface {
	CreateGroupV2(ctx context.Context, s *store.Session, owned models.Identity, server string, ownPermissions models.Permissions, details models.Details, invitees []models.GroupV2PendingMember) (*models.GroupV2, error)
	JoinGroupV2(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier, blob models.GroupV2ServerBlob, keys models.GroupV2BlobKeys) (*models.GroupV2, error)
	UpdateGroupV2WithNewBlob(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier, blob models.GroupV2ServerBlob, keys models.GroupV2BlobKeys) (models.GroupV2ChangeSet, error)
	GetGroupV2(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier) (*models.GroupV2, error)
	ListGroupsV2(ctx context.Context, s *store.Session, owned models.Identity) ([]models.GroupV2, error)
	ListGroupV2Members(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier) ([]models.GroupV2Member, error)
	ListGroupV2Pendings(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier) ([]models.GroupV2PendingMember, error)
	DeleteGroupV2(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier) error

	FreezeGroupV2(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier, frozen bool) error
	SetGroupV2UpdateInProgress(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier, inProgress bool) error
	ForcefullyRemoveMemberOrPendingFromNonAdminGroupV2(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier, identity models.Identity) (bool, error)

	GetGroupV2Details(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier) (*models.DetailsTriple, error)
	TrustGroupV2PublishedDetails(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier) (bool, error)
}

// KeycloakService binds owned identities to keycloak servers and ingests
// their signed tokens.
type KeycloakService interface {
	BindOwnedIdentityToKeycloak(ctx context.Context, s *store.Session, owned models.Identity, server models.KeycloakServer, signedDetails models.Details) error
	// UnbindOwnedIdentityFromKeycloak is transactional. It strips the signed
	// details by discarding the draft and publishing the stripped details.
	UnbindOwnedIdentityFromKeycloak(ctx context.Context, s *store.Session, owned models.Identity) error
	GetOwnedIdentityKeycloakState(ctx context.Context, s *store.Session, owned models.Identity) (*models.KeycloakServer, error)
	UpdateKeycloakJWKS(ctx context.Context, s *store.Session, owned models.Identity) error
	SetKeycloakPushTopics(ctx context.Context, s *store.Session, owned models.Identity, topics []string) error
	SetKeycloakSelfRevocationTestNonce(ctx context.Context, s *store.Session, owned models.Identity, nonce string) error
	SetKeycloakTransferRestricted(ctx context.Context, s *store.Session, owned models.Identity, restricted bool) error

	VerifyKeycloakIdentitySignature(ctx context.Context, s *store.Session, owned models.Identity, token string) (*models.KeycloakUserDetailsClaims, error)
	AddKeycloakContact(ctx context.Context, s *store.Session, owned models.Identity, token string) (*models.ContactIdentity, error)
	VerifyAndAddRevocationList(ctx context.Context, s *store.Session, owned models.Identity, tokens []string, listTimestamp int64) error
	UpdateKeycloakGroups(ctx context.Context, s *store.Session, owned models.Identity, update models.KeycloakGroupsUpdate) error
}

// ServerUserDataService tracks server-hosted photo blobs.
type ServerUserDataService interface {
	CreateServerUserData(ctx context.Context, s *store.Session, d models.ServerUserData) error
	GetServerUserData(ctx context.Context, s *store.Session, owned models.Identity, label []byte) (*models.ServerUserData, error)
	ListServerUserDataToRefresh(ctx context.Context, s *store.Session, timestamp int64) ([]models.ServerUserData, error)
	RefreshServerUserData(ctx context.Context, s *store.Session, owned models.Identity, label []byte, nextRefreshTimestamp int64) error
	DeleteServerUserData(ctx context.Context, s *store.Session, owned models.Identity, label []byte) error
	// DeleteOrphanServerUserData removes entries whose group no longer
	// exists.
	DeleteOrphanServerUserData(ctx context.Context, s *store.Session) (int, error)
}

// BackupService produces and restores full backups.
type BackupService interface {
	// SnapshotTag names the snapshot node produced by this service.
	SnapshotTag() string
	GetSyncSnapshot(ctx context.Context, owned models.Identity) (*models.IdentitySnapshot, error)
	Serialize(ctx context.Context) ([]byte, error)
	Deserialize(data []byte) (*models.FullBackup, error)
	// RestoreFullBackup restores onto an empty store only.
	RestoreFullBackup(ctx context.Context, backup *models.FullBackup) error
}

// SyncService applies cross-device trust decisions.
type SyncService interface {
	ApplySyncAtom(ctx context.Context, s *store.Session, owned models.Identity, atom models.SyncAtom) (bool, error)
	ReconcileSyncSnapshot(ctx context.Context, s *store.Session, owned models.Identity, snapshot models.IdentitySnapshot) (int, error)
}
