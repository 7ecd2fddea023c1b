package store

import (
	"context"

	"github.com/MKhiriev/go-trust-engine/models"
)

// Every repository method runs on the caller's [Session] so that writes made
// by different repositories commit or roll back together. Lookups return nil
// or false, never an error, when the row does not exist.

// OwnedIdentityRepository persists owned identities and their private keys.
type OwnedIdentityRepository interface {
	Insert(ctx context.Context, s *Session, owned models.OwnedIdentity) error
	Get(ctx context.Context, s *Session, identity models.Identity) (*models.OwnedIdentity, error)
	List(ctx context.Context, s *Session) ([]models.OwnedIdentity, error)
	Exists(ctx context.Context, s *Session, identity models.Identity) (bool, error)
	Count(ctx context.Context, s *Session) (int, error)
	SetActive(ctx context.Context, s *Session, identity models.Identity, active bool) error
	SetKeycloakServerURL(ctx context.Context, s *Session, identity models.Identity, serverURL string) error
	Delete(ctx context.Context, s *Session, identity models.Identity) error
}

// OwnedDeviceRepository persists owned devices and owns the current device
// cache. Deleting devices invalidates the cache entry of their owner.
type OwnedDeviceRepository interface {
	Insert(ctx context.Context, s *Session, device models.OwnedDevice) error
	Update(ctx context.Context, s *Session, device models.OwnedDevice) error
	Get(ctx context.Context, s *Session, owned models.Identity, uid models.UID) (*models.OwnedDevice, error)
	FindByUID(ctx context.Context, s *Session, uid models.UID) (*models.OwnedDevice, error)
	List(ctx context.Context, s *Session, owned models.Identity) ([]models.OwnedDevice, error)
	ListOther(ctx context.Context, s *Session, owned models.Identity) ([]models.OwnedDevice, error)
	Current(ctx context.Context, s *Session, owned models.Identity) (*models.OwnedDevice, error)
	CurrentUID(ctx context.Context, s *Session, owned models.Identity) (models.UID, bool, error)
	Delete(ctx context.Context, s *Session, owned models.Identity, uid models.UID) error
	DeleteAll(ctx context.Context, s *Session, owned models.Identity) error
	InvalidateCurrent(owned models.Identity)
	ClearExpiredPreKeys(ctx context.Context, s *Session, owned models.Identity, timestamp int64) (int64, error)
}

// PreKeyMaterialRepository keeps the private halves of current device
// pre-keys.
type PreKeyMaterialRepository interface {
	Insert(ctx context.Context, s *Session, m models.PreKeyMaterial) error
	Get(ctx context.Context, s *Session, owned models.Identity, keyID models.UID) (*models.PreKeyMaterial, error)
	List(ctx context.Context, s *Session, owned models.Identity) ([]models.PreKeyMaterial, error)
	DeleteExpired(ctx context.Context, s *Session, timestamp int64) (int64, error)
	DeleteAll(ctx context.Context, s *Session, owned models.Identity) error
}

// ContactRepository persists contacts and their trust origins.
type ContactRepository interface {
	Insert(ctx context.Context, s *Session, c models.ContactIdentity) error
	Update(ctx context.Context, s *Session, c models.ContactIdentity) error
	Get(ctx context.Context, s *Session, owned, contact models.Identity) (*models.ContactIdentity, error)
	Exists(ctx context.Context, s *Session, owned, contact models.Identity) (bool, error)
	List(ctx context.Context, s *Session, owned models.Identity) ([]models.ContactIdentity, error)
	ListByIdentity(ctx context.Context, s *Session, contact models.Identity) ([]models.ContactIdentity, error)
	Delete(ctx context.Context, s *Session, owned, contact models.Identity) error
	DeleteAll(ctx context.Context, s *Session, owned models.Identity) error
	AddTrustOrigin(ctx context.Context, s *Session, owned, contact models.Identity, origin models.TrustOrigin) error
	ListTrustOrigins(ctx context.Context, s *Session, owned, contact models.Identity) ([]models.TrustOrigin, error)
}

// ContactDeviceRepository persists contact devices.
type ContactDeviceRepository interface {
	Insert(ctx context.Context, s *Session, d models.ContactDevice) error
	Update(ctx context.Context, s *Session, d models.ContactDevice) error
	Get(ctx context.Context, s *Session, owned, contact models.Identity, uid models.UID) (*models.ContactDevice, error)
	List(ctx context.Context, s *Session, owned, contact models.Identity) ([]models.ContactDevice, error)
	ListAll(ctx context.Context, s *Session, owned models.Identity) ([]models.ContactDevice, error)
	Delete(ctx context.Context, s *Session, owned, contact models.Identity, uid models.UID) error
	DeleteForContact(ctx context.Context, s *Session, owned, contact models.Identity) error
	DeleteAll(ctx context.Context, s *Session, owned models.Identity) error
	ClearExpiredPreKeys(ctx context.Context, s *Session, owned models.Identity, timestamp int64) (int64, error)
}

// DetailsRepository stores details records and version pointers of every
// details kind.
type DetailsRepository interface {
	GetVersions(ctx context.Context, s *Session, key models.DetailsKey) (*models.DetailsVersions, error)
	PutVersions(ctx context.Context, s *Session, key models.DetailsKey, v models.DetailsVersions) error
	GetDetails(ctx context.Context, s *Session, key models.DetailsKey, version int) (*models.Details, error)
	PutDetails(ctx context.Context, s *Session, key models.DetailsKey, version int, d models.Details) error
	ListVersions(ctx context.Context, s *Session, key models.DetailsKey) ([]int, error)
	DeleteVersionsExcept(ctx context.Context, s *Session, key models.DetailsKey, keep ...int) (int64, error)
	Delete(ctx context.Context, s *Session, key models.DetailsKey) error
	DeleteAllForOwned(ctx context.Context, s *Session, owned models.Identity) error
	DeleteUnreachable(ctx context.Context, s *Session) (int64, error)
}

// GroupV1Repository persists owner/member groups.
type GroupV1Repository interface {
	Insert(ctx context.Context, s *Session, g models.ContactGroup) error
	Get(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key) (*models.ContactGroup, error)
	List(ctx context.Context, s *Session, owned models.Identity) ([]models.ContactGroup, error)
	SetMembersVersion(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key, version int64) error
	Delete(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key) error
	DeleteAll(ctx context.Context, s *Session, owned models.Identity) error

	AddMember(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key, contact models.Identity) error
	RemoveMember(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key, contact models.Identity) error
	ListMembers(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key) ([]models.Identity, error)
	IsMember(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key, contact models.Identity) (bool, error)
	ListGroupsWithMember(ctx context.Context, s *Session, owned, contact models.Identity) ([]models.GroupV1Key, error)

	PutPending(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key, p models.PendingMember) error
	GetPending(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key, identity models.Identity) (*models.PendingMember, error)
	ListPendings(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key) ([]models.PendingMember, error)
	RemovePending(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key, identity models.Identity) error
}

// GroupV2Repository persists admin-chain groups.
type GroupV2Repository interface {
	Insert(ctx context.Context, s *Session, g models.GroupV2) error
	Update(ctx context.Context, s *Session, g models.GroupV2) error
	Get(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier) (*models.GroupV2, error)
	List(ctx context.Context, s *Session, owned models.Identity) ([]models.GroupV2, error)
	Delete(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier) error
	DeleteAll(ctx context.Context, s *Session, owned models.Identity) error

	PutMember(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier, m models.GroupV2Member) error
	GetMember(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier, identity models.Identity) (*models.GroupV2Member, error)
	ListMembers(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier) ([]models.GroupV2Member, error)
	RemoveMember(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier, identity models.Identity) error
	ListGroupsWithMember(ctx context.Context, s *Session, owned, identity models.Identity) ([]models.GroupV2Identifier, error)

	PutPending(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier, p models.GroupV2PendingMember) error
	GetPending(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier, identity models.Identity) (*models.GroupV2PendingMember, error)
	ListPendings(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier) ([]models.GroupV2PendingMember, error)
	RemovePending(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier, identity models.Identity) error
}

// KeycloakRepository persists keycloak bindings and revocations.
type KeycloakRepository interface {
	PutServer(ctx context.Context, s *Session, k models.KeycloakServer) error
	GetServer(ctx context.Context, s *Session, owned models.Identity) (*models.KeycloakServer, error)
	DeleteServer(ctx context.Context, s *Session, owned models.Identity) error

	AddRevocation(ctx context.Context, s *Session, rev models.KeycloakRevokedIdentity) (bool, error)
	ListRevocations(ctx context.Context, s *Session, owned models.Identity, server string, identity models.Identity) ([]models.KeycloakRevokedIdentity, error)
	ListAllRevocations(ctx context.Context, s *Session, owned models.Identity) ([]models.KeycloakRevokedIdentity, error)
	PruneRevocations(ctx context.Context, s *Session, owned models.Identity, timestamp int64) (int64, error)
	DeleteRevocations(ctx context.Context, s *Session, owned models.Identity) error
}

// ServerUserDataRepository tracks server-hosted photo blobs.
type ServerUserDataRepository interface {
	Put(ctx context.Context, s *Session, d models.ServerUserData) error
	Get(ctx context.Context, s *Session, owned models.Identity, label []byte) (*models.ServerUserData, error)
	List(ctx context.Context, s *Session, owned models.Identity) ([]models.ServerUserData, error)
	ListAll(ctx context.Context, s *Session) ([]models.ServerUserData, error)
	ListToRefresh(ctx context.Context, s *Session, timestamp int64) ([]models.ServerUserData, error)
	Delete(ctx context.Context, s *Session, owned models.Identity, label []byte) error
	DeleteAll(ctx context.Context, s *Session, owned models.Identity) error
}
