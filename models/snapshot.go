package models

// IdentitySnapshotTag names the identity node in backup and sync snapshots.
const IdentitySnapshotTag = "identity"

// FullBackupVersion is the format version written in every [FullBackup].
const FullBackupVersion = 1

// FullBackup is the serialized form of the whole identity graph.
type FullBackup struct {
	Version    int                `json:"version"`
	Tag        string             `json:"tag"`
	Identities []IdentitySnapshot `json:"identities"`
}

// IdentitySnapshot is a point-in-time copy of one owned identity and
// everything it owns. Pre-key materials are device local and never part of
// a snapshot.
type IdentitySnapshot struct {
	OwnedIdentity  OwnedIdentity             `json:"owned_identity"`
	Details        DetailsTriple             `json:"details"`
	Devices        []OwnedDevice             `json:"devices"`
	Keycloak       *KeycloakServer           `json:"keycloak,omitempty"`
	Revocations    []KeycloakRevokedIdentity `json:"revocations,omitempty"`
	Contacts       []ContactSnapshot         `json:"contacts"`
	GroupsV1       []GroupV1Snapshot         `json:"groups_v1"`
	GroupsV2       []GroupV2Snapshot         `json:"groups_v2"`
	ServerUserData []ServerUserData          `json:"server_user_data,omitempty"`
}

type ContactSnapshot struct {
	Contact ContactIdentity `json:"contact"`
	Details DetailsTriple   `json:"details"`
	Devices []ContactDevice `json:"devices"`
}

type GroupV1Snapshot struct {
	Group    ContactGroup    `json:"group"`
	Details  DetailsTriple   `json:"details"`
	Members  []Identity      `json:"members"`
	Pendings []PendingMember `json:"pendings"`
}

type GroupV2Snapshot struct {
	Group    GroupV2                `json:"group"`
	Details  DetailsTriple          `json:"details"`
	Members  []GroupV2Member        `json:"members"`
	Pendings []GroupV2PendingMember `json:"pendings"`
}

// SyncAtomType enumerates the trust decisions replicated across owned
// devices.
type SyncAtomType string

const (
	SyncAtomTrustContactDetails        SyncAtomType = "trust_contact_details"
	SyncAtomTrustGroupV1Details        SyncAtomType = "trust_group_v1_details"
	SyncAtomTrustGroupV2Details        SyncAtomType = "trust_group_v2_details"
	SyncAtomContactOneToOne            SyncAtomType = "contact_one_to_one"
	SyncAtomContactForcefullyUnblocked SyncAtomType = "contact_forcefully_unblocked"
)

// SyncAtom is one idempotent trust decision. Only the fields relevant to
// its type are set.
type SyncAtom struct {
	Type    SyncAtomType       `json:"type"`
	Contact *Identity          `json:"contact,omitempty"`
	GroupV1 *GroupV1Key        `json:"group_v1,omitempty"`
	GroupV2 *GroupV2Identifier `json:"group_v2,omitempty"`
	// Version is the details version the decision applies to.
	Version int  `json:"version,omitempty"`
	Value   bool `json:"value,omitempty"`
}
