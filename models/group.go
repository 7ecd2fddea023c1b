package models

import "fmt"

// GroupV1Key identifies a group v1: the owner identity and a uid chosen by
// the owner.
type GroupV1Key struct {
	Owner Identity `json:"owner"`
	UID   UID      `json:"uid"`
}

// Bytes returns owner ∥ uid, the stored form of the key.
func (k GroupV1Key) Bytes() []byte {
	return append(k.Owner.Bytes(), k.UID[:]...)
}

// ParseGroupV1Key decodes the output of [GroupV1Key.Bytes].
func ParseGroupV1Key(b []byte) (GroupV1Key, error) {
	if len(b) <= UIDSize {
		return GroupV1Key{}, fmt.Errorf("%w: group key too short", ErrMalformedUID)
	}
	owner, err := ParseIdentity(b[:len(b)-UIDSize])
	if err != nil {
		return GroupV1Key{}, err
	}
	uid, err := ParseUID(b[len(b)-UIDSize:])
	if err != nil {
		return GroupV1Key{}, err
	}
	return GroupV1Key{Owner: owner, UID: uid}, nil
}

func (k GroupV1Key) String() string {
	return k.Owner.String() + "/" + k.UID.String()
}

// ContactGroup is an owner/member group (group v1).
type ContactGroup struct {
	Key           GroupV1Key `json:"key"`
	OwnedIdentity Identity   `json:"-"`
	// GroupOwner is nil when the owned identity owns the group.
	GroupOwner     *Identity `json:"group_owner,omitempty"`
	MembersVersion int64     `json:"members_version"`
}

// IsOwned reports whether the owned identity is the group owner.
func (g ContactGroup) IsOwned() bool {
	return g.GroupOwner == nil
}

// PendingStatus is the status of a known-but-not-active group member. It is
// shared by both group models.
type PendingStatus string

const (
	PendingInvited  PendingStatus = "invited"
	PendingDeclined PendingStatus = "declined"
)

// PendingMember is a member invited to a group v1 who has not joined yet.
type PendingMember struct {
	Identity Identity      `json:"identity"`
	Details  string        `json:"details"`
	Status   PendingStatus `json:"status"`
}

// Declined reports whether the invitation was declined.
func (p PendingMember) Declined() bool {
	return p.Status == PendingDeclined
}

// GroupInformation is what a group owner broadcasts about a group v1.
type GroupInformation struct {
	Key            GroupV1Key `json:"key"`
	Details        Details    `json:"details"`
	DetailsVersion int        `json:"details_version"`
}

// GroupMembersUpdate is the authoritative membership of a group v1 as sent
// by its owner.
type GroupMembersUpdate struct {
	Members        []IdentityWithDetails `json:"members"`
	Pendings       []PendingMember       `json:"pendings"`
	MembersVersion int64                 `json:"members_version"`
}

// IdentityWithDetails pairs an identity with its serialized details, used
// when a group references members that may not be contacts yet.
type IdentityWithDetails struct {
	Identity Identity `json:"identity"`
	Details  string   `json:"details"`
}
