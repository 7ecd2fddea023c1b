package models

import (
	"encoding/base64"
	"errors"
	"strings"
)

// GroupV2Category distinguishes server-managed from keycloak-managed groups.
type GroupV2Category int

const (
	GroupV2CategoryServer   GroupV2Category = 0
	GroupV2CategoryKeycloak GroupV2Category = 1
)

var ErrMalformedGroupIdentifier = errors.New("malformed group v2 identifier")

// GroupV2Identifier identifies a group v2 on a given server.
type GroupV2Identifier struct {
	UID      UID             `json:"uid"`
	Server   string          `json:"server"`
	Category GroupV2Category `json:"category"`
}

// Bytes returns category ∥ uid ∥ server.
func (g GroupV2Identifier) Bytes() []byte {
	out := make([]byte, 0, 1+UIDSize+len(g.Server))
	out = append(out, byte(g.Category))
	out = append(out, g.UID[:]...)
	out = append(out, g.Server...)
	return out
}

// ParseGroupV2Identifier decodes the output of [GroupV2Identifier.Bytes].
func ParseGroupV2Identifier(b []byte) (GroupV2Identifier, error) {
	if len(b) < 1+UIDSize {
		return GroupV2Identifier{}, ErrMalformedGroupIdentifier
	}
	category := GroupV2Category(b[0])
	if category != GroupV2CategoryServer && category != GroupV2CategoryKeycloak {
		return GroupV2Identifier{}, ErrMalformedGroupIdentifier
	}
	uid, _ := ParseUID(b[1 : 1+UIDSize])
	return GroupV2Identifier{UID: uid, Server: string(b[1+UIDSize:]), Category: category}, nil
}

func (g GroupV2Identifier) String() string {
	return base64.RawURLEncoding.EncodeToString(g.Bytes())
}

func (g GroupV2Identifier) IsKeycloak() bool {
	return g.Category == GroupV2CategoryKeycloak
}

// Permission is a group v2 member permission.
type Permission string

const (
	PermissionGroupAdmin                    Permission = "group_admin"
	PermissionRemoteDeleteAnything          Permission = "remote_delete_anything"
	PermissionEditOrRemoteDeleteOwnMessages Permission = "edit_or_remote_delete_own_messages"
	PermissionChangeSettings                Permission = "change_settings"
	PermissionSendMessage                   Permission = "send_message"
)

// Permissions is a set of group v2 permissions.
type Permissions map[Permission]struct{}

// NewPermissions builds a permission set.
func NewPermissions(perms ...Permission) Permissions {
	p := make(Permissions, len(perms))
	for _, perm := range perms {
		p[perm] = struct{}{}
	}
	return p
}

// AdminPermissions is the full permission set granted to group creators.
func AdminPermissions() Permissions {
	return NewPermissions(
		PermissionGroupAdmin,
		PermissionRemoteDeleteAnything,
		PermissionEditOrRemoteDeleteOwnMessages,
		PermissionChangeSettings,
		PermissionSendMessage,
	)
}

func (p Permissions) Has(perm Permission) bool {
	_, ok := p[perm]
	return ok
}

// Equal reports whether both sets hold the same permissions.
func (p Permissions) Equal(other Permissions) bool {
	if len(p) != len(other) {
		return false
	}
	for perm := range p {
		if !other.Has(perm) {
			return false
		}
	}
	return true
}

// String returns the sorted comma separated storage form.
func (p Permissions) String() string {
	names := make([]string, 0, len(p))
	for perm := range p {
		names = append(names, string(perm))
	}
	return strings.Join(NewCapabilities(names...).Names(), ",")
}

// ParsePermissions decodes the storage form.
func ParsePermissions(s string) Permissions {
	p := make(Permissions)
	for name := range ParseCapabilities(s) {
		p[Permission(name)] = struct{}{}
	}
	return p
}

func (p Permissions) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Permissions) UnmarshalText(text []byte) error {
	*p = ParsePermissions(string(text))
	return nil
}

// GroupV2 is an admin-chain group.
type GroupV2 struct {
	OwnedIdentity       Identity          `json:"-"`
	Identifier          GroupV2Identifier `json:"identifier"`
	Version             int               `json:"version"`
	OwnPermissions      Permissions       `json:"own_permissions"`
	OwnInvitationNonce  []byte            `json:"own_invitation_nonce"`
	AdministratorsChain []byte            `json:"administrators_chain"`
	BlobKeys            GroupV2BlobKeys   `json:"blob_keys"`
	Frozen              bool              `json:"frozen"`
	UpdateInProgress    bool              `json:"update_in_progress"`
	// LastModificationTimestamp is the timestamp of the last keycloak token
	// applied to a keycloak-category group.
	LastModificationTimestamp int64 `json:"last_modification_timestamp,omitempty"`
}

// GroupV2BlobKeys are the symmetric keys protecting the server blob.
type GroupV2BlobKeys struct {
	MainSeed    []byte `json:"main_seed,omitempty"`
	VersionSeed []byte `json:"version_seed,omitempty"`
}

// GroupV2Member is an active group v2 member.
type GroupV2Member struct {
	Identity        Identity    `json:"identity"`
	Permissions     Permissions `json:"permissions"`
	InvitationNonce []byte      `json:"invitation_nonce"`
}

// GroupV2PendingMember is an invited member who has not accepted yet.
type GroupV2PendingMember struct {
	Identity        Identity      `json:"identity"`
	Permissions     Permissions   `json:"permissions"`
	InvitationNonce []byte        `json:"invitation_nonce"`
	Details         string        `json:"details"`
	Status          PendingStatus `json:"status"`
}

// GroupV2ServerBlob is the decrypted server-side state of a group v2.
type GroupV2ServerBlob struct {
	AdministratorsChain []byte             `json:"administrators_chain"`
	Members             []GroupV2BlobEntry `json:"members"`
	Version             int                `json:"version"`
	Details             Details            `json:"details"`
}

// GroupV2BlobEntry is one member or pending member listed in a server blob.
type GroupV2BlobEntry struct {
	Identity        Identity    `json:"identity"`
	Permissions     Permissions `json:"permissions"`
	InvitationNonce []byte      `json:"invitation_nonce"`
	Details         string      `json:"details"`
	// Pending is true for members who have not accepted the invitation.
	Pending bool `json:"pending"`
}

// Find returns the blob entry of identity.
func (b GroupV2ServerBlob) Find(identity Identity) (GroupV2BlobEntry, bool) {
	for _, m := range b.Members {
		if m.Identity == identity {
			return m, true
		}
	}
	return GroupV2BlobEntry{}, false
}

// GroupV2ChangeKind tells why an identity is reported in a [GroupV2ChangeSet].
type GroupV2ChangeKind string

const (
	GroupV2ChangeAdded              GroupV2ChangeKind = "added"
	GroupV2ChangeRemoved            GroupV2ChangeKind = "removed"
	GroupV2ChangePermissionsChanged GroupV2ChangeKind = "permissions_changed"
	GroupV2ChangePromoted           GroupV2ChangeKind = "promoted"
)

// GroupV2ChangeSet maps identities whose membership or permissions changed
// to the kind of change.
type GroupV2ChangeSet map[Identity]GroupV2ChangeKind
