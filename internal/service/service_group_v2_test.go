package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MKhiriev/go-trust-engine/internal/crypto"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

// groupV2Fixture is a group created by alice, both alice and bob being
// owned identities of the same store.
type groupV2Fixture struct {
	env   *testEnv
	alice *models.OwnedIdentity
	bob   *models.OwnedIdentity
	group *models.GroupV2
}

func newGroupV2Fixture(t *testing.T, env *testEnv, bobPermissions models.Permissions) *groupV2Fixture {
	t.Helper()

	f := &groupV2Fixture{env: env, alice: env.newOwned(t, testServer), bob: env.newOwned(t, testServer)}
	env.tx(t, func(s *store.Session) error {
		var err error
		f.group, err = env.services.GroupsV2.CreateGroupV2(env.ctx, s, f.alice.Identity, testServer, models.AdminPermissions(),
			models.Details{JSON: `{"name":"v2"}`},
			[]models.GroupV2PendingMember{{Identity: f.bob.Identity, Permissions: bobPermissions}})
		return err
	})
	return f
}

// blob lists alice and bob as members, plus extra.
func (f *groupV2Fixture) blob(version int, chain []byte, bobPermissions models.Permissions, extra ...models.GroupV2BlobEntry) models.GroupV2ServerBlob {
	members := []models.GroupV2BlobEntry{
		{Identity: f.alice.Identity, Permissions: models.AdminPermissions(), InvitationNonce: []byte("alice-nonce")},
		{Identity: f.bob.Identity, Permissions: bobPermissions, InvitationNonce: []byte("bob-nonce")},
	}
	return models.GroupV2ServerBlob{
		AdministratorsChain: chain,
		Members:             append(members, extra...),
		Version:             version,
		Details:             models.Details{JSON: `{"name":"v2"}`},
	}
}

func (f *groupV2Fixture) join(t *testing.T, blob models.GroupV2ServerBlob) *models.GroupV2 {
	t.Helper()

	var joined *models.GroupV2
	f.env.tx(t, func(s *store.Session) error {
		var err error
		joined, err = f.env.services.GroupsV2.JoinGroupV2(f.env.ctx, s, f.bob.Identity, f.group.Identifier, blob, f.group.BlobKeys)
		return err
	})
	return joined
}

func (f *groupV2Fixture) update(blob models.GroupV2ServerBlob) (models.GroupV2ChangeSet, error) {
	var changes models.GroupV2ChangeSet
	err := f.env.db.WithinTransaction(f.env.ctx, func(s *store.Session) error {
		var err error
		changes, err = f.env.services.GroupsV2.UpdateGroupV2WithNewBlob(f.env.ctx, s, f.bob.Identity, f.group.Identifier, blob, models.GroupV2BlobKeys{})
		return err
	})
	return changes, err
}

func TestGroupV2Service_CreateGroupV2(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	f := newGroupV2Fixture(t, env, models.AdminPermissions())

	assert.Equal(t, testServer, f.group.Identifier.Server)
	assert.Equal(t, models.GroupV2CategoryServer, f.group.Identifier.Category)
	assert.Len(t, f.group.OwnInvitationNonce, invitationNonceSize)

	chain, err := crypto.DecodeAdministratorsChain(f.group.AdministratorsChain)
	require.NoError(t, err)
	uid, err := chain.Verify()
	require.NoError(t, err)
	assert.Equal(t, f.group.Identifier.UID, uid)
	assert.True(t, chain.IsAdministrator(f.alice.Identity))
	assert.True(t, chain.IsAdministrator(f.bob.Identity))

	pendings, err := env.services.GroupsV2.ListGroupV2Pendings(env.ctx, env.session(), f.alice.Identity, f.group.Identifier)
	require.NoError(t, err)
	require.Len(t, pendings, 1)
	assert.Equal(t, models.PendingInvited, pendings[0].Status)
	assert.Len(t, pendings[0].InvitationNonce, invitationNonceSize)

	err = env.db.WithinTransaction(env.ctx, func(s *store.Session) error {
		_, err := env.services.GroupsV2.CreateGroupV2(env.ctx, s, f.alice.Identity, testServer,
			models.NewPermissions(models.PermissionSendMessage), models.Details{}, nil)
		return err
	})
	require.ErrorIs(t, err, ErrMissingPermission)
}

func TestGroupV2Service_JoinAndUpdate(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	f := newGroupV2Fixture(t, env, models.AdminPermissions())
	carol := newTestIdentity(t, testServer)

	joined := f.join(t, f.blob(1, f.group.AdministratorsChain, models.AdminPermissions()))
	require.NotNil(t, joined)
	assert.Equal(t, 1, joined.Version)
	assert.True(t, joined.OwnPermissions.Has(models.PermissionGroupAdmin))
	assert.Equal(t, []byte("bob-nonce"), joined.OwnInvitationNonce)

	members, err := env.services.GroupsV2.ListGroupV2Members(env.ctx, env.session(), f.bob.Identity, f.group.Identifier)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, f.alice.Identity, members[0].Identity)

	// replayed blob
	changes, err := f.update(f.blob(1, f.group.AdministratorsChain, models.AdminPermissions()))
	require.NoError(t, err)
	assert.Empty(t, changes)

	chain, err := crypto.DecodeAdministratorsChain(f.group.AdministratorsChain)
	require.NoError(t, err)
	require.NoError(t, chain.Append(*f.alice, []models.Identity{f.alice.Identity}))
	extended, err := chain.Encode()
	require.NoError(t, err)

	changes, err = f.update(f.blob(2, extended, models.NewPermissions(models.PermissionSendMessage),
		models.GroupV2BlobEntry{Identity: carol, Permissions: models.NewPermissions(models.PermissionSendMessage), Pending: true}))
	require.NoError(t, err)
	assert.Equal(t, models.GroupV2ChangeSet{carol: models.GroupV2ChangeAdded}, changes)

	got, err := env.services.GroupsV2.GetGroupV2(env.ctx, env.session(), f.bob.Identity, f.group.Identifier)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.False(t, got.OwnPermissions.Has(models.PermissionGroupAdmin))
	assert.Equal(t, extended, got.AdministratorsChain)

	// the original chain does not extend the stored one
	_, err = f.update(f.blob(3, f.group.AdministratorsChain, models.AdminPermissions()))
	require.ErrorIs(t, err, ErrAdministratorsChain)

	// a chain of another group
	other, err := crypto.NewAdministratorsChain(*f.alice, []models.Identity{f.alice.Identity})
	require.NoError(t, err)
	otherChain, err := other.Encode()
	require.NoError(t, err)
	_, err = f.update(f.blob(3, otherChain, models.AdminPermissions()))
	require.ErrorIs(t, err, ErrBlobGroupMismatch)

	// carol joined
	changes, err = f.update(f.blob(3, extended, models.NewPermissions(models.PermissionSendMessage),
		models.GroupV2BlobEntry{Identity: carol, Permissions: models.NewPermissions(models.PermissionSendMessage)}))
	require.NoError(t, err)
	assert.Equal(t, models.GroupV2ChangeSet{carol: models.GroupV2ChangePromoted}, changes)
}

func TestGroupV2Service_RemovedFromBlob(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	f := newGroupV2Fixture(t, env, models.AdminPermissions())

	f.join(t, f.blob(1, f.group.AdministratorsChain, models.AdminPermissions()))

	blob := f.blob(2, f.group.AdministratorsChain, models.AdminPermissions())
	blob.Members = blob.Members[:1]
	changes, err := f.update(blob)
	require.NoError(t, err)
	assert.Equal(t, models.GroupV2ChangeSet{f.bob.Identity: models.GroupV2ChangeRemoved}, changes)

	got, err := env.services.GroupsV2.GetGroupV2(env.ctx, env.session(), f.bob.Identity, f.group.Identifier)
	require.NoError(t, err)
	assert.Nil(t, got)
	triple, err := env.services.GroupsV2.GetGroupV2Details(env.ctx, env.session(), f.bob.Identity, f.group.Identifier)
	require.NoError(t, err)
	assert.Nil(t, triple)
}

func TestGroupV2Service_JoinGroupV2_Rejections(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	f := newGroupV2Fixture(t, env, models.AdminPermissions())

	blob := f.blob(1, f.group.AdministratorsChain, models.AdminPermissions())
	blob.Members = blob.Members[:1]
	err := env.db.WithinTransaction(env.ctx, func(s *store.Session) error {
		_, err := env.services.GroupsV2.JoinGroupV2(env.ctx, s, f.bob.Identity, f.group.Identifier, blob, f.group.BlobKeys)
		return err
	})
	require.ErrorIs(t, err, ErrNotInGroupBlob)

	_, err = env.services.GroupsV2.JoinGroupV2(env.ctx, env.session(), f.bob.Identity, f.group.Identifier, blob, f.group.BlobKeys)
	require.ErrorIs(t, err, store.ErrNotInTransaction)
}

func TestGroupV2Service_ForcefullyRemoveMember(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	f := newGroupV2Fixture(t, env, models.NewPermissions(models.PermissionSendMessage))
	svc := env.services.GroupsV2

	f.join(t, f.blob(1, f.group.AdministratorsChain, models.NewPermissions(models.PermissionSendMessage)))

	require.NoError(t, svc.FreezeGroupV2(env.ctx, env.session(), f.bob.Identity, f.group.Identifier, true))
	_, err := svc.ForcefullyRemoveMemberOrPendingFromNonAdminGroupV2(env.ctx, env.session(), f.bob.Identity, f.group.Identifier, f.alice.Identity)
	require.ErrorIs(t, err, ErrGroupFrozen)
	require.NoError(t, svc.FreezeGroupV2(env.ctx, env.session(), f.bob.Identity, f.group.Identifier, false))

	removed, err := svc.ForcefullyRemoveMemberOrPendingFromNonAdminGroupV2(env.ctx, env.session(), f.bob.Identity, f.group.Identifier, f.alice.Identity)
	require.NoError(t, err)
	assert.True(t, removed)
	members, err := svc.ListGroupV2Members(env.ctx, env.session(), f.bob.Identity, f.group.Identifier)
	require.NoError(t, err)
	assert.Empty(t, members)

	// alice administers her group
	removed, err = svc.ForcefullyRemoveMemberOrPendingFromNonAdminGroupV2(env.ctx, env.session(), f.alice.Identity, f.group.Identifier, f.bob.Identity)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestGroupV2Service_KeycloakGroupsCannotBeFrozen(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	owned := env.newOwned(t, testServer)

	id := models.GroupV2Identifier{UID: newTestUID(t), Server: testServer, Category: models.GroupV2CategoryKeycloak}
	err := env.services.GroupsV2.FreezeGroupV2(env.ctx, env.session(), owned.Identity, id, true)
	require.ErrorIs(t, err, ErrKeycloakGroup)
}

func TestGroupV2Service_TrustPublishedDetails(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	f := newGroupV2Fixture(t, env, models.AdminPermissions())
	svc := env.services.GroupsV2

	f.join(t, f.blob(1, f.group.AdministratorsChain, models.AdminPermissions()))
	blob := f.blob(2, f.group.AdministratorsChain, models.AdminPermissions())
	blob.Details = models.Details{JSON: `{"name":"renamed"}`}
	_, err := f.update(blob)
	require.NoError(t, err)

	triple, err := svc.GetGroupV2Details(env.ctx, env.session(), f.bob.Identity, f.group.Identifier)
	require.NoError(t, err)
	assert.Equal(t, models.DetailsVersions{Latest: 2, Published: 2, Trusted: 1}, triple.Versions)

	trusted, err := svc.TrustGroupV2PublishedDetails(env.ctx, env.session(), f.bob.Identity, f.group.Identifier)
	require.NoError(t, err)
	assert.True(t, trusted)

	triple, err = svc.GetGroupV2Details(env.ctx, env.session(), f.bob.Identity, f.group.Identifier)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"renamed"}`, triple.Trusted().JSON)
	assert.Len(t, triple.Records, 1, "the record of version 1 is no longer referenced")
}
