package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

func TestContactService_AddContactIdentity(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	svc := env.services.Contacts
	owned := env.newOwned(t, testServer)
	contact := newTestIdentity(t, testServer)

	_, err := svc.AddContactIdentity(env.ctx, env.session(), owned.Identity, owned.Identity, models.Details{}, models.TrustOrigin{}, false)
	require.ErrorIs(t, err, ErrContactIsOwnedIdentity)

	env.notifications.EXPECT().
		Post(gomock.Any(), NotificationContactAdded, owned.Identity, map[string]any{"contact": contact.String()}).
		Return(nil)
	c := env.addContact(t, owned.Identity, contact)
	assert.True(t, c.Active)
	assert.Equal(t, models.OneToOneTrue, c.OneToOne)
	assert.Equal(t, models.TrustLevelDirect, c.TrustLevel())

	// a weaker origin is appended without notification
	mediator := newTestIdentity(t, testServer)
	again, err := svc.AddContactIdentity(env.ctx, env.session(), owned.Identity, contact, models.Details{},
		models.TrustOrigin{Type: models.TrustOriginIntroduction, Timestamp: 2, Mediator: &mediator}, false)
	require.NoError(t, err)
	assert.Len(t, again.TrustOrigins, 2)
	assert.Equal(t, models.TrustLevelDirect, again.TrustLevel())

	triple, err := svc.GetContactDetails(env.ctx, env.session(), owned.Identity, contact)
	require.NoError(t, err)
	assert.Equal(t, `{"first_name":"Bob"}`, triple.Published().JSON, "details of the first insertion are kept")
}

func TestContactService_AddTrustOrigin_NotifiesOnIncrease(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	svc := env.services.Contacts
	owned := env.newOwned(t, testServer)
	contact := newTestIdentity(t, testServer)
	owner := newTestIdentity(t, testServer)

	env.notifications.EXPECT().Post(gomock.Any(), NotificationContactAdded, owned.Identity, gomock.Any()).Return(nil)
	env.protocols.EXPECT().StartDeviceDiscovery(gomock.Any(), owned.Identity, contact).Return(nil)
	_, err := svc.AddContactIdentity(env.ctx, env.session(), owned.Identity, contact, models.Details{},
		models.TrustOrigin{Type: models.TrustOriginGroup, Timestamp: 1, Mediator: &owner}, false)
	require.NoError(t, err)

	level, err := svc.TrustLevel(env.ctx, env.session(), owned.Identity, contact)
	require.NoError(t, err)
	assert.Equal(t, models.TrustLevelServer, level)

	env.notifications.EXPECT().
		Post(gomock.Any(), NotificationContactTrustChanged, owned.Identity, map[string]any{
			"contact": contact.String(),
			"level":   int(models.TrustLevelDirect),
		}).
		Return(nil)
	require.NoError(t, svc.AddTrustOrigin(env.ctx, env.session(), owned.Identity, contact, models.TrustOrigin{Type: models.TrustOriginDirect, Timestamp: 2}))

	level, err = svc.TrustLevel(env.ctx, env.session(), owned.Identity, contact)
	require.NoError(t, err)
	assert.Equal(t, models.TrustLevelDirect, level)
}

func TestContactService_DeleteContactIdentity_InGroup(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	svc := env.services.Contacts
	env.ignoreNotifications()

	owned := env.newOwned(t, testServer)
	contact := newTestIdentity(t, testServer)
	env.addContact(t, owned.Identity, contact)

	var group *models.ContactGroup
	var groupV2 *models.GroupV2
	env.tx(t, func(s *store.Session) error {
		var err error
		group, err = env.services.GroupsV1.CreateOwnedGroupV1(env.ctx, s, owned.Identity, models.Details{JSON: `{"name":"team"}`}, []models.Identity{contact}, nil)
		if err != nil {
			return err
		}
		groupV2, err = env.services.GroupsV2.CreateGroupV2(env.ctx, s, owned.Identity, testServer, models.AdminPermissions(),
			models.Details{JSON: `{"name":"v2"}`},
			[]models.GroupV2PendingMember{{Identity: contact, Permissions: models.NewPermissions(models.PermissionSendMessage)}})
		return err
	})
	require.NoError(t, env.repos.GroupsV2.PutMember(env.ctx, env.session(), owned.Identity, groupV2.Identifier,
		models.GroupV2Member{Identity: contact, Permissions: models.NewPermissions(models.PermissionSendMessage)}))

	err := svc.DeleteContactIdentity(env.ctx, env.session(), owned.Identity, contact, false)
	require.ErrorIs(t, err, ErrContactInGroup)

	env.channels.EXPECT().DestroyChannels(gomock.Any(), owned.Identity, contact).Return(nil)
	require.NoError(t, svc.DeleteContactIdentity(env.ctx, env.session(), owned.Identity, contact, true))

	after, err := env.services.GroupsV1.GetGroupV1(env.ctx, env.session(), owned.Identity, group.Key)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, group.MembersVersion+1, after.MembersVersion)

	v2Members, err := env.services.GroupsV2.ListGroupV2Members(env.ctx, env.session(), owned.Identity, groupV2.Identifier)
	require.NoError(t, err)
	assert.Empty(t, v2Members)
	v2Pendings, err := env.services.GroupsV2.ListGroupV2Pendings(env.ctx, env.session(), owned.Identity, groupV2.Identifier)
	require.NoError(t, err)
	assert.Empty(t, v2Pendings)

	got, err := svc.GetContactIdentity(env.ctx, env.session(), owned.Identity, contact)
	require.NoError(t, err)
	assert.Nil(t, got)
	members, err := env.services.GroupsV1.ListGroupV1Members(env.ctx, env.session(), owned.Identity, group.Key)
	require.NoError(t, err)
	assert.Empty(t, members)
	triple, err := svc.GetContactDetails(env.ctx, env.session(), owned.Identity, contact)
	require.NoError(t, err)
	assert.Nil(t, triple)
}

func TestContactService_SetContactOneToOne(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	svc := env.services.Contacts
	env.ignoreNotifications()

	owned := env.newOwned(t, testServer)
	contact := newTestIdentity(t, testServer)
	env.addContact(t, owned.Identity, contact)

	// already one-to-one
	require.NoError(t, svc.SetContactOneToOne(env.ctx, env.session(), owned.Identity, contact, true))

	require.NoError(t, svc.SetContactOneToOne(env.ctx, env.session(), owned.Identity, contact, false))
	got, err := svc.GetContactIdentity(env.ctx, env.session(), owned.Identity, contact)
	require.NoError(t, err)
	assert.Equal(t, models.OneToOneFalse, got.OneToOne)

	env.protocols.EXPECT().StartDeviceDiscovery(gomock.Any(), owned.Identity, contact).Return(nil)
	require.NoError(t, svc.SetContactOneToOne(env.ctx, env.session(), owned.Identity, contact, true))
}

func TestContactService_PublishedDetails(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	svc := env.services.Contacts
	env.ignoreNotifications()

	owned := env.newOwned(t, testServer)
	contact := newTestIdentity(t, testServer)
	env.addContact(t, owned.Identity, contact)

	changed, err := svc.ApplyContactPublishedDetails(env.ctx, env.session(), owned.Identity, contact, 1, models.Details{JSON: `{"first_name":"Robert"}`})
	require.NoError(t, err)
	assert.True(t, changed)

	// replay
	changed, err = svc.ApplyContactPublishedDetails(env.ctx, env.session(), owned.Identity, contact, 1, models.Details{JSON: `{"first_name":"Robert"}`})
	require.NoError(t, err)
	assert.False(t, changed)

	triple, err := svc.GetContactDetails(env.ctx, env.session(), owned.Identity, contact)
	require.NoError(t, err)
	assert.Equal(t, models.DetailsVersions{Latest: 1, Published: 1, Trusted: 0}, triple.Versions)

	trusted, err := svc.TrustContactPublishedDetails(env.ctx, env.session(), owned.Identity, contact)
	require.NoError(t, err)
	assert.True(t, trusted)
	trusted, err = svc.TrustContactPublishedDetails(env.ctx, env.session(), owned.Identity, contact)
	require.NoError(t, err)
	assert.False(t, trusted)

	// unknown contact
	changed, err = svc.ApplyContactPublishedDetails(env.ctx, env.session(), owned.Identity, newTestIdentity(t, testServer), 3, models.Details{})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestContactService_ForcefullyUnblockAndReBlock(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	svc := env.services.Contacts
	env.ignoreNotifications()

	owned := env.newOwned(t, testServer)
	contact := newTestIdentity(t, testServer)
	c := env.addContact(t, owned.Identity, contact)

	c.RevokedAsCompromised = true
	require.NoError(t, env.repos.Contacts.Update(env.ctx, env.session(), *c))

	device := newTestUID(t)
	// devices of a blocked contact are ignored
	require.NoError(t, svc.AddContactDevice(env.ctx, env.session(), owned.Identity, contact, device))

	env.protocols.EXPECT().StartDeviceDiscovery(gomock.Any(), owned.Identity, contact).Return(nil)
	require.NoError(t, svc.ForcefullyUnblockContact(env.ctx, env.session(), owned.Identity, contact))

	env.protocols.EXPECT().StartChannelCreation(gomock.Any(), owned.Identity, contact, device).Return(nil)
	require.NoError(t, svc.AddContactDevice(env.ctx, env.session(), owned.Identity, contact, device))

	env.channels.EXPECT().DestroyChannels(gomock.Any(), owned.Identity, contact).Return(nil)
	require.NoError(t, svc.ReBlockForcefullyUnblockedContact(env.ctx, env.session(), owned.Identity, contact))

	devices, err := svc.ListContactDevices(env.ctx, env.session(), owned.Identity, contact)
	require.NoError(t, err)
	assert.Empty(t, devices)
	got, err := svc.GetContactIdentity(env.ctx, env.session(), owned.Identity, contact)
	require.NoError(t, err)
	assert.True(t, got.IsBlocked())
	assert.Equal(t, []models.NotActiveReason{models.NotActiveRevoked}, got.NotActiveReasons())
}

func TestContactService_ContactDevices(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	svc := env.services.Contacts
	env.ignoreNotifications()

	owned := env.newOwned(t, testServer)
	contact := newTestIdentity(t, testServer)
	env.addContact(t, owned.Identity, contact)
	device := newTestUID(t)

	env.protocols.EXPECT().StartChannelCreation(gomock.Any(), owned.Identity, contact, device).Return(nil).Times(1)
	require.NoError(t, svc.AddContactDevice(env.ctx, env.session(), owned.Identity, contact, device))
	require.NoError(t, svc.AddContactDevice(env.ctx, env.session(), owned.Identity, contact, device))

	confirmed, ping := true, int64(42)
	require.NoError(t, svc.UpdateContactDevice(env.ctx, env.session(), owned.Identity, contact, device, DeviceUpdate{
		ChannelConfirmed:         &confirmed,
		LastChannelPingTimestamp: &ping,
	}))
	devices, err := svc.ListContactDevices(env.ctx, env.session(), owned.Identity, contact)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].ChannelConfirmed)
	assert.Equal(t, int64(42), devices[0].LastChannelPingTimestamp)

	env.channels.EXPECT().DestroyDeviceChannel(gomock.Any(), owned.Identity, contact, device).Return(nil)
	require.NoError(t, svc.RemoveContactDevice(env.ctx, env.session(), owned.Identity, contact, device))
}
