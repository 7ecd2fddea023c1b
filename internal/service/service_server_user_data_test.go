package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

func TestServerUserDataService_Refresh(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	svc := env.services.ServerUserData
	owned := env.newOwned(t, testServer)

	// unknown owned identities are ignored
	require.NoError(t, svc.CreateServerUserData(env.ctx, env.session(), models.ServerUserData{
		OwnedIdentity: newTestIdentity(t, testServer), Label: []byte("ghost"), NextRefreshTimestamp: 10,
	}))

	require.NoError(t, svc.CreateServerUserData(env.ctx, env.session(), models.ServerUserData{
		OwnedIdentity: owned.Identity, Label: []byte("photo"), NextRefreshTimestamp: 100,
	}))

	due, err := svc.ListServerUserDataToRefresh(env.ctx, env.session(), 50)
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = svc.ListServerUserDataToRefresh(env.ctx, env.session(), 150)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, []byte("photo"), due[0].Label)

	require.NoError(t, svc.RefreshServerUserData(env.ctx, env.session(), owned.Identity, []byte("photo"), 200))
	d, err := svc.GetServerUserData(env.ctx, env.session(), owned.Identity, []byte("photo"))
	require.NoError(t, err)
	assert.Equal(t, int64(200), d.NextRefreshTimestamp)

	require.NoError(t, svc.DeleteServerUserData(env.ctx, env.session(), owned.Identity, []byte("photo")))
	d, err = svc.GetServerUserData(env.ctx, env.session(), owned.Identity, []byte("photo"))
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestServerUserDataService_DeleteOrphanServerUserData(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	svc := env.services.ServerUserData

	owned := env.newOwned(t, testServer)
	var group *models.GroupV2
	env.tx(t, func(s *store.Session) error {
		var err error
		group, err = env.services.GroupsV2.CreateGroupV2(env.ctx, s, owned.Identity, testServer, models.AdminPermissions(), models.Details{}, nil)
		return err
	})
	gone := models.GroupV2Identifier{UID: newTestUID(t), Server: testServer}

	entries := []models.ServerUserData{
		{OwnedIdentity: owned.Identity, Label: []byte("own-photo")},
		{OwnedIdentity: owned.Identity, Label: []byte("group-photo"), GroupIdentifier: &group.Identifier},
		{OwnedIdentity: owned.Identity, Label: []byte("gone-photo"), GroupIdentifier: &gone},
		{OwnedIdentity: newTestIdentity(t, testServer), Label: []byte("deleted-identity")},
	}
	for _, e := range entries {
		require.NoError(t, env.repos.ServerUserData.Put(env.ctx, env.session(), e))
	}

	deleted, err := svc.DeleteOrphanServerUserData(env.ctx, env.session())
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	for label, kept := range map[string]bool{"own-photo": true, "group-photo": true, "gone-photo": false} {
		d, err := svc.GetServerUserData(env.ctx, env.session(), owned.Identity, []byte(label))
		require.NoError(t, err)
		assert.Equal(t, kept, d != nil, label)
	}
}
