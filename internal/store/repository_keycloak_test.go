package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-trust-engine/models"
)

func TestKeycloakRepository_Server(t *testing.T) {
	db := newTestDB(t)
	repos := newTestRepositories(t)
	ctx := context.Background()
	s := db.Session(ctx)

	owned := newTestIdentity(t, "https://server.example")
	k := models.KeycloakServer{
		OwnedIdentity: owned,
		ServerURL:     "https://sso.example",
		ClientID:      "engine",
		PushTopics:    []string{"a", "b"},
	}
	require.NoError(t, repos.Keycloak.PutServer(ctx, s, k))

	k.LatestRevocationListTimestamp = 99
	require.NoError(t, repos.Keycloak.PutServer(ctx, s, k))

	got, err := repos.Keycloak.GetServer(ctx, s, owned)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, k, *got)

	require.NoError(t, repos.Keycloak.DeleteServer(ctx, s, owned))
	got, err = repos.Keycloak.GetServer(ctx, s, owned)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestKeycloakRepository_Revocations(t *testing.T) {
	db := newTestDB(t)
	repos := newTestRepositories(t)
	ctx := context.Background()
	s := db.Session(ctx)

	owned := newTestIdentity(t, "https://server.example")
	revoked := newTestIdentity(t, "https://server.example")
	rev := models.KeycloakRevokedIdentity{
		OwnedIdentity:       owned,
		ServerURL:           "https://sso.example",
		Identity:            revoked,
		Type:                models.RevocationCompromised,
		RevocationTimestamp: 10,
	}

	inserted, err := repos.Keycloak.AddRevocation(ctx, s, rev)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repos.Keycloak.AddRevocation(ctx, s, rev)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicates are ignored")

	rev.RevocationTimestamp = 20
	rev.Type = models.RevocationLeftCompany
	_, err = repos.Keycloak.AddRevocation(ctx, s, rev)
	require.NoError(t, err)

	list, err := repos.Keycloak.ListRevocations(ctx, s, owned, "https://sso.example", revoked)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.EqualValues(t, 20, list[0].RevocationTimestamp, "most recent first")

	n, err := repos.Keycloak.PruneRevocations(ctx, s, owned, 15)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestServerUserDataRepository(t *testing.T) {
	db := newTestDB(t)
	repos := newTestRepositories(t)
	ctx := context.Background()
	s := db.Session(ctx)

	owned := newTestIdentity(t, "https://server.example")
	gid := models.GroupV2Identifier{UID: newTestUID(t), Server: "https://server.example"}
	require.NoError(t, repos.ServerUserData.Put(ctx, s, models.ServerUserData{OwnedIdentity: owned, Label: []byte("own"), NextRefreshTimestamp: 10}))
	require.NoError(t, repos.ServerUserData.Put(ctx, s, models.ServerUserData{OwnedIdentity: owned, Label: []byte("grp"), NextRefreshTimestamp: 50, GroupIdentifier: &gid}))

	due, err := repos.ServerUserData.ListToRefresh(ctx, s, 20)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, []byte("own"), due[0].Label)

	all, err := repos.ServerUserData.ListAll(ctx, s)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, err := repos.ServerUserData.Get(ctx, s, owned, []byte("grp"))
	require.NoError(t, err)
	require.NotNil(t, got.GroupIdentifier)
	assert.Equal(t, gid, *got.GroupIdentifier)
}
