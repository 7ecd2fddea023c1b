package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-trust-engine/models"
)

func TestOwnedIdentityRepository_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	repos := newTestRepositories(t)
	ctx := context.Background()
	s := db.Session(ctx)

	owned := newTestOwnedIdentity(t, "https://server.example")
	owned.KeycloakServerURL = "https://sso.example"
	require.NoError(t, repos.OwnedIdentities.Insert(ctx, s, owned))

	got, err := repos.OwnedIdentities.Get(ctx, s, owned.Identity)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, owned.Identity, got.Identity)
	assert.Equal(t, owned.PrivateIdentity.SignKey, got.PrivateIdentity.SignKey)
	assert.Equal(t, owned.PrivateIdentity.EncKey, got.PrivateIdentity.EncKey)
	assert.True(t, got.Active)
	assert.Equal(t, "https://sso.example", got.KeycloakServerURL)

	require.NoError(t, repos.OwnedIdentities.SetActive(ctx, s, owned.Identity, false))
	got, err = repos.OwnedIdentities.Get(ctx, s, owned.Identity)
	require.NoError(t, err)
	assert.False(t, got.Active)

	n, err := repos.OwnedIdentities.Count(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, repos.OwnedIdentities.Delete(ctx, s, owned.Identity))
	got, err = repos.OwnedIdentities.Get(ctx, s, owned.Identity)
	require.NoError(t, err)
	assert.Nil(t, got, "missing identity is not an error")
}

func TestOwnedDeviceRepository_Collision(t *testing.T) {
	db := newTestDB(t)
	repos := newTestRepositories(t)
	ctx := context.Background()
	s := db.Session(ctx)

	alice := newTestIdentity(t, "https://server.example")
	bob := newTestIdentity(t, "https://server.example")
	uid := newTestUID(t)

	require.NoError(t, repos.OwnedDevices.Insert(ctx, s, models.OwnedDevice{OwnedIdentity: alice, UID: uid, Current: true}))
	err := repos.OwnedDevices.Insert(ctx, s, models.OwnedDevice{OwnedIdentity: bob, UID: uid})
	assert.ErrorIs(t, err, ErrDeviceCollision)
}

func TestOwnedDeviceRepository_CurrentCacheInvalidation(t *testing.T) {
	db := newTestDB(t)
	repos := newTestRepositories(t)
	ctx := context.Background()
	s := db.Session(ctx)

	owned := newTestIdentity(t, "https://server.example")
	first := newTestUID(t)
	require.NoError(t, repos.OwnedDevices.Insert(ctx, s, models.OwnedDevice{OwnedIdentity: owned, UID: first, Current: true}))

	uid, ok, err := repos.OwnedDevices.CurrentUID(ctx, s, owned)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, uid)

	require.NoError(t, repos.OwnedDevices.DeleteAll(ctx, s, owned))
	_, ok, err = repos.OwnedDevices.CurrentUID(ctx, s, owned)
	require.NoError(t, err)
	assert.False(t, ok, "deleting devices must invalidate the cached current device")

	second := newTestUID(t)
	require.NoError(t, repos.OwnedDevices.Insert(ctx, s, models.OwnedDevice{OwnedIdentity: owned, UID: second, Current: true}))
	uid, ok, err = repos.OwnedDevices.CurrentUID(ctx, s, owned)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, uid)
}

func TestOwnedDeviceRepository_PreKeyAndCapabilities(t *testing.T) {
	db := newTestDB(t)
	repos := newTestRepositories(t)
	ctx := context.Background()
	s := db.Session(ctx)

	owned := newTestIdentity(t, "https://server.example")
	device := models.OwnedDevice{OwnedIdentity: owned, UID: newTestUID(t), DisplayName: "laptop"}
	require.NoError(t, repos.OwnedDevices.Insert(ctx, s, device))

	got, err := repos.OwnedDevices.Get(ctx, s, owned, device.UID)
	require.NoError(t, err)
	assert.Nil(t, got.Capabilities, "never reported capabilities stay unknown")
	assert.Nil(t, got.PreKey)

	caps := models.NewCapabilities(models.CapabilityGroupsV2)
	device.Capabilities = &caps
	device.PreKey = &models.PreKey{
		KeyID:               newTestUID(t),
		DeviceUID:           device.UID,
		ExpirationTimestamp: 1_000,
		Signature:           []byte("sig"),
	}
	device.PreKey.EncryptionKey[0] = 7
	require.NoError(t, repos.OwnedDevices.Update(ctx, s, device))

	got, err = repos.OwnedDevices.Get(ctx, s, owned, device.UID)
	require.NoError(t, err)
	require.NotNil(t, got.Capabilities)
	assert.True(t, got.Capabilities.Has(models.CapabilityGroupsV2))
	require.NotNil(t, got.PreKey)
	assert.Equal(t, *device.PreKey, *got.PreKey)

	n, err := repos.OwnedDevices.ClearExpiredPreKeys(ctx, s, owned, 500)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repos.OwnedDevices.ClearExpiredPreKeys(ctx, s, owned, 2_000)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err = repos.OwnedDevices.Get(ctx, s, owned, device.UID)
	require.NoError(t, err)
	assert.Nil(t, got.PreKey)
}

func TestPreKeyMaterialRepository_DeleteExpired(t *testing.T) {
	db := newTestDB(t)
	repos := newTestRepositories(t)
	ctx := context.Background()
	s := db.Session(ctx)

	owned := newTestIdentity(t, "https://server.example")
	old := models.PreKeyMaterial{OwnedIdentity: owned, KeyID: newTestUID(t), ExpirationTimestamp: 100}
	fresh := models.PreKeyMaterial{OwnedIdentity: owned, KeyID: newTestUID(t), ExpirationTimestamp: 900}
	require.NoError(t, repos.PreKeyMaterials.Insert(ctx, s, old))
	require.NoError(t, repos.PreKeyMaterials.Insert(ctx, s, fresh))

	n, err := repos.PreKeyMaterials.DeleteExpired(ctx, s, 500)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := repos.PreKeyMaterials.Get(ctx, s, owned, old.KeyID)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repos.PreKeyMaterials.Get(ctx, s, owned, fresh.KeyID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, fresh, *got)
}
