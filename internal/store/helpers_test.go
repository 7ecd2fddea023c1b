package store

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-trust-engine/internal/config"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/models"
)

// newTestDB opens a migrated in-memory sqlite database.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnectSQLite(context.Background(), config.DB{DSN: ":memory:"}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate())
	return db
}

func newTestRepositories(t *testing.T) *Repositories {
	t.Helper()

	repos, err := NewRepositories(16, logger.Nop())
	require.NoError(t, err)
	return repos
}

func newTestIdentity(t *testing.T, server string) models.Identity {
	t.Helper()

	id := models.Identity{Server: server}
	_, err := rand.Read(id.SignKey[:])
	require.NoError(t, err)
	_, err = rand.Read(id.EncKey[:])
	require.NoError(t, err)
	return id
}

func newTestOwnedIdentity(t *testing.T, server string) models.OwnedIdentity {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	owned := models.OwnedIdentity{Identity: models.Identity{Server: server}, Active: true}
	copy(owned.Identity.SignKey[:], pub)
	_, err = rand.Read(owned.Identity.EncKey[:])
	require.NoError(t, err)
	owned.PrivateIdentity.SignKey = priv
	_, err = rand.Read(owned.PrivateIdentity.EncKey[:])
	require.NoError(t, err)
	return owned
}

func newTestUID(t *testing.T) models.UID {
	t.Helper()

	uid, err := models.NewUID()
	require.NoError(t, err)
	return uid
}
