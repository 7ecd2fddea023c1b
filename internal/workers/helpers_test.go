package workers

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-trust-engine/internal/config"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/service"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

const testServer = "https://server.example"

// newTestStorages returns a migrated in-memory sqlite store and the
// services built on it, without collaborators.
func newTestStorages(t *testing.T) (*store.Storages, *service.Services) {
	t.Helper()

	ctx := context.Background()
	db, err := store.NewConnectSQLite(ctx, config.DB{DSN: ":memory:"}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	repos, err := store.NewRepositories(16, logger.Nop())
	require.NoError(t, err)

	storages := &store.Storages{DB: db, Repositories: repos}
	services := service.NewServices(storages, service.Collaborators{},
		config.App{KeycloakSignatureValidity: time.Hour, PreKeyLifetime: time.Hour}, logger.Nop())
	return storages, services
}

func newOwned(t *testing.T, storages *store.Storages, services *service.Services) *models.OwnedIdentity {
	t.Helper()

	ctx := context.Background()
	owned, err := services.Identity.GenerateOwnedIdentity(ctx, storages.DB.Session(ctx), testServer,
		models.Details{JSON: `{"first_name":"Ada"}`}, "laptop")
	require.NoError(t, err)
	return owned
}

func newTestIdentity(t *testing.T) models.Identity {
	t.Helper()

	id := models.Identity{Server: testServer}
	_, err := rand.Read(id.SignKey[:])
	require.NoError(t, err)
	_, err = rand.Read(id.EncKey[:])
	require.NoError(t, err)
	return id
}
