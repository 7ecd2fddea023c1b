package service

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MKhiriev/go-trust-engine/internal/config"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/mock"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

// testEnv is a services registry on a migrated in-memory sqlite database,
// with mocked collaborators.
type testEnv struct {
	ctx      context.Context
	db       *store.DB
	repos    *store.Repositories
	services *Services

	protocols     *mock.MockProtocolTrigger
	channels      *mock.MockChannelDelegate
	notifications *mock.MockNotificationSink
	keys          *mock.MockKeycloakKeySource
}

const testSignatureValidity = 24 * time.Hour

func newTestEnv(t *testing.T, ctrl *gomock.Controller) *testEnv {
	t.Helper()

	ctx := context.Background()
	db, err := store.NewConnectSQLite(ctx, config.DB{DSN: ":memory:"}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	repos, err := store.NewRepositories(16, logger.Nop())
	require.NoError(t, err)

	env := &testEnv{
		ctx:           ctx,
		db:            db,
		repos:         repos,
		protocols:     mock.NewMockProtocolTrigger(ctrl),
		channels:      mock.NewMockChannelDelegate(ctrl),
		notifications: mock.NewMockNotificationSink(ctrl),
		keys:          mock.NewMockKeycloakKeySource(ctrl),
	}
	cfg := config.App{KeycloakSignatureValidity: testSignatureValidity, PreKeyLifetime: time.Hour}
	env.services = NewServices(&store.Storages{DB: db, Repositories: repos}, Collaborators{
		Protocols:     env.protocols,
		Channels:      env.channels,
		Notifications: env.notifications,
		KeycloakKeys:  env.keys,
	}, cfg, logger.Nop())
	return env
}

// ignoreNotifications accepts any notification. Tests asserting on
// notifications must not call it.
func (e *testEnv) ignoreNotifications() {
	e.notifications.EXPECT().Post(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func (e *testEnv) session() *store.Session {
	return e.db.Session(e.ctx)
}

// tx runs fn in a committed transaction.
func (e *testEnv) tx(t *testing.T, fn func(s *store.Session) error) {
	t.Helper()
	require.NoError(t, e.db.WithinTransaction(e.ctx, fn))
}

func (e *testEnv) newOwned(t *testing.T, server string) *models.OwnedIdentity {
	t.Helper()

	owned, err := e.services.Identity.GenerateOwnedIdentity(e.ctx, e.session(), server, models.Details{JSON: `{"first_name":"Ada"}`}, "laptop")
	require.NoError(t, err)
	require.NotNil(t, owned)
	return owned
}

// addContact adds contact with a DIRECT origin. Device discovery of the new
// contact is expected.
func (e *testEnv) addContact(t *testing.T, owned, contact models.Identity) *models.ContactIdentity {
	t.Helper()

	e.protocols.EXPECT().StartDeviceDiscovery(gomock.Any(), owned, contact).Return(nil)
	c, err := e.services.Contacts.AddContactIdentity(e.ctx, e.session(), owned, contact, models.Details{JSON: `{"first_name":"Bob"}`},
		models.TrustOrigin{Type: models.TrustOriginDirect, Timestamp: time.Now().UnixMilli()}, true)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
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

func newTestUID(t *testing.T) models.UID {
	t.Helper()

	uid, err := models.NewUID()
	require.NoError(t, err)
	return uid
}
