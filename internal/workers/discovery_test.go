package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/mock"
	"github.com/MKhiriev/go-trust-engine/models"
)

func TestDeviceDiscovery_Discover(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	storages, services := newTestStorages(t)

	alice := newOwned(t, storages, services)
	retired := newOwned(t, storages, services)
	require.NoError(t, services.Identity.DeactivateOwnedIdentity(ctx, storages.DB.Session(ctx), retired.Identity))

	bob, carol := newTestIdentity(t), newTestIdentity(t)
	for _, c := range []models.Identity{bob, carol} {
		_, err := services.Contacts.AddContactIdentity(ctx, storages.DB.Session(ctx), alice.Identity, c,
			models.Details{JSON: `{"first_name":"Bob"}`}, models.TrustOrigin{Type: models.TrustOriginDirect, Timestamp: time.Now().UnixMilli()}, true)
		require.NoError(t, err)
	}

	protocols := mock.NewMockProtocolTrigger(ctrl)
	protocols.EXPECT().StartDeviceDiscovery(gomock.Any(), alice.Identity, alice.Identity).Return(nil)
	protocols.EXPECT().StartDeviceDiscovery(gomock.Any(), alice.Identity, bob).Return(nil)
	protocols.EXPECT().StartDeviceDiscovery(gomock.Any(), alice.Identity, carol).Return(errors.New("queue unavailable"))

	d := NewDeviceDiscovery(storages.DB, services.Identity, services.Contacts, protocols, time.Minute, logger.Nop())
	assert.Equal(t, 2, d.discover(ctx))
}

func TestDeviceDiscovery_Run(t *testing.T) {
	ctrl := gomock.NewController(t)
	storages, services := newTestStorages(t)
	alice := newOwned(t, storages, services)

	triggered := make(chan struct{}, 16)
	protocols := mock.NewMockProtocolTrigger(ctrl)
	protocols.EXPECT().StartDeviceDiscovery(gomock.Any(), alice.Identity, alice.Identity).
		DoAndReturn(func(context.Context, models.Identity, models.Identity) error {
			select {
			case triggered <- struct{}{}:
			default:
			}
			return nil
		}).MinTimes(2)

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDeviceDiscovery(storages.DB, services.Identity, services.Contacts, protocols, 10*time.Millisecond, logger.Nop())
	d.Run(ctx)

	for range 2 {
		select {
		case <-triggered:
		case <-time.After(time.Second):
			t.Fatal("device discovery was not triggered")
		}
	}

	cancel()
	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("device discovery did not stop")
	}
}
