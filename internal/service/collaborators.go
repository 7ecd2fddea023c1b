package service

import (
	"context"

	"github.com/MKhiriev/go-trust-engine/models"
)

//go:generate mockgen -source=collaborators.go -destination=../mock/collaborators_mock.go -package=mock

// ProtocolTrigger starts protocols run by the orchestration layer. The
// engine never runs a protocol itself; triggers fire after the mutation
// that asked for them has committed.
type ProtocolTrigger interface {
	// StartDeviceDiscovery asks for the device list of remote. remote may
	// be owned itself to discover other owned devices.
	StartDeviceDiscovery(ctx context.Context, owned, remote models.Identity) error
	// StartChannelCreation opens a secure channel with one remote device.
	StartChannelCreation(ctx context.Context, owned, remote models.Identity, device models.UID) error
	// StartKeycloakGroupsSync fetches the signed group tokens of a keycloak
	// managed owned identity.
	StartKeycloakGroupsSync(ctx context.Context, owned models.Identity) error
}

// ChannelDelegate queries and destroys the secure channels established with
// remote devices.
type ChannelDelegate interface {
	ConfirmedChannelDevices(ctx context.Context, owned, remote models.Identity) ([]models.UID, error)
	DestroyChannels(ctx context.Context, owned, remote models.Identity) error
	DestroyDeviceChannel(ctx context.Context, owned, remote models.Identity, device models.UID) error
	DestroyAllChannels(ctx context.Context, owned models.Identity) error
}

// NotificationSink posts fire-and-forget notifications.
type NotificationSink interface {
	Post(ctx context.Context, name string, owned models.Identity, payload map[string]any) error
}

// KeycloakKeySource fetches the JSON web key set of a keycloak server.
type KeycloakKeySource interface {
	FetchJWKS(ctx context.Context, serverURL string) (string, error)
}
