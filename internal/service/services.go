package service

import (
	"context"
	"errors"

	"github.com/MKhiriev/go-trust-engine/internal/config"
	"github.com/MKhiriev/go-trust-engine/internal/details"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

// Services is the registry handed to the orchestration layer. Several
// fields may share one implementation; each field only exposes one
// capability.
type Services struct {
	Identity       IdentityService
	Capabilities   CapabilityService
	PreKeys        PreKeyService
	Signatures     SignatureService
	Contacts       ContactService
	GroupsV1       GroupV1Service
	GroupsV2       GroupV2Service
	Keycloak       KeycloakService
	ServerUserData ServerUserDataService
	Backup         BackupService
	Sync           SyncService
}

// Collaborators are the external components the engine triggers or queries.
type Collaborators struct {
	Protocols     ProtocolTrigger
	Channels      ChannelDelegate
	Notifications NotificationSink
	KeycloakKeys  KeycloakKeySource
}

// NewServices wires every service on top of storages. Notifications
// recorded by committed sessions are forwarded to collaborators.Notifications.
func NewServices(storages *store.Storages, collaborators Collaborators, cfg config.App, logger *logger.Logger) *Services {
	repos := storages.Repositories
	engine := details.NewEngine(repos.Details, logger)
	if collaborators.Protocols == nil {
		collaborators.Protocols = nopProtocols{}
	}
	if collaborators.Channels == nil {
		collaborators.Channels = nopChannels{}
	}

	contacts := &contactService{
		repos:     repos,
		details:   engine,
		protocols: collaborators.Protocols,
		channels:  collaborators.Channels,
		logger:    logger,
	}
	identities := &identityService{
		repos:          repos,
		details:        engine,
		protocols:      collaborators.Protocols,
		channels:       collaborators.Channels,
		preKeyLifetime: cfg.PreKeyLifetime,
		logger:         logger,
	}
	groupsV1 := &groupV1Service{repos: repos, details: engine, contacts: contacts, logger: logger}
	groupsV2 := &groupV2Service{repos: repos, details: engine, logger: logger}
	keycloak := &keycloakService{
		repos:             repos,
		details:           engine,
		contacts:          contacts,
		groupsV2:          groupsV2,
		keys:              collaborators.KeycloakKeys,
		protocols:         collaborators.Protocols,
		signatureValidity: cfg.KeycloakSignatureValidity,
		logger:            logger,
	}
	backup := &backupService{
		db:         storages.DB,
		repos:      repos,
		details:    engine,
		identities: identities,
		contacts:   contacts,
		groupsV1:   groupsV1,
		groupsV2:   groupsV2,
		logger:     logger,
	}

	if collaborators.Notifications != nil {
		storages.DB.OnCommit(notificationHook(collaborators.Notifications))
	}

	return &Services{
		Identity:       identities,
		Capabilities:   identities,
		PreKeys:        identities,
		Signatures:     &signatureService{repos: repos, logger: logger},
		Contacts:       contacts,
		GroupsV1:       groupsV1,
		GroupsV2:       groupsV2,
		Keycloak:       keycloak,
		ServerUserData: &serverUserDataService{repos: repos, logger: logger},
		Backup:         backup,
		Sync:           backup,
	}
}

// Notification names posted to the [NotificationSink].
const (
	NotificationOwnedIdentityActiveChanged = "owned_identity_active_status_changed"
	NotificationOwnedIdentityDeleted       = "owned_identity_deleted"
	NotificationOwnedDetailsPublished      = "owned_identity_details_published"
	NotificationContactAdded               = "contact_added"
	NotificationContactDeleted             = "contact_deleted"
	NotificationContactTrustChanged        = "contact_trust_level_changed"
	NotificationContactRevoked             = "contact_revoked"
	NotificationGroupV1Updated             = "group_v1_updated"
	NotificationGroupV1Deleted             = "group_v1_deleted"
	NotificationGroupV2Updated             = "group_v2_updated"
	NotificationGroupV2Deleted             = "group_v2_deleted"
	NotificationKeycloakBindingChanged     = "keycloak_binding_changed"
)

// notificationHook forwards notification events to sink. Delivery is best
// effort.
func notificationHook(sink NotificationSink) store.CommitHook {
	return func(ctx context.Context, events []store.Event) {
		for _, e := range events {
			if e.Kind != store.EventNotification {
				continue
			}
			if err := sink.Post(ctx, e.Notification, e.OwnedIdentity, e.Payload); err != nil {
				logger.FromContext(ctx).Warn().Err(err).Str("notification", e.Notification).Msg("error posting notification")
			}
		}
	}
}

// nopProtocols and nopChannels stand in for collaborators the process was
// started without.
type nopProtocols struct{}

func (nopProtocols) StartDeviceDiscovery(context.Context, models.Identity, models.Identity) error {
	return nil
}

func (nopProtocols) StartChannelCreation(context.Context, models.Identity, models.Identity, models.UID) error {
	return nil
}

func (nopProtocols) StartKeycloakGroupsSync(context.Context, models.Identity) error { return nil }

type nopChannels struct{}

func (nopChannels) ConfirmedChannelDevices(context.Context, models.Identity, models.Identity) ([]models.UID, error) {
	return nil, nil
}

func (nopChannels) DestroyChannels(context.Context, models.Identity, models.Identity) error { return nil }

func (nopChannels) DestroyDeviceChannel(context.Context, models.Identity, models.Identity, models.UID) error {
	return nil
}

func (nopChannels) DestroyAllChannels(context.Context, models.Identity) error { return nil }

// trigger runs a protocol trigger after commit. Failures are logged, the
// orchestrator retries on its own schedule.
func trigger(s *store.Session, name string, fn func(ctx context.Context) error) {
	s.AfterCommit(func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			logger.FromContext(ctx).Warn().Err(err).Str("trigger", name).Msg("error triggering protocol")
		}
	})
}

func ownedDetailsKey(owned models.Identity) models.DetailsKey {
	return models.DetailsKey{Kind: models.DetailsKindOwned, OwnedIdentity: owned, EntityKey: []byte{}}
}

func contactDetailsKey(owned, contact models.Identity) models.DetailsKey {
	return models.DetailsKey{Kind: models.DetailsKindContact, OwnedIdentity: owned, EntityKey: contact.Bytes()}
}

func groupV1DetailsKey(owned models.Identity, key models.GroupV1Key) models.DetailsKey {
	return models.DetailsKey{Kind: models.DetailsKindGroupV1, OwnedIdentity: owned, EntityKey: key.Bytes()}
}

func groupV2DetailsKey(owned models.Identity, id models.GroupV2Identifier) models.DetailsKey {
	return models.DetailsKey{Kind: models.DetailsKindGroupV2, OwnedIdentity: owned, EntityKey: id.Bytes()}
}

// ignoreMissingTriple turns a mutation of a details triple that was never
// created into a no-op.
func ignoreMissingTriple(err error) error {
	if errors.Is(err, details.ErrNoSuchTriple) {
		return nil
	}
	return err
}
