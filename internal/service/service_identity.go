// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MKhiriev/go-trust-engine/internal/crypto"
	"github.com/MKhiriev/go-trust-engine/internal/details"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

// DeviceUpdate lists the device fields to change. Nil fields are left
// untouched. Contact devices only honor the channel fields.
type DeviceUpdate struct {
	DisplayName               *string
	ExpirationTimestamp       *int64
	LastRegistrationTimestamp *int64
	ChannelConfirmed          *bool
	LastChannelPingTimestamp  *int64
}

func (u DeviceUpdate) applyOwned(d *models.OwnedDevice) {
	if u.DisplayName != nil {
		d.DisplayName = *u.DisplayName
	}
	if u.ExpirationTimestamp != nil {
		d.ExpirationTimestamp = u.ExpirationTimestamp
	}
	if u.LastRegistrationTimestamp != nil {
		d.LastRegistrationTimestamp = u.LastRegistrationTimestamp
	}
	if u.ChannelConfirmed != nil {
		d.ChannelConfirmed = *u.ChannelConfirmed
	}
	if u.LastChannelPingTimestamp != nil {
		d.LastChannelPingTimestamp = *u.LastChannelPingTimestamp
	}
}

// identityService implements [IdentityService], [CapabilityService] and
// [PreKeyService] on top of the owned identity, device and pre-key
// repositories.
type identityService struct {
	repos     *store.Repositories
	details   *details.Engine
	protocols ProtocolTrigger
	channels  ChannelDelegate

	// preKeyLifetime is added to the server timestamp to compute the
	// expiration of freshly generated pre-keys.
	preKeyLifetime time.Duration

	logger *logger.Logger
}

// GenerateOwnedIdentity draws a new identity registered on server, stores it
// with its published details (version 0) and a current device.
func (i *identityService) GenerateOwnedIdentity(ctx context.Context, s *store.Session, server string, d models.Details, deviceName string) (*models.OwnedIdentity, error) {
	log := logger.FromContext(ctx)

	owned, err := crypto.GenerateIdentity(server)
	if err != nil {
		log.Err(err).Str("func", "*identityService.GenerateOwnedIdentity").Msg("error generating identity")
		return nil, err
	}
	deviceUID, err := models.NewUID()
	if err != nil {
		return nil, err
	}

	if err = i.repos.OwnedIdentities.Insert(ctx, s, owned); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, fmt.Errorf("%w: %w", ErrOwnedIdentityAlreadyExists, err)
		}
		log.Err(err).Str("func", "*identityService.GenerateOwnedIdentity").Msg("error storing owned identity")
		return nil, err
	}
	if err = i.details.Init(ctx, s, ownedDetailsKey(owned.Identity), 0, d); err != nil {
		return nil, err
	}
	device := models.OwnedDevice{OwnedIdentity: owned.Identity, UID: deviceUID, Current: true, DisplayName: deviceName}
	if err = i.repos.OwnedDevices.Insert(ctx, s, device); err != nil {
		log.Err(err).Str("func", "*identityService.GenerateOwnedIdentity").Msg("error storing current device")
		return nil, err
	}

	s.Record(store.BackupNeeded(owned.Identity))
	return &owned, nil
}

func (i *identityService) GetOwnedIdentity(ctx context.Context, s *store.Session, owned models.Identity) (*models.OwnedIdentity, error) {
	return i.repos.OwnedIdentities.Get(ctx, s, owned)
}

func (i *identityService) ListOwnedIdentities(ctx context.Context, s *store.Session) ([]models.OwnedIdentity, error) {
	return i.repos.OwnedIdentities.List(ctx, s)
}

// DeleteOwnedIdentity removes the identity and everything it owns. The
// current device cache entry is invalidated with the device rows.
func (i *identityService) DeleteOwnedIdentity(ctx context.Context, s *store.Session, owned models.Identity) error {
	if err := s.RequireTransaction(); err != nil {
		return err
	}
	ok, err := i.repos.OwnedIdentities.Exists(ctx, s, owned)
	if err != nil || !ok {
		return err
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"groups v2", func() error { return i.repos.GroupsV2.DeleteAll(ctx, s, owned) }},
		{"groups v1", func() error { return i.repos.GroupsV1.DeleteAll(ctx, s, owned) }},
		{"contact devices", func() error { return i.repos.ContactDevices.DeleteAll(ctx, s, owned) }},
		{"contacts", func() error { return i.repos.Contacts.DeleteAll(ctx, s, owned) }},
		{"revocations", func() error { return i.repos.Keycloak.DeleteRevocations(ctx, s, owned) }},
		{"keycloak server", func() error { return i.repos.Keycloak.DeleteServer(ctx, s, owned) }},
		{"server user data", func() error { return i.repos.ServerUserData.DeleteAll(ctx, s, owned) }},
		{"pre-key materials", func() error { return i.repos.PreKeyMaterials.DeleteAll(ctx, s, owned) }},
		{"owned devices", func() error { return i.repos.OwnedDevices.DeleteAll(ctx, s, owned) }},
		{"details", func() error { return i.repos.Details.DeleteAllForOwned(ctx, s, owned) }},
		{"owned identity", func() error { return i.repos.OwnedIdentities.Delete(ctx, s, owned) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			logger.FromContext(ctx).Err(err).Str("func", "*identityService.DeleteOwnedIdentity").
				Str("step", step.name).Msg("error deleting owned identity")
			return fmt.Errorf("delete %s: %w", step.name, err)
		}
	}
	i.repos.OwnedDevices.InvalidateCurrent(owned)

	s.Record(store.BackupNeeded(owned), store.Notification(NotificationOwnedIdentityDeleted, owned, nil))
	trigger(s, "destroy all channels", func(ctx context.Context) error {
		return i.channels.DestroyAllChannels(ctx, owned)
	})
	return nil
}

// DeactivateOwnedIdentity clears every contact device and destroys the
// channels. Owned devices stay listed.
func (i *identityService) DeactivateOwnedIdentity(ctx context.Context, s *store.Session, owned models.Identity) error {
	oi, err := i.repos.OwnedIdentities.Get(ctx, s, owned)
	if err != nil || oi == nil || !oi.Active {
		return err
	}

	if err = i.repos.OwnedIdentities.SetActive(ctx, s, owned, false); err != nil {
		return err
	}
	if err = i.repos.ContactDevices.DeleteAll(ctx, s, owned); err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*identityService.DeactivateOwnedIdentity").Msg("error clearing contact devices")
		return err
	}

	s.Record(
		store.BackupNeeded(owned),
		store.Notification(NotificationOwnedIdentityActiveChanged, owned, map[string]any{"active": false}),
	)
	trigger(s, "destroy all channels", func(ctx context.Context) error {
		return i.channels.DestroyAllChannels(ctx, owned)
	})
	return nil
}

// ReactivateOwnedIdentity re-triggers channel creation with every other
// owned device and device discovery for the owned identity and every
// contact.
func (i *identityService) ReactivateOwnedIdentity(ctx context.Context, s *store.Session, owned models.Identity) error {
	oi, err := i.repos.OwnedIdentities.Get(ctx, s, owned)
	if err != nil || oi == nil || oi.Active {
		return err
	}

	if err = i.repos.OwnedIdentities.SetActive(ctx, s, owned, true); err != nil {
		return err
	}
	if err = i.scheduleRediscovery(ctx, s, owned); err != nil {
		return err
	}

	s.Record(
		store.BackupNeeded(owned),
		store.Notification(NotificationOwnedIdentityActiveChanged, owned, map[string]any{"active": true}),
	)
	return nil
}

// scheduleRediscovery triggers, after commit, discovery of the owned
// devices, channel creation with each other owned device and discovery of
// each contact.
func (i *identityService) scheduleRediscovery(ctx context.Context, s *store.Session, owned models.Identity) error {
	others, err := i.repos.OwnedDevices.ListOther(ctx, s, owned)
	if err != nil {
		return err
	}
	contacts, err := i.repos.Contacts.List(ctx, s, owned)
	if err != nil {
		return err
	}

	trigger(s, "owned device discovery", func(ctx context.Context) error {
		return i.protocols.StartDeviceDiscovery(ctx, owned, owned)
	})
	for _, d := range others {
		uid := d.UID
		trigger(s, "owned channel creation", func(ctx context.Context) error {
			return i.protocols.StartChannelCreation(ctx, owned, owned, uid)
		})
	}
	for _, c := range contacts {
		contact := c.ContactIdentity
		trigger(s, "contact device discovery", func(ctx context.Context) error {
			return i.protocols.StartDeviceDiscovery(ctx, owned, contact)
		})
	}
	return nil
}

func (i *identityService) GetOwnedDetails(ctx context.Context, s *store.Session, owned models.Identity) (*models.DetailsTriple, error) {
	return i.details.Get(ctx, s, ownedDetailsKey(owned))
}

func (i *identityService) SetOwnedLatestDetails(ctx context.Context, s *store.Session, owned models.Identity, d models.Details) error {
	return ignoreMissingTriple(i.details.SetLatest(ctx, s, ownedDetailsKey(owned), d))
}

// PublishOwnedDetails publishes the draft and returns the new version, or
// [models.NoVersion] when there was nothing to publish.
func (i *identityService) PublishOwnedDetails(ctx context.Context, s *store.Session, owned models.Identity) (int, error) {
	version, err := i.details.Publish(ctx, s, ownedDetailsKey(owned), true)
	if err != nil {
		return models.NoVersion, ignoreMissingTriple(err)
	}
	if version != models.NoVersion {
		s.Record(store.Notification(NotificationOwnedDetailsPublished, owned, map[string]any{"version": version}))
	}
	return version, nil
}

func (i *identityService) DiscardOwnedLatestDetails(ctx context.Context, s *store.Session, owned models.Identity) error {
	return ignoreMissingTriple(i.details.DiscardLatest(ctx, s, ownedDetailsKey(owned)))
}

func (i *identityService) ListOwnedDevices(ctx context.Context, s *store.Session, owned models.Identity) ([]models.OwnedDevice, error) {
	return i.repos.OwnedDevices.List(ctx, s, owned)
}

func (i *identityService) CurrentDeviceUID(ctx context.Context, s *store.Session, owned models.Identity) (models.UID, bool, error) {
	return i.repos.OwnedDevices.CurrentUID(ctx, s, owned)
}

// AddOwnedDevice records another device of owned and triggers channel
// creation with it. A uid owned by another identity yields
// store.ErrDeviceCollision.
func (i *identityService) AddOwnedDevice(ctx context.Context, s *store.Session, owned models.Identity, uid models.UID, displayName string) error {
	ok, err := i.repos.OwnedIdentities.Exists(ctx, s, owned)
	if err != nil || !ok {
		return err
	}
	existing, err := i.repos.OwnedDevices.Get(ctx, s, owned, uid)
	if err != nil || existing != nil {
		return err
	}

	device := models.OwnedDevice{OwnedIdentity: owned, UID: uid, DisplayName: displayName}
	if err = i.repos.OwnedDevices.Insert(ctx, s, device); err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*identityService.AddOwnedDevice").
			Str("device", uid.String()).Msg("error adding owned device")
		return err
	}

	s.Record(store.BackupNeeded(owned))
	trigger(s, "owned channel creation", func(ctx context.Context) error {
		return i.protocols.StartChannelCreation(ctx, owned, owned, uid)
	})
	return nil
}

func (i *identityService) RemoveOwnedDevice(ctx context.Context, s *store.Session, owned models.Identity, uid models.UID) error {
	device, err := i.repos.OwnedDevices.Get(ctx, s, owned, uid)
	if err != nil || device == nil {
		return err
	}
	if device.Current {
		return ErrRemoveCurrentDevice
	}

	if err = i.repos.OwnedDevices.Delete(ctx, s, owned, uid); err != nil {
		return err
	}
	s.Record(store.BackupNeeded(owned))
	trigger(s, "destroy owned device channel", func(ctx context.Context) error {
		return i.channels.DestroyDeviceChannel(ctx, owned, owned, uid)
	})
	return nil
}

func (i *identityService) UpdateOwnedDevice(ctx context.Context, s *store.Session, owned models.Identity, uid models.UID, update DeviceUpdate) error {
	return i.updateOwnedDevice(ctx, s, owned, uid, update.applyOwned)
}

func (i *identityService) updateOwnedDevice(ctx context.Context, s *store.Session, owned models.Identity, uid models.UID, apply func(*models.OwnedDevice)) error {
	device, err := i.repos.OwnedDevices.Get(ctx, s, owned, uid)
	if err != nil || device == nil {
		return err
	}

	apply(device)
	if err = i.repos.OwnedDevices.Update(ctx, s, *device); err != nil {
		return err
	}
	s.Record(store.BackupNeeded(owned))
	return nil
}

// OwnedIdentityCapabilities intersects the capabilities of every owned
// device. Devices that never reported capabilities are skipped.
func (i *identityService) OwnedIdentityCapabilities(ctx context.Context, s *store.Session, owned models.Identity) (models.Capabilities, error) {
	devices, err := i.repos.OwnedDevices.List(ctx, s, owned)
	if err != nil {
		return nil, err
	}
	reported := make([]*models.Capabilities, 0, len(devices))
	for _, d := range devices {
		reported = append(reported, d.Capabilities)
	}
	return intersectCapabilities(reported), nil
}

func (i *identityService) CurrentDeviceCapabilities(ctx context.Context, s *store.Session, owned models.Identity) (models.Capabilities, error) {
	device, err := i.repos.OwnedDevices.Current(ctx, s, owned)
	if err != nil || device == nil || device.Capabilities == nil {
		return nil, err
	}
	return *device.Capabilities, nil
}

func (i *identityService) SetCurrentDeviceCapabilities(ctx context.Context, s *store.Session, owned models.Identity, caps models.Capabilities) error {
	uid, ok, err := i.repos.OwnedDevices.CurrentUID(ctx, s, owned)
	if err != nil || !ok {
		return err
	}
	return i.SetOwnedDeviceCapabilities(ctx, s, owned, uid, caps)
}

func (i *identityService) SetOwnedDeviceCapabilities(ctx context.Context, s *store.Session, owned models.Identity, uid models.UID, caps models.Capabilities) error {
	return i.updateOwnedDevice(ctx, s, owned, uid, func(d *models.OwnedDevice) {
		d.Capabilities = &caps
	})
}

func (i *identityService) ContactCapabilities(ctx context.Context, s *store.Session, owned, contact models.Identity) (models.Capabilities, error) {
	devices, err := i.repos.ContactDevices.List(ctx, s, owned, contact)
	if err != nil {
		return nil, err
	}
	reported := make([]*models.Capabilities, 0, len(devices))
	for _, d := range devices {
		reported = append(reported, d.Capabilities)
	}
	return intersectCapabilities(reported), nil
}

func (i *identityService) SetContactDeviceCapabilities(ctx context.Context, s *store.Session, owned, contact models.Identity, uid models.UID, caps models.Capabilities) error {
	device, err := i.repos.ContactDevices.Get(ctx, s, owned, contact, uid)
	if err != nil || device == nil {
		return err
	}
	device.Capabilities = &caps
	if err = i.repos.ContactDevices.Update(ctx, s, *device); err != nil {
		return err
	}
	s.Record(store.BackupNeeded(owned))
	return nil
}

// intersectCapabilities returns nil when no device reported capabilities.
func intersectCapabilities(reported []*models.Capabilities) models.Capabilities {
	var out models.Capabilities
	for _, c := range reported {
		switch {
		case c == nil:
		case out == nil:
			out = models.NewCapabilities(c.Names()...)
		default:
			out = out.Intersect(*c)
		}
	}
	return out
}

// GenerateNewPreKey replaces the pre-key of the current device. The private
// material is kept until it expires so messages wrapped with an older
// pre-key stay readable.
func (i *identityService) GenerateNewPreKey(ctx context.Context, s *store.Session, owned models.Identity, serverTimestamp int64) (*models.PreKey, error) {
	log := logger.FromContext(ctx)

	oi, err := i.repos.OwnedIdentities.Get(ctx, s, owned)
	if err != nil || oi == nil {
		return nil, err
	}
	device, err := i.repos.OwnedDevices.Current(ctx, s, owned)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, ErrNoCurrentDevice
	}

	expiration := serverTimestamp + i.preKeyLifetime.Milliseconds()
	pk, material, err := crypto.NewPreKey(*oi, device.UID, expiration)
	if err != nil {
		log.Err(err).Str("func", "*identityService.GenerateNewPreKey").Msg("error generating pre-key")
		return nil, err
	}
	if err = i.repos.PreKeyMaterials.Insert(ctx, s, material); err != nil {
		return nil, err
	}

	device.PreKey = &pk
	if err = i.repos.OwnedDevices.Update(ctx, s, *device); err != nil {
		return nil, err
	}
	s.Record(store.BackupNeeded(owned))
	return &pk, nil
}

// SetOwnedDevicePreKey stores the pre-key another owned device published.
// A nil pk removes it.
func (i *identityService) SetOwnedDevicePreKey(ctx context.Context, s *store.Session, owned models.Identity, uid models.UID, pk *models.PreKey) error {
	if err := checkPreKey(owned, uid, pk); err != nil {
		return err
	}
	return i.updateOwnedDevice(ctx, s, owned, uid, func(d *models.OwnedDevice) {
		d.PreKey = pk
	})
}

func (i *identityService) SetContactDevicePreKey(ctx context.Context, s *store.Session, owned, contact models.Identity, uid models.UID, pk *models.PreKey) error {
	if err := checkPreKey(contact, uid, pk); err != nil {
		return err
	}

	device, err := i.repos.ContactDevices.Get(ctx, s, owned, contact, uid)
	if err != nil || device == nil {
		return err
	}
	device.PreKey = pk
	if err = i.repos.ContactDevices.Update(ctx, s, *device); err != nil {
		return err
	}
	s.Record(store.BackupNeeded(owned))
	return nil
}

func checkPreKey(owner models.Identity, device models.UID, pk *models.PreKey) error {
	if pk == nil {
		return nil
	}
	if pk.DeviceUID != device {
		return fmt.Errorf("%w: pre-key of another device", ErrInvalidSignature)
	}
	return crypto.VerifyPreKey(owner, *pk)
}

// ExpireContactAndOwnedPreKeys drops pre-keys expiring before
// serverTimestamp. The timestamp comes from server, so only identities
// registered on server are affected.
func (i *identityService) ExpireContactAndOwnedPreKeys(ctx context.Context, s *store.Session, server string, serverTimestamp int64) error {
	log := logger.FromContext(ctx)

	owned, err := i.repos.OwnedIdentities.List(ctx, s)
	if err != nil {
		return err
	}

	for _, oi := range owned {
		id := oi.Identity
		if id.Server == server {
			n, err := i.repos.OwnedDevices.ClearExpiredPreKeys(ctx, s, id, serverTimestamp)
			if err != nil {
				log.Err(err).Str("func", "*identityService.ExpireContactAndOwnedPreKeys").Msg("error expiring owned pre-keys")
				return err
			}
			if n > 0 {
				s.Record(store.BackupNeeded(id))
			}
		}

		devices, err := i.repos.ContactDevices.ListAll(ctx, s, id)
		if err != nil {
			return err
		}
		for _, d := range devices {
			if d.ContactIdentity.Server != server || d.PreKey == nil || d.PreKey.ExpirationTimestamp >= serverTimestamp {
				continue
			}
			d.PreKey = nil
			if err := i.repos.ContactDevices.Update(ctx, s, d); err != nil {
				log.Err(err).Str("func", "*identityService.ExpireContactAndOwnedPreKeys").Msg("error expiring contact pre-key")
				return err
			}
			s.Record(store.BackupNeeded(id))
		}
	}
	return nil
}

// WrapWithPreKey encrypts messageKey to the pre-key of a device of
// recipient, which may be owned itself. It returns nil when the device or
// its pre-key is unknown.
func (i *identityService) WrapWithPreKey(ctx context.Context, s *store.Session, owned models.Identity, messageKey []byte, recipient models.Identity, recipientDevice models.UID) ([]byte, error) {
	oi, err := i.repos.OwnedIdentities.Get(ctx, s, owned)
	if err != nil || oi == nil {
		return nil, err
	}
	current, ok, err := i.repos.OwnedDevices.CurrentUID(ctx, s, owned)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoCurrentDevice
	}

	var pk *models.PreKey
	if recipient == owned {
		d, err := i.repos.OwnedDevices.Get(ctx, s, owned, recipientDevice)
		if err != nil || d == nil {
			return nil, err
		}
		pk = d.PreKey
	} else {
		d, err := i.repos.ContactDevices.Get(ctx, s, owned, recipient, recipientDevice)
		if err != nil || d == nil {
			return nil, err
		}
		pk = d.PreKey
	}
	if pk == nil {
		return nil, nil
	}

	payload := crypto.PreKeyPayload{MessageKey: messageKey, SenderDevice: current, SenderIdentity: owned}
	return crypto.WrapWithPreKey(oi.PrivateIdentity.SignKey, payload, recipient, *pk)
}

// UnwrapWithPreKey decrypts a pre-key message addressed to the current
// device. An unknown key id yields [ErrUnknownPreKey]; a bad sender
// signature yields crypto.ErrPreKeyAuthentication.
func (i *identityService) UnwrapWithPreKey(ctx context.Context, s *store.Session, owned models.Identity, message []byte) (*crypto.PreKeyPayload, error) {
	keyID, _, err := crypto.PreKeyID(message)
	if err != nil {
		return nil, err
	}
	material, err := i.repos.PreKeyMaterials.Get(ctx, s, owned, keyID)
	if err != nil {
		return nil, err
	}
	if material == nil {
		return nil, ErrUnknownPreKey
	}
	current, ok, err := i.repos.OwnedDevices.CurrentUID(ctx, s, owned)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoCurrentDevice
	}

	payload, err := crypto.UnwrapWithPreKey(*material, owned, current, message)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("func", "*identityService.UnwrapWithPreKey").Msg("error unwrapping pre-key message")
		return nil, err
	}
	return &payload, nil
}
