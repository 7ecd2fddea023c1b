package service

import (
	"context"

	"github.com/MKhiriev/go-trust-engine/internal/details"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

// contactService implements [ContactService].
type contactService struct {
	repos     *store.Repositories
	details   *details.Engine
	protocols ProtocolTrigger
	channels  ChannelDelegate
	logger    *logger.Logger
}

// AddContactIdentity creates contact, or adds origin to it when it already
// exists. A contact revoked as compromised by the keycloak server of owned
// is created blocked.
func (c *contactService) AddContactIdentity(ctx context.Context, s *store.Session, owned, contact models.Identity, d models.Details, origin models.TrustOrigin, oneToOne bool) (*models.ContactIdentity, error) {
	log := logger.FromContext(ctx)

	if contact == owned {
		return nil, ErrContactIsOwnedIdentity
	}
	ok, err := c.repos.OwnedIdentities.Exists(ctx, s, owned)
	if err != nil || !ok {
		return nil, err
	}

	existing, err := c.repos.Contacts.Get(ctx, s, owned, contact)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err = c.AddTrustOrigin(ctx, s, owned, contact, origin); err != nil {
			return nil, err
		}
		if oneToOne {
			if err = c.SetContactOneToOne(ctx, s, owned, contact, true); err != nil {
				return nil, err
			}
		}
		return c.repos.Contacts.Get(ctx, s, owned, contact)
	}

	ci := models.ContactIdentity{
		OwnedIdentity:   owned,
		ContactIdentity: contact,
		Active:          true,
		OneToOne:        models.OneToOneFromBool(oneToOne),
	}
	if origin.Type != "" {
		ci.TrustOrigins = []models.TrustOrigin{origin}
	}
	if ci.RevokedAsCompromised, err = c.isRevokedAsCompromised(ctx, s, owned, contact); err != nil {
		return nil, err
	}

	if err = c.repos.Contacts.Insert(ctx, s, ci); err != nil {
		log.Err(err).Str("func", "*contactService.AddContactIdentity").Msg("error inserting contact")
		return nil, err
	}
	if err = c.details.Init(ctx, s, contactDetailsKey(owned, contact), 0, d); err != nil {
		return nil, err
	}

	s.Record(
		store.BackupNeeded(owned),
		store.Notification(NotificationContactAdded, owned, map[string]any{"contact": contact.String()}),
	)
	if !ci.IsBlocked() {
		trigger(s, "contact device discovery", func(ctx context.Context) error {
			return c.protocols.StartDeviceDiscovery(ctx, owned, contact)
		})
	}
	return &ci, nil
}

// isRevokedAsCompromised looks for a compromised revocation of contact
// ingested from the keycloak server owned is bound to.
func (c *contactService) isRevokedAsCompromised(ctx context.Context, s *store.Session, owned, contact models.Identity) (bool, error) {
	server, err := c.repos.Keycloak.GetServer(ctx, s, owned)
	if err != nil || server == nil {
		return false, err
	}
	revocations, err := c.repos.Keycloak.ListRevocations(ctx, s, owned, server.ServerURL, contact)
	if err != nil {
		return false, err
	}
	for _, r := range revocations {
		if r.Type == models.RevocationCompromised {
			return true, nil
		}
	}
	return false, nil
}

func (c *contactService) GetContactIdentity(ctx context.Context, s *store.Session, owned, contact models.Identity) (*models.ContactIdentity, error) {
	return c.repos.Contacts.Get(ctx, s, owned, contact)
}

func (c *contactService) ListContactIdentities(ctx context.Context, s *store.Session, owned models.Identity) ([]models.ContactIdentity, error) {
	return c.repos.Contacts.List(ctx, s, owned)
}

func (c *contactService) DeleteContactIdentity(ctx context.Context, s *store.Session, owned, contact models.Identity, force bool) error {
	ok, err := c.repos.Contacts.Exists(ctx, s, owned, contact)
	if err != nil || !ok {
		return err
	}

	groupsV1, err := c.repos.GroupsV1.ListGroupsWithMember(ctx, s, owned, contact)
	if err != nil {
		return err
	}
	groupsV2, err := c.repos.GroupsV2.ListGroupsWithMember(ctx, s, owned, contact)
	if err != nil {
		return err
	}
	if !force && (len(groupsV1) > 0 || len(groupsV2) > 0) {
		return ErrContactInGroup
	}
	if err = c.leaveGroupsV1(ctx, s, owned, contact, groupsV1); err != nil {
		return err
	}
	if err = c.leaveGroupsV2(ctx, s, owned, contact); err != nil {
		return err
	}

	if err = c.repos.ContactDevices.DeleteForContact(ctx, s, owned, contact); err != nil {
		return err
	}
	if err = c.details.Delete(ctx, s, contactDetailsKey(owned, contact)); err != nil {
		return err
	}
	if err = c.repos.Contacts.Delete(ctx, s, owned, contact); err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*contactService.DeleteContactIdentity").Msg("error deleting contact")
		return err
	}

	s.Record(
		store.BackupNeeded(owned),
		store.Notification(NotificationContactDeleted, owned, map[string]any{"contact": contact.String()}),
	)
	trigger(s, "destroy contact channels", func(ctx context.Context) error {
		return c.channels.DestroyChannels(ctx, owned, contact)
	})
	return nil
}

// leaveGroupsV1 removes contact from the given groups. Groups owned by owned
// get a new members version so the change reaches the other members.
func (c *contactService) leaveGroupsV1(ctx context.Context, s *store.Session, owned, contact models.Identity, keys []models.GroupV1Key) error {
	for _, key := range keys {
		group, err := c.repos.GroupsV1.Get(ctx, s, owned, key)
		if err != nil {
			return err
		}
		if group == nil {
			continue
		}
		if err = c.repos.GroupsV1.RemoveMember(ctx, s, owned, key, contact); err != nil {
			return err
		}
		if group.IsOwned() {
			group.MembersVersion++
			if err = c.repos.GroupsV1.SetMembersVersion(ctx, s, owned, key, group.MembersVersion); err != nil {
				return err
			}
		}
		s.Record(store.Notification(NotificationGroupV1Updated, owned, map[string]any{"group": key.String()}))
	}
	return nil
}

// leaveGroupsV2 drops contact from the members and pending members of every
// group v2 of owned.
func (c *contactService) leaveGroupsV2(ctx context.Context, s *store.Session, owned, contact models.Identity) error {
	groups, err := c.repos.GroupsV2.List(ctx, s, owned)
	if err != nil {
		return err
	}
	for _, g := range groups {
		id := g.Identifier
		member, err := c.repos.GroupsV2.GetMember(ctx, s, owned, id, contact)
		if err != nil {
			return err
		}
		pending, err := c.repos.GroupsV2.GetPending(ctx, s, owned, id, contact)
		if err != nil {
			return err
		}
		if member == nil && pending == nil {
			continue
		}
		if member != nil {
			if err = c.repos.GroupsV2.RemoveMember(ctx, s, owned, id, contact); err != nil {
				return err
			}
		}
		if pending != nil {
			if err = c.repos.GroupsV2.RemovePending(ctx, s, owned, id, contact); err != nil {
				return err
			}
		}
		s.Record(store.Notification(NotificationGroupV2Updated, owned, map[string]any{"group": id.String()}))
	}
	return nil
}

// AddTrustOrigin appends origin to the contact. Origins are never removed.
func (c *contactService) AddTrustOrigin(ctx context.Context, s *store.Session, owned, contact models.Identity, origin models.TrustOrigin) error {
	if origin.Type == "" {
		return nil
	}
	ci, err := c.repos.Contacts.Get(ctx, s, owned, contact)
	if err != nil || ci == nil {
		return err
	}

	if err = c.repos.Contacts.AddTrustOrigin(ctx, s, owned, contact, origin); err != nil {
		return err
	}
	s.Record(store.BackupNeeded(owned))

	before := ci.TrustLevel()
	if after := models.TrustLevelOf(append(ci.TrustOrigins, origin)); after > before {
		s.Record(store.Notification(NotificationContactTrustChanged, owned, map[string]any{
			"contact": contact.String(),
			"level":   int(after),
		}))
	}
	return nil
}

func (c *contactService) TrustLevel(ctx context.Context, s *store.Session, owned, contact models.Identity) (models.TrustLevel, error) {
	ci, err := c.repos.Contacts.Get(ctx, s, owned, contact)
	if err != nil || ci == nil {
		return models.TrustLevelNone, err
	}
	return ci.TrustLevel(), nil
}

// update loads the contact, applies change and stores it when change
// reports a modification.
func (c *contactService) update(ctx context.Context, s *store.Session, owned, contact models.Identity, change func(ci *models.ContactIdentity) bool) (*models.ContactIdentity, error) {
	ci, err := c.repos.Contacts.Get(ctx, s, owned, contact)
	if err != nil || ci == nil {
		return nil, err
	}
	if !change(ci) {
		return nil, nil
	}
	if err = c.repos.Contacts.Update(ctx, s, *ci); err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*contactService.update").Msg("error updating contact")
		return nil, err
	}
	s.Record(store.BackupNeeded(owned))
	return ci, nil
}

func (c *contactService) SetContactActive(ctx context.Context, s *store.Session, owned, contact models.Identity, active bool) error {
	_, err := c.update(ctx, s, owned, contact, func(ci *models.ContactIdentity) bool {
		if ci.Active == active {
			return false
		}
		ci.Active = active
		return true
	})
	return err
}

func (c *contactService) SetContactRecentlyOnline(ctx context.Context, s *store.Session, owned, contact models.Identity, online bool) error {
	_, err := c.update(ctx, s, owned, contact, func(ci *models.ContactIdentity) bool {
		if ci.RecentlyOnline == online {
			return false
		}
		ci.RecentlyOnline = online
		return true
	})
	return err
}

// SetContactOneToOne is a no-op when the status already holds. An unknown
// status counts as not one-to-one.
func (c *contactService) SetContactOneToOne(ctx context.Context, s *store.Session, owned, contact models.Identity, oneToOne bool) error {
	ci, err := c.update(ctx, s, owned, contact, func(ci *models.ContactIdentity) bool {
		if oneToOne == (ci.OneToOne == models.OneToOneTrue) {
			return false
		}
		ci.OneToOne = models.OneToOneFromBool(oneToOne)
		return true
	})
	if err != nil || ci == nil {
		return err
	}

	if oneToOne && !ci.IsBlocked() {
		trigger(s, "contact device discovery", func(ctx context.Context) error {
			return c.protocols.StartDeviceDiscovery(ctx, owned, contact)
		})
	}
	return nil
}

// ForcefullyUnblockContact lets the user trust a revoked contact anyway.
// Devices are rediscovered.
func (c *contactService) ForcefullyUnblockContact(ctx context.Context, s *store.Session, owned, contact models.Identity) error {
	ci, err := c.update(ctx, s, owned, contact, func(ci *models.ContactIdentity) bool {
		if ci.ForcefullyTrustedByUser {
			return false
		}
		ci.ForcefullyTrustedByUser = true
		return true
	})
	if err != nil || ci == nil {
		return err
	}

	if ci.RevokedAsCompromised {
		trigger(s, "contact device discovery", func(ctx context.Context) error {
			return c.protocols.StartDeviceDiscovery(ctx, owned, contact)
		})
	}
	return nil
}

// ReBlockForcefullyUnblockedContact withdraws a forced trust. Revocation
// consequences apply again only if the contact is still revoked.
func (c *contactService) ReBlockForcefullyUnblockedContact(ctx context.Context, s *store.Session, owned, contact models.Identity) error {
	ci, err := c.update(ctx, s, owned, contact, func(ci *models.ContactIdentity) bool {
		if !ci.ForcefullyTrustedByUser {
			return false
		}
		ci.ForcefullyTrustedByUser = false
		return true
	})
	if err != nil || ci == nil {
		return err
	}

	if ci.RevokedAsCompromised {
		return c.applyRevocation(ctx, s, owned, contact)
	}
	return nil
}

// applyRevocation deletes the devices of a blocked contact and destroys its
// channels after commit.
func (c *contactService) applyRevocation(ctx context.Context, s *store.Session, owned, contact models.Identity) error {
	if err := c.repos.ContactDevices.DeleteForContact(ctx, s, owned, contact); err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*contactService.applyRevocation").Msg("error deleting contact devices")
		return err
	}

	s.Record(
		store.BackupNeeded(owned),
		store.Notification(NotificationContactRevoked, owned, map[string]any{"contact": contact.String()}),
	)
	trigger(s, "destroy contact channels", func(ctx context.Context) error {
		return c.channels.DestroyChannels(ctx, owned, contact)
	})
	return nil
}

func (c *contactService) GetContactDetails(ctx context.Context, s *store.Session, owned, contact models.Identity) (*models.DetailsTriple, error) {
	return c.details.Get(ctx, s, contactDetailsKey(owned, contact))
}

// ApplyContactPublishedDetails stores details the contact published.
// Versions not above the known one are ignored.
func (c *contactService) ApplyContactPublishedDetails(ctx context.Context, s *store.Session, owned, contact models.Identity, version int, d models.Details) (bool, error) {
	changed, err := c.details.ApplyPublished(ctx, s, contactDetailsKey(owned, contact), version, d, false)
	return changed, ignoreMissingTriple(err)
}

func (c *contactService) TrustContactPublishedDetails(ctx context.Context, s *store.Session, owned, contact models.Identity) (bool, error) {
	changed, err := c.details.Trust(ctx, s, contactDetailsKey(owned, contact))
	return changed, ignoreMissingTriple(err)
}

func (c *contactService) ListContactDevices(ctx context.Context, s *store.Session, owned, contact models.Identity) ([]models.ContactDevice, error) {
	return c.repos.ContactDevices.List(ctx, s, owned, contact)
}

// AddContactDevice records a device of contact and triggers channel
// creation. Devices of blocked contacts, and of inactive owned identities,
// are ignored.
func (c *contactService) AddContactDevice(ctx context.Context, s *store.Session, owned, contact models.Identity, uid models.UID) error {
	oi, err := c.repos.OwnedIdentities.Get(ctx, s, owned)
	if err != nil || oi == nil || !oi.Active {
		return err
	}
	ci, err := c.repos.Contacts.Get(ctx, s, owned, contact)
	if err != nil || ci == nil || ci.IsBlocked() {
		return err
	}
	existing, err := c.repos.ContactDevices.Get(ctx, s, owned, contact, uid)
	if err != nil || existing != nil {
		return err
	}

	device := models.ContactDevice{OwnedIdentity: owned, ContactIdentity: contact, UID: uid}
	if err = c.repos.ContactDevices.Insert(ctx, s, device); err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*contactService.AddContactDevice").
			Str("device", uid.String()).Msg("error adding contact device")
		return err
	}

	s.Record(store.BackupNeeded(owned))
	trigger(s, "contact channel creation", func(ctx context.Context) error {
		return c.protocols.StartChannelCreation(ctx, owned, contact, uid)
	})
	return nil
}

func (c *contactService) RemoveContactDevice(ctx context.Context, s *store.Session, owned, contact models.Identity, uid models.UID) error {
	existing, err := c.repos.ContactDevices.Get(ctx, s, owned, contact, uid)
	if err != nil || existing == nil {
		return err
	}
	if err = c.repos.ContactDevices.Delete(ctx, s, owned, contact, uid); err != nil {
		return err
	}

	s.Record(store.BackupNeeded(owned))
	trigger(s, "destroy contact device channel", func(ctx context.Context) error {
		return c.channels.DestroyDeviceChannel(ctx, owned, contact, uid)
	})
	return nil
}

func (c *contactService) UpdateContactDevice(ctx context.Context, s *store.Session, owned, contact models.Identity, uid models.UID, update DeviceUpdate) error {
	device, err := c.repos.ContactDevices.Get(ctx, s, owned, contact, uid)
	if err != nil || device == nil {
		return err
	}
	if update.ChannelConfirmed != nil {
		device.ChannelConfirmed = *update.ChannelConfirmed
	}
	if update.LastChannelPingTimestamp != nil {
		device.LastChannelPingTimestamp = *update.LastChannelPingTimestamp
	}
	if err = c.repos.ContactDevices.Update(ctx, s, *device); err != nil {
		return err
	}
	s.Record(store.BackupNeeded(owned))
	return nil
}
