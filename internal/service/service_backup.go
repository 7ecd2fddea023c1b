// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MKhiriev/go-trust-engine/internal/details"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

// backupService implements [BackupService] and [SyncService].
type backupService struct {
	db         *store.DB
	repos      *store.Repositories
	details    *details.Engine
	identities *identityService
	contacts   *contactService
	groupsV1   *groupV1Service
	groupsV2   *groupV2Service
	logger     *logger.Logger
}

func (b *backupService) SnapshotTag() string {
	return models.IdentitySnapshotTag
}

// GetSyncSnapshot reads the snapshot of owned in a transaction of its own,
// so the snapshot is consistent. It returns nil for an unknown identity.
func (b *backupService) GetSyncSnapshot(ctx context.Context, owned models.Identity) (*models.IdentitySnapshot, error) {
	s, err := b.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Rollback()

	return b.snapshot(ctx, s, owned)
}

// Serialize produces a full backup of every owned identity.
func (b *backupService) Serialize(ctx context.Context) ([]byte, error) {
	log := logger.FromContext(ctx)

	s, err := b.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Rollback()

	owned, err := b.repos.OwnedIdentities.List(ctx, s)
	if err != nil {
		return nil, err
	}
	backup := models.FullBackup{
		Version:    models.FullBackupVersion,
		Tag:        b.SnapshotTag(),
		Identities: make([]models.IdentitySnapshot, 0, len(owned)),
	}
	for _, oi := range owned {
		snap, err := b.snapshot(ctx, s, oi.Identity)
		if err != nil {
			log.Err(err).Str("func", "*backupService.Serialize").Msg("error taking identity snapshot")
			return nil, err
		}
		if snap != nil {
			backup.Identities = append(backup.Identities, *snap)
		}
	}
	return json.Marshal(backup)
}

func (b *backupService) Deserialize(data []byte) (*models.FullBackup, error) {
	var backup models.FullBackup
	if err := json.Unmarshal(data, &backup); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedBackup, err)
	}
	if backup.Version != models.FullBackupVersion || backup.Tag != b.SnapshotTag() {
		return nil, fmt.Errorf("%w: version %d, tag %q", ErrUnsupportedBackup, backup.Version, backup.Tag)
	}
	return &backup, nil
}

func (b *backupService) triple(ctx context.Context, s *store.Session, key models.DetailsKey) (models.DetailsTriple, error) {
	t, err := b.details.Get(ctx, s, key)
	if err != nil || t == nil {
		return models.DetailsTriple{}, err
	}
	return *t, nil
}

func (b *backupService) snapshot(ctx context.Context, s *store.Session, owned models.Identity) (*models.IdentitySnapshot, error) {
	oi, err := b.repos.OwnedIdentities.Get(ctx, s, owned)
	if err != nil || oi == nil {
		return nil, err
	}

	snap := &models.IdentitySnapshot{OwnedIdentity: *oi}
	if snap.Details, err = b.triple(ctx, s, ownedDetailsKey(owned)); err != nil {
		return nil, err
	}
	if snap.Devices, err = b.repos.OwnedDevices.List(ctx, s, owned); err != nil {
		return nil, err
	}
	if snap.Keycloak, err = b.repos.Keycloak.GetServer(ctx, s, owned); err != nil {
		return nil, err
	}
	if snap.Revocations, err = b.repos.Keycloak.ListAllRevocations(ctx, s, owned); err != nil {
		return nil, err
	}
	if snap.ServerUserData, err = b.repos.ServerUserData.List(ctx, s, owned); err != nil {
		return nil, err
	}

	contacts, err := b.repos.Contacts.List(ctx, s, owned)
	if err != nil {
		return nil, err
	}
	for _, c := range contacts {
		cs := models.ContactSnapshot{Contact: c}
		if cs.Details, err = b.triple(ctx, s, contactDetailsKey(owned, c.ContactIdentity)); err != nil {
			return nil, err
		}
		if cs.Devices, err = b.repos.ContactDevices.List(ctx, s, owned, c.ContactIdentity); err != nil {
			return nil, err
		}
		snap.Contacts = append(snap.Contacts, cs)
	}

	groupsV1, err := b.repos.GroupsV1.List(ctx, s, owned)
	if err != nil {
		return nil, err
	}
	for _, g := range groupsV1 {
		gs := models.GroupV1Snapshot{Group: g}
		if gs.Details, err = b.triple(ctx, s, groupV1DetailsKey(owned, g.Key)); err != nil {
			return nil, err
		}
		if gs.Members, err = b.repos.GroupsV1.ListMembers(ctx, s, owned, g.Key); err != nil {
			return nil, err
		}
		if gs.Pendings, err = b.repos.GroupsV1.ListPendings(ctx, s, owned, g.Key); err != nil {
			return nil, err
		}
		snap.GroupsV1 = append(snap.GroupsV1, gs)
	}

	groupsV2, err := b.repos.GroupsV2.List(ctx, s, owned)
	if err != nil {
		return nil, err
	}
	for _, g := range groupsV2 {
		gs := models.GroupV2Snapshot{Group: g}
		if gs.Details, err = b.triple(ctx, s, groupV2DetailsKey(owned, g.Identifier)); err != nil {
			return nil, err
		}
		if gs.Members, err = b.repos.GroupsV2.ListMembers(ctx, s, owned, g.Identifier); err != nil {
			return nil, err
		}
		if gs.Pendings, err = b.repos.GroupsV2.ListPendings(ctx, s, owned, g.Identifier); err != nil {
			return nil, err
		}
		snap.GroupsV2 = append(snap.GroupsV2, gs)
	}
	return snap, nil
}

// RestoreFullBackup restores backup in one transaction onto a store holding
// no owned identity. Each restored identity gets a new current device; the
// devices found in the backup become other owned devices. Active identities
// rediscover their devices and contacts after commit.
func (b *backupService) RestoreFullBackup(ctx context.Context, backup *models.FullBackup) error {
	log := logger.FromContext(ctx)

	return b.db.WithinTransaction(ctx, func(s *store.Session) error {
		count, err := b.repos.OwnedIdentities.Count(ctx, s)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrBackupNotEmpty
		}

		for _, snap := range backup.Identities {
			if err = b.restoreIdentity(ctx, s, snap); err != nil {
				log.Err(err).Str("func", "*backupService.RestoreFullBackup").
					Str("identity", snap.OwnedIdentity.Identity.String()).Msg("error restoring identity")
				return err
			}
		}
		return nil
	})
}

func (b *backupService) restoreTriple(ctx context.Context, s *store.Session, key models.DetailsKey, t models.DetailsTriple) error {
	if len(t.Records) == 0 {
		return nil
	}
	return b.details.Restore(ctx, s, key, t)
}

func (b *backupService) restoreIdentity(ctx context.Context, s *store.Session, snap models.IdentitySnapshot) error {
	owned := snap.OwnedIdentity.Identity

	if err := b.repos.OwnedIdentities.Insert(ctx, s, snap.OwnedIdentity); err != nil {
		return err
	}
	if err := b.restoreTriple(ctx, s, ownedDetailsKey(owned), snap.Details); err != nil {
		return err
	}

	for _, d := range snap.Devices {
		d.OwnedIdentity = owned
		d.Current = false
		if err := b.repos.OwnedDevices.Insert(ctx, s, d); err != nil {
			return err
		}
	}
	current, err := models.NewUID()
	if err != nil {
		return err
	}
	if err = b.repos.OwnedDevices.Insert(ctx, s, models.OwnedDevice{OwnedIdentity: owned, UID: current, Current: true}); err != nil {
		return err
	}

	if snap.Keycloak != nil {
		server := *snap.Keycloak
		server.OwnedIdentity = owned
		if err = b.repos.Keycloak.PutServer(ctx, s, server); err != nil {
			return err
		}
	}
	for _, rev := range snap.Revocations {
		rev.OwnedIdentity = owned
		if _, err = b.repos.Keycloak.AddRevocation(ctx, s, rev); err != nil {
			return err
		}
	}

	for _, cs := range snap.Contacts {
		if err = b.restoreContact(ctx, s, owned, cs); err != nil {
			return err
		}
	}
	for _, gs := range snap.GroupsV1 {
		if err = b.restoreGroupV1(ctx, s, owned, gs); err != nil {
			return err
		}
	}
	for _, gs := range snap.GroupsV2 {
		if err = b.restoreGroupV2(ctx, s, owned, gs); err != nil {
			return err
		}
	}
	for _, d := range snap.ServerUserData {
		d.OwnedIdentity = owned
		if err = b.repos.ServerUserData.Put(ctx, s, d); err != nil {
			return err
		}
	}

	s.Record(store.BackupNeeded(owned))
	if snap.OwnedIdentity.Active {
		return b.identities.scheduleRediscovery(ctx, s, owned)
	}
	return nil
}

func (b *backupService) restoreContact(ctx context.Context, s *store.Session, owned models.Identity, cs models.ContactSnapshot) error {
	c := cs.Contact
	c.OwnedIdentity = owned
	if err := b.repos.Contacts.Insert(ctx, s, c); err != nil {
		return err
	}
	if err := b.restoreTriple(ctx, s, contactDetailsKey(owned, c.ContactIdentity), cs.Details); err != nil {
		return err
	}
	for _, d := range cs.Devices {
		d.OwnedIdentity = owned
		d.ContactIdentity = c.ContactIdentity
		if err := b.repos.ContactDevices.Insert(ctx, s, d); err != nil {
			return err
		}
	}
	return nil
}

func (b *backupService) restoreGroupV1(ctx context.Context, s *store.Session, owned models.Identity, gs models.GroupV1Snapshot) error {
	g := gs.Group
	g.OwnedIdentity = owned
	if err := b.repos.GroupsV1.Insert(ctx, s, g); err != nil {
		return err
	}
	if err := b.restoreTriple(ctx, s, groupV1DetailsKey(owned, g.Key), gs.Details); err != nil {
		return err
	}
	for _, m := range gs.Members {
		if err := b.repos.GroupsV1.AddMember(ctx, s, owned, g.Key, m); err != nil {
			return err
		}
	}
	for _, p := range gs.Pendings {
		if err := b.repos.GroupsV1.PutPending(ctx, s, owned, g.Key, p); err != nil {
			return err
		}
	}
	return nil
}

func (b *backupService) restoreGroupV2(ctx context.Context, s *store.Session, owned models.Identity, gs models.GroupV2Snapshot) error {
	g := gs.Group
	g.OwnedIdentity = owned
	g.Frozen = false
	g.UpdateInProgress = false
	if err := b.repos.GroupsV2.Insert(ctx, s, g); err != nil {
		return err
	}
	if err := b.restoreTriple(ctx, s, groupV2DetailsKey(owned, g.Identifier), gs.Details); err != nil {
		return err
	}
	for _, m := range gs.Members {
		if err := b.repos.GroupsV2.PutMember(ctx, s, owned, g.Identifier, m); err != nil {
			return err
		}
	}
	for _, p := range gs.Pendings {
		if err := b.repos.GroupsV2.PutPending(ctx, s, owned, g.Identifier, p); err != nil {
			return err
		}
	}
	return nil
}

// ApplySyncAtom applies a trust decision made on another owned device. It
// reports whether local state changed; replaying an atom is a no-op.
func (b *backupService) ApplySyncAtom(ctx context.Context, s *store.Session, owned models.Identity, atom models.SyncAtom) (bool, error) {
	switch atom.Type {
	case models.SyncAtomTrustContactDetails:
		if atom.Contact == nil {
			break
		}
		return b.details.TrustVersion(ctx, s, contactDetailsKey(owned, *atom.Contact), atom.Version)
	case models.SyncAtomTrustGroupV1Details:
		if atom.GroupV1 == nil {
			break
		}
		return b.details.TrustVersion(ctx, s, groupV1DetailsKey(owned, *atom.GroupV1), atom.Version)
	case models.SyncAtomTrustGroupV2Details:
		if atom.GroupV2 == nil {
			break
		}
		return b.details.TrustVersion(ctx, s, groupV2DetailsKey(owned, *atom.GroupV2), atom.Version)
	case models.SyncAtomContactOneToOne:
		if atom.Contact == nil {
			break
		}
		c, err := b.repos.Contacts.Get(ctx, s, owned, *atom.Contact)
		if err != nil || c == nil || (c.OneToOne == models.OneToOneTrue) == atom.Value {
			return false, err
		}
		return true, b.contacts.SetContactOneToOne(ctx, s, owned, *atom.Contact, atom.Value)
	case models.SyncAtomContactForcefullyUnblocked:
		if atom.Contact == nil {
			break
		}
		c, err := b.repos.Contacts.Get(ctx, s, owned, *atom.Contact)
		if err != nil || c == nil || c.ForcefullyTrustedByUser == atom.Value {
			return false, err
		}
		if atom.Value {
			return true, b.contacts.ForcefullyUnblockContact(ctx, s, owned, *atom.Contact)
		}
		return true, b.contacts.ReBlockForcefullyUnblockedContact(ctx, s, owned, *atom.Contact)
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownSyncAtom, atom.Type)
}

// ReconcileSyncSnapshot applies the trust decisions carried by a snapshot
// of the same identity taken on another device. It returns how many
// changed local state. The atoms are applied all or nothing.
func (b *backupService) ReconcileSyncSnapshot(ctx context.Context, s *store.Session, owned models.Identity, snapshot models.IdentitySnapshot) (int, error) {
	if err := s.RequireTransaction(); err != nil {
		return 0, err
	}
	if snapshot.OwnedIdentity.Identity != owned {
		return 0, nil
	}

	changed := 0
	for _, atom := range snapshotAtoms(snapshot) {
		ok, err := b.ApplySyncAtom(ctx, s, owned, atom)
		if err != nil {
			logger.FromContext(ctx).Err(err).Str("func", "*backupService.ReconcileSyncSnapshot").
				Str("atom", string(atom.Type)).Msg("error applying sync atom")
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func snapshotAtoms(snap models.IdentitySnapshot) []models.SyncAtom {
	var atoms []models.SyncAtom
	for _, cs := range snap.Contacts {
		contact := cs.Contact.ContactIdentity
		atoms = append(atoms,
			models.SyncAtom{Type: models.SyncAtomTrustContactDetails, Contact: &contact, Version: cs.Details.Versions.Trusted},
			models.SyncAtom{Type: models.SyncAtomContactForcefullyUnblocked, Contact: &contact, Value: cs.Contact.ForcefullyTrustedByUser},
		)
		if cs.Contact.OneToOne != models.OneToOneUnknown {
			atoms = append(atoms, models.SyncAtom{
				Type:    models.SyncAtomContactOneToOne,
				Contact: &contact,
				Value:   cs.Contact.OneToOne == models.OneToOneTrue,
			})
		}
	}
	for _, gs := range snap.GroupsV1 {
		key := gs.Group.Key
		atoms = append(atoms, models.SyncAtom{Type: models.SyncAtomTrustGroupV1Details, GroupV1: &key, Version: gs.Details.Versions.Trusted})
	}
	for _, gs := range snap.GroupsV2 {
		id := gs.Group.Identifier
		atoms = append(atoms, models.SyncAtom{Type: models.SyncAtomTrustGroupV2Details, GroupV2: &id, Version: gs.Details.Versions.Trusted})
	}
	return atoms
}
