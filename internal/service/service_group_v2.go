// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"

	"github.com/MKhiriev/go-trust-engine/internal/crypto"
	"github.com/MKhiriev/go-trust-engine/internal/details"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

const (
	invitationNonceSize = 16
	blobSeedSize        = 32
)

// groupV2Service implements [GroupV2Service].
type groupV2Service struct {
	repos   *store.Repositories
	details *details.Engine
	logger  *logger.Logger
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// CreateGroupV2 creates a server group administered by owned and the
// invitees holding GROUP_ADMIN. Invitees are stored as pending members.
func (g *groupV2Service) CreateGroupV2(ctx context.Context, s *store.Session, owned models.Identity, server string, ownPermissions models.Permissions, d models.Details, invitees []models.GroupV2PendingMember) (*models.GroupV2, error) {
	log := logger.FromContext(ctx)

	if err := s.RequireTransaction(); err != nil {
		return nil, err
	}
	if !ownPermissions.Has(models.PermissionGroupAdmin) {
		return nil, fmt.Errorf("%w: %s", ErrMissingPermission, models.PermissionGroupAdmin)
	}
	oi, err := g.repos.OwnedIdentities.Get(ctx, s, owned)
	if err != nil || oi == nil {
		return nil, err
	}

	admins := []models.Identity{owned}
	for _, invitee := range invitees {
		if invitee.Identity != owned && invitee.Permissions.Has(models.PermissionGroupAdmin) {
			admins = append(admins, invitee.Identity)
		}
	}
	chain, err := crypto.NewAdministratorsChain(*oi, admins)
	if err != nil {
		log.Err(err).Str("func", "*groupV2Service.CreateGroupV2").Msg("error building administrators chain")
		return nil, err
	}
	uid, err := chain.GroupUID()
	if err != nil {
		return nil, err
	}
	encodedChain, err := chain.Encode()
	if err != nil {
		return nil, err
	}

	group := models.GroupV2{
		OwnedIdentity:       owned,
		Identifier:          models.GroupV2Identifier{UID: uid, Server: server, Category: models.GroupV2CategoryServer},
		OwnPermissions:      ownPermissions,
		AdministratorsChain: encodedChain,
	}
	if group.OwnInvitationNonce, err = randomBytes(invitationNonceSize); err != nil {
		return nil, err
	}
	if group.BlobKeys.MainSeed, err = randomBytes(blobSeedSize); err != nil {
		return nil, err
	}
	if group.BlobKeys.VersionSeed, err = randomBytes(blobSeedSize); err != nil {
		return nil, err
	}

	if err = g.repos.GroupsV2.Insert(ctx, s, group); err != nil {
		log.Err(err).Str("func", "*groupV2Service.CreateGroupV2").Msg("error inserting group")
		return nil, err
	}
	for _, invitee := range invitees {
		if invitee.Identity == owned {
			continue
		}
		if len(invitee.InvitationNonce) == 0 {
			if invitee.InvitationNonce, err = randomBytes(invitationNonceSize); err != nil {
				return nil, err
			}
		}
		if invitee.Status == "" {
			invitee.Status = models.PendingInvited
		}
		if err = g.repos.GroupsV2.PutPending(ctx, s, owned, group.Identifier, invitee); err != nil {
			return nil, err
		}
	}
	if err = g.details.Init(ctx, s, groupV2DetailsKey(owned, group.Identifier), 0, d); err != nil {
		return nil, err
	}

	g.recordUpdate(s, owned, group.Identifier)
	return &group, nil
}

func (g *groupV2Service) recordUpdate(s *store.Session, owned models.Identity, id models.GroupV2Identifier) {
	s.Record(
		store.BackupNeeded(owned),
		store.Notification(NotificationGroupV2Updated, owned, map[string]any{"group": id.String()}),
	)
}

// JoinGroupV2 records a group owned identity was invited to, after checking
// the administrators chain and that owned is listed in the blob. Joining a
// known group applies the blob as an update.
func (g *groupV2Service) JoinGroupV2(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier, blob models.GroupV2ServerBlob, keys models.GroupV2BlobKeys) (*models.GroupV2, error) {
	if err := s.RequireTransaction(); err != nil {
		return nil, err
	}
	return g.join(ctx, s, owned, id, blob, keys, true)
}

// join creates or updates a group from a blob. Keycloak groups carry no
// administrators chain and are joined with verifyChain unset.
func (g *groupV2Service) join(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier, blob models.GroupV2ServerBlob, keys models.GroupV2BlobKeys, verifyChain bool) (*models.GroupV2, error) {
	ok, err := g.repos.OwnedIdentities.Exists(ctx, s, owned)
	if err != nil || !ok {
		return nil, err
	}

	existing, err := g.repos.GroupsV2.Get(ctx, s, owned, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if _, err = g.applyBlob(ctx, s, existing, blob, keys, verifyChain); err != nil {
			return nil, err
		}
		return g.repos.GroupsV2.Get(ctx, s, owned, id)
	}

	if verifyChain {
		if _, err = verifyBlobChain(id, blob); err != nil {
			return nil, err
		}
	}
	entry, ok := blob.Find(owned)
	if !ok {
		return nil, ErrNotInGroupBlob
	}

	group := models.GroupV2{
		OwnedIdentity:       owned,
		Identifier:          id,
		Version:             blob.Version,
		OwnPermissions:      entry.Permissions,
		OwnInvitationNonce:  entry.InvitationNonce,
		AdministratorsChain: blob.AdministratorsChain,
		BlobKeys:            keys,
	}
	if err = g.repos.GroupsV2.Insert(ctx, s, group); err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*groupV2Service.join").Msg("error inserting group")
		return nil, err
	}
	if _, err = g.applyMembers(ctx, s, &group, blob); err != nil {
		return nil, err
	}
	if err = g.details.Init(ctx, s, groupV2DetailsKey(owned, id), blob.Version, blob.Details); err != nil {
		return nil, err
	}

	g.recordUpdate(s, owned, id)
	return &group, nil
}

// verifyBlobChain checks the administrators chain of blob and that it
// belongs to the group id.
func verifyBlobChain(id models.GroupV2Identifier, blob models.GroupV2ServerBlob) (*crypto.AdministratorsChain, error) {
	chain, err := crypto.DecodeAdministratorsChain(blob.AdministratorsChain)
	if err != nil {
		return nil, err
	}
	uid, err := chain.Verify()
	if err != nil {
		return nil, err
	}
	if uid != id.UID {
		return nil, ErrBlobGroupMismatch
	}
	return chain, nil
}

// UpdateGroupV2WithNewBlob applies a new server blob. Blobs whose version is
// not above the stored one are ignored. When owned is no longer listed the
// group is deleted. It returns the identities whose membership or
// permissions changed.
func (g *groupV2Service) UpdateGroupV2WithNewBlob(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier, blob models.GroupV2ServerBlob, keys models.GroupV2BlobKeys) (models.GroupV2ChangeSet, error) {
	if err := s.RequireTransaction(); err != nil {
		return nil, err
	}
	group, err := g.repos.GroupsV2.Get(ctx, s, owned, id)
	if err != nil || group == nil {
		return nil, err
	}
	return g.applyBlob(ctx, s, group, blob, keys, true)
}

func (g *groupV2Service) applyBlob(ctx context.Context, s *store.Session, group *models.GroupV2, blob models.GroupV2ServerBlob, keys models.GroupV2BlobKeys, verifyChain bool) (models.GroupV2ChangeSet, error) {
	log := logger.FromContext(ctx)
	owned := group.OwnedIdentity

	if verifyChain {
		if blob.Version <= group.Version {
			return nil, nil
		}
		chain, err := verifyBlobChain(group.Identifier, blob)
		if err != nil {
			log.Warn().Err(err).Str("func", "*groupV2Service.applyBlob").
				Str("group", group.Identifier.String()).Msg("rejected group blob")
			return nil, err
		}
		stored, err := crypto.DecodeAdministratorsChain(group.AdministratorsChain)
		if err != nil {
			return nil, err
		}
		if !chain.Extends(stored) {
			return nil, fmt.Errorf("%w: chain does not extend the stored one", ErrAdministratorsChain)
		}
	}

	entry, ok := blob.Find(owned)
	if !ok {
		if err := g.deleteGroup(ctx, s, owned, group.Identifier); err != nil {
			return nil, err
		}
		return models.GroupV2ChangeSet{owned: models.GroupV2ChangeRemoved}, nil
	}

	changes, err := g.applyMembers(ctx, s, group, blob)
	if err != nil {
		return nil, err
	}

	group.Version = blob.Version
	group.OwnPermissions = entry.Permissions
	group.OwnInvitationNonce = entry.InvitationNonce
	if len(blob.AdministratorsChain) > 0 {
		group.AdministratorsChain = blob.AdministratorsChain
	}
	if len(keys.MainSeed) > 0 {
		group.BlobKeys = keys
	}
	if err = g.repos.GroupsV2.Update(ctx, s, *group); err != nil {
		log.Err(err).Str("func", "*groupV2Service.applyBlob").Msg("error updating group")
		return nil, err
	}

	if _, err = g.details.ApplyPublished(ctx, s, groupV2DetailsKey(owned, group.Identifier), blob.Version, blob.Details, !verifyChain); err != nil {
		return nil, ignoreMissingTriple(err)
	}

	g.recordUpdate(s, owned, group.Identifier)
	return changes, nil
}

// applyMembers replaces the stored members and pendings of group by the
// entries of blob, owned excluded.
func (g *groupV2Service) applyMembers(ctx context.Context, s *store.Session, group *models.GroupV2, blob models.GroupV2ServerBlob) (models.GroupV2ChangeSet, error) {
	owned, id := group.OwnedIdentity, group.Identifier

	members, err := g.repos.GroupsV2.ListMembers(ctx, s, owned, id)
	if err != nil {
		return nil, err
	}
	pendings, err := g.repos.GroupsV2.ListPendings(ctx, s, owned, id)
	if err != nil {
		return nil, err
	}
	currentMembers := make(map[models.Identity]models.GroupV2Member, len(members))
	for _, m := range members {
		currentMembers[m.Identity] = m
	}
	currentPendings := make(map[models.Identity]models.GroupV2PendingMember, len(pendings))
	for _, p := range pendings {
		currentPendings[p.Identity] = p
	}

	changes := make(models.GroupV2ChangeSet)
	listed := make(map[models.Identity]bool, len(blob.Members))
	for _, entry := range blob.Members {
		if entry.Identity == owned {
			continue
		}
		listed[entry.Identity] = true
		member, wasMember := currentMembers[entry.Identity]
		pending, wasPending := currentPendings[entry.Identity]

		if entry.Pending {
			if wasMember {
				if err = g.repos.GroupsV2.RemoveMember(ctx, s, owned, id, entry.Identity); err != nil {
					return nil, err
				}
				changes[entry.Identity] = models.GroupV2ChangeRemoved
			} else if !wasPending {
				changes[entry.Identity] = models.GroupV2ChangeAdded
			} else if !pending.Permissions.Equal(entry.Permissions) {
				changes[entry.Identity] = models.GroupV2ChangePermissionsChanged
			}
			status := models.PendingInvited
			if wasPending && pending.Status != "" {
				status = pending.Status
			}
			p := models.GroupV2PendingMember{
				Identity:        entry.Identity,
				Permissions:     entry.Permissions,
				InvitationNonce: entry.InvitationNonce,
				Details:         entry.Details,
				Status:          status,
			}
			if err = g.repos.GroupsV2.PutPending(ctx, s, owned, id, p); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case wasPending:
			if err = g.repos.GroupsV2.RemovePending(ctx, s, owned, id, entry.Identity); err != nil {
				return nil, err
			}
			changes[entry.Identity] = models.GroupV2ChangePromoted
		case !wasMember:
			changes[entry.Identity] = models.GroupV2ChangeAdded
		case !member.Permissions.Equal(entry.Permissions):
			changes[entry.Identity] = models.GroupV2ChangePermissionsChanged
		case bytes.Equal(member.InvitationNonce, entry.InvitationNonce):
			continue
		}
		m := models.GroupV2Member{Identity: entry.Identity, Permissions: entry.Permissions, InvitationNonce: entry.InvitationNonce}
		if err = g.repos.GroupsV2.PutMember(ctx, s, owned, id, m); err != nil {
			return nil, err
		}
	}

	for identity := range currentMembers {
		if listed[identity] {
			continue
		}
		if err = g.repos.GroupsV2.RemoveMember(ctx, s, owned, id, identity); err != nil {
			return nil, err
		}
		changes[identity] = models.GroupV2ChangeRemoved
	}
	for identity := range currentPendings {
		if listed[identity] {
			continue
		}
		if err = g.repos.GroupsV2.RemovePending(ctx, s, owned, id, identity); err != nil {
			return nil, err
		}
		changes[identity] = models.GroupV2ChangeRemoved
	}
	return changes, nil
}

func (g *groupV2Service) GetGroupV2(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier) (*models.GroupV2, error) {
	return g.repos.GroupsV2.Get(ctx, s, owned, id)
}

func (g *groupV2Service) ListGroupsV2(ctx context.Context, s *store.Session, owned models.Identity) ([]models.GroupV2, error) {
	return g.repos.GroupsV2.List(ctx, s, owned)
}

func (g *groupV2Service) ListGroupV2Members(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier) ([]models.GroupV2Member, error) {
	return g.repos.GroupsV2.ListMembers(ctx, s, owned, id)
}

func (g *groupV2Service) ListGroupV2Pendings(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier) ([]models.GroupV2PendingMember, error) {
	return g.repos.GroupsV2.ListPendings(ctx, s, owned, id)
}

func (g *groupV2Service) DeleteGroupV2(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier) error {
	group, err := g.repos.GroupsV2.Get(ctx, s, owned, id)
	if err != nil || group == nil {
		return err
	}
	return g.deleteGroup(ctx, s, owned, id)
}

func (g *groupV2Service) deleteGroup(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier) error {
	if err := g.details.Delete(ctx, s, groupV2DetailsKey(owned, id)); err != nil {
		return err
	}
	if err := g.repos.GroupsV2.Delete(ctx, s, owned, id); err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*groupV2Service.deleteGroup").Msg("error deleting group")
		return err
	}
	s.Record(
		store.BackupNeeded(owned),
		store.Notification(NotificationGroupV2Deleted, owned, map[string]any{"group": id.String()}),
	)
	return nil
}

// FreezeGroupV2 blocks local mutations while the orchestrator applies a
// remote update. Keycloak groups cannot be frozen.
func (g *groupV2Service) FreezeGroupV2(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier, frozen bool) error {
	if id.IsKeycloak() {
		return ErrKeycloakGroup
	}
	group, err := g.repos.GroupsV2.Get(ctx, s, owned, id)
	if err != nil || group == nil || group.Frozen == frozen {
		return err
	}
	group.Frozen = frozen
	return g.repos.GroupsV2.Update(ctx, s, *group)
}

func (g *groupV2Service) SetGroupV2UpdateInProgress(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier, inProgress bool) error {
	group, err := g.repos.GroupsV2.Get(ctx, s, owned, id)
	if err != nil || group == nil || group.UpdateInProgress == inProgress {
		return err
	}
	group.UpdateInProgress = inProgress
	return g.repos.GroupsV2.Update(ctx, s, *group)
}

// ForcefullyRemoveMemberOrPendingFromNonAdminGroupV2 drops identity from a
// group owned identity does not administer, typically after the identity
// was revoked. Members of keycloak groups are demoted to pending with their
// last trusted details so a later roster update can restore them. It
// reports whether anything changed.
func (g *groupV2Service) ForcefullyRemoveMemberOrPendingFromNonAdminGroupV2(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier, identity models.Identity) (bool, error) {
	group, err := g.repos.GroupsV2.Get(ctx, s, owned, id)
	if err != nil || group == nil {
		return false, err
	}
	if group.OwnPermissions.Has(models.PermissionGroupAdmin) {
		return false, nil
	}
	if group.Frozen {
		return false, ErrGroupFrozen
	}

	member, err := g.repos.GroupsV2.GetMember(ctx, s, owned, id, identity)
	if err != nil {
		return false, err
	}
	if member != nil {
		if id.IsKeycloak() {
			if err = g.demoteToPending(ctx, s, owned, id, *member); err != nil {
				return false, err
			}
		}
		if err = g.repos.GroupsV2.RemoveMember(ctx, s, owned, id, identity); err != nil {
			return false, err
		}
		g.recordUpdate(s, owned, id)
		return true, nil
	}

	if id.IsKeycloak() {
		return false, nil
	}
	pending, err := g.repos.GroupsV2.GetPending(ctx, s, owned, id, identity)
	if err != nil || pending == nil {
		return false, err
	}
	if err = g.repos.GroupsV2.RemovePending(ctx, s, owned, id, identity); err != nil {
		return false, err
	}
	g.recordUpdate(s, owned, id)
	return true, nil
}

func (g *groupV2Service) demoteToPending(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier, member models.GroupV2Member) error {
	var detailsJSON string
	triple, err := g.details.Get(ctx, s, contactDetailsKey(owned, member.Identity))
	if err != nil {
		return err
	}
	if triple != nil {
		detailsJSON = triple.Trusted().JSON
	}

	return g.repos.GroupsV2.PutPending(ctx, s, owned, id, models.GroupV2PendingMember{
		Identity:        member.Identity,
		Permissions:     member.Permissions,
		InvitationNonce: member.InvitationNonce,
		Details:         detailsJSON,
		Status:          models.PendingInvited,
	})
}

func (g *groupV2Service) GetGroupV2Details(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier) (*models.DetailsTriple, error) {
	return g.details.Get(ctx, s, groupV2DetailsKey(owned, id))
}

// TrustGroupV2PublishedDetails trusts the details of the current group
// version. Records of older versions become unreachable and are pruned.
func (g *groupV2Service) TrustGroupV2PublishedDetails(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier) (bool, error) {
	changed, err := g.details.Trust(ctx, s, groupV2DetailsKey(owned, id))
	if err != nil {
		return false, ignoreMissingTriple(err)
	}
	if changed {
		g.recordUpdate(s, owned, id)
	}
	return changed, nil
}
