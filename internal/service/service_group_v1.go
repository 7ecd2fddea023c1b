package service

import (
	"context"
	"time"

	"github.com/MKhiriev/go-trust-engine/internal/details"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

// groupV1Service implements [GroupV1Service].
//
// Owned groups start at members version 0 and every membership mutation
// bumps it in the same transaction. Joined groups start at -1 so the first
// update sent by the owner is always applied.
type groupV1Service struct {
	repos    *store.Repositories
	details  *details.Engine
	contacts *contactService
	logger   *logger.Logger
}

const joinedGroupInitialMembersVersion = -1

func (g *groupV1Service) CreateOwnedGroupV1(ctx context.Context, s *store.Session, owned models.Identity, d models.Details, members []models.Identity, pendings []models.IdentityWithDetails) (*models.ContactGroup, error) {
	log := logger.FromContext(ctx)

	if err := s.RequireTransaction(); err != nil {
		return nil, err
	}
	ok, err := g.repos.OwnedIdentities.Exists(ctx, s, owned)
	if err != nil || !ok {
		return nil, err
	}

	uid, err := models.NewUID()
	if err != nil {
		return nil, err
	}
	group := models.ContactGroup{
		Key:           models.GroupV1Key{Owner: owned, UID: uid},
		OwnedIdentity: owned,
	}
	if err = g.repos.GroupsV1.Insert(ctx, s, group); err != nil {
		log.Err(err).Str("func", "*groupV1Service.CreateOwnedGroupV1").Msg("error inserting group")
		return nil, err
	}
	if err = g.details.Init(ctx, s, groupV1DetailsKey(owned, group.Key), 0, d); err != nil {
		return nil, err
	}

	for _, member := range members {
		if err = g.requireContact(ctx, s, owned, member); err != nil {
			return nil, err
		}
		if err = g.repos.GroupsV1.AddMember(ctx, s, owned, group.Key, member); err != nil {
			return nil, err
		}
	}
	for _, p := range pendings {
		pending := models.PendingMember{Identity: p.Identity, Details: p.Details, Status: models.PendingInvited}
		if err = g.repos.GroupsV1.PutPending(ctx, s, owned, group.Key, pending); err != nil {
			return nil, err
		}
	}

	g.recordUpdate(s, owned, group.Key)
	return &group, nil
}

// CreateJoinedGroupV1 records a group owned by a contact. Membership arrives
// later through UpdateGroupMembersAndDetails.
func (g *groupV1Service) CreateJoinedGroupV1(ctx context.Context, s *store.Session, owned models.Identity, info models.GroupInformation) (*models.ContactGroup, error) {
	if info.Key.Owner == owned {
		return nil, ErrGroupOwnedLocally
	}
	ok, err := g.repos.OwnedIdentities.Exists(ctx, s, owned)
	if err != nil || !ok {
		return nil, err
	}
	existing, err := g.repos.GroupsV1.Get(ctx, s, owned, info.Key)
	if err != nil || existing != nil {
		return existing, err
	}
	if err = g.requireContact(ctx, s, owned, info.Key.Owner); err != nil {
		return nil, err
	}

	owner := info.Key.Owner
	group := models.ContactGroup{
		Key:            info.Key,
		OwnedIdentity:  owned,
		GroupOwner:     &owner,
		MembersVersion: joinedGroupInitialMembersVersion,
	}
	if err = g.repos.GroupsV1.Insert(ctx, s, group); err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*groupV1Service.CreateJoinedGroupV1").Msg("error inserting group")
		return nil, err
	}
	if err = g.details.Init(ctx, s, groupV1DetailsKey(owned, group.Key), info.DetailsVersion, info.Details); err != nil {
		return nil, err
	}

	g.recordUpdate(s, owned, group.Key)
	return &group, nil
}

func (g *groupV1Service) requireContact(ctx context.Context, s *store.Session, owned, contact models.Identity) error {
	ok, err := g.repos.Contacts.Exists(ctx, s, owned, contact)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownContact
	}
	return nil
}

func (g *groupV1Service) recordUpdate(s *store.Session, owned models.Identity, key models.GroupV1Key) {
	s.Record(
		store.BackupNeeded(owned),
		store.Notification(NotificationGroupV1Updated, owned, map[string]any{"group": key.String()}),
	)
}

func (g *groupV1Service) GetGroupV1(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) (*models.ContactGroup, error) {
	return g.repos.GroupsV1.Get(ctx, s, owned, key)
}

func (g *groupV1Service) ListGroupsV1(ctx context.Context, s *store.Session, owned models.Identity) ([]models.ContactGroup, error) {
	return g.repos.GroupsV1.List(ctx, s, owned)
}

func (g *groupV1Service) ListGroupV1Members(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) ([]models.Identity, error) {
	return g.repos.GroupsV1.ListMembers(ctx, s, owned, key)
}

func (g *groupV1Service) ListGroupV1Pendings(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) ([]models.PendingMember, error) {
	return g.repos.GroupsV1.ListPendings(ctx, s, owned, key)
}

func (g *groupV1Service) DeleteGroupV1(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) error {
	group, err := g.repos.GroupsV1.Get(ctx, s, owned, key)
	if err != nil || group == nil {
		return err
	}
	if err = g.details.Delete(ctx, s, groupV1DetailsKey(owned, key)); err != nil {
		return err
	}
	if err = g.repos.GroupsV1.Delete(ctx, s, owned, key); err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*groupV1Service.DeleteGroupV1").Msg("error deleting group")
		return err
	}
	s.Record(
		store.BackupNeeded(owned),
		store.Notification(NotificationGroupV1Deleted, owned, map[string]any{"group": key.String()}),
	)
	return nil
}

// ownedGroup loads a group for an owner-only mutation.
func (g *groupV1Service) ownedGroup(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) (*models.ContactGroup, error) {
	if err := s.RequireTransaction(); err != nil {
		return nil, err
	}
	group, err := g.repos.GroupsV1.Get(ctx, s, owned, key)
	if err != nil || group == nil {
		return nil, err
	}
	if !group.IsOwned() {
		return nil, ErrNotGroupOwner
	}
	return group, nil
}

// bumpMembersVersion increments the members version after a membership
// mutation.
func (g *groupV1Service) bumpMembersVersion(ctx context.Context, s *store.Session, group *models.ContactGroup) error {
	group.MembersVersion++
	if err := g.repos.GroupsV1.SetMembersVersion(ctx, s, group.OwnedIdentity, group.Key, group.MembersVersion); err != nil {
		return err
	}
	g.recordUpdate(s, group.OwnedIdentity, group.Key)
	return nil
}

func (g *groupV1Service) AddPendingMembersToGroup(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key, pendings []models.IdentityWithDetails) error {
	group, err := g.ownedGroup(ctx, s, owned, key)
	if err != nil || group == nil {
		return err
	}

	added := 0
	for _, p := range pendings {
		if p.Identity == owned {
			continue
		}
		isMember, err := g.repos.GroupsV1.IsMember(ctx, s, owned, key, p.Identity)
		if err != nil {
			return err
		}
		existing, err := g.repos.GroupsV1.GetPending(ctx, s, owned, key, p.Identity)
		if err != nil {
			return err
		}
		if isMember || existing != nil {
			continue
		}
		pending := models.PendingMember{Identity: p.Identity, Details: p.Details, Status: models.PendingInvited}
		if err = g.repos.GroupsV1.PutPending(ctx, s, owned, key, pending); err != nil {
			return err
		}
		added++
	}
	if added == 0 {
		return nil
	}
	return g.bumpMembersVersion(ctx, s, group)
}

// AddGroupMemberFromPendingMember promotes a pending member who accepted the
// invitation. The pending member must already be a contact.
func (g *groupV1Service) AddGroupMemberFromPendingMember(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key, identity models.Identity) error {
	group, err := g.ownedGroup(ctx, s, owned, key)
	if err != nil || group == nil {
		return err
	}
	pending, err := g.repos.GroupsV1.GetPending(ctx, s, owned, key, identity)
	if err != nil || pending == nil {
		return err
	}
	if err = g.requireContact(ctx, s, owned, identity); err != nil {
		return err
	}

	if err = g.repos.GroupsV1.RemovePending(ctx, s, owned, key, identity); err != nil {
		return err
	}
	if err = g.repos.GroupsV1.AddMember(ctx, s, owned, key, identity); err != nil {
		return err
	}
	return g.bumpMembersVersion(ctx, s, group)
}

func (g *groupV1Service) RemoveMembersAndPendingFromGroup(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key, identities []models.Identity) error {
	group, err := g.ownedGroup(ctx, s, owned, key)
	if err != nil || group == nil {
		return err
	}

	removed := 0
	for _, identity := range identities {
		isMember, err := g.repos.GroupsV1.IsMember(ctx, s, owned, key, identity)
		if err != nil {
			return err
		}
		if isMember {
			if err = g.repos.GroupsV1.RemoveMember(ctx, s, owned, key, identity); err != nil {
				return err
			}
			removed++
			continue
		}
		pending, err := g.repos.GroupsV1.GetPending(ctx, s, owned, key, identity)
		if err != nil {
			return err
		}
		if pending != nil {
			if err = g.repos.GroupsV1.RemovePending(ctx, s, owned, key, identity); err != nil {
				return err
			}
			removed++
		}
	}
	if removed == 0 {
		return nil
	}
	return g.bumpMembersVersion(ctx, s, group)
}

func (g *groupV1Service) SetPendingMemberDeclined(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key, identity models.Identity, declined bool) error {
	group, err := g.ownedGroup(ctx, s, owned, key)
	if err != nil || group == nil {
		return err
	}
	pending, err := g.repos.GroupsV1.GetPending(ctx, s, owned, key, identity)
	if err != nil || pending == nil {
		return err
	}
	if pending.Declined() == declined {
		return nil
	}

	pending.Status = models.PendingInvited
	if declined {
		pending.Status = models.PendingDeclined
	}
	if err = g.repos.GroupsV1.PutPending(ctx, s, owned, key, *pending); err != nil {
		return err
	}
	return g.bumpMembersVersion(ctx, s, group)
}

// UpdateGroupMembersAndDetails applies the membership and details sent by
// the owner of a joined group. Details are applied first. Membership is
// replaced only when update.MembersVersion is above the stored one, so a
// replayed update is a no-op. Unknown members become contacts trusted
// through the group owner.
func (g *groupV1Service) UpdateGroupMembersAndDetails(ctx context.Context, s *store.Session, owned models.Identity, info models.GroupInformation, update models.GroupMembersUpdate) (bool, error) {
	log := logger.FromContext(ctx)

	if err := s.RequireTransaction(); err != nil {
		return false, err
	}
	group, err := g.repos.GroupsV1.Get(ctx, s, owned, info.Key)
	if err != nil || group == nil {
		return false, err
	}
	if group.IsOwned() {
		return false, ErrGroupOwnedLocally
	}

	changed, err := g.details.ApplyPublished(ctx, s, groupV1DetailsKey(owned, info.Key), info.DetailsVersion, info.Details, false)
	if err != nil {
		return false, ignoreMissingTriple(err)
	}
	if update.MembersVersion <= group.MembersVersion {
		if changed {
			g.recordUpdate(s, owned, info.Key)
		}
		return changed, nil
	}

	if err = g.applyMembership(ctx, s, owned, group, update); err != nil {
		log.Err(err).Str("func", "*groupV1Service.UpdateGroupMembersAndDetails").
			Str("group", info.Key.String()).Msg("error applying group membership")
		return false, err
	}
	if err = g.repos.GroupsV1.SetMembersVersion(ctx, s, owned, info.Key, update.MembersVersion); err != nil {
		return false, err
	}

	g.recordUpdate(s, owned, info.Key)
	return true, nil
}

func (g *groupV1Service) applyMembership(ctx context.Context, s *store.Session, owned models.Identity, group *models.ContactGroup, update models.GroupMembersUpdate) error {
	key := group.Key

	currentMembers, err := g.repos.GroupsV1.ListMembers(ctx, s, owned, key)
	if err != nil {
		return err
	}
	currentPendings, err := g.repos.GroupsV1.ListPendings(ctx, s, owned, key)
	if err != nil {
		return err
	}
	isMember := make(map[models.Identity]bool, len(currentMembers))
	for _, m := range currentMembers {
		isMember[m] = true
	}
	isPending := make(map[models.Identity]bool, len(currentPendings))
	for _, p := range currentPendings {
		isPending[p.Identity] = true
	}

	keepMembers := make(map[models.Identity]bool, len(update.Members))
	for _, m := range update.Members {
		if m.Identity == owned {
			continue
		}
		keepMembers[m.Identity] = true
		if isMember[m.Identity] {
			continue
		}
		if err = g.ensureGroupContact(ctx, s, owned, *group.GroupOwner, m); err != nil {
			return err
		}
		if isPending[m.Identity] {
			if err = g.repos.GroupsV1.RemovePending(ctx, s, owned, key, m.Identity); err != nil {
				return err
			}
			delete(isPending, m.Identity)
		}
		if err = g.repos.GroupsV1.AddMember(ctx, s, owned, key, m.Identity); err != nil {
			return err
		}
	}

	keepPendings := make(map[models.Identity]bool, len(update.Pendings))
	for _, p := range update.Pendings {
		if p.Identity == owned || keepMembers[p.Identity] {
			continue
		}
		keepPendings[p.Identity] = true
		if isMember[p.Identity] {
			if err = g.repos.GroupsV1.RemoveMember(ctx, s, owned, key, p.Identity); err != nil {
				return err
			}
			delete(isMember, p.Identity)
		}
		if p.Status == "" {
			p.Status = models.PendingInvited
		}
		if err = g.repos.GroupsV1.PutPending(ctx, s, owned, key, p); err != nil {
			return err
		}
	}

	for identity := range isMember {
		if keepMembers[identity] {
			continue
		}
		if err = g.repos.GroupsV1.RemoveMember(ctx, s, owned, key, identity); err != nil {
			return err
		}
	}
	for identity := range isPending {
		if keepPendings[identity] {
			continue
		}
		if err = g.repos.GroupsV1.RemovePending(ctx, s, owned, key, identity); err != nil {
			return err
		}
	}
	return nil
}

// ensureGroupContact creates member as a contact if unknown, or adds a group
// trust origin to an existing contact.
func (g *groupV1Service) ensureGroupContact(ctx context.Context, s *store.Session, owned, groupOwner models.Identity, member models.IdentityWithDetails) error {
	origin := models.TrustOrigin{
		Type:      models.TrustOriginGroup,
		Timestamp: time.Now().UnixMilli(),
		Mediator:  &groupOwner,
	}
	_, err := g.contacts.AddContactIdentity(ctx, s, owned, member.Identity, models.Details{JSON: member.Details}, origin, false)
	return err
}

// ResetGroupMembersAndPublishedDetailsVersions rolls a joined group back to
// detailsVersion and resets its members version, so the next update sent
// by the owner is accepted.
func (g *groupV1Service) ResetGroupMembersAndPublishedDetailsVersions(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key, detailsVersion int) error {
	if err := s.RequireTransaction(); err != nil {
		return err
	}
	group, err := g.repos.GroupsV1.Get(ctx, s, owned, key)
	if err != nil || group == nil {
		return err
	}
	if group.IsOwned() {
		return ErrGroupOwnedLocally
	}

	if err = g.details.ResetPublished(ctx, s, groupV1DetailsKey(owned, key), detailsVersion); err != nil {
		return ignoreMissingTriple(err)
	}
	if err = g.repos.GroupsV1.SetMembersVersion(ctx, s, owned, key, 0); err != nil {
		return err
	}
	s.Record(store.BackupNeeded(owned))
	return nil
}

func (g *groupV1Service) GetGroupV1Details(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) (*models.DetailsTriple, error) {
	return g.details.Get(ctx, s, groupV1DetailsKey(owned, key))
}

func (g *groupV1Service) SetGroupV1LatestDetails(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key, d models.Details) error {
	group, err := g.repos.GroupsV1.Get(ctx, s, owned, key)
	if err != nil || group == nil {
		return err
	}
	if !group.IsOwned() {
		return ErrNotGroupOwner
	}
	return ignoreMissingTriple(g.details.SetLatest(ctx, s, groupV1DetailsKey(owned, key), d))
}

// PublishGroupV1Details publishes the draft of an owned group. The owner
// trusts its own details.
func (g *groupV1Service) PublishGroupV1Details(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) (int, error) {
	group, err := g.repos.GroupsV1.Get(ctx, s, owned, key)
	if err != nil || group == nil {
		return models.NoVersion, err
	}
	if !group.IsOwned() {
		return models.NoVersion, ErrNotGroupOwner
	}

	version, err := g.details.Publish(ctx, s, groupV1DetailsKey(owned, key), true)
	if err != nil {
		return models.NoVersion, ignoreMissingTriple(err)
	}
	if version != models.NoVersion {
		g.recordUpdate(s, owned, key)
	}
	return version, nil
}

func (g *groupV1Service) DiscardGroupV1LatestDetails(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) error {
	return ignoreMissingTriple(g.details.DiscardLatest(ctx, s, groupV1DetailsKey(owned, key)))
}

func (g *groupV1Service) TrustGroupV1PublishedDetails(ctx context.Context, s *store.Session, owned models.Identity, key models.GroupV1Key) (bool, error) {
	changed, err := g.details.Trust(ctx, s, groupV1DetailsKey(owned, key))
	return changed, ignoreMissingTriple(err)
}
