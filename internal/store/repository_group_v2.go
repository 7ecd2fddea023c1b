package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/models"
)

// groupV2Repository persists admin-chain groups, their members and pending
// members.
type groupV2Repository struct {
	logger *logger.Logger
}

func NewGroupV2Repository(logger *logger.Logger) GroupV2Repository {
	logger.Debug().Msg("creating group v2 repository")
	return &groupV2Repository{logger: logger}
}

var groupV2Columns = []string{
	"owned_identity", "group_identifier", "version", "own_permissions", "own_invitation_nonce",
	"administrators_chain", "main_seed", "version_seed", "frozen", "update_in_progress",
	"last_modification_timestamp",
}

func groupV2Key(owned models.Identity, id models.GroupV2Identifier) sq.Eq {
	return sq.Eq{"owned_identity": owned.Bytes(), "group_identifier": id.Bytes()}
}

func (r *groupV2Repository) Insert(ctx context.Context, s *Session, g models.GroupV2) error {
	_, err := s.exec(ctx, s.Builder().Insert("groups_v2").Columns(groupV2Columns...).
		Values(g.OwnedIdentity.Bytes(), g.Identifier.Bytes(), g.Version, g.OwnPermissions.String(), g.OwnInvitationNonce,
			g.AdministratorsChain, g.BlobKeys.MainSeed, g.BlobKeys.VersionSeed, g.Frozen, g.UpdateInProgress,
			g.LastModificationTimestamp))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*groupV2Repository.Insert").Msg("error inserting group v2")
	}
	return err
}

// Update rewrites every mutable column of the group.
func (r *groupV2Repository) Update(ctx context.Context, s *Session, g models.GroupV2) error {
	_, err := s.exec(ctx, s.Builder().Update("groups_v2").SetMap(map[string]any{
		"version":                     g.Version,
		"own_permissions":             g.OwnPermissions.String(),
		"own_invitation_nonce":        g.OwnInvitationNonce,
		"administrators_chain":        g.AdministratorsChain,
		"main_seed":                   g.BlobKeys.MainSeed,
		"version_seed":                g.BlobKeys.VersionSeed,
		"frozen":                      g.Frozen,
		"update_in_progress":          g.UpdateInProgress,
		"last_modification_timestamp": g.LastModificationTimestamp,
	}).Where(groupV2Key(g.OwnedIdentity, g.Identifier)))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*groupV2Repository.Update").Msg("error updating group v2")
	}
	return err
}

func (r *groupV2Repository) Get(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier) (*models.GroupV2, error) {
	groups, err := r.list(ctx, s, groupV2Key(owned, id))
	if err != nil || len(groups) == 0 {
		return nil, err
	}
	return &groups[0], nil
}

func (r *groupV2Repository) List(ctx context.Context, s *Session, owned models.Identity) ([]models.GroupV2, error) {
	return r.list(ctx, s, sq.Eq{"owned_identity": owned.Bytes()})
}

// Delete removes the group with its members and pending members.
func (r *groupV2Repository) Delete(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier) error {
	for _, table := range []string{"group_v2_pending_members", "group_v2_members", "groups_v2"} {
		if _, err := s.exec(ctx, s.Builder().Delete(table).Where(groupV2Key(owned, id))); err != nil {
			return err
		}
	}
	return nil
}

func (r *groupV2Repository) DeleteAll(ctx context.Context, s *Session, owned models.Identity) error {
	for _, table := range []string{"group_v2_pending_members", "group_v2_members", "groups_v2"} {
		if _, err := s.exec(ctx, s.Builder().Delete(table).Where(sq.Eq{"owned_identity": owned.Bytes()})); err != nil {
			return err
		}
	}
	return nil
}

// PutMember creates or replaces an active member.
func (r *groupV2Repository) PutMember(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier, m models.GroupV2Member) error {
	_, err := s.exec(ctx, s.Builder().Insert("group_v2_members").
		Columns("owned_identity", "group_identifier", "identity", "permissions", "invitation_nonce").
		Values(owned.Bytes(), id.Bytes(), m.Identity.Bytes(), m.Permissions.String(), m.InvitationNonce).
		Suffix("ON CONFLICT (owned_identity, group_identifier, identity) DO UPDATE SET " +
			"permissions = excluded.permissions, invitation_nonce = excluded.invitation_nonce"))
	return err
}

func (r *groupV2Repository) GetMember(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier, identity models.Identity) (*models.GroupV2Member, error) {
	members, err := r.listMembers(ctx, s, sq.Eq{
		"owned_identity": owned.Bytes(), "group_identifier": id.Bytes(), "identity": identity.Bytes(),
	})
	if err != nil || len(members) == 0 {
		return nil, err
	}
	return &members[0], nil
}

func (r *groupV2Repository) ListMembers(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier) ([]models.GroupV2Member, error) {
	return r.listMembers(ctx, s, groupV2Key(owned, id))
}

func (r *groupV2Repository) RemoveMember(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier, identity models.Identity) error {
	_, err := s.exec(ctx, s.Builder().Delete("group_v2_members").
		Where(groupV2Key(owned, id)).Where(sq.Eq{"identity": identity.Bytes()}))
	return err
}

// ListGroupsWithMember returns the identifiers of the groups of owned in
// which identity is an active member.
func (r *groupV2Repository) ListGroupsWithMember(ctx context.Context, s *Session, owned, identity models.Identity) ([]models.GroupV2Identifier, error) {
	rows, err := s.query(ctx, s.Builder().Select("group_identifier").From("group_v2_members").
		Where(sq.Eq{"owned_identity": owned.Bytes(), "identity": identity.Bytes()}).OrderBy("group_identifier"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.GroupV2Identifier
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		gid, err := models.ParseGroupV2Identifier(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		out = append(out, gid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}

// PutPending creates or replaces a pending member.
func (r *groupV2Repository) PutPending(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier, p models.GroupV2PendingMember) error {
	status := p.Status
	if status == "" {
		status = models.PendingInvited
	}
	_, err := s.exec(ctx, s.Builder().Insert("group_v2_pending_members").
		Columns("owned_identity", "group_identifier", "identity", "permissions", "invitation_nonce", "details", "status").
		Values(owned.Bytes(), id.Bytes(), p.Identity.Bytes(), p.Permissions.String(), p.InvitationNonce, p.Details, string(status)).
		Suffix("ON CONFLICT (owned_identity, group_identifier, identity) DO UPDATE SET " +
			"permissions = excluded.permissions, invitation_nonce = excluded.invitation_nonce, " +
			"details = excluded.details, status = excluded.status"))
	return err
}

func (r *groupV2Repository) GetPending(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier, identity models.Identity) (*models.GroupV2PendingMember, error) {
	pendings, err := r.listPendings(ctx, s, sq.Eq{
		"owned_identity": owned.Bytes(), "group_identifier": id.Bytes(), "identity": identity.Bytes(),
	})
	if err != nil || len(pendings) == 0 {
		return nil, err
	}
	return &pendings[0], nil
}

func (r *groupV2Repository) ListPendings(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier) ([]models.GroupV2PendingMember, error) {
	return r.listPendings(ctx, s, groupV2Key(owned, id))
}

func (r *groupV2Repository) RemovePending(ctx context.Context, s *Session, owned models.Identity, id models.GroupV2Identifier, identity models.Identity) error {
	_, err := s.exec(ctx, s.Builder().Delete("group_v2_pending_members").
		Where(groupV2Key(owned, id)).Where(sq.Eq{"identity": identity.Bytes()}))
	return err
}

func (r *groupV2Repository) list(ctx context.Context, s *Session, where sq.Eq) ([]models.GroupV2, error) {
	rows, err := s.query(ctx, s.Builder().Select(groupV2Columns...).From("groups_v2").Where(where).OrderBy("group_identifier"))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*groupV2Repository.list").Msg("error querying groups v2")
		return nil, err
	}
	defer rows.Close()

	var out []models.GroupV2
	for rows.Next() {
		var (
			owned, gid  []byte
			permissions string
			g           models.GroupV2
		)
		if err := rows.Scan(&owned, &gid, &g.Version, &permissions, &g.OwnInvitationNonce, &g.AdministratorsChain,
			&g.BlobKeys.MainSeed, &g.BlobKeys.VersionSeed, &g.Frozen, &g.UpdateInProgress,
			&g.LastModificationTimestamp); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		if g.OwnedIdentity, err = parseIdentity(owned); err != nil {
			return nil, err
		}
		if g.Identifier, err = models.ParseGroupV2Identifier(gid); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		g.OwnPermissions = models.ParsePermissions(permissions)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}

func (r *groupV2Repository) listMembers(ctx context.Context, s *Session, where sq.Eq) ([]models.GroupV2Member, error) {
	rows, err := s.query(ctx, s.Builder().Select("identity", "permissions", "invitation_nonce").
		From("group_v2_members").Where(where).OrderBy("identity"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.GroupV2Member
	for rows.Next() {
		var (
			identity    []byte
			permissions string
			m           models.GroupV2Member
		)
		if err := rows.Scan(&identity, &permissions, &m.InvitationNonce); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		if m.Identity, err = parseIdentity(identity); err != nil {
			return nil, err
		}
		m.Permissions = models.ParsePermissions(permissions)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}

func (r *groupV2Repository) listPendings(ctx context.Context, s *Session, where sq.Eq) ([]models.GroupV2PendingMember, error) {
	rows, err := s.query(ctx, s.Builder().Select("identity", "permissions", "invitation_nonce", "details", "status").
		From("group_v2_pending_members").Where(where).OrderBy("identity"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.GroupV2PendingMember
	for rows.Next() {
		var (
			identity            []byte
			permissions, status string
			p                   models.GroupV2PendingMember
		)
		if err := rows.Scan(&identity, &permissions, &p.InvitationNonce, &p.Details, &status); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		if p.Identity, err = parseIdentity(identity); err != nil {
			return nil, err
		}
		p.Permissions = models.ParsePermissions(permissions)
		p.Status = models.PendingStatus(status)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}
