package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/models"
)

// groupV1Repository persists owner/member groups with their members and
// pending members.
type groupV1Repository struct {
	logger *logger.Logger
}

func NewGroupV1Repository(logger *logger.Logger) GroupV1Repository {
	logger.Debug().Msg("creating group v1 repository")
	return &groupV1Repository{logger: logger}
}

func groupV1Key(owned models.Identity, key models.GroupV1Key) sq.Eq {
	return sq.Eq{"owned_identity": owned.Bytes(), "group_key": key.Bytes()}
}

func (r *groupV1Repository) Insert(ctx context.Context, s *Session, g models.ContactGroup) error {
	_, err := s.exec(ctx, s.Builder().Insert("groups_v1").
		Columns("owned_identity", "group_key", "group_owner", "members_version").
		Values(g.OwnedIdentity.Bytes(), g.Key.Bytes(), optionalIdentityBytes(g.GroupOwner), g.MembersVersion))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*groupV1Repository.Insert").Msg("error inserting group")
	}
	return err
}

func (r *groupV1Repository) Get(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key) (*models.ContactGroup, error) {
	groups, err := r.list(ctx, s, groupV1Key(owned, key))
	if err != nil || len(groups) == 0 {
		return nil, err
	}
	return &groups[0], nil
}

func (r *groupV1Repository) List(ctx context.Context, s *Session, owned models.Identity) ([]models.ContactGroup, error) {
	return r.list(ctx, s, sq.Eq{"owned_identity": owned.Bytes()})
}

func (r *groupV1Repository) SetMembersVersion(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key, version int64) error {
	_, err := s.exec(ctx, s.Builder().Update("groups_v1").Set("members_version", version).Where(groupV1Key(owned, key)))
	return err
}

// Delete removes the group with its members and pending members.
func (r *groupV1Repository) Delete(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key) error {
	for _, table := range []string{"group_v1_pending_members", "group_v1_members", "groups_v1"} {
		if _, err := s.exec(ctx, s.Builder().Delete(table).Where(groupV1Key(owned, key))); err != nil {
			return err
		}
	}
	return nil
}

func (r *groupV1Repository) DeleteAll(ctx context.Context, s *Session, owned models.Identity) error {
	for _, table := range []string{"group_v1_pending_members", "group_v1_members", "groups_v1"} {
		if _, err := s.exec(ctx, s.Builder().Delete(table).Where(sq.Eq{"owned_identity": owned.Bytes()})); err != nil {
			return err
		}
	}
	return nil
}

func (r *groupV1Repository) AddMember(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key, contact models.Identity) error {
	_, err := s.exec(ctx, s.Builder().Insert("group_v1_members").
		Columns("owned_identity", "group_key", "contact_identity").
		Values(owned.Bytes(), key.Bytes(), contact.Bytes()).
		Suffix("ON CONFLICT DO NOTHING"))
	return err
}

func (r *groupV1Repository) RemoveMember(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key, contact models.Identity) error {
	_, err := s.exec(ctx, s.Builder().Delete("group_v1_members").
		Where(groupV1Key(owned, key)).Where(sq.Eq{"contact_identity": contact.Bytes()}))
	return err
}

func (r *groupV1Repository) ListMembers(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key) ([]models.Identity, error) {
	rows, err := s.query(ctx, s.Builder().Select("contact_identity").From("group_v1_members").
		Where(groupV1Key(owned, key)).OrderBy("contact_identity"))
	if err != nil {
		return nil, err
	}
	return scanIdentities(rows)
}

// IsMember reports whether contact is an active member of the group.
func (r *groupV1Repository) IsMember(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key, contact models.Identity) (bool, error) {
	return s.exists(ctx, s.Builder().Select().From("group_v1_members").
		Where(groupV1Key(owned, key)).Where(sq.Eq{"contact_identity": contact.Bytes()}))
}

// ListGroupsWithMember returns the keys of the groups of owned in which
// contact is a member.
func (r *groupV1Repository) ListGroupsWithMember(ctx context.Context, s *Session, owned, contact models.Identity) ([]models.GroupV1Key, error) {
	rows, err := s.query(ctx, s.Builder().Select("group_key").From("group_v1_members").
		Where(sq.Eq{"owned_identity": owned.Bytes(), "contact_identity": contact.Bytes()}).OrderBy("group_key"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.GroupV1Key
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		key, err := models.ParseGroupV1Key(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}

// PutPending creates or replaces a pending member.
func (r *groupV1Repository) PutPending(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key, p models.PendingMember) error {
	status := p.Status
	if status == "" {
		status = models.PendingInvited
	}
	_, err := s.exec(ctx, s.Builder().Insert("group_v1_pending_members").
		Columns("owned_identity", "group_key", "identity", "details", "status").
		Values(owned.Bytes(), key.Bytes(), p.Identity.Bytes(), p.Details, string(status)).
		Suffix("ON CONFLICT (owned_identity, group_key, identity) DO UPDATE SET " +
			"details = excluded.details, status = excluded.status"))
	return err
}

func (r *groupV1Repository) GetPending(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key, identity models.Identity) (*models.PendingMember, error) {
	pendings, err := r.listPendings(ctx, s, sq.Eq{
		"owned_identity": owned.Bytes(), "group_key": key.Bytes(), "identity": identity.Bytes(),
	})
	if err != nil || len(pendings) == 0 {
		return nil, err
	}
	return &pendings[0], nil
}

func (r *groupV1Repository) ListPendings(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key) ([]models.PendingMember, error) {
	return r.listPendings(ctx, s, groupV1Key(owned, key))
}

func (r *groupV1Repository) RemovePending(ctx context.Context, s *Session, owned models.Identity, key models.GroupV1Key, identity models.Identity) error {
	_, err := s.exec(ctx, s.Builder().Delete("group_v1_pending_members").
		Where(groupV1Key(owned, key)).Where(sq.Eq{"identity": identity.Bytes()}))
	return err
}

func (r *groupV1Repository) list(ctx context.Context, s *Session, where sq.Eq) ([]models.ContactGroup, error) {
	rows, err := s.query(ctx, s.Builder().Select("owned_identity", "group_key", "group_owner", "members_version").
		From("groups_v1").Where(where).OrderBy("group_key"))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*groupV1Repository.list").Msg("error querying groups")
		return nil, err
	}
	defer rows.Close()

	var out []models.ContactGroup
	for rows.Next() {
		var (
			owned, key, owner []byte
			g                 models.ContactGroup
		)
		if err := rows.Scan(&owned, &key, &owner, &g.MembersVersion); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		if g.OwnedIdentity, err = parseIdentity(owned); err != nil {
			return nil, err
		}
		if g.Key, err = models.ParseGroupV1Key(key); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		if g.GroupOwner, err = parseOptionalIdentity(owner); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}

func (r *groupV1Repository) listPendings(ctx context.Context, s *Session, where sq.Eq) ([]models.PendingMember, error) {
	rows, err := s.query(ctx, s.Builder().Select("identity", "details", "status").
		From("group_v1_pending_members").Where(where).OrderBy("identity"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PendingMember
	for rows.Next() {
		var (
			identity []byte
			status   string
			p        models.PendingMember
		)
		if err := rows.Scan(&identity, &p.Details, &status); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		if p.Identity, err = parseIdentity(identity); err != nil {
			return nil, err
		}
		p.Status = models.PendingStatus(status)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}

// scanIdentities drains rows holding a single identity column and closes
// them.
func scanIdentities(rows rowsScanner) ([]models.Identity, error) {
	defer rows.Close()

	var out []models.Identity
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		id, err := parseIdentity(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}
