package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/models"
)

type serverUserDataRepository struct {
	logger *logger.Logger
}

func NewServerUserDataRepository(logger *logger.Logger) ServerUserDataRepository {
	logger.Debug().Msg("creating server user data repository")
	return &serverUserDataRepository{logger: logger}
}

func (r *serverUserDataRepository) Put(ctx context.Context, s *Session, d models.ServerUserData) error {
	var gid []byte
	if d.GroupIdentifier != nil {
		gid = d.GroupIdentifier.Bytes()
	}
	_, err := s.exec(ctx, s.Builder().Insert("server_user_data").
		Columns("owned_identity", "label", "next_refresh_timestamp", "group_identifier").
		Values(d.OwnedIdentity.Bytes(), d.Label, d.NextRefreshTimestamp, gid).
		Suffix("ON CONFLICT (owned_identity, label) DO UPDATE SET " +
			"next_refresh_timestamp = excluded.next_refresh_timestamp, group_identifier = excluded.group_identifier"))
	return err
}

func (r *serverUserDataRepository) Get(ctx context.Context, s *Session, owned models.Identity, label []byte) (*models.ServerUserData, error) {
	out, err := r.list(ctx, s, sq.Eq{"owned_identity": owned.Bytes(), "label": label})
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

func (r *serverUserDataRepository) List(ctx context.Context, s *Session, owned models.Identity) ([]models.ServerUserData, error) {
	return r.list(ctx, s, sq.Eq{"owned_identity": owned.Bytes()})
}

// ListAll returns the user data of every owned identity.
func (r *serverUserDataRepository) ListAll(ctx context.Context, s *Session) ([]models.ServerUserData, error) {
	return r.list(ctx, s, sq.Eq{})
}

// ListToRefresh returns the entries whose refresh is due at timestamp.
func (r *serverUserDataRepository) ListToRefresh(ctx context.Context, s *Session, timestamp int64) ([]models.ServerUserData, error) {
	return r.list(ctx, s, sq.LtOrEq{"next_refresh_timestamp": timestamp})
}

func (r *serverUserDataRepository) Delete(ctx context.Context, s *Session, owned models.Identity, label []byte) error {
	_, err := s.exec(ctx, s.Builder().Delete("server_user_data").Where(sq.Eq{"owned_identity": owned.Bytes(), "label": label}))
	return err
}

func (r *serverUserDataRepository) DeleteAll(ctx context.Context, s *Session, owned models.Identity) error {
	_, err := s.exec(ctx, s.Builder().Delete("server_user_data").Where(sq.Eq{"owned_identity": owned.Bytes()}))
	return err
}

func (r *serverUserDataRepository) list(ctx context.Context, s *Session, where sq.Sqlizer) ([]models.ServerUserData, error) {
	rows, err := s.query(ctx, s.Builder().Select("owned_identity", "label", "next_refresh_timestamp", "group_identifier").
		From("server_user_data").Where(where).OrderBy("owned_identity", "label"))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*serverUserDataRepository.list").Msg("error querying server user data")
		return nil, err
	}
	defer rows.Close()

	var out []models.ServerUserData
	for rows.Next() {
		var (
			owned, gid []byte
			d          models.ServerUserData
		)
		if err := rows.Scan(&owned, &d.Label, &d.NextRefreshTimestamp, &gid); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		if d.OwnedIdentity, err = parseIdentity(owned); err != nil {
			return nil, err
		}
		if len(gid) > 0 {
			parsed, err := models.ParseGroupV2Identifier(gid)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
			}
			d.GroupIdentifier = &parsed
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}
