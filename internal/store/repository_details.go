package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/models"
)

// detailsRepository stores every details record of every kind in the
// "details" table and the version pointers in "details_versions".
type detailsRepository struct {
	logger *logger.Logger
}

func NewDetailsRepository(logger *logger.Logger) DetailsRepository {
	logger.Debug().Msg("creating details repository")
	return &detailsRepository{logger: logger}
}

func detailsKey(key models.DetailsKey) sq.Eq {
	return sq.Eq{
		"kind":           string(key.Kind),
		"owned_identity": key.OwnedIdentity.Bytes(),
		"entity_key":     key.EntityKey,
	}
}

// GetVersions returns nil when the triple does not exist.
func (r *detailsRepository) GetVersions(ctx context.Context, s *Session, key models.DetailsKey) (*models.DetailsVersions, error) {
	var v models.DetailsVersions
	found, err := s.queryRow(ctx, s.Builder().Select("latest", "published", "trusted").From("details_versions").
		Where(detailsKey(key)), &v.Latest, &v.Published, &v.Trusted)
	if err != nil || !found {
		return nil, err
	}
	return &v, nil
}

// PutVersions creates or replaces the version pointers of key.
func (r *detailsRepository) PutVersions(ctx context.Context, s *Session, key models.DetailsKey, v models.DetailsVersions) error {
	_, err := s.exec(ctx, s.Builder().Insert("details_versions").
		Columns("kind", "owned_identity", "entity_key", "latest", "published", "trusted").
		Values(string(key.Kind), key.OwnedIdentity.Bytes(), key.EntityKey, v.Latest, v.Published, v.Trusted).
		Suffix("ON CONFLICT (kind, owned_identity, entity_key) DO UPDATE SET " +
			"latest = excluded.latest, published = excluded.published, trusted = excluded.trusted"))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*detailsRepository.PutVersions").Msg("error storing details versions")
	}
	return err
}

func (r *detailsRepository) GetDetails(ctx context.Context, s *Session, key models.DetailsKey, version int) (*models.Details, error) {
	var d models.Details
	found, err := s.queryRow(ctx, s.Builder().Select("json", "photo_url", "photo_label", "photo_key").From("details").
		Where(detailsKey(key)).Where(sq.Eq{"version": version}), &d.JSON, &d.PhotoURL, &d.PhotoLabel, &d.PhotoKey)
	if err != nil || !found {
		return nil, err
	}
	return &d, nil
}

// PutDetails creates or replaces the record of one version.
func (r *detailsRepository) PutDetails(ctx context.Context, s *Session, key models.DetailsKey, version int, d models.Details) error {
	_, err := s.exec(ctx, s.Builder().Insert("details").
		Columns("kind", "owned_identity", "entity_key", "version", "json", "photo_url", "photo_label", "photo_key").
		Values(string(key.Kind), key.OwnedIdentity.Bytes(), key.EntityKey, version, d.JSON, d.PhotoURL, d.PhotoLabel, d.PhotoKey).
		Suffix("ON CONFLICT (kind, owned_identity, entity_key, version) DO UPDATE SET " +
			"json = excluded.json, photo_url = excluded.photo_url, " +
			"photo_label = excluded.photo_label, photo_key = excluded.photo_key"))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*detailsRepository.PutDetails").Msg("error storing details")
	}
	return err
}

// ListVersions returns the versions stored for key in ascending order.
func (r *detailsRepository) ListVersions(ctx context.Context, s *Session, key models.DetailsKey) ([]int, error) {
	rows, err := s.query(ctx, s.Builder().Select("version").From("details").Where(detailsKey(key)).OrderBy("version"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}

// DeleteVersionsExcept removes the records of key whose version is not in
// keep.
func (r *detailsRepository) DeleteVersionsExcept(ctx context.Context, s *Session, key models.DetailsKey, keep ...int) (int64, error) {
	q := s.Builder().Delete("details").Where(detailsKey(key))
	if len(keep) > 0 {
		q = q.Where(sq.NotEq{"version": keep})
	}
	res, err := s.exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes the triple and all its records.
func (r *detailsRepository) Delete(ctx context.Context, s *Session, key models.DetailsKey) error {
	if _, err := s.exec(ctx, s.Builder().Delete("details").Where(detailsKey(key))); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.Builder().Delete("details_versions").Where(detailsKey(key)))
	return err
}

// DeleteAllForOwned removes every triple, of every kind, of owned.
func (r *detailsRepository) DeleteAllForOwned(ctx context.Context, s *Session, owned models.Identity) error {
	if _, err := s.exec(ctx, s.Builder().Delete("details").Where(sq.Eq{"owned_identity": owned.Bytes()})); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.Builder().Delete("details_versions").Where(sq.Eq{"owned_identity": owned.Bytes()}))
	return err
}

// DeleteUnreachable removes records that none of the three pointers of their
// triple reference, including records whose triple is gone.
func (r *detailsRepository) DeleteUnreachable(ctx context.Context, s *Session) (int64, error) {
	res, err := s.exec(ctx, s.Builder().Delete("details").Where(`NOT EXISTS (
		SELECT 1 FROM details_versions v
		WHERE v.kind = details.kind
		  AND v.owned_identity = details.owned_identity
		  AND v.entity_key = details.entity_key
		  AND details.version IN (v.latest, v.published, v.trusted))`))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*detailsRepository.DeleteUnreachable").Msg("error pruning details")
		return 0, err
	}
	return res.RowsAffected()
}
