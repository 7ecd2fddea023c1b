package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/models"
)

// preKeyMaterialRepository keeps the private halves of pre-keys generated for
// current devices until they expire.
type preKeyMaterialRepository struct {
	logger *logger.Logger
}

func NewPreKeyMaterialRepository(logger *logger.Logger) PreKeyMaterialRepository {
	logger.Debug().Msg("creating pre-key material repository")
	return &preKeyMaterialRepository{logger: logger}
}

var preKeyMaterialColumns = []string{"key_id", "owned_identity", "expiration_timestamp", "private_key", "public_key"}

func (r *preKeyMaterialRepository) Insert(ctx context.Context, s *Session, m models.PreKeyMaterial) error {
	_, err := s.exec(ctx, s.Builder().Insert("pre_key_materials").Columns(preKeyMaterialColumns...).
		Values(m.KeyID.Bytes(), m.OwnedIdentity.Bytes(), m.ExpirationTimestamp, m.PrivateKey[:], m.PublicKey[:]))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*preKeyMaterialRepository.Insert").Msg("error inserting pre-key material")
	}
	return err
}

func (r *preKeyMaterialRepository) Get(ctx context.Context, s *Session, owned models.Identity, keyID models.UID) (*models.PreKeyMaterial, error) {
	out, err := r.list(ctx, s, sq.Eq{"owned_identity": owned.Bytes(), "key_id": keyID.Bytes()})
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

func (r *preKeyMaterialRepository) List(ctx context.Context, s *Session, owned models.Identity) ([]models.PreKeyMaterial, error) {
	return r.list(ctx, s, sq.Eq{"owned_identity": owned.Bytes()})
}

// DeleteExpired removes materials that expired before timestamp, for every
// owned identity.
func (r *preKeyMaterialRepository) DeleteExpired(ctx context.Context, s *Session, timestamp int64) (int64, error) {
	res, err := s.exec(ctx, s.Builder().Delete("pre_key_materials").Where(sq.Lt{"expiration_timestamp": timestamp}))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *preKeyMaterialRepository) DeleteAll(ctx context.Context, s *Session, owned models.Identity) error {
	_, err := s.exec(ctx, s.Builder().Delete("pre_key_materials").Where(sq.Eq{"owned_identity": owned.Bytes()}))
	return err
}

func (r *preKeyMaterialRepository) list(ctx context.Context, s *Session, where sq.Eq) ([]models.PreKeyMaterial, error) {
	rows, err := s.query(ctx, s.Builder().Select(preKeyMaterialColumns...).From("pre_key_materials").Where(where).
		OrderBy("expiration_timestamp"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PreKeyMaterial
	for rows.Next() {
		var (
			keyID, owned, priv, pub []byte
			m                       models.PreKeyMaterial
		)
		if err := rows.Scan(&keyID, &owned, &m.ExpirationTimestamp, &priv, &pub); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		if m.KeyID, err = parseUID(keyID); err != nil {
			return nil, err
		}
		if m.OwnedIdentity, err = parseIdentity(owned); err != nil {
			return nil, err
		}
		if len(priv) != models.KeySize || len(pub) != models.KeySize {
			return nil, fmt.Errorf("%w: malformed pre-key material", ErrScanningRows)
		}
		copy(m.PrivateKey[:], priv)
		copy(m.PublicKey[:], pub)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}
