package store

import (
	"context"
	"crypto/ed25519"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/models"
)

// ownedIdentityRepository persists owned identities and their private keys
// in the "owned_identities" table.
type ownedIdentityRepository struct {
	logger *logger.Logger
}

// NewOwnedIdentityRepository constructs an [OwnedIdentityRepository].
func NewOwnedIdentityRepository(logger *logger.Logger) OwnedIdentityRepository {
	logger.Debug().Msg("creating owned identity repository")
	return &ownedIdentityRepository{logger: logger}
}

var ownedIdentityColumns = []string{"identity", "private_sign_key", "private_enc_key", "active", "keycloak_server_url"}

func (r *ownedIdentityRepository) Insert(ctx context.Context, s *Session, owned models.OwnedIdentity) error {
	q := s.Builder().Insert("owned_identities").
		Columns("identity", "server", "private_sign_key", "private_enc_key", "active", "keycloak_server_url").
		Values(owned.Identity.Bytes(), owned.Identity.Server, []byte(owned.PrivateIdentity.SignKey), owned.PrivateIdentity.EncKey[:], owned.Active, owned.KeycloakServerURL)

	if _, err := s.exec(ctx, q); err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*ownedIdentityRepository.Insert").Msg("error inserting owned identity")
		return err
	}
	return nil
}

func (r *ownedIdentityRepository) Get(ctx context.Context, s *Session, identity models.Identity) (*models.OwnedIdentity, error) {
	rows, err := s.query(ctx, s.Builder().Select(ownedIdentityColumns...).From("owned_identities").
		Where(sq.Eq{"identity": identity.Bytes()}))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*ownedIdentityRepository.Get").Msg("error querying owned identity")
		return nil, err
	}

	owned, err := scanOwnedIdentities(rows)
	if err != nil || len(owned) == 0 {
		return nil, err
	}
	return &owned[0], nil
}

func (r *ownedIdentityRepository) List(ctx context.Context, s *Session) ([]models.OwnedIdentity, error) {
	rows, err := s.query(ctx, s.Builder().Select(ownedIdentityColumns...).From("owned_identities").OrderBy("identity"))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*ownedIdentityRepository.List").Msg("error querying owned identities")
		return nil, err
	}
	return scanOwnedIdentities(rows)
}

func (r *ownedIdentityRepository) Exists(ctx context.Context, s *Session, identity models.Identity) (bool, error) {
	return s.exists(ctx, s.Builder().Select().From("owned_identities").Where(sq.Eq{"identity": identity.Bytes()}))
}

func (r *ownedIdentityRepository) Count(ctx context.Context, s *Session) (int, error) {
	var n int
	if _, err := s.queryRow(ctx, s.Builder().Select("COUNT(*)").From("owned_identities"), &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *ownedIdentityRepository) SetActive(ctx context.Context, s *Session, identity models.Identity, active bool) error {
	_, err := s.exec(ctx, s.Builder().Update("owned_identities").
		Set("active", active).
		Where(sq.Eq{"identity": identity.Bytes()}))
	return err
}

func (r *ownedIdentityRepository) SetKeycloakServerURL(ctx context.Context, s *Session, identity models.Identity, serverURL string) error {
	_, err := s.exec(ctx, s.Builder().Update("owned_identities").
		Set("keycloak_server_url", serverURL).
		Where(sq.Eq{"identity": identity.Bytes()}))
	return err
}

func (r *ownedIdentityRepository) Delete(ctx context.Context, s *Session, identity models.Identity) error {
	_, err := s.exec(ctx, s.Builder().Delete("owned_identities").Where(sq.Eq{"identity": identity.Bytes()}))
	return err
}

func scanOwnedIdentities(rows rowsScanner) ([]models.OwnedIdentity, error) {
	defer rows.Close()

	var out []models.OwnedIdentity
	for rows.Next() {
		var (
			identity, signKey, encKey []byte
			owned                     models.OwnedIdentity
		)
		if err := rows.Scan(&identity, &signKey, &encKey, &owned.Active, &owned.KeycloakServerURL); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}

		id, err := parseIdentity(identity)
		if err != nil {
			return nil, err
		}
		if len(signKey) != ed25519.PrivateKeySize || len(encKey) != models.KeySize {
			return nil, fmt.Errorf("%w: malformed private keys", ErrScanningRows)
		}
		owned.Identity = id
		owned.PrivateIdentity.SignKey = ed25519.PrivateKey(signKey)
		copy(owned.PrivateIdentity.EncKey[:], encKey)
		out = append(out, owned)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}
