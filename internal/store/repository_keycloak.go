package store

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/models"
)

// keycloakRepository persists keycloak bindings and the revocations received
// from them.
type keycloakRepository struct {
	logger *logger.Logger
}

func NewKeycloakRepository(logger *logger.Logger) KeycloakRepository {
	logger.Debug().Msg("creating keycloak repository")
	return &keycloakRepository{logger: logger}
}

var keycloakServerColumns = []string{
	"owned_identity", "server_url", "signature_key", "jwks", "client_id", "client_secret", "keycloak_user_id",
	"push_topics", "latest_revocation_list_timestamp", "latest_group_update_timestamp", "transfer_restricted",
	"self_revocation_test_nonce",
}

// PutServer creates or replaces the binding of an owned identity.
func (r *keycloakRepository) PutServer(ctx context.Context, s *Session, k models.KeycloakServer) error {
	_, err := s.exec(ctx, s.Builder().Insert("keycloak_servers").Columns(keycloakServerColumns...).
		Values(k.OwnedIdentity.Bytes(), k.ServerURL, k.SignatureKey, k.JWKS, k.ClientID, k.ClientSecret, k.KeycloakUserID,
			strings.Join(k.PushTopics, ","), k.LatestRevocationListTimestamp, k.LatestGroupUpdateTimestamp,
			k.TransferRestricted, k.SelfRevocationTestNonce).
		Suffix("ON CONFLICT (owned_identity) DO UPDATE SET " +
			"server_url = excluded.server_url, signature_key = excluded.signature_key, jwks = excluded.jwks, " +
			"client_id = excluded.client_id, client_secret = excluded.client_secret, " +
			"keycloak_user_id = excluded.keycloak_user_id, push_topics = excluded.push_topics, " +
			"latest_revocation_list_timestamp = excluded.latest_revocation_list_timestamp, " +
			"latest_group_update_timestamp = excluded.latest_group_update_timestamp, " +
			"transfer_restricted = excluded.transfer_restricted, " +
			"self_revocation_test_nonce = excluded.self_revocation_test_nonce"))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*keycloakRepository.PutServer").Msg("error storing keycloak server")
	}
	return err
}

func (r *keycloakRepository) GetServer(ctx context.Context, s *Session, owned models.Identity) (*models.KeycloakServer, error) {
	var (
		ownedRaw   []byte
		pushTopics string
		k          models.KeycloakServer
	)
	found, err := s.queryRow(ctx, s.Builder().Select(keycloakServerColumns...).From("keycloak_servers").
		Where(sq.Eq{"owned_identity": owned.Bytes()}),
		&ownedRaw, &k.ServerURL, &k.SignatureKey, &k.JWKS, &k.ClientID, &k.ClientSecret, &k.KeycloakUserID,
		&pushTopics, &k.LatestRevocationListTimestamp, &k.LatestGroupUpdateTimestamp, &k.TransferRestricted,
		&k.SelfRevocationTestNonce)
	if err != nil || !found {
		return nil, err
	}
	if k.OwnedIdentity, err = parseIdentity(ownedRaw); err != nil {
		return nil, err
	}
	if pushTopics != "" {
		k.PushTopics = strings.Split(pushTopics, ",")
	}
	return &k, nil
}

func (r *keycloakRepository) DeleteServer(ctx context.Context, s *Session, owned models.Identity) error {
	_, err := s.exec(ctx, s.Builder().Delete("keycloak_servers").Where(sq.Eq{"owned_identity": owned.Bytes()}))
	return err
}

// AddRevocation stores a revocation. Storing the same revocation twice is a
// no-op. It reports whether a row was inserted.
func (r *keycloakRepository) AddRevocation(ctx context.Context, s *Session, rev models.KeycloakRevokedIdentity) (bool, error) {
	res, err := s.exec(ctx, s.Builder().Insert("keycloak_revoked_identities").
		Columns("owned_identity", "server_url", "identity", "type", "revocation_timestamp").
		Values(rev.OwnedIdentity.Bytes(), rev.ServerURL, rev.Identity.Bytes(), int(rev.Type), rev.RevocationTimestamp).
		Suffix("ON CONFLICT DO NOTHING"))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*keycloakRepository.AddRevocation").Msg("error storing revocation")
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListRevocations returns the revocations of identity known by owned on
// server, most recent first.
func (r *keycloakRepository) ListRevocations(ctx context.Context, s *Session, owned models.Identity, server string, identity models.Identity) ([]models.KeycloakRevokedIdentity, error) {
	return r.listRevocations(ctx, s, sq.Eq{
		"owned_identity": owned.Bytes(), "server_url": server, "identity": identity.Bytes(),
	})
}

// ListAllRevocations returns every revocation of owned.
func (r *keycloakRepository) ListAllRevocations(ctx context.Context, s *Session, owned models.Identity) ([]models.KeycloakRevokedIdentity, error) {
	return r.listRevocations(ctx, s, sq.Eq{"owned_identity": owned.Bytes()})
}

// PruneRevocations drops revocations of owned older than timestamp.
func (r *keycloakRepository) PruneRevocations(ctx context.Context, s *Session, owned models.Identity, timestamp int64) (int64, error) {
	res, err := s.exec(ctx, s.Builder().Delete("keycloak_revoked_identities").
		Where(sq.Eq{"owned_identity": owned.Bytes()}).
		Where(sq.Lt{"revocation_timestamp": timestamp}))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *keycloakRepository) DeleteRevocations(ctx context.Context, s *Session, owned models.Identity) error {
	_, err := s.exec(ctx, s.Builder().Delete("keycloak_revoked_identities").Where(sq.Eq{"owned_identity": owned.Bytes()}))
	return err
}

func (r *keycloakRepository) listRevocations(ctx context.Context, s *Session, where sq.Eq) ([]models.KeycloakRevokedIdentity, error) {
	rows, err := s.query(ctx, s.Builder().Select("owned_identity", "server_url", "identity", "type", "revocation_timestamp").
		From("keycloak_revoked_identities").Where(where).OrderBy("revocation_timestamp DESC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.KeycloakRevokedIdentity
	for rows.Next() {
		var (
			owned, identity []byte
			revocationType  int
			rev             models.KeycloakRevokedIdentity
		)
		if err := rows.Scan(&owned, &rev.ServerURL, &identity, &revocationType, &rev.RevocationTimestamp); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		if rev.OwnedIdentity, err = parseIdentity(owned); err != nil {
			return nil, err
		}
		if rev.Identity, err = parseIdentity(identity); err != nil {
			return nil, err
		}
		rev.Type = models.RevocationType(revocationType)
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}
