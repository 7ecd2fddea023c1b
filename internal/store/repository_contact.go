package store

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/models"
)

// contactRepository persists contact identities together with their
// append-only trust origins.
type contactRepository struct {
	logger *logger.Logger
}

func NewContactRepository(logger *logger.Logger) ContactRepository {
	logger.Debug().Msg("creating contact repository")
	return &contactRepository{logger: logger}
}

var contactColumns = []string{
	"owned_identity", "contact_identity", "active", "one_to_one", "forcefully_trusted",
	"revoked_as_compromised", "certified", "certified_timestamp", "recently_online",
}

// Insert stores the contact row and its trust origins.
func (r *contactRepository) Insert(ctx context.Context, s *Session, c models.ContactIdentity) error {
	_, err := s.exec(ctx, s.Builder().Insert("contact_identities").Columns(contactColumns...).
		Values(c.OwnedIdentity.Bytes(), c.ContactIdentity.Bytes(), c.Active, int(c.OneToOne), c.ForcefullyTrustedByUser,
			c.RevokedAsCompromised, c.Certified, c.CertifiedTimestamp, c.RecentlyOnline))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*contactRepository.Insert").Msg("error inserting contact")
		return err
	}

	for _, origin := range c.TrustOrigins {
		if err := r.AddTrustOrigin(ctx, s, c.OwnedIdentity, c.ContactIdentity, origin); err != nil {
			return err
		}
	}
	return nil
}

// Update rewrites the contact flags. Trust origins are append-only and
// untouched.
func (r *contactRepository) Update(ctx context.Context, s *Session, c models.ContactIdentity) error {
	_, err := s.exec(ctx, s.Builder().Update("contact_identities").SetMap(map[string]any{
		"active":                 c.Active,
		"one_to_one":             int(c.OneToOne),
		"forcefully_trusted":     c.ForcefullyTrustedByUser,
		"revoked_as_compromised": c.RevokedAsCompromised,
		"certified":              c.Certified,
		"certified_timestamp":    c.CertifiedTimestamp,
		"recently_online":        c.RecentlyOnline,
	}).Where(contactKey(c.OwnedIdentity, c.ContactIdentity)))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*contactRepository.Update").Msg("error updating contact")
	}
	return err
}

func (r *contactRepository) Get(ctx context.Context, s *Session, owned, contact models.Identity) (*models.ContactIdentity, error) {
	contacts, err := r.list(ctx, s, contactKey(owned, contact))
	if err != nil || len(contacts) == 0 {
		return nil, err
	}

	c := &contacts[0]
	if c.TrustOrigins, err = r.ListTrustOrigins(ctx, s, owned, contact); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *contactRepository) Exists(ctx context.Context, s *Session, owned, contact models.Identity) (bool, error) {
	return s.exists(ctx, s.Builder().Select().From("contact_identities").Where(contactKey(owned, contact)))
}

// List returns the contacts of owned with their trust origins.
func (r *contactRepository) List(ctx context.Context, s *Session, owned models.Identity) ([]models.ContactIdentity, error) {
	contacts, err := r.list(ctx, s, sq.Eq{"owned_identity": owned.Bytes()})
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		if contacts[i].TrustOrigins, err = r.ListTrustOrigins(ctx, s, owned, contacts[i].ContactIdentity); err != nil {
			return nil, err
		}
	}
	return contacts, nil
}

// ListByIdentity returns every contact row, across owned identities, for
// contact. Trust origins are not loaded.
func (r *contactRepository) ListByIdentity(ctx context.Context, s *Session, contact models.Identity) ([]models.ContactIdentity, error) {
	return r.list(ctx, s, sq.Eq{"contact_identity": contact.Bytes()})
}

func (r *contactRepository) Delete(ctx context.Context, s *Session, owned, contact models.Identity) error {
	if _, err := s.exec(ctx, s.Builder().Delete("trust_origins").Where(contactKey(owned, contact))); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.Builder().Delete("contact_identities").Where(contactKey(owned, contact)))
	return err
}

func (r *contactRepository) DeleteAll(ctx context.Context, s *Session, owned models.Identity) error {
	if _, err := s.exec(ctx, s.Builder().Delete("trust_origins").Where(sq.Eq{"owned_identity": owned.Bytes()})); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.Builder().Delete("contact_identities").Where(sq.Eq{"owned_identity": owned.Bytes()}))
	return err
}

func (r *contactRepository) AddTrustOrigin(ctx context.Context, s *Session, owned, contact models.Identity, origin models.TrustOrigin) error {
	var groupIdentifier []byte
	if origin.GroupIdentifier != nil {
		groupIdentifier = origin.GroupIdentifier.Bytes()
	}

	_, err := s.exec(ctx, s.Builder().Insert("trust_origins").
		Columns("owned_identity", "contact_identity", "type", "timestamp", "mediator", "keycloak_server", "group_identifier").
		Values(owned.Bytes(), contact.Bytes(), string(origin.Type), origin.Timestamp,
			optionalIdentityBytes(origin.Mediator), origin.KeycloakServer, groupIdentifier))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*contactRepository.AddTrustOrigin").Msg("error inserting trust origin")
	}
	return err
}

// ListTrustOrigins returns the origins of a contact in insertion order.
func (r *contactRepository) ListTrustOrigins(ctx context.Context, s *Session, owned, contact models.Identity) ([]models.TrustOrigin, error) {
	rows, err := s.query(ctx, s.Builder().
		Select("type", "timestamp", "mediator", "keycloak_server", "group_identifier").
		From("trust_origins").Where(contactKey(owned, contact)).OrderBy("id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TrustOrigin
	for rows.Next() {
		var (
			originType                string
			mediator, groupIdentifier []byte
			origin                    models.TrustOrigin
		)
		if err := rows.Scan(&originType, &origin.Timestamp, &mediator, &origin.KeycloakServer, &groupIdentifier); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		origin.Type = models.TrustOriginType(originType)
		if origin.Mediator, err = parseOptionalIdentity(mediator); err != nil {
			return nil, err
		}
		if len(groupIdentifier) > 0 {
			gid, err := models.ParseGroupV2Identifier(groupIdentifier)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
			}
			origin.GroupIdentifier = &gid
		}
		out = append(out, origin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}

func (r *contactRepository) list(ctx context.Context, s *Session, where sq.Eq) ([]models.ContactIdentity, error) {
	rows, err := s.query(ctx, s.Builder().Select(contactColumns...).From("contact_identities").Where(where).
		OrderBy("contact_identity"))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*contactRepository.list").Msg("error querying contacts")
		return nil, err
	}
	defer rows.Close()

	var out []models.ContactIdentity
	for rows.Next() {
		var (
			owned, contact []byte
			oneToOne       sql.NullInt64
			c              models.ContactIdentity
		)
		if err := rows.Scan(&owned, &contact, &c.Active, &oneToOne, &c.ForcefullyTrustedByUser,
			&c.RevokedAsCompromised, &c.Certified, &c.CertifiedTimestamp, &c.RecentlyOnline); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		if c.OwnedIdentity, err = parseIdentity(owned); err != nil {
			return nil, err
		}
		if c.ContactIdentity, err = parseIdentity(contact); err != nil {
			return nil, err
		}
		c.OneToOne = models.OneToOne(oneToOne.Int64)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}

func contactKey(owned, contact models.Identity) sq.Eq {
	return sq.Eq{"owned_identity": owned.Bytes(), "contact_identity": contact.Bytes()}
}
