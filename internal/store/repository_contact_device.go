package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/models"
)

// contactDeviceRepository persists the devices of contacts. Device uids are
// unique per owned identity.
type contactDeviceRepository struct {
	logger *logger.Logger
}

func NewContactDeviceRepository(logger *logger.Logger) ContactDeviceRepository {
	logger.Debug().Msg("creating contact device repository")
	return &contactDeviceRepository{logger: logger}
}

var contactDeviceColumns = []string{
	"owned_identity", "contact_identity", "uid",
	"pre_key_id", "pre_key_expiration", "pre_key_public", "pre_key_signature",
	"capabilities", "channel_confirmed", "last_channel_ping_timestamp",
}

// Insert stores a contact device. A uid already attached to another contact
// of the same owned identity yields [ErrDeviceCollision].
func (r *contactDeviceRepository) Insert(ctx context.Context, s *Session, d models.ContactDevice) error {
	values := map[string]any{
		"owned_identity":              d.OwnedIdentity.Bytes(),
		"contact_identity":            d.ContactIdentity.Bytes(),
		"uid":                         d.UID.Bytes(),
		"capabilities":                nullCapabilities(d.Capabilities),
		"channel_confirmed":           d.ChannelConfirmed,
		"last_channel_ping_timestamp": d.LastChannelPingTimestamp,
	}
	for k, v := range preKeyValues(d.PreKey) {
		values[k] = v
	}

	if _, err := s.exec(ctx, s.Builder().Insert("contact_devices").SetMap(values)); err != nil {
		if errors.Is(err, ErrUniqueViolation) {
			return fmt.Errorf("%w: %w", ErrDeviceCollision, err)
		}
		logger.FromContext(ctx).Err(err).Str("func", "*contactDeviceRepository.Insert").Msg("error inserting contact device")
		return err
	}
	return nil
}

func (r *contactDeviceRepository) Update(ctx context.Context, s *Session, d models.ContactDevice) error {
	values := map[string]any{
		"capabilities":                nullCapabilities(d.Capabilities),
		"channel_confirmed":           d.ChannelConfirmed,
		"last_channel_ping_timestamp": d.LastChannelPingTimestamp,
	}
	for k, v := range preKeyValues(d.PreKey) {
		values[k] = v
	}

	_, err := s.exec(ctx, s.Builder().Update("contact_devices").SetMap(values).
		Where(sq.Eq{"owned_identity": d.OwnedIdentity.Bytes(), "contact_identity": d.ContactIdentity.Bytes(), "uid": d.UID.Bytes()}))
	return err
}

func (r *contactDeviceRepository) Get(ctx context.Context, s *Session, owned, contact models.Identity, uid models.UID) (*models.ContactDevice, error) {
	devices, err := r.list(ctx, s, sq.Eq{"owned_identity": owned.Bytes(), "contact_identity": contact.Bytes(), "uid": uid.Bytes()})
	if err != nil || len(devices) == 0 {
		return nil, err
	}
	return &devices[0], nil
}

func (r *contactDeviceRepository) List(ctx context.Context, s *Session, owned, contact models.Identity) ([]models.ContactDevice, error) {
	return r.list(ctx, s, contactKey(owned, contact))
}

func (r *contactDeviceRepository) ListAll(ctx context.Context, s *Session, owned models.Identity) ([]models.ContactDevice, error) {
	return r.list(ctx, s, sq.Eq{"owned_identity": owned.Bytes()})
}

func (r *contactDeviceRepository) Delete(ctx context.Context, s *Session, owned, contact models.Identity, uid models.UID) error {
	_, err := s.exec(ctx, s.Builder().Delete("contact_devices").
		Where(sq.Eq{"owned_identity": owned.Bytes(), "contact_identity": contact.Bytes(), "uid": uid.Bytes()}))
	return err
}

func (r *contactDeviceRepository) DeleteForContact(ctx context.Context, s *Session, owned, contact models.Identity) error {
	_, err := s.exec(ctx, s.Builder().Delete("contact_devices").Where(contactKey(owned, contact)))
	return err
}

func (r *contactDeviceRepository) DeleteAll(ctx context.Context, s *Session, owned models.Identity) error {
	_, err := s.exec(ctx, s.Builder().Delete("contact_devices").Where(sq.Eq{"owned_identity": owned.Bytes()}))
	return err
}

// ClearExpiredPreKeys removes the contact pre-keys of owned expiring before
// timestamp.
func (r *contactDeviceRepository) ClearExpiredPreKeys(ctx context.Context, s *Session, owned models.Identity, timestamp int64) (int64, error) {
	res, err := s.exec(ctx, s.Builder().Update("contact_devices").SetMap(preKeyValues(nil)).
		Where(sq.Eq{"owned_identity": owned.Bytes()}).
		Where(sq.NotEq{"pre_key_id": nil}).
		Where(sq.Lt{"pre_key_expiration": timestamp}))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *contactDeviceRepository) list(ctx context.Context, s *Session, where sq.Eq) ([]models.ContactDevice, error) {
	rows, err := s.query(ctx, s.Builder().Select(contactDeviceColumns...).From("contact_devices").Where(where).
		OrderBy("contact_identity", "uid"))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*contactDeviceRepository.list").Msg("error querying contact devices")
		return nil, err
	}
	defer rows.Close()

	var out []models.ContactDevice
	for rows.Next() {
		var (
			owned, contact, uid []byte
			caps                sql.NullString
			preKey              preKeyColumns
			d                   models.ContactDevice
		)
		dest := []any{&owned, &contact, &uid}
		dest = append(dest, preKey.dest()...)
		dest = append(dest, &caps, &d.ChannelConfirmed, &d.LastChannelPingTimestamp)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}

		if d.OwnedIdentity, err = parseIdentity(owned); err != nil {
			return nil, err
		}
		if d.ContactIdentity, err = parseIdentity(contact); err != nil {
			return nil, err
		}
		if d.UID, err = parseUID(uid); err != nil {
			return nil, err
		}
		if d.PreKey, err = preKey.toPreKey(d.UID); err != nil {
			return nil, err
		}
		d.Capabilities = capabilitiesPtr(caps)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}
