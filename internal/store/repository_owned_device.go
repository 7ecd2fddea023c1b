package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/models"
)

// ownedDeviceRepository persists the devices of owned identities. It owns
// the bounded owned identity → current device uid cache; every operation
// that can change the answer invalidates the entry.
type ownedDeviceRepository struct {
	logger       *logger.Logger
	currentCache *lru.Cache[models.Identity, models.UID]
}

// NewOwnedDeviceRepository constructs an [OwnedDeviceRepository] whose
// current device cache holds at most cacheSize entries.
func NewOwnedDeviceRepository(cacheSize int, logger *logger.Logger) (OwnedDeviceRepository, error) {
	logger.Debug().Int("cache_size", cacheSize).Msg("creating owned device repository")
	cache, err := lru.New[models.Identity, models.UID](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("error creating current device cache: %w", err)
	}
	return &ownedDeviceRepository{logger: logger, currentCache: cache}, nil
}

var ownedDeviceColumns = []string{
	"uid", "owned_identity", "is_current", "display_name", "expiration_timestamp", "last_registration_timestamp",
	"pre_key_id", "pre_key_expiration", "pre_key_public", "pre_key_signature",
	"capabilities", "channel_confirmed", "last_channel_ping_timestamp",
}

// Insert stores a new owned device. A uid already used by any owned device
// yields [ErrDeviceCollision].
func (r *ownedDeviceRepository) Insert(ctx context.Context, s *Session, device models.OwnedDevice) error {
	values := map[string]any{
		"uid":                         device.UID.Bytes(),
		"owned_identity":              device.OwnedIdentity.Bytes(),
		"is_current":                  device.Current,
		"display_name":                device.DisplayName,
		"expiration_timestamp":        nullInt64(device.ExpirationTimestamp),
		"last_registration_timestamp": nullInt64(device.LastRegistrationTimestamp),
		"capabilities":                nullCapabilities(device.Capabilities),
		"channel_confirmed":           device.ChannelConfirmed,
		"last_channel_ping_timestamp": device.LastChannelPingTimestamp,
	}
	for k, v := range preKeyValues(device.PreKey) {
		values[k] = v
	}

	if _, err := s.exec(ctx, s.Builder().Insert("owned_devices").SetMap(values)); err != nil {
		if errors.Is(err, ErrUniqueViolation) {
			return fmt.Errorf("%w: %w", ErrDeviceCollision, err)
		}
		logger.FromContext(ctx).Err(err).Str("func", "*ownedDeviceRepository.Insert").Msg("error inserting owned device")
		return err
	}
	if device.Current {
		r.currentCache.Remove(device.OwnedIdentity)
	}
	return nil
}

// Update rewrites every mutable column of an existing device.
func (r *ownedDeviceRepository) Update(ctx context.Context, s *Session, device models.OwnedDevice) error {
	values := map[string]any{
		"display_name":                device.DisplayName,
		"expiration_timestamp":        nullInt64(device.ExpirationTimestamp),
		"last_registration_timestamp": nullInt64(device.LastRegistrationTimestamp),
		"capabilities":                nullCapabilities(device.Capabilities),
		"channel_confirmed":           device.ChannelConfirmed,
		"last_channel_ping_timestamp": device.LastChannelPingTimestamp,
	}
	for k, v := range preKeyValues(device.PreKey) {
		values[k] = v
	}

	_, err := s.exec(ctx, s.Builder().Update("owned_devices").SetMap(values).
		Where(sq.Eq{"uid": device.UID.Bytes(), "owned_identity": device.OwnedIdentity.Bytes()}))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*ownedDeviceRepository.Update").Msg("error updating owned device")
	}
	return err
}

func (r *ownedDeviceRepository) Get(ctx context.Context, s *Session, owned models.Identity, uid models.UID) (*models.OwnedDevice, error) {
	devices, err := r.list(ctx, s, sq.Eq{"owned_identity": owned.Bytes(), "uid": uid.Bytes()})
	if err != nil || len(devices) == 0 {
		return nil, err
	}
	return &devices[0], nil
}

// FindByUID returns the device with uid whatever its owner.
func (r *ownedDeviceRepository) FindByUID(ctx context.Context, s *Session, uid models.UID) (*models.OwnedDevice, error) {
	devices, err := r.list(ctx, s, sq.Eq{"uid": uid.Bytes()})
	if err != nil || len(devices) == 0 {
		return nil, err
	}
	return &devices[0], nil
}

func (r *ownedDeviceRepository) List(ctx context.Context, s *Session, owned models.Identity) ([]models.OwnedDevice, error) {
	return r.list(ctx, s, sq.Eq{"owned_identity": owned.Bytes()})
}

// ListOther returns every device of owned except the current one.
func (r *ownedDeviceRepository) ListOther(ctx context.Context, s *Session, owned models.Identity) ([]models.OwnedDevice, error) {
	return r.list(ctx, s, sq.Eq{"owned_identity": owned.Bytes(), "is_current": false})
}

func (r *ownedDeviceRepository) Current(ctx context.Context, s *Session, owned models.Identity) (*models.OwnedDevice, error) {
	devices, err := r.list(ctx, s, sq.Eq{"owned_identity": owned.Bytes(), "is_current": true})
	if err != nil || len(devices) == 0 {
		return nil, err
	}
	return &devices[0], nil
}

// CurrentUID returns the current device uid of owned, served from the cache
// when possible.
func (r *ownedDeviceRepository) CurrentUID(ctx context.Context, s *Session, owned models.Identity) (models.UID, bool, error) {
	if uid, ok := r.currentCache.Get(owned); ok {
		return uid, true, nil
	}

	var raw []byte
	found, err := s.queryRow(ctx, s.Builder().Select("uid").From("owned_devices").
		Where(sq.Eq{"owned_identity": owned.Bytes(), "is_current": true}), &raw)
	if err != nil || !found {
		return models.UID{}, false, err
	}

	uid, err := parseUID(raw)
	if err != nil {
		return models.UID{}, false, err
	}
	r.currentCache.Add(owned, uid)
	return uid, true, nil
}

func (r *ownedDeviceRepository) Delete(ctx context.Context, s *Session, owned models.Identity, uid models.UID) error {
	_, err := s.exec(ctx, s.Builder().Delete("owned_devices").
		Where(sq.Eq{"owned_identity": owned.Bytes(), "uid": uid.Bytes()}))
	if err == nil {
		r.currentCache.Remove(owned)
	}
	return err
}

// DeleteAll removes every device of owned and invalidates the cache entry.
func (r *ownedDeviceRepository) DeleteAll(ctx context.Context, s *Session, owned models.Identity) error {
	_, err := s.exec(ctx, s.Builder().Delete("owned_devices").Where(sq.Eq{"owned_identity": owned.Bytes()}))
	r.InvalidateCurrent(owned)
	return err
}

// InvalidateCurrent drops the cached current device of owned.
func (r *ownedDeviceRepository) InvalidateCurrent(owned models.Identity) {
	r.currentCache.Remove(owned)
}

// ClearExpiredPreKeys removes the pre-keys of owned devices expiring before
// timestamp and returns how many were cleared.
func (r *ownedDeviceRepository) ClearExpiredPreKeys(ctx context.Context, s *Session, owned models.Identity, timestamp int64) (int64, error) {
	res, err := s.exec(ctx, s.Builder().Update("owned_devices").SetMap(preKeyValues(nil)).
		Where(sq.Eq{"owned_identity": owned.Bytes()}).
		Where(sq.NotEq{"pre_key_id": nil}).
		Where(sq.Lt{"pre_key_expiration": timestamp}))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ownedDeviceRepository) list(ctx context.Context, s *Session, where sq.Eq) ([]models.OwnedDevice, error) {
	rows, err := s.query(ctx, s.Builder().Select(ownedDeviceColumns...).From("owned_devices").Where(where).OrderBy("uid"))
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*ownedDeviceRepository.list").Msg("error querying owned devices")
		return nil, err
	}
	defer rows.Close()

	var out []models.OwnedDevice
	for rows.Next() {
		var (
			uid, ownedIdentity []byte
			expiration, reg    sql.NullInt64
			caps               sql.NullString
			preKey             preKeyColumns
			device             models.OwnedDevice
		)
		dest := []any{&uid, &ownedIdentity, &device.Current, &device.DisplayName, &expiration, &reg}
		dest = append(dest, preKey.dest()...)
		dest = append(dest, &caps, &device.ChannelConfirmed, &device.LastChannelPingTimestamp)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}

		if device.UID, err = parseUID(uid); err != nil {
			return nil, err
		}
		if device.OwnedIdentity, err = parseIdentity(ownedIdentity); err != nil {
			return nil, err
		}
		if device.PreKey, err = preKey.toPreKey(device.UID); err != nil {
			return nil, err
		}
		device.ExpirationTimestamp = int64Ptr(expiration)
		device.LastRegistrationTimestamp = int64Ptr(reg)
		device.Capabilities = capabilitiesPtr(caps)
		out = append(out, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}
