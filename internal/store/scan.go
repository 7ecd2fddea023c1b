package store

import (
	"database/sql"
	"fmt"

	"github.com/MKhiriev/go-trust-engine/models"
)

func parseIdentity(b []byte) (models.Identity, error) {
	id, err := models.ParseIdentity(b)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	return id, nil
}

func parseOptionalIdentity(b []byte) (*models.Identity, error) {
	if len(b) == 0 {
		return nil, nil
	}
	id, err := parseIdentity(b)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func optionalIdentityBytes(id *models.Identity) []byte {
	if id == nil {
		return nil
	}
	return id.Bytes()
}

func parseUID(b []byte) (models.UID, error) {
	uid, err := models.ParseUID(b)
	if err != nil {
		return models.UID{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	return uid, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}

func nullCapabilities(c *models.Capabilities) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: c.String(), Valid: true}
}

func capabilitiesPtr(v sql.NullString) *models.Capabilities {
	if !v.Valid {
		return nil
	}
	c := models.ParseCapabilities(v.String)
	return &c
}

// preKeyColumns holds the four nullable pre-key columns shared by owned and
// contact device rows.
type preKeyColumns struct {
	ID         []byte
	Expiration sql.NullInt64
	Public     []byte
	Signature  []byte
}

func (p *preKeyColumns) dest() []any {
	return []any{&p.ID, &p.Expiration, &p.Public, &p.Signature}
}

func (p *preKeyColumns) toPreKey(device models.UID) (*models.PreKey, error) {
	if len(p.ID) == 0 {
		return nil, nil
	}
	keyID, err := parseUID(p.ID)
	if err != nil {
		return nil, err
	}
	if len(p.Public) != models.KeySize {
		return nil, fmt.Errorf("%w: pre-key public key has %d bytes", ErrScanningRow, len(p.Public))
	}
	pk := &models.PreKey{
		KeyID:               keyID,
		DeviceUID:           device,
		ExpirationTimestamp: p.Expiration.Int64,
		Signature:           p.Signature,
	}
	copy(pk.EncryptionKey[:], p.Public)
	return pk, nil
}

func preKeyValues(pk *models.PreKey) map[string]any {
	if pk == nil {
		return map[string]any{
			"pre_key_id":         nil,
			"pre_key_expiration": nil,
			"pre_key_public":     nil,
			"pre_key_signature":  nil,
		}
	}
	return map[string]any{
		"pre_key_id":         pk.KeyID.Bytes(),
		"pre_key_expiration": pk.ExpirationTimestamp,
		"pre_key_public":     pk.EncryptionKey[:],
		"pre_key_signature":  pk.Signature,
	}
}

// rowsScanner is the part of *sql.Rows the scan helpers need.
type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}
