// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the length of both the Ed25519 public key and the X25519
	// public key carried by an [Identity].
	KeySize = 32

	// UIDSize is the length of every random identifier used by the engine
	// (device uids, group uids, pre-key ids).
	UIDSize = 32
)

var (
	ErrMalformedIdentity = errors.New("malformed identity")
	ErrMalformedUID      = errors.New("malformed uid")
)

// Identity is the public cryptographic identifier of an owned identity or a
// contact. It binds a server url to a signature key and an encryption key.
//
// The serialized form is server ∥ 0x00 ∥ sign key ∥ encryption key. The type
// is comparable and may be used as a map key.
type Identity struct {
	Server  string
	SignKey [KeySize]byte
	EncKey  [KeySize]byte
}

// Bytes returns the serialized identity.
func (i Identity) Bytes() []byte {
	out := make([]byte, 0, len(i.Server)+1+2*KeySize)
	out = append(out, i.Server...)
	out = append(out, 0x00)
	out = append(out, i.SignKey[:]...)
	out = append(out, i.EncKey[:]...)
	return out
}

// ParseIdentity decodes the output of [Identity.Bytes].
func ParseIdentity(b []byte) (Identity, error) {
	if len(b) < 1+2*KeySize {
		return Identity{}, ErrMalformedIdentity
	}

	keys := b[len(b)-2*KeySize:]
	head := b[:len(b)-2*KeySize]
	if head[len(head)-1] != 0x00 || bytes.IndexByte(head[:len(head)-1], 0x00) >= 0 {
		return Identity{}, ErrMalformedIdentity
	}

	var id Identity
	id.Server = string(head[:len(head)-1])
	copy(id.SignKey[:], keys[:KeySize])
	copy(id.EncKey[:], keys[KeySize:])
	return id, nil
}

// SignPublicKey returns the Ed25519 verification key of the identity.
func (i Identity) SignPublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(i.SignKey[:])
}

func (i Identity) IsZero() bool {
	return i == Identity{}
}

func (i Identity) Equal(other Identity) bool {
	return i == other
}

// String returns a base64url rendering suitable for logs and JSON.
func (i Identity) String() string {
	if i.IsZero() {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(i.Bytes())
}

func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Identity) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*i = Identity{}
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedIdentity, err)
	}
	parsed, err := ParseIdentity(raw)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// PrivateIdentity holds the private key material of an owned identity.
type PrivateIdentity struct {
	SignKey ed25519.PrivateKey `json:"sign_key"`
	EncKey  [KeySize]byte      `json:"enc_key"`
}

// UID is a 32-byte random identifier.
type UID [UIDSize]byte

// NewUID draws a UID from the OS CSPRNG.
func NewUID() (UID, error) {
	var u UID
	if _, err := io.ReadFull(rand.Reader, u[:]); err != nil {
		return UID{}, err
	}
	return u, nil
}

// ParseUID copies b into a UID. b must be exactly [UIDSize] bytes long.
func ParseUID(b []byte) (UID, error) {
	var u UID
	if len(b) != UIDSize {
		return u, ErrMalformedUID
	}
	copy(u[:], b)
	return u, nil
}

func (u UID) Bytes() []byte {
	return append([]byte(nil), u[:]...)
}

func (u UID) IsZero() bool {
	return u == UID{}
}

func (u UID) String() string {
	return hex.EncodeToString(u[:])
}

func (u UID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UID) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedUID, err)
	}
	parsed, err := ParseUID(raw)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
