// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// ErrBackupKey is returned when a sealed backup cannot be opened with the
// given password.
var ErrBackupKey = errors.New("wrong backup password or corrupted backup")

const (
	saltSize = 16
	dekSize  = 32

	// sealedVersion is the first byte of every sealed backup.
	sealedVersion byte = 1
)

// keyChain is the private implementation of [BackupKeyChain].
type keyChain struct {
	// Argon2id tuning parameters. Stored in the struct so they can be
	// adjusted per deployment target.
	argonTime    uint32
	argonMemory  uint32
	argonThreads uint8
	argonKeyLen  uint32
}

// NewBackupKeyChain constructs a [BackupKeyChain] with the Argon2id
// parameters recommended by OWASP (2024):
//   - time cost:   1 iteration
//   - memory cost: 64 MiB
//   - parallelism: 4 threads
//   - key length:  32 bytes (256 bits)
func NewBackupKeyChain() BackupKeyChain {
	return &keyChain{
		argonTime:    1,
		argonMemory:  64 * 1024, // 64 MiB
		argonThreads: 4,
		argonKeyLen:  32, // 256 bits
	}
}

// Seal implements [BackupKeyChain]. A random data key encrypts plaintext;
// the data key itself is wrapped with a key derived from password. The
// output is
//
//	version ∥ salt ∥ len(wrapped DEK) ∥ wrapped DEK ∥ nonce ∥ ciphertext
func (k *keyChain) Seal(plaintext []byte, password string) ([]byte, error) {
	salt, err := randomBytes(saltSize)
	if err != nil {
		return nil, err
	}
	dek, err := randomBytes(dekSize)
	if err != nil {
		return nil, err
	}

	wrapped, err := sealGCM(k.kek(password, salt), dek)
	if err != nil {
		return nil, fmt.Errorf("wrap data key: %w", err)
	}
	body, err := sealGCM(dek, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt backup: %w", err)
	}

	out := make([]byte, 0, 1+saltSize+2+len(wrapped)+len(body))
	out = append(out, sealedVersion)
	out = append(out, salt...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(wrapped)))
	out = append(out, wrapped...)
	return append(out, body...), nil
}

// Open implements [BackupKeyChain]. It reverses [keyChain.Seal].
func (k *keyChain) Open(sealed []byte, password string) ([]byte, error) {
	if len(sealed) < 1+saltSize+2 || sealed[0] != sealedVersion {
		return nil, ErrBackupKey
	}
	salt := sealed[1 : 1+saltSize]
	rest := sealed[1+saltSize:]

	n := int(binary.BigEndian.Uint16(rest))
	rest = rest[2:]
	if len(rest) < n {
		return nil, ErrBackupKey
	}

	dek, err := openGCM(k.kek(password, salt), rest[:n])
	if err != nil {
		// almost always a wrong password
		return nil, fmt.Errorf("%w: %w", ErrBackupKey, err)
	}
	plaintext, err := openGCM(dek, rest[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackupKey, err)
	}
	return plaintext, nil
}

// kek derives the key-encryption key from password and salt with Argon2id.
func (k *keyChain) kek(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, k.argonTime, k.argonMemory, k.argonThreads, k.argonKeyLen)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// sealGCM encrypts plaintext with AES-256-GCM and returns nonce ∥ ciphertext.
func sealGCM(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce, err := randomBytes(gcm.NonceSize())
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func openGCM(key, blob []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(blob) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	// Split the blob into nonce and actual ciphertext.
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
