// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package crypto

import (
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/MKhiriev/go-trust-engine/models"
)

var (
	// ErrMalformedCiphertext is returned when a ciphertext is too short or
	// fails authentication.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")

	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
)

// pkInfo domain-separates the keys derived for public-key encryption.
const pkInfo = "trust-engine/pk-encryption/v1"

// GenerateIdentity draws a new owned identity registered on server.
func GenerateIdentity(server string) (models.OwnedIdentity, error) {
	return generateIdentity(rand.Reader, server)
}

func generateIdentity(random io.Reader, server string) (models.OwnedIdentity, error) {
	signPub, signPriv, err := ed25519.GenerateKey(random)
	if err != nil {
		return models.OwnedIdentity{}, fmt.Errorf("generate signature key: %w", err)
	}

	encPriv, encPub, err := generateX25519(random)
	if err != nil {
		return models.OwnedIdentity{}, err
	}

	owned := models.OwnedIdentity{
		Identity: models.Identity{Server: server, EncKey: encPub},
		PrivateIdentity: models.PrivateIdentity{
			SignKey: signPriv,
			EncKey:  encPriv,
		},
		Active: true,
	}
	copy(owned.Identity.SignKey[:], signPub)
	return owned, nil
}

// GenerateX25519 draws an X25519 key pair.
func GenerateX25519() (priv, pub [models.KeySize]byte, err error) {
	return generateX25519(rand.Reader)
}

func generateX25519(random io.Reader) (priv, pub [models.KeySize]byte, err error) {
	if _, err = io.ReadFull(random, priv[:]); err != nil {
		return priv, pub, fmt.Errorf("generate encryption key: %w", err)
	}
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, fmt.Errorf("derive encryption key: %w", err)
	}
	copy(pub[:], p)
	return priv, pub, nil
}

// Sign signs message with the Ed25519 key of an owned identity.
func Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Verify checks an Ed25519 signature made by identity.
func Verify(identity models.Identity, message, signature []byte) error {
	if !ed25519.Verify(identity.SignPublicKey(), message, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// Encrypt seals plaintext for the holder of the X25519 private key matching
// recipient. The output is ephemeral public key ∥ nonce ∥ ciphertext.
func Encrypt(recipient [models.KeySize]byte, plaintext []byte) ([]byte, error) {
	ephPriv, ephPub, err := GenerateX25519()
	if err != nil {
		return nil, err
	}

	aead, err := pkAEAD(ephPriv[:], recipient[:], ephPub[:], recipient[:])
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, models.KeySize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, ephPub[:]...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, ephPub[:]), nil
}

// Decrypt opens a ciphertext produced by [Encrypt] with the recipient's
// X25519 private key.
func Decrypt(priv [models.KeySize]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < models.KeySize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrMalformedCiphertext
	}
	ephPub := ciphertext[:models.KeySize]
	nonce := ciphertext[models.KeySize : models.KeySize+chacha20poly1305.NonceSizeX]
	sealed := ciphertext[models.KeySize+chacha20poly1305.NonceSizeX:]

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCiphertext, err)
	}

	aead, err := pkAEAD(priv[:], ephPub, ephPub, pub)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, sealed, ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCiphertext, err)
	}
	return plaintext, nil
}

// pkAEAD derives the XChaCha20-Poly1305 key shared by the ephemeral and the
// recipient key pairs. The salt binds both public keys.
func pkAEAD(priv, peer, ephPub, recipientPub []byte) (cipher.AEAD, error) {
	shared, err := curve25519.X25519(priv, peer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCiphertext, err)
	}

	salt := make([]byte, 0, 2*models.KeySize)
	salt = append(salt, ephPub...)
	salt = append(salt, recipientPub...)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(pkInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

// Hash returns the SHA-256 digest of data.
func Hash(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}
