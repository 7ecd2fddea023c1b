package crypto

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MKhiriev/go-trust-engine/models"
)

var (
	// ErrUnknownPreKey is returned when a pre-key message names a key id no
	// local material matches. The message is undecryptable, nothing more.
	ErrUnknownPreKey = errors.New("unknown pre-key")

	// ErrPreKeyAuthentication is returned when the sender signature inside a
	// pre-key message does not verify.
	ErrPreKeyAuthentication = errors.New("pre-key message authentication failed")
)

// preKeySignedData is key id ∥ device uid ∥ expiration ∥ public key.
func preKeySignedData(pk models.PreKey) []byte {
	out := make([]byte, 0, 2*models.UIDSize+8+models.KeySize)
	out = append(out, pk.KeyID[:]...)
	out = append(out, pk.DeviceUID[:]...)
	out = binary.BigEndian.AppendUint64(out, uint64(pk.ExpirationTimestamp))
	out = append(out, pk.EncryptionKey[:]...)
	return out
}

// NewPreKey generates a pre-key for device, signed by the owned identity,
// and returns it with its private material.
func NewPreKey(owned models.OwnedIdentity, device models.UID, expiration int64) (models.PreKey, models.PreKeyMaterial, error) {
	keyID, err := models.NewUID()
	if err != nil {
		return models.PreKey{}, models.PreKeyMaterial{}, err
	}
	priv, pub, err := GenerateX25519()
	if err != nil {
		return models.PreKey{}, models.PreKeyMaterial{}, err
	}

	pk := models.PreKey{
		KeyID:               keyID,
		DeviceUID:           device,
		ExpirationTimestamp: expiration,
		EncryptionKey:       pub,
	}
	pk.Signature, err = SignChallenge(owned.PrivateIdentity.SignKey, ChallengePreKey, preKeySignedData(pk))
	if err != nil {
		return models.PreKey{}, models.PreKeyMaterial{}, err
	}

	material := models.PreKeyMaterial{
		OwnedIdentity:       owned.Identity,
		KeyID:               keyID,
		ExpirationTimestamp: expiration,
		PrivateKey:          priv,
		PublicKey:           pub,
	}
	return pk, material, nil
}

// VerifyPreKey checks that pk was signed by owner.
func VerifyPreKey(owner models.Identity, pk models.PreKey) error {
	return VerifyChallenge(owner, ChallengePreKey, preKeySignedData(pk), pk.Signature)
}

// PreKeyPayload is the authenticated content of a pre-key message.
type PreKeyPayload struct {
	MessageKey     []byte          `json:"message_key"`
	SenderDevice   models.UID      `json:"sender_device"`
	SenderIdentity models.Identity `json:"sender_identity"`
}

type preKeyEnvelope struct {
	Payload   PreKeyPayload `json:"payload"`
	Signature []byte        `json:"signature"`
}

// preKeyMessageSignedData binds the payload to the recipient device and the
// pre-key used.
func preKeyMessageSignedData(p PreKeyPayload, recipient models.Identity, recipientDevice, keyID models.UID) []byte {
	out := make([]byte, 0, len(p.MessageKey)+3*models.UIDSize+128)
	out = binary.BigEndian.AppendUint16(out, uint16(len(p.MessageKey)))
	out = append(out, p.MessageKey...)
	out = append(out, p.SenderDevice[:]...)
	out = append(out, ConcatIdentities(p.SenderIdentity, recipient)...)
	out = append(out, recipientDevice[:]...)
	out = append(out, keyID[:]...)
	return out
}

// WrapWithPreKey encrypts payload to the recipient device pre-key. The
// output is key id ∥ ciphertext so the recipient finds its private key
// before decrypting.
func WrapWithPreKey(sender ed25519.PrivateKey, payload PreKeyPayload, recipient models.Identity, pk models.PreKey) ([]byte, error) {
	sig, err := SignChallenge(sender, ChallengePreKeyMessage,
		preKeyMessageSignedData(payload, recipient, pk.DeviceUID, pk.KeyID))
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(preKeyEnvelope{Payload: payload, Signature: sig})
	if err != nil {
		return nil, fmt.Errorf("marshal pre-key envelope: %w", err)
	}

	ciphertext, err := Encrypt(pk.EncryptionKey, plaintext)
	if err != nil {
		return nil, err
	}
	return append(pk.KeyID.Bytes(), ciphertext...), nil
}

// PreKeyID returns the key id prefix of a pre-key message.
func PreKeyID(message []byte) (models.UID, []byte, error) {
	if len(message) <= models.UIDSize {
		return models.UID{}, nil, ErrMalformedCiphertext
	}
	keyID, err := models.ParseUID(message[:models.UIDSize])
	if err != nil {
		return models.UID{}, nil, err
	}
	return keyID, message[models.UIDSize:], nil
}

// UnwrapWithPreKey decrypts a pre-key message addressed to recipient on
// recipientDevice with the matching material, then authenticates the sender.
func UnwrapWithPreKey(material models.PreKeyMaterial, recipient models.Identity, recipientDevice models.UID, message []byte) (PreKeyPayload, error) {
	keyID, ciphertext, err := PreKeyID(message)
	if err != nil {
		return PreKeyPayload{}, err
	}
	if keyID != material.KeyID {
		return PreKeyPayload{}, ErrUnknownPreKey
	}

	plaintext, err := Decrypt(material.PrivateKey, ciphertext)
	if err != nil {
		return PreKeyPayload{}, err
	}

	var env preKeyEnvelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return PreKeyPayload{}, fmt.Errorf("%w: %w", ErrMalformedCiphertext, err)
	}

	signed := preKeyMessageSignedData(env.Payload, recipient, recipientDevice, keyID)
	if err := VerifyChallenge(env.Payload.SenderIdentity, ChallengePreKeyMessage, signed, env.Signature); err != nil {
		return PreKeyPayload{}, fmt.Errorf("%w: %w", ErrPreKeyAuthentication, err)
	}
	return env.Payload, nil
}
