package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/MKhiriev/go-trust-engine/models"
)

// PaddingSize is the length of the random padding mixed into every signed
// challenge.
const PaddingSize = 16

// ChallengeType selects the prefix of a signed challenge so a signature made
// for one purpose never verifies for another.
type ChallengeType string

const (
	ChallengeAuthentication       ChallengeType = "authentication"
	ChallengeMutualIntroduction   ChallengeType = "mutual-introduction"
	ChallengeChannelCreation      ChallengeType = "channel-creation"
	ChallengeAdministratorsBlock  ChallengeType = "administrators-block"
	ChallengeGroupInvitationNonce ChallengeType = "group-invitation-nonce"
	ChallengePreKey               ChallengeType = "pre-key"
	ChallengePreKeyMessage        ChallengeType = "pre-key-message"
	ChallengeOwnedDeviceDiscovery ChallengeType = "owned-device-discovery"
)

func (c ChallengeType) prefix() []byte {
	return []byte("trust-engine/" + string(c) + "\x00")
}

// challenge builds prefix ∥ payload ∥ padding.
func challenge(t ChallengeType, payload, padding []byte) []byte {
	p := t.prefix()
	out := make([]byte, 0, len(p)+len(payload)+len(padding))
	out = append(out, p...)
	out = append(out, payload...)
	out = append(out, padding...)
	return out
}

// SignChallenge signs prefix ∥ payload ∥ random padding and returns
// padding ∥ signature. Signing the same payload twice gives different
// outputs.
func SignChallenge(priv ed25519.PrivateKey, t ChallengeType, payload []byte) ([]byte, error) {
	padding := make([]byte, PaddingSize)
	if _, err := io.ReadFull(rand.Reader, padding); err != nil {
		return nil, fmt.Errorf("generate padding: %w", err)
	}

	sig := ed25519.Sign(priv, challenge(t, payload, padding))
	return append(padding, sig...), nil
}

// VerifyChallenge checks a padding ∥ signature value produced by
// [SignChallenge] against signer.
func VerifyChallenge(signer models.Identity, t ChallengeType, payload, signature []byte) error {
	if len(signature) != PaddingSize+ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	padding, sig := signature[:PaddingSize], signature[PaddingSize:]
	return Verify(signer, challenge(t, payload, padding), sig)
}

// ConcatIdentities returns the concatenated serialized identities, the
// payload signed for identity introductions and channel creations.
func ConcatIdentities(identities ...models.Identity) []byte {
	var out []byte
	for _, id := range identities {
		b := id.Bytes()
		out = append(out, byte(len(b)>>8), byte(len(b)))
		out = append(out, b...)
	}
	return out
}
