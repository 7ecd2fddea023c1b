package service

import (
	"context"

	"github.com/MKhiriev/go-trust-engine/internal/crypto"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

// signatureService implements [SignatureService]. Private keys never leave
// this service.
type signatureService struct {
	repos  *store.Repositories
	logger *logger.Logger
}

func (ss *signatureService) privateIdentity(ctx context.Context, s *store.Session, owned models.Identity) (*models.OwnedIdentity, error) {
	oi, err := ss.repos.OwnedIdentities.Get(ctx, s, owned)
	if err != nil {
		return nil, err
	}
	if oi == nil {
		return nil, ErrUnknownOwnedIdentity
	}
	return oi, nil
}

func (ss *signatureService) SolveChallenge(ctx context.Context, s *store.Session, owned models.Identity, t crypto.ChallengeType, payload []byte) ([]byte, error) {
	oi, err := ss.privateIdentity(ctx, s, owned)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.SignChallenge(oi.PrivateIdentity.SignKey, t, payload)
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*signatureService.SolveChallenge").
			Str("challenge", string(t)).Msg("error signing challenge")
		return nil, err
	}
	return sig, nil
}

// SignIdentities signs the concatenation of identities, as done by a
// mediator introducing two contacts.
func (ss *signatureService) SignIdentities(ctx context.Context, s *store.Session, owned models.Identity, identities ...models.Identity) ([]byte, error) {
	return ss.SolveChallenge(ctx, s, owned, crypto.ChallengeMutualIntroduction, crypto.ConcatIdentities(identities...))
}

func (ss *signatureService) VerifyIdentitiesSignature(signer models.Identity, signature []byte, identities ...models.Identity) error {
	return crypto.VerifyChallenge(signer, crypto.ChallengeMutualIntroduction, crypto.ConcatIdentities(identities...), signature)
}

// channelPayload binds both ends of a channel: signer identity, peer
// identity, signer device, peer device and the ephemeral key.
func channelPayload(signer, peer models.Identity, signerDevice, peerDevice models.UID, ephemeralKey []byte) []byte {
	payload := crypto.ConcatIdentities(signer, peer)
	payload = append(payload, signerDevice[:]...)
	payload = append(payload, peerDevice[:]...)
	return append(payload, ephemeralKey...)
}

// SignChannel signs a channel creation message sent from the current device
// of owned to remoteDevice.
func (ss *signatureService) SignChannel(ctx context.Context, s *store.Session, owned, remote models.Identity, remoteDevice models.UID, ephemeralKey []byte) ([]byte, error) {
	current, ok, err := ss.repos.OwnedDevices.CurrentUID(ctx, s, owned)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoCurrentDevice
	}
	return ss.SolveChallenge(ctx, s, owned, crypto.ChallengeChannelCreation, channelPayload(owned, remote, current, remoteDevice, ephemeralKey))
}

// VerifyChannelSignature checks a signature made by remoteDevice with
// [signatureService.SignChannel] for the current device of owned.
func (ss *signatureService) VerifyChannelSignature(ctx context.Context, s *store.Session, owned, remote models.Identity, remoteDevice models.UID, ephemeralKey, signature []byte) error {
	current, ok, err := ss.repos.OwnedDevices.CurrentUID(ctx, s, owned)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoCurrentDevice
	}
	return crypto.VerifyChallenge(remote, crypto.ChallengeChannelCreation, channelPayload(remote, owned, remoteDevice, current, ephemeralKey), signature)
}

func (ss *signatureService) SignBlock(ctx context.Context, s *store.Session, owned models.Identity, block []byte) ([]byte, error) {
	return ss.SolveChallenge(ctx, s, owned, crypto.ChallengeAdministratorsBlock, block)
}

func invitationNoncePayload(group models.GroupV2Identifier, nonce []byte, recipient models.Identity) []byte {
	payload := group.Bytes()
	payload = append(payload, nonce...)
	return append(payload, recipient.Bytes()...)
}

func (ss *signatureService) SignGroupInvitationNonce(ctx context.Context, s *store.Session, owned models.Identity, group models.GroupV2Identifier, nonce []byte, recipient models.Identity) ([]byte, error) {
	return ss.SolveChallenge(ctx, s, owned, crypto.ChallengeGroupInvitationNonce, invitationNoncePayload(group, nonce, recipient))
}

func (ss *signatureService) VerifyGroupInvitationNonce(signer models.Identity, group models.GroupV2Identifier, nonce []byte, recipient models.Identity, signature []byte) error {
	return crypto.VerifyChallenge(signer, crypto.ChallengeGroupInvitationNonce, invitationNoncePayload(group, nonce, recipient), signature)
}

// Wrap encrypts plaintext to the encryption key of recipient.
func (ss *signatureService) Wrap(recipient models.Identity, plaintext []byte) ([]byte, error) {
	return crypto.Encrypt(recipient.EncKey, plaintext)
}

func (ss *signatureService) Unwrap(ctx context.Context, s *store.Session, owned models.Identity, ciphertext []byte) ([]byte, error) {
	oi, err := ss.privateIdentity(ctx, s, owned)
	if err != nil {
		return nil, err
	}
	return crypto.Decrypt(oi.PrivateIdentity.EncKey, ciphertext)
}
