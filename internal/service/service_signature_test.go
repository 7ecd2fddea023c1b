package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MKhiriev/go-trust-engine/internal/crypto"
	"github.com/MKhiriev/go-trust-engine/models"
)

func TestSignatureService_Channel(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	svc := env.services.Signatures

	alice := env.newOwned(t, testServer)
	bob := env.newOwned(t, testServer)
	aliceDevice, err := env.repos.OwnedDevices.Current(env.ctx, env.session(), alice.Identity)
	require.NoError(t, err)
	bobDevice, err := env.repos.OwnedDevices.Current(env.ctx, env.session(), bob.Identity)
	require.NoError(t, err)
	ephemeral := []byte("ephemeral-key")

	sig, err := svc.SignChannel(env.ctx, env.session(), alice.Identity, bob.Identity, bobDevice.UID, ephemeral)
	require.NoError(t, err)

	require.NoError(t, svc.VerifyChannelSignature(env.ctx, env.session(), bob.Identity, alice.Identity, aliceDevice.UID, ephemeral, sig))
	err = svc.VerifyChannelSignature(env.ctx, env.session(), bob.Identity, alice.Identity, newTestUID(t), ephemeral, sig)
	require.ErrorIs(t, err, crypto.ErrInvalidSignature)
	err = svc.VerifyChannelSignature(env.ctx, env.session(), bob.Identity, alice.Identity, aliceDevice.UID, []byte("other"), sig)
	require.ErrorIs(t, err, crypto.ErrInvalidSignature)

	_, err = svc.SignChannel(env.ctx, env.session(), newTestIdentity(t, testServer), bob.Identity, bobDevice.UID, ephemeral)
	require.ErrorIs(t, err, ErrNoCurrentDevice)
}

func TestSignatureService_Identities(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	svc := env.services.Signatures

	mediator := env.newOwned(t, testServer)
	a, b := newTestIdentity(t, testServer), newTestIdentity(t, testServer)

	sig, err := svc.SignIdentities(env.ctx, env.session(), mediator.Identity, a, b)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyIdentitiesSignature(mediator.Identity, sig, a, b))
	require.ErrorIs(t, svc.VerifyIdentitiesSignature(mediator.Identity, sig, b, a), crypto.ErrInvalidSignature)

	_, err = svc.SignIdentities(env.ctx, env.session(), a, b)
	require.ErrorIs(t, err, ErrUnknownOwnedIdentity)
}

func TestSignatureService_GroupInvitationNonce(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	svc := env.services.Signatures

	admin := env.newOwned(t, testServer)
	recipient := newTestIdentity(t, testServer)
	group := models.GroupV2Identifier{UID: newTestUID(t), Server: testServer, Category: models.GroupV2CategoryServer}
	nonce := []byte("0123456789abcdef")

	sig, err := svc.SignGroupInvitationNonce(env.ctx, env.session(), admin.Identity, group, nonce, recipient)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyGroupInvitationNonce(admin.Identity, group, nonce, recipient, sig))

	other := group
	other.Category = models.GroupV2CategoryKeycloak
	assert.ErrorIs(t, svc.VerifyGroupInvitationNonce(admin.Identity, other, nonce, recipient, sig), crypto.ErrInvalidSignature)
	assert.ErrorIs(t, svc.VerifyGroupInvitationNonce(admin.Identity, group, nonce, newTestIdentity(t, testServer), sig), crypto.ErrInvalidSignature)
}

func TestSignatureService_WrapUnwrap(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	svc := env.services.Signatures

	owned := env.newOwned(t, testServer)
	other := env.newOwned(t, testServer)

	ciphertext, err := svc.Wrap(owned.Identity, []byte("return receipt key"))
	require.NoError(t, err)

	plaintext, err := svc.Unwrap(env.ctx, env.session(), owned.Identity, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("return receipt key"), plaintext)

	_, err = svc.Unwrap(env.ctx, env.session(), other.Identity, ciphertext)
	require.Error(t, err)
}
