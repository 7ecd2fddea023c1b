package service

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

const testKeycloakURL = "https://keycloak.example/realms/corp"

// testKeycloak signs tokens the way a keycloak server does.
type testKeycloak struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	kid  string
}

func newTestKeycloak(t *testing.T, kid string) *testKeycloak {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &testKeycloak{priv: priv, pub: pub, kid: kid}
}

func (k *testKeycloak) jwk() string {
	return fmt.Sprintf(`{"kty":"OKP","crv":"Ed25519","kid":%q,"x":%q}`, k.kid, base64.RawURLEncoding.EncodeToString(k.pub))
}

func (k *testKeycloak) jwks() string {
	return fmt.Sprintf(`{"keys":[%s]}`, k.jwk())
}

func (k *testKeycloak) sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	if k.kid != "" {
		token.Header["kid"] = k.kid
	}
	signed, err := token.SignedString(k.priv)
	require.NoError(t, err)
	return signed
}

func (k *testKeycloak) userDetails(t *testing.T, identity models.Identity, timestamp int64) string {
	t.Helper()
	return k.sign(t, &models.KeycloakUserDetailsClaims{Identity: identity.Bytes(), FirstName: "Bob", Company: "Corp", Timestamp: timestamp})
}

func (k *testKeycloak) revocation(t *testing.T, identity models.Identity, rt models.RevocationType, timestamp int64) string {
	t.Helper()
	return k.sign(t, &models.KeycloakRevocationClaims{Identity: identity.Bytes(), Type: rt, Timestamp: timestamp})
}

// bind binds owned to a keycloak server pinning the key of k.
func (e *testEnv) bind(t *testing.T, owned models.Identity, k *testKeycloak, signedDetails models.Details) {
	t.Helper()

	e.protocols.EXPECT().StartKeycloakGroupsSync(gomock.Any(), owned).Return(nil)
	server := models.KeycloakServer{ServerURL: testKeycloakURL, ClientID: "trust-engine"}
	if k != nil {
		server.SignatureKey = k.jwk()
	}
	require.NoError(t, e.services.Keycloak.BindOwnedIdentityToKeycloak(e.ctx, e.session(), owned, server, signedDetails))
}

func TestKeycloakService_BindAndUnbind(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	svc := env.services.Keycloak
	kc := newTestKeycloak(t, "")
	owned := env.newOwned(t, testServer)

	err := svc.BindOwnedIdentityToKeycloak(env.ctx, env.session(), owned.Identity,
		models.KeycloakServer{ServerURL: testKeycloakURL, SignatureKey: `{"kty":"oct"}`}, models.Details{})
	require.ErrorIs(t, err, ErrKeycloakSignature)

	env.bind(t, owned.Identity, kc, models.Details{JSON: `{"first_name":"Ada","signed_user_details":"token"}`})

	state, err := svc.GetOwnedIdentityKeycloakState(env.ctx, env.session(), owned.Identity)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, testKeycloakURL, state.ServerURL)
	got, err := env.services.Identity.GetOwnedIdentity(env.ctx, env.session(), owned.Identity)
	require.NoError(t, err)
	assert.Equal(t, testKeycloakURL, got.KeycloakServerURL)

	require.NoError(t, svc.SetKeycloakPushTopics(env.ctx, env.session(), owned.Identity, []string{"corp"}))
	require.NoError(t, svc.SetKeycloakTransferRestricted(env.ctx, env.session(), owned.Identity, true))
	state, err = svc.GetOwnedIdentityKeycloakState(env.ctx, env.session(), owned.Identity)
	require.NoError(t, err)
	assert.Equal(t, []string{"corp"}, state.PushTopics)
	assert.True(t, state.TransferRestricted)

	err = svc.UnbindOwnedIdentityFromKeycloak(env.ctx, env.session(), owned.Identity)
	require.ErrorIs(t, err, store.ErrNotInTransaction)
	env.tx(t, func(s *store.Session) error {
		return svc.UnbindOwnedIdentityFromKeycloak(env.ctx, s, owned.Identity)
	})

	state, err = svc.GetOwnedIdentityKeycloakState(env.ctx, env.session(), owned.Identity)
	require.NoError(t, err)
	assert.Nil(t, state)

	triple, err := env.services.Identity.GetOwnedDetails(env.ctx, env.session(), owned.Identity)
	require.NoError(t, err)
	assert.Equal(t, `{"first_name":"Ada"}`, triple.Published().JSON)
	assert.Equal(t, 2, triple.Versions.Published)
}

func TestKeycloakService_VerifyKeycloakIdentitySignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	svc := env.services.Keycloak
	kc := newTestKeycloak(t, "")
	owned := env.newOwned(t, testServer)
	contact := newTestIdentity(t, testServer)
	now := time.Now().UnixMilli()

	_, err := svc.VerifyKeycloakIdentitySignature(env.ctx, env.session(), owned.Identity, kc.userDetails(t, contact, now))
	require.ErrorIs(t, err, ErrNotKeycloakManaged)

	env.bind(t, owned.Identity, kc, models.Details{JSON: `{"first_name":"Ada"}`})

	claims, err := svc.VerifyKeycloakIdentitySignature(env.ctx, env.session(), owned.Identity, kc.userDetails(t, contact, now))
	require.NoError(t, err)
	assert.Equal(t, "Bob", claims.FirstName)
	assert.Equal(t, contact.Bytes(), claims.Identity)

	forger := newTestKeycloak(t, "")
	_, err = svc.VerifyKeycloakIdentitySignature(env.ctx, env.session(), owned.Identity, forger.userDetails(t, contact, now))
	require.ErrorIs(t, err, ErrKeycloakSignature)

	// revoked after the signature
	require.NoError(t, svc.VerifyAndAddRevocationList(env.ctx, env.session(), owned.Identity,
		[]string{kc.revocation(t, contact, models.RevocationLeftCompany, now+1000)}, now))
	_, err = svc.VerifyKeycloakIdentitySignature(env.ctx, env.session(), owned.Identity, kc.userDetails(t, contact, now))
	require.ErrorIs(t, err, ErrRevokedIdentity)
	_, err = svc.VerifyKeycloakIdentitySignature(env.ctx, env.session(), owned.Identity, kc.userDetails(t, contact, now+2000))
	require.NoError(t, err)

	// the revocation window moved past the signature
	later := now + 2*testSignatureValidity.Milliseconds()
	require.NoError(t, svc.VerifyAndAddRevocationList(env.ctx, env.session(), owned.Identity, nil, later))
	_, err = svc.VerifyKeycloakIdentitySignature(env.ctx, env.session(), owned.Identity, kc.userDetails(t, contact, now+2000))
	require.ErrorIs(t, err, ErrStaleKeycloakToken)
	_, err = svc.VerifyKeycloakIdentitySignature(env.ctx, env.session(), owned.Identity, kc.userDetails(t, contact, later))
	require.NoError(t, err)

	state, err := svc.GetOwnedIdentityKeycloakState(env.ctx, env.session(), owned.Identity)
	require.NoError(t, err)
	assert.Equal(t, later, state.LatestRevocationListTimestamp)
}

func TestKeycloakService_AddKeycloakContact(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	svc := env.services.Keycloak
	kc := newTestKeycloak(t, "")
	owned := env.newOwned(t, testServer)
	contact := newTestIdentity(t, testServer)
	now := time.Now().UnixMilli()

	env.bind(t, owned.Identity, kc, models.Details{JSON: `{"first_name":"Ada"}`})

	_, err := svc.AddKeycloakContact(env.ctx, env.session(), owned.Identity, kc.userDetails(t, owned.Identity, now))
	require.ErrorIs(t, err, ErrContactIsOwnedIdentity)

	token := kc.userDetails(t, contact, now)
	env.protocols.EXPECT().StartDeviceDiscovery(gomock.Any(), owned.Identity, contact).Return(nil)
	c, err := svc.AddKeycloakContact(env.ctx, env.session(), owned.Identity, token)
	require.NoError(t, err)
	assert.True(t, c.Certified)
	assert.Equal(t, now, c.CertifiedTimestamp)
	assert.Equal(t, models.OneToOneTrue, c.OneToOne)
	require.Len(t, c.TrustOrigins, 1)
	assert.Equal(t, models.TrustOriginKeycloak, c.TrustOrigins[0].Type)
	assert.Equal(t, testKeycloakURL, c.TrustOrigins[0].KeycloakServer)

	triple, err := env.services.Contacts.GetContactDetails(env.ctx, env.session(), owned.Identity, contact)
	require.NoError(t, err)
	var fields map[string]string
	require.NoError(t, json.Unmarshal([]byte(triple.Published().JSON), &fields))
	assert.Equal(t, "Bob", fields["first_name"])
	assert.Equal(t, token, fields[signedDetailsField])
}

func TestKeycloakService_VerifyAndAddRevocationList(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	svc := env.services.Keycloak
	kc := newTestKeycloak(t, "")
	owned := env.newOwned(t, testServer)
	contact := newTestIdentity(t, testServer)
	now := time.Now().UnixMilli()

	env.bind(t, owned.Identity, kc, models.Details{JSON: `{"first_name":"Ada"}`})
	env.protocols.EXPECT().StartDeviceDiscovery(gomock.Any(), owned.Identity, contact).Return(nil)
	_, err := svc.AddKeycloakContact(env.ctx, env.session(), owned.Identity, kc.userDetails(t, contact, now))
	require.NoError(t, err)

	contactState := func() *models.ContactIdentity {
		c, err := env.services.Contacts.GetContactIdentity(env.ctx, env.session(), owned.Identity, contact)
		require.NoError(t, err)
		require.NotNil(t, c)
		return c
	}

	// left before the certification
	require.NoError(t, svc.VerifyAndAddRevocationList(env.ctx, env.session(), owned.Identity, []string{
		"not-a-token",
		kc.revocation(t, contact, models.RevocationLeftCompany, now-1),
	}, now))
	assert.True(t, contactState().Certified)

	require.NoError(t, svc.VerifyAndAddRevocationList(env.ctx, env.session(), owned.Identity, []string{
		kc.revocation(t, contact, models.RevocationLeftCompany, now+1),
	}, now+1))
	c := contactState()
	assert.False(t, c.Certified)
	assert.False(t, c.IsBlocked())

	env.channels.EXPECT().DestroyChannels(gomock.Any(), owned.Identity, contact).Return(nil).Times(1)
	compromised := kc.revocation(t, contact, models.RevocationCompromised, now+2)
	require.NoError(t, svc.VerifyAndAddRevocationList(env.ctx, env.session(), owned.Identity, []string{compromised}, now+2))
	// replayed
	require.NoError(t, svc.VerifyAndAddRevocationList(env.ctx, env.session(), owned.Identity, []string{compromised}, now+2))

	c = contactState()
	assert.True(t, c.RevokedAsCompromised)
	assert.True(t, c.IsBlocked())
}

func TestKeycloakService_UpdateKeycloakJWKS(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	svc := env.services.Keycloak
	kc := newTestKeycloak(t, "key-1")
	owned := env.newOwned(t, testServer)
	contact := newTestIdentity(t, testServer)
	token := kc.userDetails(t, contact, time.Now().UnixMilli())

	env.bind(t, owned.Identity, nil, models.Details{JSON: `{"first_name":"Ada"}`})
	_, err := svc.VerifyKeycloakIdentitySignature(env.ctx, env.session(), owned.Identity, token)
	require.ErrorIs(t, err, ErrKeycloakSignature)

	errUnreachable := errors.New("unreachable")
	gomock.InOrder(
		env.keys.EXPECT().FetchJWKS(gomock.Any(), testKeycloakURL).Return("", errUnreachable),
		env.keys.EXPECT().FetchJWKS(gomock.Any(), testKeycloakURL).Return(`{"keys":[]}`, nil),
		env.keys.EXPECT().FetchJWKS(gomock.Any(), testKeycloakURL).Return(kc.jwks(), nil),
	)
	require.ErrorIs(t, svc.UpdateKeycloakJWKS(env.ctx, env.session(), owned.Identity), errUnreachable)
	require.ErrorIs(t, svc.UpdateKeycloakJWKS(env.ctx, env.session(), owned.Identity), ErrKeycloakSignature)
	require.NoError(t, svc.UpdateKeycloakJWKS(env.ctx, env.session(), owned.Identity))

	_, err = svc.VerifyKeycloakIdentitySignature(env.ctx, env.session(), owned.Identity, token)
	require.NoError(t, err)
}

func TestKeycloakService_UpdateKeycloakGroups(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	svc := env.services.Keycloak
	kc := newTestKeycloak(t, "")
	owned := env.newOwned(t, testServer)
	colleague := newTestIdentity(t, testServer)
	uid := newTestUID(t)
	id := models.GroupV2Identifier{UID: uid, Server: testKeycloakURL, Category: models.GroupV2CategoryKeycloak}
	now := time.Now().UnixMilli()

	env.bind(t, owned.Identity, kc, models.Details{JSON: `{"first_name":"Ada"}`})

	blobToken := func(version int, timestamp int64, members ...models.Identity) string {
		blob := models.KeycloakGroupBlob{ServerBlob: models.GroupV2ServerBlob{
			Version: version,
			Details: models.Details{JSON: fmt.Sprintf(`{"name":"corp v%d"}`, version)},
		}}
		for _, m := range members {
			blob.ServerBlob.Members = append(blob.ServerBlob.Members, models.GroupV2BlobEntry{
				Identity:    m,
				Permissions: models.NewPermissions(models.PermissionSendMessage),
			})
		}
		raw, err := json.Marshal(blob)
		require.NoError(t, err)
		return kc.sign(t, &models.KeycloakGroupClaims{GroupUID: uid.Bytes(), Blob: raw, Timestamp: timestamp})
	}
	update := func(u models.KeycloakGroupsUpdate) {
		env.tx(t, func(s *store.Session) error {
			return svc.UpdateKeycloakGroups(env.ctx, s, owned.Identity, u)
		})
	}

	err := svc.UpdateKeycloakGroups(env.ctx, env.session(), owned.Identity, models.KeycloakGroupsUpdate{})
	require.ErrorIs(t, err, store.ErrNotInTransaction)

	update(models.KeycloakGroupsUpdate{
		BlobUpdates:      []string{blobToken(1, now, owned.Identity, colleague), "garbage"},
		CurrentTimestamp: now,
	})
	group, err := env.services.GroupsV2.GetGroupV2(env.ctx, env.session(), owned.Identity, id)
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, now, group.LastModificationTimestamp)
	members, err := env.services.GroupsV2.ListGroupV2Members(env.ctx, env.session(), owned.Identity, id)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, colleague, members[0].Identity)

	// an older token is ignored, and the details may move backwards
	update(models.KeycloakGroupsUpdate{BlobUpdates: []string{blobToken(5, now-1, owned.Identity)}, CurrentTimestamp: now})
	members, err = env.services.GroupsV2.ListGroupV2Members(env.ctx, env.session(), owned.Identity, id)
	require.NoError(t, err)
	assert.Len(t, members, 1)

	update(models.KeycloakGroupsUpdate{BlobUpdates: []string{blobToken(0, now+1, owned.Identity)}, CurrentTimestamp: now + 1})
	triple, err := env.services.GroupsV2.GetGroupV2Details(env.ctx, env.session(), owned.Identity, id)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"corp v0"}`, triple.Published().JSON)

	deletion := kc.sign(t, &models.KeycloakGroupClaims{GroupUID: uid.Bytes(), Timestamp: now + 2})
	update(models.KeycloakGroupsUpdate{Deletions: []string{deletion}, CurrentTimestamp: now + 2})
	group, err = env.services.GroupsV2.GetGroupV2(env.ctx, env.session(), owned.Identity, id)
	require.NoError(t, err)
	assert.Nil(t, group)

	state, err := svc.GetOwnedIdentityKeycloakState(env.ctx, env.session(), owned.Identity)
	require.NoError(t, err)
	assert.Equal(t, now+2, state.LatestGroupUpdateTimestamp)
}

func TestKeycloakService_UpdateKeycloakGroups_MalformedBlobIsSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	svc := env.services.Keycloak
	kc := newTestKeycloak(t, "")
	owned := env.newOwned(t, testServer)
	broken, valid := newTestUID(t), newTestUID(t)
	now := time.Now().UnixMilli()

	env.bind(t, owned.Identity, kc, models.Details{JSON: `{"first_name":"Ada"}`})

	raw, err := json.Marshal(models.KeycloakGroupBlob{ServerBlob: models.GroupV2ServerBlob{
		Version: 1,
		Members: []models.GroupV2BlobEntry{{Identity: owned.Identity}},
		Details: models.Details{JSON: `{"name":"corp"}`},
	}})
	require.NoError(t, err)

	update := models.KeycloakGroupsUpdate{
		BlobUpdates: []string{
			kc.sign(t, &models.KeycloakGroupClaims{GroupUID: broken.Bytes(), Blob: []byte("not json"), Timestamp: now}),
			kc.sign(t, &models.KeycloakGroupClaims{GroupUID: valid.Bytes(), Blob: raw, Timestamp: now}),
		},
		CurrentTimestamp: now,
	}
	env.tx(t, func(s *store.Session) error {
		return svc.UpdateKeycloakGroups(env.ctx, s, owned.Identity, update)
	})

	groupID := func(uid models.UID) models.GroupV2Identifier {
		return models.GroupV2Identifier{UID: uid, Server: testKeycloakURL, Category: models.GroupV2CategoryKeycloak}
	}
	group, err := env.services.GroupsV2.GetGroupV2(env.ctx, env.session(), owned.Identity, groupID(broken))
	require.NoError(t, err)
	assert.Nil(t, group)
	group, err = env.services.GroupsV2.GetGroupV2(env.ctx, env.session(), owned.Identity, groupID(valid))
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, now, group.LastModificationTimestamp)

	state, err := svc.GetOwnedIdentityKeycloakState(env.ctx, env.session(), owned.Identity)
	require.NoError(t, err)
	assert.Equal(t, now, state.LatestGroupUpdateTimestamp)
}

func TestKeycloakService_UpdateKeycloakGroups_TimestampNeverMovesBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	svc := env.services.Keycloak
	kc := newTestKeycloak(t, "")
	owned := env.newOwned(t, testServer)
	now := time.Now().UnixMilli()

	env.bind(t, owned.Identity, kc, models.Details{JSON: `{"first_name":"Ada"}`})

	for _, ts := range []int64{now, now - 1000} {
		env.tx(t, func(s *store.Session) error {
			return svc.UpdateKeycloakGroups(env.ctx, s, owned.Identity, models.KeycloakGroupsUpdate{CurrentTimestamp: ts})
		})
	}

	state, err := svc.GetOwnedIdentityKeycloakState(env.ctx, env.session(), owned.Identity)
	require.NoError(t, err)
	assert.Equal(t, now, state.LatestGroupUpdateTimestamp)
}

func TestKeycloakService_VerifyAndAddRevocationList_StaleRevocationIgnored(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, ctrl)
	env.ignoreNotifications()
	svc := env.services.Keycloak
	kc := newTestKeycloak(t, "")
	owned := env.newOwned(t, testServer)
	contact := newTestIdentity(t, testServer)
	now := time.Now().UnixMilli()

	env.bind(t, owned.Identity, kc, models.Details{JSON: `{"first_name":"Ada"}`})
	env.protocols.EXPECT().StartDeviceDiscovery(gomock.Any(), owned.Identity, contact).Return(nil)
	_, err := svc.AddKeycloakContact(env.ctx, env.session(), owned.Identity, kc.userDetails(t, contact, now))
	require.NoError(t, err)

	// no DestroyChannels expected: the revocation falls outside the window
	stale := now - testSignatureValidity.Milliseconds() - 1
	require.NoError(t, svc.VerifyAndAddRevocationList(env.ctx, env.session(), owned.Identity, []string{
		kc.revocation(t, contact, models.RevocationCompromised, stale),
	}, now))

	c, err := env.services.Contacts.GetContactIdentity(env.ctx, env.session(), owned.Identity, contact)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.False(t, c.RevokedAsCompromised)
	assert.False(t, c.IsBlocked())
	assert.True(t, c.Certified)
}
