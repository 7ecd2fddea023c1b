// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MKhiriev/go-trust-engine/internal/crypto"
	"github.com/MKhiriev/go-trust-engine/internal/details"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

// signedDetailsField is the key of owned details JSON holding the keycloak
// signature of the user details.
const signedDetailsField = "signed_user_details"

// keycloakService implements [KeycloakService].
type keycloakService struct {
	repos     *store.Repositories
	details   *details.Engine
	contacts  *contactService
	groupsV2  *groupV2Service
	keys      KeycloakKeySource
	protocols ProtocolTrigger

	// signatureValidity is how far before the latest revocation list a
	// keycloak signature is still accepted. Older revocations are pruned.
	signatureValidity time.Duration

	logger *logger.Logger
}

func (k *keycloakService) BindOwnedIdentityToKeycloak(ctx context.Context, s *store.Session, owned models.Identity, server models.KeycloakServer, signedDetails models.Details) error {
	log := logger.FromContext(ctx)

	oi, err := k.repos.OwnedIdentities.Get(ctx, s, owned)
	if err != nil || oi == nil {
		return err
	}
	if _, err = keySet(server); err != nil && (server.SignatureKey != "" || server.JWKS != "") {
		return fmt.Errorf("%w: %w", ErrKeycloakSignature, err)
	}

	server.OwnedIdentity = owned
	if err = k.repos.Keycloak.PutServer(ctx, s, server); err != nil {
		log.Err(err).Str("func", "*keycloakService.BindOwnedIdentityToKeycloak").Msg("error storing keycloak server")
		return err
	}
	if err = k.repos.OwnedIdentities.SetKeycloakServerURL(ctx, s, owned, server.ServerURL); err != nil {
		return err
	}

	key := ownedDetailsKey(owned)
	if err = k.details.SetLatest(ctx, s, key, signedDetails); err != nil {
		return ignoreMissingTriple(err)
	}
	version, err := k.details.Publish(ctx, s, key, true)
	if err != nil {
		return err
	}

	s.Record(
		store.BackupNeeded(owned),
		store.Notification(NotificationKeycloakBindingChanged, owned, map[string]any{"server": server.ServerURL, "bound": true}),
	)
	if version != models.NoVersion {
		s.Record(store.Notification(NotificationOwnedDetailsPublished, owned, map[string]any{"version": version}))
	}
	trigger(s, "keycloak groups sync", func(ctx context.Context) error {
		return k.protocols.StartKeycloakGroupsSync(ctx, owned)
	})
	return nil
}

// UnbindOwnedIdentityFromKeycloak drops the binding, the revocations and the
// keycloak groups. The signed part of the owned details is removed by
// discarding the draft and publishing the stripped published details.
func (k *keycloakService) UnbindOwnedIdentityFromKeycloak(ctx context.Context, s *store.Session, owned models.Identity) error {
	log := logger.FromContext(ctx)

	if err := s.RequireTransaction(); err != nil {
		return err
	}
	server, err := k.repos.Keycloak.GetServer(ctx, s, owned)
	if err != nil || server == nil {
		return err
	}

	if err = k.repos.Keycloak.DeleteServer(ctx, s, owned); err != nil {
		log.Err(err).Str("func", "*keycloakService.UnbindOwnedIdentityFromKeycloak").Msg("error deleting keycloak server")
		return err
	}
	if err = k.repos.Keycloak.DeleteRevocations(ctx, s, owned); err != nil {
		return err
	}
	if err = k.repos.OwnedIdentities.SetKeycloakServerURL(ctx, s, owned, ""); err != nil {
		return err
	}

	if err = k.stripSignedDetails(ctx, s, owned); err != nil {
		return err
	}

	contacts, err := k.repos.Contacts.List(ctx, s, owned)
	if err != nil {
		return err
	}
	for _, c := range contacts {
		if !c.Certified {
			continue
		}
		c.Certified = false
		c.CertifiedTimestamp = 0
		if err = k.repos.Contacts.Update(ctx, s, c); err != nil {
			return err
		}
	}

	groups, err := k.repos.GroupsV2.List(ctx, s, owned)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if !g.Identifier.IsKeycloak() {
			continue
		}
		if err = k.groupsV2.deleteGroup(ctx, s, owned, g.Identifier); err != nil {
			return err
		}
	}

	s.Record(
		store.BackupNeeded(owned),
		store.Notification(NotificationKeycloakBindingChanged, owned, map[string]any{"server": server.ServerURL, "bound": false}),
	)
	return nil
}

func (k *keycloakService) stripSignedDetails(ctx context.Context, s *store.Session, owned models.Identity) error {
	key := ownedDetailsKey(owned)
	if err := k.details.DiscardLatest(ctx, s, key); err != nil {
		return ignoreMissingTriple(err)
	}
	triple, err := k.details.Get(ctx, s, key)
	if err != nil || triple == nil {
		return err
	}

	published := triple.Published()
	stripped, ok := withoutSignedDetails(published.JSON)
	if !ok {
		return nil
	}
	published.JSON = stripped
	if err = k.details.SetLatest(ctx, s, key, published); err != nil {
		return err
	}
	version, err := k.details.Publish(ctx, s, key, true)
	if err != nil {
		return err
	}
	s.Record(store.Notification(NotificationOwnedDetailsPublished, owned, map[string]any{"version": version}))
	return nil
}

// withoutSignedDetails removes the signed user details from a details JSON
// object. It reports false when there was nothing to remove.
func withoutSignedDetails(raw string) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return raw, false
	}
	if _, ok := fields[signedDetailsField]; !ok {
		return raw, false
	}
	delete(fields, signedDetailsField)
	out, err := json.Marshal(fields)
	if err != nil {
		return raw, false
	}
	return string(out), true
}

func (k *keycloakService) GetOwnedIdentityKeycloakState(ctx context.Context, s *store.Session, owned models.Identity) (*models.KeycloakServer, error) {
	return k.repos.Keycloak.GetServer(ctx, s, owned)
}

// UpdateKeycloakJWKS refreshes the key set of the server owned is bound to.
func (k *keycloakService) UpdateKeycloakJWKS(ctx context.Context, s *store.Session, owned models.Identity) error {
	server, err := k.repos.Keycloak.GetServer(ctx, s, owned)
	if err != nil || server == nil || k.keys == nil {
		return err
	}

	jwks, err := k.keys.FetchJWKS(ctx, server.ServerURL)
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*keycloakService.UpdateKeycloakJWKS").
			Str("server", server.ServerURL).Msg("error fetching jwks")
		return err
	}
	if _, err = crypto.ParseJWKS(jwks); err != nil {
		return fmt.Errorf("%w: %w", ErrKeycloakSignature, err)
	}
	if jwks == server.JWKS {
		return nil
	}

	server.JWKS = jwks
	return k.putServer(ctx, s, *server)
}

func (k *keycloakService) putServer(ctx context.Context, s *store.Session, server models.KeycloakServer) error {
	if err := k.repos.Keycloak.PutServer(ctx, s, server); err != nil {
		return err
	}
	s.Record(store.BackupNeeded(server.OwnedIdentity))
	return nil
}

func (k *keycloakService) updateServer(ctx context.Context, s *store.Session, owned models.Identity, change func(*models.KeycloakServer)) error {
	server, err := k.repos.Keycloak.GetServer(ctx, s, owned)
	if err != nil || server == nil {
		return err
	}
	change(server)
	return k.putServer(ctx, s, *server)
}

func (k *keycloakService) SetKeycloakPushTopics(ctx context.Context, s *store.Session, owned models.Identity, topics []string) error {
	return k.updateServer(ctx, s, owned, func(server *models.KeycloakServer) { server.PushTopics = topics })
}

func (k *keycloakService) SetKeycloakSelfRevocationTestNonce(ctx context.Context, s *store.Session, owned models.Identity, nonce string) error {
	return k.updateServer(ctx, s, owned, func(server *models.KeycloakServer) { server.SelfRevocationTestNonce = nonce })
}

func (k *keycloakService) SetKeycloakTransferRestricted(ctx context.Context, s *store.Session, owned models.Identity, restricted bool) error {
	return k.updateServer(ctx, s, owned, func(server *models.KeycloakServer) { server.TransferRestricted = restricted })
}

// keySet returns the pinned signature key of server, or its JWKS.
func keySet(server models.KeycloakServer) (*crypto.KeySet, error) {
	if server.SignatureKey != "" {
		return crypto.ParseJWK(server.SignatureKey)
	}
	return crypto.ParseJWKS(server.JWKS)
}

func (k *keycloakService) boundServer(ctx context.Context, s *store.Session, owned models.Identity) (*models.KeycloakServer, *crypto.KeySet, error) {
	server, err := k.repos.Keycloak.GetServer(ctx, s, owned)
	if err != nil {
		return nil, nil, err
	}
	if server == nil {
		return nil, nil, ErrNotKeycloakManaged
	}
	keys, err := keySet(*server)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrKeycloakSignature, err)
	}
	return server, keys, nil
}

func (k *keycloakService) validityMillis() int64 {
	return k.signatureValidity.Milliseconds()
}

// VerifyKeycloakIdentitySignature verifies signed user details. A signature
// older than a known revocation of the identity is rejected, as is one
// older than the revocation window, since revocations of that period may
// have been pruned.
func (k *keycloakService) VerifyKeycloakIdentitySignature(ctx context.Context, s *store.Session, owned models.Identity, token string) (*models.KeycloakUserDetailsClaims, error) {
	server, keys, err := k.boundServer(ctx, s, owned)
	if err != nil {
		return nil, err
	}

	var claims models.KeycloakUserDetailsClaims
	if err = keys.ParseToken(token, &claims); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("func", "*keycloakService.VerifyKeycloakIdentitySignature").Msg("invalid keycloak token")
		return nil, fmt.Errorf("%w: %w", ErrKeycloakSignature, err)
	}
	identity, err := models.ParseIdentity(claims.Identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeycloakSignature, err)
	}

	if claims.Timestamp < server.LatestRevocationListTimestamp-k.validityMillis() {
		return nil, ErrStaleKeycloakToken
	}
	revocations, err := k.repos.Keycloak.ListRevocations(ctx, s, owned, server.ServerURL, identity)
	if err != nil {
		return nil, err
	}
	for _, r := range revocations {
		if r.RevocationTimestamp > claims.Timestamp {
			return nil, ErrRevokedIdentity
		}
	}
	return &claims, nil
}

// AddKeycloakContact adds the identity certified by token as a contact with
// a keycloak trust origin and marks it certified.
func (k *keycloakService) AddKeycloakContact(ctx context.Context, s *store.Session, owned models.Identity, token string) (*models.ContactIdentity, error) {
	claims, err := k.VerifyKeycloakIdentitySignature(ctx, s, owned, token)
	if err != nil {
		return nil, err
	}
	identity, _ := models.ParseIdentity(claims.Identity)
	if identity == owned {
		return nil, ErrContactIsOwnedIdentity
	}

	d, err := signedContactDetails(claims, token)
	if err != nil {
		return nil, err
	}
	server, err := k.repos.Keycloak.GetServer(ctx, s, owned)
	if err != nil {
		return nil, err
	}
	origin := models.TrustOrigin{
		Type:           models.TrustOriginKeycloak,
		Timestamp:      time.Now().UnixMilli(),
		KeycloakServer: server.ServerURL,
	}
	if _, err = k.contacts.AddContactIdentity(ctx, s, owned, identity, d, origin, true); err != nil {
		return nil, err
	}

	contact, err := k.repos.Contacts.Get(ctx, s, owned, identity)
	if err != nil || contact == nil {
		return nil, err
	}
	if !contact.Certified || contact.CertifiedTimestamp < claims.Timestamp {
		contact.Certified = true
		contact.CertifiedTimestamp = claims.Timestamp
		if err = k.repos.Contacts.Update(ctx, s, *contact); err != nil {
			return nil, err
		}
	}
	return contact, nil
}

func signedContactDetails(claims *models.KeycloakUserDetailsClaims, token string) (models.Details, error) {
	raw, err := json.Marshal(map[string]string{
		"first_name":       claims.FirstName,
		"last_name":        claims.LastName,
		"company":          claims.Company,
		"position":         claims.Position,
		signedDetailsField: token,
	})
	if err != nil {
		return models.Details{}, err
	}
	return models.Details{JSON: string(raw)}, nil
}

// VerifyAndAddRevocationList ingests signed revocations. Invalid tokens and
// tokens older than the signature validity window are skipped. A compromised identity is blocked unless the user forcefully
// trusted it; an identity that left the company only loses its
// certification when revoked after it was certified.
func (k *keycloakService) VerifyAndAddRevocationList(ctx context.Context, s *store.Session, owned models.Identity, tokens []string, listTimestamp int64) error {
	log := logger.FromContext(ctx)

	server, keys, err := k.boundServer(ctx, s, owned)
	if err != nil {
		return err
	}
	cutoff := max(listTimestamp, server.LatestRevocationListTimestamp) - k.validityMillis()

	for _, token := range tokens {
		var claims models.KeycloakRevocationClaims
		if err := keys.ParseToken(token, &claims); err != nil {
			log.Warn().Err(err).Str("func", "*keycloakService.VerifyAndAddRevocationList").Msg("skipping invalid revocation token")
			continue
		}
		if claims.Timestamp < cutoff {
			log.Debug().Int64("timestamp", claims.Timestamp).Msg("skipping revocation older than the signature validity")
			continue
		}
		identity, err := models.ParseIdentity(claims.Identity)
		if err != nil {
			log.Warn().Err(err).Str("func", "*keycloakService.VerifyAndAddRevocationList").Msg("skipping revocation of malformed identity")
			continue
		}

		added, err := k.repos.Keycloak.AddRevocation(ctx, s, models.KeycloakRevokedIdentity{
			OwnedIdentity:       owned,
			ServerURL:           server.ServerURL,
			Identity:            identity,
			Type:                claims.Type,
			RevocationTimestamp: claims.Timestamp,
		})
		if err != nil {
			return err
		}
		if !added {
			continue
		}
		if err = k.applyRevocation(ctx, s, owned, identity, claims.Type, claims.Timestamp); err != nil {
			return err
		}
	}

	if listTimestamp > server.LatestRevocationListTimestamp {
		server.LatestRevocationListTimestamp = listTimestamp
		if err = k.putServer(ctx, s, *server); err != nil {
			return err
		}
	}
	pruned, err := k.repos.Keycloak.PruneRevocations(ctx, s, owned, server.LatestRevocationListTimestamp-k.validityMillis())
	if err != nil {
		return err
	}
	log.Debug().Int64("pruned", pruned).Msg("revocation list applied")
	s.Record(store.BackupNeeded(owned))
	return nil
}

func (k *keycloakService) applyRevocation(ctx context.Context, s *store.Session, owned, identity models.Identity, t models.RevocationType, timestamp int64) error {
	contact, err := k.repos.Contacts.Get(ctx, s, owned, identity)
	if err != nil || contact == nil {
		return err
	}

	switch t {
	case models.RevocationCompromised:
		if contact.RevokedAsCompromised {
			return nil
		}
		contact.RevokedAsCompromised = true
		contact.Certified = false
		if err = k.repos.Contacts.Update(ctx, s, *contact); err != nil {
			return err
		}
		if contact.ForcefullyTrustedByUser {
			return nil
		}
		return k.contacts.applyRevocation(ctx, s, owned, identity)
	case models.RevocationLeftCompany:
		if !contact.Certified || timestamp <= contact.CertifiedTimestamp {
			return nil
		}
		contact.Certified = false
		return k.repos.Contacts.Update(ctx, s, *contact)
	default:
		return nil
	}
}

// UpdateKeycloakGroups applies signed group deletions, kicks and blob
// updates, in that order. A token older than the last modification applied
// to its group is ignored.
func (k *keycloakService) UpdateKeycloakGroups(ctx context.Context, s *store.Session, owned models.Identity, update models.KeycloakGroupsUpdate) error {
	log := logger.FromContext(ctx)

	if err := s.RequireTransaction(); err != nil {
		return err
	}
	server, keys, err := k.boundServer(ctx, s, owned)
	if err != nil {
		return err
	}

	removals := make([]string, 0, len(update.Deletions)+len(update.Kicks))
	removals = append(removals, update.Deletions...)
	removals = append(removals, update.Kicks...)
	for _, token := range removals {
		claims, id, err := k.groupToken(keys, server, token)
		if err != nil {
			log.Warn().Err(err).Str("func", "*keycloakService.UpdateKeycloakGroups").Msg("skipping invalid group token")
			continue
		}
		group, err := k.repos.GroupsV2.Get(ctx, s, owned, id)
		if err != nil {
			return err
		}
		if group == nil || claims.Timestamp < group.LastModificationTimestamp {
			continue
		}
		if err = k.groupsV2.deleteGroup(ctx, s, owned, id); err != nil {
			return err
		}
	}

	for _, token := range update.BlobUpdates {
		claims, id, err := k.groupToken(keys, server, token)
		if err != nil {
			log.Warn().Err(err).Str("func", "*keycloakService.UpdateKeycloakGroups").Msg("skipping invalid group token")
			continue
		}
		if err = k.applyGroupBlob(ctx, s, owned, id, claims); err != nil {
			if store.IsStorageError(err) {
				return err
			}
			if errors.Is(err, ErrNotInGroupBlob) {
				log.Warn().Str("group", id.String()).Msg("owned identity missing from keycloak group blob")
				continue
			}
			log.Warn().Err(err).Str("group", id.String()).Str("func", "*keycloakService.UpdateKeycloakGroups").Msg("skipping malformed keycloak group blob")
			continue
		}
	}

	if update.CurrentTimestamp <= server.LatestGroupUpdateTimestamp {
		return nil
	}
	server.LatestGroupUpdateTimestamp = update.CurrentTimestamp
	return k.putServer(ctx, s, *server)
}

func (k *keycloakService) groupToken(keys *crypto.KeySet, server *models.KeycloakServer, token string) (*models.KeycloakGroupClaims, models.GroupV2Identifier, error) {
	var claims models.KeycloakGroupClaims
	if err := keys.ParseToken(token, &claims); err != nil {
		return nil, models.GroupV2Identifier{}, fmt.Errorf("%w: %w", ErrKeycloakSignature, err)
	}
	uid, err := models.ParseUID(claims.GroupUID)
	if err != nil {
		return nil, models.GroupV2Identifier{}, err
	}
	id := models.GroupV2Identifier{UID: uid, Server: server.ServerURL, Category: models.GroupV2CategoryKeycloak}
	return &claims, id, nil
}

func (k *keycloakService) applyGroupBlob(ctx context.Context, s *store.Session, owned models.Identity, id models.GroupV2Identifier, claims *models.KeycloakGroupClaims) error {
	existing, err := k.repos.GroupsV2.Get(ctx, s, owned, id)
	if err != nil {
		return err
	}
	if existing != nil && claims.Timestamp <= existing.LastModificationTimestamp {
		return nil
	}

	var blob models.KeycloakGroupBlob
	if err = json.Unmarshal(claims.Blob, &blob); err != nil {
		return fmt.Errorf("%w: %w", ErrKeycloakSignature, err)
	}
	group, err := k.groupsV2.join(ctx, s, owned, id, blob.ServerBlob, blob.BlobKeys, false)
	if err != nil || group == nil {
		return err
	}

	group.LastModificationTimestamp = claims.Timestamp
	return k.repos.GroupsV2.Update(ctx, s, *group)
}
