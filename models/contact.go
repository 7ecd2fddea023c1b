package models

// OneToOne is the tri-state one-to-one status of a contact.
type OneToOne int

const (
	OneToOneUnknown OneToOne = iota
	OneToOneTrue
	OneToOneFalse
)

// OneToOneFromBool converts a definite one-to-one status.
func OneToOneFromBool(b bool) OneToOne {
	if b {
		return OneToOneTrue
	}
	return OneToOneFalse
}

func (o OneToOne) String() string {
	switch o {
	case OneToOneTrue:
		return "true"
	case OneToOneFalse:
		return "false"
	default:
		return "unknown"
	}
}

// ContactIdentity is a remote identity known to an owned identity.
type ContactIdentity struct {
	OwnedIdentity   Identity `json:"-"`
	ContactIdentity Identity `json:"contact_identity"`

	Active   bool     `json:"active"`
	OneToOne OneToOne `json:"one_to_one"`

	ForcefullyTrustedByUser bool `json:"forcefully_trusted_by_user,omitempty"`
	RevokedAsCompromised    bool `json:"revoked_as_compromised,omitempty"`

	Certified bool `json:"certified,omitempty"`
	// CertifiedTimestamp is the timestamp of the last keycloak signature
	// that certified this contact.
	CertifiedTimestamp int64 `json:"certified_timestamp,omitempty"`

	RecentlyOnline bool `json:"recently_online,omitempty"`

	TrustOrigins []TrustOrigin `json:"trust_origins,omitempty"`
}

// NotActiveReason explains why a contact is considered inactive.
type NotActiveReason string

const (
	NotActiveDeactivated NotActiveReason = "deactivated"
	NotActiveRevoked     NotActiveReason = "revoked"
)

// NotActiveReasons derives the reason set from the stored flags. A revoked
// contact the user forcefully trusted is not blocked.
func (c ContactIdentity) NotActiveReasons() []NotActiveReason {
	var reasons []NotActiveReason
	if !c.Active {
		reasons = append(reasons, NotActiveDeactivated)
	}
	if c.RevokedAsCompromised && !c.ForcefullyTrustedByUser {
		reasons = append(reasons, NotActiveRevoked)
	}
	return reasons
}

// IsActive reports whether the contact has no inactivity reason.
func (c ContactIdentity) IsActive() bool {
	return len(c.NotActiveReasons()) == 0
}

// IsBlocked reports whether revocation consequences apply to the contact.
func (c ContactIdentity) IsBlocked() bool {
	return c.RevokedAsCompromised && !c.ForcefullyTrustedByUser
}

// TrustLevel derives the trust level from the accumulated origins.
func (c ContactIdentity) TrustLevel() TrustLevel {
	return TrustLevelOf(c.TrustOrigins)
}

// TrustOriginType enumerates the justifications for trusting a contact.
type TrustOriginType string

const (
	TrustOriginDirect        TrustOriginType = "direct"
	TrustOriginIntroduction  TrustOriginType = "introduction"
	TrustOriginGroup         TrustOriginType = "group"
	TrustOriginKeycloak      TrustOriginType = "keycloak"
	TrustOriginServerGroupV2 TrustOriginType = "server_group_v2"
)

// TrustOrigin is an append-only record of why a contact is trusted.
type TrustOrigin struct {
	Type      TrustOriginType `json:"type"`
	Timestamp int64           `json:"timestamp"`

	// Mediator is the introducer (INTRODUCTION) or the group owner (GROUP).
	Mediator *Identity `json:"mediator,omitempty"`
	// KeycloakServer is set for KEYCLOAK origins.
	KeycloakServer string `json:"keycloak_server,omitempty"`
	// GroupIdentifier is set for SERVER_GROUP_V2 origins.
	GroupIdentifier *GroupV2Identifier `json:"group_identifier,omitempty"`
}

// TrustLevel is a coarse ordering of how much a contact is trusted.
type TrustLevel int

const (
	TrustLevelNone   TrustLevel = 0
	TrustLevelServer TrustLevel = 2
	TrustLevelHigh   TrustLevel = 3
	TrustLevelDirect TrustLevel = 4
)

// Weight returns the trust level a single origin grants.
func (t TrustOrigin) Weight() TrustLevel {
	switch t.Type {
	case TrustOriginDirect:
		return TrustLevelDirect
	case TrustOriginKeycloak, TrustOriginIntroduction:
		return TrustLevelHigh
	case TrustOriginGroup, TrustOriginServerGroupV2:
		return TrustLevelServer
	default:
		return TrustLevelNone
	}
}

// TrustLevelOf returns the maximum weight of origins.
func TrustLevelOf(origins []TrustOrigin) TrustLevel {
	level := TrustLevelNone
	for _, o := range origins {
		if w := o.Weight(); w > level {
			level = w
		}
	}
	return level
}
