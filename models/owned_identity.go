package models

import (
	"sort"
	"strings"
)

// OwnedIdentity is a locally held identity with its private keys.
type OwnedIdentity struct {
	Identity          Identity        `json:"identity"`
	PrivateIdentity   PrivateIdentity `json:"private_identity"`
	Active            bool            `json:"active"`
	KeycloakServerURL string          `json:"keycloak_server_url,omitempty"`
}

// OwnedDevice is a device of an owned identity. Exactly one device per owned
// identity has Current set.
type OwnedDevice struct {
	OwnedIdentity Identity `json:"-"`
	UID           UID      `json:"uid"`
	Current       bool     `json:"current"`
	DisplayName   string   `json:"display_name,omitempty"`

	ExpirationTimestamp       *int64 `json:"expiration_timestamp,omitempty"`
	LastRegistrationTimestamp *int64 `json:"last_registration_timestamp,omitempty"`

	PreKey       *PreKey       `json:"pre_key,omitempty"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`

	ChannelConfirmed         bool  `json:"channel_confirmed"`
	LastChannelPingTimestamp int64 `json:"last_channel_ping_timestamp,omitempty"`
}

// ContactDevice is a device of a contact identity.
type ContactDevice struct {
	OwnedIdentity   Identity `json:"-"`
	ContactIdentity Identity `json:"-"`
	UID             UID      `json:"uid"`

	PreKey       *PreKey       `json:"pre_key,omitempty"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`

	ChannelConfirmed         bool  `json:"channel_confirmed"`
	LastChannelPingTimestamp int64 `json:"last_channel_ping_timestamp,omitempty"`
}

// PreKey is the public, signed pre-key published for a device.
type PreKey struct {
	KeyID               UID           `json:"key_id"`
	DeviceUID           UID           `json:"device_uid"`
	ExpirationTimestamp int64         `json:"expiration_timestamp"`
	EncryptionKey       [KeySize]byte `json:"encryption_key"`
	Signature           []byte        `json:"signature"`
}

// PreKeyMaterial is the private part of a pre-key generated for the current
// device of an owned identity.
type PreKeyMaterial struct {
	OwnedIdentity       Identity
	KeyID               UID
	ExpirationTimestamp int64
	PrivateKey          [KeySize]byte
	PublicKey           [KeySize]byte
}

// Capabilities is a set of feature names a device supports. A nil
// *Capabilities means the device never reported any.
type Capabilities map[string]struct{}

// NewCapabilities builds a capability set from names.
func NewCapabilities(names ...string) Capabilities {
	c := make(Capabilities, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			c[n] = struct{}{}
		}
	}
	return c
}

// ParseCapabilities decodes the comma separated storage form.
func ParseCapabilities(s string) Capabilities {
	if s == "" {
		return Capabilities{}
	}
	return NewCapabilities(strings.Split(s, ",")...)
}

func (c Capabilities) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// Names returns the sorted capability names.
func (c Capabilities) Names() []string {
	out := make([]string, 0, len(c))
	for n := range c {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// String returns the comma separated storage form.
func (c Capabilities) String() string {
	return strings.Join(c.Names(), ",")
}

// Intersect returns the capabilities present in both sets.
func (c Capabilities) Intersect(other Capabilities) Capabilities {
	out := make(Capabilities)
	for n := range c {
		if other.Has(n) {
			out[n] = struct{}{}
		}
	}
	return out
}

func (c Capabilities) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Capabilities) UnmarshalText(text []byte) error {
	*c = ParseCapabilities(string(text))
	return nil
}

// Well known capabilities.
const (
	CapabilityWebRTCContinuousICE = "webrtc_continuous_ice"
	CapabilityOneToOneContacts    = "one_to_one_contacts"
	CapabilityGroupsV2            = "groups_v2"
)
