package models

// DetailsKind selects which entity a details triple belongs to. All four
// kinds share the same versioning rules and the same storage tables.
type DetailsKind string

const (
	DetailsKindOwned   DetailsKind = "owned"
	DetailsKindContact DetailsKind = "contact"
	DetailsKindGroupV1 DetailsKind = "group_v1"
	DetailsKindGroupV2 DetailsKind = "group_v2"
)

// NoVersion marks an empty slot of a details triple.
const NoVersion = -1

// Details is one version of profile or group metadata.
type Details struct {
	// JSON is the serialized identity or group details (names, description,
	// signed keycloak details...). The engine treats it as opaque.
	JSON string `json:"json"`

	// PhotoURL references a blob held by the external file-storage
	// collaborator.
	PhotoURL string `json:"photo_url,omitempty"`

	// PhotoLabel and PhotoKey locate and decrypt the server-hosted photo.
	PhotoLabel []byte `json:"photo_label,omitempty"`
	PhotoKey   []byte `json:"photo_key,omitempty"`
}

// Equal reports whether two details carry the same content.
func (d Details) Equal(other Details) bool {
	return d.JSON == other.JSON &&
		d.PhotoURL == other.PhotoURL &&
		string(d.PhotoLabel) == string(other.PhotoLabel) &&
		string(d.PhotoKey) == string(other.PhotoKey)
}

// DetailsKey addresses one details triple.
type DetailsKey struct {
	Kind          DetailsKind
	OwnedIdentity Identity
	// EntityKey is the contact identity bytes, the group owner+uid or the
	// group v2 identifier bytes. Empty for owned identity details.
	EntityKey []byte
}

// DetailsVersions holds the three version pointers of a triple.
// Published never exceeds Latest.
type DetailsVersions struct {
	Latest    int `json:"latest"`
	Published int `json:"published"`
	Trusted   int `json:"trusted"`
}

// VersionedDetails pairs a details record with its version number.
type VersionedDetails struct {
	Version int     `json:"version"`
	Details Details `json:"details"`
}

// DetailsTriple is the full state of a details triple: its pointers and
// every record they reference.
type DetailsTriple struct {
	Versions DetailsVersions    `json:"versions"`
	Records  []VersionedDetails `json:"records"`
}

// Record returns the details stored at version.
func (t DetailsTriple) Record(version int) (Details, bool) {
	for _, r := range t.Records {
		if r.Version == version {
			return r.Details, true
		}
	}
	return Details{}, false
}

// Latest returns the latest details.
func (t DetailsTriple) Latest() Details {
	d, _ := t.Record(t.Versions.Latest)
	return d
}

// Published returns the published details.
func (t DetailsTriple) Published() Details {
	d, _ := t.Record(t.Versions.Published)
	return d
}

// Trusted returns the trusted details.
func (t DetailsTriple) Trusted() Details {
	d, _ := t.Record(t.Versions.Trusted)
	return d
}

// HasDraft reports whether the latest details were not published yet.
func (t DetailsTriple) HasDraft() bool {
	return t.Versions.Latest != t.Versions.Published
}
