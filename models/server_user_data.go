package models

// ServerUserData tracks a server-hosted user data blob (a photo upload) so
// it can be refreshed before the server expires it and collected once
// nothing references it.
type ServerUserData struct {
	OwnedIdentity        Identity `json:"-"`
	Label                []byte   `json:"label"`
	NextRefreshTimestamp int64    `json:"next_refresh_timestamp"`
	// GroupIdentifier is nil for the photo of the owned identity itself.
	GroupIdentifier *GroupV2Identifier `json:"group_identifier,omitempty"`
}
