package store

import (
	"fmt"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
)

// Repositories groups every table repository used by the engine.
type Repositories struct {
	OwnedIdentities OwnedIdentityRepository
	OwnedDevices    OwnedDeviceRepository
	PreKeyMaterials PreKeyMaterialRepository
	Contacts        ContactRepository
	ContactDevices  ContactDeviceRepository
	Details         DetailsRepository
	GroupsV1        GroupV1Repository
	GroupsV2        GroupV2Repository
	Keycloak        KeycloakRepository
	ServerUserData  ServerUserDataRepository
}

// NewRepositories builds the repositories. currentDeviceCacheSize bounds the
// owned identity → current device cache.
func NewRepositories(currentDeviceCacheSize int, logger *logger.Logger) (*Repositories, error) {
	ownedDevices, err := NewOwnedDeviceRepository(currentDeviceCacheSize, logger)
	if err != nil {
		return nil, fmt.Errorf("error creating owned device repository: %w", err)
	}

	return &Repositories{
		OwnedIdentities: NewOwnedIdentityRepository(logger),
		OwnedDevices:    ownedDevices,
		PreKeyMaterials: NewPreKeyMaterialRepository(logger),
		Contacts:        NewContactRepository(logger),
		ContactDevices:  NewContactDeviceRepository(logger),
		Details:         NewDetailsRepository(logger),
		GroupsV1:        NewGroupV1Repository(logger),
		GroupsV2:        NewGroupV2Repository(logger),
		Keycloak:        NewKeycloakRepository(logger),
		ServerUserData:  NewServerUserDataRepository(logger),
	}, nil
}
