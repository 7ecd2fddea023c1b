package config

import "time"

const (
	defaultKeycloakSignatureValidity = 60 * 24 * time.Hour
	defaultPreKeyLifetime            = 60 * 24 * time.Hour
	defaultCurrentDeviceCacheSize    = 256
	defaultNotificationChannel       = "trust-engine:notifications"
	defaultProtocolQueue             = "trust-engine:protocol-triggers"
	defaultKeycloakRequestTimeout    = 10 * time.Second
	defaultDeviceDiscoveryInterval   = 12 * time.Hour
)

// Defaults returns the lowest-priority configuration layer.
func Defaults() *StructuredConfig {
	return &StructuredConfig{
		App: App{
			KeycloakSignatureValidity: defaultKeycloakSignatureValidity,
			PreKeyLifetime:            defaultPreKeyLifetime,
		},
		Storage: Storage{
			DB: DB{CurrentDeviceCacheSize: defaultCurrentDeviceCacheSize},
		},
		Adapter: Adapter{
			NotificationChannel:    defaultNotificationChannel,
			ProtocolQueue:          defaultProtocolQueue,
			KeycloakRequestTimeout: defaultKeycloakRequestTimeout,
		},
		Workers: Workers{
			DeviceDiscoveryInterval: defaultDeviceDiscoveryInterval,
		},
	}
}
