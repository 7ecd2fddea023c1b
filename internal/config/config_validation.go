// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

// validate checks that the final merged [StructuredConfig] satisfies all
// engine invariants before it is used at startup.
//
// Returns nil if the configuration is valid, or one of the ErrInvalid*
// sentinels otherwise.
func (cfg *StructuredConfig) validate() error {
	if cfg.Storage.DB.DSN == "" || cfg.Storage.DB.CurrentDeviceCacheSize <= 0 {
		return ErrInvalidStorageConfigs
	}

	if cfg.Adapter.RedisAddress == "" || cfg.Adapter.KeycloakRequestTimeout <= 0 {
		return ErrInvalidAdapterConfigs
	}

	if cfg.Workers.DeviceDiscoveryInterval <= 0 {
		return ErrInvalidWorkerConfigs
	}

	if cfg.App.KeycloakSignatureValidity <= 0 || cfg.App.PreKeyLifetime <= 0 {
		return ErrInvalidAppConfigs
	}

	return nil
}
