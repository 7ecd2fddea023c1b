// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"strings"
	"time"
)

// StructuredConfig is the top-level configuration container for the trust
// engine. It aggregates all sub-configurations and is populated by merging
// values from environment variables, command-line flags, an optional JSON
// file and finally the built-in defaults.
//
// Struct tags:
//   - envPrefix — prefix applied to all nested env tag lookups (caarlos0/env).
//   - env       — direct environment variable name for scalar fields.
type StructuredConfig struct {
	// App holds engine-level settings: signature validity window, pre-key
	// lifetime and backup protection.
	App App `envPrefix:"APP_"`

	// Storage holds the relational database settings.
	Storage Storage `envPrefix:"STORAGE_"`

	// Adapter holds configuration of the external collaborators (redis
	// notification sink and protocol queue, keycloak HTTP client).
	Adapter Adapter `envPrefix:"ADAPTER_"`

	// Workers holds configuration for background worker processes.
	Workers Workers `envPrefix:"WORKERS_"`

	// JSONFilePath is the optional path to a JSON configuration file.
	// Populated via the CONFIG environment variable or the -c / -config flag.
	JSONFilePath string `env:"CONFIG"`
}

// App holds engine-level configuration values.
type App struct {
	// KeycloakSignatureValidity is the window during which a keycloak
	// signature stays acceptable relative to the latest revocation list.
	// Env: APP_KEYCLOAK_SIGNATURE_VALIDITY
	KeycloakSignatureValidity time.Duration `env:"KEYCLOAK_SIGNATURE_VALIDITY"`

	// PreKeyLifetime is how long a freshly generated pre-key stays valid.
	// Env: APP_PRE_KEY_LIFETIME
	PreKeyLifetime time.Duration `env:"PRE_KEY_LIFETIME"`

	// BackupPassword, when set, encrypts full backups with a key derived by
	// Argon2id. Empty means backups are only compressed.
	// Env: APP_BACKUP_PASSWORD
	BackupPassword string `env:"BACKUP_PASSWORD"`

	// Version is the semantic version string of the running engine.
	// Env: APP_VERSION
	Version string `env:"VERSION"`
}

// Storage groups the configuration for all storage backends.
type Storage struct {
	// DB holds the relational database connection settings.
	DB DB `envPrefix:"DB_"`
}

// DB holds connection settings for the relational database backend.
type DB struct {
	// DSN selects the backend: a "postgres://" url opens PostgreSQL through
	// pgx, anything else is treated as an SQLite file path or URI.
	// Env: STORAGE_DB_DATABASE_URI
	DSN string `env:"DATABASE_URI"`

	// CurrentDeviceCacheSize bounds the owned identity → current device cache.
	// Env: STORAGE_DB_CURRENT_DEVICE_CACHE_SIZE
	CurrentDeviceCacheSize int `env:"CURRENT_DEVICE_CACHE_SIZE"`
}

// IsPostgres reports whether DSN names a PostgreSQL database.
func (d DB) IsPostgres() bool {
	return strings.HasPrefix(d.DSN, "postgres://") || strings.HasPrefix(d.DSN, "postgresql://")
}

// Adapter holds configuration for the external collaborators.
type Adapter struct {
	// RedisAddress is the redis server used for notifications, protocol
	// triggers and channel bookkeeping, in "host:port" format.
	// Env: ADAPTER_REDIS_ADDRESS
	RedisAddress string `env:"REDIS_ADDRESS"`

	// RedisPassword is optional.
	// Env: ADAPTER_REDIS_PASSWORD
	RedisPassword string `env:"REDIS_PASSWORD"`

	// NotificationChannel is the redis PUBLISH channel for engine
	// notifications.
	// Env: ADAPTER_NOTIFICATION_CHANNEL
	NotificationChannel string `env:"NOTIFICATION_CHANNEL"`

	// ProtocolQueue is the redis list protocol triggers are pushed to.
	// Env: ADAPTER_PROTOCOL_QUEUE
	ProtocolQueue string `env:"PROTOCOL_QUEUE"`

	// KeycloakRequestTimeout bounds every JWKS request.
	// Env: ADAPTER_KEYCLOAK_REQUEST_TIMEOUT
	KeycloakRequestTimeout time.Duration `env:"KEYCLOAK_REQUEST_TIMEOUT"`
}

// Workers holds configuration for background worker processes.
type Workers struct {
	// DeviceDiscoveryInterval is the period of the device discovery timer.
	// Env: WORKERS_DEVICE_DISCOVERY_INTERVAL
	DeviceDiscoveryInterval time.Duration `env:"DEVICE_DISCOVERY_INTERVAL"`

	// BackupDir is where the backup writer stores full backups. Empty
	// disables automatic backups.
	// Env: WORKERS_BACKUP_DIR
	BackupDir string `env:"BACKUP_DIR"`

	// CleanupOnStart runs the startup cleanup before workers start.
	// Env: WORKERS_CLEANUP_ON_START
	CleanupOnStart bool `env:"CLEANUP_ON_START"`
}

// GetStructuredConfig loads, merges, and validates the engine configuration
// from all available sources in the following priority order (the first
// source that sets a field wins):
//  1. Environment variables
//  2. Command-line flags
//  3. JSON file (path resolved from sources 1 and 2)
//  4. Built-in defaults
//
// Returns a fully populated *StructuredConfig or an error if any source
// fails to load or the final config fails validation.
func GetStructuredConfig() (*StructuredConfig, error) {
	return newConfigBuilder().
		withEnv().
		withFlags().
		withJSON().
		withDefaults().
		build()
}
