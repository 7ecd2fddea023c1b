package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// StructuredJSONConfig mirrors [StructuredConfig] with JSON tags and
// human-readable durations.
type StructuredJSONConfig struct {
	App struct {
		KeycloakSignatureValidity Duration `json:"keycloak_signature_validity"`
		PreKeyLifetime            Duration `json:"pre_key_lifetime"`
		BackupPassword            string   `json:"backup_password"`
		Version                   string   `json:"version"`
	} `json:"app,omitempty"`

	Storage struct {
		DB struct {
			DSN                    string `json:"dsn"`
			CurrentDeviceCacheSize int    `json:"current_device_cache_size"`
		} `json:"db,omitempty"`
	} `json:"storage,omitempty"`

	Adapter struct {
		RedisAddress           string   `json:"redis_address"`
		RedisPassword          string   `json:"redis_password"`
		NotificationChannel    string   `json:"notification_channel"`
		ProtocolQueue          string   `json:"protocol_queue"`
		KeycloakRequestTimeout Duration `json:"keycloak_request_timeout"`
	} `json:"adapter,omitempty"`

	Workers struct {
		DeviceDiscoveryInterval Duration `json:"device_discovery_interval"`
		BackupDir               string   `json:"backup_dir"`
		CleanupOnStart          bool     `json:"cleanup_on_start"`
	} `json:"workers,omitempty"`
}

func parseJSON(jsonFilePath string) (*StructuredConfig, error) {
	jsonFile, err := os.Open(jsonFilePath)
	if err != nil {
		return nil, fmt.Errorf("error reading a json file: %w", err)
	}
	defer jsonFile.Close()

	var jsonCfg StructuredJSONConfig
	if err := json.NewDecoder(jsonFile).Decode(&jsonCfg); err != nil {
		return nil, fmt.Errorf("error decoding json configs: %w", err)
	}

	cfg := &StructuredConfig{
		App: App{
			KeycloakSignatureValidity: time.Duration(jsonCfg.App.KeycloakSignatureValidity),
			PreKeyLifetime:            time.Duration(jsonCfg.App.PreKeyLifetime),
			BackupPassword:            jsonCfg.App.BackupPassword,
			Version:                   jsonCfg.App.Version,
		},
		Storage: Storage{
			DB: DB{
				DSN:                    jsonCfg.Storage.DB.DSN,
				CurrentDeviceCacheSize: jsonCfg.Storage.DB.CurrentDeviceCacheSize,
			},
		},
		Adapter: Adapter{
			RedisAddress:           jsonCfg.Adapter.RedisAddress,
			RedisPassword:          jsonCfg.Adapter.RedisPassword,
			NotificationChannel:    jsonCfg.Adapter.NotificationChannel,
			ProtocolQueue:          jsonCfg.Adapter.ProtocolQueue,
			KeycloakRequestTimeout: time.Duration(jsonCfg.Adapter.KeycloakRequestTimeout),
		},
		Workers: Workers{
			DeviceDiscoveryInterval: time.Duration(jsonCfg.Workers.DeviceDiscoveryInterval),
			BackupDir:               jsonCfg.Workers.BackupDir,
			CleanupOnStart:          jsonCfg.Workers.CleanupOnStart,
		},
	}

	return cfg, nil
}

// Duration is a wrapper around time.Duration that supports JSON unmarshaling from strings like "1h", "30s"
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return json.Unmarshal(b, (*time.Duration)(d))
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
