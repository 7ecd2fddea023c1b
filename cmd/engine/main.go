package main

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-trust-engine/internal/config"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/server"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

func main() {
	printBuildInfo()

	log := logger.NewLogger("trust-engine")
	cfg, err := config.GetStructuredConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error getting configs")
	}

	log.Debug().
		Bool("postgres", cfg.Storage.DB.IsPostgres()).
		Str("redis", cfg.Adapter.RedisAddress).
		Dur("device_discovery_interval", cfg.Workers.DeviceDiscoveryInterval).
		Bool("backups", cfg.Workers.BackupDir != "").
		Msg("received configs")

	srv, err := server.NewServer(log.WithContext(context.Background()), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating engine")
	}

	srv.RunServer()
}

func printBuildInfo() {
	if buildVersion == "" {
		buildVersion = "N/A"
	}

	if buildDate == "" {
		buildDate = "N/A"
	}

	if buildCommit == "" {
		buildCommit = "N/A"
	}

	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)
}
