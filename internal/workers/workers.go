package workers

import (
	"context"

	"github.com/MKhiriev/go-trust-engine/internal/config"
	"github.com/MKhiriev/go-trust-engine/internal/crypto"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/service"
	"github.com/MKhiriev/go-trust-engine/internal/store"
)

// Workers runs a fixed list of workers in order.
type Workers struct {
	workers []Worker
}

// NewWorkers builds the workers enabled by cfg. The cleanup runs first so
// that discovery and backups see a pruned store.
func NewWorkers(storages *store.Storages, services *service.Services, protocols service.ProtocolTrigger, cfg *config.StructuredConfig, logger *logger.Logger) *Workers {
	var list []Worker
	if cfg.Workers.CleanupOnStart {
		list = append(list, NewCleanup(storages, services.ServerUserData, logger))
	}
	if cfg.Workers.DeviceDiscoveryInterval > 0 && protocols != nil {
		list = append(list, NewDeviceDiscovery(storages.DB, services.Identity, services.Contacts, protocols, cfg.Workers.DeviceDiscoveryInterval, logger))
	}
	if cfg.Workers.BackupDir != "" {
		list = append(list, NewBackupWriter(storages.DB, services.Backup, crypto.NewBackupKeyChain(), cfg.Workers.BackupDir, cfg.App.BackupPassword, logger))
	}
	return &Workers{workers: list}
}

// Run runs every worker in registration order.
func (w *Workers) Run(ctx context.Context) {
	for _, worker := range w.workers {
		worker.Run(ctx)
	}
}

// Wait blocks until every long running worker has stopped.
func (w *Workers) Wait() {
	for _, worker := range w.workers {
		if lr, ok := worker.(LongRunning); ok {
			<-lr.Done()
		}
	}
}
