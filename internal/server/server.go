package server

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/MKhiriev/go-trust-engine/internal/adapter"
	"github.com/MKhiriev/go-trust-engine/internal/config"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/service"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/internal/workers"
)

type server struct {
	storages *store.Storages
	redis    *redis.Client
	services *service.Services
	workers  *workers.Workers
	logger   *logger.Logger
}

func NewServer(ctx context.Context, cfg *config.StructuredConfig, logger *logger.Logger) (Server, error) {
	logger.Info().Msg("creating new engine...")

	storages, err := store.NewStorages(ctx, cfg.Storage.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("error creating storages: %w", err)
	}

	rdb, err := adapter.NewRedisClient(ctx, cfg.Adapter)
	if err != nil {
		storages.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}

	queue := adapter.NewRedisProtocolQueue(rdb, cfg.Adapter, logger)
	services := service.NewServices(storages, service.Collaborators{
		Protocols:     queue,
		Channels:      queue,
		Notifications: adapter.NewRedisNotificationSink(rdb, cfg.Adapter, logger),
		KeycloakKeys:  adapter.NewKeycloakKeySource(cfg.Adapter, logger),
	}, cfg.App, logger)

	return &server{
		storages: storages,
		redis:    rdb,
		services: services,
		workers:  workers.NewWorkers(storages, services, queue, cfg, logger),
		logger:   logger,
	}, nil
}

func (s *server) Services() *service.Services {
	return s.services
}

func (s *server) RunServer() {
	ctx, stop := signal.NotifyContext(
		s.logger.WithContext(context.Background()),
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGQUIT,
	)
	defer stop()

	s.logger.Info().Msg("launching workers")
	s.workers.Run(ctx)

	<-ctx.Done()

	// workers still use the database until they return
	s.workers.Wait()
	s.Shutdown()
	s.logger.Info().Msg("engine shutdown gracefully")
}

func (s *server) Shutdown() {
	if err := s.redis.Close(); err != nil {
		s.logger.Err(err).Msg("error closing redis client")
	}
	if err := s.storages.Close(); err != nil {
		s.logger.Err(err).Msg("error closing storages")
	}
}
