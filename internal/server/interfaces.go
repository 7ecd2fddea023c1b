package server

import "github.com/MKhiriev/go-trust-engine/internal/service"

// Server defines the lifecycle contract of the engine process.
//
// Implementations are expected to block in [RunServer] until shutdown is
// requested and to release resources in [Shutdown].
type Server interface {
	// RunServer starts the workers and blocks until a stop signal arrives.
	RunServer()

	// Shutdown closes the collaborators and the database.
	Shutdown()

	// Services returns the service registry for the orchestration layer
	// embedding the engine.
	Services() *service.Services
}
