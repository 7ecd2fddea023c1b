// Package server runs the trust engine as a process.
//
// It wires storage, the redis and keycloak collaborators, the services and
// the background workers, then blocks until a stop signal arrives and shuts
// everything down in reverse order.
package server
