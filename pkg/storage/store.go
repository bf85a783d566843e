package storage

import "github.com/cuemby/dfms/pkg/types"

// Store persists the durable part of a Node Manager's state across a
// process restart: the set of sessions and the graph descriptors added to
// each. DO byte content is explicitly not durable (spec §1 Non-goals), so
// a restored session comes back with its DOs re-instantiated but
// INITIALIZED, not replaying any writes.
type Store interface {
	// CreateSession records a new, empty session.
	CreateSession(sessionID string) error
	// DeleteSession removes a session and every graph spec added to it.
	DeleteSession(sessionID string) error
	// ListSessions returns every known session ID.
	ListSessions() ([]string, error)

	// AddGraphSpec appends spec to sessionID's recorded descriptor.
	AddGraphSpec(sessionID string, spec types.GraphSpec) error
	// GraphSpecs returns every graph spec added to sessionID, in order.
	GraphSpecs(sessionID string) ([]types.GraphSpec, error)

	// Close releases the underlying database handle.
	Close() error
}
