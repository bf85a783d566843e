// Package manager implements the two control-surface tiers described by
// spec §4.5 and §4.6.
//
// A NodeManager owns one process's Data Objects: it instantiates a
// GraphSpec's DOs against their configured backend and stage, wires the
// requested edges at Deploy, and forwards Trigger/SetCompleted/Cancel/
// GetStatus calls to the named DO. Sessions are the unit of isolation and
// teardown; DestroySession always destroys children before parents
// (spec §9).
//
// A CompositeManager (pkg/manager's composite.go) satisfies the same
// Manager interface by fanning every call out across a set of named
// children, partitioning a GraphSpec's DOs by DOSpec.Node and rewriting
// cross-partition edges into remote-producer stubs backed by
// pkg/ioback.RemoteProxy. This mirrors the Island/Master tiers of spec
// §1: a Composite Manager never itself holds a DataObject, only a view
// over its children's.
//
// Durability covers only the session/graph-spec registry, via
// pkg/storage; DO byte content is never persisted, matching spec §1's
// explicit non-goal.
package manager
