// Package storage persists a Node Manager's session registry and graph
// descriptors across restarts, using go.etcd.io/bbolt. Data Object byte
// content is never stored here:
// spec §1 places durable DO content out of scope, so a restarted manager
// recreates its sessions' DOs INITIALIZED rather than replaying writes.
package storage
