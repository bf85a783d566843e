// Package events implements the in-process pub/sub that drives DO lifecycle
// propagation: status-change, write, and content-available notifications
// keyed by DO identity.
//
// Two Broadcaster implementations are provided, matching spec §4.1: Sync
// delivers on the firing goroutine (used in tests and single-process
// graphs where completion must be observable before write returns), and
// Threaded delivers from a dedicated per-broadcaster worker (required
// whenever a handler may itself drive a producer, to break reentrant
// cycles, and in multi-threaded graph sections). A handler that panics is
// logged and skipped; the remaining handlers in that Fire still run.
package events
