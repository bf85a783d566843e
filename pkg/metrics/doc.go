// Package metrics exposes Prometheus counters, gauges, and histograms for
// the execution kernel: package-level collectors registered in init(), a
// Handler() for
// net/http's default promhttp exposition, and a Timer helper for
// histogram observations. The catalogue here tracks Data Object status
// transitions, bytes written, events fired, and the RPC control surface
// (spec §4, §6) rather than cluster/container/Raft state. Counters for
// backend errors and application consumer runs are registered as well,
// but nothing in this module increments them.
package metrics
