// Package types holds the data model shared across dfms: DO status codes,
// the graph descriptor wire shape (DOSpec/EdgeSpec/GraphSpec), and the
// error taxonomy used throughout the execution kernel.
//
// Nothing here owns behavior; pkg/do, pkg/manager, and pkg/rpcapi import
// these types but the state machine and triggering rules live elsewhere.
package types
