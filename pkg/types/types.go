package types

import "time"

// Status represents the lifecycle state of a Data Object. The numeric
// values are part of the external contract (spec §6) and must not change.
type Status int

const (
	StatusInitialized Status = 0
	StatusWriting     Status = 1
	StatusCompleted   Status = 2
	StatusExpired     Status = 3
	StatusCancelled   Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "INITIALIZED"
	case StatusWriting:
		return "WRITING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusExpired:
		return "EXPIRED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ExecutionMode controls who advances a DO's deferred consumers once it
// completes (spec §4.3).
type ExecutionMode int

const (
	// ModeDO means the DO itself schedules its deferred consumers on
	// completion.
	ModeDO ExecutionMode = iota
	// ModeExternal means deferred consumers are marked eligible but an
	// external driver must invoke consume() explicitly.
	ModeExternal
)

// BackendKind selects the I/O backend a Data Object is instantiated with
// (spec §4.2).
type BackendKind string

const (
	BackendMemory BackendKind = "memory"
	BackendFile   BackendKind = "file"
	BackendNull   BackendKind = "null"
	BackendSocket BackendKind = "socket"
)

// ConsumerKind distinguishes how a consumer edge is wired into a producer
// (spec §6).
type ConsumerKind string

const (
	EdgeConsumer  ConsumerKind = "consumer"  // deferred
	EdgeImmediate ConsumerKind = "immediate" // immediate
	EdgeChild     ConsumerKind = "child"     // container child
)

// Option is a single recognized appInitialize option (spec §4.4). The
// engine never interprets Value; it is opaque configuration handed to the
// stage's AppInitialize.
type Option struct {
	Name  string
	Value interface{}
}

// DOSpec describes a single Data Object as part of a graph descriptor
// (spec §6).
type DOSpec struct {
	OID     string
	UID     string
	Backend BackendKind
	// Stage names a registered application-consumer/container stage, or
	// "" for a plain data-holding DO.
	Stage string
	// Node targets a manager name; only meaningful to a Composite Manager,
	// optional on a bare Node Manager.
	Node string
	// ExpectedSize, if >0, auto-triggers COMPLETED once reached.
	ExpectedSize int64
	// Mode selects DO vs EXTERNAL triggering; defaults to ModeDO.
	Mode ExecutionMode
	// Options are passed verbatim to the stage's AppInitialize.
	Options []Option
	// SocketAddr is required when Backend == BackendSocket ("host:port").
	SocketAddr string
	// FileDir overrides the directory a File backend writes under; if
	// empty a deterministic per-manager default is used.
	FileDir string
}

// EdgeSpec wires one producer DO to one consumer DO (spec §6).
type EdgeSpec struct {
	ProducerUID string
	ConsumerUID string
	Kind        ConsumerKind
}

// GraphSpec is the full descriptor for a subgraph: DOs plus the edges
// between them (spec §6).
type GraphSpec struct {
	DOs   []DOSpec
	Edges []EdgeSpec
}

// StatusReport is returned by getStatus for a single DO (spec §4.5).
type StatusReport struct {
	OID       string
	UID       string
	Status    Status
	Size      int64
	Checksum  *uint32
	UpdatedAt time.Time
}
