package rpcapi

import "github.com/cuemby/dfms/pkg/types"

// Request/response pairs for the Manager service, one per spec §4.5/§4.6
// operation. These stand in for protoc-generated message types (see
// codec.go): plain structs, JSON-coded, carried over grpc's framing.

type CreateSessionRequest struct{ SessionID string }
type CreateSessionResponse struct{}

type DestroySessionRequest struct{ SessionID string }
type DestroySessionResponse struct{}

type AddGraphSpecRequest struct {
	SessionID string
	Spec      types.GraphSpec
}
type AddGraphSpecResponse struct{}

type DeployRequest struct{ SessionID string }
type DeployResponse struct{}

type TriggerRequest struct {
	SessionID string
	UID       string
	Data      []byte
}
type TriggerResponse struct{}

type SetCompletedRequest struct {
	SessionID string
	UID       string
}
type SetCompletedResponse struct{}

type CancelRequest struct {
	SessionID string
	UID       string
}
type CancelResponse struct{}

// NotifyRequest carries a remote status-change callback (spec §4.6); the
// receiving manager applies it idempotently.
type NotifyRequest struct {
	SessionID string
	UID       string
	Status    types.Status
}
type NotifyResponse struct{}

type GetStatusRequest struct{ SessionID string }
type GetStatusResponse struct{ Reports []types.StatusReport }

type ShutdownRequest struct{}
type ShutdownResponse struct{}

type RegisterRemoteConsumerRequest struct {
	SessionID            string
	ProducerUID          string
	ConsumerCallbackAddr string
}
type RegisterRemoteConsumerResponse struct{}

type AttachRemoteProducerRequest struct {
	SessionID   string
	ConsumerUID string
	RemoteOID   string
	RemoteUID   string
	RemoteAddr  string
	Kind        types.ConsumerKind
}
type AttachRemoteProducerResponse struct{}

// ReadRequest/ReadResponse answer a RemoteReader's lazy fetch of a
// completed producer's full content (spec §4.6).
type ReadRequest struct {
	SessionID string
	UID       string
}
type ReadResponse struct{ Data []byte }
