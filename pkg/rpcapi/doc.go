// Package rpcapi implements the control-surface transport spec §6
// requires between manager tiers: a request/response RPC with per-call
// timeouts, built on google.golang.org/grpc but without a protoc
// code-generation step.
//
// The service is registered by hand as a grpc.ServiceDesc (method name,
// handler function, no streaming) instead of from a generated
// _grpc.pb.go, and messages are plain Go structs carried by a small JSON
// encoding.Codec (codec.go) rather than proto.Message values. This keeps
// grpc's connection management, interceptors, and context deadlines
// without requiring generated stub sources.
package rpcapi
