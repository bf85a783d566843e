package rpcapi

import (
	"context"
	"net"

	"github.com/cuemby/dfms/pkg/log"
	"github.com/cuemby/dfms/pkg/manager"
	"github.com/cuemby/dfms/pkg/metrics"
	"google.golang.org/grpc"
)

const serviceName = "dfms.rpcapi.Manager"

// Server exposes a manager.Manager (a NodeManager or CompositeManager)
// over the ServiceDesc below (spec §6).
type Server struct {
	mgr manager.Manager
	gs  *grpc.Server
}

// NewServer wraps mgr for RPC exposure. Transport is unauthenticated: spec
// §1 places cluster security outside this engine's scope, unlike the
// teacher's mTLS-secured control plane.
func NewServer(mgr manager.Manager) *Server {
	s := &Server{mgr: mgr}
	s.gs = grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	s.gs.RegisterService(&serviceDesc, s)
	return s
}

// Serve binds addr and blocks serving RPCs until Stop is called.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.WithComponent("rpcapi").Info().Str("addr", addr).Msg("rpc server listening")
	return s.gs.Serve(lis)
}

// Stop gracefully stops the RPC server.
func (s *Server) Stop() { s.gs.GracefulStop() }

func instrument(method string) func(err *error) {
	timer := metrics.NewTimer()
	return func(err *error) {
		status := "ok"
		if *err != nil {
			status = "error"
		}
		metrics.RPCRequestsTotal.WithLabelValues(method, status).Inc()
		timer.ObserveDurationVec(metrics.RPCRequestDuration, method)
	}
}

func (s *Server) CreateSession(ctx context.Context, req *CreateSessionRequest) (resp *CreateSessionResponse, err error) {
	defer instrument("CreateSession")(&err)
	err = s.mgr.CreateSession(req.SessionID)
	return &CreateSessionResponse{}, err
}

func (s *Server) DestroySession(ctx context.Context, req *DestroySessionRequest) (resp *DestroySessionResponse, err error) {
	defer instrument("DestroySession")(&err)
	err = s.mgr.DestroySession(req.SessionID)
	return &DestroySessionResponse{}, err
}

func (s *Server) AddGraphSpec(ctx context.Context, req *AddGraphSpecRequest) (resp *AddGraphSpecResponse, err error) {
	defer instrument("AddGraphSpec")(&err)
	err = s.mgr.AddGraphSpec(req.SessionID, req.Spec)
	return &AddGraphSpecResponse{}, err
}

func (s *Server) Deploy(ctx context.Context, req *DeployRequest) (resp *DeployResponse, err error) {
	defer instrument("Deploy")(&err)
	err = s.mgr.Deploy(req.SessionID)
	return &DeployResponse{}, err
}

func (s *Server) Trigger(ctx context.Context, req *TriggerRequest) (resp *TriggerResponse, err error) {
	defer instrument("Trigger")(&err)
	err = s.mgr.Trigger(req.SessionID, req.UID, req.Data)
	return &TriggerResponse{}, err
}

func (s *Server) SetCompleted(ctx context.Context, req *SetCompletedRequest) (resp *SetCompletedResponse, err error) {
	defer instrument("SetCompleted")(&err)
	err = s.mgr.SetCompleted(req.SessionID, req.UID)
	return &SetCompletedResponse{}, err
}

func (s *Server) Cancel(ctx context.Context, req *CancelRequest) (resp *CancelResponse, err error) {
	defer instrument("Cancel")(&err)
	err = s.mgr.Cancel(req.SessionID, req.UID)
	return &CancelResponse{}, err
}

func (s *Server) Notify(ctx context.Context, req *NotifyRequest) (resp *NotifyResponse, err error) {
	defer instrument("Notify")(&err)
	err = s.mgr.Notify(req.SessionID, req.UID, req.Status)
	return &NotifyResponse{}, err
}

func (s *Server) GetStatus(ctx context.Context, req *GetStatusRequest) (resp *GetStatusResponse, err error) {
	defer instrument("GetStatus")(&err)
	reports, err := s.mgr.GetStatus(req.SessionID)
	return &GetStatusResponse{Reports: reports}, err
}

func (s *Server) Shutdown(ctx context.Context, req *ShutdownRequest) (resp *ShutdownResponse, err error) {
	defer instrument("Shutdown")(&err)
	err = s.mgr.Shutdown()
	return &ShutdownResponse{}, err
}

func (s *Server) RegisterRemoteConsumer(ctx context.Context, req *RegisterRemoteConsumerRequest) (resp *RegisterRemoteConsumerResponse, err error) {
	defer instrument("RegisterRemoteConsumer")(&err)
	err = s.mgr.RegisterRemoteConsumer(req.SessionID, req.ProducerUID, req.ConsumerCallbackAddr)
	return &RegisterRemoteConsumerResponse{}, err
}

func (s *Server) AttachRemoteProducer(ctx context.Context, req *AttachRemoteProducerRequest) (resp *AttachRemoteProducerResponse, err error) {
	defer instrument("AttachRemoteProducer")(&err)
	err = s.mgr.AttachRemoteProducer(req.SessionID, req.ConsumerUID, req.RemoteOID, req.RemoteUID, req.RemoteAddr, req.Kind)
	return &AttachRemoteProducerResponse{}, err
}

func (s *Server) Read(ctx context.Context, req *ReadRequest) (resp *ReadResponse, err error) {
	defer instrument("Read")(&err)
	data, err := s.mgr.ReadAll(req.SessionID, req.UID)
	return &ReadResponse{Data: data}, err
}

// serviceDesc is the hand-written equivalent of what protoc would
// generate into a _grpc.pb.go (spec §12): one grpc.MethodDesc per RPC,
// each decoding into the matching request struct above and dispatching
// to the Server method of the same name.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSession", Handler: unaryHandler(func(s *Server, ctx context.Context, req *CreateSessionRequest) (interface{}, error) {
			return s.CreateSession(ctx, req)
		})},
		{MethodName: "DestroySession", Handler: unaryHandler(func(s *Server, ctx context.Context, req *DestroySessionRequest) (interface{}, error) {
			return s.DestroySession(ctx, req)
		})},
		{MethodName: "AddGraphSpec", Handler: unaryHandler(func(s *Server, ctx context.Context, req *AddGraphSpecRequest) (interface{}, error) {
			return s.AddGraphSpec(ctx, req)
		})},
		{MethodName: "Deploy", Handler: unaryHandler(func(s *Server, ctx context.Context, req *DeployRequest) (interface{}, error) {
			return s.Deploy(ctx, req)
		})},
		{MethodName: "Trigger", Handler: unaryHandler(func(s *Server, ctx context.Context, req *TriggerRequest) (interface{}, error) {
			return s.Trigger(ctx, req)
		})},
		{MethodName: "SetCompleted", Handler: unaryHandler(func(s *Server, ctx context.Context, req *SetCompletedRequest) (interface{}, error) {
			return s.SetCompleted(ctx, req)
		})},
		{MethodName: "Cancel", Handler: unaryHandler(func(s *Server, ctx context.Context, req *CancelRequest) (interface{}, error) {
			return s.Cancel(ctx, req)
		})},
		{MethodName: "Notify", Handler: unaryHandler(func(s *Server, ctx context.Context, req *NotifyRequest) (interface{}, error) {
			return s.Notify(ctx, req)
		})},
		{MethodName: "GetStatus", Handler: unaryHandler(func(s *Server, ctx context.Context, req *GetStatusRequest) (interface{}, error) {
			return s.GetStatus(ctx, req)
		})},
		{MethodName: "Shutdown", Handler: unaryHandler(func(s *Server, ctx context.Context, req *ShutdownRequest) (interface{}, error) {
			return s.Shutdown(ctx, req)
		})},
		{MethodName: "RegisterRemoteConsumer", Handler: unaryHandler(func(s *Server, ctx context.Context, req *RegisterRemoteConsumerRequest) (interface{}, error) {
			return s.RegisterRemoteConsumer(ctx, req)
		})},
		{MethodName: "AttachRemoteProducer", Handler: unaryHandler(func(s *Server, ctx context.Context, req *AttachRemoteProducerRequest) (interface{}, error) {
			return s.AttachRemoteProducer(ctx, req)
		})},
		{MethodName: "Read", Handler: unaryHandler(func(s *Server, ctx context.Context, req *ReadRequest) (interface{}, error) {
			return s.Read(ctx, req)
		})},
	},
	Metadata: "rpcapi.proto",
}

// unaryHandler adapts a typed (*Server, context.Context, *Req) -> (resp,
// error) function into the untyped grpc.methodHandler signature every
// grpc.MethodDesc requires, decoding req with the request's own zero
// value so the generic json codec has a concrete type to unmarshal into.
func unaryHandler[Req any](fn func(*Server, context.Context, *Req) (interface{}, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		s := srv.(*Server)
		if interceptor == nil {
			return fn(s, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + serviceName + "/"}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(s, ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}
