package rpcapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/dfms/pkg/manager"
	"github.com/cuemby/dfms/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// callTimeout bounds every individual RPC so a stuck child manager cannot
// wedge a composite operation forever.
const callTimeout = 10 * time.Second

// Client dials a remote manager's rpcapi.Server and satisfies
// manager.Manager, so a CompositeManager can hold a Client as a child
// exactly like it holds a local NodeManager (spec §4.6).
type Client struct {
	addr string
	mu   sync.Mutex
	conn *grpc.ClientConn
}

var _ manager.Manager = (*Client)(nil)

// Dial connects to a manager listening at addr. The connection is lazy:
// grpc itself only establishes the TCP stream on first RPC, so Dial
// returning successfully does not by itself prove addr is reachable.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn}, nil
}

func (c *Client) Addr() string { return c.addr }

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req, resp interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp)
}

func (c *Client) CreateSession(sessionID string) error {
	return c.call(context.Background(), "CreateSession", &CreateSessionRequest{SessionID: sessionID}, &CreateSessionResponse{})
}

func (c *Client) DestroySession(sessionID string) error {
	return c.call(context.Background(), "DestroySession", &DestroySessionRequest{SessionID: sessionID}, &DestroySessionResponse{})
}

func (c *Client) AddGraphSpec(sessionID string, spec types.GraphSpec) error {
	return c.call(context.Background(), "AddGraphSpec", &AddGraphSpecRequest{SessionID: sessionID, Spec: spec}, &AddGraphSpecResponse{})
}

func (c *Client) Deploy(sessionID string) error {
	return c.call(context.Background(), "Deploy", &DeployRequest{SessionID: sessionID}, &DeployResponse{})
}

func (c *Client) Trigger(sessionID, uid string, data []byte) error {
	return c.call(context.Background(), "Trigger", &TriggerRequest{SessionID: sessionID, UID: uid, Data: data}, &TriggerResponse{})
}

func (c *Client) SetCompleted(sessionID, uid string) error {
	return c.call(context.Background(), "SetCompleted", &SetCompletedRequest{SessionID: sessionID, UID: uid}, &SetCompletedResponse{})
}

func (c *Client) Cancel(sessionID, uid string) error {
	return c.call(context.Background(), "Cancel", &CancelRequest{SessionID: sessionID, UID: uid}, &CancelResponse{})
}

func (c *Client) Notify(sessionID, uid string, status types.Status) error {
	return c.call(context.Background(), "Notify", &NotifyRequest{SessionID: sessionID, UID: uid, Status: status}, &NotifyResponse{})
}

func (c *Client) GetStatus(sessionID string) ([]types.StatusReport, error) {
	resp := &GetStatusResponse{}
	if err := c.call(context.Background(), "GetStatus", &GetStatusRequest{SessionID: sessionID}, resp); err != nil {
		return nil, err
	}
	return resp.Reports, nil
}

func (c *Client) Shutdown() error {
	return c.call(context.Background(), "Shutdown", &ShutdownRequest{}, &ShutdownResponse{})
}

func (c *Client) RegisterRemoteConsumer(sessionID, producerUID, consumerCallbackAddr string) error {
	return c.call(context.Background(), "RegisterRemoteConsumer", &RegisterRemoteConsumerRequest{
		SessionID: sessionID, ProducerUID: producerUID, ConsumerCallbackAddr: consumerCallbackAddr,
	}, &RegisterRemoteConsumerResponse{})
}

func (c *Client) AttachRemoteProducer(sessionID, consumerUID, remoteOID, remoteUID, remoteAddr string, kind types.ConsumerKind) error {
	return c.call(context.Background(), "AttachRemoteProducer", &AttachRemoteProducerRequest{
		SessionID: sessionID, ConsumerUID: consumerUID, RemoteOID: remoteOID, RemoteUID: remoteUID,
		RemoteAddr: remoteAddr, Kind: kind,
	}, &AttachRemoteProducerResponse{})
}

func (c *Client) ReadAll(sessionID, uid string) ([]byte, error) {
	resp := &ReadResponse{}
	if err := c.call(context.Background(), "Read", &ReadRequest{SessionID: sessionID, UID: uid}, resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// dialCache reuses one Client per remote address so repeated
// RegisterRemoteConsumer/AttachRemoteProducer calls against the same
// peer do not each open a new connection.
var (
	dialCacheMu sync.Mutex
	dialCache   = map[string]*Client{}
)

func dialCached(addr string) (*Client, error) {
	dialCacheMu.Lock()
	defer dialCacheMu.Unlock()
	if c, ok := dialCache[addr]; ok {
		return c, nil
	}
	c, err := Dial(addr)
	if err != nil {
		return nil, err
	}
	dialCache[addr] = c
	return c, nil
}

// Notifier returns a manager.RemoteNotifier that delivers status changes
// to whatever address a NodeManager's RegisterRemoteConsumer is told to
// call back, dialing lazily and reusing the connection across calls.
// Wire it into a NodeManager with SetRemoteNotifier at startup (spec
// §4.6).
func Notifier() manager.RemoteNotifier {
	return func(addr, sessionID, uid string, status types.Status) error {
		c, err := dialCached(addr)
		if err != nil {
			return err
		}
		return c.Notify(sessionID, uid, status)
	}
}

// Reader returns a manager.RemoteReader that fetches a completed
// producer's full content from a remote manager, for use by
// ioback.RemoteProxy stubs created through AttachRemoteProducer. Wire it
// into a NodeManager with SetRemoteReader at startup (spec §4.6).
func Reader() manager.RemoteReader {
	return func(addr, sessionID, uid string) ([]byte, error) {
		c, err := dialCached(addr)
		if err != nil {
			return nil, err
		}
		return c.ReadAll(sessionID, uid)
	}
}
