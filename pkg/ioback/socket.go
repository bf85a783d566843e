package ioback

import (
	"io"
	"net"
	"sync"

	"github.com/cuemby/dfms/pkg/log"
)

// Forwarder lets the owning Data Object observe bytes accepted from the
// socket and the connection's end-of-stream, so that accepted bytes travel
// through the DO's normal write() path (checksum/size accounting, event
// firing, immediate-consumer delivery) instead of bypassing it. pkg/do
// wires this in immediately after constructing the backend.
type Forwarder interface {
	ForwardWrite(p []byte) (int, error)
	ForwardClose()
}

// SocketListener accepts exactly one TCP connection on (host, port) and
// reads bytes from it in a background goroutine, forwarding each chunk
// through the owning DO's write path. Reads against the backend itself
// replay from an in-memory buffer fed by those same writes (spec §4.2).
// Binding happens at construction time; a bind failure is therefore a
// construction-time error, matching spec §6.
type SocketListener struct {
	mem *Memory

	mu       sync.Mutex
	ln       net.Listener
	forward  Forwarder
	closed   bool
	acceptWG sync.WaitGroup
}

// NewSocketListener binds addr ("host:port") and returns a backend ready
// to accept one connection once SetForwarder is called. Go's net package
// already sets SO_REUSEADDR for stream listeners; binding a privileged
// port (<1024) without the necessary OS privilege surfaces as a bind
// error here, per spec §6.
func NewSocketListener(addr string) (*SocketListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, wrapIO("socket listen", err)
	}
	return &SocketListener{
		mem: NewMemory(0),
		ln:  ln,
	}, nil
}

// Addr returns the bound listen address, useful when NewSocketListener
// was called with port 0 and the OS picked an ephemeral port.
func (s *SocketListener) Addr() string { return s.ln.Addr().String() }

// SetForwarder installs the owning DO's write/close callbacks and starts
// the accept loop. Must be called exactly once, before any data arrives.
func (s *SocketListener) SetForwarder(f Forwarder) {
	s.mu.Lock()
	s.forward = f
	s.mu.Unlock()
	s.acceptWG.Add(1)
	go s.acceptLoop()
}

func (s *SocketListener) acceptLoop() {
	defer s.acceptWG.Done()
	conn, err := s.ln.Accept()
	if err != nil {
		log.WithComponent("ioback.socket").Warn().Err(err).Msg("socket listener accept failed")
		return
	}
	defer conn.Close()

	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.mu.Lock()
			fwd := s.forward
			s.mu.Unlock()
			if fwd != nil {
				if _, werr := fwd.ForwardWrite(buf[:n]); werr != nil {
					log.WithComponent("ioback.socket").Error().Err(werr).Msg("forwarding socket bytes failed")
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				log.WithComponent("ioback.socket").Warn().Err(err).Msg("socket connection read error")
			}
			break
		}
	}

	s.mu.Lock()
	fwd := s.forward
	s.mu.Unlock()
	if fwd != nil {
		fwd.ForwardClose()
	}
}

// Write stores accepted bytes for later Read calls; the owning DO's write
// path calls this after its own bookkeeping, mirroring Memory.
func (s *SocketListener) Write(p []byte) (int, error) { return s.mem.Write(p) }

func (s *SocketListener) Open() (Token, error) { return s.mem.Open() }

func (s *SocketListener) Read(tok Token, p []byte) (int, error) { return s.mem.Read(tok, p) }

func (s *SocketListener) Close(tok Token) error { return s.mem.Close(tok) }

func (s *SocketListener) Size() int64 { return s.mem.Size() }

func (s *SocketListener) Delete() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.ln.Close()
	}
	s.mu.Unlock()
	s.acceptWG.Wait()
	return s.mem.Delete()
}
