package ioback

import (
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/dfms/pkg/types"
)

// RemoteProxy is the Backend behind a cross-manager producer stub (spec
// §4.6 "the DO is replaced by a remote stub whose operations are RPC
// calls"). It never accepts local writes: its owning DataObject is
// completed by a Notify callback, not by anything written through this
// process, and its bytes are pulled lazily via fetch the first time a
// reader opens it; after a successful fetch they are cached.
type RemoteProxy struct {
	fetch func() ([]byte, error)

	mu      sync.Mutex
	fetched bool
	data    []byte
	readers map[Token]int
	nextTok Token
}

// NewRemoteProxy builds a RemoteProxy backend that calls fetch on the
// first Open to pull the producer's full content over the control-surface
// RPC (pkg/rpcapi). A failed fetch is not cached: the next Open calls
// fetch again, and once one succeeds it is never called again.
func NewRemoteProxy(fetch func() ([]byte, error)) *RemoteProxy {
	return &RemoteProxy{fetch: fetch, readers: make(map[Token]int)}
}

func (r *RemoteProxy) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("remote proxy write: %w: a remote producer stub cannot be written to locally", types.ErrInvalidState)
}

func (r *RemoteProxy) Open() (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.fetched {
		data, err := r.fetch()
		if err != nil {
			return 0, wrapIO("remote proxy fetch", err)
		}
		r.data = data
		r.fetched = true
	}
	r.nextTok++
	tok := r.nextTok
	r.readers[tok] = 0
	return tok, nil
}

func (r *RemoteProxy) Read(tok Token, p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	off, ok := r.readers[tok]
	if !ok {
		return 0, ErrUnknownToken
	}
	if off >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	r.readers[tok] = off + n
	return n, nil
}

func (r *RemoteProxy) Close(tok Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.readers[tok]; !ok {
		return ErrUnknownToken
	}
	delete(r.readers, tok)
	return nil
}

func (r *RemoteProxy) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.data))
}

func (r *RemoteProxy) Delete() error { return nil }
