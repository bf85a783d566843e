// Package ioback implements the per-DO storage strategies described in
// spec §4.2: in-memory buffer, on-disk file, a transient null sink, and a
// TCP socket-listener byte source. Each backend exposes the same uniform
// write/open/read/close surface; checksum accumulation happens one layer
// up, in pkg/do, so an out-of-band-populated file has no checksum by
// design.
package ioback

import (
	"errors"
	"fmt"

	"github.com/cuemby/dfms/pkg/types"
)

// Token is an opaque read handle returned by Open and presented back to
// Read/Close (spec §3 "openFds").
type Token uint64

// Backend is the uniform I/O surface every storage strategy implements.
type Backend interface {
	// Write appends bytes to the backend's sink and returns the number
	// written.
	Write(p []byte) (int, error)
	// Open returns a new read token. The backend must support multiple
	// concurrently open tokens.
	Open() (Token, error)
	// Read returns up to len(p) bytes for the given token, or (0, io.EOF)
	// once exhausted.
	Read(tok Token, p []byte) (int, error)
	// Close releases a token; an unknown token is an error.
	Close(tok Token) error
	// Size returns the number of bytes written so far.
	Size() int64
	// Delete releases any backing resource (file, listener) held by the
	// backend. Safe to call multiple times.
	Delete() error
}

// ErrUnknownToken is returned by Read/Close for a token the backend did
// not issue (spec §3 invariant 4 / §8 invariant 4).
var ErrUnknownToken = errors.New("unknown read token")

func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, types.ErrBackendIO, err)
}
