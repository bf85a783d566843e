package ioback

import "io"

// Null discards everything written to it and always reports empty
// content. Used as a control-flow sink for DOs whose only purpose is to
// fire events, not to carry data (spec §4.2).
type Null struct {
	size int64
}

func NewNull() *Null { return &Null{} }

func (n *Null) Write(p []byte) (int, error) {
	n.size += int64(len(p))
	return len(p), nil
}

func (n *Null) Open() (Token, error) { return 0, nil }

func (n *Null) Read(tok Token, p []byte) (int, error) { return 0, io.EOF }

func (n *Null) Close(tok Token) error { return nil }

func (n *Null) Size() int64 { return n.size }

func (n *Null) Delete() error { return nil }
