// Package ioback's backends are deliberately dumb: none of them knows
// about DO status, checksums, or consumers. pkg/do is the only caller and
// is responsible for sequencing Write/Open/Read/Close against its own
// state machine.
package ioback
