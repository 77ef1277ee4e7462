// Package channel provides the duplex byte sources a terminal session reads
// from: a deterministic mock shell, a live SSH shell and a local PTY shell.
package channel

import (
	"context"
	"errors"
)

// DefaultReadSize bounds a single Read when the caller passes a non-positive
// max.
const DefaultReadSize = 4096

// ErrClosed is returned by operations on a closed source.
var ErrClosed = errors.New("channel: closed")

// Source is an already-open duplex byte channel.
//
// Read is called from a single goroutine (the session read loop). It waits at
// most for the source's poll timeout and returns nil, nil when no data
// arrived in that time, so a caller can observe cancellation promptly. End of
// stream is reported as io.EOF; any error from Read is terminal.
//
// Write may be called concurrently with Read.
type Source interface {
	Read(ctx context.Context, max int) ([]byte, error)
	Write(p []byte) (int, error)
	// Alive reports false once the stream ended, failed or was closed.
	Alive() bool
	Close() error
}

// Resizer is implemented by sources that can change the remote window size.
type Resizer interface {
	Resize(cols, rows int) error
}

func readSize(max int) int {
	if max <= 0 {
		return DefaultReadSize
	}
	return max
}
