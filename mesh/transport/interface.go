package transport

import (
	"context"
	"io"
	"time"
)

// --------------------------------------------------------------------------
// Transport Contract
// --------------------------------------------------------------------------

// ITransport is a bidirectional byte stream to a radio device. The
// connection reads from it in a single reader goroutine and writes to it
// from a single writer goroutine, implementations do not have to support
// concurrent reads or concurrent writes.
type ITransport interface {
	// Open establishes the link. It must be called once before Read or Write.
	Open(ctx context.Context) error

	// Read reads raw bytes from the device. Envelope boundaries are not
	// preserved, the caller reassembles them.
	Read(p []byte) (int, error)

	// Write writes raw bytes to the device
	Write(p []byte) (int, error)

	// Close closes the link and unblocks a pending Read
	Close() error

	// Name returns a human readable description (e.g. "tcp://10.0.0.5:4403")
	Name() string
}

// --------------------------------------------------------------------------
// Optional Capabilities
// --------------------------------------------------------------------------

// IWaker is implemented by transports that need a wake preamble before the
// first envelope (e.g. serial links to a sleeping device)
type IWaker interface {
	Wake(ctx context.Context) error
}

// IFlusher is implemented by buffered transports. Flush is called after
// every envelope.
type IFlusher interface {
	Flush() error
}

// IDeadliner is implemented by transports that support write deadlines
type IDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

var _ io.ReadWriteCloser = ITransport(nil)
