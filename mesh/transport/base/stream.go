package base

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/ValentinKolb/meshlink/mesh/transport"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"sync"
	"time"
)

var Logger = logger.GetLogger("mesh/transport")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IConnector defines the transport-specific part of a net.Conn based transport
type IConnector interface {
	// Connect establishes the connection to the endpoint
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g. "tcp", "pipe")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// streamTransport implements transport.ITransport on top of a net.Conn
// independent of the specific medium (tcp, in-memory pipe, ...)
type streamTransport struct {
	connector IConnector
	endpoint  string
	conn      net.Conn
	mu        sync.Mutex // protects conn and closed
	closed    bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, pipe, etc.)
// -----------------------------------------------------------

// NewStreamTransport creates a transport that uses connector to open endpoint
func NewStreamTransport(connector IConnector, endpoint string) transport.ITransport {
	return &streamTransport{
		connector: connector,
		endpoint:  endpoint,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (t *streamTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return &common.TransportError{Op: "open", Err: net.ErrClosed}
	}
	if t.conn != nil {
		return &common.TransportError{Op: "open", Err: fmt.Errorf("%s already open", t.Name())}
	}

	conn, err := t.connector.Connect(ctx, t.endpoint)
	if err != nil {
		return &common.TransportError{Op: "open", Err: fmt.Errorf("failed to connect to %s: %w", t.endpoint, err)}
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn); err != nil {
		conn.Close()
		return &common.TransportError{Op: "open", Err: fmt.Errorf("failed to upgrade connection to %s: %w", t.endpoint, err)}
	}

	t.conn = conn
	Logger.Infof("opened %s", t.Name())
	return nil
}

func (t *streamTransport) Read(p []byte) (int, error) {
	conn, err := t.current()
	if err != nil {
		return 0, err
	}
	return conn.Read(p)
}

func (t *streamTransport) Write(p []byte) (int, error) {
	conn, err := t.current()
	if err != nil {
		return 0, err
	}
	return conn.Write(p)
}

func (t *streamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.conn == nil {
		return nil
	}
	Logger.Debugf("closing %s", t.Name())
	return t.conn.Close()
}

func (t *streamTransport) Name() string {
	return fmt.Sprintf("%s://%s", t.connector.GetName(), t.endpoint)
}

// --------------------------------------------------------------------------
// Capability Methods (docu see transport.IDeadliner)
// --------------------------------------------------------------------------

func (t *streamTransport) SetWriteDeadline(deadline time.Time) error {
	conn, err := t.current()
	if err != nil {
		return err
	}
	return conn.SetWriteDeadline(deadline)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// current returns the open connection
func (t *streamTransport) current() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.closed:
		return nil, net.ErrClosed
	case t.conn == nil:
		return nil, fmt.Errorf("%s is not open", t.Name())
	}
	return t.conn, nil
}
