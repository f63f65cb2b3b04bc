package pipe

import (
	"context"
	"github.com/ValentinKolb/meshlink/mesh/transport"
	"github.com/ValentinKolb/meshlink/mesh/transport/base"
	"net"
	"sync"
)

// pipeConnector hands out the client end of a net.Pipe
type pipeConnector struct {
	once   sync.Once
	client net.Conn
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IConnector)
// --------------------------------------------------------------------------

func (c *pipeConnector) GetName() string {
	return "pipe"
}

func (c *pipeConnector) Connect(ctx context.Context, _ string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var conn net.Conn
	c.once.Do(func() { conn = c.client })
	if conn == nil {
		return nil, net.ErrClosed
	}
	return conn, nil
}

func (c *pipeConnector) UpgradeConnection(net.Conn) error {
	return nil
}

// --------------------------------------------------------------------------
// Factory Method
// --------------------------------------------------------------------------

// New creates an in-memory link. The returned transport is the client end,
// device is the other end and is usually served by the simulated device.
// The pipe is synchronous: every write blocks until the peer reads it.
func New(name string) (t transport.ITransport, device net.Conn) {
	client, device := net.Pipe()
	return base.NewStreamTransport(&pipeConnector{client: client}, name), device
}
