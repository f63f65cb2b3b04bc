package tcp

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/ValentinKolb/meshlink/mesh/transport"
	"github.com/ValentinKolb/meshlink/mesh/transport/base"
	"net"
	"strconv"
)

// clientConnector implements the IConnector interface for TCP sockets
type clientConnector struct {
	config common.ClientTransportConfig
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	if c.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.DialTimeout)
		defer cancel()
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", endpoint)
}

// UpgradeConnection applies the socket options of the transport config
func (c *clientConnector) UpgradeConnection(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm, envelopes are small and latency matters
	if err := tcpConn.SetNoDelay(c.config.TCPNoDelay); err != nil {
		return err
	}

	// Enable TCP keep-alive if configured
	if c.config.TCPKeepAlive > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(c.config.TCPKeepAlive); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPTransport creates a transport to the network API of a device.
// An endpoint without a port uses common.DefaultTCPPort.
func NewTCPTransport(config common.ClientTransportConfig) (transport.ITransport, error) {
	endpoint, err := NormalizeEndpoint(config.Endpoint)
	if err != nil {
		return nil, err
	}
	return base.NewStreamTransport(&clientConnector{config: config}, endpoint), nil
}

// NormalizeEndpoint adds the default port to a host without one
func NormalizeEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("empty tcp endpoint")
	}
	if _, _, err := net.SplitHostPort(endpoint); err == nil {
		return endpoint, nil
	}
	// host without port (IPv6 literals may come with brackets)
	host := endpoint
	if len(host) > 1 && host[0] == '[' && host[len(host)-1] == ']' {
		host = host[1 : len(host)-1]
	}
	return net.JoinHostPort(host, strconv.Itoa(common.DefaultTCPPort)), nil
}
