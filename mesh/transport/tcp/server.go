package tcp

import (
	"fmt"
	"github.com/ValentinKolb/meshlink/mesh/transport/base"
	"net"
)

// Listen creates a TCP listener for the device side of the protocol
func Listen(endpoint string) (net.Listener, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create tcp listener: %w", err)
	}
	return listener, nil
}

// Serve accepts TCP connections on listener and hands each to handler.
// It returns nil once the listener is closed.
func Serve(listener net.Listener, handler base.ConnHandler) error {
	return base.Serve(listener, "tcp", func(conn net.Conn) {
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
		handler(conn)
	})
}
