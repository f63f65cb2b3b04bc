package base

import (
	"errors"
	"net"
	"sync"
)

// ConnHandler serves one accepted connection. It returns when the peer is gone.
type ConnHandler func(conn net.Conn)

// Serve accepts connections on listener and runs handler for each of them in
// its own goroutine. It returns when the listener is closed and all handlers
// have finished.
func Serve(listener net.Listener, name string, handler ConnHandler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	Logger.Infof("Starting %s listener on %s", name, listener.Addr())

	for {
		conn, err := listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			Logger.Infof("%s listener on %s closed", name, listener.Addr())
			return nil
		}
		if err != nil {
			Logger.Errorf("Accept error: %v", err)
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			Logger.Debugf("accepted %s connection from %s", name, conn.RemoteAddr())
			handler(conn)
		}()
	}
}
