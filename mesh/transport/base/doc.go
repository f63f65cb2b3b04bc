// Package base provides the medium independent parts of the transports.
//
// A concrete transport only implements IConnector (how to obtain a net.Conn
// and which socket options to apply); NewStreamTransport turns it into a
// transport.ITransport. Serve is the matching accept loop used by the
// simulated device.
package base
