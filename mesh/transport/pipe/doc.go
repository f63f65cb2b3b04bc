// Package pipe implements an in-memory transport on top of net.Pipe. It
// connects a client to a simulated device inside one process and is the
// mock transport of the client tests.
package pipe
