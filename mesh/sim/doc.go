// Package sim provides a simulated mesh device.
//
// A Device speaks the device side of the stream protocol over any net.Conn:
// it answers want_config_id with a full config dump, heartbeats with a queue
// status, acks packets that want one and echoes want-response packets. Traffic
// from remote nodes is injected with Inject or generated with Chatter.
//
// Devices back the tests of the client package and the `meshlink sim`
// command, which serves a device over TCP so the other commands can be tried
// without hardware:
//
//	dev := sim.NewDevice(sim.DefaultConfig())
//	conn, err := client.Open(ctx, dev.Pipe(), common.DefaultConnectionConfig())
package sim
