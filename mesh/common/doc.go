// Package common holds the data structures shared by every layer of the mesh
// client: the decoded protocol messages, node and packet types, the
// connection configuration, the error taxonomy and the logger setup.
//
// The package focuses on:
//   - A Go representation of the radio protocol (FromRadio/ToRadio envelopes,
//     mesh packets, node info, telemetry, routing and admin payloads)
//   - Factory functions for the messages a client or a simulated device sends
//   - Configuration structs with sane defaults for a connection
//   - Errors that let callers tell a silent device apart from a dropped link
//
// Key Components:
//
//   - FromRadio / ToRadio: decoded messages. Which fields are used depends on
//     the Kind of the message (similar to a protobuf oneof).
//
//   - MeshPacket: a packet travelling through the mesh, addressed by NodeNum and
//     carrying an application payload selected by PortNum.
//
//   - ConnectionConfig: timeouts, liveness intervals and transport settings of
//     one connection. DefaultConnectionConfig returns the defaults.
//
//   - InitLoggers: installs the custom log formatter for all named loggers of
//     this module.
package common
