// Package cmd implements the meshlink command-line interface. It provides a
// hierarchical command structure for talking to a mesh radio and for running
// a simulated one.
//
// The package is organized into several subpackages:
//
//   - radio: Commands that connect to a device (info, nodes, text, data,
//     remove-node, stats, listen)
//   - sim: Serves a simulated device over TCP
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Try it without hardware:
//
//	meshlink sim --chatter 5s &
//	meshlink radio listen --host 127.0.0.1
//
// See meshlink -help for a list of all commands.
package cmd
