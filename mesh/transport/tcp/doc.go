// Package tcp implements the transport to the network API of a device
// (WiFi or Ethernet capable boards, TCP port 4403), and the listener used
// by the simulated device.
package tcp
