package common

import (
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	// DefaultTCPPort is the port of the device's network API
	DefaultTCPPort = 4403
	// DefaultMaxEnvelopeSize is the largest payload the firmware accepts in one envelope
	DefaultMaxEnvelopeSize = 512

	DefaultRequestTimeout    = 300 * time.Second
	DefaultHandshakeTimeout  = 30 * time.Second
	DefaultIdleInterval      = 60 * time.Second
	DefaultKeepaliveDeadline = 20 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultDialTimeout       = 10 * time.Second

	// DefaultMinFirmwareVersion is the oldest firmware the codec is known to work with
	DefaultMinFirmwareVersion = "2.0.0"
)

// --------------------------------------------------------------------------
// Transport configuration struct
// --------------------------------------------------------------------------

type TransportType string

const (
	TransportTCP TransportType = "tcp"
)

// ClientTransportConfig selects and configures the transport used by client.Dial
type ClientTransportConfig struct {
	// Type of the transport, currently only "tcp"
	Type TransportType
	// Endpoint is host[:port] for tcp
	Endpoint string
	// DialTimeout bounds the time spent opening the transport
	DialTimeout time.Duration

	// TCP socket options, ignored by other transports
	TCPNoDelay   bool
	TCPKeepAlive time.Duration // 0 disables keep-alive probes of the socket
}

// --------------------------------------------------------------------------
// Connection configuration struct
// --------------------------------------------------------------------------

// ConnectionConfig holds all configuration parameters of a single connection.
type ConnectionConfig struct {
	Transport ClientTransportConfig

	// RequestTimeout is the default time a caller waits for an ack or response
	RequestTimeout time.Duration
	// HandshakeTimeout bounds the config handshake, Open fails when it expires
	HandshakeTimeout time.Duration

	// IdleInterval is the time without inbound data after which a heartbeat probe is sent
	IdleInterval time.Duration
	// KeepaliveDeadline is the time the device has to answer a probe
	KeepaliveDeadline time.Duration
	// WriteTimeout bounds a single transport write (when the transport supports deadlines)
	WriteTimeout time.Duration

	// MaxEnvelopeSize is the largest accepted payload length
	MaxEnvelopeSize int

	// MinFirmwareVersion is compared against the firmware reported in the handshake.
	// Older firmware only produces a warning. Empty disables the check.
	MinFirmwareVersion string

	// Logging configuration
	LogLevel string
}

// DefaultConnectionConfig returns a config with all defaults set
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Transport: ClientTransportConfig{
			Type:        TransportTCP,
			Endpoint:    fmt.Sprintf("localhost:%d", DefaultTCPPort),
			DialTimeout: DefaultDialTimeout,
			TCPNoDelay:  true,
		},
		RequestTimeout:     DefaultRequestTimeout,
		HandshakeTimeout:   DefaultHandshakeTimeout,
		IdleInterval:       DefaultIdleInterval,
		KeepaliveDeadline:  DefaultKeepaliveDeadline,
		WriteTimeout:       DefaultWriteTimeout,
		MaxEnvelopeSize:    DefaultMaxEnvelopeSize,
		MinFirmwareVersion: DefaultMinFirmwareVersion,
		LogLevel:           "info",
	}
}

// WithDefaults returns a copy of the config where every zero value is
// replaced by its default
func (c ConnectionConfig) WithDefaults() ConnectionConfig {
	d := DefaultConnectionConfig()
	if c.Transport.Type == "" {
		c.Transport.Type = d.Transport.Type
	}
	if c.Transport.Endpoint == "" {
		c.Transport.Endpoint = d.Transport.Endpoint
	}
	if c.Transport.DialTimeout <= 0 {
		c.Transport.DialTimeout = d.Transport.DialTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = d.IdleInterval
	}
	if c.KeepaliveDeadline <= 0 {
		c.KeepaliveDeadline = d.KeepaliveDeadline
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxEnvelopeSize <= 0 {
		c.MaxEnvelopeSize = d.MaxEnvelopeSize
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	return c
}

// Validate checks the config for values that can not work
func (c ConnectionConfig) Validate() error {
	if c.MaxEnvelopeSize > 0xFFFF {
		return fmt.Errorf("max envelope size %d does not fit the 16 bit length field", c.MaxEnvelopeSize)
	}
	if c.IdleInterval > 0 && c.KeepaliveDeadline > 0 && c.KeepaliveDeadline > c.IdleInterval*10 {
		return fmt.Errorf("keepalive deadline %s is unreasonably large for idle interval %s", c.KeepaliveDeadline, c.IdleInterval)
	}
	if c.Transport.Type != "" && c.Transport.Type != TransportTCP {
		return fmt.Errorf("unsupported transport type %q", c.Transport.Type)
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ConnectionConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Transport")
	addField("Type", string(c.Transport.Type))
	addField("Endpoint", c.Transport.Endpoint)
	addField("Dial Timeout", c.Transport.DialTimeout.String())
	addField("TCP No Delay", fmt.Sprintf("%t", c.Transport.TCPNoDelay))
	addField("TCP Keep-Alive", c.Transport.TCPKeepAlive.String())

	addSection("Requests")
	addField("Request Timeout", c.RequestTimeout.String())
	addField("Handshake Timeout", c.HandshakeTimeout.String())
	addField("Write Timeout", c.WriteTimeout.String())
	addField("Max Envelope Size", fmt.Sprintf("%d bytes", c.MaxEnvelopeSize))

	addSection("Liveness")
	addField("Idle Interval", c.IdleInterval.String())
	addField("Keepalive Deadline", c.KeepaliveDeadline.String())

	addSection("Device")
	if c.MinFirmwareVersion == "" {
		addField("Min Firmware", "(not checked)")
	} else {
		addField("Min Firmware", c.MinFirmwareVersion)
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
