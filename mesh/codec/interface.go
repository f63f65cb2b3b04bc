package codec

import "github.com/ValentinKolb/meshlink/mesh/common"

// ICodec is the interface for all envelope codecs
type ICodec interface {
	// EncodeToRadio serializes a message for the device.
	// A packet without an id gets one assigned, the id is written back into
	// msg.Packet so the caller can correlate the response.
	EncodeToRadio(msg *common.ToRadio) ([]byte, error)
	// DecodeToRadio deserializes a message sent to the device
	DecodeToRadio(b []byte) (*common.ToRadio, error)
	// EncodeFromRadio serializes a message sent by a device
	EncodeFromRadio(msg *common.FromRadio) ([]byte, error)
	// DecodeFromRadio deserializes a message sent by the device.
	// An unknown top-level field yields a message with Unhandled set.
	// Errors are always *common.DecodeError.
	DecodeFromRadio(b []byte) (*common.FromRadio, error)
}

// IDSource draws packet ids. It must never return 0.
type IDSource func() uint32
