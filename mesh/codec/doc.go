// Package codec encodes and decodes the messages exchanged with the radio.
//
// The device speaks protobuf. Instead of generated code the codec writes the
// wire format by hand with google.golang.org/protobuf/encoding/protowire and
// maps it onto the plain Go types of mesh/common. Only the fields this client
// needs are decoded, unknown nested fields are skipped.
//
// Key Components:
//
//   - ICodec: envelope level encoding (ToRadio / FromRadio). NewProtoCodec
//     returns the protobuf implementation. Encoding a packet assigns a packet
//     id when the caller did not supply one.
//
//   - Forward compatibility: a FromRadio message whose top-level field is
//     unknown decodes to a message with Unhandled set (field number and raw
//     bytes) instead of failing.
//
//   - App payloads: DecodePayload turns the payload of a data packet into a
//     typed value depending on its port (text, position, user, telemetry,
//     routing, admin). The Encode* helpers build those payloads.
package codec
