// Package protocol defines the Perun wire format: the packet header, the
// typed payloads carried behind it, and the 15/6-byte handshake exchange.
// Every multi-byte integer on the wire is big-endian.
package protocol

import "errors"

// Version is the protocol version carried in the handshake.
const Version uint16 = 1

// Packet type constants.
const (
	TypeVideoFrame uint8 = 0x01 // video pixels or XOR delta
	TypeAudioChunk uint8 = 0x02 // signed 16-bit PCM samples
	TypeInputEvent uint8 = 0x03 // controller button bitmask
	TypeConfig     uint8 = 0x04 // opaque configuration blob
	TypeDebugInfo  uint8 = 0x05 // opaque debug payload
)

// Packet flag bits. Bits 1-2 are reserved for a compression level that no
// current peer implements; they must stay zero on the wire.
const (
	FlagDelta     uint8 = 0x01
	FlagCompress1 uint8 = 0x02
	FlagCompress2 uint8 = 0x04
)

// Capability bits negotiated at handshake.
const (
	CapDelta uint16 = 0x01
	CapAudio uint16 = 0x02
	CapDebug uint16 = 0x04

	// CapAll is the default server capability mask.
	CapAll uint16 = CapDelta | CapAudio | CapDebug
)

// HeaderSize is the fixed packet header size:
// Type(1) + Flags(1) + Sequence(2) + Length(4).
const HeaderSize = 8

// ErrTruncated is returned by decoders when the input is shorter than the
// minimal frame. Callers recover by waiting for more bytes.
var ErrTruncated = errors.New("protocol: truncated")

// Header is the 8-byte packet header preceding every payload.
type Header struct {
	Type     uint8
	Flags    uint8
	Sequence uint16
	Length   uint32 // payload length in bytes
}

// VideoFrame is the decoded payload of a TypeVideoFrame packet. Data is
// opaque pixel bytes, or an XOR delta when the packet carried FlagDelta.
type VideoFrame struct {
	Width  uint16
	Height uint16
	Data   []byte
}

// AudioChunk is the decoded payload of a TypeAudioChunk packet.
type AudioChunk struct {
	SampleRate uint16
	Channels   uint8
	Samples    []int16
}

// InputEvent is the decoded payload of a TypeInputEvent packet.
type InputEvent struct {
	Buttons  uint16 // bitmask of pressed buttons
	Reserved uint16 // must be zero
}
