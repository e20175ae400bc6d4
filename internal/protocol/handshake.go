package protocol

import (
	"bytes"
	"encoding/binary"
)

// helloMagic opens every client hello. The full hello is the magic, a
// big-endian version, and a big-endian requested-capability mask.
const helloMagic = "PERUN_HELLO"

// HelloSize is the exact wire size of a client hello.
const HelloSize = len(helloMagic) + 4

// OkSize is the exact wire size of a positive handshake reply.
const OkSize = 6

// Handshake rejection reasons, sent verbatim in the ERROR reply.
const (
	errTooShort   = "Handshake too short"
	errBadMagic   = "Invalid magic string"
	errBadVersion = "Unsupported protocol version"
)

// HandshakeResult is the outcome of processing a hello or a server reply.
type HandshakeResult struct {
	Accepted     bool
	Version      uint16
	Capabilities uint16
	Error        string
}

// CreateHello builds the 15-byte client hello.
func CreateHello(version, caps uint16) []byte {
	buf := make([]byte, HelloSize)
	copy(buf, helloMagic)
	binary.BigEndian.PutUint16(buf[11:13], version)
	binary.BigEndian.PutUint16(buf[13:15], caps)
	return buf
}

// ProcessHello validates a client hello against serverCaps. The negotiated
// capability mask is the intersection of the client's requested bits and
// serverCaps; unknown client bits are silently dropped. Exactly HelloSize
// bytes are examined; callers leave anything beyond that in their buffer.
func ProcessHello(data []byte, serverCaps uint16) HandshakeResult {
	if len(data) < HelloSize {
		return HandshakeResult{Error: errTooShort}
	}
	if !bytes.Equal(data[:11], []byte(helloMagic)) {
		return HandshakeResult{Error: errBadMagic}
	}
	version := binary.BigEndian.Uint16(data[11:13])
	if version != Version {
		return HandshakeResult{Version: version, Error: errBadVersion}
	}
	caps := binary.BigEndian.Uint16(data[13:15])
	return HandshakeResult{
		Accepted:     true,
		Version:      Version,
		Capabilities: caps & serverCaps,
	}
}

// CreateOk builds the 6-byte positive handshake reply.
func CreateOk(version, caps uint16) []byte {
	buf := make([]byte, OkSize)
	buf[0], buf[1] = 'O', 'K'
	binary.BigEndian.PutUint16(buf[2:4], version)
	binary.BigEndian.PutUint16(buf[4:6], caps)
	return buf
}

// CreateError builds a negative handshake reply: "ERROR", the ASCII
// message, and a trailing NUL.
func CreateError(msg string) []byte {
	buf := make([]byte, 0, 6+len(msg))
	buf = append(buf, "ERROR"...)
	buf = append(buf, msg...)
	return append(buf, 0)
}

// ProcessResponse parses a server handshake reply on the client side.
func ProcessResponse(data []byte) HandshakeResult {
	if len(data) >= OkSize && data[0] == 'O' && data[1] == 'K' {
		return HandshakeResult{
			Accepted:     true,
			Version:      binary.BigEndian.Uint16(data[2:4]),
			Capabilities: binary.BigEndian.Uint16(data[4:6]),
		}
	}
	if len(data) >= 5 && bytes.Equal(data[:5], []byte("ERROR")) {
		msg := data[5:]
		if i := bytes.IndexByte(msg, 0); i >= 0 {
			msg = msg[:i]
		}
		if len(msg) == 0 {
			return HandshakeResult{Error: "Unknown error"}
		}
		return HandshakeResult{Error: string(msg)}
	}
	return HandshakeResult{Error: "Invalid response format"}
}
