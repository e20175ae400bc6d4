// Package client implements the peer side of the Perun protocol: dialing
// a relay over any transport, the hello/response handshake, and a
// drain-and-parse loop that turns the byte stream into typed events.
// Producers and consumers both use it; producers push frames and chunks,
// consumers reconstruct delta frames and push input.
package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/AsmirZukic/Perun/internal/protocol"
	"github.com/AsmirZukic/Perun/internal/transport"
	"github.com/AsmirZukic/Perun/internal/util"
)

var (
	// ErrHandshakeTimeout is returned when the relay's handshake reply
	// does not arrive within the deadline.
	ErrHandshakeTimeout = errors.New("client: handshake timed out")

	// ErrNotConnected is returned by send helpers before Handshake
	// succeeds.
	ErrNotConnected = errors.New("client: not connected")
)

// Events receives decoded packets from Update. Any handler may be nil.
//
// OnVideoFrame receives the frame exactly as it arrived: Data is a delta
// when flags carries the delta bit. Consumers that want reconstructed
// pixels read Frame() after Update instead.
type Events struct {
	OnVideoFrame func(frame protocol.VideoFrame, flags uint8)
	OnAudioChunk func(chunk protocol.AudioChunk)
	OnInput      func(event protocol.InputEvent)
	OnConfig     func(data []byte)
	OnDebugInfo  func(data []byte)
}

// Client is a single connection to a relay. It is not safe for concurrent
// use; one goroutine dials, handshakes, and then alternates Update with
// the send helpers.
type Client struct {
	conn      transport.Conn
	buf       []byte
	readBuf   []byte
	caps      uint16
	connected bool
	nextSeq   uint16
	events    Events

	frame      []byte
	frameW     uint16
	frameH     uint16
	frameFresh bool
}

// Dial connects to a relay. Network selects the transport: "unix" with a
// socket path, "tcp" with "host:port", or "ws" with a WebSocket URL.
func Dial(network, address string) (*Client, error) {
	var (
		conn transport.Conn
		err  error
	)
	switch network {
	case "unix":
		conn, err = transport.DialLocal(address)
	case "tcp":
		conn, err = transport.DialTCP(address)
	case "ws":
		conn, err = transport.DialWebSocket(address)
	default:
		return nil, fmt.Errorf("client: unknown network %q", network)
	}
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient wraps an established transport connection. The caller still
// runs Handshake before anything else.
func NewClient(conn transport.Conn) *Client {
	return &Client{conn: conn, readBuf: make([]byte, 64*1024)}
}

// SetEvents registers the handlers invoked by Update.
func (c *Client) SetEvents(events Events) {
	c.events = events
}

// Handshake sends the hello and waits up to timeout for the relay's
// reply. On success the negotiated capability mask is recorded; bytes
// beyond the 6-byte OK stay buffered for Update.
func (c *Client) Handshake(requestedCaps uint16, timeout time.Duration) error {
	hello := protocol.CreateHello(protocol.Version, requestedCaps)
	if _, err := c.conn.Send(hello, true); err != nil {
		return fmt.Errorf("client: send hello: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		n, err := c.conn.Recv(c.readBuf)
		if n > 0 {
			c.buf = append(c.buf, c.readBuf[:n]...)
		}
		if err != nil {
			return fmt.Errorf("client: connection closed during handshake: %w", err)
		}

		if reply, size := completeResponse(c.buf); reply != nil {
			res := protocol.ProcessResponse(reply)
			if !res.Accepted {
				c.conn.Close()
				return fmt.Errorf("client: handshake rejected: %s", res.Error)
			}
			c.buf = c.buf[:copy(c.buf, c.buf[size:])]
			c.caps = res.Capabilities
			c.connected = true
			util.LogDebug("handshake complete, caps %#04x", c.caps)
			return nil
		}

		if time.Now().After(deadline) {
			c.conn.Close()
			return ErrHandshakeTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

// completeResponse reports whether buf holds a full handshake reply and
// how many bytes it spans. An ERROR reply is complete at its NUL.
func completeResponse(buf []byte) ([]byte, int) {
	if len(buf) >= protocol.OkSize && buf[0] == 'O' && buf[1] == 'K' {
		return buf[:protocol.OkSize], protocol.OkSize
	}
	if len(buf) >= 5 && string(buf[:5]) == "ERROR" {
		for i := 5; i < len(buf); i++ {
			if buf[i] == 0 {
				return buf[:i+1], i + 1
			}
		}
	}
	return nil, 0
}

// Capabilities returns the mask negotiated at handshake.
func (c *Client) Capabilities() uint16 {
	return c.caps
}

// Connected reports whether the handshake completed and the connection is
// still open.
func (c *Client) Connected() bool {
	return c.connected && c.conn.IsOpen()
}

// Close shuts the connection down.
func (c *Client) Close() {
	c.conn.Close()
	c.connected = false
}

// Update drains the connection and dispatches every complete packet to
// the registered handlers. It never blocks; call it from the peer's main
// loop.
func (c *Client) Update() error {
	if !c.connected {
		return ErrNotConnected
	}
	for {
		n, err := c.conn.Recv(c.readBuf)
		if n > 0 {
			c.buf = append(c.buf, c.readBuf[:n]...)
		}
		if err != nil {
			c.connected = false
			return fmt.Errorf("client: connection closed: %w", err)
		}
		if n == 0 {
			break
		}
	}

	for len(c.buf) >= protocol.HeaderSize {
		header, _ := protocol.DecodeHeader(c.buf)
		total := protocol.HeaderSize + int(header.Length)
		if len(c.buf) < total {
			break
		}
		c.dispatch(header, c.buf[protocol.HeaderSize:total])
		c.buf = c.buf[:copy(c.buf, c.buf[total:])]
	}
	return nil
}

func (c *Client) dispatch(h protocol.Header, payload []byte) {
	switch h.Type {
	case protocol.TypeVideoFrame:
		frame, err := protocol.DecodeVideo(payload)
		if err != nil {
			return
		}
		c.applyFrame(frame, h.Flags)
		if c.events.OnVideoFrame != nil {
			c.events.OnVideoFrame(frame, h.Flags)
		}
	case protocol.TypeAudioChunk:
		chunk, err := protocol.DecodeAudio(payload)
		if err != nil {
			return
		}
		if c.events.OnAudioChunk != nil {
			c.events.OnAudioChunk(chunk)
		}
	case protocol.TypeInputEvent:
		event, err := protocol.DecodeInput(payload)
		if err != nil {
			return
		}
		if c.events.OnInput != nil {
			c.events.OnInput(event)
		}
	case protocol.TypeConfig:
		if c.events.OnConfig != nil {
			data := make([]byte, len(payload))
			copy(data, payload)
			c.events.OnConfig(data)
		}
	case protocol.TypeDebugInfo:
		if c.events.OnDebugInfo != nil {
			data := make([]byte, len(payload))
			copy(data, payload)
			c.events.OnDebugInfo(data)
		}
	}
}

// applyFrame folds an incoming video packet into the reconstructed frame
// buffer: keyframes replace it, deltas XOR into it. A delta whose size
// does not match the current frame is dropped; the producer sends a
// keyframe soon after a resize anyway.
func (c *Client) applyFrame(frame protocol.VideoFrame, flags uint8) {
	if flags&protocol.FlagDelta != 0 {
		if len(c.frame) != len(frame.Data) || c.frameW != frame.Width || c.frameH != frame.Height {
			util.LogDebug("delta size mismatch, waiting for keyframe")
			return
		}
		protocol.ApplyDelta(c.frame, frame.Data)
	} else {
		c.frame = append(c.frame[:0], frame.Data...)
		c.frameW, c.frameH = frame.Width, frame.Height
	}
	c.frameFresh = true
}

// Frame returns the latest reconstructed video frame and whether a new
// packet arrived since the previous call. The slice is reused across
// frames; callers copy if they keep it.
func (c *Client) Frame() (data []byte, width, height uint16, fresh bool) {
	fresh = c.frameFresh
	c.frameFresh = false
	return c.frame, c.frameW, c.frameH, fresh
}

// sendPacket assembles one buffer per packet, same as the relay's send
// path.
func (c *Client) sendPacket(typ, flags uint8, payload []byte, reliable bool) error {
	if !c.connected {
		return ErrNotConnected
	}
	c.nextSeq++
	buf := make([]byte, 0, protocol.HeaderSize+len(payload))
	buf = append(buf, protocol.EncodeHeader(protocol.Header{
		Type:     typ,
		Flags:    flags,
		Sequence: c.nextSeq,
		Length:   uint32(len(payload)),
	})...)
	buf = append(buf, payload...)
	_, err := c.conn.Send(buf, reliable)
	return err
}

// SendVideoFrame pushes a producer frame, lossily.
func (c *Client) SendVideoFrame(flags uint8, frame protocol.VideoFrame) error {
	return c.sendPacket(protocol.TypeVideoFrame, flags, protocol.EncodeVideo(frame), false)
}

// SendAudioChunk pushes a producer audio chunk, reliably.
func (c *Client) SendAudioChunk(chunk protocol.AudioChunk) error {
	return c.sendPacket(protocol.TypeAudioChunk, 0, protocol.EncodeAudio(chunk), true)
}

// SendInput pushes a consumer input event, reliably.
func (c *Client) SendInput(buttons uint16) error {
	return c.sendPacket(protocol.TypeInputEvent, 0, protocol.EncodeInput(protocol.InputEvent{Buttons: buttons}), true)
}

// SendConfig pushes an opaque configuration blob, reliably.
func (c *Client) SendConfig(data []byte) error {
	return c.sendPacket(protocol.TypeConfig, 0, data, true)
}
