package relay

import "github.com/AsmirZukic/Perun/internal/protocol"

// Callbacks is the sink the host registers for relay events. Methods are
// invoked synchronously from Update on the relay's goroutine, in wire
// order per connection; they must not block for long or every peer is
// delayed.
type Callbacks interface {
	// OnClientConnected fires once a client completes its handshake.
	OnClientConnected(id int, capabilities uint16)

	// OnClientDisconnected fires when a handshaken client's connection
	// closes. Clients that never completed the handshake do not appear.
	OnClientDisconnected(id int)

	OnVideoFrameReceived(id int, frame protocol.VideoFrame, flags uint8)
	OnAudioChunkReceived(id int, chunk protocol.AudioChunk)
	OnInputReceived(id int, event protocol.InputEvent)
	OnConfigReceived(id int, data []byte)
}

// NopCallbacks is a Callbacks implementation that ignores every event.
// Embed it to implement only the events a sink cares about.
type NopCallbacks struct{}

func (NopCallbacks) OnClientConnected(int, uint16)                        {}
func (NopCallbacks) OnClientDisconnected(int)                             {}
func (NopCallbacks) OnVideoFrameReceived(int, protocol.VideoFrame, uint8) {}
func (NopCallbacks) OnAudioChunkReceived(int, protocol.AudioChunk)        {}
func (NopCallbacks) OnInputReceived(int, protocol.InputEvent)             {}
func (NopCallbacks) OnConfigReceived(int, []byte)                         {}
