package relay

import (
	"github.com/AsmirZukic/Perun/internal/protocol"
	"github.com/AsmirZukic/Perun/internal/transport"
	"github.com/AsmirZukic/Perun/internal/util"
)

// session is the relay's per-connection state: the owned transport
// connection, the append-only receive accumulator, and the handshake
// outcome.
type session struct {
	id                int
	conn              transport.Conn
	buf               []byte
	capabilities      uint16
	handshakeComplete bool
	departed          bool
	nextSeq           uint16
}

func newSession(id int, conn transport.Conn) *session {
	return &session{id: id, conn: conn}
}

// consume discards n processed bytes from the front of the accumulator.
func (s *session) consume(n int) {
	rest := copy(s.buf, s.buf[n:])
	s.buf = s.buf[:rest]
}

// drain pulls everything available from the session's transport into the
// accumulator, then runs the handshake machine or the packet parser over
// it. Closed connections are left for compaction to reap.
func (r *Relay) drain(s *session) {
	for {
		n, err := s.conn.Recv(r.readBuf)
		if n > 0 {
			s.buf = append(s.buf, r.readBuf[:n]...)
			util.Stats.AddIn(n)
			metricBytesIn.Add(float64(n))
		}
		if err != nil {
			return
		}
		if n == 0 {
			break
		}
	}

	if !s.handshakeComplete {
		if len(s.buf) < protocol.HelloSize {
			return
		}
		res := protocol.ProcessHello(s.buf[:protocol.HelloSize], r.caps)
		if !res.Accepted {
			s.conn.Send(protocol.CreateError(res.Error), true)
			s.conn.Close()
			util.LogWarning("session %d handshake rejected: %s", s.id, res.Error)
			return
		}
		if _, err := s.conn.Send(protocol.CreateOk(res.Version, res.Capabilities), true); err != nil {
			return
		}
		s.capabilities = res.Capabilities
		s.handshakeComplete = true
		s.consume(protocol.HelloSize)
		util.Stats.AddSession()
		metricSessionsTotal.Inc()
		util.LogInfo("session %d connected, caps %#04x", s.id, s.capabilities)
		r.callbacks.OnClientConnected(s.id, s.capabilities)
		// Packet bytes may already trail the hello; fall through.
	}

	for len(s.buf) >= protocol.HeaderSize {
		header, _ := protocol.DecodeHeader(s.buf)
		if header.Length > MaxPacketSize {
			util.LogWarning("session %d oversized packet (%d bytes), closing", s.id, header.Length)
			s.conn.Close()
			return
		}
		total := protocol.HeaderSize + int(header.Length)
		if len(s.buf) < total {
			break
		}
		r.dispatch(s, header, s.buf[protocol.HeaderSize:total])
		s.consume(total)
	}
}

// dispatch decodes a complete packet and hands it to the sink.
func (r *Relay) dispatch(s *session, h protocol.Header, payload []byte) {
	metricPacketsIn.WithLabelValues(packetLabel(h.Type)).Inc()

	switch h.Type {
	case protocol.TypeVideoFrame:
		frame, err := protocol.DecodeVideo(payload)
		if err != nil {
			util.LogWarning("session %d sent a malformed video frame", s.id)
			return
		}
		r.callbacks.OnVideoFrameReceived(s.id, frame, h.Flags)

	case protocol.TypeAudioChunk:
		chunk, err := protocol.DecodeAudio(payload)
		if err != nil {
			util.LogWarning("session %d sent a malformed audio chunk", s.id)
			return
		}
		r.callbacks.OnAudioChunkReceived(s.id, chunk)

	case protocol.TypeInputEvent:
		event, err := protocol.DecodeInput(payload)
		if err != nil {
			util.LogWarning("session %d sent a malformed input event", s.id)
			return
		}
		r.callbacks.OnInputReceived(s.id, event)

	case protocol.TypeConfig:
		data := make([]byte, len(payload))
		copy(data, payload)
		r.callbacks.OnConfigReceived(s.id, data)

	default:
		// DebugInfo has no sink callback; count it and move on.
		util.LogDebug("session %d sent unhandled packet type %#02x", s.id, h.Type)
	}
}

func packetLabel(t uint8) string {
	switch t {
	case protocol.TypeVideoFrame:
		return "video"
	case protocol.TypeAudioChunk:
		return "audio"
	case protocol.TypeInputEvent:
		return "input"
	case protocol.TypeConfig:
		return "config"
	case protocol.TypeDebugInfo:
		return "debug"
	default:
		return "unknown"
	}
}
