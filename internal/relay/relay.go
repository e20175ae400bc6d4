// Package relay implements the Perun relay engine: it owns the transport
// listeners and per-client sessions, drives handshakes and packet parsing
// from a single goroutine, and fans packets out to peers with per-peer
// admission control.
package relay

import (
	"errors"
	"time"

	"github.com/AsmirZukic/Perun/internal/protocol"
	"github.com/AsmirZukic/Perun/internal/transport"
	"github.com/AsmirZukic/Perun/internal/util"
)

// MaxPacketSize is the ceiling applied to the header length field. A
// client announcing a larger payload is disconnected.
const MaxPacketSize = 16 * 1024 * 1024

var (
	// ErrRunning is returned when listeners are mutated on a running relay.
	ErrRunning = errors.New("relay: already running")

	// ErrNoListeners is returned by Start when nothing was configured.
	ErrNoListeners = errors.New("relay: no listeners configured")
)

// Relay multiplexes Perun traffic across its listeners. It is not safe
// for concurrent use: one goroutine alternates Poll and Update, and the
// fanout methods are called from that goroutine (typically inside a
// callback).
type Relay struct {
	callbacks Callbacks
	listeners []transport.Listener
	sessions  []*session
	nextID    int
	caps      uint16
	running   bool
	wake      chan struct{}
	readBuf   []byte
}

// New creates a relay offering the given capability mask to clients. A
// nil sink is replaced with NopCallbacks.
func New(callbacks Callbacks, caps uint16) *Relay {
	if callbacks == nil {
		callbacks = NopCallbacks{}
	}
	return &Relay{
		callbacks: callbacks,
		nextID:    1,
		caps:      caps,
		wake:      make(chan struct{}, 1),
		readBuf:   make([]byte, 64*1024),
	}
}

// AddListener opens address on the given transport and adds it to the
// relay. Listeners cannot be added while the relay is running.
func (r *Relay) AddListener(l transport.Listener, address string) error {
	if r.running {
		return ErrRunning
	}
	if err := l.Listen(address); err != nil {
		return err
	}
	l.SetNotify(r.signal)
	r.listeners = append(r.listeners, l)
	return nil
}

// Start marks the relay running. Idempotent.
func (r *Relay) Start() error {
	if r.running {
		return nil
	}
	if len(r.listeners) == 0 {
		return ErrNoListeners
	}
	r.running = true
	util.LogInfo("relay started with %d listener(s)", len(r.listeners))
	return nil
}

// Stop closes every session, then every listener. Disconnect callbacks
// fire only for sessions whose handshake had completed. Idempotent.
func (r *Relay) Stop() {
	if !r.running {
		return
	}
	for _, s := range r.sessions {
		r.disconnect(s)
	}
	r.sessions = nil
	for _, l := range r.listeners {
		l.Close()
	}
	r.running = false
	metricSessionsActive.Set(0)
	util.LogInfo("relay stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (r *Relay) Running() bool {
	return r.running
}

// SessionCount returns the number of sessions, handshaken or not.
func (r *Relay) SessionCount() int {
	return len(r.sessions)
}

// Update runs one tick: accept pending connections, drain and parse every
// session, and reap sessions whose connection closed.
func (r *Relay) Update() {
	if !r.running {
		return
	}

	for _, l := range r.listeners {
		for {
			conn := l.Accept()
			if conn == nil {
				break
			}
			s := newSession(r.nextID, conn)
			r.nextID++
			conn.SetNotify(r.signal)
			r.sessions = append(r.sessions, s)
			util.LogDebug("session %d accepted", s.id)
		}
	}

	for _, s := range r.sessions {
		r.drain(s)
	}

	live := r.sessions[:0]
	for _, s := range r.sessions {
		if s.conn.IsOpen() {
			live = append(live, s)
		} else {
			r.disconnect(s)
		}
	}
	for i := len(live); i < len(r.sessions); i++ {
		r.sessions[i] = nil
	}
	r.sessions = live
	metricSessionsActive.Set(float64(len(r.sessions)))
}

// Poll blocks until input is ready on any listener or session, or the
// timeout elapses. Callers alternate Poll with Update.
func (r *Relay) Poll(timeout time.Duration) {
	if timeout <= 0 {
		select {
		case <-r.wake:
		default:
		}
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.wake:
	case <-timer.C:
	}
}

// signal wakes Poll. Safe to call from transport goroutines.
func (r *Relay) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// disconnect closes a session and emits the departure callback exactly
// once, and only for sessions that completed their handshake.
func (r *Relay) disconnect(s *session) {
	s.conn.Close()
	if s.handshakeComplete && !s.departed {
		s.departed = true
		util.Stats.AddDisconnect()
		util.LogInfo("session %d disconnected", s.id)
		r.callbacks.OnClientDisconnected(s.id)
	}
}

func (r *Relay) findSession(id int) *session {
	for _, s := range r.sessions {
		if s.id == id {
			return s
		}
	}
	return nil
}

// sendPacket assembles header and payload into a single buffer so that a
// transport mapping one send to one link-layer frame cannot split them,
// then hands it to the session's connection.
func (r *Relay) sendPacket(s *session, typ, flags uint8, payload []byte, reliable bool) bool {
	if !s.conn.IsOpen() || !s.handshakeComplete {
		return false
	}
	s.nextSeq++
	buf := make([]byte, 0, protocol.HeaderSize+len(payload))
	buf = append(buf, protocol.EncodeHeader(protocol.Header{
		Type:     typ,
		Flags:    flags,
		Sequence: s.nextSeq,
		Length:   uint32(len(payload)),
	})...)
	buf = append(buf, payload...)

	n, err := s.conn.Send(buf, reliable)
	if err != nil || n != len(buf) {
		return false
	}
	util.Stats.AddOut(n)
	metricBytesOut.Add(float64(n))
	return true
}

// SendVideoFrame sends one video frame to a single client, lossily: under
// backpressure the frame is dropped at that peer and false is returned.
func (r *Relay) SendVideoFrame(id int, flags uint8, frame protocol.VideoFrame) bool {
	s := r.findSession(id)
	if s == nil {
		return false
	}
	ok := r.sendPacket(s, protocol.TypeVideoFrame, flags, protocol.EncodeVideo(frame), false)
	if !ok && s.conn.IsOpen() {
		util.Stats.AddDroppedFrame()
		metricFramesDropped.Inc()
	}
	return ok
}

// BroadcastVideoFrame sends a video frame to every handshaken session
// except excludeID, lossily per peer.
func (r *Relay) BroadcastVideoFrame(flags uint8, frame protocol.VideoFrame, excludeID int) {
	payload := protocol.EncodeVideo(frame)
	for _, s := range r.sessions {
		if s.id == excludeID || !s.handshakeComplete {
			continue
		}
		if !r.sendPacket(s, protocol.TypeVideoFrame, flags, payload, false) && s.conn.IsOpen() {
			util.Stats.AddDroppedFrame()
			metricFramesDropped.Inc()
		}
	}
}

// SendAudioChunk sends one audio chunk to a single client, reliably.
func (r *Relay) SendAudioChunk(id int, chunk protocol.AudioChunk) bool {
	s := r.findSession(id)
	if s == nil {
		return false
	}
	return r.sendPacket(s, protocol.TypeAudioChunk, 0, protocol.EncodeAudio(chunk), true)
}

// BroadcastAudioChunk sends an audio chunk to every handshaken session
// that negotiated the AUDIO capability, except excludeID.
func (r *Relay) BroadcastAudioChunk(chunk protocol.AudioChunk, excludeID int) {
	payload := protocol.EncodeAudio(chunk)
	for _, s := range r.sessions {
		if s.id == excludeID || !s.handshakeComplete || s.capabilities&protocol.CapAudio == 0 {
			continue
		}
		r.sendPacket(s, protocol.TypeAudioChunk, 0, payload, true)
	}
}

// BroadcastInput sends an input event to every handshaken session except
// excludeID, reliably and without capability gating.
func (r *Relay) BroadcastInput(event protocol.InputEvent, excludeID int) {
	payload := protocol.EncodeInput(event)
	for _, s := range r.sessions {
		if s.id == excludeID || !s.handshakeComplete {
			continue
		}
		r.sendPacket(s, protocol.TypeInputEvent, 0, payload, true)
	}
}

// BroadcastConfig sends an opaque configuration blob to every handshaken
// session except excludeID, reliably.
func (r *Relay) BroadcastConfig(data []byte, excludeID int) {
	for _, s := range r.sessions {
		if s.id == excludeID || !s.handshakeComplete {
			continue
		}
		r.sendPacket(s, protocol.TypeConfig, 0, data, true)
	}
}

// BroadcastDebugInfo sends an opaque debug payload to every handshaken
// session that negotiated the DEBUG capability, except excludeID.
func (r *Relay) BroadcastDebugInfo(data []byte, excludeID int) {
	for _, s := range r.sessions {
		if s.id == excludeID || !s.handshakeComplete || s.capabilities&protocol.CapDebug == 0 {
			continue
		}
		r.sendPacket(s, protocol.TypeDebugInfo, 0, data, true)
	}
}
