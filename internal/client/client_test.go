package client

import (
	"bytes"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AsmirZukic/Perun/internal/protocol"
	"github.com/AsmirZukic/Perun/internal/relay"
	"github.com/AsmirZukic/Perun/internal/transport"
)

// rebroadcastSink mirrors the perund wiring: every video, audio, input and
// config packet a peer sends is fanned out to the other peers, excluding
// the origin.
type rebroadcastSink struct {
	relay.NopCallbacks
	r *relay.Relay

	mu     sync.Mutex
	inputs []uint16
}

func (s *rebroadcastSink) OnVideoFrameReceived(id int, f protocol.VideoFrame, flags uint8) {
	s.r.BroadcastVideoFrame(flags, f, id)
}

func (s *rebroadcastSink) OnAudioChunkReceived(id int, c protocol.AudioChunk) {
	s.r.BroadcastAudioChunk(c, id)
}

func (s *rebroadcastSink) OnInputReceived(id int, e protocol.InputEvent) {
	s.mu.Lock()
	s.inputs = append(s.inputs, e.Buttons)
	s.mu.Unlock()
	s.r.BroadcastInput(e, id)
}

func (s *rebroadcastSink) OnConfigReceived(id int, data []byte) {
	s.r.BroadcastConfig(data, id)
}

func (s *rebroadcastSink) recordedInputs() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.inputs...)
}

// startRelay runs a relay on a loopback TCP listener inside its own
// goroutine and returns its address. The relay is only touched from that
// goroutine until the test cleanup stops it.
func startRelay(t *testing.T) (addr string, sink *rebroadcastSink) {
	t.Helper()
	sink = &rebroadcastSink{}
	r := relay.New(sink, protocol.CapAll)
	sink.r = r

	l := transport.NewTCPListener()
	if err := r.AddListener(l, "127.0.0.1:0"); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var stop atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !stop.Load() {
			r.Poll(5 * time.Millisecond)
			r.Update()
		}
		r.Stop()
	}()
	t.Cleanup(func() {
		stop.Store(true)
		<-done
	})
	return l.Addr(), sink
}

func dialAndHandshake(t *testing.T, addr string, caps uint16) *Client {
	t.Helper()
	c, err := Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(c.Close)
	if err := c.Handshake(caps, 2*time.Second); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return c
}

func TestClientHandshakeNegotiatesCaps(t *testing.T) {
	addr, _ := startRelay(t)
	c := dialAndHandshake(t, addr, protocol.CapDelta|protocol.CapAudio)
	if c.Capabilities() != (protocol.CapDelta | protocol.CapAudio) {
		t.Errorf("caps = %#04x, want delta|audio", c.Capabilities())
	}
	if !c.Connected() {
		t.Error("client not connected after handshake")
	}
}

// TestVideoDeltaReconstruction streams a keyframe and a delta from a
// producer through the relay and checks the consumer's reconstructed
// frame matches the producer's second frame.
func TestVideoDeltaReconstruction(t *testing.T) {
	addr, _ := startRelay(t)

	consumer := dialAndHandshake(t, addr, protocol.CapAll)
	producer := dialAndHandshake(t, addr, protocol.CapAll)

	frame1 := []byte{0x00, 0xFF, 0x00, 0xFF}
	frame2 := []byte{0x00, 0xFF, 0xFF, 0x00}
	delta, err := protocol.ComputeDelta(frame2, frame1)
	if err != nil {
		t.Fatalf("ComputeDelta: %v", err)
	}

	if err := producer.SendVideoFrame(0, protocol.VideoFrame{Width: 2, Height: 2, Data: frame1}); err != nil {
		t.Fatalf("send keyframe: %v", err)
	}
	if err := producer.SendVideoFrame(protocol.FlagDelta, protocol.VideoFrame{Width: 2, Height: 2, Data: delta}); err != nil {
		t.Fatalf("send delta: %v", err)
	}

	var frames int
	consumer.SetEvents(Events{
		OnVideoFrame: func(protocol.VideoFrame, uint8) { frames++ },
	})

	deadline := time.Now().Add(2 * time.Second)
	for frames < 2 {
		if err := consumer.Update(); err != nil {
			t.Fatalf("consumer update: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %d frames, want 2", frames)
		}
		time.Sleep(time.Millisecond)
	}

	data, w, h, fresh := consumer.Frame()
	if !fresh {
		t.Error("frame not marked fresh")
	}
	if w != 2 || h != 2 {
		t.Errorf("frame dims = %dx%d, want 2x2", w, h)
	}
	if !bytes.Equal(data, frame2) {
		t.Errorf("reconstructed frame = % X, want % X", data, frame2)
	}
	if _, _, _, fresh := consumer.Frame(); fresh {
		t.Error("freshness not cleared by read")
	}
}

// TestInputReachesSinkAndPeers sends input from a consumer and expects
// the sink to record it and the producer to receive the rebroadcast.
func TestInputReachesSinkAndPeers(t *testing.T) {
	addr, sink := startRelay(t)

	producer := dialAndHandshake(t, addr, protocol.CapAll)
	consumer := dialAndHandshake(t, addr, protocol.CapAll)

	var got []uint16
	producer.SetEvents(Events{
		OnInput: func(e protocol.InputEvent) { got = append(got, e.Buttons) },
	})

	if err := consumer.SendInput(0x0041); err != nil {
		t.Fatalf("send input: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(got) == 0 {
		if err := producer.Update(); err != nil {
			t.Fatalf("producer update: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("input never reached the producer")
		}
		time.Sleep(time.Millisecond)
	}
	if got[0] != 0x0041 {
		t.Errorf("buttons = %#04x, want 0x0041", got[0])
	}
	if inputs := sink.recordedInputs(); len(inputs) == 0 || inputs[0] != 0x0041 {
		t.Errorf("sink inputs = %v, want [0x0041]", inputs)
	}
}

// TestCrossTransportRelay connects one peer per transport variant to the
// same relay and checks a config blob from the unix producer reaches both
// the TCP and WebSocket consumers.
func TestCrossTransportRelay(t *testing.T) {
	sink := &rebroadcastSink{}
	r := relay.New(sink, protocol.CapAll)
	sink.r = r

	tcpL := transport.NewTCPListener()
	wsL := transport.NewWebSocketListener()
	unixL := transport.NewLocalListener()
	sockPath := filepath.Join(t.TempDir(), "perun.sock")
	for _, lis := range []struct {
		l    transport.Listener
		addr string
	}{{tcpL, "127.0.0.1:0"}, {wsL, "127.0.0.1:0"}, {unixL, sockPath}} {
		if err := r.AddListener(lis.l, lis.addr); err != nil {
			t.Fatalf("AddListener: %v", err)
		}
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var stop atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !stop.Load() {
			r.Poll(5 * time.Millisecond)
			r.Update()
		}
		r.Stop()
	}()
	t.Cleanup(func() {
		stop.Store(true)
		<-done
	})

	tcpConsumer := dialAndHandshake(t, tcpL.Addr(), protocol.CapAll)
	wsConsumer := func() *Client {
		c, err := Dial("ws", "ws://"+wsL.Addr()+"/")
		if err != nil {
			t.Fatalf("ws dial: %v", err)
		}
		t.Cleanup(c.Close)
		if err := c.Handshake(protocol.CapAll, 2*time.Second); err != nil {
			t.Fatalf("ws handshake: %v", err)
		}
		return c
	}()
	producer, err := Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("unix dial: %v", err)
	}
	t.Cleanup(producer.Close)
	if err := producer.Handshake(protocol.CapAll, 2*time.Second); err != nil {
		t.Fatalf("unix handshake: %v", err)
	}

	var tcpGot, wsGot []byte
	tcpConsumer.SetEvents(Events{OnConfig: func(d []byte) { tcpGot = d }})
	wsConsumer.SetEvents(Events{OnConfig: func(d []byte) { wsGot = d }})

	blob := []byte("core=chip8;scale=3")
	if err := producer.SendConfig(blob); err != nil {
		t.Fatalf("send config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for tcpGot == nil || wsGot == nil {
		if err := tcpConsumer.Update(); err != nil {
			t.Fatalf("tcp consumer: %v", err)
		}
		if err := wsConsumer.Update(); err != nil {
			t.Fatalf("ws consumer: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("config missing: tcp=%q ws=%q", tcpGot, wsGot)
		}
		time.Sleep(time.Millisecond)
	}
	if !bytes.Equal(tcpGot, blob) || !bytes.Equal(wsGot, blob) {
		t.Errorf("config = %q / %q, want %q", tcpGot, wsGot, blob)
	}
}

func TestCompleteResponse(t *testing.T) {
	testCases := []struct {
		name     string
		buf      []byte
		wantSize int
	}{
		{"empty", nil, 0},
		{"partial ok", []byte("OK\x00"), 0},
		{"full ok", protocol.CreateOk(1, 7), protocol.OkSize},
		{"ok with trailing packet", append(protocol.CreateOk(1, 7), 0x01, 0x02), protocol.OkSize},
		{"partial error", []byte("ERRORnope"), 0},
		{"full error", protocol.CreateError("nope"), 5 + 4 + 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reply, size := completeResponse(tc.buf)
			if size != tc.wantSize {
				t.Fatalf("size = %d, want %d", size, tc.wantSize)
			}
			if (reply != nil) != (tc.wantSize > 0) {
				t.Errorf("reply presence mismatch: %v", reply)
			}
		})
	}
}
