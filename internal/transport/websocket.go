package transport

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  readChunk,
	WriteBufferSize: readChunk,
	CheckOrigin:     func(r *http.Request) bool { return true },
	// A malformed upgrade request (missing key, bad tokens, wrong method)
	// is closed without a reply: hijack the connection before gorilla's
	// default handler can write an HTTP error over it.
	Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
		if hj, ok := w.(http.Hijacker); ok {
			if c, _, err := hj.Hijack(); err == nil {
				c.Close()
			}
		}
	},
}

// WebSocketListener serves the Perun protocol to browser clients over
// RFC 6455 WebSocket. Each accepted connection is upgraded from HTTP and
// thereafter carries packet bytes in binary frames; client frames arrive
// masked, server frames are sent unmasked, and ping/pong/close are
// answered per the RFC.
type WebSocketListener struct {
	listenerCore
	ln  net.Listener
	srv *http.Server
}

// NewWebSocketListener creates an unopened WebSocket listener.
func NewWebSocketListener() *WebSocketListener {
	l := &WebSocketListener{}
	l.init()
	return l
}

// Listen binds address (same forms as TCP) and starts serving upgrades.
func (l *WebSocketListener) Listen(address string) error {
	host, port, err := ParseAddress(address)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("websocket listen on %s: %w", address, err)
	}
	l.ln = ln
	l.srv = &http.Server{Handler: http.HandlerFunc(l.handleUpgrade)}
	l.listening.Store(true)
	go l.srv.Serve(ln)
	return nil
}

func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Malformed upgrade request; the Error callback already hijacked
		// and closed the connection without a reply.
		return
	}
	if nc, ok := ws.UnderlyingConn().(*net.TCPConn); ok {
		nc.SetNoDelay(true)
		nc.SetWriteBuffer(sendBufferSize)
	}
	l.offer(newWSConn(ws))
}

func (l *WebSocketListener) Close() error {
	if !l.listening.Swap(false) {
		return nil
	}
	err := l.srv.Close()
	l.drainPending()
	return err
}

// Addr returns the bound address, with the kernel-assigned port when the
// listen address used port 0.
func (l *WebSocketListener) Addr() string {
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// newWSConn wraps an upgraded WebSocket connection in the shared core.
// Outgoing buffers each become a single binary frame so a packet's header
// and payload can never land in different frames.
func newWSConn(ws *websocket.Conn) *conn {
	c := newConn(
		func(buf []byte, _ bool) error {
			// Same writability cap as the stream transports. A failed or
			// expired frame write leaves the websocket unusable, so the
			// reliability hint cannot soften the outcome here.
			ws.SetWriteDeadline(time.Now().Add(reliableWait))
			return ws.WriteMessage(websocket.BinaryMessage, buf)
		},
		func() { ws.Close() },
	)
	go wsReadLoop(ws, c)
	return c
}

// wsReadLoop feeds unmasked application payloads into the inbound
// accumulator. Text frames are treated as binary; control frames are
// handled inside ReadMessage, with close being terminal.
func wsReadLoop(ws *websocket.Conn, c *conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.fail()
			return
		}
		c.push(data)
	}
}

// DialWebSocket connects to a Perun WebSocket endpoint, e.g.
// "ws://host:port/". Client frames are masked as the RFC requires.
func DialWebSocket(url string) (Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return newWSConn(ws), nil
}
