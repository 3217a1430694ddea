package signaling

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/registry"
)

const wsWriteWait = 1 * time.Second

// wsConn is the registry.Conn backed by a gorilla WebSocket.
//
// gorilla allows one concurrent writer, so data frames are serialised by
// writeMu. Control frames (WriteControl) and Close are safe to call from any
// goroutine.
type wsConn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ registry.Conn = (*wsConn)(nil)

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Send(data []byte) error {
	if c.closed.Load() {
		return registry.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// closeWith sends a close frame before closing the socket.
func (c *wsConn) closeWith(code int, reason string) {
	if !c.closed.Load() {
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	}
	_ = c.Close()
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.ws.Close()
	})
	return err
}
