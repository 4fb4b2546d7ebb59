// Package wsconn adapts a *websocket.Conn into channel.Transport,
// grounded on the pack's xiqingping-birpc/wetsock adapter that wraps a
// gorilla websocket connection behind a narrow read/write/close
// interface. avrorpc's core never imports gorilla directly — only this
// package does — so a stateful channel can run over either a plain TCP
// net.Conn or a WebSocket without the channel package caring which.
package wsconn

import (
	"io"

	"github.com/gorilla/websocket"
)

// Conn adapts *websocket.Conn to channel.Transport by always sending
// and receiving binary messages, and by buffering whatever is left of
// the current inbound message across short Read calls — a
// *websocket.Conn only hands back whole messages, never an arbitrary
// number of bytes, so Read has to split one message across as many
// calls as the caller's buffer requires.
type Conn struct {
	ws   *websocket.Conn
	rest []byte
}

// New wraps ws.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Read implements io.Reader, satisfying channel.Transport.
func (c *Conn) Read(p []byte) (int, error) {
	for len(c.rest) == 0 {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return 0, wrapCloseErr(err)
		}
		c.rest = msg
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}

// Write implements io.Writer, satisfying channel.Transport. Each call
// is sent as its own binary WebSocket message; the wire codecs above
// this layer only ever write whole frames in one Write call, so no
// message-boundary bookkeeping is needed here.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements io.Closer, satisfying channel.Transport.
func (c *Conn) Close() error {
	return c.ws.Close()
}

func wrapCloseErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	return err
}
