// Package wsconn adapts a gorilla/websocket connection to io.ReadWriteCloser
// so the socket layer can treat a WebSocket transport identically to a raw
// TCP one. Grounded on portal/utils/wsstream, generalized to also implement
// net.Conn's deadline methods so it satisfies socket's transport needs.
package wsconn

import (
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn is the subset of *websocket.Conn that Conn depends on. Declaring it
// lets tests substitute a mock instead of driving a real socket pair.
type wsConn interface {
	NextReader() (int, io.Reader, error)
	WriteMessage(int, []byte) error
	Close() error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Conn wraps a *websocket.Conn as an io.ReadWriteCloser plus deadlines.
type Conn struct {
	ws wsConn

	readMu  sync.Mutex
	writeMu sync.Mutex
	current io.Reader
}

// New wraps conn. The underlying connection is used exclusively through the
// returned Conn from then on.
func New(conn *websocket.Conn) *Conn {
	return &Conn{ws: conn}
}

func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}

	for {
		if c.current == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, normalizeClose(err)
			}
			c.current = r
		}

		n, err := c.current.Read(p)
		if err == io.EOF {
			c.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			return n, normalizeClose(err)
		}
		return n, nil
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, normalizeClose(err)
	}
	return len(p), nil
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

// SetDeadline, SetReadDeadline and SetWriteDeadline let Conn stand in
// anywhere a net.Conn deadline is expected (socket's recv timeout).
func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

func (c *Conn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func normalizeClose(err error) error {
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "websocket: close ") {
		return io.EOF
	}
	return err
}
