package server

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from arbitrary origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket upgrades the request and bridges the WebSocket connection
// into the regular session loop. Each text message carries one command line;
// each response line goes out as one text message.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		errorLog.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	debugLog.Printf("WebSocket connection from %s", wsConn.RemoteAddr())
	s.handleConnection(newWSNetConn(wsConn))
}

// wsNetConn adapts a websocket.Conn to net.Conn so the session loop can scan
// it like a TCP stream. Incoming text messages are newline-terminated before
// buffering; outgoing writes become one text message each.
type wsNetConn struct {
	ws     *websocket.Conn
	reader bytes.Buffer
}

func newWSNetConn(ws *websocket.Conn) *wsNetConn {
	return &wsNetConn{ws: ws}
}

func (c *wsNetConn) Read(p []byte) (int, error) {
	for c.reader.Len() == 0 {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, io.EOF
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		c.reader.Write(data)
		if len(data) == 0 || data[len(data)-1] != '\n' {
			c.reader.WriteByte('\n')
		}
	}
	return c.reader.Read(p)
}

func (c *wsNetConn) Write(p []byte) (int, error) {
	// Strip the trailing newline the line protocol appends; the message
	// boundary carries it on this transport
	data := bytes.TrimSuffix(p, []byte("\n"))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsNetConn) Close() error                       { return c.ws.Close() }
func (c *wsNetConn) LocalAddr() net.Addr                { return c.ws.LocalAddr() }
func (c *wsNetConn) RemoteAddr() net.Addr               { return c.ws.RemoteAddr() }
func (c *wsNetConn) SetDeadline(t time.Time) error      { return c.ws.SetReadDeadline(t) }
func (c *wsNetConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsNetConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
