package datarpc

import (
	"github.com/gorilla/websocket"
)

// Transport writes one serialized message frame to the client. The session
// loop is the only writer, so implementations need not be safe for
// concurrent use.
type Transport interface {
	WriteMessage(data []byte) error
	Close() error
}

// wsTransport adapts a gorilla websocket connection.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
