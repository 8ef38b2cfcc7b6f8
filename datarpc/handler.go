package datarpc

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// JobsHandler returns an HTTP handler that upgrades to a websocket and
// serves the jobs data API on the connection. The session lives exactly as
// long as the connection.
func JobsHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger(cfg).Warn("websocket upgrade failed", "error", err)
			return
		}
		sess := NewJobsSession(&wsTransport{conn: conn}, cfg)
		sess.Open()
		readPump(conn, sess.session)
	}
}

// PagesHandler returns an HTTP handler that upgrades to a websocket and
// serves the pages data API on the connection.
func PagesHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger(cfg).Warn("websocket upgrade failed", "error", err)
			return
		}
		sess := NewPagesSession(&wsTransport{conn: conn}, cfg)
		sess.Open()
		readPump(conn, sess.session)
	}
}

func logger(cfg Config) *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.Default()
}

// readPump feeds inbound frames into the session until the connection
// drops, then closes the session.
func readPump(conn *websocket.Conn, s *session) {
	defer conn.Close()
	defer s.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		s.HandleMessage(data)
	}
}
