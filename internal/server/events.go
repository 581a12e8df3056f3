package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// snapshotEvent is the first message on an events stream.
type snapshotEvent struct {
	Type string `json:"type"`
	deckResponse
}

// handleEvents handles GET /api/decks/{id}/events. It upgrades to a
// websocket, sends the current deck, then forwards every deck event
// (slides added or updated, images landing, run status) until the client
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowedOrigin(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("deckId", sess.id).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Subscribe before the snapshot so nothing between the two is missed.
	events, unsubscribe := sess.builder.Store().Subscribe()
	defer unsubscribe()

	if err := writeJSON(conn, snapshotEvent{Type: "snapshot", deckResponse: s.snapshot(sess)}); err != nil {
		return
	}

	closed := make(chan struct{})
	go readPump(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	log.Debug().Str("deckId", sess.id).Msg("Event stream opened")
	for {
		select {
		case <-closed:
			log.Debug().Str("deckId", sess.id).Msg("Event stream closed by client")
			return
		case ev, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "deck closed"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeJSON(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// readPump discards client messages and handles pongs; it closes done when
// the connection fails.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
