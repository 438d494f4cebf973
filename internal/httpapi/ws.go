package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsPingInterval = 30 * time.Second

// events streams a session's asynchronous events (opponent replies,
// game over, cancellations) over a websocket. One consumer per session:
// events are delivered to whichever connection reads them first.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.With().Str("session", s.ID()).Logger()
	log.Debug().Msg("event feed attached")

	// Reader goroutine: only there to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev := <-s.Events():
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("event feed write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-closed:
			log.Debug().Msg("event feed detached")
			return
		case <-r.Context().Done():
			return
		}
	}
}
