package monitor

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/gunjou/api-ukai-syndrome/internal/app/apiresp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the dashboard origin; access is gated by the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LeaderboardFeed upgrades the request and subscribes it to one exam. Role
// checks are done by the router middleware.
func (h *Hub) LeaderboardFeed(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil || examID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid tryout id")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize), examID: examID}
	hello, _ := json.Marshal(Event{ExamID: examID, Event: EventSubscribed, At: time.Now().UTC()})
	c.send <- hello
	if !h.subscribe(c) {
		_ = conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}
