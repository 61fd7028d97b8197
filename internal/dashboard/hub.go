package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pricewatch/logger"
)

const hubWriteTimeout = 5 * time.Second

// hubMessage is pushed to every connected browser.
type hubMessage struct {
	Type string `json:"type"`
}

var reloadMessage = hubMessage{Type: "reload"}

// hub fans reload notifications out to the open dashboard pages.
type hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
	closed   bool
	log      *logger.Log
}

func newHub(log *logger.Log) *hub {
	return &hub{
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

func (h *hub) serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithComponent("dashboard_ws").WithError(err).Debug("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		conn.Close()
		return
	}
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	h.log.WithComponent("dashboard_ws").WithFields(logger.Fields{"clients": h.count()}).Debug("websocket client connected")

	// Clients never send anything; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(conn)
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast writes msg to every client. Clients that fail the write are
// dropped.
func (h *hub) broadcast(msg hubMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.WithComponent("dashboard_ws").WithError(err).Debug("dropping websocket client")
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		conn.Close()
		delete(h.clients, conn)
	}
}
