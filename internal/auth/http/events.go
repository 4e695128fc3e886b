package http

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aussiebroadwan/prayerwall/internal/auth/domain"
	"github.com/aussiebroadwan/prayerwall/internal/auth/service"
	"github.com/aussiebroadwan/prayerwall/pkg/slogx"
)

const (
	eventsBuffer = 16

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxClientMessage = 512
)

// EventsHandler streams session state over a websocket: the last known state
// on connect, then every transition as a JSON SessionState text frame.
//
// Each connection has a bounded queue. When a client falls behind, new events
// are dropped for that client only.
type EventsHandler struct {
	Broadcaster *service.StateBroadcaster
	Upgrader    websocket.Upgrader
	Buffer      int

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewEventsHandler(b *service.StateBroadcaster) *EventsHandler {
	return &EventsHandler{
		Broadcaster: b,
		Upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		Buffer: eventsBuffer,
		stopCh: make(chan struct{}),
	}
}

// Close tells every open stream to send a going-away frame and disconnect.
func (h *EventsHandler) Close() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// ServeHTTP godoc
//
//	@Summary		Session State Stream
//	@Description	Upgrades to a websocket that sends the last known session state, then every transition, as
//	@Description	domain.SessionState JSON text frames.
//	@Tags			Session
//	@Success		101	{object}	domain.SessionState	"status, identity"
//	@Failure		400	"Not a websocket handshake"
//	@Failure		429	{object}	map[string]string	"error, error_description"
//	@Router			/v1/session/events [get].
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	size := h.Buffer
	if size <= 0 {
		size = eventsBuffer
	}
	events := make(chan domain.SessionState, size)

	unsubscribe := h.Broadcaster.Subscribe(func(st domain.SessionState) {
		select {
		case events <- st:
		default:
			log.Warn("state event dropped for slow client", "status", st.Status)
		}
	})
	defer unsubscribe()

	log.Info("state stream opened")
	defer log.Info("state stream closed")

	gone := make(chan struct{})
	go readPump(conn, log, gone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case st := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(st); err != nil {
				log.Debug("state stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.stopCh:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case <-gone:
			return
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
// gone is closed when the client disconnects or stops answering pings.
func readPump(conn *websocket.Conn, log *slog.Logger, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("state stream client error", "error", err)
			}
			return
		}
	}
}
