package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"guestbook/internal/metrics"
	"guestbook/internal/util"
	"guestbook/pkg/domain"
	"guestbook/pkg/feed"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long to keep a connection without a pong.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type streamFrame struct {
	Type      string           `json:"type"`
	Kind      domain.EventKind `json:"kind,omitempty"`
	MessageID string           `json:"messageId,omitempty"`
	Message   *domain.Message  `json:"message,omitempty"`
	Messages  []domain.Message `json:"messages,omitempty"`
}

// handleStream upgrades to a websocket, sends the current feed window as a
// snapshot frame, then relays feed events as they arrive. The subscription is
// opened before the snapshot is read so no event can fall between the two.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	logger := util.LoggerFromContext(r.Context())

	sub, err := s.feed.Subscribe(r.Context())
	if err != nil {
		logger.Error("stream subscribe failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "feed unavailable")
		return
	}

	cache := feed.NewCache(s.feed.Window())
	if err := cache.Initialize(r.Context(), s.feed); err != nil {
		sub.Close()
		logger.Error("stream snapshot failed", "error", err)
		writeFeedError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	metrics.Subscribers.Inc()
	defer metrics.Subscribers.Dec()
	defer conn.Close()
	defer sub.Close()

	// Reader goroutine: consumes pongs and detects client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := streamFrame{Type: "snapshot", Messages: cache.Window()}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"))
				return
			}
			cache.Apply(ev)
			frame := streamFrame{
				Type:      "event",
				Kind:      ev.Kind,
				MessageID: ev.MessageID,
				Message:   ev.Message,
				Messages:  cache.Window(),
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
