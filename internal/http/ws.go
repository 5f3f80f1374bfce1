package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/delivery-dispatch/internal/models"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// drivers connect from the mobile app, not from a browser origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSession serializes writes to one driver connection.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) Send(r models.DriverRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(r)
}

// handleInboxWS streams the driver's requests, snapshot first, until the
// client goes away.
func (s *Server) handleInboxWS(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, err := s.svc.Inbox.Subscribe(ctx, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "driver_id", actor.ID, "error", err)
		return
	}
	defer conn.Close()
	sess := &wsSession{conn: conn}
	log := s.logger.With("driver_id", actor.ID)
	log.Info("driver inbox connected")

	// the client sends nothing; reading detects the close
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for req := range updates {
		if err := sess.Send(req); err != nil {
			log.Warn("websocket send failed", "request_id", req.ID, "error", err)
			cancel()
			break
		}
	}
	// drain so the subscription goroutine can exit
	for range updates {
	}
	log.Info("driver inbox disconnected")
}
