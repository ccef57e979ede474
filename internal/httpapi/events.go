package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/echovault/internal/bus"
	"github.com/matheus3301/echovault/internal/service"
	"github.com/matheus3301/echovault/internal/vault"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// eventFrame is the JSON pushed to websocket clients, shaped like the
// browser's conditions-updated CustomEvent.
type eventFrame struct {
	Type   string                  `json:"type"`
	Detail vault.ConditionsUpdated `json:"detail"`
}

// events upgrades to a websocket and streams conditions-updated events the
// caller may see. Browsers cannot set headers on websocket requests, so the
// token may also come as ?token=.
func (s *Server) events(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		token = c.Query("token")
	}
	caller, err := s.auth.caller(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	ch, unsub := s.bus.Subscribe(bus.KindConditionUpdated, 64)
	done := make(chan struct{})
	go readPump(conn, done)
	s.writePump(conn, caller, ch, done)
	unsub()
}

// readPump discards client frames and closes done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, caller service.Caller, ch <-chan bus.Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case <-done:
			return
		case evt, ok := <-ch:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			u, ok := evt.Payload.(vault.ConditionsUpdated)
			if !ok || !visible(caller, u) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(eventFrame{Type: "conditions-updated", Detail: u}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// visible reports whether caller may receive u.
func visible(caller service.Caller, u vault.ConditionsUpdated) bool {
	return caller.Internal || (u.UserID != "" && u.UserID == caller.UserID)
}
