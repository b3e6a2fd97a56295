package fanout

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"medical-records-access/internal/middleware"
	"medical-records-access/internal/platform/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 1024
)

// Message es el frame que ve el cliente websocket.
type Message struct {
	Type    Kind  `json:"type"`
	Content Event `json:"content"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler suscribe la conexión al hub con la identidad del request
// (Bearer, ?token= o headers de debug; ver middleware.AuthContext).
func WSHandler(hub *Hub, log logger.Logger) http.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" || claims.Role == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", map[string]any{"err": err})
			return
		}

		c := &wsClient{
			conn: conn,
			sub:  hub.Subscribe(claims.UserID, claims.Role),
			log:  log.With(map[string]any{"user_id": claims.UserID, "role": string(claims.Role)}),
		}
		c.log.Info("websocket client connected", nil)

		go c.writePump()
		c.readPump()
	}
}

type wsClient struct {
	conn *websocket.Conn
	sub  *Subscription
	log  logger.Logger
}

// readPump solo mantiene viva la conexión; el cliente no envía comandos.
func (c *wsClient) readPump() {
	defer func() {
		c.sub.Close()
		_ = c.conn.Close()
		c.log.Info("websocket client disconnected", nil)
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", map[string]any{"err": err})
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			b, err := json.Marshal(Message{Type: ev.Kind, Content: ev})
			if err != nil {
				c.log.Error("websocket marshal failed", map[string]any{"err": err})
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
