// internal/api/websocket.go
package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/FlagLens/internal/models"
	"github.com/Corphon/FlagLens/internal/services"
	"github.com/Corphon/FlagLens/internal/utils"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketClient 表示一个 WebSocket 客户端连接
type WebSocketClient struct {
	conn      *websocket.Conn
	sessionID string
	createdAt time.Time
	closed    int32
	done      chan struct{}
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		client.conn.Close()
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// SessionHub streams session transitions to browser tabs over WebSocket.
type SessionHub struct {
	sessions *services.SessionService
	logger   *utils.Logger

	connections map[string]map[*WebSocketClient]struct{} // sessionID -> clients
	mutex       sync.RWMutex
	wg          sync.WaitGroup

	writeWait    time.Duration
	pongWait     time.Duration
	pingInterval time.Duration
}

// NewSessionHub 创建会话推送中心
func NewSessionHub(sessions *services.SessionService, logger *utils.Logger) *SessionHub {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &SessionHub{
		sessions:     sessions,
		logger:       logger,
		connections:  make(map[string]map[*WebSocketClient]struct{}),
		writeWait:    10 * time.Second,
		pongWait:     60 * time.Second,
		pingInterval: 50 * time.Second,
	}
}

// Serve upgrades the request and forwards every event of sessionID until
// either side goes away.
func (hub *SessionHub) Serve(c *gin.Context, sessionID string) {
	events, unsubscribe, err := hub.sessions.Subscribe(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, &APIResponse{
			Success:   false,
			Error:     &APIError{Code: ErrorSessionNotFound, Message: "session not found"},
			Timestamp: time.Now(),
		})
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err})
		return
	}

	client := &WebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	hub.register(client)
	defer hub.unregister(client)

	hub.wg.Add(1)
	go func() {
		defer hub.wg.Done()
		hub.readPump(client)
	}()

	hub.writePump(client, events)
}

// readPump 读取客户端消息，仅用于检测断开和心跳
func (hub *SessionHub) readPump(client *WebSocketClient) {
	defer client.Close()

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(hub.pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(hub.pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (hub *SessionHub) writePump(client *WebSocketClient, events <-chan models.SessionEvent) {
	ticker := time.NewTicker(hub.pingInterval)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case <-client.done:
			return

		case event, ok := <-events:
			client.conn.SetWriteDeadline(time.Now().Add(hub.writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := client.conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(hub.writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (hub *SessionHub) register(client *WebSocketClient) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	if hub.connections[client.sessionID] == nil {
		hub.connections[client.sessionID] = make(map[*WebSocketClient]struct{})
	}
	hub.connections[client.sessionID][client] = struct{}{}

	hub.logger.Debug("websocket client connected", map[string]interface{}{"session": client.sessionID})
}

func (hub *SessionHub) unregister(client *WebSocketClient) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	if clients, exists := hub.connections[client.sessionID]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(hub.connections, client.sessionID)
		}
	}

	hub.logger.Debug("websocket client disconnected", map[string]interface{}{
		"session":  client.sessionID,
		"duration": time.Since(client.createdAt).String(),
	})
}

// ClientCount 返回某会话的连接数
func (hub *SessionHub) ClientCount(sessionID string) int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.connections[sessionID])
}

// GetStatus 获取连接状态
func (hub *SessionHub) GetStatus() map[string]interface{} {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()

	total := 0
	for _, clients := range hub.connections {
		total += len(clients)
	}
	return map[string]interface{}{
		"total_sessions":    len(hub.connections),
		"total_connections": total,
	}
}

// Shutdown closes every connection and waits for the readers to exit.
func (hub *SessionHub) Shutdown() {
	hub.mutex.RLock()
	for _, clients := range hub.connections {
		for client := range clients {
			client.Close()
		}
	}
	hub.mutex.RUnlock()

	hub.wg.Wait()
}
