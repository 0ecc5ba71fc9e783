package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"aetherBoard/backend/internal/board"
	"aetherBoard/backend/internal/cache"
)

// 全局的 WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	hub      *Hub
	presence cache.PresenceCache
}

func NewManager(hub *Hub, presenceCache cache.PresenceCache) *Manager {
	return &Manager{hub: hub, presence: presenceCache}
}

// Hub 暴露给 HTTP 处理器做事件广播。
func (m *Manager) Hub() *Hub { return m.hub }

// WebSocketConnect 升级连接并进入读循环（阻塞至连接关闭）。
// actorId 由鉴权中间件写入 gin 上下文。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	actorID := c.GetString("actorId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.hub, actorID, m.presence)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()

	wsConn.readLoop(c.Request.Context())

	// 连接断开：从所有房间摘除
	for _, boardID := range m.hub.LeaveAll(wsConn) {
		wsConn.broadcastPresence(boardID, board.EventPresenceLeft, "")
	}
}
