package ws

import (
	"sync"
)

// Hub 维护 boardID -> 连接集合 的房间表（服务端）。
// 房间里存的是连接而不是 actorID：同一用户可开多个标签页/设备，
// 广播要逐连接发。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定看板房间
func (h *Hub) Join(boardID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[boardID] == nil {
		h.rooms[boardID] = make(map[*Conn]struct{})
	}
	h.rooms[boardID][c] = struct{}{}
}

// Leave 将连接从指定看板房间移除
func (h *Hub) Leave(boardID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[boardID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, boardID)
		}
	}
}

// LeaveAll 连接关闭时从所有房间摘除，返回曾加入的房间。
func (h *Hub) LeaveAll(c *Conn) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var left []string
	for boardID, conns := range h.rooms {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			left = append(left, boardID)
			if len(conns) == 0 {
				delete(h.rooms, boardID)
			}
		}
	}
	return left
}

// Broadcast 把消息发给房间内所有连接；except 不为 nil 时跳过它
// （发起方不需要收到自己 presence 信号的回显；持久事件则对全员
// 广播，发起方靠 correlationId 识别自回声）。
func (h *Hub) Broadcast(boardID string, msg WebSocketMessage, except *Conn) {
	h.mu.RLock()
	conns := h.rooms[boardID]
	h.mu.RUnlock()
	for c := range conns {
		if c == except {
			continue
		}
		c.Enqueue(msg)
	}
}
