package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"aetherBoard/backend/internal/board"
	"aetherBoard/backend/internal/cache"
	"aetherBoard/backend/internal/presence"
)

// Conn 是服务端持有的一条客户端连接：读循环消费 command，
// 写循环消费带缓冲的 send 通道。
type Conn struct {
	ws      *websocket.Conn
	hub     *Hub
	actorID string
	// chan 是 goroutine 之间通信的队列；出站消息统一走这里
	send     chan WebSocketMessage
	presence cache.PresenceCache
}

func NewConn(wsConn *websocket.Conn, hub *Hub, actorID string, presenceCache cache.PresenceCache) *Conn {
	return &Conn{
		ws:       wsConn,
		hub:      hub,
		actorID:  actorID,
		send:     make(chan WebSocketMessage, 32),
		presence: presenceCache,
	}
}

// Enqueue 把消息放入出站队列；队列满了则丢弃（慢消费者不拖垮广播）。
func (c *Conn) Enqueue(msg WebSocketMessage) {
	select {
	case c.send <- msg:
	default:
		// 队列满，丢弃
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.send)
	for {
		var msg WebSocketMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			log.Printf("read json error (actor=%s): %v", c.actorID, err)
			return
		}
		if msg.Type != TypeCommand {
			// 客户端只应发 command；其余忽略
			continue
		}
		var cmd Command
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			c.Enqueue(WebSocketMessage{Type: TypeError, Payload: json.RawMessage(`"malformed command"`)})
			continue
		}
		c.handleCommand(ctx, msg.MessageID, cmd)
	}
}

func (c *Conn) handleCommand(ctx context.Context, messageID string, cmd Command) {
	switch cmd.Action {
	case ActionJoinBoard:
		c.hub.Join(cmd.BoardID, c)
		if c.presence != nil {
			if err := c.presence.Signal(ctx, cmd.BoardID, c.actorID, string(presence.KindViewer), 60*time.Second); err != nil {
				log.Printf("presence signal error: %v", err)
			}
		}
		c.broadcastPresence(cmd.BoardID, board.EventPresenceJoined, "")
		c.ack(messageID)

	case ActionLeaveBoard:
		c.hub.Leave(cmd.BoardID, c)
		if c.presence != nil {
			_ = c.presence.Stop(ctx, cmd.BoardID, c.actorID, string(presence.KindViewer))
		}
		c.broadcastPresence(cmd.BoardID, board.EventPresenceLeft, "")
		c.ack(messageID)

	case ActionSignal:
		kind := c.signalKind(cmd)
		if kind == "" {
			return
		}
		if c.presence != nil {
			if cmd.Stop {
				_ = c.presence.Stop(ctx, cmd.Scope, c.actorID, cmd.Kind)
			} else {
				ttl := time.Duration(cmd.TTLMs) * time.Millisecond
				if ttl <= 0 {
					ttl = 30 * time.Second
				}
				_ = c.presence.Signal(ctx, cmd.Scope, c.actorID, cmd.Kind, ttl)
			}
		}
		c.broadcastPresence(cmd.BoardID, kind, cmd.Scope)

	default:
		// 忽略未知指令，回一条提示
		c.Enqueue(WebSocketMessage{Type: TypeError, Payload: json.RawMessage(`"unknown command"`)})
	}
}

func (c *Conn) signalKind(cmd Command) board.EventKind {
	switch presence.Kind(cmd.Kind) {
	case presence.KindTyping:
		if cmd.Stop {
			return board.EventPresenceTypingStopped
		}
		return board.EventPresenceTyping
	case presence.KindCursor:
		return board.EventPresenceCursorMoved
	case presence.KindViewer:
		if cmd.Stop {
			return board.EventPresenceLeft
		}
		return board.EventPresenceJoined
	}
	return ""
}

// broadcastPresence 把瞬时信号转成 presence.* 信封广播给房间里
// 除自己以外的成员。瞬时事件没有 eventId、没有向量时钟。
func (c *Conn) broadcastPresence(boardID string, kind board.EventKind, cardScope string) {
	env := board.Envelope{
		Type: kind,
		Payload: board.Payload{
			BoardID: boardID,
		},
		Meta: board.Meta{
			ActorID:   c.actorID,
			Timestamp: time.Now().UTC(),
		},
	}
	if cardScope != "" && cardScope != boardID {
		env.Payload.CardID = cardScope
	}
	msg, err := NewEventMessage(env)
	if err != nil {
		return
	}
	c.hub.Broadcast(boardID, msg, c)
}

func (c *Conn) ack(messageID string) {
	b, _ := json.Marshal(Ack{MessageID: messageID, OK: true})
	c.Enqueue(WebSocketMessage{Type: TypeAck, Payload: b, Timestamp: time.Now()})
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的出站消息
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}
