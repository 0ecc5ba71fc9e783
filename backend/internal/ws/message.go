package ws

import (
	"encoding/json"
	"time"
)

// 传输层外框消息类型
type MessageType string

const (
	TypeEvent   MessageType = "event"   // 载荷是 board.Envelope
	TypeCommand MessageType = "command" // join/leave、presence 信号
	TypeAck     MessageType = "ack"
	TypeError   MessageType = "error"
)

// WebSocketMessage 是长连接上的统一外框。
// 同步核心只消费 type=event 的消息，出站只产生 type=command。
type WebSocketMessage struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// Command 动作名
const (
	ActionJoinBoard  = "joinBoard"
	ActionLeaveBoard = "leaveBoard"
	ActionSignal     = "presenceSignal"
)

// Command 是客户端发往服务端的指令（加入/离开房间、瞬时信号）。
type Command struct {
	Action  string `json:"action"`
	BoardID string `json:"boardId,omitempty"`
	// presence 信号：scope 是 boardID 或 cardID
	Scope string `json:"scope,omitempty"`
	Kind  string `json:"kind,omitempty"`
	TTLMs int64  `json:"ttlMs,omitempty"`
	// stop=true 表示显式结束（typing.stopped / left）
	Stop bool `json:"stop,omitempty"`
}

// Ack 服务端对 command 的确认。
type Ack struct {
	MessageID string `json:"messageId,omitempty"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// NewEventMessage 把事件信封包进外框。
func NewEventMessage(payload any) (WebSocketMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return WebSocketMessage{}, err
	}
	return WebSocketMessage{Type: TypeEvent, Payload: b, Timestamp: time.Now()}, nil
}

// NewCommandMessage 把指令包进外框。
func NewCommandMessage(cmd Command) (WebSocketMessage, error) {
	b, err := json.Marshal(cmd)
	if err != nil {
		return WebSocketMessage{}, err
	}
	return WebSocketMessage{Type: TypeCommand, Payload: b, Timestamp: time.Now()}, nil
}
