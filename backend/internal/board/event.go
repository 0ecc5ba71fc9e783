package board

import (
	"strings"
	"time"
)

// EventKind 是持久/瞬时事件目录里的一种类型名。
type EventKind string

// 持久事件目录（会进事件日志、带向量时钟、可回放）
const (
	EventCardCreated          EventKind = "card.created"
	EventCardUpdated          EventKind = "card.updated"
	EventCardMoved            EventKind = "card.moved"
	EventCardDeleted          EventKind = "card.deleted"
	EventCardCompleted        EventKind = "card.completed"
	EventCardUncompleted      EventKind = "card.uncompleted"
	EventCardMemberAssigned   EventKind = "card.member.assigned"
	EventCardMemberUnassigned EventKind = "card.member.unassigned"
	EventCardLabelAdded       EventKind = "card.label.added"
	EventCardLabelRemoved     EventKind = "card.label.removed"

	EventListCreated   EventKind = "list.created"
	EventListUpdated   EventKind = "list.updated"
	EventListReordered EventKind = "list.reordered"
	EventListDeleted   EventKind = "list.deleted"

	EventBoardUpdated  EventKind = "board.updated"
	EventBoardArchived EventKind = "board.archived"
)

// 瞬时事件目录（presence / typing / cursor：不落盘、不带向量时钟、TTL 过期）
const (
	EventPresenceJoined        EventKind = "presence.user.joined"
	EventPresenceLeft          EventKind = "presence.user.left"
	EventPresenceTyping        EventKind = "presence.user.typing"
	EventPresenceTypingStopped EventKind = "presence.user.typing.stopped"
	EventPresenceCursorMoved   EventKind = "presence.cursor.moved"
)

// Ephemeral 区分两类目录：presence.* 永不持久化、永不参与因果排序。
func (k EventKind) Ephemeral() bool {
	return strings.HasPrefix(string(k), "presence.")
}

// Op 是对事件类型做穷举分派用的归类。
// 新增持久事件类型时必须同时补 kindOps 表，否则 Reconciler 会按 OpUnknown
// 走“整体重拉”降级路径，而不是悄悄丢掉。
type Op int

const (
	OpUnknown Op = iota
	OpCreate
	OpUpdate
	OpMove
	OpDelete
	OpAttach
	OpDetach
)

var kindOps = map[EventKind]Op{
	EventCardCreated:          OpCreate,
	EventCardUpdated:          OpUpdate,
	EventCardMoved:            OpMove,
	EventCardDeleted:          OpDelete,
	EventCardCompleted:        OpUpdate,
	EventCardUncompleted:      OpUpdate,
	EventCardMemberAssigned:   OpAttach,
	EventCardMemberUnassigned: OpDetach,
	EventCardLabelAdded:       OpAttach,
	EventCardLabelRemoved:     OpDetach,

	EventListCreated:   OpCreate,
	EventListUpdated:   OpUpdate,
	EventListReordered: OpMove,
	EventListDeleted:   OpDelete,

	EventBoardUpdated:  OpUpdate,
	EventBoardArchived: OpUpdate,
}

func (k EventKind) Op() Op { return kindOps[k] }

// Meta 是事件信封的元信息。
type Meta struct {
	EventID   string      `json:"eventId"`
	Timestamp time.Time   `json:"timestamp"`
	ActorID   string      `json:"actorId"`
	Clock     VectorClock `json:"vectorClock,omitempty"`
	// CorrelationID 回填提交方的 requestId，
	// 用来识别“自己乐观变更的回声”，避免重复应用。
	CorrelationID string `json:"correlationId,omitempty"`
}

// Payload 携带定位实体所需的全部 id（boardId / listId / cardId），
// 以及各 Op 需要的附加字段。不用的字段留零值。
type Payload struct {
	BoardID string `json:"boardId,omitempty"`
	ListID  string `json:"listId,omitempty"`
	CardID  string `json:"cardId,omitempty"`

	// moved / reordered：目标父集合与目标下标
	TargetListID string `json:"targetListId,omitempty"`
	TargetIndex  int    `json:"targetIndex"`

	// created：服务端分配的排序位置（0 表示未带，接收方排到尾部）
	Position float64 `json:"position,omitempty"`

	// created / updated：属性集（updated 只带改动的键）
	Attrs map[string]any `json:"attrs,omitempty"`

	// 关系 attach / detach
	MemberID string `json:"memberId,omitempty"`
	LabelID  string `json:"labelId,omitempty"`
}

// Envelope 是传输层与事件日志共用的信封结构。
type Envelope struct {
	Type    EventKind `json:"type"`
	Payload Payload   `json:"payload"`
	Meta    Meta      `json:"meta"`
}

// EntityID 返回信封指向的实体 id。
func (env Envelope) EntityID() string {
	switch {
	case strings.HasPrefix(string(env.Type), "card."):
		return env.Payload.CardID
	case strings.HasPrefix(string(env.Type), "list."):
		return env.Payload.ListID
	case strings.HasPrefix(string(env.Type), "board."):
		return env.Payload.BoardID
	}
	return ""
}

// EntityKind 返回信封指向实体的种类。
func (env Envelope) EntityKind() Kind {
	switch {
	case strings.HasPrefix(string(env.Type), "card."):
		return KindCard
	case strings.HasPrefix(string(env.Type), "list."):
		return KindList
	}
	return KindBoard
}

// ParentID 返回 create/move 语境下实体应落入的父集合 id。
// 卡片的父集合是列表，列表的父集合是看板。
func (env Envelope) ParentID() string {
	switch env.EntityKind() {
	case KindCard:
		if env.Type == EventCardMoved && env.Payload.TargetListID != "" {
			return env.Payload.TargetListID
		}
		return env.Payload.ListID
	case KindList:
		return env.Payload.BoardID
	}
	return ""
}

// Relation 返回 attach/detach 事件操作的属性名与成员值。
func (env Envelope) Relation() (attr, id string) {
	switch env.Type {
	case EventCardMemberAssigned, EventCardMemberUnassigned:
		return "members", env.Payload.MemberID
	case EventCardLabelAdded, EventCardLabelRemoved:
		return "labels", env.Payload.LabelID
	}
	return "", ""
}
