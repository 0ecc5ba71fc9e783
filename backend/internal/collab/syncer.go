// Package collab 是同步核心的唯一对外门面（façade）。
//
// 本地用户意图（拖卡、改标题…）从这里进：先乐观应用 + 记日志，
// 再异步提交给请求执行器，失败回滚；入站传输消息也从这里进：
// 持久事件路由给 reconcile，presence.* 路由给 presence.Tracker。
//
// Store / Journal / Reconciler 本身不加锁，Syncer 持一把互斥锁把
// 所有变更入口串行化，网络往返是唯一的挂起点。
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"aetherBoard/backend/internal/board"
	"aetherBoard/backend/internal/collection"
	"aetherBoard/backend/internal/journal"
	"aetherBoard/backend/internal/presence"
	"aetherBoard/backend/internal/reconcile"
	"aetherBoard/backend/internal/ws"
)

var (
	ErrSubmitFailed  = errors.New("SUBMIT_FAILED")
	ErrUnknownEntity = errors.New("UNKNOWN_ENTITY")
)

// 瞬时状态的 TTL
const (
	viewerTTL = 60 * time.Second
	typingTTL = 6 * time.Second
	cursorTTL = 30 * time.Second
)

// SendFunc 把出站消息交给传输层；传输断开时返回错误即可，
// 核心不重试（presence 信号丢了无所谓，下个心跳会补上）。
type SendFunc func(msg ws.WebSocketMessage) error

type Syncer struct {
	mu sync.Mutex

	actorID string

	store   *collection.Store
	journal *journal.Journal
	rec     *reconcile.Reconciler

	// presence tracker 按打开的看板一板一个
	trackers map[string]*presence.Tracker
	typing   *presence.Debounce

	exec RequestExecutor
	send SendFunc

	// 本 actor 的向量时钟：每产出一个持久变更自增一次
	clock board.VectorClock

	// lastEvent: boardID -> 最后一个已应用事件的 eventId，补拉用
	lastEvent map[string]string
	// dirty: 和解器要求整体重拉的看板
	dirty map[string]struct{}
}

func NewSyncer(actorID string, exec RequestExecutor, send SendFunc) *Syncer {
	store := collection.NewStore()
	jnl := journal.New(store)
	rec := reconcile.New(store, jnl)
	s := &Syncer{
		actorID:   actorID,
		store:     store,
		journal:   jnl,
		rec:       rec,
		trackers:  make(map[string]*presence.Tracker),
		typing:    presence.NewDebounce(presence.DefaultTypingWindow),
		exec:      exec,
		send:      send,
		clock:     board.VectorClock{},
		lastEvent: make(map[string]string),
		dirty:     make(map[string]struct{}),
	}
	// 降级回路：和解器遇到本地补不齐的情况就标脏，等上层 Resync
	rec.RefetchHint = func(boardID string) {
		if boardID != "" {
			s.dirty[boardID] = struct{}{}
		}
	}
	return s
}

// HandleMessage 是传输层入站消息的唯一入口。
// 实时推送与补拉回放都最终收敛到 reconcile.Apply 这一条路径。
func (s *Syncer) HandleMessage(msg ws.WebSocketMessage) {
	switch msg.Type {
	case ws.TypeEvent:
		var env board.Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			log.Printf("collab: drop malformed event payload: %v", err)
			return
		}
		s.handleEnvelope(env)
	case ws.TypeError:
		log.Printf("collab: transport error message: %s", string(msg.Payload))
	case ws.TypeAck:
		// command 的确认，当前不跟踪
	}
}

func (s *Syncer) handleEnvelope(env board.Envelope) {
	if env.Type.Ephemeral() {
		s.handlePresence(env)
		return
	}
	s.mu.Lock()
	outcome := s.rec.Apply(env)
	if outcome == reconcile.Applied && env.Payload.BoardID != "" && env.Meta.EventID != "" {
		s.lastEvent[env.Payload.BoardID] = env.Meta.EventID
	}
	s.mu.Unlock()
	if outcome != reconcile.Applied {
		// 过期/重复/不相关：静默丢弃，只留日志
		log.Printf("collab: event %s %s -> %s", env.Type, env.Meta.EventID, outcome)
	}
}

func (s *Syncer) handlePresence(env board.Envelope) {
	boardID := env.Payload.BoardID
	if boardID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tracker := s.tracker(boardID)
	actorID := env.Meta.ActorID
	switch env.Type {
	case board.EventPresenceJoined:
		tracker.Signal(actorID, boardID, presence.KindViewer, viewerTTL)
	case board.EventPresenceLeft:
		tracker.Stop(actorID, boardID, presence.KindViewer)
	case board.EventPresenceTyping:
		tracker.Signal(actorID, typingScope(env), presence.KindTyping, typingTTL)
	case board.EventPresenceTypingStopped:
		tracker.Stop(actorID, typingScope(env), presence.KindTyping)
	case board.EventPresenceCursorMoved:
		tracker.Signal(actorID, boardID, presence.KindCursor, cursorTTL)
	}
}

// typing 的 scope 粒度是卡片（评论框），没有卡片时退回看板
func typingScope(env board.Envelope) string {
	if env.Payload.CardID != "" {
		return env.Payload.CardID
	}
	return env.Payload.BoardID
}

// boardSnapshot 是 GET /v1/boards/:id 的权威快照。
type boardSnapshot struct {
	Board       board.Entity   `json:"board"`
	Lists       []board.Entity `json:"lists"`
	Cards       []board.Entity `json:"cards"`
	LastEventID string         `json:"lastEventId,omitempty"`
}

// JoinBoard 加入看板：发 join 指令、拉权威快照进工作集，
// 之后该看板的事件流就能通过相关性过滤了。
func (s *Syncer) JoinBoard(ctx context.Context, boardID string) error {
	s.sendCommand(ws.Command{Action: ws.ActionJoinBoard, BoardID: boardID})

	resp, err := s.exec.Do(ctx, "GET", "/v1/boards/"+boardID, nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrSubmitFailed, resp.Error)
	}
	var snap boardSnapshot
	if err := json.Unmarshal(resp.Data, &snap); err != nil {
		return fmt.Errorf("decode board snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.MarkLoaded(boardID)
	if snap.Board.ID != "" {
		s.store.Upsert(snap.Board)
		s.clock.Merge(snap.Board.Clock)
	}
	for _, list := range snap.Lists {
		s.store.Upsert(list)
		s.store.MarkLoaded(list.ID)
		s.clock.Merge(list.Clock)
	}
	for _, card := range snap.Cards {
		s.store.Upsert(card)
		// 会话时钟从快照续上：重启后复用同一 actorId 时，自己的分量
		// 必须接着历史最大值严格递增，从 1 重数会被对端当过期事件丢掉
		s.clock.Merge(card.Clock)
	}
	if snap.LastEventID != "" {
		s.lastEvent[boardID] = snap.LastEventID
	}
	delete(s.dirty, boardID)
	return nil
}

// LeaveBoard 发 leave 指令并丢弃该看板的 presence 状态。
// 工作集保留：回来时 Resync 即可追平。
func (s *Syncer) LeaveBoard(boardID string) {
	s.sendCommand(ws.Command{Action: ws.ActionLeaveBoard, BoardID: boardID})
	s.mu.Lock()
	delete(s.trackers, boardID)
	s.mu.Unlock()
}

// Backfill 拉取 after 之后的事件并逐个回放。
// 回放与实时是同一个 Apply：重连后收到的重复事件会被去重/过期
// 检查拦掉，不需要任何特判。
func (s *Syncer) Backfill(ctx context.Context, boardID string) error {
	s.mu.Lock()
	after := s.lastEvent[boardID]
	s.mu.Unlock()

	resp, err := s.exec.Do(ctx, "GET", "/v1/boards/"+boardID+"/events?after="+after, nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrSubmitFailed, resp.Error)
	}
	var envs []board.Envelope
	if err := json.Unmarshal(resp.Data, &envs); err != nil {
		return fmt.Errorf("decode backfill events: %w", err)
	}
	for _, env := range envs {
		s.handleEnvelope(env)
	}
	return nil
}

// NeedsResync 返回被和解器标脏、需要整体重拉的看板。
func (s *Syncer) NeedsResync() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.dirty))
	for boardID := range s.dirty {
		out = append(out, boardID)
	}
	return out
}

// Resync 对标脏的看板重拉权威快照（错误处理的兜底路径：
// 一切失败模式最终都退化成“重拉受影响范围的权威状态”）。
func (s *Syncer) Resync(ctx context.Context, boardID string) error {
	return s.JoinBoard(ctx, boardID)
}

// Typing 发送“我在输入”信号，窗口期内去抖。
func (s *Syncer) Typing(boardID, cardID string) {
	if !s.typing.ShouldSend(cardID) {
		return
	}
	s.sendCommand(ws.Command{
		Action: ws.ActionSignal, BoardID: boardID, Scope: cardID,
		Kind: string(presence.KindTyping), TTLMs: typingTTL.Milliseconds(),
	})
}

// StopTyping 显式结束输入信号。
func (s *Syncer) StopTyping(boardID, cardID string) {
	s.typing.Reset(cardID)
	s.sendCommand(ws.Command{
		Action: ws.ActionSignal, BoardID: boardID, Scope: cardID,
		Kind: string(presence.KindTyping), Stop: true,
	})
}

// ---- 只读访问 ----

// Lists 返回看板内按位置升序的列表。
func (s *Syncer) Lists(boardID string) []board.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.List(boardID)
}

// Cards 返回列表内按位置升序的卡片。
func (s *Syncer) Cards(listID string) []board.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.List(listID)
}

// Card 按 id 取卡片（深拷贝）。
func (s *Syncer) Card(cardID string) (board.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Get(cardID)
}

// ActiveViewers 返回看板当前未过期的在场者。
func (s *Syncer) ActiveViewers(boardID string) []presence.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker(boardID).ListActive(boardID)
}

// TypingActors 返回卡片上正在输入的 actor。
func (s *Syncer) TypingActors(boardID, cardID string) []presence.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker(boardID).ListActive(cardID)
}

// ---- 内部 ----

func (s *Syncer) tracker(boardID string) *presence.Tracker {
	t, ok := s.trackers[boardID]
	if !ok {
		t = presence.NewTracker()
		s.trackers[boardID] = t
	}
	return t
}

func (s *Syncer) sendCommand(cmd ws.Command) {
	if s.send == nil {
		return
	}
	msg, err := ws.NewCommandMessage(cmd)
	if err != nil {
		return
	}
	msg.MessageID = uuid.NewString()
	if err := s.send(msg); err != nil {
		log.Printf("collab: send command %s failed: %v", cmd.Action, err)
	}
}
