// Package relay 是参考中继服务的核心：接收客户端的持久变更，
// 铸造事件信封、写事件日志、维护每个看板的权威内存状态，
// 并把事件旁路到 Kafka 供下游（搜索索引、通知）消费。
//
// 权威状态直接复用客户端同款的 collection.Store + reconcile.Reconciler：
// 服务端和客户端对同一条事件流的解释因此严格一致。
package relay

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"aetherBoard/backend/internal/board"
	"aetherBoard/backend/internal/collection"
	"aetherBoard/backend/internal/journal"
	"aetherBoard/backend/internal/reconcile"
)

var ErrNotApplicable = errors.New("EVENT_NOT_APPLICABLE")

// EventLog 是持久事件日志的依赖面（生产实现是 store.EventStore）。
type EventLog interface {
	InsertEvent(ctx context.Context, boardID string, env board.Envelope) error
	ListEventsAfter(ctx context.Context, boardID, afterEventID string, limit int) ([]board.Envelope, error)
	LastEventID(ctx context.Context, boardID string) (string, error)
}

type Service struct {
	mu         sync.Mutex
	events     EventLog         // 可为 nil（无库演示模式，只有内存状态）
	dispatcher *KafkaDispatcher // 可为 nil
	boards     map[string]*boardState
}

type boardState struct {
	store       *collection.Store
	rec         *reconcile.Reconciler
	lastEventID string
	rebuilt     bool
}

func NewService(events EventLog, dispatcher *KafkaDispatcher) *Service {
	return &Service{
		events:     events,
		dispatcher: dispatcher,
		boards:     make(map[string]*boardState),
	}
}

// Append 是服务端落一个持久变更的唯一路径：
// 补齐 eventId / 时间戳 → 写事件日志 → 应用到权威内存状态 → Kafka 旁路。
// 返回补齐后的信封，调用方负责向房间广播。
func (s *Service) Append(ctx context.Context, boardID string, env board.Envelope) (board.Envelope, error) {
	if env.Meta.EventID == "" {
		env.Meta.EventID = uuid.NewString()
	}
	if env.Meta.Timestamp.IsZero() {
		env.Meta.Timestamp = time.Now().UTC()
	}
	if env.Payload.BoardID == "" {
		env.Payload.BoardID = boardID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bs := s.boardState(ctx, boardID)

	// 先在内存态上验证可应用（指向不存在实体的变更直接拒绝），
	// 再落库，避免日志里混进应用不了的事件。
	outcome := s.apply(bs, env)
	if outcome == reconcile.IgnoredIrrelevant {
		return board.Envelope{}, ErrNotApplicable
	}

	if s.events != nil {
		if err := s.events.InsertEvent(ctx, boardID, env); err != nil {
			return board.Envelope{}, err
		}
	}
	bs.lastEventID = env.Meta.EventID

	if s.dispatcher != nil {
		enqueueCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if err := s.dispatcher.Enqueue(enqueueCtx, boardID, env); err != nil {
			// Kafka 是旁路，不因它失败整个提交
			log.Printf("relay: kafka enqueue failed board=%s: %v", boardID, err)
		}
		cancel()
	}
	return env, nil
}

// Snapshot 返回看板的权威快照（列表、卡片、最新事件 id）。
func (s *Service) Snapshot(ctx context.Context, boardID string) (lists, cards []board.Entity, lastEventID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs := s.boardState(ctx, boardID)
	lists = bs.store.List(boardID)
	for _, list := range lists {
		cards = append(cards, bs.store.List(list.ID)...)
	}
	return lists, cards, bs.lastEventID, nil
}

// EventsAfter 从事件日志取补拉片段。
func (s *Service) EventsAfter(ctx context.Context, boardID, afterEventID string, limit int) ([]board.Envelope, error) {
	if s.events == nil {
		return nil, nil
	}
	return s.events.ListEventsAfter(ctx, boardID, afterEventID, limit)
}

// boardState 惰性建每看板状态；首次访问时从事件日志整体回放重建
// （服务重启后的恢复路径，与客户端补拉是同一批事件、同一个 Apply）。
// 必须在持锁状态下调用。
func (s *Service) boardState(ctx context.Context, boardID string) *boardState {
	bs, ok := s.boards[boardID]
	if ok {
		return bs
	}
	st := collection.NewStore()
	st.MarkLoaded(boardID)
	bs = &boardState{store: st, rec: reconcile.New(st, journal.New(st))}
	s.boards[boardID] = bs

	if s.events != nil && !bs.rebuilt {
		envs, err := s.events.ListEventsAfter(ctx, boardID, "", 100_000)
		if err != nil {
			log.Printf("relay: rebuild board=%s from event log failed: %v", boardID, err)
		}
		for _, env := range envs {
			s.apply(bs, env)
			bs.lastEventID = env.Meta.EventID
		}
		// 游标以日志为准：回放片段被 limit 截断时，补拉游标
		// 也不能停在截断处
		if id, err := s.events.LastEventID(ctx, boardID); err == nil && id != "" {
			bs.lastEventID = id
		}
		bs.rebuilt = true
	}
	return bs
}

func (s *Service) apply(bs *boardState, env board.Envelope) reconcile.Outcome {
	outcome := bs.rec.Apply(env)
	if outcome == reconcile.Applied && env.Type == board.EventListCreated {
		// 新列表从此算“已加载”，后续该列表下的 card.created 才能过相关性
		bs.store.MarkLoaded(env.Payload.ListID)
	}
	if outcome != reconcile.Applied {
		log.Printf("relay: event %s %s -> %s", env.Type, env.Meta.EventID, outcome)
	}
	return outcome
}
