package collab

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"aetherBoard/backend/internal/board"
	"aetherBoard/backend/internal/ws"
)

// fakeExecutor 按注入的函数应答；不给函数时一律成功、无数据。
type fakeExecutor struct {
	respond func(method, path string, body any) (Response, error)
	calls   []string
}

func (f *fakeExecutor) Do(_ context.Context, method, path string, body any) (Response, error) {
	f.calls = append(f.calls, method+" "+path)
	if f.respond != nil {
		return f.respond(method, path, body)
	}
	return Response{Success: true}, nil
}

func newTestSyncer(t *testing.T, exec *fakeExecutor) *Syncer {
	t.Helper()
	s := NewSyncer("actor-a", exec, func(ws.WebSocketMessage) error { return nil })
	// 预置工作集：board-1 下列表 A、B，A 里有两张卡
	s.store.MarkLoaded("board-1")
	for _, ent := range []board.Entity{
		{ID: "list-a", ParentID: "board-1", Kind: board.KindList, Position: 1.0, Attrs: map[string]any{"title": "待办"}},
		{ID: "list-b", ParentID: "board-1", Kind: board.KindList, Position: 2.0, Attrs: map[string]any{"title": "完成"}},
		{ID: "card-1", ParentID: "list-a", Kind: board.KindCard, Position: 1.0, Attrs: map[string]any{"title": "卡一"}},
		{ID: "card-2", ParentID: "list-a", Kind: board.KindCard, Position: 2.0, Attrs: map[string]any{"title": "卡二"}},
	} {
		s.store.Upsert(ent)
	}
	s.store.MarkLoaded("list-a")
	s.store.MarkLoaded("list-b")
	return s
}

func TestCreateCard_OptimisticThenConfirmed(t *testing.T) {
	exec := &fakeExecutor{}
	s := newTestSyncer(t, exec)

	cardID, err := s.CreateCard(context.Background(), "board-1", "list-a", map[string]any{"title": "新卡"})
	if err != nil {
		t.Fatalf("CreateCard() error = %v", err)
	}
	ent, ok := s.Card(cardID)
	if !ok {
		t.Fatalf("created card missing from store")
	}
	if ent.Attrs["title"] != "新卡" {
		t.Fatalf("title = %v, want 新卡", ent.Attrs["title"])
	}
	// 确认后日志销账
	if s.journal.Pending(cardID) {
		t.Fatalf("journal still pending after confirmed create")
	}
}

func TestCreateCard_RejectedRollsBackToAbsent(t *testing.T) {
	exec := &fakeExecutor{respond: func(string, string, any) (Response, error) {
		return Response{Success: false, Error: "INTERNAL"}, nil
	}}
	s := newTestSyncer(t, exec)

	cardID, err := s.CreateCard(context.Background(), "board-1", "list-a", map[string]any{"title": "新卡"})
	if !errors.Is(err, ErrSubmitFailed) {
		t.Fatalf("CreateCard() error = %v, want ErrSubmitFailed", err)
	}
	if _, ok := s.Card(cardID); ok {
		t.Fatalf("rejected optimistic create left card in store")
	}
}

func TestMoveCard_RejectedRestoresOriginalListAndPosition(t *testing.T) {
	exec := &fakeExecutor{respond: func(string, string, any) (Response, error) {
		return Response{}, errors.New("connection refused") // 超时/断网同路
	}}
	s := newTestSyncer(t, exec)

	err := s.MoveCard(context.Background(), "board-1", "card-1", "list-b", 0)
	if !errors.Is(err, ErrSubmitFailed) {
		t.Fatalf("MoveCard() error = %v, want ErrSubmitFailed", err)
	}

	// 回滚后：原列表、原位置
	ent, ok := s.Card("card-1")
	if !ok {
		t.Fatalf("card-1 missing after rollback")
	}
	if ent.ParentID != "list-a" || ent.Position != 1.0 {
		t.Fatalf("after rollback parent=%s position=%v, want list-a 1.0", ent.ParentID, ent.Position)
	}
	if got := len(s.Cards("list-b")); got != 0 {
		t.Fatalf("list-b has %d cards after rollback, want 0", got)
	}
}

func TestMoveCard_LateSuccessArrivesAsEvent(t *testing.T) {
	// 提交超时回滚，但服务端其实成功了：稍后以持久事件到达，
	// 走正常和解路径重新应用——回滚态不免疫更新的权威变更。
	exec := &fakeExecutor{respond: func(string, string, any) (Response, error) {
		return Response{}, errors.New("timeout")
	}}
	s := newTestSyncer(t, exec)

	_ = s.MoveCard(context.Background(), "board-1", "card-1", "list-b", 0)

	env := board.Envelope{
		Type: board.EventCardMoved,
		Payload: board.Payload{BoardID: "board-1", ListID: "list-a", CardID: "card-1",
			TargetListID: "list-b", TargetIndex: 0},
		Meta: board.Meta{EventID: "evt-1", ActorID: "actor-a",
			Clock: board.VectorClock{"actor-a": 2}},
	}
	payload, _ := json.Marshal(env)
	s.HandleMessage(ws.WebSocketMessage{Type: ws.TypeEvent, Payload: payload})

	ent, _ := s.Card("card-1")
	if ent.ParentID != "list-b" {
		t.Fatalf("parent after late event = %s, want list-b", ent.ParentID)
	}
}

func TestEditCard_RejectedRestoresAttrs(t *testing.T) {
	exec := &fakeExecutor{respond: func(string, string, any) (Response, error) {
		return Response{Success: false, Error: "FORBIDDEN"}, nil
	}}
	s := newTestSyncer(t, exec)

	err := s.EditCard(context.Background(), "board-1", "card-1", map[string]any{"title": "改名"})
	if !errors.Is(err, ErrSubmitFailed) {
		t.Fatalf("EditCard() error = %v, want ErrSubmitFailed", err)
	}
	ent, _ := s.Card("card-1")
	if ent.Attrs["title"] != "卡一" {
		t.Fatalf("title after rollback = %v, want 卡一", ent.Attrs["title"])
	}
}

func TestAssignMember_AlreadyPresentSkipsRequest(t *testing.T) {
	exec := &fakeExecutor{}
	s := newTestSyncer(t, exec)

	if err := s.AssignMember(context.Background(), "board-1", "card-1", "user-1"); err != nil {
		t.Fatalf("AssignMember() error = %v", err)
	}
	before := len(exec.calls)

	// 已是目标状态：no-op，连请求都不发
	if err := s.AssignMember(context.Background(), "board-1", "card-1", "user-1"); err != nil {
		t.Fatalf("AssignMember() second error = %v", err)
	}
	if len(exec.calls) != before {
		t.Fatalf("idempotent assign issued a request: calls = %v", exec.calls)
	}
}

func TestJoinBoard_LoadsSnapshot(t *testing.T) {
	snap := boardSnapshot{
		Board: board.Entity{ID: "board-2", Kind: board.KindBoard},
		Lists: []board.Entity{
			{ID: "list-x", ParentID: "board-2", Kind: board.KindList, Position: 1.0},
		},
		Cards: []board.Entity{
			{ID: "card-x", ParentID: "list-x", Kind: board.KindCard, Position: 1.0},
		},
		LastEventID: "evt-42",
	}
	data, _ := json.Marshal(snap)
	exec := &fakeExecutor{respond: func(method, path string, _ any) (Response, error) {
		return Response{Success: true, Data: data}, nil
	}}
	s := newTestSyncer(t, exec)

	if err := s.JoinBoard(context.Background(), "board-2"); err != nil {
		t.Fatalf("JoinBoard() error = %v", err)
	}
	if got := len(s.Lists("board-2")); got != 1 {
		t.Fatalf("Lists(board-2) len = %d, want 1", got)
	}
	if got := len(s.Cards("list-x")); got != 1 {
		t.Fatalf("Cards(list-x) len = %d, want 1", got)
	}
	// 快照里的 lastEventId 是之后补拉的游标
	if s.lastEvent["board-2"] != "evt-42" {
		t.Fatalf("lastEvent = %s, want evt-42", s.lastEvent["board-2"])
	}
}

func TestJoinBoard_SeedsSessionClockFromSnapshot(t *testing.T) {
	// 重启后复用同一 actorId：会话时钟必须从快照里自己的历史分量续上，
	// 否则从 1 重新计数，后续变更会被所有对端按过期丢弃
	snap := boardSnapshot{
		Board: board.Entity{ID: "board-2", Kind: board.KindBoard},
		Lists: []board.Entity{
			{ID: "list-x", ParentID: "board-2", Kind: board.KindList, Position: 1.0},
		},
		Cards: []board.Entity{
			{ID: "card-x", ParentID: "list-x", Kind: board.KindCard, Position: 1.0,
				Attrs: map[string]any{"title": "历史卡"},
				Clock: board.VectorClock{"actor-a": 5, "actor-b": 3}},
		},
	}
	data, _ := json.Marshal(snap)

	var submitted board.VectorClock
	exec := &fakeExecutor{respond: func(method, _ string, body any) (Response, error) {
		if method == "GET" {
			return Response{Success: true, Data: data}, nil
		}
		submitted = body.(mutationRequest).Clock
		return Response{Success: true}, nil
	}}
	s := NewSyncer("actor-a", exec, func(ws.WebSocketMessage) error { return nil })

	if err := s.JoinBoard(context.Background(), "board-2"); err != nil {
		t.Fatalf("JoinBoard() error = %v", err)
	}
	if err := s.EditCard(context.Background(), "board-2", "card-x", map[string]any{"title": "改名"}); err != nil {
		t.Fatalf("EditCard() error = %v", err)
	}
	if submitted["actor-a"] != 6 {
		t.Fatalf("submitted clock[actor-a] = %d, want 6 (strictly after snapshot's 5)", submitted["actor-a"])
	}

	// 对端视角：这个事件必须能通过因果检查被应用，而不是 ignored-stale
	peer := NewSyncer("actor-b", &fakeExecutor{}, nil)
	peer.store.MarkLoaded("board-2")
	peer.store.Upsert(snap.Lists[0])
	peer.store.MarkLoaded("list-x")
	peer.store.Upsert(snap.Cards[0])

	env := board.Envelope{
		Type:    board.EventCardUpdated,
		Payload: board.Payload{BoardID: "board-2", ListID: "list-x", CardID: "card-x", Attrs: map[string]any{"title": "改名"}},
		Meta:    board.Meta{EventID: "evt-1", ActorID: "actor-a", Clock: submitted},
	}
	payload, _ := json.Marshal(env)
	peer.HandleMessage(ws.WebSocketMessage{Type: ws.TypeEvent, Payload: payload})

	ent, _ := peer.Card("card-x")
	if ent.Attrs["title"] != "改名" {
		t.Fatalf("peer dropped post-restart edit: title = %v", ent.Attrs["title"])
	}
}

func TestHandleMessage_PresenceRoutesToTracker(t *testing.T) {
	s := newTestSyncer(t, &fakeExecutor{})

	env := board.Envelope{
		Type:    board.EventPresenceJoined,
		Payload: board.Payload{BoardID: "board-1"},
		Meta:    board.Meta{ActorID: "actor-b"},
	}
	payload, _ := json.Marshal(env)
	s.HandleMessage(ws.WebSocketMessage{Type: ws.TypeEvent, Payload: payload})

	viewers := s.ActiveViewers("board-1")
	if len(viewers) != 1 || viewers[0].ActorID != "actor-b" {
		t.Fatalf("ActiveViewers = %+v, want [actor-b]", viewers)
	}
}

func TestHandleEnvelope_UnknownParentMarksBoardDirty(t *testing.T) {
	s := newTestSyncer(t, &fakeExecutor{})

	env := board.Envelope{
		Type: board.EventCardMoved,
		Payload: board.Payload{BoardID: "board-1", ListID: "list-a", CardID: "card-1",
			TargetListID: "list-unloaded", TargetIndex: 0},
		Meta: board.Meta{EventID: "evt-1", ActorID: "actor-b",
			Clock: board.VectorClock{"actor-b": 1}},
	}
	payload, _ := json.Marshal(env)
	s.HandleMessage(ws.WebSocketMessage{Type: ws.TypeEvent, Payload: payload})

	dirty := s.NeedsResync()
	if len(dirty) != 1 || dirty[0] != "board-1" {
		t.Fatalf("NeedsResync() = %v, want [board-1]", dirty)
	}
}
