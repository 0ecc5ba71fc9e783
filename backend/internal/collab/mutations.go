package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"aetherBoard/backend/internal/board"
)

// mutationRequest 是提交给请求执行器的统一请求体。
// requestId 会被服务端回填为事件的 correlationId，用于自回声识别；
// vectorClock 是本 actor 自增后的时钟快照。
type mutationRequest struct {
	RequestID    string            `json:"requestId"`
	BoardID      string            `json:"boardId,omitempty"`
	ListID       string            `json:"listId,omitempty"`
	CardID       string            `json:"cardId,omitempty"`
	TargetListID string            `json:"targetListId,omitempty"`
	TargetIndex  int               `json:"targetIndex"`
	Position     float64           `json:"position,omitempty"`
	Attrs        map[string]any    `json:"attrs,omitempty"`
	MemberID     string            `json:"memberId,omitempty"`
	LabelID      string            `json:"labelId,omitempty"`
	Clock        board.VectorClock `json:"vectorClock,omitempty"`
}

// CreateCard 在列表尾部乐观新建一张卡，返回本地生成的卡片 id。
func (s *Syncer) CreateCard(ctx context.Context, boardID, listID string, attrs map[string]any) (string, error) {
	cardID := uuid.NewString()
	requestID := uuid.NewString()

	s.mu.Lock()
	s.journal.Begin(cardID, requestID) // 变更前不存在，回滚即删除
	ent := board.Entity{
		ID:       cardID,
		ParentID: listID,
		Kind:     board.KindCard,
		Position: s.tailPosition(listID),
	}
	ent.MergeAttrs(attrs)
	s.store.Upsert(ent)
	clock := s.stamp(cardID)
	s.mu.Unlock()

	body := mutationRequest{RequestID: requestID, BoardID: boardID, ListID: listID,
		CardID: cardID, Position: ent.Position, Attrs: attrs, Clock: clock}
	return cardID, s.submit(ctx, http.MethodPost, "/v1/cards", body, requestID)
}

// EditCard 乐观合并属性变更（只覆盖给到的键）。
func (s *Syncer) EditCard(ctx context.Context, boardID, cardID string, attrs map[string]any) error {
	s.mu.Lock()
	ent, ok := s.store.Get(cardID)
	if !ok {
		s.mu.Unlock()
		return ErrUnknownEntity
	}
	requestID := uuid.NewString()
	s.journal.Begin(cardID, requestID)
	ent.MergeAttrs(attrs)
	s.store.Upsert(ent)
	clock := s.stamp(cardID)
	s.mu.Unlock()

	body := mutationRequest{RequestID: requestID, BoardID: boardID, CardID: cardID,
		Attrs: attrs, Clock: clock}
	return s.submit(ctx, http.MethodPatch, "/v1/cards/"+cardID, body, requestID)
}

// MoveCard 乐观移动卡片（列表内或跨列表）。本地拖拽和应用 *.moved
// 事件走的都是 Store.Move 这一条路径，排序不变量一处维护。
func (s *Syncer) MoveCard(ctx context.Context, boardID, cardID, targetListID string, targetIndex int) error {
	s.mu.Lock()
	if !s.store.Has(cardID) {
		s.mu.Unlock()
		return ErrUnknownEntity
	}
	requestID := uuid.NewString()
	s.journal.Begin(cardID, requestID)
	s.store.Move(cardID, targetListID, targetIndex)
	clock := s.stamp(cardID)
	s.mu.Unlock()

	body := mutationRequest{RequestID: requestID, BoardID: boardID, CardID: cardID,
		TargetListID: targetListID, TargetIndex: targetIndex, Clock: clock}
	return s.submit(ctx, http.MethodPost, "/v1/cards/"+cardID+"/move", body, requestID)
}

// DeleteCard 乐观删除；提交失败时快照会把卡恢复回原列表原位置。
func (s *Syncer) DeleteCard(ctx context.Context, boardID, cardID string) error {
	s.mu.Lock()
	if !s.store.Has(cardID) {
		s.mu.Unlock()
		return ErrUnknownEntity
	}
	requestID := uuid.NewString()
	s.journal.Begin(cardID, requestID)
	s.store.Remove(cardID)
	s.clock.Bump(s.actorID)
	clock := s.clock.Clone()
	s.mu.Unlock()

	body := mutationRequest{RequestID: requestID, BoardID: boardID, CardID: cardID, Clock: clock}
	return s.submit(ctx, http.MethodDelete, "/v1/cards/"+cardID, body, requestID)
}

// SetCardCompleted 完成/取消完成。
func (s *Syncer) SetCardCompleted(ctx context.Context, boardID, cardID string, completed bool) error {
	return s.EditCard(ctx, boardID, cardID, map[string]any{"completed": completed})
}

// AssignMember 乐观挂成员；重复挂同一人是幂等 no-op（不发请求）。
func (s *Syncer) AssignMember(ctx context.Context, boardID, cardID, memberID string) error {
	return s.mutateRelation(ctx, boardID, cardID, "members", memberID, true,
		http.MethodPost, "/v1/cards/"+cardID+"/members")
}

// UnassignMember 乐观摘成员。
func (s *Syncer) UnassignMember(ctx context.Context, boardID, cardID, memberID string) error {
	return s.mutateRelation(ctx, boardID, cardID, "members", memberID, false,
		http.MethodDelete, "/v1/cards/"+cardID+"/members")
}

// AddLabel 乐观挂标签。
func (s *Syncer) AddLabel(ctx context.Context, boardID, cardID, labelID string) error {
	return s.mutateRelation(ctx, boardID, cardID, "labels", labelID, true,
		http.MethodPost, "/v1/cards/"+cardID+"/labels")
}

// RemoveLabel 乐观摘标签。
func (s *Syncer) RemoveLabel(ctx context.Context, boardID, cardID, labelID string) error {
	return s.mutateRelation(ctx, boardID, cardID, "labels", labelID, false,
		http.MethodDelete, "/v1/cards/"+cardID+"/labels")
}

// CreateList 在看板尾部乐观新建列表。
func (s *Syncer) CreateList(ctx context.Context, boardID, title string) (string, error) {
	listID := uuid.NewString()
	requestID := uuid.NewString()

	s.mu.Lock()
	s.journal.Begin(listID, requestID)
	ent := board.Entity{
		ID:       listID,
		ParentID: boardID,
		Kind:     board.KindList,
		Position: s.tailPosition(boardID),
		Attrs:    map[string]any{"title": title},
	}
	s.store.Upsert(ent)
	s.store.MarkLoaded(listID)
	clock := s.stamp(listID)
	s.mu.Unlock()

	body := mutationRequest{RequestID: requestID, BoardID: boardID, ListID: listID,
		Position: ent.Position, Attrs: ent.Attrs, Clock: clock}
	return listID, s.submit(ctx, http.MethodPost, "/v1/lists", body, requestID)
}

// EditList 乐观合并列表属性。
func (s *Syncer) EditList(ctx context.Context, boardID, listID string, attrs map[string]any) error {
	s.mu.Lock()
	ent, ok := s.store.Get(listID)
	if !ok {
		s.mu.Unlock()
		return ErrUnknownEntity
	}
	requestID := uuid.NewString()
	s.journal.Begin(listID, requestID)
	ent.MergeAttrs(attrs)
	s.store.Upsert(ent)
	clock := s.stamp(listID)
	s.mu.Unlock()

	body := mutationRequest{RequestID: requestID, BoardID: boardID, ListID: listID,
		Attrs: attrs, Clock: clock}
	return s.submit(ctx, http.MethodPatch, "/v1/lists/"+listID, body, requestID)
}

// ReorderList 乐观调整列表在看板内的顺序。
func (s *Syncer) ReorderList(ctx context.Context, boardID, listID string, targetIndex int) error {
	s.mu.Lock()
	if !s.store.Has(listID) {
		s.mu.Unlock()
		return ErrUnknownEntity
	}
	requestID := uuid.NewString()
	s.journal.Begin(listID, requestID)
	s.store.Move(listID, boardID, targetIndex)
	clock := s.stamp(listID)
	s.mu.Unlock()

	body := mutationRequest{RequestID: requestID, BoardID: boardID, ListID: listID,
		TargetIndex: targetIndex, Clock: clock}
	return s.submit(ctx, http.MethodPost, "/v1/lists/"+listID+"/reorder", body, requestID)
}

// DeleteList 乐观删除列表。注意列表下的卡片由服务端级联，
// 本地只摘列表本身，卡片等对应的持久事件到达后再清。
func (s *Syncer) DeleteList(ctx context.Context, boardID, listID string) error {
	s.mu.Lock()
	if !s.store.Has(listID) {
		s.mu.Unlock()
		return ErrUnknownEntity
	}
	requestID := uuid.NewString()
	s.journal.Begin(listID, requestID)
	s.store.Remove(listID)
	s.clock.Bump(s.actorID)
	clock := s.clock.Clone()
	s.mu.Unlock()

	body := mutationRequest{RequestID: requestID, BoardID: boardID, ListID: listID, Clock: clock}
	return s.submit(ctx, http.MethodDelete, "/v1/lists/"+listID, body, requestID)
}

func (s *Syncer) mutateRelation(ctx context.Context, boardID, cardID, attr, id string, attach bool, method, path string) error {
	s.mu.Lock()
	ent, ok := s.store.Get(cardID)
	if !ok {
		s.mu.Unlock()
		return ErrUnknownEntity
	}
	changed := false
	if attach {
		changed = ent.Attach(attr, id)
	} else {
		changed = ent.Detach(attr, id)
	}
	if !changed {
		// 已是目标状态：幂等 no-op，连请求都不用发
		s.mu.Unlock()
		return nil
	}
	requestID := uuid.NewString()
	s.journal.Begin(cardID, requestID)
	s.store.Upsert(ent)
	clock := s.stamp(cardID)
	s.mu.Unlock()

	body := mutationRequest{RequestID: requestID, BoardID: boardID, CardID: cardID, Clock: clock}
	if attr == "members" {
		body.MemberID = id
	} else {
		body.LabelID = id
	}
	return s.submit(ctx, method, path, body, requestID)
}

// submit 同步提交并收尾：成功销账（服务端带回权威实体时先落一次），
// 失败或超时回滚到快照。迟到的成功若再以持久事件到达，会走正常
// 和解路径重新应用——回滚后的本地状态并不“免疫”更新的权威变更。
func (s *Syncer) submit(ctx context.Context, method, path string, body mutationRequest, requestID string) error {
	resp, err := s.exec.Do(ctx, method, path, body)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.journal.Rollback(requestID)
		return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	if !resp.Success {
		s.journal.Rollback(requestID)
		return fmt.Errorf("%w: %s", ErrSubmitFailed, resp.Error)
	}
	// 服务端计算过派生字段时会带回权威实体，以它为准再落一次
	if len(resp.Data) > 0 {
		var ent board.Entity
		if json.Unmarshal(resp.Data, &ent) == nil && ent.ID != "" {
			s.store.Upsert(ent)
		}
	}
	s.journal.Commit(requestID)
	return nil
}

// stamp 给本地授权的变更打因果标记：自增本 actor 的时钟分量，
// 并把它合并进目标实体，返回提交用的时钟快照。
// 必须在持锁状态下调用。
func (s *Syncer) stamp(entityID string) board.VectorClock {
	s.clock.Bump(s.actorID)
	if ent, ok := s.store.Get(entityID); ok {
		if ent.Clock == nil {
			ent.Clock = board.VectorClock{}
		}
		ent.Clock.Merge(s.clock)
		s.store.Upsert(ent)
	}
	return s.clock.Clone()
}

// tailPosition 父集合尾部的下一个位置。必须在持锁状态下调用。
func (s *Syncer) tailPosition(parentID string) float64 {
	seq := s.store.List(parentID)
	if len(seq) == 0 {
		return 1
	}
	return seq[len(seq)-1].Position + 1
}
