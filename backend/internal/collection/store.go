// Package collection 持有客户端工作集：按父集合分组、按 position 升序
// 排列的实体（列表里的卡片、看板里的列表）。
//
// 所有变更必须走这里的方法，不允许外部直接改字段，否则排序不变量
// （同父集合内 position 互不相等、实体只属于一个父集合）无法保证。
// Store 自身不加锁：单写者模型，由 collab.Syncer 串行化所有入口。
package collection

import (
	"sort"

	"aetherBoard/backend/internal/board"
	"aetherBoard/backend/internal/position"
)

type Store struct {
	entities map[string]*board.Entity
	// byParent: parentID -> 按 position 升序的实体 id 序列
	byParent map[string][]string
	// parentOf: 二级索引，id -> parentID，让“这张卡在哪个列表”是 O(1)
	// 而不是扫全部列表
	parentOf map[string]string
	// loaded: 显式标记过“已加载”的父集合。空列表也可能是加载过的，
	// 不能只看 byParent 有没有成员
	loaded map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		entities: make(map[string]*board.Entity),
		byParent: make(map[string][]string),
		parentOf: make(map[string]string),
		loaded:   make(map[string]struct{}),
	}
}

// MarkLoaded 标记某个父集合已被本客户端加载（即使当前为空）。
func (s *Store) MarkLoaded(parentID string) {
	s.loaded[parentID] = struct{}{}
}

// Upsert 按 id 插入或整体替换。父集合变了就先从旧父集合摘除，
// 换父语义隐含在 Upsert 里（本地拖拽和 *.moved 事件最终都落到这里）。
func (s *Store) Upsert(e board.Entity) {
	clone := e.Clone()
	if oldParent, ok := s.parentOf[e.ID]; ok && oldParent != e.ParentID {
		s.detachFromParent(oldParent, e.ID)
	}
	_, existed := s.entities[e.ID]
	s.entities[e.ID] = &clone
	s.parentOf[e.ID] = e.ParentID
	if !existed || !s.contains(e.ParentID, e.ID) {
		s.byParent[e.ParentID] = append(s.byParent[e.ParentID], e.ID)
	}
	s.resort(e.ParentID)
}

// Remove 从当前所属父集合删除；不存在则是幂等 no-op。
func (s *Store) Remove(entityID string) {
	parentID, ok := s.parentOf[entityID]
	if !ok {
		return
	}
	s.detachFromParent(parentID, entityID)
	delete(s.parentOf, entityID)
	delete(s.entities, entityID)
}

// Move 把实体移动到 newParentID 的 targetIndex 处：
// 从目标序列（剔除自身后）取两侧位置，调 position.Allocate，
// 精度耗尽时对目标集合整体重排后重试一次，最后 Upsert 落位。
// 返回新位置；实体不存在时返回 ok=false（由调用方决定降级策略）。
func (s *Store) Move(entityID, newParentID string, targetIndex int) (float64, bool) {
	ent, ok := s.entities[entityID]
	if !ok {
		return 0, false
	}

	prev, next := s.neighbors(newParentID, entityID, targetIndex)
	pos, allocated := position.Allocate(prev, next)
	if !allocated {
		// 精度耗尽：整列重排成整数步长，然后重试一次
		s.renormalize(newParentID, entityID)
		prev, next = s.neighbors(newParentID, entityID, targetIndex)
		pos, _ = position.Allocate(prev, next)
	}

	moved := ent.Clone()
	moved.ParentID = newParentID
	moved.Position = pos
	s.Upsert(moved)
	return pos, true
}

// Get 返回实体的深拷贝。
func (s *Store) Get(entityID string) (board.Entity, bool) {
	ent, ok := s.entities[entityID]
	if !ok {
		return board.Entity{}, false
	}
	return ent.Clone(), true
}

// Has 实体是否在工作集中。
func (s *Store) Has(entityID string) bool {
	_, ok := s.entities[entityID]
	return ok
}

// HasParent 父集合是否被本客户端持有（加载过或有成员）。
func (s *Store) HasParent(parentID string) bool {
	if _, ok := s.loaded[parentID]; ok {
		return true
	}
	return len(s.byParent[parentID]) > 0
}

// ParentOf 返回实体当前所属的父集合 id。
func (s *Store) ParentOf(entityID string) (string, bool) {
	parentID, ok := s.parentOf[entityID]
	return parentID, ok
}

// List 返回父集合内按 position 升序的实体深拷贝序列。
func (s *Store) List(parentID string) []board.Entity {
	ids := s.byParent[parentID]
	out := make([]board.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.entities[id].Clone())
	}
	return out
}

// Len 父集合内实体数。
func (s *Store) Len(parentID string) int {
	return len(s.byParent[parentID])
}

// neighbors 取目标序列（剔除 moverID 自身）在 targetIndex 两侧的位置。
// targetIndex 越界时就近收敛到头/尾。
func (s *Store) neighbors(parentID, moverID string, targetIndex int) (prev, next *float64) {
	seq := make([]float64, 0, len(s.byParent[parentID]))
	for _, id := range s.byParent[parentID] {
		if id == moverID {
			continue
		}
		seq = append(seq, s.entities[id].Position)
	}
	if targetIndex < 0 {
		targetIndex = 0
	}
	if targetIndex > len(seq) {
		targetIndex = len(seq)
	}
	if targetIndex > 0 {
		p := seq[targetIndex-1]
		prev = &p
	}
	if targetIndex < len(seq) {
		n := seq[targetIndex]
		next = &n
	}
	return prev, next
}

// renormalize 把父集合（剔除 moverID）按现有顺序重新编号成 1, 2, 3, ...
func (s *Store) renormalize(parentID, moverID string) {
	kept := make([]string, 0, len(s.byParent[parentID]))
	for _, id := range s.byParent[parentID] {
		if id != moverID {
			kept = append(kept, id)
		}
	}
	for i, pos := range position.Renormalized(len(kept)) {
		s.entities[kept[i]].Position = pos
	}
	s.resort(parentID)
}

// resort 按 (position, id) 排序。正确分配下 position 不会相等，
// 万一相等也用 id 保证确定性，绝不丢实体、绝不 panic。
func (s *Store) resort(parentID string) {
	ids := s.byParent[parentID]
	if len(ids) == 0 {
		delete(s.byParent, parentID)
		return
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.entities[ids[i]], s.entities[ids[j]]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ID < b.ID
	})
}

func (s *Store) detachFromParent(parentID, entityID string) {
	ids := s.byParent[parentID]
	for i, id := range ids {
		if id == entityID {
			s.byParent[parentID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byParent[parentID]) == 0 {
		delete(s.byParent, parentID)
	}
}

func (s *Store) contains(parentID, entityID string) bool {
	for _, id := range s.byParent[parentID] {
		if id == entityID {
			return true
		}
	}
	return false
}
