package collection

import (
	"strconv"
	"testing"

	"aetherBoard/backend/internal/board"
)

func card(id, listID string, pos float64) board.Entity {
	return board.Entity{ID: id, ParentID: listID, Kind: board.KindCard, Position: pos}
}

func assertOrder(t *testing.T, s *Store, parentID string, want []string) {
	t.Helper()
	got := s.List(parentID)
	if len(got) != len(want) {
		t.Fatalf("List(%s) len = %d, want %d", parentID, len(got), len(want))
	}
	for i, ent := range got {
		if ent.ID != want[i] {
			t.Fatalf("List(%s)[%d] = %s, want %s", parentID, i, ent.ID, want[i])
		}
	}
	// 排序不变量：position 严格升序、无重复
	for i := 1; i < len(got); i++ {
		if got[i].Position <= got[i-1].Position {
			t.Fatalf("positions not strictly ascending: %v then %v", got[i-1].Position, got[i].Position)
		}
	}
}

func TestMove_HeadScenario(t *testing.T) {
	// 列表 A 有 [1.0, 2.0, 3.0]，把 3.0 的卡移到 index 0：
	// 新位置必须 < 1.0，顺序变为 [card3, card1, card2]
	s := NewStore()
	s.Upsert(card("card1", "A", 1.0))
	s.Upsert(card("card2", "A", 2.0))
	s.Upsert(card("card3", "A", 3.0))

	pos, ok := s.Move("card3", "A", 0)
	if !ok {
		t.Fatalf("Move ok = false, want true")
	}
	if pos >= 1.0 {
		t.Fatalf("Move to head position = %v, want < 1.0", pos)
	}
	assertOrder(t, s, "A", []string{"card3", "card1", "card2"})
}

func TestMove_AcrossParents(t *testing.T) {
	s := NewStore()
	s.Upsert(card("card1", "A", 1.0))
	s.Upsert(card("card2", "A", 2.0))
	s.Upsert(card("card3", "B", 1.0))

	if _, ok := s.Move("card1", "B", 1); !ok {
		t.Fatalf("Move ok = false, want true")
	}
	assertOrder(t, s, "A", []string{"card2"})
	assertOrder(t, s, "B", []string{"card3", "card1"})

	// 一个实体同一时刻只属于一个父集合
	if parentID, _ := s.ParentOf("card1"); parentID != "B" {
		t.Fatalf("ParentOf(card1) = %s, want B", parentID)
	}
}

func TestMove_RepeatedHeadInsertNeverCollides(t *testing.T) {
	// 连续 1000 次把新卡插到头部：精度耗尽由内部重排兜住，
	// 不能出现重复 position，也不能 panic
	s := NewStore()
	s.Upsert(card("seed", "A", 1.0))
	for i := 0; i < 1000; i++ {
		id := "card" + strconv.Itoa(i)
		s.Upsert(card(id, "A", 0)) // 位置先随便给，马上 Move 到头部
		s.Move(id, "A", 0)
	}
	seq := s.List("A")
	if len(seq) != 1001 {
		t.Fatalf("List len = %d, want 1001", len(seq))
	}
	seen := make(map[float64]string, len(seq))
	for i, ent := range seq {
		if other, dup := seen[ent.Position]; dup {
			t.Fatalf("duplicate position %v on %s and %s", ent.Position, other, ent.ID)
		}
		seen[ent.Position] = ent.ID
		if i > 0 && seq[i-1].Position >= ent.Position {
			t.Fatalf("positions not strictly ascending at %d", i)
		}
	}
}

func TestMove_InteriorInsertExhaustionRenormalizes(t *testing.T) {
	// 反复往同一个内部下标插：中点不断二分，几十轮后必然精度耗尽，
	// Move 内部整列重排后重试，顺序与唯一性全程不破
	s := NewStore()
	s.Upsert(card("left", "A", 1.0))
	s.Upsert(card("right", "A", 2.0))

	for i := 0; i < 200; i++ {
		id := "card" + strconv.Itoa(i)
		s.Upsert(card(id, "A", 0))
		if _, ok := s.Move(id, "A", 1); !ok {
			t.Fatalf("Move(%s) ok = false, want true", id)
		}
	}

	seq := s.List("A")
	if len(seq) != 202 {
		t.Fatalf("List len = %d, want 202", len(seq))
	}
	if seq[0].ID != "left" || seq[len(seq)-1].ID != "right" {
		t.Fatalf("endpoints = [%s ... %s], want [left ... right]", seq[0].ID, seq[len(seq)-1].ID)
	}
	for i := 1; i < len(seq); i++ {
		if seq[i-1].Position >= seq[i].Position {
			t.Fatalf("positions not strictly ascending at %d: %v then %v",
				i, seq[i-1].Position, seq[i].Position)
		}
	}
}

func TestUpsert_ChangedParentDetachesOld(t *testing.T) {
	s := NewStore()
	s.Upsert(card("card1", "A", 1.0))

	moved := card("card1", "B", 1.0)
	s.Upsert(moved)

	if s.Len("A") != 0 {
		t.Fatalf("Len(A) = %d, want 0", s.Len("A"))
	}
	assertOrder(t, s, "B", []string{"card1"})
}

func TestRemove_Idempotent(t *testing.T) {
	s := NewStore()
	s.Upsert(card("card1", "A", 1.0))
	s.Remove("card1")
	s.Remove("card1") // 第二次是 no-op
	if s.Has("card1") {
		t.Fatalf("Has(card1) = true after Remove")
	}
}

func TestList_EqualPositionsTieBreakByID(t *testing.T) {
	// 正确分配下不会出现相等 position，但出现了也不能丢实体
	s := NewStore()
	s.Upsert(card("b", "A", 1.0))
	s.Upsert(card("a", "A", 1.0))
	got := s.List("A")
	if len(got) != 2 {
		t.Fatalf("List len = %d, want 2", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("tie-break order = [%s, %s], want [a, b]", got[0].ID, got[1].ID)
	}
}

func TestGet_ReturnsDeepCopy(t *testing.T) {
	s := NewStore()
	ent := card("card1", "A", 1.0)
	ent.Attrs = map[string]any{"title": "原标题", "labels": []string{"l1"}}
	s.Upsert(ent)

	got, _ := s.Get("card1")
	got.Attrs["title"] = "改过的标题"

	again, _ := s.Get("card1")
	if again.Attrs["title"] != "原标题" {
		t.Fatalf("store state mutated through returned copy: %v", again.Attrs["title"])
	}
}

func TestMarkLoaded_EmptyParentIsHeld(t *testing.T) {
	s := NewStore()
	if s.HasParent("empty-list") {
		t.Fatalf("HasParent(empty-list) = true before MarkLoaded")
	}
	s.MarkLoaded("empty-list")
	if !s.HasParent("empty-list") {
		t.Fatalf("HasParent(empty-list) = false after MarkLoaded")
	}
}
