package board

import "testing"

func TestVectorClock_BumpAndMerge(t *testing.T) {
	vc := VectorClock{}
	if got := vc.Bump("actor-a"); got != 1 {
		t.Fatalf("Bump() = %d, want 1", got)
	}
	vc.Bump("actor-a")

	other := VectorClock{"actor-a": 1, "actor-b": 5}
	vc.Merge(other)
	// 按分量取最大值：自己的 2 不被 1 拉低，缺的分量补上
	if vc["actor-a"] != 2 || vc["actor-b"] != 5 {
		t.Fatalf("after Merge = %v, want map[actor-a:2 actor-b:5]", vc)
	}
}

func TestVectorClock_CloneIsIndependent(t *testing.T) {
	vc := VectorClock{"actor-a": 1}
	cp := vc.Clone()
	cp.Bump("actor-a")
	if vc["actor-a"] != 1 {
		t.Fatalf("Clone shares storage with original: %v", vc)
	}
}

func TestEventKind_Classification(t *testing.T) {
	if !EventPresenceTyping.Ephemeral() {
		t.Fatalf("presence.user.typing Ephemeral() = false, want true")
	}
	if EventCardMoved.Ephemeral() {
		t.Fatalf("card.moved Ephemeral() = true, want false")
	}
	if EventCardMoved.Op() != OpMove {
		t.Fatalf("card.moved Op() = %v, want OpMove", EventCardMoved.Op())
	}
	// 目录之外的类型归到 OpUnknown，走整体重拉降级
	if EventKind("card.exploded").Op() != OpUnknown {
		t.Fatalf("unknown kind Op() = %v, want OpUnknown", EventKind("card.exploded").Op())
	}
}

func TestEnvelope_ParentID(t *testing.T) {
	moved := Envelope{
		Type:    EventCardMoved,
		Payload: Payload{ListID: "list-a", TargetListID: "list-b", CardID: "card-1"},
	}
	if got := moved.ParentID(); got != "list-b" {
		t.Fatalf("ParentID() = %s, want list-b", got)
	}

	created := Envelope{
		Type:    EventListCreated,
		Payload: Payload{BoardID: "board-1", ListID: "list-a"},
	}
	if got := created.ParentID(); got != "board-1" {
		t.Fatalf("ParentID() = %s, want board-1", got)
	}
}
