// Package presence 维护客户端侧的瞬时在场状态（在线成员、正在输入、
// 光标）。与持久实体图完全隔离：没有向量时钟、没有回滚，
// 同一 (actor, scope, kind) 以墙钟 last-write-wins，到期即删。
package presence

import (
	"sort"
	"time"
)

// Kind 是瞬时信号的种类。
type Kind string

const (
	KindViewer Kind = "viewer" // 正在查看该 scope
	KindTyping Kind = "typing" // 正在输入（卡片评论等）
	KindCursor Kind = "cursor" // 光标位置
)

// Record 是一条瞬时在场记录。
type Record struct {
	ActorID   string
	Scope     string // boardID 或 cardID
	Kind      Kind
	ExpiresAt time.Time
}

type key struct {
	actorID string
	scope   string
	kind    Kind
}

// Tracker 按 (actor, scope, kind) 存 TTL 记录。每个打开的看板/文档
// 各持有一个 Tracker 实例。读路径上惰性清扫过期项。
type Tracker struct {
	records map[key]Record
	// now 可注入，方便测试控制时间
	now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{records: make(map[key]Record), now: time.Now}
}

// Signal 新建或刷新一条记录，expiresAt = now + ttl。
// 重复信号只是把过期时间往后推（last-write-wins）。
func (t *Tracker) Signal(actorID, scope string, kind Kind, ttl time.Duration) {
	k := key{actorID: actorID, scope: scope, kind: kind}
	t.records[k] = Record{
		ActorID:   actorID,
		Scope:     scope,
		Kind:      kind,
		ExpiresAt: t.now().Add(ttl),
	}
}

// Stop 显式移除一条记录（typing.stopped / user.left）。
func (t *Tracker) Stop(actorID, scope string, kind Kind) {
	delete(t.records, key{actorID: actorID, scope: scope, kind: kind})
}

// Sweep 移除所有 expiresAt <= now 的记录，返回清掉的条数。
// 可以挂定时器，也可以靠 ListActive 惰性触发。
func (t *Tracker) Sweep(now time.Time) int {
	removed := 0
	for k, rec := range t.records {
		if !rec.ExpiresAt.After(now) {
			delete(t.records, k)
			removed++
		}
	}
	return removed
}

// ListActive 返回 scope 内未过期的记录，按 actorID 排序保证输出稳定。
func (t *Tracker) ListActive(scope string) []Record {
	now := t.now()
	t.Sweep(now)
	var out []Record
	for _, rec := range t.records {
		if rec.Scope == scope {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActorID != out[j].ActorID {
			return out[i].ActorID < out[j].ActorID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
