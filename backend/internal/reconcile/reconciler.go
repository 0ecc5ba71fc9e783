// Package reconcile 把入站事件流合并进本地工作集：
// 相关性 → 去重 → 自回声 → 因果/过期 → 应用，五步过滤。
// 实时推送和断线重连后的补拉走同一个 Apply，语义完全一致。
package reconcile

import (
	"log"

	lru "github.com/hashicorp/golang-lru/v2"

	"aetherBoard/backend/internal/board"
	"aetherBoard/backend/internal/collection"
	"aetherBoard/backend/internal/journal"
)

// Outcome 是 Apply 对单个事件的处置结果。
type Outcome int

const (
	Applied Outcome = iota
	IgnoredDuplicate
	IgnoredStale
	IgnoredIrrelevant
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case IgnoredDuplicate:
		return "ignored-duplicate"
	case IgnoredStale:
		return "ignored-stale"
	case IgnoredIrrelevant:
		return "ignored-irrelevant"
	}
	return "unknown"
}

// 去重窗口大小：每个会话保留最近 512 个 eventId。
// 原始行为未指定上限，这里取有界 LRU 防止无限增长。
const dedupCacheSize = 512

type Reconciler struct {
	store   *collection.Store
	journal *journal.Journal
	seen    *lru.Cache[string, struct{}]

	// RefetchHint 是降级出口：遇到未知父集合、未知事件类型等
	// 本地无法完整应用的情况，请求上层对该看板整体重拉。
	RefetchHint func(boardID string)
	// Invalidate 在事件不相关但可能影响缓存聚合值（如计数）时回调。
	Invalidate func(env board.Envelope)
}

func New(store *collection.Store, jnl *journal.Journal) *Reconciler {
	seen, _ := lru.New[string, struct{}](dedupCacheSize)
	return &Reconciler{store: store, journal: jnl, seen: seen}
}

// Apply 处理一个持久事件信封。幂等：同一信封应用两次，
// 第二次会被 eventId 去重或因果检查拦下，Store 状态不变。
func (r *Reconciler) Apply(env board.Envelope) Outcome {
	// presence.* 不走和解（无时钟、无持久性），由 Syncer 直接路由给
	// presence.Tracker；走到这里说明路由有误，按不相关丢弃。
	if env.Type.Ephemeral() {
		return IgnoredIrrelevant
	}

	// step 1: 相关性。事件指向的实体/父集合不在工作集里就不碰 Store，
	// 但仍给缓存聚合一个失效机会。
	if !r.relevant(env) {
		if r.Invalidate != nil {
			r.Invalidate(env)
		}
		return IgnoredIrrelevant
	}

	// step 2: eventId 去重（对付 at-least-once 投递）。
	if env.Meta.EventID != "" {
		if _, dup := r.seen.Get(env.Meta.EventID); dup {
			return IgnoredDuplicate
		}
		r.seen.Add(env.Meta.EventID, struct{}{})
	}

	// step 3: 自回声。correlationId 命中在途的乐观变更记录时，
	// 这个事件就是服务端对本客户端自己提交的确认——本地状态早已
	// 是乐观应用后的样子，只需清账并合并时钟，不能再应用一遍。
	if env.Meta.CorrelationID != "" && r.journal.Confirm(env.Meta.CorrelationID) {
		r.mergeClock(env)
		return Applied
	}

	// step 4: 因果/过期检查。事件作者自己的时钟分量必须严格大于
	// 实体上已生效的分量，否则是传输层乱序重投的旧变更。
	if ent, ok := r.store.Get(env.EntityID()); ok {
		actorID := env.Meta.ActorID
		if env.Meta.Clock[actorID] <= ent.Clock[actorID] {
			return IgnoredStale
		}
	}

	// step 5: 按事件类别应用。
	switch env.Type.Op() {
	case board.OpCreate:
		r.applyCreate(env)
	case board.OpUpdate:
		r.applyUpdate(env)
	case board.OpMove:
		return r.applyMove(env)
	case board.OpDelete:
		// 被删实体如有在途乐观记录，直接丢弃：
		// 往已不存在的父集合回滚没有意义。
		r.journal.DiscardEntity(env.EntityID())
		r.store.Remove(env.EntityID())
	case board.OpAttach, board.OpDetach:
		r.applyRelation(env)
	default:
		// 目录之外的持久事件类型：不硬猜语义，请求整体重拉。
		log.Printf("reconcile: unknown event kind %q, hinting refetch board=%s", env.Type, env.Payload.BoardID)
		r.hintRefetch(env.Payload.BoardID)
		return IgnoredIrrelevant
	}
	return Applied
}

func (r *Reconciler) relevant(env board.Envelope) bool {
	if env.Type.Op() == board.OpCreate {
		// 新建事件看父集合：没加载过这个列表/看板就与我无关
		return r.store.HasParent(env.ParentID())
	}
	return r.store.Has(env.EntityID())
}

func (r *Reconciler) applyCreate(env board.Envelope) {
	ent := board.Entity{
		ID:       env.EntityID(),
		ParentID: env.ParentID(),
		Kind:     env.EntityKind(),
		Position: env.Payload.Position,
		Clock:    env.Meta.Clock.Clone(),
	}
	ent.MergeAttrs(env.Payload.Attrs)
	if ent.Position == 0 {
		// 事件未带位置：排到父集合尾部
		if seq := r.store.List(ent.ParentID); len(seq) > 0 {
			ent.Position = seq[len(seq)-1].Position + 1
		} else {
			ent.Position = 1
		}
	}
	r.store.Upsert(ent)
}

func (r *Reconciler) applyUpdate(env board.Envelope) {
	ent, ok := r.store.Get(env.EntityID())
	if !ok {
		return
	}
	ent.MergeAttrs(updateAttrs(env))
	if ent.Clock == nil {
		ent.Clock = board.VectorClock{}
	}
	ent.Clock.Merge(env.Meta.Clock)
	r.store.Upsert(ent)
}

func (r *Reconciler) applyMove(env board.Envelope) Outcome {
	entityID := env.EntityID()
	targetParent := env.ParentID()
	currentParent, _ := r.store.ParentOf(entityID)

	if targetParent != currentParent && !r.store.HasParent(targetParent) {
		// 降级：目标父集合本客户端没加载过。把“可知的部分”做掉
		// （从已知旧父集合摘除），其余交给整体重拉补齐。
		r.journal.DiscardEntity(entityID)
		r.store.Remove(entityID)
		r.hintRefetch(env.Payload.BoardID)
		return Applied
	}

	r.store.Move(entityID, targetParent, env.Payload.TargetIndex)
	r.mergeClock(env)
	return Applied
}

func (r *Reconciler) applyRelation(env board.Envelope) {
	ent, ok := r.store.Get(env.EntityID())
	if !ok {
		return
	}
	attr, id := env.Relation()
	if attr == "" {
		return
	}
	// attach 已存在 / detach 不存在 都是幂等 no-op，时钟照常合并
	if env.Type.Op() == board.OpAttach {
		ent.Attach(attr, id)
	} else {
		ent.Detach(attr, id)
	}
	if ent.Clock == nil {
		ent.Clock = board.VectorClock{}
	}
	ent.Clock.Merge(env.Meta.Clock)
	r.store.Upsert(ent)
}

// mergeClock 把事件时钟并进目标实体（实体在场时）。
func (r *Reconciler) mergeClock(env board.Envelope) {
	ent, ok := r.store.Get(env.EntityID())
	if !ok {
		return
	}
	if ent.Clock == nil {
		ent.Clock = board.VectorClock{}
	}
	ent.Clock.Merge(env.Meta.Clock)
	r.store.Upsert(ent)
}

func (r *Reconciler) hintRefetch(boardID string) {
	if r.RefetchHint != nil {
		r.RefetchHint(boardID)
	}
}

// updateAttrs 把 completed / archived 这类无载荷语义事件
// 折算成对应的属性变更。
func updateAttrs(env board.Envelope) map[string]any {
	switch env.Type {
	case board.EventCardCompleted:
		return map[string]any{"completed": true}
	case board.EventCardUncompleted:
		return map[string]any{"completed": false}
	case board.EventBoardArchived:
		return map[string]any{"archived": true}
	default:
		return env.Payload.Attrs
	}
}
