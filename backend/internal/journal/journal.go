// Package journal 跟踪在途的本地乐观变更：先拍下变更前的快照，
// 服务端确认就丢弃，服务端拒绝/超时就用快照回滚。
package journal

import (
	"time"

	"aetherBoard/backend/internal/board"
	"aetherBoard/backend/internal/collection"
)

// Record 是一条在途乐观变更记录。
type Record struct {
	EntityID  string
	RequestID string
	// Existed=false 表示变更前实体不存在（本地新建），
	// 回滚时应 Remove 而不是恢复快照。
	Existed     bool
	Snapshot    board.Entity
	SubmittedAt time.Time
}

type Journal struct {
	store *collection.Store
	// 双索引：requestId 定位回滚/确认目标，entityId 保证同一实体
	// 至多一条在途记录
	byRequest map[string]*Record
	byEntity  map[string]*Record
}

func New(store *collection.Store) *Journal {
	return &Journal{
		store:     store,
		byRequest: make(map[string]*Record),
		byEntity:  make(map[string]*Record),
	}
}

// Begin 在调用方应用乐观变更之前调用，捕获实体当前状态的深拷贝。
//
// 同一实体已有在途记录时，只把记录改挂到新的 requestId 上，
// 原始快照保持不动：回滚永远回到“最后一次已确认”的状态，
// 而不是某个中间乐观态。
func (j *Journal) Begin(entityID, requestID string) {
	if rec, ok := j.byEntity[entityID]; ok {
		delete(j.byRequest, rec.RequestID)
		rec.RequestID = requestID
		rec.SubmittedAt = time.Now()
		j.byRequest[requestID] = rec
		return
	}

	rec := &Record{
		EntityID:    entityID,
		RequestID:   requestID,
		SubmittedAt: time.Now(),
	}
	if snapshot, ok := j.store.Get(entityID); ok {
		rec.Existed = true
		rec.Snapshot = snapshot
	}
	j.byRequest[requestID] = rec
	j.byEntity[entityID] = rec
}

// Commit 丢弃快照：服务端已确认，当前本地状态即为真相。
// 未知 requestId 是 no-op（迟到的确认可能对应早已被替换的记录）。
func (j *Journal) Commit(requestID string) {
	rec, ok := j.byRequest[requestID]
	if !ok {
		return
	}
	j.drop(rec)
}

// Rollback 把快照写回 Store（变更前不存在则 Remove），然后丢弃记录。
func (j *Journal) Rollback(requestID string) {
	rec, ok := j.byRequest[requestID]
	if !ok {
		return
	}
	if rec.Existed {
		j.store.Upsert(rec.Snapshot)
	} else {
		j.store.Remove(rec.EntityID)
	}
	j.drop(rec)
}

// Confirm 按 correlationId（即 requestId）确认一条在途记录。
// Reconciler 用它识别“自己乐观变更的回声”：命中则清掉记录并返回 true，
// 调用方不应再把该事件当作外部变更重放。
func (j *Journal) Confirm(correlationID string) bool {
	rec, ok := j.byRequest[correlationID]
	if !ok {
		return false
	}
	j.drop(rec)
	return true
}

// DiscardEntity 丢弃某实体的在途记录（如果有）。
// 实体已被持久事件删除时必须走这里：往一个已不存在的父集合回滚
// 快照没有意义。
func (j *Journal) DiscardEntity(entityID string) {
	rec, ok := j.byEntity[entityID]
	if !ok {
		return
	}
	j.drop(rec)
}

// Pending 返回某实体是否有在途记录。
func (j *Journal) Pending(entityID string) bool {
	_, ok := j.byEntity[entityID]
	return ok
}

func (j *Journal) drop(rec *Record) {
	delete(j.byRequest, rec.RequestID)
	delete(j.byEntity, rec.EntityID)
}
