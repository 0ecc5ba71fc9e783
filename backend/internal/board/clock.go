package board

// VectorClock 记录每个 actor 的逻辑计数，用于判定事件之间的因果先后。
// 约定：同一 actor 每产出一个持久事件，自己的分量严格 +1。
type VectorClock map[string]uint64

// Bump 自增指定 actor 的分量，返回自增后的值。
func (vc VectorClock) Bump(actorID string) uint64 {
	if vc == nil {
		return 0
	}
	vc[actorID] = vc[actorID] + 1
	return vc[actorID]
}

// Merge 按分量取最大值合并另一个时钟。
func (vc VectorClock) Merge(other VectorClock) {
	for actorID, value := range other {
		if current, ok := vc[actorID]; !ok || value > current {
			vc[actorID] = value
		}
	}
}

// Clone 深拷贝。
func (vc VectorClock) Clone() VectorClock {
	if vc == nil {
		return nil
	}
	out := make(VectorClock, len(vc))
	for actorID, value := range vc {
		out[actorID] = value
	}
	return out
}
