package board

// 实体种类：卡片 / 列表 / 看板
type Kind string

const (
	KindCard  Kind = "card"
	KindList  Kind = "list"
	KindBoard Kind = "board"
)

// Entity 是可排序集合里的一个成员（卡片或列表）。
// - ID 全局唯一，跨移动保持不变
// - ParentID 指向当前所属父集合（卡片→列表，列表→看板）
// - Position 是小数排序键，同一父集合内互不相等
// - Attrs 存放离散属性（title / completed / members / labels ...），
//   updated 事件只合并被改动的键，不整体替换
// - Clock 记录该实体已生效事件合并后的向量时钟，用于判定过期事件
type Entity struct {
	ID       string         `json:"id"`
	ParentID string         `json:"parentId"`
	Kind     Kind           `json:"kind"`
	Position float64        `json:"position"`
	Attrs    map[string]any `json:"attrs,omitempty"`
	Clock    VectorClock    `json:"clock,omitempty"`
}

// Clone 深拷贝。乐观变更日志的快照、Store 的读返回都依赖这里：
// 外部拿到的值改了也不会影响 Store 内部状态。
func (e Entity) Clone() Entity {
	out := e
	out.Clock = e.Clock.Clone()
	if e.Attrs != nil {
		out.Attrs = make(map[string]any, len(e.Attrs))
		for k, v := range e.Attrs {
			out.Attrs[k] = cloneAttrValue(v)
		}
	}
	return out
}

// MergeAttrs 只覆盖给到的键，未提及的键保持原值。
func (e *Entity) MergeAttrs(attrs map[string]any) {
	if len(attrs) == 0 {
		return
	}
	if e.Attrs == nil {
		e.Attrs = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		e.Attrs[k] = cloneAttrValue(v)
	}
}

// Relation 返回某个关系数组属性（members / labels）的字符串切片视图。
// JSON 反序列化出来的是 []any，这里统一转成 []string。
func (e Entity) Relation(attr string) []string {
	if e.Attrs == nil {
		return nil
	}
	switch v := e.Attrs[attr].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Attach 把 id 加入关系数组；已存在则是幂等 no-op，返回 false。
func (e *Entity) Attach(attr, id string) bool {
	rel := e.Relation(attr)
	for _, existing := range rel {
		if existing == id {
			return false
		}
	}
	if e.Attrs == nil {
		e.Attrs = make(map[string]any, 1)
	}
	e.Attrs[attr] = append(rel, id)
	return true
}

// Detach 把 id 从关系数组中移除；不存在则是幂等 no-op，返回 false。
func (e *Entity) Detach(attr, id string) bool {
	rel := e.Relation(attr)
	for i, existing := range rel {
		if existing == id {
			if e.Attrs == nil {
				e.Attrs = make(map[string]any, 1)
			}
			e.Attrs[attr] = append(append([]string{}, rel[:i]...), rel[i+1:]...)
			return true
		}
	}
	return false
}

func cloneAttrValue(v any) any {
	switch vv := v.(type) {
	case []string:
		return append([]string{}, vv...)
	case []any:
		// 元素也要递归拷贝：JSON 反序列化出的数组里可能嵌 map
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = cloneAttrValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, item := range vv {
			out[k] = cloneAttrValue(item)
		}
		return out
	default:
		// 标量（string/float64/bool/nil）按值拷贝即可
		return v
	}
}
