package cache

import "fmt"

// 键语义：
// - scopeKey(scope): 某个 scope（boardID 或 cardID）内的瞬时记录
//   （ZSet<actorID|kind, expireAtUnix>，score=expireAt，表达“逻辑 TTL”）

const keyScopeFmt = "presence:scope:{%s}" // ZSet<actorID|kind, expireAtUnix>

func scopeKey(scope string) string { return fmt.Sprintf(keyScopeFmt, scope) }
