package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache 是中继服务侧的瞬时在场存储：谁在看哪个看板、
// 谁在哪张卡上输入。只有 TTL 语义，没有持久性。
type PresenceCache interface {
	Signal(ctx context.Context, scope, actorID, kind string, ttl time.Duration) error
	Stop(ctx context.Context, scope, actorID, kind string) error
	ListActive(ctx context.Context, scope string) ([]Entry, error)
}

type Entry struct {
	ActorID string
	Kind    string
}

// 具体实现：基于 redis 的 PresenceCache
type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// member 编码成 actorID|kind，解码时按最后一个 | 拆
func member(actorID, kind string) string { return actorID + "|" + kind }

func (p *redisPresence) Signal(ctx context.Context, scope, actorID, kind string, ttl time.Duration) error {
	// 刷新 TTL 也直接再调一次 Signal 即可（ZAdd 覆盖 score）
	expireAt := time.Now().Add(ttl).Unix()
	return p.rdb.ZAdd(ctx, scopeKey(scope), redis.Z{
		Score:  float64(expireAt),
		Member: member(actorID, kind),
	}).Err()
}

func (p *redisPresence) Stop(ctx context.Context, scope, actorID, kind string) error {
	return p.rdb.ZRem(ctx, scopeKey(scope), member(actorID, kind)).Err()
}

func (p *redisPresence) ListActive(ctx context.Context, scope string) ([]Entry, error) {
	// step1: 用 lua 原子清理过期成员（score=expireAt <= now 视为过期）
	now := time.Now().Unix()
	luaScript := `
	-- KEYS[1] = scopeKey(scope)
	-- ARGV[1] = now (unix seconds)
	local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	if #expired > 0 then
		redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	end
	return #expired
	`
	script := redis.NewScript(luaScript)
	if _, err := script.Run(ctx, p.rdb, []string{scopeKey(scope)}, now).Int(); err != nil && err != redis.Nil {
		return nil, err
	}

	// step2: 查询未过期成员
	alive, err := p.rdb.ZRangeByScore(ctx, scopeKey(scope), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(alive))
	for _, m := range alive {
		idx := strings.LastIndex(m, "|")
		if idx < 0 {
			continue
		}
		entries = append(entries, Entry{ActorID: m[:idx], Kind: m[idx+1:]})
	}
	return entries, nil
}
