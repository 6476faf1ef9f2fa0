package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache mirrors participant liveness and last cursor positions into
// Redis so sibling services (badges, admin views) can read them. The session
// actor's state machine stays authoritative for transitions; this is a
// best-effort shadow refreshed on every heartbeat.
type PresenceCache interface {
	AddMember(ctx context.Context, dashboardID string, userID uint64, username string, ttl time.Duration) error
	RemoveMember(ctx context.Context, dashboardID string, userID uint64) error
	GetAliveMembersWithNames(ctx context.Context, dashboardID string) ([]PresenceMember, error)
	SetCursor(ctx context.Context, dashboardID string, userID uint64, jsonData []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, dashboardID string, userID uint64) ([]byte, error)
}

type PresenceMember struct {
	UserID   uint64
	Username string
}

type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) AddMember(ctx context.Context, dashboardID string, userID uint64, username string, ttl time.Duration) error {
	// Refreshing the TTL is the same call again.
	tx := p.rdb.TxPipeline()
	// ZSet score carries a logical TTL: expireAt as unix seconds.
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(dashboardID), redis.Z{Score: float64(expireAt), Member: userID})
	tx.HSet(ctx, namesKey(dashboardID), userID, username)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, dashboardID string, userID uint64) error {
	uid := strconv.FormatUint(userID, 10)
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(dashboardID), uid)
	tx.HDel(ctx, namesKey(dashboardID), uid)
	tx.Del(ctx, cursorKey(dashboardID, userID))
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) SetCursor(ctx context.Context, dashboardID string, userID uint64, jsonData []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(dashboardID, userID), jsonData, ttl).Err()
}

func (p *redisPresence) GetCursor(ctx context.Context, dashboardID string, userID uint64) ([]byte, error) {
	return p.rdb.Get(ctx, cursorKey(dashboardID, userID)).Bytes()
}

// reapExpiredScript drops members whose logical TTL has passed before the
// alive set is read, so readers never see stale entries.
//
// KEYS[1] = roomKey(dashboardID)
// KEYS[2] = namesKey(dashboardID)
// ARGV[1] = now (unix seconds)
var reapExpiredScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

func (p *redisPresence) GetAliveMembersWithNames(ctx context.Context, dashboardID string) ([]PresenceMember, error) {
	now := time.Now().Unix()

	_, err := reapExpiredScript.Run(ctx, p.rdb, []string{roomKey(dashboardID), namesKey(dashboardID)}, now).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(dashboardID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}
	ids := make([]uint64, 0, len(aliveIDs))
	for _, raw := range aliveIDs {
		uid, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, uid)
	}

	names, err := p.rdb.HMGet(ctx, namesKey(dashboardID), aliveIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(ids))
	for i, v := range names {
		name := ""
		if v != nil {
			name, _ = v.(string)
		}
		members = append(members, PresenceMember{UserID: ids[i], Username: name})
	}
	return members, nil
}
