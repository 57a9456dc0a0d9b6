package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// presence key: chat:presence:<user>，成员为该用户各节点上的 connID。
// TTL 控制在线有效期，连接心跳续期；节点崩溃后由过期兜底。
func presenceKey(user string) string { return "chat:presence:" + user }

// Presence tracks live connections per user in redis so every gateway
// node and the notifier share one view of who is reachable.
type Presence struct {
	rdb *goredis.Client
	ttl time.Duration
}

func NewPresence(rdb *goredis.Client, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Presence{rdb: rdb, ttl: ttl}
}

// SetOnline registers connID for user and renews the TTL.
func (p *Presence) SetOnline(ctx context.Context, userID, connID string) error {
	pipe := p.rdb.TxPipeline()
	pipe.SAdd(ctx, presenceKey(userID), connID)
	pipe.Expire(ctx, presenceKey(userID), p.ttl)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "presence online")
}

// SetOffline drops connID; the key disappears with the last connection.
func (p *Presence) SetOffline(ctx context.Context, userID, connID string) error {
	return errors.Wrap(p.rdb.SRem(ctx, presenceKey(userID), connID).Err(), "presence offline")
}

// Renew extends the TTL on heartbeat.
func (p *Presence) Renew(ctx context.Context, userID string) error {
	return errors.Wrap(p.rdb.Expire(ctx, presenceKey(userID), p.ttl).Err(), "presence renew")
}

// IsOnline reports whether the user holds at least one live connection
// anywhere in the cluster.
func (p *Presence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.rdb.SCard(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "presence lookup")
	}
	return n > 0, nil
}
