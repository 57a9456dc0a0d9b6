package seq

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"fellowchat/tools/errs"
)

// Allocator hands out the store-side per-conversation sequence. Sequences
// are dense and monotone within a conversation; callers invoke Next inside
// the per-conversation critical section so message order equals commit
// order.
type Allocator interface {
	Next(ctx context.Context, conversationID string) (int64, error)
}

// SegmentDAO refills the redis hot segment from durable storage. AllocSegment
// atomically reserves [start, end] for this node.
type SegmentDAO interface {
	AllocSegment(ctx context.Context, conversationID string, block int64) (start, end int64, err error)
}

// 段内原子发号：KEYS[1]=key; ARGV[1]=segEnd（0=任意段）
// 返回 {0, next} 成功；{1} 段缺失；{3} 段用尽/不一致
var luaNextInSegment = redis.NewScript(`
  local k = KEYS[1]
  local segEnd = tonumber(ARGV[1])
  local curr = redis.call('HGET', k, 'curr')
  local endv = redis.call('HGET', k, 'end')
  if not curr or not endv then
    return {1}
  end
  curr = tonumber(curr); endv = tonumber(endv)
  if segEnd ~= 0 and segEnd ~= endv then
    return {3}
  end
  if curr + 1 > endv then
    return {3}
	end
  redis.call('HSET', k, 'curr', curr + 1)
  return {0, curr + 1}
`)

// 装载/刷新段并续期 TTL
var luaSetSegment = redis.NewScript(`
  local k = KEYS[1]
  redis.call('HSET', k, 'curr', tonumber(ARGV[1]), 'end', tonumber(ARGV[2]))
  redis.call('PEXPIRE', k, 3600000)
  return 1
`)

type RedisAllocator struct {
	Rdb      redis.Scripter
	DAO      SegmentDAO
	Block    int64 // segment size reserved per refill
	MaxRetry int
}

func NewRedisAllocator(rdb redis.Scripter, dao SegmentDAO) *RedisAllocator {
	return &RedisAllocator{Rdb: rdb, DAO: dao, Block: 128, MaxRetry: 8}
}

func seqKey(conv string) string { return "seq:blk:" + conv }

func (a *RedisAllocator) Next(ctx context.Context, conversationID string) (int64, error) {
	key := seqKey(conversationID)

	// 先走热段
	if res, err := luaNextInSegment.Run(ctx, a.Rdb, []string{key}, 0).Result(); err == nil {
		arr := res.([]interface{})
		if arr[0].(int64) == 0 {
			return arr[1].(int64), nil
		}
	}

	// 回源领段 -> 写回 Redis -> 再发号
	var lastErr error
	for i := 0; i < a.MaxRetry; i++ {
		start, end, err := a.DAO.AllocSegment(ctx, conversationID, a.Block)
		if err != nil {
			return 0, err
		}
		if _, err := luaSetSegment.Run(ctx, a.Rdb, []string{key}, start-1, end).Result(); err != nil {
			lastErr = err
			time.Sleep(10 * time.Millisecond)
			continue
		}
		res, err := luaNextInSegment.Run(ctx, a.Rdb, []string{key}, end).Result()
		if err != nil {
			lastErr = err
			time.Sleep(10 * time.Millisecond)
			continue
		}
		arr := res.([]interface{})
		if arr[0].(int64) == 0 {
			return arr[1].(int64), nil
		}
		// 段冲突（另一节点刚换段），重试
		lastErr = errs.New("seq segment conflict conv=%s", conversationID)
		time.Sleep(5 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errs.New("seq alloc retry exceeded conv=%s", conversationID)
	}
	return 0, lastErr
}
