package chat

import (
	"hash/fnv"

	"fellowchat/logger"
	"fellowchat/tools/safe"
)

type fanoutJob struct {
	conn    *Client
	payload []byte
}

// Fanout distributes event frames to client send queues across a fixed
// worker pool. Jobs are sharded by connection id, so all frames for one
// subscriber pass through one worker and arrive in enqueue order;
// distinct subscribers spread across shards and proceed in parallel.
type Fanout struct {
	shards []chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 1
	}
	f := &Fanout{shards: make([]chan fanoutJob, workers)}
	for i := range f.shards {
		ch := make(chan fanoutJob, queue)
		f.shards[i] = ch
		safe.Go(func() {
			for job := range ch {
				select {
				case job.conn.Send <- job.payload:
				default:
					// 慢客户端：丢弃本帧，客户端重连后按 seq 补拉
					logger.Warnf("conn %s send queue full, frame dropped", job.conn.ConnID)
				}
			}
		})
	}
	return f
}

// Broadcast enqueues payload for every conn, routing each to its shard.
func (f *Fanout) Broadcast(conns []*Client, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	for _, c := range conns {
		f.shards[f.shardOf(c.ConnID)] <- fanoutJob{conn: c, payload: payload}
	}
}

func (f *Fanout) shardOf(connID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(connID))
	return int(h.Sum32() % uint32(len(f.shards)))
}

func (f *Fanout) Close() {
	for _, ch := range f.shards {
		close(ch)
	}
}
