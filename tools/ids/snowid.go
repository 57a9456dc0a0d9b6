package ids

import (
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits = 10
	seqBits  = 12
	nodeMax  = (1 << nodeBits) - 1
	seqMask  = (1 << seqBits) - 1
	tsShift  = nodeBits + seqBits
)

// 41 bits timestamp | 10 bits node | 12 bits sequence
type generator struct {
	mu     sync.Mutex
	epoch  int64
	node   int64 // 0~1023
	seq    int64 // 0~4095
	lastMS int64
}

var (
	defaultGen *generator
	once       sync.Once
)

func initDefault() {
	once.Do(func() {
		defaultGen = &generator{
			epoch: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
			node:  1,
		}
	})
}

// Generate 生成一个新的雪花ID
func Generate() int64 {
	initDefault()
	return defaultGen.next()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

// SetNodeID 设置 nodeID（0~1023），应在 main() 初始化时调用
func SetNodeID(node int64) {
	initDefault()
	if node < 0 || node > nodeMax {
		node = 1
	}
	defaultGen.node = node
}

func (g *generator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < g.lastMS {
		// 时钟回拨，等待追上
		time.Sleep(time.Duration(g.lastMS-now) * time.Millisecond)
		now = time.Now().UnixMilli()
	}
	if now == g.lastMS {
		g.seq = (g.seq + 1) & seqMask
		if g.seq == 0 {
			// 当前毫秒序列号用尽，自旋到下一毫秒
			for now <= g.lastMS {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastMS = now

	ts := (now - g.epoch) & ((1 << 41) - 1)
	return (ts << tsShift) | (g.node << seqBits) | g.seq
}
