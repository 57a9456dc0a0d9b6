package chat

import (
	"time"

	"github.com/gorilla/websocket"
)

// Client is one authenticated websocket session. A user may hold several
// at once (multiple devices); each gets its own outbound queue consumed
// by a single writer goroutine, so frames enqueued in order leave in
// order.
type Client struct {
	ConnID string          // 本节点内唯一的连接 ID（雪花）
	UserID string          // 握手鉴权后确定
	WS     *websocket.Conn
	Send   chan []byte // 出站队列，单写协程消费

	CreatedAt time.Time
	ExpireAt  time.Time // 到期由 sweeper 清理，心跳续期
	Heartbeat time.Time
}

func NewClient(connID, userID string, ws *websocket.Conn, sendQueue int) *Client {
	now := time.Now()
	return &Client{
		ConnID:    connID,
		UserID:    userID,
		WS:        ws,
		Send:      make(chan []byte, sendQueue),
		CreatedAt: now,
		Heartbeat: now,
	}
}
