package chat

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"fellowchat/logger"
	"fellowchat/module/chat/composer"
	"fellowchat/tools/decode"
	"fellowchat/tools/ids"
	"fellowchat/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// PresenceStore records which node a user's connections live on so other
// nodes (and the notifier) can tell online from offline.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID, connID string) error
	SetOffline(ctx context.Context, userID, connID string) error
	Renew(ctx context.Context, userID string) error
}

type ServerConf struct {
	SendQueue int
	Heartbeat time.Duration
}

// Server owns the websocket side of one gateway node: handshake auth,
// session registration, the read/write pumps and the inbound op frames.
type Server struct {
	conf     ServerConf
	auth     *TokenParser
	mgr      *ConnManager
	comp     *composer.Composer
	presence PresenceStore // optional
}

func NewServer(conf ServerConf, auth *TokenParser, mgr *ConnManager, comp *composer.Composer, presence PresenceStore) *Server {
	if conf.SendQueue <= 0 {
		conf.SendQueue = 256
	}
	if conf.Heartbeat <= 0 {
		conf.Heartbeat = 30 * time.Second
	}
	s := &Server{conf: conf, auth: auth, mgr: mgr, comp: comp, presence: presence}
	mgr.SetEvictHandler(s.onEvict)
	return s
}

func (s *Server) Manager() *ConnManager { return s.mgr }

// 入站帧：{"op":"...","data":{...}}，出站直接推送 model.Event JSON
type inFrame struct {
	Op   string         `json:"op"`
	Data map[string]any `json:"data"`
}

type markReadOp struct {
	ConversationID string `json:"conversation_id"`
}

type markDeliveredOp struct {
	ConversationID string `json:"conversation_id"`
	ServerMsgID    string `json:"server_msg_id"`
}

// HandleWS upgrades one authenticated websocket session and runs its read
// loop until the peer goes away.
func (s *Server) HandleWS(c *gin.Context) {
	userID, err := s.auth.Parse(bearerToken(c))
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("ws upgrade failed for %s: %v", userID, err)
		return
	}

	client := NewClient(ids.GenerateString(), userID, ws, s.conf.SendQueue)
	if err := s.mgr.Add(client); err != nil {
		logger.Warnf("ws admit %s: %v", userID, err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection limit"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	s.setPresence(client, true)
	logger.Infof("ws open user=%s conn=%s remote=%s", userID, client.ConnID, ws.RemoteAddr())

	done := make(chan struct{})
	safe.Go(func() { s.writeLoop(client, done) })

	s.readLoop(client)

	// 退出：先摘索引再下线，写协程最后关 socket
	s.mgr.Remove(client.ConnID)
	s.setPresence(client, false)
	close(done)
}

// readLoop is the only reader of the socket. Op frames are acknowledged
// through the event stream, not inline.
func (s *Server) readLoop(c *Client) {
	for {
		mt, data, err := c.WS.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("ws peer closed conn=%s", c.ConnID)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("ws read timeout conn=%s", c.ConnID)
			} else {
				logger.Infof("ws read err conn=%s: %v", c.ConnID, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		var frame inFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Infof("ws drop malformed frame conn=%s: %v", c.ConnID, err)
			continue
		}
		s.handleOp(c, frame)
	}
}

func (s *Server) handleOp(c *Client, frame inFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch frame.Op {
	case "ping":
		s.mgr.Touch(c.ConnID)
		// 心跳同时给 presence 续期，否则 TTL 到期后在线用户会被当成离线
		if s.presence != nil {
			if err := s.presence.Renew(ctx, c.UserID); err != nil {
				logger.Warnf("presence renew %s: %v", c.UserID, err)
			}
		}
	case "mark_read":
		op, err := decode.DecodeMap[markReadOp](frame.Data)
		if err != nil || op.ConversationID == "" {
			logger.Infof("ws bad mark_read conn=%s: %v", c.ConnID, err)
			return
		}
		if _, err := s.comp.MarkRead(ctx, op.ConversationID, c.UserID); err != nil {
			logger.Infof("ws mark_read %s by %s: %v", op.ConversationID, c.UserID, err)
		}
	case "mark_delivered":
		op, err := decode.DecodeMap[markDeliveredOp](frame.Data)
		if err != nil || op.ConversationID == "" || op.ServerMsgID == "" {
			logger.Infof("ws bad mark_delivered conn=%s: %v", c.ConnID, err)
			return
		}
		if err := s.comp.MarkDelivered(ctx, op.ConversationID, op.ServerMsgID, c.UserID); err != nil {
			logger.Infof("ws mark_delivered %s/%s by %s: %v", op.ConversationID, op.ServerMsgID, c.UserID, err)
		}
	default:
		logger.Infof("ws unknown op %q conn=%s", frame.Op, c.ConnID)
	}
}

// writeLoop is the only writer of the socket. It drains the send queue
// and keeps the connection alive with protocol pings.
func (s *Server) writeLoop(c *Client, done <-chan struct{}) {
	ticker := time.NewTicker(s.conf.Heartbeat)
	defer func() {
		ticker.Stop()
		_ = c.WS.Close()
	}()
	for {
		select {
		case data := <-c.Send:
			_ = c.WS.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.WS.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Infof("ws write err conn=%s: %v", c.ConnID, err)
				return
			}
		case <-ticker.C:
			if err := c.WS.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) onEvict(c *Client) {
	s.setPresence(c, false)
}

func (s *Server) setPresence(c *Client, online bool) {
	if s.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var err error
	if online {
		err = s.presence.SetOnline(ctx, c.UserID, c.ConnID)
	} else {
		err = s.presence.SetOffline(ctx, c.UserID, c.ConnID)
	}
	if err != nil {
		logger.Warnf("presence %s conn=%s online=%v: %v", c.UserID, c.ConnID, online, err)
	}
}

func bearerToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	h := c.GetHeader("Authorization")
	return strings.TrimPrefix(h, "Bearer ")
}
