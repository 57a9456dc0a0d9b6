package chat

import (
	"sync"
	"time"

	"fellowchat/logger"
	"fellowchat/tools/safe"

	"github.com/pkg/errors"
)

// ===== 配置 =====

type ManagerConf struct {
	TTL         time.Duration    // 连接 TTL（心跳续期）
	SweepEvery  time.Duration    // 清理周期
	MaxPerUser  int              // 每用户最大连接数（<=0 不限制）
	EvictOldest bool             // 超限时淘汰最老连接，否则 Add 报错
	Clock       func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 30 * time.Second
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
}

var ErrTooManyConns = errors.New("connection limit reached for user")

// ConnManager indexes live websocket sessions by connection id and by
// user. It owns connection lifetime on this node: admission, heartbeat
// renewal, TTL eviction. Delivery routing asks it which sessions belong
// to a conversation's participants.
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*Client            // 主索引：connID -> client
	byUser map[string]map[string]*Client // 辅助索引：userID -> (connID -> client)

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}

	// onEvict, when set, runs outside the lock for every connection the
	// manager closes itself (TTL expiry, oldest-eviction).
	onEvict func(*Client)
}

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	m := &ConnManager{
		byConn: make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
		conf:   conf,
		stopCh: make(chan struct{}),
	}
	safe.Go(m.sweeper)
	return m
}

func (m *ConnManager) SetEvictHandler(fn func(*Client)) { m.onEvict = fn }

// Add admits an authenticated session. With MaxPerUser exceeded it either
// evicts the user's oldest session or rejects the new one.
func (m *ConnManager) Add(c *Client) error {
	if c == nil || c.UserID == "" || c.ConnID == "" {
		return errors.New("client missing user or conn id")
	}
	now := m.conf.Clock()

	var evicted *Client
	m.mu.Lock()
	mm := m.byUser[c.UserID]
	if m.conf.MaxPerUser > 0 && len(mm) >= m.conf.MaxPerUser {
		if !m.conf.EvictOldest {
			m.mu.Unlock()
			return ErrTooManyConns
		}
		evicted = oldestOf(mm)
		if evicted != nil {
			delete(m.byConn, evicted.ConnID)
			delete(mm, evicted.ConnID)
		}
	}
	if mm == nil {
		mm = make(map[string]*Client)
		m.byUser[c.UserID] = mm
	}
	c.ExpireAt = now.Add(m.conf.TTL)
	c.Heartbeat = now
	m.byConn[c.ConnID] = c
	mm[c.ConnID] = c
	m.mu.Unlock()

	if evicted != nil {
		logger.Infof("conn %s evicted: user %s over limit", evicted.ConnID, evicted.UserID)
		m.closeClient(evicted)
	}
	return nil
}

// Remove drops the session from both indexes. The caller closes the
// socket; Remove is also safe to call twice.
func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byConn[connID]
	if !ok {
		return
	}
	delete(m.byConn, connID)
	if mm := m.byUser[c.UserID]; mm != nil {
		delete(mm, connID)
		if len(mm) == 0 {
			delete(m.byUser, c.UserID)
		}
	}
}

// Touch renews the TTL on heartbeat.
func (m *ConnManager) Touch(connID string) {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byConn[connID]; ok {
		c.Heartbeat = now
		c.ExpireAt = now.Add(m.conf.TTL)
	}
}

func (m *ConnManager) Get(connID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byConn[connID]
	return c, ok
}

// ConnsForUsers returns every local session belonging to any of userIDs.
func (m *ConnManager) ConnsForUsers(userIDs []string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Client
	for _, uid := range userIDs {
		for _, c := range m.byUser[uid] {
			out = append(out, c)
		}
	}
	return out
}

func (m *ConnManager) CountForUser(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID])
}

func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.byConn))
	for _, c := range m.byConn {
		clients = append(clients, c)
	}
	m.byConn = map[string]*Client{}
	m.byUser = map[string]map[string]*Client{}
	m.mu.Unlock()
	for _, c := range clients {
		m.closeClient(c)
	}
}

// ===== TTL 清理 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepExpired(m.conf.Clock())
		}
	}
}

func (m *ConnManager) sweepExpired(now time.Time) int {
	var expired []*Client
	m.mu.Lock()
	for id, c := range m.byConn {
		if now.After(c.ExpireAt) {
			expired = append(expired, c)
			delete(m.byConn, id)
			if mm := m.byUser[c.UserID]; mm != nil {
				delete(mm, id)
				if len(mm) == 0 {
					delete(m.byUser, c.UserID)
				}
			}
		}
	}
	m.mu.Unlock()

	for _, c := range expired {
		logger.Infof("conn %s expired: user %s last heartbeat %s", c.ConnID, c.UserID, c.Heartbeat.Format(time.RFC3339))
		m.closeClient(c)
	}
	return len(expired)
}

func (m *ConnManager) closeClient(c *Client) {
	if c.WS != nil {
		_ = c.WS.Close()
	}
	if m.onEvict != nil {
		m.onEvict(c)
	}
}

func oldestOf(mm map[string]*Client) *Client {
	var oldest *Client
	for _, c := range mm {
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	return oldest
}
