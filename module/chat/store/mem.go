package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"fellowchat/module/chat/model"
)

// memDB is a full-fidelity in-memory DB used by tests and local runs. It
// enforces the same uniqueness constraints as the mongo implementation and
// applies each write inside one critical section, so the atomicity callers
// rely on holds here too.
type memDB struct {
	mu    sync.RWMutex
	convs map[string]*model.Conversation
	msgs  map[string][]*model.Message // convID -> messages in seq order
	byCID map[string]*model.Message   // convID|sender|clientMsgID
	bySID map[string]*model.Message   // convID|serverMsgID
}

func NewMemDB() DB {
	return &memDB{
		convs: make(map[string]*model.Conversation),
		msgs:  make(map[string][]*model.Message),
		byCID: make(map[string]*model.Message),
		bySID: make(map[string]*model.Message),
	}
}

func keyCID(conv, sender, cid string) string { return conv + "|" + sender + "|" + cid }
func keySID(conv, sid string) string         { return conv + "|" + sid }

func cloneConv(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	cp.MessageCounts = make(map[string]int64, len(c.MessageCounts))
	for k, v := range c.MessageCounts {
		cp.MessageCounts[k] = v
	}
	cp.UnreadCounts = make(map[string]int64, len(c.UnreadCounts))
	for k, v := range c.UnreadCounts {
		cp.UnreadCounts[k] = v
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}

func cloneMsg(m *model.Message) *model.Message {
	cp := *m
	cp.MentionedUserIDs = append([]string(nil), m.MentionedUserIDs...)
	cp.LinkPreviews = append([]model.LinkPreview(nil), m.LinkPreviews...)
	return &cp
}

func (db *memDB) GetOrCreateConversation(_ context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if existing, ok := db.convs[conv.ConversationID]; ok {
		return cloneConv(existing), false, nil
	}
	db.convs[conv.ConversationID] = cloneConv(conv)
	return cloneConv(conv), true, nil
}

func (db *memDB) GetConversation(_ context.Context, id string) (*model.Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, ok := db.convs[id]
	if !ok {
		return nil, ErrConvNotFound
	}
	return cloneConv(c), nil
}

func (db *memDB) ListConversations(_ context.Context, userID string) ([]*model.Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*model.Conversation
	for _, c := range db.convs {
		if c.HasParticipant(userID) {
			out = append(out, cloneConv(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

func (db *memDB) UpdateStatus(_ context.Context, id, next string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.convs[id]
	if !ok {
		return ErrConvNotFound
	}
	if c.Status == next {
		return nil
	}
	if c.Status != model.StatusPending {
		return ErrStatusTerminal
	}
	c.Status = next
	c.UpdatedAt = time.Now().UnixMilli()
	return nil
}

func (db *memDB) InsertMessage(_ context.Context, msg *model.Message, countPending bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.convs[msg.ConversationID]
	if !ok {
		return ErrConvNotFound
	}
	kc := keyCID(msg.ConversationID, msg.SenderID, msg.ClientMsgID)
	if msg.ClientMsgID != "" {
		if _, dup := db.byCID[kc]; dup {
			return ErrUniqueClientMsgID
		}
	}
	list := db.msgs[msg.ConversationID]
	for _, m := range list {
		if m.Seq == msg.Seq {
			return ErrUniqueSeq
		}
	}

	cp := cloneMsg(msg)
	idx := sort.Search(len(list), func(i int) bool { return list[i].Seq > cp.Seq })
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = cp
	db.msgs[msg.ConversationID] = list
	if msg.ClientMsgID != "" {
		db.byCID[kc] = cp
	}
	db.bySID[keySID(msg.ConversationID, msg.ServerMsgID)] = cp

	// Send effects in the same critical section as the append.
	applySendEffects(c, msg, countPending)
	return nil
}

func applySendEffects(c *model.Conversation, msg *model.Message, countPending bool) {
	if countPending {
		c.MessageCounts[msg.SenderID]++
	}
	for _, p := range c.ParticipantIDs {
		if p != msg.SenderID {
			c.UnreadCounts[p]++
		}
	}
	c.LastMessage = &model.LastMessage{
		ServerMsgID: msg.ServerMsgID,
		SenderID:    msg.SenderID,
		Content:     msg.Content,
		Seq:         msg.Seq,
		SentAt:      msg.CreatedAt,
	}
	if msg.Seq > c.MaxSeq {
		c.MaxSeq = msg.Seq
	}
	c.UpdatedAt = time.Now().UnixMilli()
}

func (db *memDB) FindByClientMsgID(_ context.Context, convID, senderID, clientMsgID string) (*model.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if m, ok := db.byCID[keyCID(convID, senderID, clientMsgID)]; ok {
		return cloneMsg(m), nil
	}
	return nil, ErrMsgNotFound
}

func (db *memDB) GetMessage(_ context.Context, convID, serverMsgID string) (*model.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if m, ok := db.bySID[keySID(convID, serverMsgID)]; ok {
		return cloneMsg(m), nil
	}
	return nil, ErrMsgNotFound
}

func (db *memDB) ListMessages(_ context.Context, convID string, afterSeq int64, limit int) ([]*model.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*model.Message
	for _, m := range db.msgs[convID] {
		if m.Seq <= afterSeq {
			continue
		}
		out = append(out, cloneMsg(m))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (db *memDB) MarkDelivered(_ context.Context, convID, serverMsgID string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.bySID[keySID(convID, serverMsgID)]
	if !ok {
		return false, ErrMsgNotFound
	}
	if !model.StateAllows(m.State, model.MsgStateDelivered) {
		return false, nil
	}
	m.State = model.MsgStateDelivered
	return true, nil
}

func (db *memDB) MarkRead(_ context.Context, convID, readerID string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.convs[convID]
	if !ok {
		return 0, ErrConvNotFound
	}
	for _, m := range db.msgs[convID] {
		if m.SenderID == readerID {
			continue
		}
		if model.StateAllows(m.State, model.MsgStateRead) {
			m.State = model.MsgStateRead
		}
	}
	c.UnreadCounts[readerID] = 0
	c.UpdatedAt = time.Now().UnixMilli()
	return c.MaxSeq, nil
}

func (db *memDB) Tombstone(_ context.Context, convID, serverMsgID string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.bySID[keySID(convID, serverMsgID)]
	if !ok {
		return false, ErrMsgNotFound
	}
	if m.Deleted {
		return false, nil
	}
	m.Deleted = true
	m.Content = ""
	m.MentionedUserIDs = nil
	m.LinkPreviews = nil
	return true, nil
}

func (db *memDB) ExpiredMessages(_ context.Context, nowMS int64, limit int) ([]*model.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*model.Message
	for _, list := range db.msgs {
		for _, m := range list {
			if m.Deleted || m.ExpiresAt == 0 || m.ExpiresAt > nowMS {
				continue
			}
			out = append(out, cloneMsg(m))
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (db *memDB) SetLinkPreviews(_ context.Context, convID, serverMsgID string, previews []model.LinkPreview) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.bySID[keySID(convID, serverMsgID)]
	if !ok {
		return ErrMsgNotFound
	}
	if m.Deleted {
		return nil // expired while resolving; drop silently
	}
	m.LinkPreviews = append([]model.LinkPreview(nil), previews...)
	return nil
}
