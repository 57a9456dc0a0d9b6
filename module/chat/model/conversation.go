package model

import (
	"sort"
	"strings"
	"time"

	"fellowchat/tools/ids"
)

// 会话生命周期状态
const (
	StatusPending  = "pending"  // 请求阶段：等待对方接受
	StatusAccepted = "accepted" // 终态（成功）
	StatusDeclined = "declined" // 终态（失败）
)

const ConvCollection = "conversation"

// bson 字段名常量，供 store 层构建过滤/更新文档使用
const (
	ConvFieldID             = "_id"
	ConvFieldParticipantIDs = "participant_ids"
	ConvFieldStatus         = "status"
	ConvFieldRequesterID    = "requester_id"
	ConvFieldMessageCounts  = "message_counts"
	ConvFieldUnreadCounts   = "unread_counts"
	ConvFieldLastMessage    = "last_message"
	ConvFieldBurnDuration   = "burn_duration"
	ConvFieldMaxSeq         = "max_seq"
	ConvFieldCreateTime     = "create_time"
	ConvFieldUpdatedAt      = "updated_at"
)

// LastMessage 最新一条消息的冗余快照，会话列表渲染用，避免连表
type LastMessage struct {
	ServerMsgID string `bson:"server_msg_id" json:"server_msg_id"`
	SenderID    string `bson:"sender_id" json:"sender_id"`
	Content     string `bson:"content" json:"content"`
	Seq         int64  `bson:"seq" json:"seq"`
	SentAt      int64  `bson:"sent_at" json:"sent_at"` // Unix ms
}

// Conversation 表示一组参与者与其生命周期状态、聚合计数。
// 两人会话的 ID 由参与者对确定（幂等创建），群聊随机。
type Conversation struct {
	ConversationID string   `bson:"_id" json:"conversation_id"`
	ParticipantIDs []string `bson:"participant_ids" json:"participant_ids"` // 有序（排序后），两人会话创建后不可变
	Status         string   `bson:"status" json:"status"`
	RequesterID    string   `bson:"requester_id" json:"requester_id"` // 发起第一条消息的用户，创建时固定

	// MessageCounts: pending 阶段各参与者已发送的消息数（限流用）
	MessageCounts map[string]int64 `bson:"message_counts" json:"message_counts"`
	// UnreadCounts: 各参与者未读数
	UnreadCounts map[string]int64 `bson:"unread_counts" json:"unread_counts"`

	LastMessage  *LastMessage `bson:"last_message,omitempty" json:"last_message,omitempty"`
	BurnDuration int32        `bson:"burn_duration" json:"burn_duration"` // 阅后即焚时长（秒），0=关闭
	MaxSeq       int64        `bson:"max_seq" json:"max_seq"`             // 已提交的最大消息序列

	CreateTime time.Time `bson:"create_time" json:"create_time"`
	UpdatedAt  int64     `bson:"updated_at" json:"updated_at"` // Unix ms
}

const (
	p2pIDPrefix   = "p2p:"
	groupIDPrefix = "grp:"
)

// P2PConversationID derives the deterministic id for a two-party
// conversation: same pair, same id, regardless of who sends first.
func P2PConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return p2pIDPrefix + pair[0] + ":" + pair[1]
}

// GroupConversationID allocates a random id for a group conversation.
func GroupConversationID() string {
	return groupIDPrefix + ids.GenerateString()
}

// NewConversation builds an unsaved conversation with zeroed counters.
// participants are sorted; callers pass initial status from the gate.
func NewConversation(id string, participants []string, requesterID, status string, burnDuration int32) *Conversation {
	ps := append([]string(nil), participants...)
	sort.Strings(ps)
	counts := make(map[string]int64, len(ps))
	unread := make(map[string]int64, len(ps))
	for _, p := range ps {
		counts[p] = 0
		unread[p] = 0
	}
	now := time.Now()
	return &Conversation{
		ConversationID: id,
		ParticipantIDs: ps,
		Status:         status,
		RequesterID:    requesterID,
		MessageCounts:  counts,
		UnreadCounts:   unread,
		BurnDuration:   burnDuration,
		CreateTime:     now,
		UpdatedAt:      now.UnixMilli(),
	}
}

func (c *Conversation) IsGroup() bool {
	return strings.HasPrefix(c.ConversationID, groupIDPrefix)
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.ParticipantIDs {
		if p == userID {
			return true
		}
	}
	return false
}

// Others returns every participant except userID.
func (c *Conversation) Others(userID string) []string {
	out := make([]string, 0, len(c.ParticipantIDs))
	for _, p := range c.ParticipantIDs {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

// Terminal reports whether the lifecycle can no longer change.
func (c *Conversation) Terminal() bool {
	return c.Status == StatusAccepted || c.Status == StatusDeclined
}
