package model

// 投递状态机（服务端视角）。客户端本地的 "sending" 乐观态从不落库：
// 服务端只观察 sent/delivered/read/failed。
const (
	MsgStateSent      int32 = 1 // 已持久化
	MsgStateDelivered int32 = 2 // 接收端已拉取
	MsgStateRead      int32 = 3 // 接收端已查看（终态）
	MsgStateFailed    int32 = 9 // 持久化失败（终态）
)

const MsgCollection = "message"

const (
	MsgFieldServerMsgID    = "server_msg_id"
	MsgFieldClientMsgID    = "client_msg_id"
	MsgFieldConversationID = "conversation_id"
	MsgFieldSenderID       = "sender_id"
	MsgFieldContent        = "content"
	MsgFieldSeq            = "seq"
	MsgFieldState          = "state"
	MsgFieldCreatedAt      = "created_at"
	MsgFieldExpiresAt      = "expires_at"
	MsgFieldMentions       = "mentioned_user_ids"
	MsgFieldLinkPreviews   = "link_previews"
	MsgFieldDeleted        = "deleted"
)

// StateAllows reports whether the delivery state machine permits from→to.
// Forward-only along sent→delivered→read (skipping delivered is legal: a
// read implies delivery); failed is reachable from any non-terminal state
// and is itself terminal.
func StateAllows(from, to int32) bool {
	if from == to {
		return false
	}
	switch from {
	case MsgStateSent:
		return to == MsgStateDelivered || to == MsgStateRead || to == MsgStateFailed
	case MsgStateDelivered:
		return to == MsgStateRead || to == MsgStateFailed
	default: // read / failed 均为终态
		return false
	}
}

// LinkPreview 链接卡片元数据，发消息后异步解析、原位更新
type LinkPreview struct {
	URL      string `bson:"url" json:"url"`
	Title    string `bson:"title" json:"title"`
	ImageURL string `bson:"image_url,omitempty" json:"image_url,omitempty"`
}

// Message 一条消息及其投递状态。Seq 由服务端发号，会话内全序；
// 客户端时钟不可信，排序一律以 Seq 为准。
type Message struct {
	ServerMsgID    string `bson:"server_msg_id" json:"server_msg_id"`
	ClientMsgID    string `bson:"client_msg_id" json:"client_msg_id"` // 客户端幂等键，重试复用
	ConversationID string `bson:"conversation_id" json:"conversation_id"`
	SenderID       string `bson:"sender_id" json:"sender_id"`
	Content        string `bson:"content" json:"content"`
	Seq            int64  `bson:"seq" json:"seq"`
	State          int32  `bson:"state" json:"state"`
	CreatedAt      int64  `bson:"created_at" json:"created_at"`           // Unix ms，服务端时钟
	ExpiresAt      int64  `bson:"expires_at,omitempty" json:"expires_at"` // Unix ms，0=不过期

	MentionedUserIDs []string      `bson:"mentioned_user_ids,omitempty" json:"mentioned_user_ids,omitempty"`
	LinkPreviews     []LinkPreview `bson:"link_previews,omitempty" json:"link_previews,omitempty"`

	// Deleted: 墓碑。内容已清空但序列槽位保留，保证顺序与未读核算一致
	Deleted bool `bson:"deleted" json:"deleted"`
}
