package model

// Sync event kinds pushed to subscribed clients. Per conversation, events
// are emitted in commit order; clients reconcile gaps after reconnect by
// fetching messages with after_seq.
const (
	EventMessageNew         = "message.new"
	EventMessageState       = "message.state"
	EventMessagePreview     = "message.preview"
	EventMessageDeleted     = "message.deleted"
	EventConversationStatus = "conversation.status"
	EventConversationRead   = "conversation.read"
)

// Event is one incremental update fanned out to every subscribed client of
// the conversation's participants.
type Event struct {
	Kind           string   `json:"kind"`
	ConversationID string   `json:"conversation_id"`
	ParticipantIDs []string `json:"participant_ids"`
	Seq            int64    `json:"seq,omitempty"`    // message seq when the event concerns one message
	Origin         string   `json:"origin,omitempty"` // gateway node id, set by the producing node
	At             int64    `json:"at"`               // Unix ms
	Payload        any      `json:"payload,omitempty"`
}

// Payloads. On the consuming side these arrive as map[string]any and are
// decoded with tools/decode.

type MessageStatePayload struct {
	ServerMsgID string `json:"server_msg_id"`
	State       int32  `json:"state"`
}

type MessageDeletedPayload struct {
	ServerMsgID string `json:"server_msg_id"`
	Seq         int64  `json:"seq"`
}

type MessagePreviewPayload struct {
	ServerMsgID  string        `json:"server_msg_id"`
	LinkPreviews []LinkPreview `json:"link_previews"`
}

type ConversationStatusPayload struct {
	Status string `json:"status"`
}

type ConversationReadPayload struct {
	ReaderID string `json:"reader_id"`
	UpToSeq  int64  `json:"up_to_seq"`
}
