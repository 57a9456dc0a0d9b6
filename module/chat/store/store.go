package store

import (
	"context"
	"errors"

	"fellowchat/module/chat/model"
)

// Uniqueness violations, shared by both implementations so tests exercise
// the same failure modes the production store produces.
var (
	ErrUniqueSeq         = errors.New("unique (conversation, seq) violated")
	ErrUniqueClientMsgID = errors.New("unique (conversation, sender, client_msg_id) violated")
	ErrStatusTerminal    = errors.New("conversation status is terminal")
	ErrConvNotFound      = errors.New("conversation not found")
	ErrMsgNotFound       = errors.New("message not found")
)

// DB is the durable storage contract for conversations and their message
// logs. InsertMessage persists the message together with its send effects
// (pending message-count increment, unread bumps, last-message snapshot,
// max-seq advance) so a reader never observes a partially applied send.
//
// Callers serialize writes per conversation; the store's uniqueness
// constraints are the backstop, not the primary lock.
type DB interface {
	// GetOrCreateConversation persists conv unless a conversation with the
	// same id already exists, in which case the existing one is returned.
	// Idempotent under concurrent calls with the same participant pair.
	GetOrCreateConversation(ctx context.Context, conv *model.Conversation) (out *model.Conversation, created bool, err error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error)

	// UpdateStatus moves the lifecycle out of pending. Terminal states never
	// change again: updating to the current terminal status is a no-op,
	// anything else fails.
	UpdateStatus(ctx context.Context, id, next string) error

	// InsertMessage appends msg and applies the send effects on its
	// conversation as one unit. countPending controls whether the sender's
	// pending message count advances.
	InsertMessage(ctx context.Context, msg *model.Message, countPending bool) error

	FindByClientMsgID(ctx context.Context, convID, senderID, clientMsgID string) (*model.Message, error)
	GetMessage(ctx context.Context, convID, serverMsgID string) (*model.Message, error)
	// ListMessages returns messages with seq > afterSeq in seq order.
	ListMessages(ctx context.Context, convID string, afterSeq int64, limit int) ([]*model.Message, error)

	// MarkDelivered advances one message sent→delivered. Monotonic: a
	// message already delivered or read is left untouched.
	MarkDelivered(ctx context.Context, convID, serverMsgID string) (bool, error)
	// MarkRead marks every message not sent by readerID as read, zeroes the
	// reader's unread count and returns the seq read up to.
	MarkRead(ctx context.Context, convID, readerID string) (upToSeq int64, err error)

	// Tombstone clears the message content and marks it deleted, keeping
	// the sequence slot. Idempotent: tombstoning a tombstone reports
	// created=false with no error.
	Tombstone(ctx context.Context, convID, serverMsgID string) (deleted bool, err error)
	// ExpiredMessages lists live messages whose expiry has passed.
	ExpiredMessages(ctx context.Context, nowMS int64, limit int) ([]*model.Message, error)

	// SetLinkPreviews updates resolved previews in place.
	SetLinkPreviews(ctx context.Context, convID, serverMsgID string, previews []model.LinkPreview) error
}

// Partitioned is the query-time split of one user's conversation list for
// UI consumption; storage itself is status-agnostic.
type Partitioned struct {
	Accepted        []*model.Conversation
	PendingIncoming []*model.Conversation // pending where the user is the recipient
	PendingOutgoing []*model.Conversation // pending where the user is the requester
}

func Partition(convs []*model.Conversation, userID string) Partitioned {
	var out Partitioned
	for _, c := range convs {
		switch {
		case c.Status == model.StatusAccepted:
			out.Accepted = append(out.Accepted, c)
		case c.Status == model.StatusPending && c.RequesterID == userID:
			out.PendingOutgoing = append(out.PendingOutgoing, c)
		case c.Status == model.StatusPending:
			out.PendingIncoming = append(out.PendingIncoming, c)
		}
	}
	return out
}
