package store

import (
	"context"
	"sync"
	"testing"

	"fellowchat/module/chat/model"

	"github.com/stretchr/testify/require"
)

func newConv(t *testing.T, db DB, requester, recipient, status string) *model.Conversation {
	t.Helper()
	id := model.P2PConversationID(requester, recipient)
	conv := model.NewConversation(id, []string{requester, recipient}, requester, status, 0)
	out, _, err := db.GetOrCreateConversation(context.Background(), conv)
	require.NoError(t, err)
	return out
}

func newMsg(convID, sender, content string, seq int64) *model.Message {
	return &model.Message{
		ServerMsgID:    content + "-sid",
		ClientMsgID:    content + "-cid",
		ConversationID: convID,
		SenderID:       sender,
		Content:        content,
		Seq:            seq,
		State:          model.MsgStateSent,
	}
}

func TestGetOrCreateIdempotentUnderConcurrency(t *testing.T) {
	db := NewMemDB()
	id := model.P2PConversationID("alice", "bob")

	var wg sync.WaitGroup
	created := make(chan bool, 16)
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv := model.NewConversation(id, []string{"alice", "bob"}, "alice", model.StatusPending, 0)
			_, c, err := db.GetOrCreateConversation(context.Background(), conv)
			errs <- err
			created <- c
		}()
	}
	wg.Wait()
	close(created)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	n := 0
	for c := range created {
		if c {
			n++
		}
	}
	require.Equal(t, 1, n, "exactly one creation wins")
}

func TestInsertMessageEffects(t *testing.T) {
	db := NewMemDB()
	ctx := context.Background()
	conv := newConv(t, db, "alice", "bob", model.StatusPending)

	require.NoError(t, db.InsertMessage(ctx, newMsg(conv.ConversationID, "alice", "hi", 1), true))

	got, err := db.GetConversation(ctx, conv.ConversationID)
	require.NoError(t, err)
	require.EqualValues(t, 1, got.MessageCounts["alice"])
	require.EqualValues(t, 1, got.UnreadCounts["bob"])
	require.EqualValues(t, 0, got.UnreadCounts["alice"])
	require.EqualValues(t, 1, got.MaxSeq)
	require.NotNil(t, got.LastMessage)
	require.Equal(t, "hi", got.LastMessage.Content)
}

func TestInsertMessageUniqueness(t *testing.T) {
	db := NewMemDB()
	ctx := context.Background()
	conv := newConv(t, db, "alice", "bob", model.StatusAccepted)

	first := newMsg(conv.ConversationID, "alice", "hi", 1)
	require.NoError(t, db.InsertMessage(ctx, first, false))

	// 同 client_msg_id 再插：唯一键兜底
	dup := newMsg(conv.ConversationID, "alice", "hi", 2)
	require.ErrorIs(t, db.InsertMessage(ctx, dup, false), ErrUniqueClientMsgID)

	// 同 seq 再插
	clash := newMsg(conv.ConversationID, "bob", "yo", 1)
	require.ErrorIs(t, db.InsertMessage(ctx, clash, false), ErrUniqueSeq)

	found, err := db.FindByClientMsgID(ctx, conv.ConversationID, "alice", "hi-cid")
	require.NoError(t, err)
	require.Equal(t, first.ServerMsgID, found.ServerMsgID)
}

func TestUpdateStatusTerminal(t *testing.T) {
	db := NewMemDB()
	ctx := context.Background()
	conv := newConv(t, db, "alice", "bob", model.StatusPending)

	require.NoError(t, db.UpdateStatus(ctx, conv.ConversationID, model.StatusDeclined))
	// 重复置同一终态是幂等的
	require.NoError(t, db.UpdateStatus(ctx, conv.ConversationID, model.StatusDeclined))
	// 换一个终态则拒绝
	require.ErrorIs(t, db.UpdateStatus(ctx, conv.ConversationID, model.StatusAccepted), ErrStatusTerminal)
}

func TestMarkDeliveredMonotonic(t *testing.T) {
	db := NewMemDB()
	ctx := context.Background()
	conv := newConv(t, db, "alice", "bob", model.StatusAccepted)
	msg := newMsg(conv.ConversationID, "alice", "hi", 1)
	require.NoError(t, db.InsertMessage(ctx, msg, false))

	updated, err := db.MarkDelivered(ctx, conv.ConversationID, msg.ServerMsgID)
	require.NoError(t, err)
	require.True(t, updated)

	// 第二次无效果
	updated, err = db.MarkDelivered(ctx, conv.ConversationID, msg.ServerMsgID)
	require.NoError(t, err)
	require.False(t, updated)

	// read 之后不允许回退
	_, err = db.MarkRead(ctx, conv.ConversationID, "bob")
	require.NoError(t, err)
	updated, err = db.MarkDelivered(ctx, conv.ConversationID, msg.ServerMsgID)
	require.NoError(t, err)
	require.False(t, updated)
}

func TestMarkReadSkipsOwnMessages(t *testing.T) {
	db := NewMemDB()
	ctx := context.Background()
	conv := newConv(t, db, "alice", "bob", model.StatusAccepted)
	require.NoError(t, db.InsertMessage(ctx, newMsg(conv.ConversationID, "alice", "one", 1), false))
	require.NoError(t, db.InsertMessage(ctx, newMsg(conv.ConversationID, "bob", "two", 2), false))

	upTo, err := db.MarkRead(ctx, conv.ConversationID, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 2, upTo)

	msgs, err := db.ListMessages(ctx, conv.ConversationID, 0, 10)
	require.NoError(t, err)
	require.Equal(t, model.MsgStateRead, msgs[0].State) // alice 的消息被 bob 读
	require.Equal(t, model.MsgStateSent, msgs[1].State) // bob 自己的不动

	got, err := db.GetConversation(ctx, conv.ConversationID)
	require.NoError(t, err)
	require.EqualValues(t, 0, got.UnreadCounts["bob"])
}

func TestTombstoneIdempotent(t *testing.T) {
	db := NewMemDB()
	ctx := context.Background()
	conv := newConv(t, db, "alice", "bob", model.StatusAccepted)
	msg := newMsg(conv.ConversationID, "alice", "secret https://example.com", 1)
	msg.MentionedUserIDs = []string{"bob"}
	require.NoError(t, db.InsertMessage(ctx, msg, false))

	deleted, err := db.Tombstone(ctx, conv.ConversationID, msg.ServerMsgID)
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = db.Tombstone(ctx, conv.ConversationID, msg.ServerMsgID)
	require.NoError(t, err)
	require.False(t, deleted)

	// 槽位保留，内容清空
	got, err := db.GetMessage(ctx, conv.ConversationID, msg.ServerMsgID)
	require.NoError(t, err)
	require.True(t, got.Deleted)
	require.Empty(t, got.Content)
	require.Empty(t, got.MentionedUserIDs)
	require.EqualValues(t, 1, got.Seq)

	// 墓碑之后解析完成的预览被丢弃
	require.NoError(t, db.SetLinkPreviews(ctx, conv.ConversationID, msg.ServerMsgID, []model.LinkPreview{{URL: "https://example.com"}}))
	got, err = db.GetMessage(ctx, conv.ConversationID, msg.ServerMsgID)
	require.NoError(t, err)
	require.Empty(t, got.LinkPreviews)
}

func TestExpiredMessages(t *testing.T) {
	db := NewMemDB()
	ctx := context.Background()
	conv := newConv(t, db, "alice", "bob", model.StatusAccepted)

	live := newMsg(conv.ConversationID, "alice", "keep", 1)
	burnt := newMsg(conv.ConversationID, "alice", "burn", 2)
	burnt.ExpiresAt = 100
	require.NoError(t, db.InsertMessage(ctx, live, false))
	require.NoError(t, db.InsertMessage(ctx, burnt, false))

	expired, err := db.ExpiredMessages(ctx, 200, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, burnt.ServerMsgID, expired[0].ServerMsgID)

	// 已墓碑的不再出现
	_, err = db.Tombstone(ctx, conv.ConversationID, burnt.ServerMsgID)
	require.NoError(t, err)
	expired, err = db.ExpiredMessages(ctx, 200, 10)
	require.NoError(t, err)
	require.Empty(t, expired)
}

func TestPartition(t *testing.T) {
	accepted := model.NewConversation("p2p:a:b", []string{"a", "b"}, "a", model.StatusAccepted, 0)
	incoming := model.NewConversation("p2p:b:c", []string{"b", "c"}, "c", model.StatusPending, 0)
	outgoing := model.NewConversation("p2p:b:d", []string{"b", "d"}, "b", model.StatusPending, 0)
	declined := model.NewConversation("p2p:b:e", []string{"b", "e"}, "b", model.StatusDeclined, 0)

	p := Partition([]*model.Conversation{accepted, incoming, outgoing, declined}, "b")
	require.Len(t, p.Accepted, 1)
	require.Len(t, p.PendingIncoming, 1)
	require.Equal(t, "p2p:b:c", p.PendingIncoming[0].ConversationID)
	require.Len(t, p.PendingOutgoing, 1)
	require.Equal(t, "p2p:b:d", p.PendingOutgoing[0].ConversationID)
}
