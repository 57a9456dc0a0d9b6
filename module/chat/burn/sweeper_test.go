package burn

import (
	"context"
	"sync"
	"testing"
	"time"

	"fellowchat/module/chat/model"
	"fellowchat/module/chat/store"

	"github.com/stretchr/testify/require"
)

type recordPub struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordPub) Publish(ev model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordPub) deletedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Kind == model.EventMessageDeleted {
			n++
		}
	}
	return n
}

func seedConv(t *testing.T, db store.DB) *model.Conversation {
	t.Helper()
	id := model.P2PConversationID("alice", "bob")
	conv := model.NewConversation(id, []string{"alice", "bob"}, "alice", model.StatusAccepted, 60)
	out, _, err := db.GetOrCreateConversation(context.Background(), conv)
	require.NoError(t, err)
	return out
}

func seedMsg(t *testing.T, db store.DB, convID string, seq int64, expiresAt int64) *model.Message {
	t.Helper()
	msg := &model.Message{
		ServerMsgID:    "sid-" + string(rune('0'+seq)),
		ConversationID: convID,
		SenderID:       "alice",
		Content:        "burn me",
		Seq:            seq,
		State:          model.MsgStateSent,
		CreatedAt:      time.Now().UnixMilli(),
		ExpiresAt:      expiresAt,
	}
	require.NoError(t, db.InsertMessage(context.Background(), msg, false))
	return msg
}

func TestSweepOnceTombstonesExpired(t *testing.T) {
	db := store.NewMemDB()
	pub := &recordPub{}
	conv := seedConv(t, db)

	now := time.Now()
	expired := seedMsg(t, db, conv.ConversationID, 1, now.Add(-time.Minute).UnixMilli())
	live := seedMsg(t, db, conv.ConversationID, 2, now.Add(time.Hour).UnixMilli())
	forever := seedMsg(t, db, conv.ConversationID, 3, 0)

	s := NewSweeper(db, pub, time.Minute, 16)
	require.Equal(t, 1, s.SweepOnce(context.Background(), now))

	got, err := db.GetMessage(context.Background(), conv.ConversationID, expired.ServerMsgID)
	require.NoError(t, err)
	require.True(t, got.Deleted)
	require.Empty(t, got.Content)
	require.EqualValues(t, 1, got.Seq, "sequence slot survives")

	for _, m := range []*model.Message{live, forever} {
		got, err := db.GetMessage(context.Background(), conv.ConversationID, m.ServerMsgID)
		require.NoError(t, err)
		require.False(t, got.Deleted)
	}

	require.Equal(t, 1, pub.deletedCount())
	pub.mu.Lock()
	ev := pub.events[0]
	pub.mu.Unlock()
	require.Equal(t, conv.ParticipantIDs, ev.ParticipantIDs)
	require.EqualValues(t, 1, ev.Seq)
}

func TestSweepIdempotentWithManualDelete(t *testing.T) {
	db := store.NewMemDB()
	pub := &recordPub{}
	conv := seedConv(t, db)
	now := time.Now()
	msg := seedMsg(t, db, conv.ConversationID, 1, now.Add(-time.Minute).UnixMilli())

	// 用户先手动删除
	deleted, err := db.Tombstone(context.Background(), conv.ConversationID, msg.ServerMsgID)
	require.NoError(t, err)
	require.True(t, deleted)

	s := NewSweeper(db, pub, time.Minute, 16)
	require.Zero(t, s.SweepOnce(context.Background(), now))
	require.Zero(t, pub.deletedCount(), "no second delete event")
}

func TestSweepRepeatedRunsStable(t *testing.T) {
	db := store.NewMemDB()
	pub := &recordPub{}
	conv := seedConv(t, db)
	now := time.Now()
	seedMsg(t, db, conv.ConversationID, 1, now.Add(-time.Minute).UnixMilli())

	s := NewSweeper(db, pub, time.Minute, 16)
	require.Equal(t, 1, s.SweepOnce(context.Background(), now))
	require.Zero(t, s.SweepOnce(context.Background(), now))
	require.Equal(t, 1, pub.deletedCount())
}

func TestStartStop(t *testing.T) {
	db := store.NewMemDB()
	s := NewSweeper(db, &recordPub{}, 10*time.Millisecond, 16)
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop() // 不得阻塞或 panic
}
