package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestP2PConversationIDIsOrderIndependent(t *testing.T) {
	require.Equal(t, P2PConversationID("alice", "bob"), P2PConversationID("bob", "alice"))
	require.Equal(t, "p2p:alice:bob", P2PConversationID("bob", "alice"))
}

func TestGroupConversationIDUnique(t *testing.T) {
	a := GroupConversationID()
	b := GroupConversationID()
	require.NotEqual(t, a, b)
	require.True(t, NewConversation(a, []string{"x", "y", "z"}, "x", StatusAccepted, 0).IsGroup())
}

func TestStateAllows(t *testing.T) {
	cases := []struct {
		from, to int32
		want     bool
	}{
		{MsgStateSent, MsgStateDelivered, true},
		{MsgStateSent, MsgStateRead, true}, // 跳过 delivered 合法
		{MsgStateSent, MsgStateFailed, true},
		{MsgStateDelivered, MsgStateRead, true},
		{MsgStateDelivered, MsgStateSent, false},
		{MsgStateRead, MsgStateDelivered, false},
		{MsgStateRead, MsgStateFailed, false},
		{MsgStateFailed, MsgStateDelivered, false},
		{MsgStateSent, MsgStateSent, false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, StateAllows(c.from, c.to), "from=%d to=%d", c.from, c.to)
	}
}

func TestConversationHelpers(t *testing.T) {
	c := NewConversation("p2p:a:b", []string{"b", "a"}, "a", StatusPending, 30)
	require.Equal(t, []string{"a", "b"}, c.ParticipantIDs, "participants sorted")
	require.True(t, c.HasParticipant("a"))
	require.False(t, c.HasParticipant("z"))
	require.Equal(t, []string{"b"}, c.Others("a"))
	require.False(t, c.Terminal())

	c.Status = StatusDeclined
	require.True(t, c.Terminal())
	c.Status = StatusAccepted
	require.True(t, c.Terminal())
}
