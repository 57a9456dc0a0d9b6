package chat

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"fellowchat/module/chat/model"

	"github.com/stretchr/testify/require"
)

type recordMirror struct {
	mu     sync.Mutex
	frames [][]byte
}

func (m *recordMirror) Publish(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, append([]byte(nil), data...))
	return nil
}

func (m *recordMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func newTestEngine(t *testing.T) (*SyncEngine, *ConnManager, *recordMirror) {
	t.Helper()
	mgr := NewConnManager(ManagerConf{SweepEvery: time.Hour})
	t.Cleanup(mgr.Close)
	fanout := NewFanout(2, 64)
	t.Cleanup(fanout.Close)
	mirror := &recordMirror{}
	return NewSyncEngine("gw-1", mgr, fanout, mirror), mgr, mirror
}

func recv(t *testing.T, c *Client) model.Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var ev model.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return model.Event{}
	}
}

func TestPublishDeliversToParticipantsOnly(t *testing.T) {
	engine, mgr, mirror := newTestEngine(t)

	alice := testClient("c1", "alice", 8)
	bob := testClient("c2", "bob", 8)
	eve := testClient("c3", "eve", 8)
	require.NoError(t, mgr.Add(alice))
	require.NoError(t, mgr.Add(bob))
	require.NoError(t, mgr.Add(eve))

	engine.Publish(model.Event{
		Kind:           model.EventMessageNew,
		ConversationID: "p2p:alice:bob",
		ParticipantIDs: []string{"alice", "bob"},
		Seq:            7,
	})

	for _, c := range []*Client{alice, bob} {
		ev := recv(t, c)
		require.Equal(t, model.EventMessageNew, ev.Kind)
		require.EqualValues(t, 7, ev.Seq)
		require.Equal(t, "gw-1", ev.Origin, "engine stamps its origin")
	}
	select {
	case <-eve.Send:
		t.Fatal("non-participant received the event")
	case <-time.After(50 * time.Millisecond):
	}

	require.Equal(t, 1, mirror.count(), "event mirrored once to the cluster")
}

func TestHandleRemoteDropsOwnEcho(t *testing.T) {
	engine, mgr, _ := newTestEngine(t)
	alice := testClient("c1", "alice", 8)
	require.NoError(t, mgr.Add(alice))

	echo, _ := json.Marshal(model.Event{
		Kind:           model.EventMessageNew,
		ParticipantIDs: []string{"alice"},
		Origin:         "gw-1",
	})
	engine.HandleRemote(echo)

	select {
	case <-alice.Send:
		t.Fatal("own echo delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleRemoteDeliversForeignEvents(t *testing.T) {
	engine, mgr, mirror := newTestEngine(t)
	alice := testClient("c1", "alice", 8)
	require.NoError(t, mgr.Add(alice))

	remote, _ := json.Marshal(model.Event{
		Kind:           model.EventConversationRead,
		ParticipantIDs: []string{"alice"},
		Origin:         "gw-2",
	})
	engine.HandleRemote(remote)

	ev := recv(t, alice)
	require.Equal(t, model.EventConversationRead, ev.Kind)
	require.Equal(t, "gw-2", ev.Origin)
	require.Zero(t, mirror.count(), "remote events are not re-mirrored")
}

func TestHandleRemoteMalformedIgnored(t *testing.T) {
	engine, mgr, _ := newTestEngine(t)
	alice := testClient("c1", "alice", 8)
	require.NoError(t, mgr.Add(alice))

	engine.HandleRemote([]byte("{not json"))

	select {
	case <-alice.Send:
		t.Fatal("malformed frame delivered")
	case <-time.After(50 * time.Millisecond):
	}
}
