package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient(connID, userID string, queue int) *Client {
	return NewClient(connID, userID, nil, queue)
}

func TestBroadcastPreservesPerSubscriberOrder(t *testing.T) {
	f := NewFanout(4, 64)
	defer f.Close()

	conns := []*Client{
		testClient("conn-1", "u1", 64),
		testClient("conn-2", "u2", 64),
	}
	const n = 32
	for i := 0; i < n; i++ {
		f.Broadcast(conns, []byte(fmt.Sprintf("frame-%02d", i)))
	}

	for _, c := range conns {
		for i := 0; i < n; i++ {
			select {
			case got := <-c.Send:
				require.Equal(t, fmt.Sprintf("frame-%02d", i), string(got),
					"conn %s out of order at %d", c.ConnID, i)
			case <-time.After(time.Second):
				t.Fatalf("conn %s: frame %d never arrived", c.ConnID, i)
			}
		}
	}
}

func TestBroadcastDropsWhenQueueFull(t *testing.T) {
	f := NewFanout(1, 8)
	defer f.Close()

	c := testClient("conn-1", "u1", 1)
	f.Broadcast([]*Client{c}, []byte("a"))
	f.Broadcast([]*Client{c}, []byte("b")) // 队列容量 1，第二帧被丢

	require.Eventually(t, func() bool { return len(c.Send) == 1 }, time.Second, 5*time.Millisecond)
	got := <-c.Send
	require.Equal(t, "a", string(got))

	select {
	case extra := <-c.Send:
		t.Fatalf("unexpected extra frame %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastEmptyInputsNoop(t *testing.T) {
	f := NewFanout(2, 8)
	defer f.Close()

	f.Broadcast(nil, []byte("x"))
	f.Broadcast([]*Client{testClient("c", "u", 4)}, nil)
}
